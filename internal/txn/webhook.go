package txn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Event is the payload sent to webhook URLs when a transaction finishes.
type Event struct {
	Event       string   `json:"event"`
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Success     bool     `json:"success"`
	Error       string   `json:"error,omitempty"`
	Packages    []string `json:"packages,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// Notifier is told about finished transactions.
type Notifier interface {
	Notify(e *Event)
}

// WebhookNotifier sends HTTP POST notifications to configured webhook URLs.
type WebhookNotifier struct {
	urls   []string
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
	delay  time.Duration
}

// NewWebhookNotifier creates a webhook notifier. Returns nil if no URLs are configured.
func NewWebhookNotifier(urls []string, logger *slog.Logger) *WebhookNotifier {
	if len(urls) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WebhookNotifier{
		urls:   urls,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		delay:  time.Second,
	}
}

// Notify delivers e to every URL in the background. Wait blocks until
// deliveries are done.
func (wn *WebhookNotifier) Notify(e *Event) {
	if wn == nil {
		return
	}
	wn.wg.Add(1)
	go func() {
		defer wn.wg.Done()
		wn.send(e)
	}()
}

// Wait blocks until every pending delivery finished.
func (wn *WebhookNotifier) Wait() {
	if wn == nil {
		return
	}
	wn.wg.Wait()
}

func (wn *WebhookNotifier) send(e *Event) {
	data, err := json.Marshal(e)
	if err != nil {
		wn.logger.Error("webhook: marshal event", "error", err)
		return
	}

	for _, url := range wn.urls {
		if err := wn.post(url, data); err != nil {
			wn.logger.Warn("webhook: delivery failed", "url", url, "error", err)
		} else {
			wn.logger.Debug("webhook: delivered", "url", url, "event", e.Event, "id", e.ID)
		}
	}
}

// post sends a single webhook POST with retry (up to 2 retries).
func (wn *WebhookNotifier) post(url string, data []byte) error {
	const maxRetries = 2

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * wn.delay)
		}

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "apkdb/1.0")

		resp, err := wn.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr // don't retry 4xx
		}
	}
	return lastErr
}
