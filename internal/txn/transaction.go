// Package txn runs package database mutations one at a time on a worker
// goroutine and exposes each run as a Transaction the caller can observe.
package txn

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/apkdb/internal/models"
)

// Type is the kind of mutation a transaction performs.
type Type string

const (
	TypeAdd     Type = "add"
	TypeDel     Type = "del"
	TypeUpdate  Type = "update"
	TypeUpgrade Type = "upgrade"
)

// progressBuffer bounds the updates queued for a slow reader. Updates that
// do not fit are dropped; Percent always has the latest value.
const progressBuffer = 64

// Transaction is one queued or running mutation.
type Transaction struct {
	ID          uuid.UUID
	Type        Type
	Description string

	progress chan models.Progress
	done     chan struct{}

	mu         sync.Mutex
	last       models.Progress
	startedAt  time.Time
	finishedAt time.Time
	changeset  *models.Changeset
	report     *models.RefreshReport
	err        error
}

func newTransaction(t Type, description string) *Transaction {
	return &Transaction{
		ID:          uuid.New(),
		Type:        t,
		Description: description,
		progress:    make(chan models.Progress, progressBuffer),
		done:        make(chan struct{}),
	}
}

// Progress streams progress updates. The channel is closed when the
// transaction finishes.
func (t *Transaction) Progress() <-chan models.Progress {
	return t.progress
}

// Done is closed when the transaction finishes.
func (t *Transaction) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the transaction finishes or ctx is done and returns the
// transaction error.
func (t *Transaction) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finished returns true once the transaction has finished.
func (t *Transaction) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Percent returns the completion percentage of the latest progress update.
func (t *Transaction) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Finished() {
		return 100
	}
	return t.last.Percent()
}

// Changeset returns the changeset computed by an add, del or upgrade.
func (t *Transaction) Changeset() *models.Changeset {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changeset
}

// Report returns the refresh report of an update.
func (t *Transaction) Report() *models.RefreshReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report
}

// Err returns the error the transaction finished with.
func (t *Transaction) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// ErrorMessage returns the error text, or "" on success.
func (t *Transaction) ErrorMessage() string {
	if err := t.Err(); err != nil {
		return err.Error()
	}
	return ""
}

// Duration returns how long the transaction ran; zero until it finishes.
func (t *Transaction) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finishedAt.IsZero() {
		return 0
	}
	return t.finishedAt.Sub(t.startedAt)
}

func (t *Transaction) start() {
	t.mu.Lock()
	t.startedAt = time.Now().UTC()
	t.mu.Unlock()
}

func (t *Transaction) update(p models.Progress) {
	t.mu.Lock()
	t.last = p
	t.mu.Unlock()
	select {
	case t.progress <- p:
	default:
	}
}

func (t *Transaction) finish(cs *models.Changeset, report *models.RefreshReport, err error) {
	t.mu.Lock()
	t.changeset = cs
	t.report = report
	t.err = err
	t.finishedAt = time.Now().UTC()
	t.mu.Unlock()
}

func (t *Transaction) close() {
	close(t.progress)
	close(t.done)
}
