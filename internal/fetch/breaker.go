package fetch

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// breakerSet holds one circuit breaker per repository host.
type breakerSet struct {
	breakers  map[string]*circuit.Breaker
	threshold int64
	mu        sync.RWMutex
}

func newBreakerSet(threshold int64) *breakerSet {
	return &breakerSet{
		breakers:  make(map[string]*circuit.Breaker),
		threshold: threshold,
	}
}

// get returns or creates the circuit breaker for host.
func (s *breakerSet) get(host string) *circuit.Breaker {
	s.mu.RLock()
	breaker, exists := s.breakers[host]
	s.mu.RUnlock()

	if exists {
		return breaker
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if breaker, exists := s.breakers[host]; exists {
		return breaker
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	breaker = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(s.threshold),
	})
	s.breakers[host] = breaker
	return breaker
}

// call runs fn under the breaker of the URL's host. Only upstream failures
// count against the breaker; not-found and not-modified answers do not.
func (s *breakerSet) call(rawURL string, fn func() error) error {
	host := extractHost(rawURL)
	breaker := s.get(host)

	if !breaker.Ready() {
		return fmt.Errorf("circuit breaker open for %s: %w", host, ErrUpstreamDown)
	}

	var result error
	err := breaker.Call(func() error {
		result = fn()
		if result == nil || errors.Is(result, ErrNotFound) || errors.Is(result, ErrNotModified) {
			return nil
		}
		var se *statusError
		if errors.As(result, &se) {
			return nil
		}
		return result
	}, 0)
	if result != nil {
		return result
	}
	return err
}

// states reports "open" or "closed" per host.
func (s *breakerSet) states() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make(map[string]string, len(s.breakers))
	for host, breaker := range s.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

// extractHost extracts the host of a URL for breaker grouping.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}
