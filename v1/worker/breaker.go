package worker

import (
	"net/http"
	"sync"
	"time"

	shelferrors "github.com/mirkobrombin/go-shelf/v1/errors"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker is a RoundTripper that stops calling the origin after threshold
// consecutive failures. Transport errors and 5xx responses count as failures.
// After cooldown a single probe is let through; its outcome closes or reopens
// the circuit.
type Breaker struct {
	next      http.RoundTripper
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	lastFail time.Time
}

// NewBreaker wraps next. A nil next uses http.DefaultTransport.
func NewBreaker(next http.RoundTripper, threshold int, cooldown time.Duration) *Breaker {
	if next == nil {
		next = http.DefaultTransport
	}
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{next: next, threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Healthy reports whether requests currently reach the origin.
func (b *Breaker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != breakerOpen || b.now().Sub(b.lastFail) > b.cooldown
}

// RoundTrip implements http.RoundTripper.
func (b *Breaker) RoundTrip(req *http.Request) (*http.Response, error) {
	if !b.allow() {
		return nil, shelferrors.ErrCircuitOpen
	}
	resp, err := b.next.RoundTrip(req)
	if err != nil || resp.StatusCode >= http.StatusInternalServerError {
		b.onFailure()
		return resp, err
	}
	b.onSuccess()
	return resp, nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.lastFail) > b.cooldown {
			b.state = breakerHalfOpen
			return true
		}
	}
	// Half-open lets only the probe through.
	return false
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFail = b.now()
	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.threshold {
		b.state = breakerOpen
	}
}
