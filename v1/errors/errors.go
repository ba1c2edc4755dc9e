package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotActive is returned by the worker when a request arrives before activation.
	ErrNotActive = errors.New("worker not active")
	// ErrInstallFailed wraps failures while populating the static partition.
	ErrInstallFailed = errors.New("install failed")
	// ErrNoFallback is returned when a navigation fails offline and no root document is cached.
	ErrNoFallback = errors.New("no fallback document")
	// ErrCircuitOpen is returned while the origin breaker rejects requests.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)
