// Package validator audits the static partition of a worker and optionally
// restores assets that went missing, for example after Redis evicted them.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Mode defines validator behaviour.
type Mode int

const (
	ModeNoop Mode = iota
	ModeAlert
	ModeAutoHeal
)

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "noop":
		return ModeNoop, nil
	case "alert":
		return ModeAlert, nil
	case "heal":
		return ModeAutoHeal, nil
	default:
		return ModeNoop, fmt.Errorf("unknown validator mode %q", s)
	}
}

// Target is what the validator audits. *worker.Worker implements it.
type Target interface {
	MissingStatic(ctx context.Context) ([]string, error)
	RepairStatic(ctx context.Context, paths []string) (int, error)
}

// Validator periodically checks that every static asset is stored.
type Validator struct {
	target   Target
	mode     Mode
	interval time.Duration
	missing  atomic.Uint64
	repaired atomic.Uint64
}

// New creates a new Validator.
func New(t Target, mode Mode, interval time.Duration) *Validator {
	return &Validator{target: t, mode: mode, interval: interval}
}

// Run starts the validation loop. It returns when ctx ends.
func (v *Validator) Run(ctx context.Context) {
	if v.mode == ModeNoop || v.interval <= 0 {
		return
	}
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Scan(ctx)
		}
	}
}

// Scan runs one audit and returns the assets found missing.
func (v *Validator) Scan(ctx context.Context) []string {
	missing, err := v.target.MissingStatic(ctx)
	if err != nil {
		slog.Warn("Static partition audit failed.", "error", err)
		return nil
	}
	if len(missing) == 0 {
		return nil
	}
	v.missing.Add(uint64(len(missing)))
	slog.Warn("Static assets missing.", "assets", missing)
	if v.mode == ModeAutoHeal {
		n, err := v.target.RepairStatic(ctx, missing)
		v.repaired.Add(uint64(n))
		if err != nil {
			slog.Warn("Static asset repair incomplete.", "repaired", n, "error", err)
		}
	}
	return missing
}

// Metrics returns the number of missing assets detected.
func (v *Validator) Metrics() uint64 {
	return v.missing.Load()
}

// Repaired returns the number of assets restored.
func (v *Validator) Repaired() uint64 {
	return v.repaired.Load()
}
