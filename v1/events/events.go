// Package events carries worker lifecycle notifications to interested
// clients: dashboards, other proxies, tests.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle event.
type Type string

const (
	Installed        Type = "installed"
	InstallFailed    Type = "install_failed"
	Activated        Type = "activated"
	PartitionDeleted Type = "partition_deleted"
	Cached           Type = "cached"
	Revalidated      Type = "revalidated"
	Fallback         Type = "fallback"
)

// Event is a single lifecycle notification.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Version   string    `json:"version"`
	Partition string    `json:"partition,omitempty"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// New returns an event of type t with a fresh ID.
func New(t Type, version string) Event {
	return Event{ID: uuid.NewString(), Type: t, Version: version, At: time.Now().UTC()}
}

// Bus fans events out to subscribers.
type Bus interface {
	// Publish delivers ev to current subscribers. Slow subscribers may miss events.
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel of events that is closed once ctx ends.
	Subscribe(ctx context.Context) (<-chan Event, error)
}
