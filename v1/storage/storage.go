// Package storage holds durable, named partitions of cached HTTP responses.
//
// A partition is the unit of versioning: the worker writes into partitions
// whose names embed a version token and deletes whole partitions when the
// version changes. There is no per-entry expiry at this layer.
package storage

import (
	"context"
	"net/http"
	"time"
)

// Record is a stored response.
type Record struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Partition is a named region of a Storage.
type Partition interface {
	// Name returns the partition name.
	Name() string
	// Match returns the record stored under key.
	Match(ctx context.Context, key string) (*Record, bool, error)
	// Put stores rec under key, replacing any previous record.
	Put(ctx context.Context, key string, rec *Record) error
	// PutAll stores every record or none of them.
	PutAll(ctx context.Context, recs map[string]*Record) error
	// Delete removes the record stored under key.
	Delete(ctx context.Context, key string) error
	// Keys lists the stored keys.
	Keys(ctx context.Context) ([]string, error)
}

// Storage manages partitions.
type Storage interface {
	// Open returns the partition called name, creating it when missing.
	Open(ctx context.Context, name string) (Partition, error)
	// Has reports whether a partition called name exists.
	Has(ctx context.Context, name string) (bool, error)
	// Names lists partitions in creation order.
	Names(ctx context.Context) ([]string, error)
	// Delete drops the partition and all its records. It reports whether the
	// partition existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Match looks key up in every partition, in creation order, and returns
	// the first record found.
	Match(ctx context.Context, key string) (*Record, bool, error)
}
