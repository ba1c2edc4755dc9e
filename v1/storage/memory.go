package storage

import (
	"context"
	"sync"
)

// InMemoryStorage is a Storage implementation backed by maps. Records do not
// survive the process; it is meant for tests and single-node development.
type InMemoryStorage struct {
	mu         sync.RWMutex
	partitions map[string]*memoryPartition
	order      []string
}

// NewInMemory returns a new InMemoryStorage.
func NewInMemory() *InMemoryStorage {
	return &InMemoryStorage{partitions: make(map[string]*memoryPartition)}
}

// Open implements Storage.Open.
func (s *InMemoryStorage) Open(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[name]; ok {
		return p, nil
	}
	p := &memoryPartition{name: name, records: make(map[string]*Record)}
	s.partitions[name] = p
	s.order = append(s.order, name)
	return p, nil
}

// Has implements Storage.Has.
func (s *InMemoryStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, ok := s.partitions[name]
	s.mu.RUnlock()
	return ok, nil
}

// Names implements Storage.Names.
func (s *InMemoryStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	names := append([]string(nil), s.order...)
	s.mu.RUnlock()
	return names, nil
}

// Delete implements Storage.Delete.
func (s *InMemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[name]; !ok {
		return false, nil
	}
	delete(s.partitions, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Match implements Storage.Match.
func (s *InMemoryStorage) Match(ctx context.Context, key string) (*Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	parts := make([]*memoryPartition, 0, len(s.order))
	for _, name := range s.order {
		parts = append(parts, s.partitions[name])
	}
	s.mu.RUnlock()
	for _, p := range parts {
		if rec, ok, _ := p.Match(ctx, key); ok {
			return rec, true, nil
		}
	}
	return nil, false, nil
}

type memoryPartition struct {
	name    string
	mu      sync.RWMutex
	records map[string]*Record
}

func (p *memoryPartition) Name() string { return p.name }

func (p *memoryPartition) Match(ctx context.Context, key string) (*Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	p.mu.RLock()
	rec, ok := p.records[key]
	p.mu.RUnlock()
	return rec, ok, nil
}

func (p *memoryPartition) Put(ctx context.Context, key string, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.records[key] = rec
	p.mu.Unlock()
	return nil
}

func (p *memoryPartition) PutAll(ctx context.Context, recs map[string]*Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	for k, rec := range recs {
		p.records[k] = rec
	}
	p.mu.Unlock()
	return nil
}

func (p *memoryPartition) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.records, key)
	p.mu.Unlock()
	return nil
}

func (p *memoryPartition) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	keys := make([]string, 0, len(p.records))
	for k := range p.records {
		keys = append(keys, k)
	}
	p.mu.RUnlock()
	return keys, nil
}
