package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	shelferrors "github.com/mirkobrombin/go-shelf/v1/errors"
	"github.com/mirkobrombin/go-shelf/v1/events"
	"github.com/mirkobrombin/go-shelf/v1/metrics"
	"github.com/mirkobrombin/go-shelf/v1/storage"
)

// Install precaches the static assets into the static partition.
//
// The batch is all or nothing: when any asset cannot be fetched nothing is
// written, the failure is logged and an error wrapping ErrInstallFailed is
// returned. The worker still reaches StateInstalled so activation can go on.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateNew, StateInstalling); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "Worker.Install")
	defer span.End()

	err := w.precache(ctx)
	w.state.Store(int32(StateInstalled))
	if err != nil {
		err = fmt.Errorf("%w: %w", shelferrors.ErrInstallFailed, err)
		span.RecordError(err)
		slog.Warn("Failed to cache static assets.", "partition", w.StaticPartition(), "error", err)
		ev := events.New(events.InstallFailed, w.version)
		ev.Partition = w.StaticPartition()
		ev.Error = err.Error()
		w.emit(ctx, ev)
		return err
	}
	metrics.InstalledAssets.Set(float64(len(w.staticAssets)))
	slog.Info("Static assets cached.", "partition", w.StaticPartition(), "assets", len(w.staticAssets))
	ev := events.New(events.Installed, w.version)
	ev.Partition = w.StaticPartition()
	w.emit(ctx, ev)
	return nil
}

func (w *Worker) precache(ctx context.Context) error {
	part, err := w.store.Open(ctx, w.StaticPartition())
	if err != nil {
		return fmt.Errorf("open %s: %w", w.StaticPartition(), err)
	}
	var (
		mu   sync.Mutex
		recs = make(map[string]*storage.Record, len(w.staticAssets))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, path := range w.staticAssets {
		g.Go(func() error {
			rec, err := w.fetchAsset(gctx, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			mu.Lock()
			recs[w.keyForPath(path)] = rec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return part.PutAll(ctx, recs)
}

func (w *Worker) fetchAsset(ctx context.Context, path string) (*storage.Record, error) {
	target, err := w.resolve(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.network.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &storage.Record{
		URL:      target.String(),
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}, nil
}

// Activate deletes every partition that belongs to another version and
// starts intercepting requests. A failed activation leaves the worker
// redundant.
func (w *Worker) Activate(ctx context.Context) error {
	if w.State() == StateActive {
		return nil
	}
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "Worker.Activate")
	defer span.End()

	if err := w.purge(ctx); err != nil {
		w.state.Store(int32(StateRedundant))
		span.RecordError(err)
		slog.Error("Activation failed.", "version", w.version, "error", err)
		return fmt.Errorf("activate %s: %w", w.version, err)
	}
	w.state.Store(int32(StateActive))
	slog.Info("Worker activated.", "version", w.version)
	w.emit(ctx, events.New(events.Activated, w.version))
	return nil
}

func (w *Worker) purge(ctx context.Context) error {
	if err := w.locker.Acquire(ctx, activateLockKey, w.lockTTL); err != nil {
		return fmt.Errorf("acquire activation lock: %w", err)
	}
	defer func() {
		if err := w.locker.Release(context.WithoutCancel(ctx), activateLockKey); err != nil {
			slog.Warn("Failed to release activation lock.", "error", err)
		}
	}()

	names, err := w.store.Names(ctx)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	for _, name := range names {
		if name == w.StaticPartition() || name == w.DynamicPartition() {
			continue
		}
		deleted, err := w.store.Delete(ctx, name)
		if err != nil {
			return fmt.Errorf("delete partition %s: %w", name, err)
		}
		// Another process sharing the storage got there first.
		if !deleted {
			continue
		}
		metrics.PartitionsDeleted.Inc()
		slog.Info("Deleted stale partition.", "partition", name, "version", w.version)
		ev := events.New(events.PartitionDeleted, w.version)
		ev.Partition = name
		w.emit(ctx, ev)
	}
	if _, err := w.store.Open(ctx, w.DynamicPartition()); err != nil {
		return fmt.Errorf("open %s: %w", w.DynamicPartition(), err)
	}
	return nil
}
