package worker

import (
	"context"
	"errors"
	"fmt"

	shelferrors "github.com/mirkobrombin/go-shelf/v1/errors"
)

// MissingStatic lists the static assets absent from the static partition.
func (w *Worker) MissingStatic(ctx context.Context) ([]string, error) {
	part, err := w.store.Open(ctx, w.StaticPartition())
	if err != nil {
		return nil, err
	}
	keys, err := part.Keys(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		have[k] = struct{}{}
	}
	var missing []string
	for _, p := range w.staticAssets {
		if _, ok := have[w.keyForPath(p)]; !ok {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// RepairStatic fetches paths into the static partition one by one. It
// returns how many were stored along with every failure.
func (w *Worker) RepairStatic(ctx context.Context, paths []string) (int, error) {
	if w.State() != StateActive {
		return 0, shelferrors.ErrNotActive
	}
	part, err := w.store.Open(ctx, w.StaticPartition())
	if err != nil {
		return 0, err
	}
	var (
		stored int
		errs   []error
	)
	for _, p := range paths {
		rec, err := w.fetchAsset(ctx, p)
		if err == nil {
			err = part.Put(ctx, w.keyForPath(p), rec)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		stored++
	}
	return stored, errors.Join(errs...)
}
