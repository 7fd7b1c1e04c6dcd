package worker

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Worker runs per-height fetches for sources that have no range call, with a
// bound on concurrent requests.
type Worker struct {
	sem *semaphore.Weighted
}

func NewWorker(maxConcurrent int) *Worker {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Worker{sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

// Run calls fn for every height and returns the results in height order. The
// first error cancels the remaining work and is returned.
func Run[T any](ctx context.Context, w *Worker, heights []uint64, fn func(ctx context.Context, height uint64) (T, error)) ([]T, error) {
	results := make([]T, len(heights))
	g, gctx := errgroup.WithContext(ctx)

	for i, height := range heights {
		if err := w.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer w.sem.Release(1)
			res, err := fn(gctx, height)
			if err != nil {
				log.Debug().Err(err).Uint64("height", height).Msg("Worker fetch failed")
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
