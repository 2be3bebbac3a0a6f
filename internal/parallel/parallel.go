// Package parallel runs independent I/O-bound lookups on a bounded set of
// goroutines and gathers their results into a map.
package parallel

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the pool size used when workers is 0.
const DefaultWorkers = 8

// Map calls fn for every distinct key using at most workers concurrent
// goroutines and blocks until all calls have returned.
// Results for which fn reports ok=false are left out of the map.
// Each key is written at most once.
func Map[K comparable, V any](ctx context.Context, keys []K, workers int, fn func(context.Context, K) (V, bool)) map[K]V {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	results := make(map[K]V, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	seen := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		g.Go(func() error {
			v, ok := fn(gctx, k)
			if !ok {
				return nil
			}
			mu.Lock()
			results[k] = v
			mu.Unlock()
			return nil
		})
	}

	// Tasks never return errors; failures are reported through ok=false.
	_ = g.Wait()
	return results
}
