package fetcher

import (
	"context"
	"sync"
	"time"
)

// FetchBatch fetches every key with a pool of Concurrency workers. The
// returned slice is indexed like keys. Keys left unstarted when ctx ends get
// a canceled result.
func (f *Fetcher) FetchBatch(ctx context.Context, keys []string) []Result {
	start := time.Now()
	results := make([]Result, len(keys))
	if len(keys) == 0 {
		return results
	}

	workers := f.config.Concurrency
	if workers > len(keys) {
		workers = len(keys)
	}

	queue := make(chan int, len(keys))
	for i := range keys {
		queue <- i
	}
	close(queue)

	var mu sync.Mutex
	done, failed := 0, 0

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				if ctx.Err() != nil {
					results[i] = Result{
						Key: keys[i],
						Err: &FetchError{Kind: KindCanceled, URL: keys[i], Err: ctx.Err()},
					}
					continue
				}
				results[i] = f.Fetch(ctx, keys[i])

				mu.Lock()
				done++
				if !results[i].OK() {
					failed++
				}
				n := done
				mu.Unlock()

				// Progress logging every 50 keys
				if n%50 == 0 {
					f.logger.Info().
						Int("fetched", n).
						Int("total", len(keys)).
						Float64("progress_pct", float64(n)/float64(len(keys))*100).
						Msg("Fetch progress")
				}
			}
		}()
	}
	wg.Wait()

	f.logger.Debug().
		Int("keys", len(keys)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return results
}
