package floors

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"gift-pricer/internal/models"

	"golang.org/x/time/rate"
)

const DefaultWidth = 15

// ModelFetcher is the part of Client the fanout depends on.
type ModelFetcher interface {
	ModelFloors(ctx context.Context, model, credential string) (map[string]float64, error)
}

// Fanout runs one floor request per model with bounded concurrency.
type Fanout struct {
	fetcher ModelFetcher
	width   int
	limiter *rate.Limiter
}

// NewFanout builds a fanout of the given width. A nil limiter disables pacing.
func NewFanout(fetcher ModelFetcher, width int, limiter *rate.Limiter) *Fanout {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Fanout{fetcher: fetcher, width: width, limiter: limiter}
}

// FetchFloors waits for every model before returning. Failed models are logged
// and missing from the index; they never cancel the others.
func (f *Fanout) FetchFloors(ctx context.Context, modelNames []string, credential string) models.FloorPriceIndex {
	index := make(models.FloorPriceIndex)
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed int64
	)
	semaphore := make(chan struct{}, f.width)

	for _, model := range modelNames {
		wg.Add(1)
		go func(model string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if f.limiter != nil {
				if err := f.limiter.Wait(ctx); err != nil {
					atomic.AddInt64(&failed, 1)
					log.Printf("[floors] %s 等待限流失败: %v", model, err)
					return
				}
			}

			floors, err := f.fetcher.ModelFloors(ctx, model, credential)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				log.Printf("[floors] %s 获取失败: %v", model, err)
				return
			}

			mu.Lock()
			for backdrop, price := range floors {
				index[models.FloorKey{Model: model, Backdrop: backdrop, Kind: models.FloorKindBackdrop}] = price
				index[models.FloorKey{Model: model, Backdrop: backdrop, Kind: models.FloorKindModel}] = price
			}
			mu.Unlock()
		}(model)
	}

	wg.Wait()
	if n := atomic.LoadInt64(&failed); n > 0 {
		log.Printf("[floors] 本轮 %d/%d 个模型失败", n, len(modelNames))
	}
	return index
}
