package multilevel

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/ftfuture/stratocache/internal/config"
	"github.com/ftfuture/stratocache/internal/local"
)

// negativeFilter tracks the keys this instance has stored or fetched, so
// lookups for keys that were definitely never seen can skip the remote
// round-trip. It is process-local and deliberately not persisted to the
// remote tier: a filter stored on a flaky backend could go stale and mask
// writes from other instances.
type negativeFilter struct {
	cfg    config.NegativeFilterConfig
	localT *local.Store
	logger *zap.Logger

	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

func newNegativeFilter(cfg config.NegativeFilterConfig, localT *local.Store, logger *zap.Logger) *negativeFilter {
	return &negativeFilter{
		cfg:    cfg,
		localT: localT,
		logger: logger,
		filter: bloom.NewWithEstimates(cfg.ExpectedItems, cfg.FalsePositiveRate),
	}
}

func (nf *negativeFilter) add(key string) {
	nf.mu.Lock()
	nf.filter.Add([]byte(key))
	nf.mu.Unlock()
}

func (nf *negativeFilter) test(key string) bool {
	nf.mu.RLock()
	defer nf.mu.RUnlock()
	return nf.filter.Test([]byte(key))
}

// run rebuilds the filter from the resident L1 keys on the configured
// interval. Bloom filters cannot delete, so without rebuilds the filter
// saturates and stops filtering anything.
func (nf *negativeFilter) run(ctx context.Context) {
	if nf.cfg.RebuildInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(nf.cfg.RebuildInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nf.rebuild()
		}
	}
}

func (nf *negativeFilter) rebuild() {
	keys := nf.localT.Keys()
	fresh := bloom.NewWithEstimates(nf.cfg.ExpectedItems, nf.cfg.FalsePositiveRate)
	for _, key := range keys {
		fresh.Add([]byte(key))
	}

	nf.mu.Lock()
	nf.filter = fresh
	nf.mu.Unlock()
	nf.logger.Debug("rebuilt negative filter", zap.Int("keys", len(keys)))
}
