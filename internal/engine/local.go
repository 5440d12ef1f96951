package engine

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dreamware/partfleet/internal/dataset"
)

// Local runs partitions in goroutines inside the current process,
// bounded by a weighted semaphore when slots is positive.
type Local struct {
	slots int
	log   *zap.Logger
}

// LocalOption configures a Local engine.
type LocalOption func(*Local)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) LocalOption {
	return func(l *Local) { l.log = log }
}

// NewLocal creates an in-process engine running at most slots partitions
// concurrently. Zero or negative slots means unbounded.
func NewLocal(slots int, opts ...LocalOption) *Local {
	l := &Local{
		slots: slots,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Slots reports the configured concurrency bound.
func (l *Local) Slots() int {
	if l.slots < 0 {
		return 0
	}
	return l.slots
}

// Run invokes fn once per partition, at most slots at a time, and
// returns results ordered by partition index.
func (l *Local) Run(ctx context.Context, ds dataset.Dataset, fn PartitionFunc) ([]PartitionResult, error) {
	n := ds.NumPartitions()
	results := make([]PartitionResult, n)

	var sem *semaphore.Weighted
	if l.slots > 0 {
		sem = semaphore.NewWeighted(int64(l.slots))
	}

	grp, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		results[i].Partition = i
		grp.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(gctx, 1); err != nil {
					results[i].Err = err
					return nil
				}
				defer sem.Release(1)
			}

			l.log.Debug("partition started", zap.Int("partition", i))
			value, err := fn(gctx, i, ds.Partition(i))
			results[i].Value = value
			results[i].Err = err
			if err != nil {
				l.log.Warn("partition failed", zap.Int("partition", i), zap.Error(err))
			} else {
				l.log.Debug("partition finished", zap.Int("partition", i))
			}

			// A failed partition must not cancel its siblings, so the
			// error stays in the result slot instead of the group.
			return nil
		})
	}
	_ = grp.Wait()

	var err error
	for i := range results {
		if results[i].Err != nil {
			err = multierr.Append(err, fmt.Errorf("partition %d: %w", i, results[i].Err))
		}
	}
	return results, err
}
