package relationships

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/docmap/internal/odm/metrics"
	"github.com/conduit-lang/docmap/internal/odm/store"
)

// LazyResolution is a deferred lookup that fills one relationship field of a loaded
// object. Fetching only reads the store; applying writes the object.
type LazyResolution struct {
	Target     reflect.Type
	Collection string
	Condition  store.Condition
	Property   string

	fetch func(ctx context.Context) ([]store.Document, error)
	apply func(docs []store.Document) error
}

// String describes the resolution for logs and errors
func (l *LazyResolution) String() string {
	return fmt.Sprintf("resolve %s from %s where %s", l.Property, l.Collection, l.Condition)
}

// Resolve fetches and applies the resolution. It reports whether anything was found; a
// missing target leaves the field unset.
func (l *LazyResolution) Resolve(ctx context.Context) (bool, error) {
	docs, err := l.fetch(ctx)
	if err != nil {
		return false, err
	}
	if len(docs) == 0 {
		return false, nil
	}
	return true, l.apply(docs)
}

// LazyQueue collects the lazy resolutions of a read. The caller drains it to populate
// relationship fields.
type LazyQueue struct {
	mu      sync.Mutex
	items   []*LazyResolution
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewLazyQueue creates an empty queue
func NewLazyQueue(logger *zap.Logger, m *metrics.Metrics) *LazyQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LazyQueue{logger: logger, metrics: m}
}

// Add enqueues resolutions
func (q *LazyQueue) Add(items ...*LazyResolution) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

// Len returns the number of pending resolutions
func (q *LazyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *LazyQueue) take() []*LazyResolution {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Drain runs the pending resolutions one after another
func (q *LazyQueue) Drain(ctx context.Context) error {
	items := q.take()
	for i, l := range items {
		if err := ctx.Err(); err != nil {
			return q.fail(l, len(items)-i-1, err)
		}
		found, err := l.Resolve(ctx)
		if err != nil {
			return q.fail(l, len(items)-i-1, err)
		}
		q.record(l, found)
	}
	return nil
}

// DrainConcurrent runs the pending resolutions with at most limit lookups in flight.
// Results are applied one at a time.
func (q *LazyQueue) DrainConcurrent(ctx context.Context, limit int) error {
	items := q.take()
	if len(items) == 0 {
		return nil
	}

	var (
		applyMu sync.Mutex
		done    atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, l := range items {
		l := l
		g.Go(func() error {
			docs, err := l.fetch(gctx)
			if err != nil {
				return q.fail(l, len(items)-int(done.Load())-1, err)
			}
			if len(docs) > 0 {
				applyMu.Lock()
				err = l.apply(docs)
				applyMu.Unlock()
				if err != nil {
					return q.fail(l, len(items)-int(done.Load())-1, err)
				}
			}
			done.Add(1)
			q.record(l, len(docs) > 0)
			return nil
		})
	}
	return g.Wait()
}

func (q *LazyQueue) record(l *LazyResolution, found bool) {
	result := "resolved"
	if !found {
		result = "missing"
	}
	q.metrics.LazyResolved(result)
	q.logger.Debug("lazy resolution", zap.Stringer("resolution", l), zap.String("result", result))
}

func (q *LazyQueue) fail(l *LazyResolution, abandoned int, err error) error {
	q.metrics.LazyResolved("failed")
	q.logger.Warn("lazy resolution failed", zap.Stringer("resolution", l), zap.Error(err))
	return &ConsistencyActionError{Action: l.String(), Abandoned: abandoned, Err: err}
}
