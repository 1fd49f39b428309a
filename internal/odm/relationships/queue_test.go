package relationships

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/docmap/internal/odm/metrics"
	"github.com/conduit-lang/docmap/internal/odm/store"
)

// recording returns an action that appends name to log when run
func recording(log *[]string, name string, follow ...*Action) *Action {
	return &Action{
		Op: OpAddToSet, Collection: "things", Key: name,
		run: func(context.Context) ([]*Action, error) {
			*log = append(*log, name)
			return follow, nil
		},
	}
}

func failing(name string, err error) *Action {
	return &Action{
		Op: OpPull, Collection: "things", Key: name, Field: "ids",
		run: func(context.Context) ([]*Action, error) { return nil, err },
	}
}

func TestActionQueue_RunsInOrderWithDepthFirstFollowUps(t *testing.T) {
	var log []string
	q := NewActionQueue(nil, nil)
	q.Add(
		recording(&log, "a", recording(&log, "a1", recording(&log, "a1x")), recording(&log, "a2")),
		recording(&log, "b"),
	)
	assert.Equal(t, 2, q.Len())

	require.NoError(t, q.Execute(context.Background()))
	assert.Equal(t, []string{"a", "a1", "a1x", "a2", "b"}, log)
	assert.Equal(t, 0, q.Len())
}

func TestActionQueue_FirstFailureAbandonsTheRest(t *testing.T) {
	var log []string
	cause := errors.New("store unavailable")

	core, logs := observer.New(zapcore.WarnLevel)
	m := metrics.New(prometheus.NewRegistry())
	q := NewActionQueue(zap.New(core), m)
	q.Add(
		recording(&log, "a"),
		failing("b", cause),
		recording(&log, "c"),
		recording(&log, "d"),
	)

	err := q.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, IsConsistency(err))
	assert.ErrorIs(t, err, cause)

	var ce *ConsistencyActionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Abandoned)
	assert.Equal(t, "pull things/b.ids <nil>", ce.Action)
	assert.Contains(t, err.Error(), "2 queued actions abandoned")

	assert.Equal(t, []string{"a"}, log)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActionsExecuted.WithLabelValues(string(OpAddToSet))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActionsFailed.WithLabelValues(string(OpPull))))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "reconciliation action failed", entry.Message)
	assert.Equal(t, int64(2), entry.ContextMap()["abandoned"])
}

func TestActionQueue_FailingFollowUpCountsPendingWork(t *testing.T) {
	var log []string
	q := NewActionQueue(nil, nil)
	q.Add(
		recording(&log, "a", failing("a1", errors.New("boom")), recording(&log, "a2")),
		recording(&log, "b"),
	)

	err := q.Execute(context.Background())
	var ce *ConsistencyActionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Abandoned)
	assert.Equal(t, []string{"a"}, log)
}

func TestActionQueue_CanceledContext(t *testing.T) {
	var log []string
	q := NewActionQueue(nil, nil)
	q.Add(recording(&log, "a"), recording(&log, "b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, log)
}

func TestActionQueue_ActionsIsACopy(t *testing.T) {
	var log []string
	q := NewActionQueue(nil, nil)
	q.Add(recording(&log, "a"))

	actions := q.Actions()
	actions[0] = nil
	assert.NotNil(t, q.Actions()[0])
}

func TestAction_String(t *testing.T) {
	a := &Action{Op: OpCompareAndUnset, Collection: "children", Key: "c1", Field: "parent", Value: "p1"}
	assert.Equal(t, "compare_and_unset children/c1.parent p1", a.String())

	a = &Action{Op: OpCascadeDelete, Collection: "children", Key: int64(7)}
	assert.Equal(t, "cascade_delete children/7", a.String())
}

func resolution(name string, docs []store.Document, err error, applied *[]string, mu *sync.Mutex) *LazyResolution {
	return &LazyResolution{
		Collection: "things",
		Condition:  store.Eq(store.KeyField, name),
		Property:   "Owner." + name,
		fetch: func(context.Context) ([]store.Document, error) {
			return docs, err
		},
		apply: func(docs []store.Document) error {
			mu.Lock()
			defer mu.Unlock()
			*applied = append(*applied, name)
			return nil
		},
	}
}

func TestLazyQueue_Drain(t *testing.T) {
	var (
		applied []string
		mu      sync.Mutex
	)
	m := metrics.New(prometheus.NewRegistry())
	q := NewLazyQueue(nil, m)
	q.Add(
		resolution("a", []store.Document{{"_id": "a"}}, nil, &applied, &mu),
		resolution("missing", nil, nil, &applied, &mu),
		resolution("b", []store.Document{{"_id": "b"}}, nil, &applied, &mu),
	)
	assert.Equal(t, 3, q.Len())

	require.NoError(t, q.Drain(context.Background()))
	assert.Equal(t, []string{"a", "b"}, applied)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Lazy.WithLabelValues("resolved")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Lazy.WithLabelValues("missing")))
}

func TestLazyQueue_DrainFailure(t *testing.T) {
	var (
		applied []string
		mu      sync.Mutex
	)
	q := NewLazyQueue(nil, nil)
	q.Add(
		resolution("a", nil, errors.New("timeout"), &applied, &mu),
		resolution("b", []store.Document{{"_id": "b"}}, nil, &applied, &mu),
	)

	err := q.Drain(context.Background())
	require.Error(t, err)
	assert.True(t, IsConsistency(err))
	var ce *ConsistencyActionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.Abandoned)
	assert.Empty(t, applied)
}

func TestLazyQueue_DrainConcurrentRespectsLimit(t *testing.T) {
	const limit = 2
	var (
		inFlight, peak atomic.Int64
		applied        []string
		mu             sync.Mutex
	)

	q := NewLazyQueue(nil, nil)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		name := name
		l := resolution(name, nil, nil, &applied, &mu)
		l.fetch = func(context.Context) ([]store.Document, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return []store.Document{{"_id": name}}, nil
		}
		q.Add(l)
	}

	require.NoError(t, q.DrainConcurrent(context.Background(), limit))
	assert.LessOrEqual(t, peak.Load(), int64(limit))
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e", "f"}, applied)
}

func TestLazyQueue_DrainConcurrentFailure(t *testing.T) {
	var (
		applied []string
		mu      sync.Mutex
	)
	q := NewLazyQueue(nil, nil)
	q.Add(resolution("a", nil, errors.New("boom"), &applied, &mu))

	err := q.DrainConcurrent(context.Background(), 4)
	assert.True(t, IsConsistency(err))
	assert.NoError(t, q.DrainConcurrent(context.Background(), 4), "queue is empty after a drain")
}
