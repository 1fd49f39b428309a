package relationships

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/docmap/internal/odm/metrics"
	"github.com/conduit-lang/docmap/internal/odm/store"
)

// Op names the single-document write an Action performs
type Op string

const (
	OpAddToSet        Op = "add_to_set"
	OpPull            Op = "pull"
	OpSetReturnPrev   Op = "set_and_return_previous"
	OpCompareAndUnset Op = "compare_and_unset"
	OpCascadeDelete   Op = "cascade_delete"
	OpCascadeLookup   Op = "cascade_lookup"
)

// Action is a deferred write to one document. Running it may produce follow-up actions
// that run right after it.
type Action struct {
	Op         Op
	Collection string
	Key        interface{}
	Field      string
	Value      interface{}

	run func(ctx context.Context) ([]*Action, error)
}

// String describes the action for logs and errors
func (a *Action) String() string {
	if a.Field == "" {
		return fmt.Sprintf("%s %s/%s", a.Op, a.Collection, store.KeyString(a.Key))
	}
	return fmt.Sprintf("%s %s/%s.%s %v", a.Op, a.Collection, store.KeyString(a.Key), a.Field, a.Value)
}

// Run executes the action
func (a *Action) Run(ctx context.Context) ([]*Action, error) {
	return a.run(ctx)
}

func addToSet(s store.Store, collection string, key interface{}, field string, value interface{}) *Action {
	return &Action{
		Op: OpAddToSet, Collection: collection, Key: key, Field: field, Value: value,
		run: func(ctx context.Context) ([]*Action, error) {
			return nil, s.AddToSet(ctx, collection, key, field, value)
		},
	}
}

func pull(s store.Store, collection string, key interface{}, field string, value interface{}) *Action {
	return &Action{
		Op: OpPull, Collection: collection, Key: key, Field: field, Value: value,
		run: func(ctx context.Context) ([]*Action, error) {
			return nil, s.Pull(ctx, collection, key, field, value)
		},
	}
}

// compareAndUnset clears field only while it still holds expected
func compareAndUnset(s store.Store, collection string, key interface{}, field string, expected interface{}) *Action {
	return &Action{
		Op: OpCompareAndUnset, Collection: collection, Key: key, Field: field, Value: expected,
		run: func(ctx context.Context) ([]*Action, error) {
			_, err := s.CompareAndSet(ctx, collection, key, field, expected, nil)
			return nil, err
		},
	}
}

// setAndReturnPrevious assigns value and hands the prior value to then
func setAndReturnPrevious(s store.Store, collection string, key interface{}, field string, value interface{}, then func(prev interface{}) []*Action) *Action {
	return &Action{
		Op: OpSetReturnPrev, Collection: collection, Key: key, Field: field, Value: value,
		run: func(ctx context.Context) ([]*Action, error) {
			prev, err := s.SetAndReturnPrevious(ctx, collection, key, field, value)
			if err != nil {
				return nil, err
			}
			return then(prev), nil
		},
	}
}

// ActionQueue runs reconciliation actions strictly in order. Follow-ups run depth-first
// right after the action that produced them.
type ActionQueue struct {
	actions []*Action
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewActionQueue creates an empty queue
func NewActionQueue(logger *zap.Logger, m *metrics.Metrics) *ActionQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionQueue{logger: logger, metrics: m}
}

// Add enqueues actions
func (q *ActionQueue) Add(actions ...*Action) {
	q.actions = append(q.actions, actions...)
}

// Len returns the number of queued top-level actions
func (q *ActionQueue) Len() int {
	return len(q.actions)
}

// Actions returns the queued top-level actions
func (q *ActionQueue) Actions() []*Action {
	out := make([]*Action, len(q.actions))
	copy(out, q.actions)
	return out
}

// Execute runs every action. The first failure stops execution; the error reports how
// many queued actions were abandoned. Nothing is retried or rolled back.
func (q *ActionQueue) Execute(ctx context.Context) error {
	pending := q.actions
	q.actions = nil

	for len(pending) > 0 {
		a := pending[0]
		pending = pending[1:]

		if err := ctx.Err(); err != nil {
			return q.fail(a, len(pending), err)
		}

		follow, err := a.Run(ctx)
		if err != nil {
			return q.fail(a, len(pending), err)
		}
		q.metrics.ActionExecuted(string(a.Op))
		q.logger.Debug("executed reconciliation action", zap.Stringer("action", a), zap.Int("follow_ups", len(follow)))

		if len(follow) > 0 {
			next := make([]*Action, 0, len(follow)+len(pending))
			next = append(next, follow...)
			pending = append(next, pending...)
		}
	}
	return nil
}

func (q *ActionQueue) fail(a *Action, abandoned int, err error) error {
	q.metrics.ActionFailed(string(a.Op))
	q.logger.Warn("reconciliation action failed",
		zap.Stringer("action", a),
		zap.Int("abandoned", abandoned),
		zap.Error(err))
	return &ConsistencyActionError{Action: a.String(), Abandoned: abandoned, Err: err}
}
