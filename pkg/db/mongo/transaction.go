package mongo

import (
	"context"
	"fmt"
	apperrors "rover/pkg/errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// TransactionFunc runs inside a transaction. Repositories called with ctx
// join the surrounding session.
type TransactionFunc func(ctx context.Context) error

type TransactionManager interface {
	ExecuteTransaction(ctx context.Context, fn TransactionFunc) error
}

type mongoTransactionManager struct {
	client *mongo.Client
}

func NewTransactionManager(client *mongo.Client) TransactionManager {
	return &mongoTransactionManager{
		client: client,
	}
}

// ExecuteTransaction commits fn atomically. WithTransaction retries fn on
// transient write conflicts, so fn must be safe to re-run. When ctx already
// carries a session, fn joins it instead of opening a nested transaction.
func (m *mongoTransactionManager) ExecuteTransaction(ctx context.Context, fn TransactionFunc) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	ctx, finish := TrackFinish(ctx)
	defer finish()

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		// A retried attempt starts after the previous one aborted.
		finish()
		return nil, fn(sessCtx)
	})

	if err != nil {
		if apperrors.IsAppError(err) {
			return err
		}
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

type finishKey struct{}

type finishHooks struct {
	mu  sync.Mutex
	fns []func()
}

func (h *finishHooks) run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// TrackFinish attaches a hook list to ctx for OnFinish. Transaction managers
// call finish once an attempt has committed or aborted.
func TrackFinish(ctx context.Context) (context.Context, func()) {
	hooks := &finishHooks{}
	return context.WithValue(ctx, finishKey{}, hooks), hooks.run
}

// OnFinish runs fn when the transaction carried by ctx commits or aborts,
// in reverse registration order. Without a transaction fn runs at once.
func OnFinish(ctx context.Context, fn func()) {
	hooks, ok := ctx.Value(finishKey{}).(*finishHooks)
	if !ok {
		fn()
		return
	}
	hooks.mu.Lock()
	hooks.fns = append(hooks.fns, fn)
	hooks.mu.Unlock()
}

// InTransaction reports whether ctx is bound to a Mongo session.
func InTransaction(ctx context.Context) bool {
	return mongo.SessionFromContext(ctx) != nil
}

// WithTimeout bounds a single repository call. Session contexts are passed
// through untouched, the transaction owns their deadline.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if InTransaction(ctx) {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
