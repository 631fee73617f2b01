// Package memstore is an in-memory stand-in for the Mongo repositories.
//
// A Store holds every collection and hands out one view per repository
// interface. ExecuteTransaction serializes transactions and restores a
// snapshot when fn fails, which is enough to observe rollback in tests.
// Calls made outside a transaction are atomic one by one but are not
// isolated from a running transaction.
package memstore

import (
	"context"
	"fmt"
	mongotx "rover/pkg/db/mongo"
	apperrors "rover/pkg/errors"
	"slices"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type txKey struct{}

type table[T any] struct {
	rows  map[string]*T
	order []string
}

func newTable[T any]() table[T] {
	return table[T]{rows: make(map[string]*T)}
}

func (t *table[T]) insert(id string, row *T) {
	t.rows[id] = row
	t.order = append(t.order, id)
}

// all returns rows in insertion order.
func (t *table[T]) all() []*T {
	out := make([]*T, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.rows[id])
	}
	return out
}

func (t table[T]) clone() table[T] {
	c := table[T]{rows: make(map[string]*T, len(t.rows)), order: slices.Clone(t.order)}
	for id, row := range t.rows {
		cp := *row
		c.rows[id] = &cp
	}
	return c
}

type data struct {
	devices    table[deviceRow]
	sessions   table[sessionRow]
	rentals    table[rentalRow]
	payments   table[paymentRow]
	extensions table[extensionRow]
	returns    table[returnRow]
}

func (d *data) clone() data {
	return data{
		devices:    d.devices.clone(),
		sessions:   d.sessions.clone(),
		rentals:    d.rentals.clone(),
		payments:   d.payments.clone(),
		extensions: d.extensions.clone(),
		returns:    d.returns.clone(),
	}
}

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data data

	failures map[string]error
	commits  int
	aborts   int
}

func New() *Store {
	return &Store{
		data: data{
			devices:    newTable[deviceRow](),
			sessions:   newTable[sessionRow](),
			rentals:    newTable[rentalRow](),
			payments:   newTable[paymentRow](),
			extensions: newTable[extensionRow](),
			returns:    newTable[returnRow](),
		},
		failures: make(map[string]error),
	}
}

var _ mongotx.TransactionManager = (*Store)(nil)

func InTransaction(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// ExecuteTransaction runs fn under the store-wide transaction lock and
// rolls every collection back if fn fails. Nested calls join the outer one.
func (s *Store) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	ctx, finish := mongotx.TrackFinish(ctx)
	defer finish()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	err := fn(context.WithValue(ctx, txKey{}, true))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.data = snapshot
		s.aborts++
		if apperrors.IsAppError(err) {
			return err
		}
		return fmt.Errorf("transaction failed: %w", err)
	}
	s.commits++
	return nil
}

// FailOn makes the next call to op return err. op is "<view>.<Method>",
// for example "payments.FailPendingForRental".
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// failure must be called with mu held.
func (s *Store) failure(op string) error {
	err, ok := s.failures[op]
	if !ok {
		return nil
	}
	delete(s.failures, op)
	return err
}

// Stats reports how many transactions committed and rolled back.
func (s *Store) Stats() (commits, aborts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits, s.aborts
}

func newID() string {
	return primitive.NewObjectID().Hex()
}

func validID(id string) bool {
	_, err := primitive.ObjectIDFromHex(id)
	return err == nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func paginate[T any](rows []T, limit int, offset int64) []T {
	if offset >= int64(len(rows)) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
