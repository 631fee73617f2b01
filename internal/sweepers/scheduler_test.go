package sweepers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"rover/pkg/clock"
	"rover/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSweeper struct {
	name    string
	result  Result
	err     error
	started chan struct{}
	release chan struct{}
	ticks   atomic.Int32
}

func newStub(name string) *stubSweeper {
	return &stubSweeper{name: name, started: make(chan struct{}, 16)}
}

// blocking makes every tick wait until release is closed.
func (s *stubSweeper) blocking() *stubSweeper {
	s.release = make(chan struct{})
	return s
}

func (s *stubSweeper) Name() string            { return s.name }
func (s *stubSweeper) Interval() time.Duration { return time.Minute }

func (s *stubSweeper) Tick(ctx context.Context) (Result, error) {
	s.ticks.Add(1)
	select {
	case s.started <- struct{}{}:
	default:
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return Result{Sweeper: s.name}, ctx.Err()
		}
	}
	res := s.result
	res.Sweeper = s.name
	return res, s.err
}

func TestScheduler_Names(t *testing.T) {
	s := NewScheduler(clock.Real(), logger.Discard(), newStub("b"), newStub("a"))
	assert.Equal(t, []string{"b", "a"}, s.Names())
}

func TestScheduler_RunSkipsTickWhileRunning(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC))
	slow := newStub("slow").blocking()
	s := NewScheduler(clk, logger.Discard(), slow)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		clk.Advance(time.Minute)
		select {
		case <-slow.started:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		clk.Advance(time.Minute)
		return s.Skipped("slow") > 0
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, slow.ticks.Load())

	close(slow.release)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestScheduler_TriggerRejectsOverlappingTick(t *testing.T) {
	slow := newStub("slow").blocking()
	s := NewScheduler(clock.Real(), logger.Discard(), slow)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := s.Trigger(ctx, "slow")
		first <- err
	}()
	<-slow.started

	_, err := s.Trigger(ctx, "slow")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(slow.release)
	require.NoError(t, <-first)

	res, err := s.Trigger(ctx, "slow")
	require.NoError(t, err)
	assert.Equal(t, "slow", res.Sweeper)
	assert.EqualValues(t, 2, slow.ticks.Load())
}

func TestScheduler_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown sweeper", func(t *testing.T) {
		s := NewScheduler(clock.Real(), logger.Discard(), newStub("a"))
		_, err := s.RunOnce(ctx, "nope")
		assert.ErrorIs(t, err, ErrUnknownSweeper)
	})

	t.Run("stops at first error", func(t *testing.T) {
		a, b, c := newStub("a"), newStub("b"), newStub("c")
		a.result = Result{Affected: 2}
		b.err = errors.New("write conflict")
		s := NewScheduler(clock.Real(), logger.Discard(), a, b, c)

		results, err := s.RunOnce(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sweeper b")
		require.Len(t, results, 1)
		assert.Equal(t, Result{Sweeper: "a", Affected: 2}, results[0])
		assert.Zero(t, c.ticks.Load())
	})

	t.Run("named subset", func(t *testing.T) {
		a, b := newStub("a"), newStub("b")
		s := NewScheduler(clock.Real(), logger.Discard(), a, b)

		results, err := s.RunOnce(ctx, "b")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Zero(t, a.ticks.Load())
		assert.EqualValues(t, 1, b.ticks.Load())
	})
}
