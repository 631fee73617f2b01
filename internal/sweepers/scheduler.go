package sweepers

import (
	"context"
	"errors"
	"fmt"
	"rover/pkg/clock"
	"rover/pkg/logger"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	ErrAlreadyRunning = errors.New("sweeper tick already running")
	ErrUnknownSweeper = errors.New("unknown sweeper")
)

type job struct {
	sweeper Sweeper
	running atomic.Bool
	skipped atomic.Int64
}

// Scheduler runs each sweeper on its own ticker. A tick that comes due
// while the previous one of the same sweeper is still running is skipped.
type Scheduler struct {
	clock clock.Clock
	log   *logger.Logger
	jobs  map[string]*job
	order []string
}

func NewScheduler(clk clock.Clock, log *logger.Logger, sweepers ...Sweeper) *Scheduler {
	s := &Scheduler{
		clock: clk,
		log:   log,
		jobs:  make(map[string]*job, len(sweepers)),
	}
	for _, sw := range sweepers {
		s.jobs[sw.Name()] = &job{sweeper: sw}
		s.order = append(s.order, sw.Name())
	}
	return s
}

// Names lists the registered sweepers in registration order.
func (s *Scheduler) Names() []string {
	return append([]string(nil), s.order...)
}

// Skipped reports how many scheduled ticks of name were dropped because
// the previous tick was still running.
func (s *Scheduler) Skipped(name string) int64 {
	if j, ok := s.jobs[name]; ok {
		return j.skipped.Load()
	}
	return 0
}

// Run blocks until ctx is cancelled and every in-flight tick has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range s.order {
		j := s.jobs[name]
		ticker := s.clock.NewTicker(j.sweeper.Interval())
		g.Go(func() error {
			defer ticker.Stop()
			s.loop(gctx, j, ticker)
			return nil
		})
		s.log.Info("Sweeper scheduled", "sweeper", name, "interval", j.sweeper.Interval())
	}

	err := g.Wait()
	s.log.Info("Sweepers stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, j *job, ticker *clock.Ticker) {
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !j.running.CompareAndSwap(false, true) {
				j.skipped.Add(1)
				s.log.Debug("Sweeper still running, skipping tick", "sweeper", j.sweeper.Name())
				continue
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				defer j.running.Store(false)
				_, _ = s.tick(ctx, j)
			}()
		}
	}
}

// Trigger runs one tick of name now, unless a tick of it is in progress.
func (s *Scheduler) Trigger(ctx context.Context, name string) (Result, error) {
	j, ok := s.jobs[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownSweeper, name)
	}
	if !j.running.CompareAndSwap(false, true) {
		return Result{Sweeper: name}, ErrAlreadyRunning
	}
	defer j.running.Store(false)
	return s.tick(ctx, j)
}

// RunOnce triggers every named sweeper once, in order, and stops at the
// first error. With no names it runs all of them.
func (s *Scheduler) RunOnce(ctx context.Context, names ...string) ([]Result, error) {
	if len(names) == 0 {
		names = s.order
	}
	results := make([]Result, 0, len(names))
	for _, name := range names {
		res, err := s.Trigger(ctx, name)
		if err != nil {
			return results, fmt.Errorf("sweeper %s: %w", name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Scheduler) tick(ctx context.Context, j *job) (Result, error) {
	name := j.sweeper.Name()
	start := s.clock.Now()

	res, err := j.sweeper.Tick(ctx)
	elapsed := s.clock.Now().Sub(start)
	if err != nil {
		s.log.Error("Sweeper tick failed, changes rolled back",
			"sweeper", name,
			"duration", elapsed,
			"error", err,
		)
		return res, err
	}

	if res.Affected > 0 || res.Failures > 0 {
		s.log.Info("Sweeper tick completed",
			"sweeper", name,
			"affected", res.Affected,
			"notified", res.Notified,
			"failures", res.Failures,
			"duration", elapsed,
		)
	} else {
		s.log.Debug("Sweeper tick completed", "sweeper", name, "duration", elapsed)
	}
	return res, nil
}
