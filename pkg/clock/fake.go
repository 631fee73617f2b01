package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock. Tickers created from it fire
// only when Advance crosses their next deadline.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	c       chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

func Fake(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
	f.fire()
}

func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
	f.fire()
}

func (f *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	ft := &fakeTicker{c: make(chan time.Time, 1), period: d, next: f.now.Add(d)}
	f.tickers = append(f.tickers, ft)
	return &Ticker{
		C: ft.c,
		stopFunc: func() {
			f.mu.Lock()
			ft.stopped = true
			f.mu.Unlock()
		},
	}
}

func (f *FakeClock) fire() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ft := range f.tickers {
		if ft.stopped {
			continue
		}
		for !ft.next.After(f.now) {
			select {
			case ft.c <- ft.next:
			default:
			}
			ft.next = ft.next.Add(ft.period)
		}
	}
}
