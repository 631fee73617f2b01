package service

import (
	"rover/pkg/model"
	"time"
)

// Limits are the daily usage rules applied to every device.
type Limits struct {
	Daily        time.Duration
	FirstSession time.Duration
	Cooldown     time.Duration
}

// Summary is a device's usage within one local day.
type Summary struct {
	DayStart time.Time
	Total    time.Duration
	// First is the earliest session overlapping the day, Open the session
	// still running, if any.
	First *model.UsageSession
	Open  *model.UsageSession
	// LastEnd is the end of the most recent session. An open session counts
	// as ending at now.
	LastEnd time.Time
}

func (s Summary) Hours() float64 {
	return s.Total.Seconds() / 3600
}

// Summarize folds sessions into the usage of the day starting at dayStart.
// Sessions are clipped to [dayStart, now].
func Summarize(sessions []*model.UsageSession, dayStart, now time.Time) Summary {
	sum := Summary{DayStart: dayStart}
	for _, session := range sessions {
		start := session.StartTime
		if start.Before(dayStart) {
			start = dayStart
		}
		end := session.End(now)
		if end.After(now) {
			end = now
		}
		if !end.After(start) && !session.IsOpen() {
			continue
		}

		if end.After(start) {
			sum.Total += end.Sub(start)
		}
		if sum.First == nil || session.StartTime.Before(sum.First.StartTime) {
			sum.First = session
		}
		if session.IsOpen() {
			sum.Open = session
		}
		if end.After(sum.LastEnd) {
			sum.LastEnd = end
		}
	}
	return sum
}

// firstSessionLength is how long the first session of the day has run,
// counted from dayStart at the earliest.
func (s Summary) firstSessionLength(now time.Time) time.Duration {
	if s.First == nil {
		return 0
	}
	start := s.First.StartTime
	if start.Before(s.DayStart) {
		start = s.DayStart
	}
	return s.First.End(now).Sub(start)
}

// Rejection explains why a session may not start, or is empty.
type Rejection string

const (
	Allowed           Rejection = ""
	DailyLimitReached Rejection = "daily usage limit reached"
	CooldownPending   Rejection = "cooldown after a long session has not elapsed"
)

// CheckStart applies the start rules: the daily limit, then the cooldown
// that follows a day total past the first-session limit.
func (l Limits) CheckStart(sum Summary, now time.Time) Rejection {
	if sum.Total >= l.Daily {
		return DailyLimitReached
	}
	if sum.Total >= l.FirstSession && now.Sub(sum.LastEnd) < l.Cooldown {
		return CooldownPending
	}
	return Allowed
}

// Overuse is the action the overuse sweeper owes a powered-on device.
type Overuse int

const (
	NoOveruse Overuse = iota
	// OverDailyLimit: the device reached the daily total.
	OverDailyLimit
	// OverFirstSession: the first session of the day is still running past
	// its limit and has not been handled yet.
	OverFirstSession
)

func (o Overuse) String() string {
	switch o {
	case OverDailyLimit:
		return "daily_limit"
	case OverFirstSession:
		return "first_session"
	default:
		return "none"
	}
}

// CheckOveruse decides whether a running device must be forced off.
// handled is the device's first-session flag for the current day.
func (l Limits) CheckOveruse(sum Summary, handled bool, now time.Time) Overuse {
	if sum.Total >= l.Daily {
		return OverDailyLimit
	}
	if handled || sum.Open == nil || sum.First != sum.Open {
		return NoOveruse
	}
	if sum.firstSessionLength(now) >= l.FirstSession {
		return OverFirstSession
	}
	return NoOveruse
}
