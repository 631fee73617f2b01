// Package sweepers reconciles time-dependent rental state that no request
// path would otherwise update: lapsed reservations, unpaid extensions,
// ended terms and devices running past their usage quota.
//
// Each sweeper applies its row updates in one transaction per tick. User
// notifications and device commands go out after the commit, one by one,
// and a failed delivery is counted in the Result instead of failing the tick.
package sweepers

import (
	"context"
	"rover/pkg/logger"
	"rover/pkg/notify"
	"time"
)

const (
	Reservation = "reservation"
	Extension   = "extension"
	EndOfTerm   = "end-of-term"
	Overuse     = "overuse"
)

type Sweeper interface {
	Name() string
	Interval() time.Duration
	Tick(ctx context.Context) (Result, error)
}

// Result summarizes one tick. Affected counts rows changed by the
// transaction; Notified and Failures count post-commit deliveries.
type Result struct {
	Sweeper  string
	Affected int
	Notified int
	Failures int
}

// deliver sends notifications one at a time and records the outcome of
// each in res.
func deliver(ctx context.Context, notifier notify.Notifier, log *logger.Logger, res *Result, notes []notify.Notification) {
	for _, n := range notes {
		if err := notifier.Notify(ctx, n); err != nil {
			res.Failures++
			log.Error("Failed to send notification",
				"sweeper", res.Sweeper,
				"kind", n.Kind,
				"user_id", n.UserID,
				"error", err,
			)
			continue
		}
		res.Notified++
	}
}
