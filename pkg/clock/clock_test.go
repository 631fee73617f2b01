package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOfDay_UsesFleetZone(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	// 20:00 UTC is already 03:00 the next day in Jakarta.
	ts := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	got := StartOfDay(ts, jakarta)

	assert.Equal(t, time.Date(2026, 5, 2, 0, 0, 0, 0, jakarta), got)
	assert.True(t, got.Before(ts))
}

func TestFakeClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := Fake(start)

	fc.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), fc.Now())
}

func TestFakeClock_TickerDropsWhenBehind(t *testing.T) {
	fc := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := fc.NewTicker(time.Second)
	defer ticker.Stop()

	select {
	case <-ticker.C:
		t.Fatal("ticker fired before any time passed")
	default:
	}

	fc.Advance(5 * time.Second)

	select {
	case <-ticker.C:
	default:
		t.Fatal("expected a tick after advancing past the period")
	}

	select {
	case <-ticker.C:
		t.Fatal("expected missed ticks to be dropped")
	default:
	}
}

func TestFakeClock_StoppedTickerIsSilent(t *testing.T) {
	fc := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := fc.NewTicker(time.Second)
	ticker.Stop()

	fc.Advance(3 * time.Second)

	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}
