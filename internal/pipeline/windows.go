package pipeline

import (
	"fmt"
	"time"

	"github.com/pulseboard/pulseboard/internal/survey"
)

// Window is a half-open [Start, End) rollup time range. All windows are
// computed in process-local time; mixing timezones across components is worse
// than committing to one convention.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor returns the most recently closed window for a rollup period,
// relative to now.
func WindowFor(period string, now time.Time) (Window, error) {
	switch period {
	case survey.PeriodDaily:
		return DailyWindow(now), nil
	case survey.PeriodWeekly:
		return WeeklyWindow(now), nil
	case survey.PeriodMonthly:
		return MonthlyWindow(now), nil
	default:
		return Window{}, fmt.Errorf("%w: unknown rollup period %q", ErrValidation, period)
	}
}

// DailyWindow is yesterday midnight to today midnight.
func DailyWindow(now time.Time) Window {
	today := midnight(now)
	return Window{Start: today.AddDate(0, 0, -1), End: today}
}

// WeeklyWindow is the prior Sunday midnight to the most recent Sunday
// midnight. On a Sunday the window ends today.
func WeeklyWindow(now time.Time) Window {
	end := midnight(now).AddDate(0, 0, -int(now.Weekday()))
	return Window{Start: end.AddDate(0, 0, -7), End: end}
}

// MonthlyWindow is the first of the prior month to the first of the current
// month.
func MonthlyWindow(now time.Time) Window {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return Window{Start: first.AddDate(0, -1, 0), End: first}
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
