// Package utils holds small helpers shared across the analytics subsystem.
package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// Thresholds for flagging slow background work. Pipeline stages run inside a
// job timeout, so anything approaching a minute deserves attention.
const (
	slowInfoThreshold = 10 * time.Second
	slowWarnThreshold = time.Minute
)

// Timer measures the duration of an operation and logs it on Stop. The
// pipeline executor uses it to track per-stage timings.
type Timer struct {
	start time.Time
	name  string
	log   zerolog.Logger
}

// NewTimer starts a timer for the named operation.
func NewTimer(name string, log zerolog.Logger) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
		log:   log,
	}
}

// Stop logs the elapsed duration and returns it. Slow operations are
// escalated to info or warn level.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)

	event := t.log.Debug()
	switch {
	case duration > slowWarnThreshold:
		event = t.log.Warn()
	case duration > slowInfoThreshold:
		event = t.log.Info()
	}

	event.
		Str("operation", t.name).
		Dur("duration", duration).
		Msg("Operation timed")

	return duration
}
