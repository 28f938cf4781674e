package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeDriver struct {
	evaluations int
	retentions  int
	fire        bool
	err         error
}

func (f *fakeDriver) EvaluateDaily() (bool, error) {
	f.evaluations++
	return f.fire, f.err
}

func (f *fakeDriver) KickRetention() {
	f.retentions++
}

func newTestScheduler(d *fakeDriver, at time.Time) *Scheduler {
	s := New(d, 2)
	s.now = func() time.Time { return at }
	s.lastRetention = at
	return s
}

func TestDailyEvaluationRunsOncePerDay(t *testing.T) {
	at := time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC)
	driver := &fakeDriver{fire: true}
	s := newTestScheduler(driver, at)

	// Several ticks inside the same window evaluate once.
	s.tick()
	s.tick()
	s.tick()
	assert.Equal(t, 1, driver.evaluations)

	// The next day's window evaluates again.
	at = at.Add(24 * time.Hour)
	s.now = func() time.Time { return at }
	s.tick()
	assert.Equal(t, 2, driver.evaluations)
}

func TestNoEvaluationOutsideWindow(t *testing.T) {
	driver := &fakeDriver{}
	for _, hour := range []int{0, 1, 3, 13, 23} {
		at := time.Date(2026, 3, 14, hour, 30, 0, 0, time.UTC)
		s := newTestScheduler(driver, at)
		s.tick()
	}
	assert.Equal(t, 0, driver.evaluations)
}

func TestErrorBacksOffThenRetries(t *testing.T) {
	at := time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC)
	driver := &fakeDriver{err: errors.New("store unavailable")}
	s := newTestScheduler(driver, at)

	s.tick()
	assert.Equal(t, 1, driver.evaluations)

	// Inside the backoff nothing runs.
	at = at.Add(2 * time.Minute)
	s.now = func() time.Time { return at }
	s.tick()
	assert.Equal(t, 1, driver.evaluations)

	// After the backoff, still inside the window, the check reruns.
	driver.err = nil
	at = at.Add(4 * time.Minute)
	s.now = func() time.Time { return at }
	s.tick()
	assert.Equal(t, 2, driver.evaluations)
}

func TestWeeklyRetention(t *testing.T) {
	at := time.Date(2026, 3, 14, 2, 5, 0, 0, time.UTC)
	driver := &fakeDriver{}
	s := newTestScheduler(driver, at)

	s.tick()
	assert.Equal(t, 0, driver.retentions, "no sweep before a week has passed")

	at = at.Add(7*24*time.Hour + time.Minute)
	s.now = func() time.Time { return at }
	s.tick()
	assert.Equal(t, 1, driver.retentions)

	s.tick()
	assert.Equal(t, 1, driver.retentions, "sweep requested once per interval")
}
