package scheduler

import (
	"sync"
	"time"

	"github.com/cortexlab/fedhub/pkg/log"
)

const (
	// tickInterval is the wall-clock check cadence.
	tickInterval = 60 * time.Second
	// errorBackoff pauses evaluation after a failed check so a broken
	// store does not get hammered once a minute.
	errorBackoff = 300 * time.Second
	// retentionInterval spaces standalone retention sweeps.
	retentionInterval = 7 * 24 * time.Hour
)

// Driver is the orchestrator surface the scheduler drives.
type Driver interface {
	// EvaluateDaily runs the daily training check, kicking a cycle when
	// the policy fires.
	EvaluateDaily() (bool, error)
	// KickRetention requests a retention sweep.
	KickRetention()
}

// Scheduler drives time-based training: a daily evaluation at the
// configured quiet hour and a weekly retention sweep. Event-based triggers
// (ingests, uploads) bypass it entirely.
type Scheduler struct {
	driver    Driver
	trainHour int
	now       func() time.Time

	mu            sync.Mutex
	lastDailyDay  string // date of the last completed daily evaluation
	lastRetention time.Time
	backoffUntil  time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a scheduler evaluating daily at trainHour (local time). The
// first retention sweep happens one interval after startup.
func New(driver Driver, trainHour int) *Scheduler {
	return &Scheduler{
		driver:        driver,
		trainHour:     trainHour,
		now:           time.Now,
		lastRetention: time.Now(),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start() {
	go s.run()
	log.WithComponent("scheduler").Info().Int("train_hour", s.trainHour).Msg("scheduler started")
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopCh:
			return
		}
	}
}

// tick performs one wall-clock evaluation.
func (s *Scheduler) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Before(s.backoffUntil) {
		return
	}
	if now.Hour() != s.trainHour {
		return
	}

	day := now.Format("2006-01-02")
	if day != s.lastDailyDay {
		fired, err := s.driver.EvaluateDaily()
		if err != nil {
			// Leave lastDailyDay untouched so the check reruns
			// once the backoff expires, still inside the window.
			s.backoffUntil = now.Add(errorBackoff)
			log.WithComponent("scheduler").Error().Err(err).Msg("daily evaluation failed, backing off")
			return
		}
		s.lastDailyDay = day
		log.WithComponent("scheduler").Info().Bool("fired", fired).Msg("daily training evaluation complete")
	}

	if now.Sub(s.lastRetention) >= retentionInterval {
		s.lastRetention = now
		s.driver.KickRetention()
		log.WithComponent("scheduler").Info().Msg("weekly retention sweep requested")
	}
}
