// Package syncer mirrors the embedded database to the blob store.
//
// Every committed write marks the syncer dirty; a background loop pushes a
// consistent snapshot at most once per debounce window (a rate limiter, so
// a burst of ingests costs one upload). Stop performs a final push so a
// clean shutdown never loses acknowledged writes.
package syncer

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cortexlab/fedhub/pkg/blob"
	"github.com/cortexlab/fedhub/pkg/events"
	"github.com/cortexlab/fedhub/pkg/log"
	"github.com/cortexlab/fedhub/pkg/metrics"
	"github.com/cortexlab/fedhub/pkg/storage"
)

// pollInterval is how often the loop checks the dirty flag. The limiter,
// not this interval, controls push frequency.
const pollInterval = 5 * time.Second

// Syncer pushes database snapshots to the blob store on a debounce.
type Syncer struct {
	store   storage.Store
	blobs   blob.Storage
	broker  *events.Broker
	limiter *rate.Limiter

	dirty  atomic.Bool
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New creates a syncer pushing at most once per debounce window.
func New(store storage.Store, blobs blob.Storage, broker *events.Broker, debounce time.Duration) *Syncer {
	return &Syncer{
		store:   store,
		blobs:   blobs,
		broker:  broker,
		limiter: rate.NewLimiter(rate.Every(debounce), 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// MarkDirty notes that the database has changed since the last push.
// Registered as a store commit hook.
func (s *Syncer) MarkDirty() {
	s.dirty.Store(true)
}

// Start launches the push loop.
func (s *Syncer) Start() {
	go s.run()
	log.WithComponent("syncer").Info().Msg("snapshot syncer started")
}

// Stop halts the loop and performs a final push when dirty.
func (s *Syncer) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
		<-s.doneCh

		if s.dirty.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.push(ctx)
		}
	})
}

func (s *Syncer) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.dirty.Load() && s.limiter.Allow() {
				ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				s.push(ctx)
				cancel()
			}
		case <-s.stopCh:
			return
		}
	}
}

// push snapshots and uploads. The dirty flag clears before the upload;
// a failure re-marks so the next window retries.
func (s *Syncer) push(ctx context.Context) {
	s.dirty.Store(false)

	var buf bytes.Buffer
	n, err := s.store.Snapshot(&buf)
	if err != nil {
		s.dirty.Store(true)
		metrics.SnapshotPushes.WithLabelValues("error").Inc()
		log.WithComponent("syncer").Error().Err(err).Msg("snapshot failed")
		return
	}

	if err := s.blobs.PushDBSnapshot(ctx, buf.Bytes()); err != nil {
		s.dirty.Store(true)
		metrics.SnapshotPushes.WithLabelValues("error").Inc()
		log.WithComponent("syncer").Error().Err(err).Msg("snapshot push failed")
		return
	}

	metrics.SnapshotPushes.WithLabelValues("ok").Inc()
	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:    events.EventSnapshotPushed,
			Message: "database snapshot pushed",
		})
	}
	log.WithComponent("syncer").Debug().Int64("bytes", n).Msg("snapshot pushed")
}
