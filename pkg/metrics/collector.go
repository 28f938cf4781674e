package metrics

import (
	"time"

	"github.com/cortexlab/fedhub/pkg/storage"
	"github.com/cortexlab/fedhub/pkg/types"
)

// Collector polls the store and keeps the state gauges current.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if pending, err := c.store.CountUploads(types.IncorporationPending); err == nil {
		PendingUploads.Set(float64(pending))
	}

	if versions, err := c.store.ListModelVersions(); err == nil {
		ModelVersionsTotal.Set(float64(len(versions)))
	}

	if latest, err := c.store.LatestModelVersion(); err == nil {
		ModelAccuracy.Set(latest.Accuracy)
	}
}
