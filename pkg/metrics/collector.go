package metrics

import (
	"time"

	"github.com/ram-shortage/BRindeX/pkg/log"
	"github.com/ram-shortage/BRindeX/pkg/store"
	"github.com/ram-shortage/BRindeX/pkg/types"
)

var volumeStates = []types.VolumeState{
	types.VolumeStateUninitialized,
	types.VolumeStateBuilding,
	types.VolumeStateLive,
	types.VolumeStateReconciling,
	types.VolumeStateOffline,
	types.VolumeStateDisabled,
}

// Collector periodically publishes per-volume gauges from the store
type Collector struct {
	st     *store.Store
	stopCh chan struct{}
}

// NewCollector creates a metrics collector over the store
func NewCollector(st *store.Store) *Collector {
	return &Collector{
		st:     st,
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
	read, err := c.st.BeginRead()
	if err != nil {
		logger := log.WithComponent("metrics")
		logger.Debug().Err(err).Msg("Metrics collection skipped")
		return
	}
	defer read.Close()

	vols, err := read.ListVolumes()
	if err != nil {
		return
	}

	for _, vol := range vols {
		EntriesTotal.WithLabelValues(vol.Mount).Set(float64(vol.EntryCount))
		for _, state := range volumeStates {
			v := 0.0
			if vol.State == state {
				v = 1.0
			}
			VolumeState.WithLabelValues(vol.Mount, string(state)).Set(v)
		}
	}
}
