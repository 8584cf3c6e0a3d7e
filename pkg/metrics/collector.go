package metrics

import (
	"context"
	"time"

	"github.com/stratumhq/mongorelay/pkg/checkpoint"
	"github.com/stratumhq/mongorelay/pkg/codec"
	"github.com/stratumhq/mongorelay/pkg/types"
)

// Pinger reports whether an endpoint is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Collector refreshes checkpoint and endpoint gauges in the background
type Collector struct {
	store    checkpoint.Store
	mappings []types.CollectionMapping
	pingers  map[string]Pinger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector over the given checkpoint store
func NewCollector(store checkpoint.Store, mappings []types.CollectionMapping) *Collector {
	return &Collector{
		store:    store,
		mappings: mappings,
		pingers:  make(map[string]Pinger),
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// AddPinger registers an endpoint to probe on every collection cycle
func (c *Collector) AddPinger(name string, p Pinger) {
	c.pingers[name] = p
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
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
	c.collectCheckpointMetrics()
	c.collectEndpointMetrics()
}

func (c *Collector) collectCheckpointMetrics() {
	for _, mapping := range c.mappings {
		name := mapping.Collection

		if cp, err := c.store.LoadBulk(name); err == nil && cp != nil {
			CheckpointDocuments.WithLabelValues(name, "bulk").Set(float64(cp.Count))
			if age, ok := checkpointAge(cp.Timestamp); ok {
				CheckpointAge.WithLabelValues(name, "bulk").Set(age)
			}
		}

		if cp, err := c.store.LoadPolling(name); err == nil && cp != nil {
			CheckpointDocuments.WithLabelValues(name, "polling").Set(float64(cp.Updates))
			if age, ok := checkpointAge(cp.Timestamp); ok {
				CheckpointAge.WithLabelValues(name, "polling").Set(age)
			}
		}

		if cp, err := c.store.LoadResumeToken(name); err == nil && cp != nil {
			if age, ok := checkpointAge(cp.Timestamp); ok {
				CheckpointAge.WithLabelValues(name, "stream").Set(age)
			}
		}
	}
}

func (c *Collector) collectEndpointMetrics() {
	for name, pinger := range c.pingers {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := pinger.Ping(ctx)
		cancel()

		if err != nil {
			Up.WithLabelValues(name).Set(0)
			UpdateComponent(name, false, err.Error())
		} else {
			Up.WithLabelValues(name).Set(1)
			UpdateComponent(name, true, "")
		}
	}
}

func checkpointAge(stamp string) (float64, bool) {
	if stamp == "" {
		return 0, false
	}
	t, err := codec.ParseTime(stamp)
	if err != nil {
		return 0, false
	}
	return time.Since(t).Seconds(), true
}
