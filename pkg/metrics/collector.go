package metrics

import (
	"time"

	"github.com/cuemby/fabric/pkg/model"
)

// Source is anything that can produce a point-in-time monitoring snapshot.
// registry.Registry satisfies this (procctx passes its Registry); it is
// kept as an interface here so the metrics package never imports the
// registration layer directly.
type Source interface {
	Snapshot() model.Snapshot
}

// Collector periodically pulls a Source's snapshot into the package-level
// gauges, the same poll-and-set pattern as the rest of this package's
// prometheus wiring.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a metrics collector over the given snapshot source.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval, in its own goroutine.
func (c *Collector) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
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

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap := c.source.Snapshot()

	RegisteredProcesses.Set(float64(len(snap.Processes)))

	RegisteredTopics.WithLabelValues(string(model.DirectionPublisher)).Set(float64(len(snap.PublisherTopics)))
	RegisteredTopics.WithLabelValues(string(model.DirectionSubscriber)).Set(float64(len(snap.SubscriberTopics)))

	RegisteredServices.WithLabelValues("server").Set(float64(len(snap.Servers)))
	RegisteredServices.WithLabelValues("client").Set(float64(len(snap.Clients)))
}
