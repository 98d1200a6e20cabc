package metrics

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// Sampler returns the current instance list with live process status
type Sampler func(ctx context.Context) ([]types.InstanceView, error)

// Collector periodically samples the registry into gauges
type Collector struct {
	sample   Sampler
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(sample Sampler, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Collector{
		sample:   sample,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
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
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	views, err := c.sample(ctx)
	if err != nil {
		logger := log.WithComponent("metrics")
		logger.Debug().Err(err).Msg("Failed to sample instances")
		UpdateComponent("registry", false, err.Error())
		return
	}
	UpdateComponent("registry", true, "")

	Record(views)
}

// Record sets the instance gauges from one sample
func Record(views []types.InstanceView) {
	var tls, online int
	for _, v := range views {
		if v.Instance != nil && v.UseTLS && v.HasCertificate {
			tls++
		}
		if v.Process != nil && v.Process.Status == "online" {
			online++
		}
	}

	InstancesTotal.Set(float64(len(views)))
	InstancesTLS.Set(float64(tls))
	InstancesOnline.Set(float64(online))
}
