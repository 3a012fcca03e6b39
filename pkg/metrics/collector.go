package metrics

import (
	"time"

	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

// Collector periodically samples the store and refreshes the gauge-style
// metrics declared in metrics.go; the counters and histograms are updated inline by the
// scheduler, builders and reconciliation engine as they work.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(store storage.Store) *Collector {
	return &Collector{store: store, stopCh: make(chan struct{})}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
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
	c.collectPoolMetrics()
	c.collectMachineMetrics()
	c.collectNodeMetrics()
	c.collectReservationMetrics()
	c.collectBuilderMetrics()
}

func (c *Collector) collectPoolMetrics() {
	pools, err := c.store.ListMachinePools()
	if err != nil {
		return
	}

	counts := make(map[types.PoolStatus]int)
	for _, p := range pools {
		counts[p.Status]++
		PoolAvailCores.WithLabelValues(p.UUID).Set(float64(p.AvailCores))
		PoolAvailRAM.WithLabelValues(p.UUID).Set(float64(p.AvailRAM))
	}
	for status, count := range counts {
		PoolsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectMachineMetrics() {
	machines, err := c.store.ListMachines()
	if err != nil {
		return
	}

	counts := make(map[types.MachineStatus]int)
	for _, m := range machines {
		counts[m.Status]++
	}
	for status, count := range counts {
		MachinesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectNodeMetrics() {
	nodes, err := c.store.ListNodes()
	if err != nil {
		return
	}

	counts := make(map[types.NodeStatus]int)
	for _, n := range nodes {
		counts[n.Status]++
	}
	for status, count := range counts {
		NodesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectReservationMetrics() {
	pools, err := c.store.ListMachinePools()
	if err != nil {
		return
	}
	for _, p := range pools {
		reservations, err := c.store.ListReservationsByPool(p.UUID)
		if err != nil {
			continue
		}
		ReservationsTotal.WithLabelValues(p.UUID).Set(float64(len(reservations)))
	}
}

func (c *Collector) collectBuilderMetrics() {
	builders, err := c.store.ListBuilders()
	if err != nil {
		return
	}
	BuildersTotal.Set(float64(len(builders)))
}
