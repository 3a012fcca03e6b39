package scheduler

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/infraguys/genesis-compute/pkg/log"
	"github.com/infraguys/genesis-compute/pkg/metrics"
	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

// DefaultInterval is how often the scheduler re-evaluates unscheduled
// nodes and pools, absent an explicit override.
const DefaultInterval = time.Second

// rebalanceEvery is the iteration count between rebalance points (§4.7):
// every pool-builder row is deleted, and admitPools reassigns a pool whose
// builder has no row to a registered one, so a dead builder's pools can
// be picked up by another.
const rebalanceEvery = 100

// Filter narrows a candidate pool list for one node's placement. The soft
// AffinityFilter returns the unfiltered list rather than reject every
// pool; CoresRamAvailableFilter can return an empty list.
type Filter interface {
	Filter(n *types.Node, pools []*types.MachinePool) []*types.MachinePool
}

// Weighter scores each of a (already filtered) candidate pool list for one
// node. Higher is preferred. Weights from multiple stages sum.
type Weighter interface {
	Weight(n *types.Node, pools []*types.MachinePool) []float64
}

// Scheduler assigns Nodes to Machines, and Machines to MachinePools, on a
// fixed interval.
type Scheduler struct {
	store     storage.Store
	interval  time.Duration
	filters   []Filter
	weighters []Weighter
	logger    zerolog.Logger

	mu        sync.Mutex
	stopCh    chan struct{}
	iteration uint64
}

// NewScheduler wires the default filter/weight pipeline: capacity first,
// then soft anti-affinity, scored by relative core/RAM usage plus an
// affinity contribution.
func NewScheduler(store storage.Store) *Scheduler {
	return &Scheduler{
		store:    store,
		interval: DefaultInterval,
		filters: []Filter{
			CoresRamAvailableFilter{},
			&AffinityFilter{store: store},
		},
		weighters: []Weighter{
			RelativeCoreRamWeighter{},
			&AffinityWeighter{store: store},
		},
		logger: log.WithComponent("scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Schedule(); err != nil {
				s.logger.Error().Err(err).Msg("scheduling cycle failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// Schedule performs one scheduling cycle: pool/agent admission, the
// rebalance point, then reuse-first and pool placement for every
// unscheduled or errored node.
func (s *Scheduler) Schedule() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	if err := s.admitPools(); err != nil {
		s.logger.Error().Err(err).Msg("pool admission failed")
	}

	s.iteration++
	if s.iteration%rebalanceEvery == 0 {
		if err := s.store.DeleteAllBuilders(); err != nil {
			s.logger.Error().Err(err).Msg("rebalance point failed")
		}
	}

	nodes, err := s.unscheduledNodes()
	if err != nil {
		return fmt.Errorf("list unscheduled nodes: %w", err)
	}
	for _, n := range nodes {
		if err := s.scheduleNode(n); err != nil {
			s.logger.Error().Err(err).Str("node", n.UUID).Msg("failed to schedule node")
		}
	}
	return nil
}

// unscheduledNodes returns NEW and ERROR nodes: HW nodes left in ERROR
// because no idle machine existed yet are retried every tick exactly like
// a brand-new node, since there is no cheaper staleness signal than
// re-checking (§9 resolved).
func (s *Scheduler) unscheduledNodes() ([]*types.Node, error) {
	var out []*types.Node
	for _, status := range []types.NodeStatus{types.NodeStatusNew, types.NodeStatusError} {
		nodes, err := s.store.ListNodesByStatus(status)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}

// admitPools assigns a pool-builder, picked at random among the registered
// pool builders, to any MachinePool whose builder is empty or has no row,
// and a pool-agent to any MachinePool missing one: the first registered
// agent no pool has claimed yet.
func (s *Scheduler) admitPools() error {
	pools, err := s.store.ListMachinePools()
	if err != nil {
		return err
	}
	builders, err := s.store.ListBuilders()
	if err != nil {
		return err
	}
	agents, err := s.store.ListAgents()
	if err != nil {
		return err
	}

	var poolBuilders []*types.Builder
	registered := make(map[string]bool, len(builders))
	for _, b := range builders {
		if b.Kind == types.BuilderKindPool {
			poolBuilders = append(poolBuilders, b)
			registered[b.UUID] = true
		}
	}

	// A registered Agent is either a pool agent or a dummy guest agent
	// the pool builder created for some Machine; nothing in the agent
	// record itself distinguishes the two. Treat agents already claimed
	// by a pool as pool agents and skip them; any other agent is a
	// candidate, which is adequate at the scale a single deployment runs
	// pool agents versus guest agents.
	claimed := make(map[string]bool, len(pools))
	for _, p := range pools {
		if p.Agent != "" {
			claimed[p.Agent] = true
		}
	}

	for _, p := range pools {
		dirty := false
		if (p.Builder == "" || !registered[p.Builder]) && len(poolBuilders) > 0 {
			p.Builder = poolBuilders[rand.Intn(len(poolBuilders))].UUID
			dirty = true
		}
		if p.Agent == "" {
			for _, a := range agents {
				if claimed[a.UUID] {
					continue
				}
				p.Agent = a.UUID
				claimed[a.UUID] = true
				dirty = true
				break
			}
		}
		if dirty {
			if err := s.store.UpdateMachinePool(p); err != nil {
				s.logger.Error().Err(err).Str("pool", p.UUID).Msg("failed to admit pool")
			}
		}
	}
	return nil
}

func (s *Scheduler) scheduleNode(n *types.Node) error {
	if n.NodeType == types.NodeTypeHW {
		return s.scheduleHWNode(n)
	}
	return s.scheduleVMNode(n)
}

// scheduleHWNode matches a HW node against a pre-registered idle HW
// machine; HW nodes never go through the pool builder's creation path
// (§4.4 only covers VM machines), so a node with nothing to reuse is
// simply left in ERROR for the next tick to retry.
func (s *Scheduler) scheduleHWNode(n *types.Node) error {
	idle, err := s.store.ListIdleMachines(types.NodeTypeHW)
	if err != nil {
		return err
	}
	for _, m := range idle {
		if m.Cores >= n.Cores && m.RAM >= n.RAM {
			return s.bindMachine(n, m)
		}
	}
	n.Status = types.NodeStatusError
	n.StatusReason = "no idle hardware machine available"
	metrics.SchedulingFailures.WithLabelValues("no_hw_capacity").Inc()
	return s.store.UpdateNode(n)
}

// scheduleVMNode tries reuse onto an idle VM machine first, then falls
// back to pool placement.
func (s *Scheduler) scheduleVMNode(n *types.Node) error {
	idle, err := s.store.ListIdleMachines(types.NodeTypeVM)
	if err != nil {
		return err
	}
	for _, m := range idle {
		if m.Cores >= n.Cores && m.RAM >= n.RAM {
			return s.bindMachine(n, m)
		}
	}
	return s.placeOnPool(n)
}

func (s *Scheduler) bindMachine(n *types.Node, m *types.Machine) error {
	m.Node = n.UUID
	m.Name = n.Name
	m.Description = n.Description
	if err := s.store.UpdateMachine(m); err != nil {
		return err
	}
	n.Status = types.NodeStatusScheduled
	n.StatusReason = ""
	metrics.MachinesScheduled.Inc()
	return s.store.UpdateNode(n)
}

// placeOnPool runs the filter/weight pipeline over active pools of the
// node's type, creates a Machine on the winner, and debits the pool's
// cores/RAM/storage capacity in the same pass so a second node scheduled
// later in the same tick sees the debit.
func (s *Scheduler) placeOnPool(n *types.Node) error {
	pools, err := s.store.ListMachinePools()
	if err != nil {
		return err
	}

	var candidates []*types.MachinePool
	for _, p := range pools {
		if p.Status == types.PoolStatusActive && p.MachineType == n.NodeType {
			candidates = append(candidates, p)
		}
	}
	for _, f := range s.filters {
		candidates = f.Filter(n, candidates)
	}
	if len(candidates) == 0 {
		n.Status = types.NodeStatusError
		n.StatusReason = "no eligible pool"
		metrics.SchedulingFailures.WithLabelValues("no_eligible_pool").Inc()
		return s.store.UpdateNode(n)
	}

	rootSize := 0
	if rv := n.RootVolume(); rv != nil {
		rootSize = rv.Size
	}

	var withStorage []*types.MachinePool
	for _, p := range candidates {
		if poolHasStorageFor(p, rootSize) {
			withStorage = append(withStorage, p)
		}
	}
	if len(withStorage) == 0 {
		n.Status = types.NodeStatusError
		n.StatusReason = "no pool with sufficient storage capacity"
		metrics.SchedulingFailures.WithLabelValues("no_storage_capacity").Inc()
		return s.store.UpdateNode(n)
	}

	best := s.pickPool(n, withStorage)

	m := &types.Machine{
		Base:        types.Base{UUID: uuid.New().String(), ProjectID: n.ProjectID},
		Cores:       n.Cores,
		RAM:         n.RAM,
		MachineType: n.NodeType,
		Status:      types.MachineStatusScheduled,
		Pool:        best.UUID,
		Node:        n.UUID,
		Image:       n.Image,
		Name:        n.Name,
		Description: n.Description,
	}
	if err := s.store.CreateMachine(m); err != nil {
		return err
	}

	best.AvailCores -= n.Cores
	best.AvailRAM -= n.RAM
	if err := debitStorage(best, rootSize); err != nil {
		s.logger.Warn().Err(err).Str("pool", best.UUID).Msg("storage debit inconsistent after placement")
	}
	if err := s.store.UpdateMachinePool(best); err != nil {
		return err
	}

	if err := s.store.CreateReservation(&types.MachinePoolReservation{
		Base:    types.Base{UUID: uuid.New().String()},
		Pool:    best.UUID,
		Machine: m.UUID,
		Cores:   n.Cores,
		RAM:     n.RAM,
	}); err != nil {
		s.logger.Warn().Err(err).Str("machine", m.UUID).Msg("failed to record capacity reservation")
	}

	n.Status = types.NodeStatusScheduled
	n.StatusReason = ""
	metrics.MachinesScheduled.Inc()
	return s.store.UpdateNode(n)
}

// pickPool sums every weighter's score per pool and returns the highest,
// first index winning ties.
func (s *Scheduler) pickPool(n *types.Node, pools []*types.MachinePool) *types.MachinePool {
	totals := make([]float64, len(pools))
	for _, w := range s.weighters {
		scores := w.Weight(n, pools)
		for i := range totals {
			if i < len(scores) {
				totals[i] += scores[i]
			}
		}
	}
	best := 0
	for i := 1; i < len(pools); i++ {
		if totals[i] > totals[best] {
			best = i
		}
	}
	return pools[best]
}

func poolHasStorageFor(p *types.MachinePool, sizeGiB int) bool {
	if sizeGiB <= 0 {
		return true
	}
	for i := range p.StoragePools {
		if p.StoragePools[i].HasCapacity(float64(sizeGiB)) {
			return true
		}
	}
	return false
}

func debitStorage(p *types.MachinePool, sizeGiB int) error {
	if sizeGiB <= 0 {
		return nil
	}
	for i := range p.StoragePools {
		if p.StoragePools[i].HasCapacity(float64(sizeGiB)) {
			p.StoragePools[i].Allocate(float64(sizeGiB))
			return nil
		}
	}
	return fmt.Errorf("no storage pool on %s with capacity for %d GiB", p.UUID, sizeGiB)
}

// CoresRamAvailableFilter keeps only pools with enough free cores and RAM
// for the candidate node.
type CoresRamAvailableFilter struct{}

func (CoresRamAvailableFilter) Filter(n *types.Node, pools []*types.MachinePool) []*types.MachinePool {
	var out []*types.MachinePool
	for _, p := range pools {
		if p.AvailCores >= n.Cores && p.AvailRAM >= n.RAM {
			out = append(out, p)
		}
	}
	return out
}

// AffinityFilter implements the soft anti-affinity rule (§4.6, grounded on
// `scheduler/driver/filters/affinity.py`'s DummySoftAntiAffinityFilter):
// pools already hosting a Machine from another node under one of the
// candidate's placement policies are excluded, unless that would exclude
// every pool, in which case the constraint is dropped for this node
// rather than leaving it unplaceable.
type AffinityFilter struct {
	store storage.Store
}

func (f *AffinityFilter) Filter(n *types.Node, pools []*types.MachinePool) []*types.MachinePool {
	conflicting := f.conflictingPools(n)
	if len(conflicting) == 0 {
		return pools
	}

	var avail []*types.MachinePool
	for _, p := range pools {
		if !conflicting[p.UUID] {
			avail = append(avail, p)
		}
	}
	if len(avail) == 0 {
		return pools
	}
	return avail
}

// conflictingPools returns the pools already hosting a Machine from some
// other node sharing one of n's placement policies.
func (f *AffinityFilter) conflictingPools(n *types.Node) map[string]bool {
	allocs, err := f.store.ListPlacementAllocationsByNode(n.UUID)
	if err != nil || len(allocs) == 0 {
		return nil
	}

	conflicting := make(map[string]bool)
	for _, a := range allocs {
		peers, err := f.store.ListPlacementAllocationsByPolicy(a.Policy)
		if err != nil {
			continue
		}
		for _, peer := range peers {
			if peer.Node == n.UUID {
				continue
			}
			machines, err := f.store.ListMachinesByNode(peer.Node)
			if err != nil {
				continue
			}
			for _, m := range machines {
				if m.Pool != "" {
					conflicting[m.Pool] = true
				}
			}
		}
	}
	return conflicting
}

// almostOverusedThreshold mirrors RelativeCoreRamWeighter's Python
// original: above this ratio a pool is scored purely on its worse
// resource, below it on the average of both.
const almostOverusedThreshold = 0.8

// RelativeCoreRamWeighter scores pools by how little of their cores/RAM
// is used, inverted so the least-used pool scores highest (grounded on
// `scheduler/driver/weighter/relative.py`).
type RelativeCoreRamWeighter struct{}

func usageRatio(p *types.MachinePool) float64 {
	if p.AvailCores < 0 || p.AvailRAM < 0 {
		return 1.0
	}
	if p.AllCores == 0 || p.AllRAM == 0 {
		return 1.0
	}

	coresRatio := float64(p.AllCores-p.AvailCores) / float64(p.AllCores)
	ramRatio := float64(p.AllRAM-p.AvailRAM) / float64(p.AllRAM)

	max := coresRatio
	if ramRatio > max {
		max = ramRatio
	}
	if max > almostOverusedThreshold {
		return max
	}
	return (coresRatio + ramRatio) / 2
}

func (RelativeCoreRamWeighter) Weight(_ *types.Node, pools []*types.MachinePool) []float64 {
	usages := make([]float64, len(pools))
	sum := 0.0
	for i, p := range pools {
		usages[i] = usageRatio(p)
		sum += usages[i]
	}

	weights := make([]float64, len(pools))
	if sum == 0 {
		for i := range weights {
			weights[i] = 1.0
		}
		return weights
	}
	for i := range weights {
		weights[i] = 1.0 - usages[i]/sum
	}
	return weights
}

// AffinityWeighter scores pools down in proportion to how many
// co-resident nodes sharing an unsatisfied placement policy with the
// candidate already have a Machine there (§4.6 supplement, SPEC_FULL):
// the "softness" AffinityFilter alone cannot express, since a pool is
// never fully excluded just for hosting one conflicting neighbor.
type AffinityWeighter struct {
	store storage.Store
}

func (w *AffinityWeighter) Weight(n *types.Node, pools []*types.MachinePool) []float64 {
	weights := make([]float64, len(pools))
	for i := range weights {
		weights[i] = 1.0
	}

	allocs, err := w.store.ListPlacementAllocationsByNode(n.UUID)
	if err != nil || len(allocs) == 0 {
		return weights
	}

	conflictCount := make(map[string]int)
	for _, a := range allocs {
		peers, err := w.store.ListPlacementAllocationsByPolicy(a.Policy)
		if err != nil {
			continue
		}
		for _, peer := range peers {
			if peer.Node == n.UUID {
				continue
			}
			machines, err := w.store.ListMachinesByNode(peer.Node)
			if err != nil {
				continue
			}
			for _, m := range machines {
				if m.Pool != "" {
					conflictCount[m.Pool]++
				}
			}
		}
	}

	for i, p := range pools {
		weights[i] = 1.0 / float64(1+conflictCount[p.UUID])
	}
	return weights
}
