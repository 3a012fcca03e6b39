package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/infraguys/genesis-compute/pkg/driver"
	"github.com/infraguys/genesis-compute/pkg/log"
	"github.com/infraguys/genesis-compute/pkg/metrics"
	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

// Agent drives one MachinePool's driver connection, diffing meta records
// held in the store against the data plane the driver reports.
type Agent struct {
	pool   *types.MachinePool
	store  storage.Store
	driver driver.Driver
	logger zerolog.Logger

	stopCh chan struct{}
}

// New builds an Agent for pool, opening its driver via pkg/driver.Open.
func New(pool *types.MachinePool, store storage.Store) (*Agent, error) {
	d, err := driver.Open(pool)
	if err != nil {
		return nil, err
	}
	return &Agent{
		pool:   pool,
		store:  store,
		driver: d,
		logger: log.WithPoolID(pool.UUID),
		stopCh: make(chan struct{}),
	}, nil
}

func (a *Agent) Start(interval time.Duration) { go a.run(interval) }
func (a *Agent) Stop()                        { close(a.stopCh) }

func (a *Agent) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info().Msg("pool agent started")
	for {
		select {
		case <-ticker.C:
			if err := a.RunOnce(context.Background()); err != nil {
				a.logger.Error().Err(err).Msg("agent iteration failed")
			}
		case <-a.stopCh:
			a.driver.Close()
			a.logger.Info().Msg("pool agent stopped")
			return
		}
	}
}

// snapshot is the per-iteration dp_machine_map / dp_volume_map /
// dp_storage_pool_map index built from the driver's observed state.
type snapshot struct {
	machines     map[string]driver.MachineWithPorts
	volumes      map[string]*types.MachineVolume
	storagePools map[string]types.StoragePool
}

// RunOnce performs one pool-agent iteration: snapshot, recompute
// capacity, then reconcile machines and volumes.
func (a *Agent) RunOnce(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.AgentSyncDuration, a.pool.UUID)

	snap, err := a.buildSnapshot(ctx)
	if err != nil {
		return err
	}

	if err := a.recomputeCapacity(ctx, snap); err != nil {
		a.logger.Error().Err(err).Msg("failed to recompute capacity")
	}

	metaMachines, err := a.store.ListMachinesByPool(a.pool.UUID)
	if err != nil {
		return err
	}
	for _, m := range metaMachines {
		a.reconcileMachine(ctx, m, snap)
	}

	metaVolumes, err := a.store.ListMachineVolumesByPool(a.pool.UUID)
	if err != nil {
		return err
	}
	for _, v := range metaVolumes {
		a.reconcileVolume(ctx, v, snap)
	}

	a.deleteOrphanedDPMachines(ctx, metaMachines, snap)

	return nil
}

func (a *Agent) buildSnapshot(ctx context.Context) (*snapshot, error) {
	machines, volumes, err := a.driver.ListPoolResources(ctx)
	if err != nil {
		return nil, err
	}
	pools, err := a.driver.ListStoragePools(ctx)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{
		machines:     make(map[string]driver.MachineWithPorts, len(machines)),
		volumes:      make(map[string]*types.MachineVolume, len(volumes)),
		storagePools: make(map[string]types.StoragePool, len(pools)),
	}
	for _, m := range machines {
		snap.machines[m.Machine.UUID] = m
	}
	for _, v := range volumes {
		snap.volumes[v.UUID] = v
	}
	for _, p := range pools {
		snap.storagePools[p.Name] = p
	}
	return snap, nil
}

// recomputeCapacity applies §4.2 step 2: all_cores/all_ram from the
// driver's report scaled by the pool's oversubscription ratios, minus
// every observed machine's cores/ram.
func (a *Agent) recomputeCapacity(ctx context.Context, snap *snapshot) error {
	info, err := a.driver.PoolInfo(ctx)
	if err != nil {
		return err
	}

	coresRatio := a.pool.CoresRatio
	if coresRatio == 0 {
		coresRatio = 1.0
	}
	ramRatio := a.pool.RAMRatio
	if ramRatio == 0 {
		ramRatio = 1.0
	}

	allCores := int(float64(info.AllCores) * coresRatio)
	allRAM := int(float64(info.AllRAM) * ramRatio)

	usedCores, usedRAM := 0, 0
	for _, m := range snap.machines {
		usedCores += m.Machine.Cores
		usedRAM += m.Machine.RAM
	}

	a.pool.AllCores = allCores
	a.pool.AllRAM = allRAM
	a.pool.AvailCores = allCores - usedCores
	a.pool.AvailRAM = allRAM - usedRAM

	storagePools := make([]types.StoragePool, 0, len(snap.storagePools))
	for _, p := range snap.storagePools {
		storagePools = append(storagePools, p)
	}
	a.pool.StoragePools = storagePools

	return a.store.UpdateMachinePool(a.pool)
}

// reconcileMachine dispatches one meta machine record to dump_to_dp,
// update_on_dp or restore_from_dp depending on presence in the snapshot.
func (a *Agent) reconcileMachine(ctx context.Context, m *types.Machine, snap *snapshot) {
	observed, exists := snap.machines[m.UUID]

	if !exists {
		a.dumpMachineToDP(ctx, m)
		return
	}

	if observed.Machine.Cores != m.Cores || observed.Machine.RAM != m.RAM || observed.Machine.Image != m.Image {
		a.updateMachineOnDP(ctx, m, observed.Machine)
		return
	}

	a.restoreMachineFromDP(ctx, m, observed.Machine)
}

func (a *Agent) dumpMachineToDP(ctx context.Context, m *types.Machine) {
	volumes, err := a.store.ListMachineVolumesByMachine(m.UUID)
	if err != nil {
		a.logger.Error().Err(err).Str("machine", m.UUID).Msg("failed to list volumes for create")
		return
	}
	sortVolumesByIndex(volumes)

	if len(volumes) == 0 || volumes[0].Index != 0 {
		// Root volume not ready yet; this is the readiness gate at the
		// agent level too — defer to next iteration.
		return
	}

	ports, err := a.store.ListPortsByMachine(m.UUID)
	if err != nil {
		a.logger.Error().Err(err).Str("machine", m.UUID).Msg("failed to list ports for create")
		return
	}

	_, err = a.driver.CreateMachine(ctx, m, volumes, ports)
	if err != nil {
		a.logger.Error().Err(err).Str("machine", m.UUID).Msg("create_machine failed")
		m.Status = types.MachineStatusError
		m.StatusReason = err.Error()
		a.store.UpdateMachine(m)
		return
	}

	m.Status = types.MachineStatusInProgress
	a.store.UpdateMachine(m)
	metrics.AgentDPDiffTotal.WithLabelValues(a.pool.UUID, "create_machine").Inc()
}

func (a *Agent) updateMachineOnDP(ctx context.Context, m *types.Machine, observed *types.Machine) {
	if observed.Image != m.Image {
		ports, _ := a.store.ListPortsByMachine(m.UUID)
		if err := a.driver.RecreateMachine(ctx, m, ports); err != nil {
			a.logger.Error().Err(err).Str("machine", m.UUID).Msg("recreate_machine failed")
			m.Status = types.MachineStatusError
			a.store.UpdateMachine(m)
			return
		}
	} else {
		if observed.Cores != m.Cores {
			if err := a.driver.SetMachineCores(ctx, m, m.Cores); err != nil {
				a.logger.Error().Err(err).Str("machine", m.UUID).Msg("set_machine_cores failed")
				m.Status = types.MachineStatusError
				a.store.UpdateMachine(m)
				return
			}
		}
		if observed.RAM != m.RAM {
			if err := a.driver.SetMachineRAM(ctx, m, m.RAM); err != nil {
				a.logger.Error().Err(err).Str("machine", m.UUID).Msg("set_machine_ram failed")
				m.Status = types.MachineStatusError
				a.store.UpdateMachine(m)
				return
			}
		}
	}

	m.Status = types.MachineStatusActive
	a.store.UpdateMachine(m)
	metrics.AgentDPDiffTotal.WithLabelValues(a.pool.UUID, "update_machine").Inc()
}

func (a *Agent) restoreMachineFromDP(ctx context.Context, m *types.Machine, observed *types.Machine) {
	if m.Status != types.MachineStatusActive {
		m.Status = types.MachineStatusActive
		a.store.UpdateMachine(m)
	}
}

func (a *Agent) deleteOrphanedDPMachines(ctx context.Context, metaMachines []*types.Machine, snap *snapshot) {
	known := make(map[string]bool, len(metaMachines))
	for _, m := range metaMachines {
		known[m.UUID] = true
	}

	for uuid, observed := range snap.machines {
		if known[uuid] {
			continue
		}
		// An untracked machine is only logged: this pass never deletes a
		// data-plane machine, on its first observation or on later ones.
		a.logger.Warn().Str("machine", uuid).Msg("untracked machine observed on data plane, deferring")
		_ = observed
	}
}

// reconcileVolume applies the three-way attachment table from §4.2.
func (a *Agent) reconcileVolume(ctx context.Context, v *types.MachineVolume, snap *snapshot) {
	observed, exists := snap.volumes[v.UUID]

	if !exists {
		if err := a.driver.CreateVolume(ctx, v); err != nil {
			a.logger.Error().Err(err).Str("volume", v.UUID).Msg("create_volume failed")
			return
		}
		metrics.AgentDPDiffTotal.WithLabelValues(a.pool.UUID, "create_volume").Inc()
		return
	}

	if v.Index == 0 {
		// Root volumes are attached only at create_machine time.
		if observed.Status == "ERROR" {
			a.markOwningMachineError(v)
		}
		return
	}

	desired := v.Machine
	actual := observed.Machine

	switch {
	case desired == "" && actual == "":
		// nothing
	case desired == "" && actual != "":
		if err := a.driver.DetachVolume(ctx, v); err != nil && err != driver.ErrVolumeNotAttached {
			a.logger.Error().Err(err).Str("volume", v.UUID).Msg("detach_volume failed")
			return
		}
		metrics.AgentDPDiffTotal.WithLabelValues(a.pool.UUID, "detach_volume").Inc()
	case desired != "" && actual == "":
		if err := a.driver.AttachVolume(ctx, v); err != nil && err != driver.ErrVolumeAlreadyAttached {
			a.logger.Error().Err(err).Str("volume", v.UUID).Msg("attach_volume failed")
			return
		}
		metrics.AgentDPDiffTotal.WithLabelValues(a.pool.UUID, "attach_volume").Inc()
	case desired == actual:
		// nothing
	default:
		detached := &types.MachineVolume{Base: v.Base, Machine: actual}
		if err := a.driver.DetachVolume(ctx, detached); err != nil && err != driver.ErrVolumeNotAttached {
			a.logger.Error().Err(err).Str("volume", v.UUID).Msg("detach_volume (move) failed")
			return
		}
		if err := a.driver.AttachVolume(ctx, v); err != nil && err != driver.ErrVolumeAlreadyAttached {
			a.logger.Error().Err(err).Str("volume", v.UUID).Msg("attach_volume (move) failed")
			return
		}
		metrics.AgentDPDiffTotal.WithLabelValues(a.pool.UUID, "move_volume").Inc()
	}

	if v.Size != observed.Size {
		if err := a.driver.ResizeVolume(ctx, v); err != nil {
			a.logger.Error().Err(err).Str("volume", v.UUID).Msg("resize_volume failed")
		}
	}
}

func (a *Agent) markOwningMachineError(v *types.MachineVolume) {
	if v.Machine == "" {
		return
	}
	m, err := a.store.GetMachine(v.Machine)
	if err != nil {
		return
	}
	m.Status = types.MachineStatusError
	m.StatusReason = "root volume in ERROR"
	a.store.UpdateMachine(m)
}

func sortVolumesByIndex(volumes []*types.MachineVolume) {
	for i := 1; i < len(volumes); i++ {
		for j := i; j > 0 && volumes[j].Index < volumes[j-1].Index; j-- {
			volumes[j], volumes[j-1] = volumes[j-1], volumes[j]
		}
	}
}
