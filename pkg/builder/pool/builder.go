package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/infraguys/genesis-compute/pkg/capacity"
	"github.com/infraguys/genesis-compute/pkg/log"
	"github.com/infraguys/genesis-compute/pkg/reconciler"
	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

// Builder owns a set of MachinePools (filter builder = self.uuid) and
// admits/reconciles their machines through the reconciliation engine.
type Builder struct {
	reconciler.BaseHooks

	uuid   string
	store  storage.Store
	logger zerolog.Logger
}

// New returns a reconciler.Hooks implementation for kind KindMachine,
// scoped to the pools owned by builderUUID.
func New(builderUUID string, store storage.Store) *Builder {
	return &Builder{
		BaseHooks: reconciler.NewBaseHooks(types.KindMachine),
		uuid:      builderUUID,
		store:     store,
		logger:    log.WithComponent("pool-builder"),
	}
}

type prep struct {
	pools map[string]*types.MachinePool
}

func (b *Builder) PrepareIteration(ctx context.Context) (any, error) {
	pools, err := b.store.ListMachinePoolsByBuilder(b.uuid)
	if err != nil {
		return nil, err
	}
	p := &prep{pools: make(map[string]*types.MachinePool, len(pools))}
	for _, pl := range pools {
		p.pools[pl.UUID] = pl
	}
	return p, nil
}

func (b *Builder) FetchNewInstances(ctx context.Context, raw any) ([]reconciler.Instance, error) {
	p := raw.(*prep)
	var out []reconciler.Instance

	for poolUUID := range p.pools {
		machines, err := b.store.ListMachinesByPool(poolUUID)
		if err != nil {
			continue
		}
		for _, m := range machines {
			if _, err := b.store.GetTargetResource(m.UUID); err == nil {
				continue // already tracked
			}
			out = append(out, reconciler.Instance{
				UUID:    m.UUID,
				Kind:    types.KindMachine,
				Payload: machinePayload(m),
			})
		}
	}
	return out, nil
}

func machinePayload(m *types.Machine) map[string]any {
	return map[string]any{
		"cores": m.Cores, "ram": m.RAM, "image": m.Image,
		"boot": string(m.Boot), "pool": m.Pool, "node": m.Node,
	}
}

// FetchUpdatedInstances finds tracked machines whose payload has drifted
// from the last persisted target resource (a cores/ram/image/boot edit).
func (b *Builder) FetchUpdatedInstances(ctx context.Context, raw any) ([]reconciler.Pair, error) {
	targets, err := b.store.ListTargetResourcesByKind(types.KindMachine)
	if err != nil {
		return nil, err
	}
	var out []reconciler.Pair
	for _, t := range targets {
		m, err := b.store.GetMachine(t.UUID)
		if err != nil {
			continue
		}
		payload := machinePayload(m)
		if reconciler.Hash(payload) == t.Hash {
			continue
		}
		updated := *t
		updated.Payload = payload
		actual, _ := b.store.GetActualResource(t.UUID)
		out = append(out, reconciler.Pair{Target: &updated, Actual: actual})
	}
	return out, nil
}

// FetchOutdatedTracked re-runs status aggregation for every tracked
// machine each iteration: the pool_machine and guest_machine derivatives
// are written by independent agents, so there is no cheap staleness
// signal beyond re-checking every tick.
func (b *Builder) FetchOutdatedTracked(ctx context.Context, raw any) ([]reconciler.Pair, error) {
	targets, err := b.store.ListTargetResourcesByKind(types.KindMachine)
	if err != nil {
		return nil, err
	}
	var out []reconciler.Pair
	for _, t := range targets {
		actual, _ := b.store.GetActualResource(t.UUID)
		out = append(out, reconciler.Pair{Target: t, Actual: actual})
	}
	return out, nil
}

// FetchOrphanedActuals finds machine actual resources whose owning
// Machine row is gone: the user (or scheduler) deleted it directly.
func (b *Builder) FetchOrphanedActuals(ctx context.Context, raw any) ([]*types.ActualResource, error) {
	actuals, err := b.store.ListActualResourcesByKind(types.KindMachine)
	if err != nil {
		return nil, err
	}
	var out []*types.ActualResource
	for _, a := range actuals {
		if _, err := b.store.GetMachine(a.UUID); err != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

// CanCreateInstanceResource implements the create-machine gate (§4.4):
// capacity, ports and the root volume must all be ready before a machine
// can be handed to the pool agent.
func (b *Builder) CanCreateInstanceResource(ctx context.Context, inst reconciler.Instance) (bool, error) {
	m, err := b.store.GetMachine(inst.UUID)
	if err != nil {
		return false, err
	}

	pl, err := b.store.GetMachinePool(m.Pool)
	if err != nil {
		return false, err
	}

	// Reservation acquisition is best-effort per machine (§4.7): it
	// subtracts any reservations already held against the pool, not just
	// the pool's own avail_cores/avail_ram, so a batch of machines
	// admitted in the same scheduler tick doesn't all believe the same
	// capacity is theirs.
	acquired, err := capacity.Acquire(b.store, pl, m.UUID, m.Cores, m.RAM, b.uuid)
	if err != nil {
		return false, err
	}
	if !acquired {
		// Reschedule-by-release: mark the machine NEED_RESCHEDULE and
		// clear its pool and builder so the scheduler picks a different
		// pool. Only applies at creation time.
		b.logger.Warn().Str("machine", m.UUID).Str("pool", pl.UUID).
			Msg("pool lacks capacity for new machine, releasing for reschedule")
		m.Status = types.MachineStatusNeedReschedule
		m.Pool = ""
		m.Builder = ""
		b.store.UpdateMachine(m)
		return false, nil
	}

	volumes, err := b.store.ListMachineVolumesByMachine(m.UUID)
	if err != nil {
		return false, err
	}
	hasRoot := false
	for _, v := range volumes {
		if v.Index == 0 {
			hasRoot = true
			break
		}
	}
	if !hasRoot {
		return false, nil
	}

	ports, err := b.store.ListPortsByMachine(m.UUID)
	if err != nil {
		return false, err
	}
	if len(ports) == 0 {
		return false, nil
	}
	if ports[0].Status != "ACTIVE" {
		return false, nil
	}

	return true, nil
}

// CreateInstanceDerivatives emits the PoolMachine and GuestMachine
// derivatives (§4.4): the hypervisor-facing record and the in-VM agent's
// record, each with its own scheduling anchor.
func (b *Builder) CreateInstanceDerivatives(ctx context.Context, inst reconciler.Instance) (map[types.ResourceKind]map[string]any, error) {
	m, err := b.store.GetMachine(inst.UUID)
	if err != nil {
		return nil, err
	}

	pl, err := b.store.GetMachinePool(m.Pool)
	if err != nil {
		return nil, err
	}

	ports, _ := b.store.ListPortsByMachine(m.UUID)
	var primaryPort *types.Port
	if len(ports) > 0 {
		primaryPort = ports[0]
	}

	m.Boot = types.BootNetwork
	b.store.UpdateMachine(m)

	guestAgentUUID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("guest-agent-"+m.UUID)).String()
	if _, err := b.store.GetAgent(guestAgentUUID); err != nil {
		b.store.CreateAgent(&types.Agent{Base: types.Base{UUID: guestAgentUUID}})
	}

	poolMachinePayload := map[string]any{
		"image": m.Image,
		"boot":  string(types.BootNetwork),
	}
	if primaryPort != nil {
		poolMachinePayload["port"] = primaryPort.UUID
	}

	guestMachinePayload := map[string]any{
		"image":    m.Image,
		"hostname": m.Name,
		"boot":     string(types.BootNetwork),
		"agent":    guestAgentUUID,
	}

	_ = pl
	return map[types.ResourceKind]map[string]any{
		types.KindPoolMachine:  poolMachinePayload,
		types.KindGuestMachine: guestMachinePayload,
	}, nil
}

func (b *Builder) PostCreateInstanceResource(ctx context.Context, inst reconciler.Instance, resource *types.TargetResource, derivatives map[types.ResourceKind]*types.TargetResource) error {
	m, err := b.store.GetMachine(inst.UUID)
	if err != nil {
		return err
	}
	m.Status = types.MachineStatusInProgress
	m.Builder = b.uuid
	return b.store.UpdateMachine(m)
}

// CanUpdateInstanceResource implements the update-machine gate: a resize
// the pool cannot cover fails the machine and its node, no reschedule.
func (b *Builder) CanUpdateInstanceResource(ctx context.Context, inst reconciler.Instance) (bool, error) {
	m, err := b.store.GetMachine(inst.UUID)
	if err != nil {
		return false, err
	}
	pl, err := b.store.GetMachinePool(m.Pool)
	if err != nil {
		return false, err
	}

	// inst.Payload is built from m itself, so the sizes the machine was
	// last admitted at come from the persisted target (JSON numbers).
	prev, err := b.store.GetTargetResource(inst.UUID)
	if err != nil {
		return false, err
	}
	prevCores, _ := prev.Payload["cores"].(float64)
	prevRAM, _ := prev.Payload["ram"].(float64)
	deltaCores := m.Cores - int(prevCores)
	deltaRAM := m.RAM - int(prevRAM)

	if deltaCores > pl.AvailCores || deltaRAM > pl.AvailRAM {
		m.Status = types.MachineStatusError
		m.StatusReason = "insufficient pool capacity for update"
		b.store.UpdateMachine(m)
		if m.Node != "" {
			if n, err := b.store.GetNode(m.Node); err == nil {
				n.Status = types.NodeStatusError
				n.StatusReason = m.StatusReason
				b.store.UpdateNode(n)
			}
		}
		return false, nil
	}
	return true, nil
}

// ActualizeInstanceWithOutdatedTracked implements the boot-mode state
// machine and the ERROR/ACTIVE/IN_PROGRESS status join across the
// pool_machine and guest_machine derivatives (§4.4).
func (b *Builder) ActualizeInstanceWithOutdatedTracked(ctx context.Context, inst reconciler.Instance, trackee reconciler.Pair) error {
	m, err := b.store.GetMachine(inst.UUID)
	if err != nil {
		return err
	}

	poolMachine, poolErr := b.store.GetActualResource(reconciler.DerivativeUUID(types.KindPoolMachine, m.UUID))
	guestMachine, guestErr := b.store.GetActualResource(reconciler.DerivativeUUID(types.KindGuestMachine, m.UUID))

	status := joinStatus(poolErr == nil, poolMachine, guestErr == nil, guestMachine)
	if m.Status != status {
		m.Status = status
		b.store.UpdateMachine(m)
		if status == types.MachineStatusActive {
			// The driver's own capacity reporting now accounts for this
			// machine; the reservation that held its place is done.
			if err := capacity.Release(b.store, m.UUID); err != nil {
				b.logger.Error().Err(err).Str("machine", m.UUID).Msg("failed to release capacity reservation")
			}
		}
	}

	if guestErr == nil && m.Boot == types.BootNetwork {
		if s, ok := guestMachine.Payload["status"].(string); ok && s == "FLASHED" {
			m.Boot = types.BootHD0
			b.store.UpdateMachine(m)

			guestTarget, err := b.store.GetTargetResource(reconciler.DerivativeUUID(types.KindGuestMachine, m.UUID))
			if err != nil {
				b.logger.Error().Err(err).Str("machine", m.UUID).Msg("failed to load guest_machine target for boot update")
				return nil
			}
			guestTarget.Payload["boot"] = string(types.BootHD0)
			guestTarget.Hash = reconciler.Hash(guestTarget.Payload)
			guestTarget.UpdatedAt = time.Now()
			if err := b.store.PutTargetResource(guestTarget); err != nil {
				b.logger.Error().Err(err).Str("machine", m.UUID).Msg("failed to persist guest_machine boot update")
			}
		}
	}
	return nil
}

func joinStatus(havePool bool, poolMachine *types.ActualResource, haveGuest bool, guestMachine *types.ActualResource) types.MachineStatus {
	poolStatus, guestStatus := "", ""
	if havePool {
		poolStatus, _ = poolMachine.Payload["status"].(string)
	}
	if haveGuest {
		guestStatus, _ = guestMachine.Payload["status"].(string)
	}

	if poolStatus == "ERROR" || guestStatus == "ERROR" {
		return types.MachineStatusError
	}
	if poolStatus == "" || guestStatus == "" || poolStatus == "NEW" || guestStatus == "NEW" {
		return types.MachineStatusInProgress
	}
	if poolStatus == "ACTIVE" && guestStatus == "ACTIVE" {
		return types.MachineStatusActive
	}
	return types.MachineStatusInProgress
}

// PreDeleteInstanceResource implements the pre-delete hook: the dummy
// guest agent and the guest_machine derivative are removed explicitly,
// since the in-VM agent typically loses power before observing its own
// deletion.
func (b *Builder) PreDeleteInstanceResource(ctx context.Context, resource *types.ActualResource) error {
	guestAgentUUID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("guest-agent-"+resource.UUID)).String()
	b.store.DeleteAgent(guestAgentUUID)
	if err := capacity.Release(b.store, resource.UUID); err != nil {
		b.logger.Error().Err(err).Str("machine", resource.UUID).Msg("failed to release capacity reservation")
	}
	return b.store.DeleteTargetResource(reconciler.DerivativeUUID(types.KindGuestMachine, resource.UUID))
}
