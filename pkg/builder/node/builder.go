package node

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/infraguys/genesis-compute/pkg/log"
	"github.com/infraguys/genesis-compute/pkg/reconciler"
	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

// Builder projects Node intent onto the Machine and MachineVolume rows
// the pool builder and pool agent drive to convergence.
type Builder struct {
	reconciler.BaseHooks

	store  storage.Store
	logger zerolog.Logger
}

func New(store storage.Store) *Builder {
	return &Builder{
		BaseHooks: reconciler.NewBaseHooks(types.KindNode),
		store:     store,
		logger:    log.WithComponent("node-builder"),
	}
}

func nodePayload(n *types.Node) map[string]any {
	return map[string]any{
		"cores": n.Cores, "ram": n.RAM, "image": n.Image,
		"name": n.Name, "description": n.Description, "disk_spec": n.DiskSpec,
	}
}

func (b *Builder) FetchNewInstances(ctx context.Context, raw any) ([]reconciler.Instance, error) {
	nodes, err := b.store.ListNodes()
	if err != nil {
		return nil, err
	}
	var out []reconciler.Instance
	for _, n := range nodes {
		if _, err := b.store.GetTargetResource(n.UUID); err == nil {
			continue
		}
		out = append(out, reconciler.Instance{UUID: n.UUID, Kind: types.KindNode, Payload: nodePayload(n)})
	}
	return out, nil
}

func (b *Builder) PostCreateInstanceResource(ctx context.Context, inst reconciler.Instance, resource *types.TargetResource, derivatives map[types.ResourceKind]*types.TargetResource) error {
	n, err := b.store.GetNode(inst.UUID)
	if err != nil {
		return err
	}
	return b.syncDiskSpec(ctx, n)
}

// FetchUpdatedInstances finds Nodes whose disk_spec, cores, ram, image,
// name or description have drifted from the last persisted target resource.
func (b *Builder) FetchUpdatedInstances(ctx context.Context, raw any) ([]reconciler.Pair, error) {
	targets, err := b.store.ListTargetResourcesByKind(types.KindNode)
	if err != nil {
		return nil, err
	}
	var out []reconciler.Pair
	for _, t := range targets {
		n, err := b.store.GetNode(t.UUID)
		if err != nil {
			continue
		}
		payload := nodePayload(n)
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

// PreUpdateInstanceResource implements the node builder's disk_spec diff
// and cores/ram/name/description propagation (§4.5).
func (b *Builder) PreUpdateInstanceResource(ctx context.Context, inst reconciler.Instance) error {
	n, err := b.store.GetNode(inst.UUID)
	if err != nil {
		return err
	}
	return b.syncDiskSpec(ctx, n)
}

// syncDiskSpec diffs n.DiskSpec against the bound Machine's
// MachineVolumes, creating/updating/deleting as needed, and propagates
// cores/ram/name/description onto the Machine. A changed root volume
// (index 0) forces a machine update even if nothing else did.
func (b *Builder) syncDiskSpec(ctx context.Context, n *types.Node) error {
	machines, err := b.store.ListMachinesByNode(n.UUID)
	if err != nil || len(machines) == 0 {
		return nil // not yet scheduled
	}
	m := machines[0]

	existing, err := b.store.ListMachineVolumesByMachine(m.UUID)
	if err != nil {
		return err
	}
	byIndex := make(map[int]*types.MachineVolume, len(existing))
	for _, v := range existing {
		byIndex[v.Index] = v
	}

	rootChanged := false
	seen := make(map[int]bool, len(n.DiskSpec))
	for _, dv := range n.DiskSpec {
		seen[dv.Index] = true
		if v, ok := byIndex[dv.Index]; ok {
			if v.Size != dv.Size || v.Image != dv.Image || v.Label != dv.Label || v.DeviceType != dv.DeviceType {
				v.Size, v.Image, v.Label, v.DeviceType, v.Boot = dv.Size, dv.Image, dv.Label, dv.DeviceType, dv.Boot
				v.Status = "IN_PROGRESS"
				b.store.UpdateMachineVolume(v)
				if dv.Index == 0 {
					rootChanged = true
				}
			}
			continue
		}

		nv := &types.MachineVolume{
			Base:       types.Base{UUID: volumeUUID(m.UUID, dv.Index)},
			Size:       dv.Size,
			Image:      dv.Image,
			Boot:       dv.Boot,
			Label:      dv.Label,
			DeviceType: dv.DeviceType,
			Index:      dv.Index,
			Machine:    m.UUID,
			Pool:       m.Pool,
			NodeVolume: n.UUID,
			Status:     "IN_PROGRESS",
		}
		if err := b.store.CreateMachineVolume(nv); err != nil {
			b.logger.Error().Err(err).Str("node", n.UUID).Msg("failed to create pool volume")
			continue
		}
		if dv.Index == 0 {
			rootChanged = true
		}
	}

	for idx, v := range byIndex {
		if !seen[idx] {
			b.store.DeleteMachineVolume(v.UUID)
			if idx == 0 {
				rootChanged = true
			}
		}
	}

	changed := rootChanged || m.Cores != n.Cores || m.RAM != n.RAM || m.Name != n.Name || m.Description != n.Description
	if changed {
		m.Cores, m.RAM, m.Name, m.Description = n.Cores, n.RAM, n.Name, n.Description
		m.Status = types.MachineStatusInProgress
		b.store.UpdateMachine(m)
	}
	return nil
}

func volumeUUID(machineUUID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("pool-volume-"+machineUUID+"-"+strconv.Itoa(index))).String()
}

// FetchOutdatedTracked re-checks status inheritance from the bound
// Machine every iteration.
func (b *Builder) FetchOutdatedTracked(ctx context.Context, raw any) ([]reconciler.Pair, error) {
	targets, err := b.store.ListTargetResourcesByKind(types.KindNode)
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

// ActualizeInstanceWithOutdatedTracked implements "the Node adopts its
// Machine's status" (§4.5): only when exactly one Machine is bound.
func (b *Builder) ActualizeInstanceWithOutdatedTracked(ctx context.Context, inst reconciler.Instance, trackee reconciler.Pair) error {
	n, err := b.store.GetNode(inst.UUID)
	if err != nil {
		return err
	}

	// A Node created before the scheduler bound it to a Machine has no
	// target to sync against on the create/update passes; retry here so
	// disk_spec still lands once the Machine exists.
	if err := b.syncDiskSpec(ctx, n); err != nil {
		b.logger.Error().Err(err).Str("node", n.UUID).Msg("disk_spec sync failed")
	}

	machines, err := b.store.ListMachinesByNode(n.UUID)
	if err != nil || len(machines) != 1 {
		return nil
	}
	m := machines[0]

	dirty := false
	status := machineToNodeStatus(m.Status)
	if n.Status != status {
		n.Status, n.StatusReason = status, m.StatusReason
		dirty = true
	}

	if m.Status == types.MachineStatusActive {
		ports, _ := b.store.ListPortsByMachine(m.UUID)
		if len(ports) > 0 && ports[0].Status == "ACTIVE" {
			n.DefaultNetwork = &types.PortSummary{
				UUID: ports[0].UUID, MAC: ports[0].MAC,
				IPv4: ports[0].IPv4, Mask: ports[0].Mask, Status: ports[0].Status,
			}
			dirty = true
		}
	}

	if dirty {
		return b.store.UpdateNode(n)
	}
	return nil
}

func machineToNodeStatus(s types.MachineStatus) types.NodeStatus {
	if s == types.MachineStatusNeedReschedule {
		return types.NodeStatusScheduled
	}
	return types.NodeStatus(s)
}
