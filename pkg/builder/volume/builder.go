package volume

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/infraguys/genesis-compute/pkg/log"
	"github.com/infraguys/genesis-compute/pkg/reconciler"
	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

// Builder keeps a user Volume aligned with the MachineVolume backing it.
type Builder struct {
	reconciler.BaseHooks

	store  storage.Store
	logger zerolog.Logger
}

func New(store storage.Store) *Builder {
	return &Builder{
		BaseHooks: reconciler.NewBaseHooks(types.KindVolume),
		store:     store,
		logger:    log.WithComponent("volume-builder"),
	}
}

func volumePayload(v *types.Volume) map[string]any {
	return map[string]any{
		"size": v.Size, "image": v.Image, "label": v.Label, "device_type": v.DeviceType,
	}
}

func (b *Builder) FetchNewInstances(ctx context.Context, raw any) ([]reconciler.Instance, error) {
	all, err := allVolumes(b.store)
	if err != nil {
		return nil, err
	}
	var out []reconciler.Instance
	for _, v := range all {
		if _, err := b.store.GetTargetResource(v.UUID); err == nil {
			continue
		}
		out = append(out, reconciler.Instance{UUID: v.UUID, Kind: types.KindVolume, Payload: volumePayload(v)})
	}
	return out, nil
}

// allVolumes walks every Node the store knows of and collects its
// volumes; the Store interface only exposes a by-node lookup.
func allVolumes(store storage.Store) ([]*types.Volume, error) {
	nodes, err := store.ListNodes()
	if err != nil {
		return nil, err
	}
	var out []*types.Volume
	for _, n := range nodes {
		vs, err := store.ListVolumesByNode(n.UUID)
		if err != nil {
			continue
		}
		out = append(out, vs...)
	}
	return out, nil
}

func (b *Builder) PostCreateInstanceResource(ctx context.Context, inst reconciler.Instance, resource *types.TargetResource, derivatives map[types.ResourceKind]*types.TargetResource) error {
	v, err := b.store.GetVolume(inst.UUID)
	if err != nil {
		return err
	}
	return b.sync(ctx, v)
}

func (b *Builder) FetchUpdatedInstances(ctx context.Context, raw any) ([]reconciler.Pair, error) {
	targets, err := b.store.ListTargetResourcesByKind(types.KindVolume)
	if err != nil {
		return nil, err
	}
	var out []reconciler.Pair
	for _, t := range targets {
		v, err := b.store.GetVolume(t.UUID)
		if err != nil {
			continue
		}
		payload := volumePayload(v)
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

func (b *Builder) PreUpdateInstanceResource(ctx context.Context, inst reconciler.Instance) error {
	v, err := b.store.GetVolume(inst.UUID)
	if err != nil {
		return err
	}
	return b.sync(ctx, v)
}

// sync creates or updates the MachineVolume backing v, found by
// following v.Node to its bound Machine (§4.5: "attachment follows the
// Node's Machine").
func (b *Builder) sync(ctx context.Context, v *types.Volume) error {
	machines, err := b.store.ListMachinesByNode(v.Node)
	if err != nil || len(machines) == 0 {
		return nil // node not yet scheduled
	}
	m := machines[0]

	mvs, err := b.store.ListMachineVolumesByMachine(m.UUID)
	if err != nil {
		return err
	}

	var match *types.MachineVolume
	for _, mv := range mvs {
		if mv.NodeVolume == v.UUID {
			match = mv
			break
		}
	}

	if match == nil {
		nv := &types.MachineVolume{
			Base:       types.Base{UUID: volumeUUID(v.UUID)},
			Size:       v.Size,
			Image:      v.Image,
			Boot:       v.Boot,
			Label:      v.Label,
			DeviceType: v.DeviceType,
			Index:      v.Index,
			Machine:    m.UUID,
			Pool:       m.Pool,
			NodeVolume: v.UUID,
			Status:     "IN_PROGRESS",
		}
		if err := b.store.CreateMachineVolume(nv); err != nil {
			return err
		}
		v.Status = "IN_PROGRESS"
		return b.store.UpdateVolume(v)
	}

	if match.Size != v.Size || match.Image != v.Image || match.Label != v.Label || match.DeviceType != v.DeviceType {
		match.Size, match.Image, match.Label, match.DeviceType = v.Size, v.Image, v.Label, v.DeviceType
		match.Status = "IN_PROGRESS"
		return b.store.UpdateMachineVolume(match)
	}
	return nil
}

func volumeUUID(nodeVolumeUUID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("machine-volume-"+nodeVolumeUUID)).String()
}

func (b *Builder) FetchOutdatedTracked(ctx context.Context, raw any) ([]reconciler.Pair, error) {
	targets, err := b.store.ListTargetResourcesByKind(types.KindVolume)
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

// ActualizeInstanceWithOutdatedTracked mirrors the Volume's status from
// its backing MachineVolume.
func (b *Builder) ActualizeInstanceWithOutdatedTracked(ctx context.Context, inst reconciler.Instance, trackee reconciler.Pair) error {
	v, err := b.store.GetVolume(inst.UUID)
	if err != nil {
		return err
	}
	machines, err := b.store.ListMachinesByNode(v.Node)
	if err != nil || len(machines) == 0 {
		return nil
	}
	mvs, err := b.store.ListMachineVolumesByMachine(machines[0].UUID)
	if err != nil {
		return err
	}
	for _, mv := range mvs {
		if mv.NodeVolume == v.UUID && v.Status != mv.Status {
			v.Status = mv.Status
			return b.store.UpdateVolume(v)
		}
	}
	return nil
}
