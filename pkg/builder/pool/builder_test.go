package pool

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/infraguys/genesis-compute/pkg/reconciler"
	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestPool(t *testing.T, store storage.Store, avail int) *types.MachinePool {
	t.Helper()
	p := &types.MachinePool{
		Base:       types.Base{UUID: "pool-1"},
		Builder:    "builder-1",
		AvailCores: avail,
		AvailRAM:   avail * 1024,
		Status:     types.PoolStatusActive,
	}
	require.NoError(t, store.CreateMachinePool(p))
	return p
}

func TestCanCreateInstanceResourceRejectsWithoutRootVolume(t *testing.T) {
	store := newTestStore(t)
	newTestPool(t, store, 8)

	m := &types.Machine{Base: types.Base{UUID: "m-1"}, Pool: "pool-1", Cores: 2, RAM: 2048}
	require.NoError(t, store.CreateMachine(m))

	port := &types.Port{Base: types.Base{UUID: "p-1"}, Machine: m.UUID, Status: "ACTIVE"}
	require.NoError(t, store.CreatePort(port))

	b := New("builder-1", store)
	ok, err := b.CanCreateInstanceResource(context.Background(), reconciler.Instance{UUID: m.UUID})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCanCreateInstanceResourceReleasesOnCapacityShortfall(t *testing.T) {
	store := newTestStore(t)
	newTestPool(t, store, 1) // 1 core available

	m := &types.Machine{Base: types.Base{UUID: "m-2"}, Pool: "pool-1", Cores: 4, RAM: 2048}
	require.NoError(t, store.CreateMachine(m))

	b := New("builder-1", store)
	ok, err := b.CanCreateInstanceResource(context.Background(), reconciler.Instance{UUID: m.UUID})
	require.NoError(t, err)
	require.False(t, ok)

	got, err := store.GetMachine(m.UUID)
	require.NoError(t, err)
	require.Equal(t, types.MachineStatusNeedReschedule, got.Status)
	require.Empty(t, got.Pool)
}

func TestCanCreateInstanceResourceAdmitsReadyMachine(t *testing.T) {
	store := newTestStore(t)
	newTestPool(t, store, 8)

	m := &types.Machine{Base: types.Base{UUID: "m-3"}, Pool: "pool-1", Cores: 2, RAM: 2048}
	require.NoError(t, store.CreateMachine(m))
	require.NoError(t, store.CreateMachineVolume(&types.MachineVolume{
		Base: types.Base{UUID: "v-root"}, Machine: m.UUID, Pool: "pool-1", Index: 0,
	}))
	require.NoError(t, store.CreatePort(&types.Port{
		Base: types.Base{UUID: "p-3"}, Machine: m.UUID, Status: "ACTIVE",
	}))

	b := New("builder-1", store)
	ok, err := b.CanCreateInstanceResource(context.Background(), reconciler.Instance{UUID: m.UUID})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestJoinStatusDominance(t *testing.T) {
	poolActive := &types.ActualResource{Payload: map[string]any{"status": "ACTIVE"}}
	guestActive := &types.ActualResource{Payload: map[string]any{"status": "ACTIVE"}}
	guestError := &types.ActualResource{Payload: map[string]any{"status": "ERROR"}}

	require.Equal(t, types.MachineStatusActive, joinStatus(true, poolActive, true, guestActive))
	require.Equal(t, types.MachineStatusError, joinStatus(true, poolActive, true, guestError))
	require.Equal(t, types.MachineStatusInProgress, joinStatus(true, poolActive, false, nil))
}

func TestActualizeInstanceFlashedTransitionUpdatesGuestMachineBoot(t *testing.T) {
	store := newTestStore(t)
	newTestPool(t, store, 8)

	m := &types.Machine{Base: types.Base{UUID: "m-5"}, Pool: "pool-1", Boot: types.BootNetwork}
	require.NoError(t, store.CreateMachine(m))

	guestTarget := &types.TargetResource{
		UUID:    reconciler.DerivativeUUID(types.KindGuestMachine, m.UUID),
		Kind:    types.KindGuestMachine,
		Payload: map[string]any{"boot": string(types.BootNetwork)},
	}
	require.NoError(t, store.PutTargetResource(guestTarget))

	require.NoError(t, store.PutActualResource(&types.ActualResource{
		UUID:    reconciler.DerivativeUUID(types.KindPoolMachine, m.UUID),
		Kind:    types.KindPoolMachine,
		Payload: map[string]any{"status": "ACTIVE"},
	}))
	require.NoError(t, store.PutActualResource(&types.ActualResource{
		UUID:    reconciler.DerivativeUUID(types.KindGuestMachine, m.UUID),
		Kind:    types.KindGuestMachine,
		Payload: map[string]any{"status": "FLASHED"},
	}))

	b := New("builder-1", store)
	err := b.ActualizeInstanceWithOutdatedTracked(context.Background(), reconciler.Instance{UUID: m.UUID}, reconciler.Pair{})
	require.NoError(t, err)

	got, err := store.GetMachine(m.UUID)
	require.NoError(t, err)
	require.Equal(t, types.BootHD0, got.Boot)

	guest, err := store.GetTargetResource(guestTarget.UUID)
	require.NoError(t, err)
	require.Equal(t, string(types.BootHD0), guest.Payload["boot"])
}

func TestPreDeleteInstanceResourceRemovesGuestMachineAndAgent(t *testing.T) {
	store := newTestStore(t)
	b := New("builder-1", store)

	guestTarget := &types.TargetResource{
		UUID: reconciler.DerivativeUUID(types.KindGuestMachine, "m-4"),
		Kind: types.KindGuestMachine,
	}
	require.NoError(t, store.PutTargetResource(guestTarget))

	agentUUID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("guest-agent-m-4")).String()
	require.NoError(t, store.CreateAgent(&types.Agent{Base: types.Base{UUID: agentUUID}}))

	require.NoError(t, b.PreDeleteInstanceResource(context.Background(), &types.ActualResource{UUID: "m-4"}))

	_, err := store.GetTargetResource(guestTarget.UUID)
	require.Error(t, err)

	_, err = store.GetAgent(agentUUID)
	require.Error(t, err)
}
