package node

import (
	"context"
	"testing"

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

func TestSyncDiskSpecCreatesAndUpdatesVolumes(t *testing.T) {
	store := newTestStore(t)

	n := &types.Node{
		Base:  types.Base{UUID: "n-1"},
		Cores: 2, RAM: 2048, Name: "web-1",
		DiskSpec: []types.DiskSpecVolume{
			{Index: 0, Size: 20, Boot: true},
			{Index: 1, Size: 10},
		},
	}
	require.NoError(t, store.CreateNode(n))

	m := &types.Machine{Base: types.Base{UUID: "m-1"}, Node: n.UUID, Cores: 1, RAM: 1024}
	require.NoError(t, store.CreateMachine(m))

	b := New(store)
	require.NoError(t, b.syncDiskSpec(context.Background(), n))

	vols, err := store.ListMachineVolumesByMachine(m.UUID)
	require.NoError(t, err)
	require.Len(t, vols, 2)

	got, err := store.GetMachine(m.UUID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Cores)
	require.Equal(t, types.MachineStatusInProgress, got.Status)
}

func TestSyncDiskSpecDeletesShrunkVolume(t *testing.T) {
	store := newTestStore(t)

	n := &types.Node{
		Base:     types.Base{UUID: "n-2"},
		DiskSpec: []types.DiskSpecVolume{{Index: 0, Size: 20, Boot: true}},
	}
	require.NoError(t, store.CreateNode(n))

	m := &types.Machine{Base: types.Base{UUID: "m-2"}, Node: n.UUID}
	require.NoError(t, store.CreateMachine(m))
	require.NoError(t, store.CreateMachineVolume(&types.MachineVolume{
		Base: types.Base{UUID: "v-extra"}, Machine: m.UUID, Index: 1, Size: 5,
	}))

	b := New(store)
	require.NoError(t, b.syncDiskSpec(context.Background(), n))

	vols, err := store.ListMachineVolumesByMachine(m.UUID)
	require.NoError(t, err)
	require.Len(t, vols, 1)
	require.Equal(t, 0, vols[0].Index)
}

func TestActualizeInstanceWithOutdatedTrackedAdoptsMachineStatus(t *testing.T) {
	store := newTestStore(t)

	n := &types.Node{Base: types.Base{UUID: "n-3"}, Status: types.NodeStatusInProgress}
	require.NoError(t, store.CreateNode(n))

	m := &types.Machine{Base: types.Base{UUID: "m-3"}, Node: n.UUID, Status: types.MachineStatusActive}
	require.NoError(t, store.CreateMachine(m))

	b := New(store)
	inst := reconciler.Instance{UUID: n.UUID, Kind: types.KindNode}
	require.NoError(t, b.ActualizeInstanceWithOutdatedTracked(context.Background(), inst, reconciler.Pair{}))

	got, err := store.GetNode(n.UUID)
	require.NoError(t, err)
	require.Equal(t, types.NodeStatusActive, got.Status)
}
