package volume

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

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

func TestSyncCreatesMachineVolumeForScheduledNode(t *testing.T) {
	store := newTestStore(t)

	n := &types.Node{Base: types.Base{UUID: "n-1"}}
	require.NoError(t, store.CreateNode(n))
	m := &types.Machine{Base: types.Base{UUID: "m-1"}, Node: n.UUID, Pool: "pool-1"}
	require.NoError(t, store.CreateMachine(m))

	v := &types.Volume{Base: types.Base{UUID: "v-1"}, Node: n.UUID, Size: 10}
	require.NoError(t, store.CreateVolume(v))

	b := New(store)
	require.NoError(t, b.sync(context.Background(), v))

	mvs, err := store.ListMachineVolumesByMachine(m.UUID)
	require.NoError(t, err)
	require.Len(t, mvs, 1)
	require.Equal(t, v.UUID, mvs[0].NodeVolume)

	got, err := store.GetVolume(v.UUID)
	require.NoError(t, err)
	require.Equal(t, "IN_PROGRESS", got.Status)
}

func TestSyncSkipsUnscheduledNode(t *testing.T) {
	store := newTestStore(t)
	n := &types.Node{Base: types.Base{UUID: "n-2"}}
	require.NoError(t, store.CreateNode(n))
	v := &types.Volume{Base: types.Base{UUID: "v-2"}, Node: n.UUID}
	require.NoError(t, store.CreateVolume(v))

	b := New(store)
	require.NoError(t, b.sync(context.Background(), v))

	got, err := store.GetVolume(v.UUID)
	require.NoError(t, err)
	require.Empty(t, got.Status)
}
