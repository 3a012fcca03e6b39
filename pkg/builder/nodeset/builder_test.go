package nodeset

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

func TestSyncCreatesDeterministicChildrenAndPolicy(t *testing.T) {
	store := newTestStore(t)
	s := &types.NodeSet{Base: types.Base{UUID: "set-1"}, Replicas: 3, Cores: 2, RAM: 1024, Name: "web"}
	require.NoError(t, store.CreateNodeSet(s))

	b := New(store)
	require.NoError(t, b.sync(context.Background(), s))

	nodes, err := store.ListNodesByNodeSet(s.UUID)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	_, err = store.GetPlacementPolicy(policyUUID(s.UUID))
	require.NoError(t, err)

	// Deterministic: re-running sync with the same replica count must
	// not create any new children.
	require.NoError(t, b.sync(context.Background(), s))
	nodes2, err := store.ListNodesByNodeSet(s.UUID)
	require.NoError(t, err)
	require.Len(t, nodes2, 3)
}

func TestSyncShrinkDeletesTail(t *testing.T) {
	store := newTestStore(t)
	s := &types.NodeSet{Base: types.Base{UUID: "set-2"}, Replicas: 3}
	require.NoError(t, store.CreateNodeSet(s))

	b := New(store)
	require.NoError(t, b.sync(context.Background(), s))

	s.Replicas = 1
	require.NoError(t, b.sync(context.Background(), s))

	nodes, err := store.ListNodesByNodeSet(s.UUID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, childUUID(s.UUID, 0), nodes[0].UUID)
}

func TestAggregateStatusActiveRequiresAllChildrenActive(t *testing.T) {
	store := newTestStore(t)
	s := &types.NodeSet{Base: types.Base{UUID: "set-3"}, Replicas: 2}
	require.NoError(t, store.CreateNodeSet(s))

	b := New(store)
	require.NoError(t, b.sync(context.Background(), s))

	nodes, err := store.ListNodesByNodeSet(s.UUID)
	require.NoError(t, err)
	for _, n := range nodes {
		n.Status = types.NodeStatusActive
		require.NoError(t, store.UpdateNode(n))
	}

	inst := reconciler.Instance{UUID: s.UUID, Kind: types.KindNodeSet}
	require.NoError(t, b.ActualizeInstanceWithOutdatedTracked(context.Background(), inst, reconciler.Pair{}))

	got, err := store.GetNodeSet(s.UUID)
	require.NoError(t, err)
	require.Equal(t, types.NodeStatusActive, got.Status)
}
