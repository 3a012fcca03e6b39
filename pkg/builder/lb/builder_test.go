package lb

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

func TestCreateInstanceDerivativesCollectsPoolMembers(t *testing.T) {
	store := newTestStore(t)

	n := &types.Node{Base: types.Base{UUID: "n-1"}, NodeSet: "set-1"}
	require.NoError(t, store.CreateNode(n))
	m := &types.Machine{Base: types.Base{UUID: "m-1"}, Node: n.UUID}
	require.NoError(t, store.CreateMachine(m))
	require.NoError(t, store.CreatePort(&types.Port{Base: types.Base{UUID: "p-1"}, Machine: m.UUID, Status: "ACTIVE"}))

	lbEntity := &types.LoadBalancer{Base: types.Base{UUID: "lb-1"}, NodeSet: "set-1", Protocol: "tcp", Port: 80}
	require.NoError(t, store.CreateLoadBalancer(lbEntity))

	b := New(store)
	derivs, err := b.CreateInstanceDerivatives(context.Background(), reconciler.Instance{UUID: lbEntity.UUID})
	require.NoError(t, err)

	payload := derivs[types.KindLBFrontend]
	members, ok := payload["pool_members"].([]string)
	require.True(t, ok)
	require.Equal(t, []string{"p-1"}, members)
}

func TestActualizeInstanceWithOutdatedTrackedMirrorsFrontendStatus(t *testing.T) {
	store := newTestStore(t)
	lbEntity := &types.LoadBalancer{Base: types.Base{UUID: "lb-2"}, Status: "IN_PROGRESS"}
	require.NoError(t, store.CreateLoadBalancer(lbEntity))
	require.NoError(t, store.PutActualResource(&types.ActualResource{
		UUID: frontendUUID(lbEntity.UUID), Kind: types.KindLBFrontend,
		Payload: map[string]any{"status": "ACTIVE"},
	}))

	b := New(store)
	inst := reconciler.Instance{UUID: lbEntity.UUID, Kind: types.KindLoadBalancer}
	require.NoError(t, b.ActualizeInstanceWithOutdatedTracked(context.Background(), inst, reconciler.Pair{}))

	got, err := store.GetLoadBalancer(lbEntity.UUID)
	require.NoError(t, err)
	require.Equal(t, "ACTIVE", got.Status)
}
