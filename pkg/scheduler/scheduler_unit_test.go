package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraguys/genesis-compute/pkg/types"
)

func TestCoresRamAvailableFilter(t *testing.T) {
	pools := []*types.MachinePool{
		{Base: types.Base{UUID: "p-ok"}, AvailCores: 4, AvailRAM: 4096},
		{Base: types.Base{UUID: "p-short-cores"}, AvailCores: 1, AvailRAM: 4096},
		{Base: types.Base{UUID: "p-short-ram"}, AvailCores: 4, AvailRAM: 512},
	}
	n := &types.Node{Cores: 2, RAM: 2048}

	out := CoresRamAvailableFilter{}.Filter(n, pools)
	require.Len(t, out, 1)
	assert.Equal(t, "p-ok", out[0].UUID)
}

func TestUsageRatioAveragesBelowThreshold(t *testing.T) {
	p := &types.MachinePool{AllCores: 10, AvailCores: 8, AllRAM: 10, AvailRAM: 8}
	// used ratio 0.2 on both dimensions, below the 0.8 threshold: averaged
	assert.InDelta(t, 0.2, usageRatio(p), 0.0001)
}

func TestUsageRatioTakesMaxAboveThreshold(t *testing.T) {
	p := &types.MachinePool{AllCores: 10, AvailCores: 0, AllRAM: 10, AvailRAM: 5}
	// cores ratio 1.0, ram ratio 0.5: above threshold so the worse of the two wins
	assert.InDelta(t, 1.0, usageRatio(p), 0.0001)
}

func TestUsageRatioOverusedOrUncalculable(t *testing.T) {
	assert.Equal(t, 1.0, usageRatio(&types.MachinePool{AllCores: 10, AvailCores: -1, AllRAM: 10, AvailRAM: 5}))
	assert.Equal(t, 1.0, usageRatio(&types.MachinePool{AllCores: 0, AvailCores: 0, AllRAM: 10, AvailRAM: 5}))
}

func TestRelativeCoreRamWeighterPrefersLeastUsedPool(t *testing.T) {
	pools := []*types.MachinePool{
		{Base: types.Base{UUID: "busy"}, AllCores: 10, AvailCores: 1, AllRAM: 10, AvailRAM: 1},
		{Base: types.Base{UUID: "idle"}, AllCores: 10, AvailCores: 9, AllRAM: 10, AvailRAM: 9},
	}
	weights := RelativeCoreRamWeighter{}.Weight(nil, pools)
	require.Len(t, weights, 2)
	assert.Greater(t, weights[1], weights[0])
}

func TestRelativeCoreRamWeighterUniformWhenEmptySystem(t *testing.T) {
	pools := []*types.MachinePool{
		{Base: types.Base{UUID: "a"}, AllCores: 10, AvailCores: 10, AllRAM: 10, AvailRAM: 10},
		{Base: types.Base{UUID: "b"}, AllCores: 10, AvailCores: 10, AllRAM: 10, AvailRAM: 10},
	}
	weights := RelativeCoreRamWeighter{}.Weight(nil, pools)
	assert.Equal(t, weights[0], weights[1])
}

func TestAffinityFilterExcludesConflictingPool(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreatePlacementPolicy(&types.PlacementPolicy{Base: types.Base{UUID: "policy-1"}}))

	peerNode := &types.Node{Base: types.Base{UUID: "peer"}}
	require.NoError(t, store.CreateNode(peerNode))
	require.NoError(t, store.CreateMachine(&types.Machine{Base: types.Base{UUID: "peer-m"}, Node: peerNode.UUID, Pool: "pool-conflict"}))

	n := &types.Node{Base: types.Base{UUID: "candidate"}}
	require.NoError(t, store.CreateNode(n))

	require.NoError(t, store.CreatePlacementAllocation(&types.PlacementPolicyAllocation{Base: types.Base{UUID: "alloc-peer"}, Node: peerNode.UUID, Policy: "policy-1"}))
	require.NoError(t, store.CreatePlacementAllocation(&types.PlacementPolicyAllocation{Base: types.Base{UUID: "alloc-candidate"}, Node: n.UUID, Policy: "policy-1"}))

	pools := []*types.MachinePool{
		{Base: types.Base{UUID: "pool-conflict"}},
		{Base: types.Base{UUID: "pool-clear"}},
	}

	f := &AffinityFilter{store: store}
	out := f.Filter(n, pools)
	require.Len(t, out, 1)
	assert.Equal(t, "pool-clear", out[0].UUID)
}

func TestAffinityFilterFallsBackWhenEveryPoolConflicts(t *testing.T) {
	store := newTestStore(t)
	peerNode := &types.Node{Base: types.Base{UUID: "peer"}}
	require.NoError(t, store.CreateNode(peerNode))
	require.NoError(t, store.CreateMachine(&types.Machine{Base: types.Base{UUID: "peer-m"}, Node: peerNode.UUID, Pool: "only-pool"}))

	n := &types.Node{Base: types.Base{UUID: "candidate"}}
	require.NoError(t, store.CreateNode(n))
	require.NoError(t, store.CreatePlacementAllocation(&types.PlacementPolicyAllocation{Base: types.Base{UUID: "alloc-peer"}, Node: peerNode.UUID, Policy: "policy-1"}))
	require.NoError(t, store.CreatePlacementAllocation(&types.PlacementPolicyAllocation{Base: types.Base{UUID: "alloc-candidate"}, Node: n.UUID, Policy: "policy-1"}))

	pools := []*types.MachinePool{{Base: types.Base{UUID: "only-pool"}}}

	f := &AffinityFilter{store: store}
	out := f.Filter(n, pools)
	require.Len(t, out, 1, "soft constraint must not leave the node unplaceable")
}

func TestAffinityWeighterPenalizesConflictingPoolWithoutExcluding(t *testing.T) {
	store := newTestStore(t)
	peerNode := &types.Node{Base: types.Base{UUID: "peer"}}
	require.NoError(t, store.CreateNode(peerNode))
	require.NoError(t, store.CreateMachine(&types.Machine{Base: types.Base{UUID: "peer-m"}, Node: peerNode.UUID, Pool: "pool-conflict"}))

	n := &types.Node{Base: types.Base{UUID: "candidate"}}
	require.NoError(t, store.CreateNode(n))
	require.NoError(t, store.CreatePlacementAllocation(&types.PlacementPolicyAllocation{Base: types.Base{UUID: "alloc-peer"}, Node: peerNode.UUID, Policy: "policy-1"}))
	require.NoError(t, store.CreatePlacementAllocation(&types.PlacementPolicyAllocation{Base: types.Base{UUID: "alloc-candidate"}, Node: n.UUID, Policy: "policy-1"}))

	pools := []*types.MachinePool{
		{Base: types.Base{UUID: "pool-conflict"}},
		{Base: types.Base{UUID: "pool-clear"}},
	}

	w := &AffinityWeighter{store: store}
	weights := w.Weight(n, pools)
	require.Len(t, weights, 2)
	assert.Less(t, weights[0], weights[1])
}

func TestPoolHasStorageForAndDebit(t *testing.T) {
	p := &types.MachinePool{StoragePools: []types.StoragePool{
		{Name: "cow-1", PoolType: types.StoragePoolTypeCOW, CapacityUsable: 100, AvailableActual: 10},
	}}
	assert.True(t, poolHasStorageFor(p, 50)) // 10 actual * 10x ratio = 100 GiB usable headroom
	assert.False(t, poolHasStorageFor(p, 1000))

	require.NoError(t, debitStorage(p, 50))
	assert.InDelta(t, 5.0, p.StoragePools[0].AvailableActual, 0.0001)
}
