package scheduler

import (
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

func newTestPool(t *testing.T, store storage.Store, uuid string, cores, ram int) *types.MachinePool {
	t.Helper()
	p := &types.MachinePool{
		Base:        types.Base{UUID: uuid},
		MachineType: types.NodeTypeVM,
		Status:      types.PoolStatusActive,
		AllCores:    cores,
		AllRAM:      ram,
		AvailCores:  cores,
		AvailRAM:    ram,
	}
	require.NoError(t, store.CreateMachinePool(p))
	return p
}

func TestScheduleVMNodePlacesOnLeastUsedPool(t *testing.T) {
	store := newTestStore(t)
	busy := newTestPool(t, store, "pool-busy", 16, 16384)
	busy.AvailCores, busy.AvailRAM = 1, 512
	require.NoError(t, store.UpdateMachinePool(busy))
	idlePool := newTestPool(t, store, "pool-idle", 16, 16384)

	n := &types.Node{Base: types.Base{UUID: "n-1"}, NodeType: types.NodeTypeVM, Cores: 2, RAM: 2048, Status: types.NodeStatusNew}
	require.NoError(t, store.CreateNode(n))

	s := NewScheduler(store)
	require.NoError(t, s.Schedule())

	got, err := store.GetNode(n.UUID)
	require.NoError(t, err)
	require.Equal(t, types.NodeStatusScheduled, got.Status)

	machines, err := store.ListMachinesByNode(n.UUID)
	require.NoError(t, err)
	require.Len(t, machines, 1)
	require.Equal(t, idlePool.UUID, machines[0].Pool)

	refreshed, err := store.GetMachinePool(idlePool.UUID)
	require.NoError(t, err)
	require.Equal(t, 14, refreshed.AvailCores)
}

func TestScheduleNodeNoCapacityErrors(t *testing.T) {
	store := newTestStore(t)
	pool := newTestPool(t, store, "pool-1", 2, 2048)
	pool.AvailCores, pool.AvailRAM = 0, 0
	require.NoError(t, store.UpdateMachinePool(pool))

	n := &types.Node{Base: types.Base{UUID: "n-1"}, NodeType: types.NodeTypeVM, Cores: 2, RAM: 2048, Status: types.NodeStatusNew}
	require.NoError(t, store.CreateNode(n))

	s := NewScheduler(store)
	require.NoError(t, s.Schedule())

	got, err := store.GetNode(n.UUID)
	require.NoError(t, err)
	require.Equal(t, types.NodeStatusError, got.Status)
}

func TestScheduleVMNodeReusesIdleMachine(t *testing.T) {
	store := newTestStore(t)
	idle := &types.Machine{Base: types.Base{UUID: "m-idle"}, MachineType: types.NodeTypeVM, Cores: 4, RAM: 4096, Status: types.MachineStatusActive}
	require.NoError(t, store.CreateMachine(idle))

	n := &types.Node{Base: types.Base{UUID: "n-1"}, NodeType: types.NodeTypeVM, Cores: 2, RAM: 2048, Status: types.NodeStatusNew}
	require.NoError(t, store.CreateNode(n))

	s := NewScheduler(store)
	require.NoError(t, s.Schedule())

	got, err := store.GetMachine(idle.UUID)
	require.NoError(t, err)
	require.Equal(t, n.UUID, got.Node)

	node, err := store.GetNode(n.UUID)
	require.NoError(t, err)
	require.Equal(t, types.NodeStatusScheduled, node.Status)
}

func TestScheduleHWNodeErrorsWithoutIdleHardware(t *testing.T) {
	store := newTestStore(t)
	n := &types.Node{Base: types.Base{UUID: "n-hw"}, NodeType: types.NodeTypeHW, Cores: 2, RAM: 2048, Status: types.NodeStatusNew}
	require.NoError(t, store.CreateNode(n))

	s := NewScheduler(store)
	require.NoError(t, s.Schedule())

	got, err := store.GetNode(n.UUID)
	require.NoError(t, err)
	require.Equal(t, types.NodeStatusError, got.Status)
}

func TestAdmitPoolsAssignsBuilderAndAgent(t *testing.T) {
	store := newTestStore(t)
	pool := newTestPool(t, store, "pool-1", 4, 4096)
	require.NoError(t, store.CreateBuilder(&types.Builder{Base: types.Base{UUID: "b-1"}, Kind: types.BuilderKindPool}))
	require.NoError(t, store.CreateAgent(&types.Agent{Base: types.Base{UUID: "a-1"}}))

	s := NewScheduler(store)
	require.NoError(t, s.Schedule())

	got, err := store.GetMachinePool(pool.UUID)
	require.NoError(t, err)
	require.Equal(t, "b-1", got.Builder)
	require.Equal(t, "a-1", got.Agent)
}
