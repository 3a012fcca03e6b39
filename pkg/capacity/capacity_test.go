package capacity

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

func TestAcquireReservesWhenCapacityFits(t *testing.T) {
	store := newTestStore(t)
	pool := &types.MachinePool{Base: types.Base{UUID: "pool-1"}, AvailCores: 8, AvailRAM: 8192}
	require.NoError(t, store.CreateMachinePool(pool))

	ok, err := Acquire(store, pool, "m-1", 4, 4096, "builder-1")
	require.NoError(t, err)
	require.True(t, ok)

	reservations, err := store.ListReservationsByPool(pool.UUID)
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	require.Equal(t, "m-1", reservations[0].Machine)
}

func TestAcquireFailsBestEffortWhenExistingReservationsExhaustCapacity(t *testing.T) {
	store := newTestStore(t)
	pool := &types.MachinePool{Base: types.Base{UUID: "pool-1"}, AvailCores: 4, AvailRAM: 4096}
	require.NoError(t, store.CreateMachinePool(pool))

	ok, err := Acquire(store, pool, "m-1", 4, 4096, "builder-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Acquire(store, pool, "m-2", 2, 2048, "builder-1")
	require.NoError(t, err)
	require.False(t, ok, "second machine should not fit once the first reservation claimed all capacity")
}

func TestReleaseRemovesReservationsForMachine(t *testing.T) {
	store := newTestStore(t)
	pool := &types.MachinePool{Base: types.Base{UUID: "pool-1"}, AvailCores: 8, AvailRAM: 8192}
	require.NoError(t, store.CreateMachinePool(pool))

	_, err := Acquire(store, pool, "m-1", 4, 4096, "builder-1")
	require.NoError(t, err)

	require.NoError(t, Release(store, "m-1"))

	reservations, err := store.ListReservationsByMachine("m-1")
	require.NoError(t, err)
	require.Empty(t, reservations)
}
