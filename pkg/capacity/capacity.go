package capacity

import (
	"github.com/google/uuid"

	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

// Available returns a pool's cores/RAM still free for a new reservation:
// its own advertised avail_cores/avail_ram minus whatever open
// reservations already claim, since a reservation outlives the scheduler's
// one-time debit and survives until the machine it covers finishes
// building.
func Available(pool *types.MachinePool, reservations []*types.MachinePoolReservation) (cores, ram int) {
	cores, ram = pool.AvailCores, pool.AvailRAM
	for _, r := range reservations {
		cores -= r.Cores
		ram -= r.RAM
	}
	return cores, ram
}

// Acquire attempts to reserve cores/RAM for machineUUID against pool,
// recording the reservation under builder if it fits. Acquisition is
// best-effort per machine (§4.7): a machine that doesn't fit reports
// false without error, leaving the caller to decide whether to
// reschedule it.
func Acquire(store storage.Store, pool *types.MachinePool, machineUUID string, cores, ram int, builder string) (bool, error) {
	reservations, err := store.ListReservationsByPool(pool.UUID)
	if err != nil {
		return false, err
	}
	availCores, availRAM := Available(pool, reservations)
	if cores > availCores || ram > availRAM {
		return false, nil
	}

	return true, store.CreateReservation(&types.MachinePoolReservation{
		Base:    types.Base{UUID: uuid.New().String()},
		Pool:    pool.UUID,
		Machine: machineUUID,
		Cores:   cores,
		RAM:     ram,
		Builder: builder,
	})
}

// Release deletes every reservation held for machineUUID: its build
// finished (the driver's own capacity reporting now reflects it) or it
// was rescheduled elsewhere.
func Release(store storage.Store, machineUUID string) error {
	reservations, err := store.ListReservationsByMachine(machineUUID)
	if err != nil {
		return err
	}
	for _, r := range reservations {
		if err := store.DeleteReservation(r.UUID); err != nil {
			return err
		}
	}
	return nil
}
