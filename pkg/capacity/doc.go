// Package capacity implements the reservation side of §4.7's capacity
// model: per-machine, best-effort acquisition of cores/RAM against a
// pool's advertised availability, recorded as MachinePoolReservation rows
// so a driver-side recount (or a dead builder's eviction at the
// rebalance point) can still account for machines mid-build.
package capacity
