// Package pool implements the pool builder (§4.4): for each MachinePool it
// owns, it admits new machines and volumes, emits the pool_machine and
// guest_machine derivatives, drives the boot-mode state machine, and
// aggregates machine status from its derivatives.
package pool
