// Package agent implements the pool agent (§4.2): the meta-plane process
// that owns one MachinePool's driver connection and reconciles its meta
// records (Machine, MachineVolume) against the driver's observed data
// plane every iteration.
package agent
