// Package volume implements the volume builder (§4.5): it keeps a
// user-facing Volume aligned with the MachineVolume backing it, following
// the Node's bound Machine to find the match.
package volume
