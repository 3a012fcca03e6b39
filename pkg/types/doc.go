// Package types defines the data model shared by every genesis-compute
// service: user intent (Node, Volume, NodeSet, LoadBalancer), its
// control-plane materialisation (Machine, MachineVolume, MachinePool), and
// the reconciliation framework's generic target/actual wrappers.
//
// All entities carry a Base (uuid, project, created_at, updated_at).
// Statuses are typed string enumerations; every state transition happens
// by writing the record back to a pkg/storage.Store, never in place.
package types
