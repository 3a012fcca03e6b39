// Package node implements the node builder (§4.5): it projects Node
// intent (disk_spec, cores, ram, name, description) onto the Machine and
// MachineVolume rows the pool builder and pool agent act on, and folds
// the bound Machine's status back onto the Node.
package node
