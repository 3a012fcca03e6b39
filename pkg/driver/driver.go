// Package driver defines the hypervisor driver contract the pool agent
// drives one pool at a time, plus the dummy driver used in tests and by
// pools whose driver_spec.driver is "dummy".
package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/infraguys/genesis-compute/pkg/types"
)

// Sentinel failures a driver returns for an operation that cannot make
// forward progress; everything else is reported as a plain wrapped error.
// A driver that finds the data plane already in the requested state
// returns nil, not one of these.
var (
	ErrAlreadyExists         = errors.New("resource already exists")
	ErrNotFound              = errors.New("resource not found")
	ErrVolumeAlreadyAttached = errors.New("volume already attached")
	ErrVolumeNotAttached     = errors.New("volume not attached")
	ErrRootVolumeMissing     = errors.New("root volume not found in create_machine volume set")
	ErrVolumeShrinkRefused   = errors.New("resize refused: target size is smaller than actual volume size")
)

// Driver is the contract a pool agent uses to actualize one MachinePool's
// machines, volumes and ports against a real or simulated hypervisor.
// Every mutating method is idempotent: finding the data plane already in
// the target state is success, not ErrAlreadyExists — that sentinel is
// for a genuine conflict (e.g. a name collision on a different object).
type Driver interface {
	// PoolInfo reports the pool's current capacity and storage pools, as
	// observed from the hypervisor connection itself (§4.1 aggregation).
	PoolInfo(ctx context.Context) (*types.MachinePool, error)

	// ListPoolResources returns every machine (with its ports) and every
	// volume the driver currently sees, for the pool agent's one-shot
	// dp_machine_map / dp_volume_map snapshot (§4.2).
	ListPoolResources(ctx context.Context) ([]MachineWithPorts, []*types.MachineVolume, error)

	ListMachines(ctx context.Context) ([]MachineWithPorts, error)
	GetMachine(ctx context.Context, uuid string) (*MachineWithPorts, error)

	// CreateMachine creates the guest and attaches every volume and port
	// given, including the root volume at index 0. The root volume is
	// attached by the driver at create time and never through AttachVolume.
	CreateMachine(ctx context.Context, machine *types.Machine, volumes []*types.MachineVolume, ports []*types.Port) (*MachineWithPorts, error)
	DeleteMachine(ctx context.Context, machine *types.Machine, deleteVolumes bool) error

	CreateVolume(ctx context.Context, volume *types.MachineVolume) error
	DeleteVolume(ctx context.Context, volume *types.MachineVolume) error
	ResizeVolume(ctx context.Context, volume *types.MachineVolume) error
	AttachVolume(ctx context.Context, volume *types.MachineVolume) error
	DetachVolume(ctx context.Context, volume *types.MachineVolume) error
	ListVolumes(ctx context.Context, machine *types.Machine) ([]*types.MachineVolume, error)
	GetVolume(ctx context.Context, uuid string) (*types.MachineVolume, error)

	AttachPort(ctx context.Context, machine *types.Machine, port *types.Port) error
	DetachPort(ctx context.Context, machine *types.Machine, port *types.Port) error

	SetMachineCores(ctx context.Context, machine *types.Machine, cores int) error
	SetMachineRAM(ctx context.Context, machine *types.Machine, ram int) error
	ResetMachine(ctx context.Context, machine *types.Machine) error
	RecreateMachine(ctx context.Context, machine *types.Machine, ports []*types.Port) error
	RenameMachine(ctx context.Context, machine *types.Machine, name string) error
	ShutdownMachine(ctx context.Context, machine *types.Machine, force bool) error
	StartMachine(ctx context.Context, machine *types.Machine) error

	ListStoragePools(ctx context.Context) ([]types.StoragePool, error)

	Close() error
}

// MachineWithPorts pairs a machine with its attached ports, mirroring the
// (Machine, tuple[Port, ...]) pairs the data plane reports as one unit.
type MachineWithPorts struct {
	Machine *types.Machine
	Ports   []*types.Port
}

// Factory builds a Driver from a pool's driver_spec. Registered factories
// are looked up by the driver_spec.driver discriminator.
type Factory func(pool *types.MachinePool) (Driver, error)

var registry = map[string]Factory{}

// Register adds a driver factory under name, overwriting any existing
// registration. Called from each driver package's init().
func Register(name string, f Factory) {
	registry[name] = f
}

// Open builds the Driver a pool's driver_spec names, returning an error
// if no factory was registered for it.
func Open(pool *types.MachinePool) (Driver, error) {
	name := pool.Driver()
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("no driver registered for %q", name)
	}
	return f(pool)
}
