package driver

import (
	"context"

	"github.com/infraguys/genesis-compute/pkg/types"
)

func init() {
	Register("dummy", newDummyDriver)
}

// DummyDriver does nothing: every mutating call succeeds without touching
// any data plane. Used by the "dummy" pool driver in tests and demo
// manifests where no real hypervisor is reachable.
type DummyDriver struct {
	pool *types.MachinePool
}

func newDummyDriver(pool *types.MachinePool) (Driver, error) {
	return &DummyDriver{pool: pool}, nil
}

func (d *DummyDriver) PoolInfo(ctx context.Context) (*types.MachinePool, error) {
	return &types.MachinePool{
		AllCores: d.pool.AllCores,
		AllRAM:   d.pool.AllRAM,
	}, nil
}

func (d *DummyDriver) ListPoolResources(ctx context.Context) ([]MachineWithPorts, []*types.MachineVolume, error) {
	return nil, nil, nil
}

func (d *DummyDriver) ListMachines(ctx context.Context) ([]MachineWithPorts, error) {
	return nil, nil
}

func (d *DummyDriver) GetMachine(ctx context.Context, uuid string) (*MachineWithPorts, error) {
	return &MachineWithPorts{Machine: &types.Machine{Base: types.Base{UUID: uuid}}}, nil
}

func (d *DummyDriver) CreateMachine(ctx context.Context, machine *types.Machine, volumes []*types.MachineVolume, ports []*types.Port) (*MachineWithPorts, error) {
	return &MachineWithPorts{Machine: machine, Ports: ports}, nil
}

func (d *DummyDriver) DeleteMachine(ctx context.Context, machine *types.Machine, deleteVolumes bool) error {
	return nil
}

func (d *DummyDriver) CreateVolume(ctx context.Context, volume *types.MachineVolume) error { return nil }
func (d *DummyDriver) DeleteVolume(ctx context.Context, volume *types.MachineVolume) error { return nil }
func (d *DummyDriver) ResizeVolume(ctx context.Context, volume *types.MachineVolume) error { return nil }
func (d *DummyDriver) AttachVolume(ctx context.Context, volume *types.MachineVolume) error { return nil }
func (d *DummyDriver) DetachVolume(ctx context.Context, volume *types.MachineVolume) error { return nil }

func (d *DummyDriver) ListVolumes(ctx context.Context, machine *types.Machine) ([]*types.MachineVolume, error) {
	return nil, nil
}

func (d *DummyDriver) GetVolume(ctx context.Context, uuid string) (*types.MachineVolume, error) {
	return &types.MachineVolume{Base: types.Base{UUID: uuid}}, nil
}

func (d *DummyDriver) AttachPort(ctx context.Context, machine *types.Machine, port *types.Port) error {
	return nil
}
func (d *DummyDriver) DetachPort(ctx context.Context, machine *types.Machine, port *types.Port) error {
	return nil
}

func (d *DummyDriver) SetMachineCores(ctx context.Context, machine *types.Machine, cores int) error {
	return nil
}
func (d *DummyDriver) SetMachineRAM(ctx context.Context, machine *types.Machine, ram int) error {
	return nil
}
func (d *DummyDriver) ResetMachine(ctx context.Context, machine *types.Machine) error { return nil }
func (d *DummyDriver) RecreateMachine(ctx context.Context, machine *types.Machine, ports []*types.Port) error {
	return nil
}
func (d *DummyDriver) RenameMachine(ctx context.Context, machine *types.Machine, name string) error {
	return nil
}
func (d *DummyDriver) ShutdownMachine(ctx context.Context, machine *types.Machine, force bool) error {
	return nil
}
func (d *DummyDriver) StartMachine(ctx context.Context, machine *types.Machine) error { return nil }

func (d *DummyDriver) ListStoragePools(ctx context.Context) ([]types.StoragePool, error) {
	return nil, nil
}

func (d *DummyDriver) Close() error { return nil }
