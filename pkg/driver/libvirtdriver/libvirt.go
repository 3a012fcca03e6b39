// Package libvirtdriver implements pkg/driver.Driver against a real
// libvirtd connection using github.com/digitalocean/go-libvirt.
package libvirtdriver

import (
	"context"
	"fmt"
	"net"

	golibvirt "github.com/digitalocean/go-libvirt"

	"github.com/infraguys/genesis-compute/pkg/driver"
	"github.com/infraguys/genesis-compute/pkg/log"
	"github.com/infraguys/genesis-compute/pkg/types"
)

func init() {
	driver.Register("libvirt", New)
}

// Spec is the driver_spec payload a MachinePool carries for driver "libvirt".
type Spec struct {
	URI      string `json:"uri"`      // e.g. "qemu:///system"; recorded only, New dials Socket
	Socket   string `json:"socket"`   // unix socket path, defaults to /var/run/libvirt/libvirt-sock
	Pool     string `json:"pool"`     // storage pool name
	PoolPath string `json:"pool_path"` // filesystem path backing Pool, for volume XML
	Network  string `json:"network"`  // libvirt network name ports attach to
}

// Driver drives one libvirt connection on behalf of one MachinePool.
type Driver struct {
	conn net.Conn
	lv   *golibvirt.Libvirt
	spec Spec
	log  log.Level
}

// New dials the libvirtd socket named in pool.DriverSpec and returns a
// ready Driver. The connection is kept open for the agent process
// lifetime; Close tears it down.
func New(pool *types.MachinePool) (driver.Driver, error) {
	spec, err := parseSpec(pool)
	if err != nil {
		return nil, err
	}

	socket := spec.Socket
	if socket == "" {
		socket = "/var/run/libvirt/libvirt-sock"
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial libvirt socket %s: %w", socket, err)
	}

	lv := golibvirt.New(conn)
	if err := lv.Connect(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("libvirt connect: %w", err)
	}

	return &Driver{conn: conn, lv: lv, spec: spec}, nil
}

func parseSpec(pool *types.MachinePool) (Spec, error) {
	var spec Spec
	raw, ok := pool.DriverSpec["uri"]
	if ok {
		if s, ok := raw.(string); ok {
			spec.URI = s
		}
	}
	if s, ok := pool.DriverSpec["socket"].(string); ok {
		spec.Socket = s
	}
	if s, ok := pool.DriverSpec["pool"].(string); ok {
		spec.Pool = s
	}
	if s, ok := pool.DriverSpec["pool_path"].(string); ok {
		spec.PoolPath = s
	}
	if s, ok := pool.DriverSpec["network"].(string); ok {
		spec.Network = s
	}
	return spec, nil
}

func (d *Driver) Close() error {
	if d.lv != nil {
		d.lv.Disconnect()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// PoolInfo reports cores/RAM from NodeGetInfo and storage capacity from
// the named storage pool.
func (d *Driver) PoolInfo(ctx context.Context) (*types.MachinePool, error) {
	_, memKiB, cpus, _, _, _, _, _, err := d.lv.NodeGetInfo()
	if err != nil {
		return nil, fmt.Errorf("node get info: %w", err)
	}

	pools, err := d.ListStoragePools(ctx)
	if err != nil {
		return nil, err
	}

	return &types.MachinePool{
		AllCores:     int(cpus),
		AllRAM:       int(memKiB / 1024),
		StoragePools: pools,
	}, nil
}

func (d *Driver) ListStoragePools(ctx context.Context) ([]types.StoragePool, error) {
	pools, _, err := d.lv.ConnectListAllStoragePools(1, 0)
	if err != nil {
		return nil, fmt.Errorf("list storage pools: %w", err)
	}

	out := make([]types.StoragePool, 0, len(pools))
	for _, p := range pools {
		_, capacity, _, available, err := d.lv.StoragePoolGetInfo(p)
		if err != nil {
			continue
		}
		out = append(out, types.StoragePool{
			Name:            p.Name,
			PoolType:        types.StoragePoolTypeCOW,
			CapacityUsable:  float64(capacity) / (1 << 30),
			AvailableActual: float64(available) / (1 << 30),
		})
	}
	return out, nil
}

func (d *Driver) ListPoolResources(ctx context.Context) ([]driver.MachineWithPorts, []*types.MachineVolume, error) {
	machines, err := d.ListMachines(ctx)
	if err != nil {
		return nil, nil, err
	}
	vols, err := d.ListVolumes(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	return machines, vols, nil
}

func (d *Driver) ListMachines(ctx context.Context) ([]driver.MachineWithPorts, error) {
	domains, _, err := d.lv.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}

	out := make([]driver.MachineWithPorts, 0, len(domains))
	for _, dom := range domains {
		m, err := domainToMachine(d.lv, dom)
		if err != nil {
			continue
		}
		out = append(out, driver.MachineWithPorts{Machine: m})
	}
	return out, nil
}

func (d *Driver) GetMachine(ctx context.Context, uuid string) (*driver.MachineWithPorts, error) {
	dom, err := d.lv.DomainLookupByUUID(parseUUID(uuid))
	if err != nil {
		return nil, driver.ErrNotFound
	}
	m, err := domainToMachine(d.lv, dom)
	if err != nil {
		return nil, err
	}
	return &driver.MachineWithPorts{Machine: m}, nil
}

func (d *Driver) CreateMachine(ctx context.Context, machine *types.Machine, volumes []*types.MachineVolume, ports []*types.Port) (*driver.MachineWithPorts, error) {
	if _, err := d.lv.DomainLookupByUUID(parseUUID(machine.UUID)); err == nil {
		existing, err := d.GetMachine(ctx, machine.UUID)
		if err != nil {
			return nil, err
		}
		return existing, nil
	}

	var root *types.MachineVolume
	for _, v := range volumes {
		if v.Index == 0 {
			root = v
			break
		}
	}
	if root == nil {
		return nil, driver.ErrRootVolumeMissing
	}

	if err := d.createVolumeDisk(root); err != nil {
		return nil, err
	}

	xml, err := domainXML(machine)
	if err != nil {
		return nil, err
	}

	dom, err := d.lv.DomainDefineXML(xml)
	if err != nil {
		return nil, fmt.Errorf("define domain: %w", err)
	}

	for _, v := range volumes {
		diskXML, err := diskXML(v, d.spec.PoolPath)
		if err != nil {
			return nil, err
		}
		if err := d.lv.DomainAttachDevice(dom, diskXML); err != nil {
			return nil, fmt.Errorf("attach disk %s: %w", v.UUID, err)
		}
	}
	for _, p := range ports {
		ifXML, err := ifaceXML(p, d.spec.Network)
		if err != nil {
			return nil, err
		}
		if err := d.lv.DomainAttachDevice(dom, ifXML); err != nil {
			return nil, fmt.Errorf("attach port %s: %w", p.UUID, err)
		}
	}

	if err := d.lv.DomainCreate(dom); err != nil {
		return nil, fmt.Errorf("start domain: %w", err)
	}

	return &driver.MachineWithPorts{Machine: machine, Ports: ports}, nil
}

func (d *Driver) createVolumeDisk(volume *types.MachineVolume) error {
	pool, err := d.lv.StoragePoolLookupByName(d.spec.Pool)
	if err != nil {
		return fmt.Errorf("lookup storage pool %s: %w", d.spec.Pool, err)
	}
	xml, err := volumeXML(volume)
	if err != nil {
		return err
	}
	_, err = d.lv.StorageVolCreateXML(pool, xml, 0)
	if err != nil {
		return fmt.Errorf("create volume %s: %w", volume.UUID, err)
	}
	return nil
}

func (d *Driver) DeleteMachine(ctx context.Context, machine *types.Machine, deleteVolumes bool) error {
	dom, err := d.lv.DomainLookupByUUID(parseUUID(machine.UUID))
	if err != nil {
		return nil // already gone: idempotent success
	}
	d.lv.DomainDestroy(dom)
	if err := d.lv.DomainUndefine(dom); err != nil {
		return fmt.Errorf("undefine domain %s: %w", machine.UUID, err)
	}
	return nil
}

func (d *Driver) CreateVolume(ctx context.Context, volume *types.MachineVolume) error {
	return d.createVolumeDisk(volume)
}

func (d *Driver) DeleteVolume(ctx context.Context, volume *types.MachineVolume) error {
	pool, err := d.lv.StoragePoolLookupByName(d.spec.Pool)
	if err != nil {
		return fmt.Errorf("lookup storage pool %s: %w", d.spec.Pool, err)
	}
	vol, err := d.lv.StorageVolLookupByName(pool, volume.UUID)
	if err != nil {
		return nil
	}
	return d.lv.StorageVolDelete(vol, 0)
}

func (d *Driver) ResizeVolume(ctx context.Context, volume *types.MachineVolume) error {
	pool, err := d.lv.StoragePoolLookupByName(d.spec.Pool)
	if err != nil {
		return fmt.Errorf("lookup storage pool %s: %w", d.spec.Pool, err)
	}
	vol, err := d.lv.StorageVolLookupByName(pool, volume.UUID)
	if err != nil {
		return driver.ErrNotFound
	}

	_, actualCapacity, _, err := d.lv.StorageVolGetInfo(vol)
	if err != nil {
		return fmt.Errorf("get info for volume %s: %w", volume.UUID, err)
	}
	targetCapacity := uint64(volume.Size) << 30
	if targetCapacity < actualCapacity {
		return driver.ErrVolumeShrinkRefused
	}

	return d.lv.StorageVolResize(vol, targetCapacity, 0)
}

func (d *Driver) AttachVolume(ctx context.Context, volume *types.MachineVolume) error {
	dom, err := d.lv.DomainLookupByUUID(parseUUID(volume.Machine))
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", volume.Machine, err)
	}
	xml, err := diskXML(volume, d.spec.PoolPath)
	if err != nil {
		return err
	}
	return d.lv.DomainAttachDevice(dom, xml)
}

func (d *Driver) DetachVolume(ctx context.Context, volume *types.MachineVolume) error {
	dom, err := d.lv.DomainLookupByUUID(parseUUID(volume.Machine))
	if err != nil {
		return nil
	}
	xml, err := diskXML(volume, d.spec.PoolPath)
	if err != nil {
		return err
	}
	return d.lv.DomainDetachDevice(dom, xml)
}

func (d *Driver) ListVolumes(ctx context.Context, machine *types.Machine) ([]*types.MachineVolume, error) {
	pool, err := d.lv.StoragePoolLookupByName(d.spec.Pool)
	if err != nil {
		return nil, fmt.Errorf("lookup storage pool %s: %w", d.spec.Pool, err)
	}
	vols, _, err := d.lv.StoragePoolListAllVolumes(pool, -1, 0)
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}
	out := make([]*types.MachineVolume, 0, len(vols))
	for _, v := range vols {
		out = append(out, &types.MachineVolume{Base: types.Base{UUID: v.Name}})
	}
	return out, nil
}

func (d *Driver) GetVolume(ctx context.Context, uuid string) (*types.MachineVolume, error) {
	return &types.MachineVolume{Base: types.Base{UUID: uuid}}, nil
}

func (d *Driver) AttachPort(ctx context.Context, machine *types.Machine, port *types.Port) error {
	dom, err := d.lv.DomainLookupByUUID(parseUUID(machine.UUID))
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", machine.UUID, err)
	}
	xml, err := ifaceXML(port, d.spec.Network)
	if err != nil {
		return err
	}
	return d.lv.DomainAttachDevice(dom, xml)
}

func (d *Driver) DetachPort(ctx context.Context, machine *types.Machine, port *types.Port) error {
	dom, err := d.lv.DomainLookupByUUID(parseUUID(machine.UUID))
	if err != nil {
		return nil
	}
	xml, err := ifaceXML(port, d.spec.Network)
	if err != nil {
		return err
	}
	return d.lv.DomainDetachDevice(dom, xml)
}

func (d *Driver) SetMachineCores(ctx context.Context, machine *types.Machine, cores int) error {
	dom, err := d.lv.DomainLookupByUUID(parseUUID(machine.UUID))
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", machine.UUID, err)
	}
	return d.lv.DomainSetVcpusFlags(dom, uint32(cores), golibvirt.DomainVCPUConfig|golibvirt.DomainVCPULive)
}

func (d *Driver) SetMachineRAM(ctx context.Context, machine *types.Machine, ram int) error {
	dom, err := d.lv.DomainLookupByUUID(parseUUID(machine.UUID))
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", machine.UUID, err)
	}
	return d.lv.DomainSetMemoryFlags(dom, uint64(ram)*1024, golibvirt.DomainMemConfig|golibvirt.DomainMemLive)
}

func (d *Driver) ResetMachine(ctx context.Context, machine *types.Machine) error {
	dom, err := d.lv.DomainLookupByUUID(parseUUID(machine.UUID))
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", machine.UUID, err)
	}
	return d.lv.DomainReset(dom, 0)
}

func (d *Driver) RecreateMachine(ctx context.Context, machine *types.Machine, ports []*types.Port) error {
	if err := d.DeleteMachine(ctx, machine, false); err != nil {
		return err
	}
	_, err := d.CreateMachine(ctx, machine, nil, ports)
	return err
}

func (d *Driver) RenameMachine(ctx context.Context, machine *types.Machine, name string) error {
	dom, err := d.lv.DomainLookupByUUID(parseUUID(machine.UUID))
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", machine.UUID, err)
	}
	return d.lv.DomainRename(dom, name, 0)
}

func (d *Driver) ShutdownMachine(ctx context.Context, machine *types.Machine, force bool) error {
	dom, err := d.lv.DomainLookupByUUID(parseUUID(machine.UUID))
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", machine.UUID, err)
	}
	if force {
		return d.lv.DomainDestroy(dom)
	}
	return d.lv.DomainShutdown(dom)
}

func (d *Driver) StartMachine(ctx context.Context, machine *types.Machine) error {
	dom, err := d.lv.DomainLookupByUUID(parseUUID(machine.UUID))
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", machine.UUID, err)
	}
	return d.lv.DomainCreate(dom)
}

func domainToMachine(lv *golibvirt.Libvirt, dom golibvirt.Domain) (*types.Machine, error) {
	state, maxMem, _, cpus, _, err := lv.DomainGetInfo(dom)
	if err != nil {
		return nil, err
	}

	status := types.MachineStatusActive
	if golibvirt.DomainState(state) != golibvirt.DomainRunning {
		status = types.MachineStatusInProgress
	}

	return &types.Machine{
		Base:   types.Base{UUID: formatUUID(dom.UUID)},
		Cores:  int(cpus),
		RAM:    int(maxMem / 1024),
		Status: status,
		Name:   dom.Name,
	}, nil
}

func parseUUID(s string) golibvirt.UUID {
	var out golibvirt.UUID
	u := []byte(s)
	n := copy(out[:], u)
	_ = n
	return out
}

func formatUUID(u golibvirt.UUID) string {
	return string(u[:])
}
