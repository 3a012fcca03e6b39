package types

import "time"

// Base is embedded by every persisted entity.
type Base struct {
	UUID      string    `json:"uuid"`
	ProjectID string    `json:"project_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NodeType distinguishes a virtual machine from a pre-racked physical host.
type NodeType string

const (
	NodeTypeVM NodeType = "VM"
	NodeTypeHW NodeType = "HW"
)

// NodeStatus is the user-visible lifecycle of a Node.
type NodeStatus string

const (
	NodeStatusNew        NodeStatus = "NEW"
	NodeStatusScheduled  NodeStatus = "SCHEDULED"
	NodeStatusInProgress NodeStatus = "IN_PROGRESS"
	NodeStatusActive     NodeStatus = "ACTIVE"
	NodeStatusError      NodeStatus = "ERROR"
)

// DiskSpecVolume is one entry of a Node's structured disk_spec list.
type DiskSpecVolume struct {
	Index      int    `json:"index"`
	Size       int    `json:"size"` // GiB
	Image      string `json:"image,omitempty"`
	Boot       bool   `json:"boot"`
	Label      string `json:"label,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
}

// IndexUnknown is the sentinel index for a volume not yet placed.
const IndexUnknown = 4096

// PortSummary is the minimal port projection a Node exposes as
// default_network once a port is attached and active.
type PortSummary struct {
	UUID   string `json:"uuid"`
	MAC    string `json:"mac,omitempty"`
	IPv4   string `json:"ipv4,omitempty"`
	Mask   string `json:"mask,omitempty"`
	Status string `json:"status,omitempty"`
}

// Node is the user-facing compute unit.
type Node struct {
	Base
	Cores             int              `json:"cores"`
	RAM               int              `json:"ram"` // MiB
	Image             string           `json:"image"`
	NodeType          NodeType         `json:"node_type"`
	RootDiskSize      int              `json:"root_disk_size"`
	PlacementPolicies []string         `json:"placement_policies"`
	DiskSpec          []DiskSpecVolume `json:"disk_spec"`
	Status            NodeStatus       `json:"status"`
	StatusReason      string           `json:"status_reason,omitempty"`
	DefaultNetwork    *PortSummary     `json:"default_network,omitempty"`
	NodeSet           string           `json:"node_set,omitempty"`
	Name              string           `json:"name,omitempty"`
	Description       string           `json:"description,omitempty"`
}

// RootVolume returns the disk_spec entry with index 0, if present.
func (n *Node) RootVolume() *DiskSpecVolume {
	for i := range n.DiskSpec {
		if n.DiskSpec[i].Index == 0 {
			return &n.DiskSpec[i]
		}
	}
	return nil
}

// Boot is the boot-device alternative a Machine/GuestMachine is set to.
type Boot string

const (
	BootNetwork Boot = "network"
	BootCDROM   Boot = "cdrom"
	BootHD0     Boot = "hd0"
	BootHD1     Boot = "hd1"
	BootHD2     Boot = "hd2"
	BootHD3     Boot = "hd3"
	BootHD4     Boot = "hd4"
	BootHD5     Boot = "hd5"
	BootHD6     Boot = "hd6"
	BootHD7     Boot = "hd7"
)

// BootType collapses hd0..hd7 to the literal "hd".
func (b Boot) BootType() string {
	if len(b) >= 2 && b[:2] == "hd" {
		return "hd"
	}
	return string(b)
}

// HDDriveIndex returns the drive number N of a hdN boot alternative, and
// whether b was in fact an hdN alternative.
func (b Boot) HDDriveIndex() (int, bool) {
	if b.BootType() != "hd" {
		return 0, false
	}
	return int(b[2] - '0'), true
}

// MachineStatus is the control-plane lifecycle of a Machine.
type MachineStatus string

const (
	MachineStatusNew            MachineStatus = "NEW"
	MachineStatusScheduled      MachineStatus = "SCHEDULED"
	MachineStatusInProgress     MachineStatus = "IN_PROGRESS"
	MachineStatusActive         MachineStatus = "ACTIVE"
	MachineStatusNeedReschedule MachineStatus = "NEED_RESCHEDULE"
	MachineStatusError          MachineStatus = "ERROR"
)

// BuildStatus tracks whether a derivative resource has converged.
type BuildStatus string

const (
	BuildStatusInBuild BuildStatus = "IN_BUILD"
	BuildStatusReady   BuildStatus = "READY"
)

// Machine is the control-plane twin of a hypervisor guest.
type Machine struct {
	Base
	Cores        int           `json:"cores"`
	RAM          int           `json:"ram"`
	MachineType  NodeType      `json:"machine_type"`
	Status       MachineStatus `json:"status"`
	StatusReason string        `json:"status_reason,omitempty"`
	Pool         string        `json:"pool,omitempty"`
	Node         string        `json:"node,omitempty"`
	Boot         Boot          `json:"boot"`
	Image        string        `json:"image"`
	FirmwareUUID string        `json:"firmware_uuid,omitempty"`
	Builder      string        `json:"builder,omitempty"`
	BuildStatus  BuildStatus   `json:"build_status"`
	Name         string        `json:"name,omitempty"`
	Description  string        `json:"description,omitempty"`
}

// Port is a single network attachment, following the flat single-port
// network contract (§4.2): one Port per Machine, derived from port_info.
type Port struct {
	Base
	Machine string `json:"machine,omitempty"`
	MAC     string `json:"mac"`
	IPv4    string `json:"ipv4,omitempty"`
	Mask    string `json:"mask,omitempty"`
	Subnet  string `json:"subnet,omitempty"`
	Status  string `json:"status"` // "ACTIVE" once the data plane confirms it
}

// Volume is user intent attached to a Node.
type Volume struct {
	Base
	Node       string `json:"node,omitempty"`
	Size       int    `json:"size"` // GiB
	Image      string `json:"image,omitempty"`
	Boot       bool   `json:"boot"`
	Label      string `json:"label,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Index      int    `json:"index"`
	Status     string `json:"status"`
}

// MachineVolume is the pool-bound materialisation of a Volume.
type MachineVolume struct {
	Base
	Size       int    `json:"size"`
	Image      string `json:"image,omitempty"`
	Boot       bool   `json:"boot"`
	Label      string `json:"label,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Index      int    `json:"index"`
	Machine    string `json:"machine,omitempty"`
	Pool       string `json:"pool"`
	NodeVolume string `json:"node_volume,omitempty"`
	Status     string `json:"status"`
}

// PoolStatus is the admin-facing state of a MachinePool.
type PoolStatus string

const (
	PoolStatusActive      PoolStatus = "ACTIVE"
	PoolStatusDisabled    PoolStatus = "DISABLED"
	PoolStatusMaintenance PoolStatus = "MAINTENANCE"
)

// StoragePoolType drives the oversubscription ratio an aggregator derives
// for a thin storage pool (§4.1, §4.7).
type StoragePoolType string

const (
	StoragePoolTypeCOW  StoragePoolType = "cow"  // copy-on-write, e.g. qcow2 on a thin LV
	StoragePoolTypeFlat StoragePoolType = "flat" // flat directory pool
)

// StoragePoolRatio is the oversubscription multiplier applied at
// aggregation time, keyed by pool type (§4.1).
var StoragePoolRatio = map[StoragePoolType]float64{
	StoragePoolTypeCOW:  10.0,
	StoragePoolTypeFlat: 4.0,
}

// StoragePool is one thin storage pool reported by a driver.
type StoragePool struct {
	Name            string          `json:"name"`
	PoolType        StoragePoolType `json:"pool_type"`
	CapacityUsable  float64         `json:"capacity_usable"`  // GiB, reported total
	AvailableActual float64         `json:"available_actual"` // GiB, free
}

// Ratio returns the oversubscription multiplier for this pool's type,
// defaulting to 1.0 (no oversubscription) for an unknown type.
func (s *StoragePool) Ratio() float64 {
	if r, ok := StoragePoolRatio[s.PoolType]; ok {
		return r
	}
	return 1.0
}

// HasCapacity reports whether delta GiB can be carved out of the pool.
func (s *StoragePool) HasCapacity(delta float64) bool {
	return s.AvailableActual >= delta/s.Ratio()
}

// Allocate debits delta GiB from the pool, scaled by its ratio.
func (s *StoragePool) Allocate(delta float64) {
	s.AvailableActual -= delta / s.Ratio()
}

// MachinePool is one hypervisor, or pool of hypervisors, the scheduler can
// place machines on.
type MachinePool struct {
	Base
	DriverSpec   map[string]any `json:"driver_spec"`
	MachineType  NodeType       `json:"machine_type"`
	AllCores     int            `json:"all_cores"`
	AllRAM       int            `json:"all_ram"`
	AvailCores   int            `json:"avail_cores"`
	AvailRAM     int            `json:"avail_ram"`
	CoresRatio   float64        `json:"cores_ratio"`
	RAMRatio     float64        `json:"ram_ratio"`
	Status       PoolStatus     `json:"status"`
	Agent        string         `json:"agent,omitempty"`
	Builder      string         `json:"builder,omitempty"`
	StoragePools []StoragePool  `json:"storage_pools"`
	Name         string         `json:"name,omitempty"`
}

// Driver returns the required discriminator field of driver_spec.
func (p *MachinePool) Driver() string {
	if p.DriverSpec == nil {
		return ""
	}
	if d, ok := p.DriverSpec["driver"].(string); ok {
		return d
	}
	return ""
}

// NodeSetStatus mirrors NodeStatus for the replica-set aggregate.
type NodeSetStatus = NodeStatus

// NodeSetMember is the observed state of one replica the node-set exposes
// to the user (nodes map in spec.md §3).
type NodeSetMember struct {
	IPv4 string `json:"ipv4,omitempty"`
}

// NodeSet is the declarative replica set wrapping Node intent.
type NodeSet struct {
	Base
	Replicas int                      `json:"replicas"`
	Cores    int                      `json:"cores"`
	RAM      int                      `json:"ram"`
	Image    string                   `json:"image"`
	DiskSpec []DiskSpecVolume         `json:"disk_spec"`
	NodeType NodeType                 `json:"node_type"`
	Status   NodeSetStatus            `json:"status"`
	Nodes    map[string]NodeSetMember `json:"nodes"`
	Name     string                   `json:"name,omitempty"`
}

// PlacementPolicy binds a set of nodes under a soft-anti-affinity rule.
type PlacementPolicy struct {
	Base
	Name string `json:"name,omitempty"`
}

// PlacementPolicyAllocation binds one Node to one PlacementPolicy.
type PlacementPolicyAllocation struct {
	Base
	Node   string `json:"node"`
	Policy string `json:"policy"`
}

// MachinePoolReservation is a pending capacity debit a builder holds on
// behalf of a machine that is still being built.
type MachinePoolReservation struct {
	Base
	Pool    string `json:"pool"`
	Machine string `json:"machine"`
	Cores   int    `json:"cores"`
	RAM     int    `json:"ram"`
	Builder string `json:"builder"`
}

// ResourceKind enumerates the target/actual-resource kinds the
// reconciliation framework tracks.
type ResourceKind string

const (
	KindPool          ResourceKind = "pool"
	KindPoolVolume    ResourceKind = "pool_volume"
	KindPoolMachine   ResourceKind = "pool_machine"
	KindGuestMachine  ResourceKind = "guest_machine"
	KindNode          ResourceKind = "node"
	KindVolume        ResourceKind = "volume"
	KindNodeSet       ResourceKind = "node_set"
	KindMachine       ResourceKind = "machine"
	KindMachineVolume ResourceKind = "machine_volume"
	KindLBFrontend    ResourceKind = "lb_frontend"
	KindLoadBalancer  ResourceKind = "load_balancer"
)

// TargetResource is the uniform wrapper the reconciliation framework uses
// to track desired state for one instance or derivative.
type TargetResource struct {
	UUID      string         `json:"uuid"`
	Kind      ResourceKind   `json:"kind"`
	AgentUUID string         `json:"agent_uuid"`
	Payload   map[string]any `json:"payload"`
	Hash      string         `json:"hash"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ActualResource is the observed counterpart of a TargetResource, written
// by the agent that owns AgentUUID.
type ActualResource struct {
	UUID      string         `json:"uuid"`
	Kind      ResourceKind   `json:"kind"`
	AgentUUID string         `json:"agent_uuid"`
	Payload   map[string]any `json:"payload"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// BuilderKind distinguishes builder processes the scheduler can assign
// pools to from other long-running services.
type BuilderKind string

const (
	BuilderKindPool BuilderKind = "pool"
)

// Builder is a registered pool-builder process. The rebalance point
// (§4.7) deletes every row, so a builder that does not register again is
// evicted.
type Builder struct {
	Base
	Kind          BuilderKind `json:"kind"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
}

// Agent is a registered pool agent (§4.2), or a placeholder guest agent
// (§4.4's "dummy agent" created on demand, keyed by a UUIDv5 derived from
// the machine UUID).
type Agent struct {
	Base
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// LoadBalancer is supplemental user intent (§1(c), SPEC_FULL) for a
// load-balanced node group: a VIP fronting a NodeSet's member ports.
type LoadBalancer struct {
	Base
	NodeSet  string `json:"node_set"`
	VIP      string `json:"vip,omitempty"`
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
	Status   string `json:"status"`
}
