package storage

import (
	"github.com/infraguys/genesis-compute/pkg/types"
)

// Store is the persistence contract every reconciliation service reads
// and writes through. One iteration holds one Store session's worth of
// calls; spec.md §5 requires that partial iterations never leak
// half-written state, so callers issue one logical batch of writes per
// tick and treat errors as "retry next iteration", not as a reason to
// keep going with a half-applied plan.
type Store interface {
	// Nodes
	CreateNode(n *types.Node) error
	GetNode(uuid string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	ListNodesByStatus(status types.NodeStatus) ([]*types.Node, error)
	ListNodesByNodeSet(nodeSet string) ([]*types.Node, error)
	UpdateNode(n *types.Node) error
	DeleteNode(uuid string) error

	// Machines
	CreateMachine(m *types.Machine) error
	GetMachine(uuid string) (*types.Machine, error)
	ListMachines() ([]*types.Machine, error)
	ListMachinesByPool(pool string) ([]*types.Machine, error)
	ListMachinesByNode(node string) ([]*types.Machine, error)
	ListIdleMachines(machineType types.NodeType) ([]*types.Machine, error)
	UpdateMachine(m *types.Machine) error
	DeleteMachine(uuid string) error

	// Ports
	CreatePort(p *types.Port) error
	GetPort(uuid string) (*types.Port, error)
	ListPortsByMachine(machine string) ([]*types.Port, error)
	UpdatePort(p *types.Port) error
	DeletePort(uuid string) error

	// Volumes (user intent)
	CreateVolume(v *types.Volume) error
	GetVolume(uuid string) (*types.Volume, error)
	ListVolumesByNode(node string) ([]*types.Volume, error)
	UpdateVolume(v *types.Volume) error
	DeleteVolume(uuid string) error

	// MachineVolumes (pool-bound materialisation)
	CreateMachineVolume(v *types.MachineVolume) error
	GetMachineVolume(uuid string) (*types.MachineVolume, error)
	ListMachineVolumes() ([]*types.MachineVolume, error)
	ListMachineVolumesByPool(pool string) ([]*types.MachineVolume, error)
	ListMachineVolumesByMachine(machine string) ([]*types.MachineVolume, error)
	UpdateMachineVolume(v *types.MachineVolume) error
	DeleteMachineVolume(uuid string) error

	// MachinePools
	CreateMachinePool(p *types.MachinePool) error
	GetMachinePool(uuid string) (*types.MachinePool, error)
	ListMachinePools() ([]*types.MachinePool, error)
	ListMachinePoolsByBuilder(builder string) ([]*types.MachinePool, error)
	UpdateMachinePool(p *types.MachinePool) error
	DeleteMachinePool(uuid string) error

	// NodeSets
	CreateNodeSet(s *types.NodeSet) error
	GetNodeSet(uuid string) (*types.NodeSet, error)
	ListNodeSets() ([]*types.NodeSet, error)
	UpdateNodeSet(s *types.NodeSet) error
	DeleteNodeSet(uuid string) error

	// LoadBalancers
	CreateLoadBalancer(lb *types.LoadBalancer) error
	GetLoadBalancer(uuid string) (*types.LoadBalancer, error)
	ListLoadBalancers() ([]*types.LoadBalancer, error)
	UpdateLoadBalancer(lb *types.LoadBalancer) error
	DeleteLoadBalancer(uuid string) error

	// Placement policies and allocations
	CreatePlacementPolicy(p *types.PlacementPolicy) error
	GetPlacementPolicy(uuid string) (*types.PlacementPolicy, error)
	ListPlacementPolicies() ([]*types.PlacementPolicy, error)
	DeletePlacementPolicy(uuid string) error

	CreatePlacementAllocation(a *types.PlacementPolicyAllocation) error
	ListPlacementAllocationsByNode(node string) ([]*types.PlacementPolicyAllocation, error)
	ListPlacementAllocationsByPolicy(policy string) ([]*types.PlacementPolicyAllocation, error)
	DeletePlacementAllocation(uuid string) error

	// Reservations
	CreateReservation(r *types.MachinePoolReservation) error
	ListReservationsByPool(pool string) ([]*types.MachinePoolReservation, error)
	ListReservationsByMachine(machine string) ([]*types.MachinePoolReservation, error)
	DeleteReservation(uuid string) error
	DeleteReservationsByBuilder(builder string) error

	// Builders and agents (§4.7 rebalance point, §4.2 registration)
	CreateBuilder(b *types.Builder) error
	ListBuilders() ([]*types.Builder, error)
	UpdateBuilder(b *types.Builder) error
	DeleteBuilder(uuid string) error
	DeleteAllBuilders() error

	CreateAgent(a *types.Agent) error
	GetAgent(uuid string) (*types.Agent, error)
	ListAgents() ([]*types.Agent, error)
	UpdateAgent(a *types.Agent) error
	DeleteAgent(uuid string) error

	// Target and actual resources (§4.3 reconciliation framework)
	PutTargetResource(r *types.TargetResource) error
	GetTargetResource(uuid string) (*types.TargetResource, error)
	ListTargetResourcesByKind(kind types.ResourceKind) ([]*types.TargetResource, error)
	DeleteTargetResource(uuid string) error

	PutActualResource(r *types.ActualResource) error
	GetActualResource(uuid string) (*types.ActualResource, error)
	ListActualResourcesByKind(kind types.ResourceKind) ([]*types.ActualResource, error)
	DeleteActualResource(uuid string) error

	Close() error
}
