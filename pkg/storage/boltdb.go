package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/infraguys/genesis-compute/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes        = []byte("nodes")
	bucketMachines     = []byte("machines")
	bucketPorts        = []byte("ports")
	bucketVolumes      = []byte("volumes")
	bucketMachineVols  = []byte("machine_volumes")
	bucketPools        = []byte("machine_pools")
	bucketNodeSets     = []byte("node_sets")
	bucketLBs          = []byte("load_balancers")
	bucketPolicies     = []byte("placement_policies")
	bucketAllocations  = []byte("placement_policy_allocations")
	bucketReservations = []byte("machine_pool_reservations")
	bucketBuilders     = []byte("builders")
	bucketAgents       = []byte("agents")
	bucketTargets      = []byte("target_resources")
	bucketActuals      = []byte("actual_resources")
)

var allBuckets = [][]byte{
	bucketNodes, bucketMachines, bucketPorts, bucketVolumes, bucketMachineVols,
	bucketPools, bucketNodeSets, bucketLBs, bucketPolicies, bucketAllocations,
	bucketReservations, bucketBuilders, bucketAgents, bucketTargets, bucketActuals,
}

// BoltStore implements Store on top of a single BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the control-plane database
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "genesis-compute.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// put upserts v under key in bucket.
func put(db *bolt.DB, bucket []byte, key string, v any) error {
	return db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

// get loads the value stored under key in bucket into out.
func get[T any](db *bolt.DB, bucket []byte, key string) (*T, error) {
	var out T
	err := db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("not found: %s/%s", bucket, key)
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// list decodes every value in bucket.
func list[T any](db *bolt.DB, bucket []byte) ([]*T, error) {
	var out []*T
	err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			out = append(out, &item)
			return nil
		})
	})
	return out, err
}

// listFiltered decodes every value in bucket matching pred.
func listFiltered[T any](db *bolt.DB, bucket []byte, pred func(*T) bool) ([]*T, error) {
	all, err := list[T](db, bucket)
	if err != nil {
		return nil, err
	}
	var out []*T
	for _, item := range all {
		if pred(item) {
			out = append(out, item)
		}
	}
	return out, nil
}

func del(db *bolt.DB, bucket []byte, key string) error {
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func clear(db *bolt.DB, bucket []byte) error {
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.ForEach(func(k, _ []byte) error {
			return b.Delete(k)
		})
	})
}

// --- Nodes ---

func (s *BoltStore) CreateNode(n *types.Node) error { return put(s.db, bucketNodes, n.UUID, n) }
func (s *BoltStore) GetNode(uuid string) (*types.Node, error) {
	return get[types.Node](s.db, bucketNodes, uuid)
}
func (s *BoltStore) ListNodes() ([]*types.Node, error) { return list[types.Node](s.db, bucketNodes) }
func (s *BoltStore) ListNodesByStatus(status types.NodeStatus) ([]*types.Node, error) {
	return listFiltered(s.db, bucketNodes, func(n *types.Node) bool { return n.Status == status })
}
func (s *BoltStore) ListNodesByNodeSet(nodeSet string) ([]*types.Node, error) {
	return listFiltered(s.db, bucketNodes, func(n *types.Node) bool { return n.NodeSet == nodeSet })
}
func (s *BoltStore) UpdateNode(n *types.Node) error { return put(s.db, bucketNodes, n.UUID, n) }
func (s *BoltStore) DeleteNode(uuid string) error   { return del(s.db, bucketNodes, uuid) }

// --- Machines ---

func (s *BoltStore) CreateMachine(m *types.Machine) error {
	return put(s.db, bucketMachines, m.UUID, m)
}
func (s *BoltStore) GetMachine(uuid string) (*types.Machine, error) {
	return get[types.Machine](s.db, bucketMachines, uuid)
}
func (s *BoltStore) ListMachines() ([]*types.Machine, error) {
	return list[types.Machine](s.db, bucketMachines)
}
func (s *BoltStore) ListMachinesByPool(pool string) ([]*types.Machine, error) {
	return listFiltered(s.db, bucketMachines, func(m *types.Machine) bool { return m.Pool == pool })
}
func (s *BoltStore) ListMachinesByNode(node string) ([]*types.Machine, error) {
	return listFiltered(s.db, bucketMachines, func(m *types.Machine) bool { return m.Node == node })
}
func (s *BoltStore) ListIdleMachines(machineType types.NodeType) ([]*types.Machine, error) {
	return listFiltered(s.db, bucketMachines, func(m *types.Machine) bool {
		return m.Node == "" && m.MachineType == machineType
	})
}
func (s *BoltStore) UpdateMachine(m *types.Machine) error {
	return put(s.db, bucketMachines, m.UUID, m)
}
func (s *BoltStore) DeleteMachine(uuid string) error { return del(s.db, bucketMachines, uuid) }

// --- Ports ---

func (s *BoltStore) CreatePort(p *types.Port) error { return put(s.db, bucketPorts, p.UUID, p) }
func (s *BoltStore) GetPort(uuid string) (*types.Port, error) {
	return get[types.Port](s.db, bucketPorts, uuid)
}
func (s *BoltStore) ListPortsByMachine(machine string) ([]*types.Port, error) {
	return listFiltered(s.db, bucketPorts, func(p *types.Port) bool { return p.Machine == machine })
}
func (s *BoltStore) UpdatePort(p *types.Port) error { return put(s.db, bucketPorts, p.UUID, p) }
func (s *BoltStore) DeletePort(uuid string) error   { return del(s.db, bucketPorts, uuid) }

// --- Volumes ---

func (s *BoltStore) CreateVolume(v *types.Volume) error { return put(s.db, bucketVolumes, v.UUID, v) }
func (s *BoltStore) GetVolume(uuid string) (*types.Volume, error) {
	return get[types.Volume](s.db, bucketVolumes, uuid)
}
func (s *BoltStore) ListVolumesByNode(node string) ([]*types.Volume, error) {
	return listFiltered(s.db, bucketVolumes, func(v *types.Volume) bool { return v.Node == node })
}
func (s *BoltStore) UpdateVolume(v *types.Volume) error { return put(s.db, bucketVolumes, v.UUID, v) }
func (s *BoltStore) DeleteVolume(uuid string) error     { return del(s.db, bucketVolumes, uuid) }

// --- MachineVolumes ---

func (s *BoltStore) CreateMachineVolume(v *types.MachineVolume) error {
	return put(s.db, bucketMachineVols, v.UUID, v)
}
func (s *BoltStore) GetMachineVolume(uuid string) (*types.MachineVolume, error) {
	return get[types.MachineVolume](s.db, bucketMachineVols, uuid)
}
func (s *BoltStore) ListMachineVolumes() ([]*types.MachineVolume, error) {
	return list[types.MachineVolume](s.db, bucketMachineVols)
}
func (s *BoltStore) ListMachineVolumesByPool(pool string) ([]*types.MachineVolume, error) {
	return listFiltered(s.db, bucketMachineVols, func(v *types.MachineVolume) bool { return v.Pool == pool })
}
func (s *BoltStore) ListMachineVolumesByMachine(machine string) ([]*types.MachineVolume, error) {
	return listFiltered(s.db, bucketMachineVols, func(v *types.MachineVolume) bool { return v.Machine == machine })
}
func (s *BoltStore) UpdateMachineVolume(v *types.MachineVolume) error {
	return put(s.db, bucketMachineVols, v.UUID, v)
}
func (s *BoltStore) DeleteMachineVolume(uuid string) error {
	return del(s.db, bucketMachineVols, uuid)
}

// --- MachinePools ---

func (s *BoltStore) CreateMachinePool(p *types.MachinePool) error {
	return put(s.db, bucketPools, p.UUID, p)
}
func (s *BoltStore) GetMachinePool(uuid string) (*types.MachinePool, error) {
	return get[types.MachinePool](s.db, bucketPools, uuid)
}
func (s *BoltStore) ListMachinePools() ([]*types.MachinePool, error) {
	return list[types.MachinePool](s.db, bucketPools)
}
func (s *BoltStore) ListMachinePoolsByBuilder(builder string) ([]*types.MachinePool, error) {
	return listFiltered(s.db, bucketPools, func(p *types.MachinePool) bool { return p.Builder == builder })
}
func (s *BoltStore) UpdateMachinePool(p *types.MachinePool) error {
	return put(s.db, bucketPools, p.UUID, p)
}
func (s *BoltStore) DeleteMachinePool(uuid string) error { return del(s.db, bucketPools, uuid) }

// --- NodeSets ---

func (s *BoltStore) CreateNodeSet(n *types.NodeSet) error {
	return put(s.db, bucketNodeSets, n.UUID, n)
}
func (s *BoltStore) GetNodeSet(uuid string) (*types.NodeSet, error) {
	return get[types.NodeSet](s.db, bucketNodeSets, uuid)
}
func (s *BoltStore) ListNodeSets() ([]*types.NodeSet, error) {
	return list[types.NodeSet](s.db, bucketNodeSets)
}
func (s *BoltStore) UpdateNodeSet(n *types.NodeSet) error {
	return put(s.db, bucketNodeSets, n.UUID, n)
}
func (s *BoltStore) DeleteNodeSet(uuid string) error { return del(s.db, bucketNodeSets, uuid) }

// --- LoadBalancers ---

func (s *BoltStore) CreateLoadBalancer(lb *types.LoadBalancer) error {
	return put(s.db, bucketLBs, lb.UUID, lb)
}
func (s *BoltStore) GetLoadBalancer(uuid string) (*types.LoadBalancer, error) {
	return get[types.LoadBalancer](s.db, bucketLBs, uuid)
}
func (s *BoltStore) ListLoadBalancers() ([]*types.LoadBalancer, error) {
	return list[types.LoadBalancer](s.db, bucketLBs)
}
func (s *BoltStore) UpdateLoadBalancer(lb *types.LoadBalancer) error {
	return put(s.db, bucketLBs, lb.UUID, lb)
}
func (s *BoltStore) DeleteLoadBalancer(uuid string) error { return del(s.db, bucketLBs, uuid) }

// --- Placement policies / allocations ---

func (s *BoltStore) CreatePlacementPolicy(p *types.PlacementPolicy) error {
	return put(s.db, bucketPolicies, p.UUID, p)
}
func (s *BoltStore) GetPlacementPolicy(uuid string) (*types.PlacementPolicy, error) {
	return get[types.PlacementPolicy](s.db, bucketPolicies, uuid)
}
func (s *BoltStore) ListPlacementPolicies() ([]*types.PlacementPolicy, error) {
	return list[types.PlacementPolicy](s.db, bucketPolicies)
}
func (s *BoltStore) DeletePlacementPolicy(uuid string) error {
	return del(s.db, bucketPolicies, uuid)
}

func (s *BoltStore) CreatePlacementAllocation(a *types.PlacementPolicyAllocation) error {
	return put(s.db, bucketAllocations, a.UUID, a)
}
func (s *BoltStore) ListPlacementAllocationsByNode(node string) ([]*types.PlacementPolicyAllocation, error) {
	return listFiltered(s.db, bucketAllocations, func(a *types.PlacementPolicyAllocation) bool {
		return a.Node == node
	})
}
func (s *BoltStore) ListPlacementAllocationsByPolicy(policy string) ([]*types.PlacementPolicyAllocation, error) {
	return listFiltered(s.db, bucketAllocations, func(a *types.PlacementPolicyAllocation) bool {
		return a.Policy == policy
	})
}
func (s *BoltStore) DeletePlacementAllocation(uuid string) error {
	return del(s.db, bucketAllocations, uuid)
}

// --- Reservations ---

func (s *BoltStore) CreateReservation(r *types.MachinePoolReservation) error {
	return put(s.db, bucketReservations, r.UUID, r)
}
func (s *BoltStore) ListReservationsByPool(pool string) ([]*types.MachinePoolReservation, error) {
	return listFiltered(s.db, bucketReservations, func(r *types.MachinePoolReservation) bool {
		return r.Pool == pool
	})
}
func (s *BoltStore) ListReservationsByMachine(machine string) ([]*types.MachinePoolReservation, error) {
	return listFiltered(s.db, bucketReservations, func(r *types.MachinePoolReservation) bool {
		return r.Machine == machine
	})
}
func (s *BoltStore) DeleteReservation(uuid string) error {
	return del(s.db, bucketReservations, uuid)
}
func (s *BoltStore) DeleteReservationsByBuilder(builder string) error {
	rs, err := listFiltered(s.db, bucketReservations, func(r *types.MachinePoolReservation) bool {
		return r.Builder == builder
	})
	if err != nil {
		return err
	}
	for _, r := range rs {
		if err := s.DeleteReservation(r.UUID); err != nil {
			return err
		}
	}
	return nil
}

// --- Builders / agents ---

func (s *BoltStore) CreateBuilder(b *types.Builder) error {
	return put(s.db, bucketBuilders, b.UUID, b)
}
func (s *BoltStore) ListBuilders() ([]*types.Builder, error) {
	return list[types.Builder](s.db, bucketBuilders)
}
func (s *BoltStore) UpdateBuilder(b *types.Builder) error {
	return put(s.db, bucketBuilders, b.UUID, b)
}
func (s *BoltStore) DeleteBuilder(uuid string) error { return del(s.db, bucketBuilders, uuid) }
func (s *BoltStore) DeleteAllBuilders() error        { return clear(s.db, bucketBuilders) }

func (s *BoltStore) CreateAgent(a *types.Agent) error { return put(s.db, bucketAgents, a.UUID, a) }
func (s *BoltStore) GetAgent(uuid string) (*types.Agent, error) {
	return get[types.Agent](s.db, bucketAgents, uuid)
}
func (s *BoltStore) ListAgents() ([]*types.Agent, error) {
	return list[types.Agent](s.db, bucketAgents)
}
func (s *BoltStore) UpdateAgent(a *types.Agent) error { return put(s.db, bucketAgents, a.UUID, a) }
func (s *BoltStore) DeleteAgent(uuid string) error    { return del(s.db, bucketAgents, uuid) }

// --- Target / actual resources ---

func (s *BoltStore) PutTargetResource(r *types.TargetResource) error {
	return put(s.db, bucketTargets, r.UUID, r)
}
func (s *BoltStore) GetTargetResource(uuid string) (*types.TargetResource, error) {
	return get[types.TargetResource](s.db, bucketTargets, uuid)
}
func (s *BoltStore) ListTargetResourcesByKind(kind types.ResourceKind) ([]*types.TargetResource, error) {
	return listFiltered(s.db, bucketTargets, func(r *types.TargetResource) bool { return r.Kind == kind })
}
func (s *BoltStore) DeleteTargetResource(uuid string) error {
	return del(s.db, bucketTargets, uuid)
}

func (s *BoltStore) PutActualResource(r *types.ActualResource) error {
	return put(s.db, bucketActuals, r.UUID, r)
}
func (s *BoltStore) GetActualResource(uuid string) (*types.ActualResource, error) {
	return get[types.ActualResource](s.db, bucketActuals, uuid)
}
func (s *BoltStore) ListActualResourcesByKind(kind types.ResourceKind) ([]*types.ActualResource, error) {
	return listFiltered(s.db, bucketActuals, func(r *types.ActualResource) bool { return r.Kind == kind })
}
func (s *BoltStore) DeleteActualResource(uuid string) error {
	return del(s.db, bucketActuals, uuid)
}
