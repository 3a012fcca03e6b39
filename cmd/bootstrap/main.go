package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/infraguys/genesis-compute/pkg/log"
	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Apply a YAML manifest of pools, placement policies, nodes, node sets and load balancers",
	RunE:  runBootstrap,
}

func init() {
	rootCmd.Flags().StringP("file", "f", "", "Manifest file to apply (required)")
	rootCmd.Flags().String("data-dir", "./genesis-compute-data", "BoltDB data directory")
	_ = rootCmd.MarkFlagRequired("file")

	log.Init(log.Config{Level: log.InfoLevel})
}

// Manifest is the startup database this command applies (original_source's
// bootstrap.py startup_entities, generalised to every §3 entity a fresh
// cluster needs pre-seeded rather than discovered from the scheduler).
type Manifest struct {
	StartupEntities struct {
		MachinePools      []machinePoolSpec      `yaml:"machine_pools"`
		PlacementPolicies []placementPolicySpec  `yaml:"placement_policies"`
		Nodes             []nodeSpec             `yaml:"nodes"`
		NodeSets          []nodeSetSpec          `yaml:"node_sets"`
		LoadBalancers     []loadBalancerSpec     `yaml:"load_balancers"`
	} `yaml:"startup_entities"`
}

type machinePoolSpec struct {
	UUID        string         `yaml:"uuid"`
	Name        string         `yaml:"name"`
	MachineType string         `yaml:"machine_type"`
	AllCores    int            `yaml:"all_cores"`
	AllRAM      int            `yaml:"all_ram"`
	CoresRatio  float64        `yaml:"cores_ratio"`
	RAMRatio    float64        `yaml:"ram_ratio"`
	DriverSpec  map[string]any `yaml:"driver_spec"`
}

type placementPolicySpec struct {
	UUID string `yaml:"uuid"`
	Name string `yaml:"name"`
}

type nodeSpec struct {
	UUID         string   `yaml:"uuid"`
	Name         string   `yaml:"name"`
	Cores        int      `yaml:"cores"`
	RAM          int      `yaml:"ram"`
	Image        string   `yaml:"image"`
	NodeType     string   `yaml:"node_type"`
	RootDiskSize int      `yaml:"root_disk_size"`
	Policies     []string `yaml:"placement_policies"`
}

type nodeSetSpec struct {
	UUID     string `yaml:"uuid"`
	Name     string `yaml:"name"`
	Replicas int    `yaml:"replicas"`
	Cores    int    `yaml:"cores"`
	RAM      int    `yaml:"ram"`
	Image    string `yaml:"image"`
	NodeType string `yaml:"node_type"`
}

type loadBalancerSpec struct {
	UUID     string `yaml:"uuid"`
	NodeSet  string `yaml:"node_set"`
	VIP      string `yaml:"vip"`
	Protocol string `yaml:"protocol"`
	Port     int    `yaml:"port"`
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	logger := log.WithComponent("bootstrap")
	entities := manifest.StartupEntities

	for _, p := range entities.MachinePools {
		if err := applyMachinePool(store, p); err != nil {
			return err
		}
		logger.Info().Str("pool", p.Name).Msg("applied machine pool")
	}

	for _, pp := range entities.PlacementPolicies {
		if err := applyPlacementPolicy(store, pp); err != nil {
			return err
		}
		logger.Info().Str("policy", pp.Name).Msg("applied placement policy")
	}

	for _, n := range entities.Nodes {
		if err := applyNode(store, n); err != nil {
			return err
		}
		logger.Info().Str("node", n.Name).Msg("applied node")
	}

	for _, ns := range entities.NodeSets {
		if err := applyNodeSet(store, ns); err != nil {
			return err
		}
		logger.Info().Str("node_set", ns.Name).Msg("applied node set")
	}

	for _, lb := range entities.LoadBalancers {
		if err := applyLoadBalancer(store, lb); err != nil {
			return err
		}
		logger.Info().Str("load_balancer", lb.UUID).Msg("applied load balancer")
	}

	fmt.Println("bootstrap complete")
	return nil
}

func applyMachinePool(store storage.Store, spec machinePoolSpec) error {
	id := spec.UUID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := store.GetMachinePool(id); err == nil {
		return nil
	}

	p := &types.MachinePool{
		Base:        types.Base{UUID: id},
		Name:        spec.Name,
		MachineType: types.NodeType(spec.MachineType),
		AllCores:    spec.AllCores,
		AllRAM:      spec.AllRAM,
		AvailCores:  spec.AllCores,
		AvailRAM:    spec.AllRAM,
		CoresRatio:  spec.CoresRatio,
		RAMRatio:    spec.RAMRatio,
		DriverSpec:  spec.DriverSpec,
		Status:      types.PoolStatusActive,
	}
	if p.CoresRatio == 0 {
		p.CoresRatio = 1
	}
	if p.RAMRatio == 0 {
		p.RAMRatio = 1
	}
	return store.CreateMachinePool(p)
}

func applyPlacementPolicy(store storage.Store, spec placementPolicySpec) error {
	id := spec.UUID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := store.GetPlacementPolicy(id); err == nil {
		return nil
	}
	return store.CreatePlacementPolicy(&types.PlacementPolicy{
		Base: types.Base{UUID: id},
		Name: spec.Name,
	})
}

func applyNode(store storage.Store, spec nodeSpec) error {
	id := spec.UUID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := store.GetNode(id); err == nil {
		return nil
	}

	n := &types.Node{
		Base:              types.Base{UUID: id},
		Name:              spec.Name,
		Cores:             spec.Cores,
		RAM:               spec.RAM,
		Image:             spec.Image,
		NodeType:          types.NodeType(spec.NodeType),
		RootDiskSize:      spec.RootDiskSize,
		PlacementPolicies: spec.Policies,
		Status:            types.NodeStatusNew,
	}
	if err := store.CreateNode(n); err != nil {
		return err
	}

	for _, policy := range spec.Policies {
		if err := store.CreatePlacementAllocation(&types.PlacementPolicyAllocation{
			Base:   types.Base{UUID: uuid.NewString()},
			Node:   n.UUID,
			Policy: policy,
		}); err != nil {
			return fmt.Errorf("failed to allocate node %s to policy %s: %w", n.UUID, policy, err)
		}
	}
	return nil
}

func applyNodeSet(store storage.Store, spec nodeSetSpec) error {
	id := spec.UUID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := store.GetNodeSet(id); err == nil {
		return nil
	}

	return store.CreateNodeSet(&types.NodeSet{
		Base:     types.Base{UUID: id},
		Name:     spec.Name,
		Replicas: spec.Replicas,
		Cores:    spec.Cores,
		RAM:      spec.RAM,
		Image:    spec.Image,
		NodeType: types.NodeType(spec.NodeType),
		Status:   types.NodeStatusNew,
		Nodes:    map[string]types.NodeSetMember{},
	})
}

func applyLoadBalancer(store storage.Store, spec loadBalancerSpec) error {
	id := spec.UUID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := store.GetLoadBalancer(id); err == nil {
		return nil
	}

	return store.CreateLoadBalancer(&types.LoadBalancer{
		Base:     types.Base{UUID: id},
		NodeSet:  spec.NodeSet,
		VIP:      spec.VIP,
		Protocol: spec.Protocol,
		Port:     spec.Port,
	})
}
