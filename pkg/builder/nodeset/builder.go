package nodeset

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/infraguys/genesis-compute/pkg/log"
	"github.com/infraguys/genesis-compute/pkg/reconciler"
	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

// Builder expands NodeSet intent into deterministically-named Nodes and
// folds their status back onto the set.
type Builder struct {
	reconciler.BaseHooks

	store  storage.Store
	logger zerolog.Logger
}

func New(store storage.Store) *Builder {
	return &Builder{
		BaseHooks: reconciler.NewBaseHooks(types.KindNodeSet),
		store:     store,
		logger:    log.WithComponent("nodeset-builder"),
	}
}

func setPayload(s *types.NodeSet) map[string]any {
	return map[string]any{
		"replicas": s.Replicas, "cores": s.Cores, "ram": s.RAM,
		"image": s.Image, "disk_spec": s.DiskSpec,
	}
}

// childUUID and policyUUID implement uuid5(set.uuid, name): a SHA1-based
// v5 UUID namespaced under the set itself, so member identity survives a
// full rebuild of the control-plane database.
func namespace(setUUID string) uuid.UUID {
	if ns, err := uuid.Parse(setUUID); err == nil {
		return ns
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(setUUID))
}

func childUUID(setUUID string, i int) string {
	return uuid.NewSHA1(namespace(setUUID), []byte("node-"+strconv.Itoa(i))).String()
}

func policyUUID(setUUID string) string {
	return uuid.NewSHA1(namespace(setUUID), []byte("soft-anti-affinity")).String()
}

func (b *Builder) FetchNewInstances(ctx context.Context, raw any) ([]reconciler.Instance, error) {
	sets, err := b.store.ListNodeSets()
	if err != nil {
		return nil, err
	}
	var out []reconciler.Instance
	for _, s := range sets {
		if _, err := b.store.GetTargetResource(s.UUID); err == nil {
			continue
		}
		out = append(out, reconciler.Instance{UUID: s.UUID, Kind: types.KindNodeSet, Payload: setPayload(s)})
	}
	return out, nil
}

func (b *Builder) PostCreateInstanceResource(ctx context.Context, inst reconciler.Instance, resource *types.TargetResource, derivatives map[types.ResourceKind]*types.TargetResource) error {
	s, err := b.store.GetNodeSet(inst.UUID)
	if err != nil {
		return err
	}
	return b.sync(ctx, s)
}

func (b *Builder) FetchUpdatedInstances(ctx context.Context, raw any) ([]reconciler.Pair, error) {
	targets, err := b.store.ListTargetResourcesByKind(types.KindNodeSet)
	if err != nil {
		return nil, err
	}
	var out []reconciler.Pair
	for _, t := range targets {
		s, err := b.store.GetNodeSet(t.UUID)
		if err != nil {
			continue
		}
		payload := setPayload(s)
		if reconciler.Hash(payload) == t.Hash {
			continue
		}
		updated := *t
		updated.Payload = payload
		actual, _ := b.store.GetActualResource(t.UUID)
		out = append(out, reconciler.Pair{Target: &updated, Actual: actual})
	}
	return out, nil
}

func (b *Builder) PreUpdateInstanceResource(ctx context.Context, inst reconciler.Instance) error {
	s, err := b.store.GetNodeSet(inst.UUID)
	if err != nil {
		return err
	}
	return b.sync(ctx, s)
}

// sync creates or preserves the default soft-anti-affinity policy,
// expands set.Replicas into deterministically-UUID'd Nodes, applies the
// rolling-update discipline to at most one drifted child per call, and
// deletes the tail of children beyond the new replica count (§4.5).
func (b *Builder) sync(ctx context.Context, s *types.NodeSet) error {
	policyID := policyUUID(s.UUID)
	if _, err := b.store.GetPlacementPolicy(policyID); err != nil {
		if err := b.store.CreatePlacementPolicy(&types.PlacementPolicy{
			Base: types.Base{UUID: policyID, ProjectID: s.ProjectID},
			Name: "soft-anti-affinity",
		}); err != nil {
			b.logger.Error().Err(err).Str("node_set", s.UUID).Msg("failed to create default policy")
		}
	}

	existing, err := b.store.ListNodesByNodeSet(s.UUID)
	if err != nil {
		return err
	}
	remaining := make(map[string]*types.Node, len(existing))
	byIndex := make(map[int]*types.Node, len(existing))
	for _, n := range existing {
		remaining[n.UUID] = n
	}
	for i := 0; i < s.Replicas; i++ {
		if n, ok := remaining[childUUID(s.UUID, i)]; ok {
			byIndex[i] = n
		}
	}
	b.rollingUpdate(ctx, s, byIndex, remaining)

	for i := 0; i < s.Replicas; i++ {
		childID := childUUID(s.UUID, i)
		if n, ok := remaining[childID]; ok {
			delete(remaining, childID)
			_ = n
			continue
		}

		n := &types.Node{
			Base:     types.Base{UUID: childID, ProjectID: s.ProjectID},
			Cores:    s.Cores,
			RAM:      s.RAM,
			Image:    s.Image,
			NodeType: s.NodeType,
			DiskSpec: s.DiskSpec,
			Status:   types.NodeStatusNew,
			NodeSet:  s.UUID,
			Name:     s.Name + "-" + strconv.Itoa(i),
		}
		if err := b.store.CreateNode(n); err != nil {
			b.logger.Error().Err(err).Str("node_set", s.UUID).Msg("failed to create node-set member")
			continue
		}
		b.store.CreatePlacementAllocation(&types.PlacementPolicyAllocation{
			Base:   types.Base{UUID: uuid.NewSHA1(namespace(s.UUID), []byte("alloc-"+childID)).String()},
			Node:   childID,
			Policy: policyID,
		})
	}

	for _, n := range remaining {
		allocs, _ := b.store.ListPlacementAllocationsByNode(n.UUID)
		for _, a := range allocs {
			b.store.DeletePlacementAllocation(a.UUID)
		}
		b.store.DeleteNode(n.UUID)
	}
	return nil
}

// rollingUpdate recreates at most one drifted child per call, lowest
// index first: delete then let the creation loop in sync rebuild it with
// the same UUID. Never more than one recreation in flight at a time.
func (b *Builder) rollingUpdate(ctx context.Context, s *types.NodeSet, byIndex map[int]*types.Node, remaining map[string]*types.Node) {
	for i := 0; i < s.Replicas; i++ {
		n, ok := byIndex[i]
		if !ok || nodeMatchesSet(n, s) {
			continue
		}
		b.store.DeleteNode(n.UUID)
		delete(remaining, n.UUID)
		return
	}
}

func nodeMatchesSet(n *types.Node, s *types.NodeSet) bool {
	return n.Cores == s.Cores && n.RAM == s.RAM && n.Image == s.Image && diskSpecEqual(n.DiskSpec, s.DiskSpec)
}

func diskSpecEqual(a, b []types.DiskSpecVolume) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (b *Builder) FetchOutdatedTracked(ctx context.Context, raw any) ([]reconciler.Pair, error) {
	targets, err := b.store.ListTargetResourcesByKind(types.KindNodeSet)
	if err != nil {
		return nil, err
	}
	var out []reconciler.Pair
	for _, t := range targets {
		actual, _ := b.store.GetActualResource(t.UUID)
		out = append(out, reconciler.Pair{Target: t, Actual: actual})
	}
	return out, nil
}

// ActualizeInstanceWithOutdatedTracked aggregates child status onto the
// set and refreshes the observed nodes map (§4.5).
func (b *Builder) ActualizeInstanceWithOutdatedTracked(ctx context.Context, inst reconciler.Instance, trackee reconciler.Pair) error {
	s, err := b.store.GetNodeSet(inst.UUID)
	if err != nil {
		return err
	}
	children, err := b.store.ListNodesByNodeSet(s.UUID)
	if err != nil {
		return err
	}

	nodesMap := make(map[string]types.NodeSetMember, len(children))
	statuses := make([]types.NodeStatus, 0, len(children))
	for _, n := range children {
		statuses = append(statuses, n.Status)
		member := types.NodeSetMember{}
		if n.DefaultNetwork != nil {
			member.IPv4 = n.DefaultNetwork.IPv4
		}
		nodesMap[n.UUID] = member
	}

	status := AggregateStatus(statuses, s.Replicas)
	if status == "" {
		status = s.Status
	}

	if s.Status != status || !sameMembers(s.Nodes, nodesMap) {
		s.Status = status
		s.Nodes = nodesMap
		return b.store.UpdateNodeSet(s)
	}
	return nil
}

// AggregateStatus implements the node-set status join rule (§4.5) as a
// pure function over the observed child statuses: ACTIVE only when every
// replica is present and ACTIVE, ERROR/NEW/IN_PROGRESS otherwise in that
// priority, or "" (unchanged) when none of those apply.
func AggregateStatus(children []types.NodeStatus, replicas int) types.NodeStatus {
	if len(children) >= replicas && len(children) > 0 {
		allActive := true
		for _, st := range children {
			if st != types.NodeStatusActive {
				allActive = false
				break
			}
		}
		if allActive {
			return types.NodeStatusActive
		}
	}
	for _, st := range children {
		if st == types.NodeStatusError {
			return types.NodeStatusError
		}
	}
	for _, st := range children {
		if st == types.NodeStatusNew {
			return types.NodeStatusNew
		}
	}
	for _, st := range children {
		if st == types.NodeStatusInProgress {
			return types.NodeStatusInProgress
		}
	}
	return ""
}

func sameMembers(a, b map[string]types.NodeSetMember) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv.IPv4 != v.IPv4 {
			return false
		}
	}
	return true
}
