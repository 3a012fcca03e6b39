package lb

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/infraguys/genesis-compute/pkg/log"
	"github.com/infraguys/genesis-compute/pkg/reconciler"
	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

// Builder reconciles LoadBalancer intent against an lb_frontend
// derivative, the same way the volume builder reconciles Volume against
// MachineVolume.
type Builder struct {
	reconciler.BaseHooks

	store  storage.Store
	logger zerolog.Logger
}

func New(store storage.Store) *Builder {
	return &Builder{
		BaseHooks: reconciler.NewBaseHooks(types.KindLoadBalancer),
		store:     store,
		logger:    log.WithComponent("lb-builder"),
	}
}

func frontendUUID(lbUUID string) string {
	return reconciler.DerivativeUUID(types.KindLBFrontend, lbUUID)
}

// poolMembers walks the fronted NodeSet to its members' ports: the
// pool_members list an lb_frontend actuates against the data plane.
func (b *Builder) poolMembers(lb *types.LoadBalancer) []string {
	nodes, err := b.store.ListNodesByNodeSet(lb.NodeSet)
	if err != nil {
		return nil
	}
	var members []string
	for _, n := range nodes {
		machines, err := b.store.ListMachinesByNode(n.UUID)
		if err != nil {
			continue
		}
		for _, m := range machines {
			ports, err := b.store.ListPortsByMachine(m.UUID)
			if err != nil {
				continue
			}
			for _, p := range ports {
				members = append(members, p.UUID)
			}
		}
	}
	return members
}

func lbPayload(lb *types.LoadBalancer, members []string) map[string]any {
	return map[string]any{
		"vip": lb.VIP, "protocol": lb.Protocol, "port": lb.Port, "pool_members": members,
	}
}

func (b *Builder) FetchNewInstances(ctx context.Context, raw any) ([]reconciler.Instance, error) {
	lbs, err := b.store.ListLoadBalancers()
	if err != nil {
		return nil, err
	}
	var out []reconciler.Instance
	for _, lb := range lbs {
		if _, err := b.store.GetTargetResource(lb.UUID); err == nil {
			continue
		}
		out = append(out, reconciler.Instance{
			UUID: lb.UUID, Kind: types.KindLoadBalancer,
			Payload: lbPayload(lb, b.poolMembers(lb)),
		})
	}
	return out, nil
}

func (b *Builder) CreateInstanceDerivatives(ctx context.Context, inst reconciler.Instance) (map[types.ResourceKind]map[string]any, error) {
	lb, err := b.store.GetLoadBalancer(inst.UUID)
	if err != nil {
		return nil, err
	}
	return map[types.ResourceKind]map[string]any{
		types.KindLBFrontend: lbPayload(lb, b.poolMembers(lb)),
	}, nil
}

func (b *Builder) PostCreateInstanceResource(ctx context.Context, inst reconciler.Instance, resource *types.TargetResource, derivatives map[types.ResourceKind]*types.TargetResource) error {
	lb, err := b.store.GetLoadBalancer(inst.UUID)
	if err != nil {
		return err
	}
	lb.Status = "IN_PROGRESS"
	return b.store.UpdateLoadBalancer(lb)
}

func (b *Builder) FetchUpdatedInstances(ctx context.Context, raw any) ([]reconciler.Pair, error) {
	targets, err := b.store.ListTargetResourcesByKind(types.KindLoadBalancer)
	if err != nil {
		return nil, err
	}
	var out []reconciler.Pair
	for _, t := range targets {
		lb, err := b.store.GetLoadBalancer(t.UUID)
		if err != nil {
			continue
		}
		payload := lbPayload(lb, b.poolMembers(lb))
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

// UpdateInstanceDerivatives refreshes the lb_frontend derivative's
// payload directly: unlike creation, the engine does not persist
// derivatives on the update path.
func (b *Builder) UpdateInstanceDerivatives(ctx context.Context, inst reconciler.Instance) error {
	lb, err := b.store.GetLoadBalancer(inst.UUID)
	if err != nil {
		return err
	}
	payload := lbPayload(lb, b.poolMembers(lb))
	return b.store.PutTargetResource(&types.TargetResource{
		UUID:      frontendUUID(lb.UUID),
		Kind:      types.KindLBFrontend,
		Payload:   payload,
		Hash:      reconciler.Hash(payload),
		UpdatedAt: time.Now(),
	})
}

func (b *Builder) PostUpdateInstanceResource(ctx context.Context, inst reconciler.Instance) error {
	lb, err := b.store.GetLoadBalancer(inst.UUID)
	if err != nil {
		return err
	}
	lb.Status = "IN_PROGRESS"
	return b.store.UpdateLoadBalancer(lb)
}

func (b *Builder) FetchOutdatedTracked(ctx context.Context, raw any) ([]reconciler.Pair, error) {
	targets, err := b.store.ListTargetResourcesByKind(types.KindLoadBalancer)
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

// ActualizeInstanceWithOutdatedTracked mirrors the LoadBalancer's status
// up from its lb_frontend actual resource.
func (b *Builder) ActualizeInstanceWithOutdatedTracked(ctx context.Context, inst reconciler.Instance, trackee reconciler.Pair) error {
	lb, err := b.store.GetLoadBalancer(inst.UUID)
	if err != nil {
		return err
	}
	actual, err := b.store.GetActualResource(frontendUUID(lb.UUID))
	if err != nil {
		return nil
	}
	if status, ok := actual.Payload["status"].(string); ok && lb.Status != status {
		lb.Status = status
		return b.store.UpdateLoadBalancer(lb)
	}
	return nil
}

// FetchOrphanedActuals finds lb_frontend actuals whose owning
// LoadBalancer was deleted directly.
func (b *Builder) FetchOrphanedActuals(ctx context.Context, raw any) ([]*types.ActualResource, error) {
	actuals, err := b.store.ListActualResourcesByKind(types.KindLBFrontend)
	if err != nil {
		return nil, err
	}
	var out []*types.ActualResource
	for _, a := range actuals {
		lbUUID := strings.TrimPrefix(a.UUID, string(types.KindLBFrontend)+"/")
		if _, err := b.store.GetLoadBalancer(lbUUID); err != nil {
			out = append(out, a)
		}
	}
	return out, nil
}
