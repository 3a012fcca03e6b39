package reconciler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/infraguys/genesis-compute/pkg/log"
	"github.com/infraguys/genesis-compute/pkg/metrics"
	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

// RI is a resource identifier: the readiness gate blocks a creation until
// every RI it declares as a dependency already exists as a target
// resource (§4.3).
type RI struct {
	Kind types.ResourceKind
	UUID string
}

// Instance is one unit of desired state a Hooks implementation discovers
// during an iteration: a Node to turn into a Machine, a MachinePool to
// admit, and so on.
type Instance struct {
	UUID      string
	Kind      types.ResourceKind
	DependsOn []RI
	Payload   map[string]any
}

// Pair couples a target resource with its current actual counterpart,
// used for the updated/outdated/outdated-tracked passes.
type Pair struct {
	Target *types.TargetResource
	Actual *types.ActualResource
}

// DerivativeUUID is the storage key a derivative resource is kept under:
// distinct from its owning instance's UUID, since two derivatives of the
// same instance would otherwise collide in the target/actual buckets,
// which are keyed by UUID alone.
func DerivativeUUID(kind types.ResourceKind, instanceUUID string) string {
	return fmt.Sprintf("%s/%s", kind, instanceUUID)
}

// Hash returns the content hash persisted alongside a target resource;
// two payloads that marshal identically hash identically, which is what
// lets the engine skip re-actualizing an unchanged instance.
func Hash(payload map[string]any) string {
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hooks is the per-kind contract a builder implements. Embed BaseHooks to
// get a no-op default for every method and only override what differs.
type Hooks interface {
	Kind() types.ResourceKind

	PrepareIteration(ctx context.Context) (any, error)

	FetchNewInstances(ctx context.Context, prep any) ([]Instance, error)
	FetchUpdatedInstances(ctx context.Context, prep any) ([]Pair, error)
	FetchOutdatedInstances(ctx context.Context, prep any) ([]Pair, error)
	FetchOutdatedTracked(ctx context.Context, prep any) ([]Pair, error)
	FetchOrphanedActuals(ctx context.Context, prep any) ([]*types.ActualResource, error)

	CanCreateInstanceResource(ctx context.Context, inst Instance) (bool, error)
	CreateInstanceDerivatives(ctx context.Context, inst Instance) (map[types.ResourceKind]map[string]any, error)
	PostCreateInstanceResource(ctx context.Context, inst Instance, resource *types.TargetResource, derivatives map[types.ResourceKind]*types.TargetResource) error

	CanUpdateInstanceResource(ctx context.Context, inst Instance) (bool, error)
	PreUpdateInstanceResource(ctx context.Context, inst Instance) error
	UpdateInstanceDerivatives(ctx context.Context, inst Instance) error
	PostUpdateInstanceResource(ctx context.Context, inst Instance) error

	ActualizeOutdatedInstance(ctx context.Context, target *types.TargetResource, actual *types.ActualResource) error
	ActualizeOutdatedInstanceDerivatives(ctx context.Context, inst Instance, pairs []Pair) error
	ActualizeInstanceWithOutdatedTracked(ctx context.Context, inst Instance, trackee Pair) error

	PreDeleteInstanceResource(ctx context.Context, resource *types.ActualResource) error
}

// BaseHooks implements every Hooks method as a no-op / empty result, so a
// concrete builder can embed it and only define the methods it needs.
type BaseHooks struct{ kind types.ResourceKind }

func NewBaseHooks(kind types.ResourceKind) BaseHooks { return BaseHooks{kind: kind} }

func (b BaseHooks) Kind() types.ResourceKind { return b.kind }

func (BaseHooks) PrepareIteration(ctx context.Context) (any, error) { return nil, nil }

func (BaseHooks) FetchNewInstances(ctx context.Context, prep any) ([]Instance, error) {
	return nil, nil
}
func (BaseHooks) FetchUpdatedInstances(ctx context.Context, prep any) ([]Pair, error) {
	return nil, nil
}
func (BaseHooks) FetchOutdatedInstances(ctx context.Context, prep any) ([]Pair, error) {
	return nil, nil
}
func (BaseHooks) FetchOutdatedTracked(ctx context.Context, prep any) ([]Pair, error) {
	return nil, nil
}
func (BaseHooks) FetchOrphanedActuals(ctx context.Context, prep any) ([]*types.ActualResource, error) {
	return nil, nil
}

func (BaseHooks) CanCreateInstanceResource(ctx context.Context, inst Instance) (bool, error) {
	return true, nil
}
func (BaseHooks) CreateInstanceDerivatives(ctx context.Context, inst Instance) (map[types.ResourceKind]map[string]any, error) {
	return nil, nil
}
func (BaseHooks) PostCreateInstanceResource(ctx context.Context, inst Instance, resource *types.TargetResource, derivatives map[types.ResourceKind]*types.TargetResource) error {
	return nil
}

func (BaseHooks) CanUpdateInstanceResource(ctx context.Context, inst Instance) (bool, error) {
	return true, nil
}
func (BaseHooks) PreUpdateInstanceResource(ctx context.Context, inst Instance) error  { return nil }
func (BaseHooks) UpdateInstanceDerivatives(ctx context.Context, inst Instance) error  { return nil }
func (BaseHooks) PostUpdateInstanceResource(ctx context.Context, inst Instance) error { return nil }

func (BaseHooks) ActualizeOutdatedInstance(ctx context.Context, target *types.TargetResource, actual *types.ActualResource) error {
	return nil
}
func (BaseHooks) ActualizeOutdatedInstanceDerivatives(ctx context.Context, inst Instance, pairs []Pair) error {
	return nil
}
func (BaseHooks) ActualizeInstanceWithOutdatedTracked(ctx context.Context, inst Instance, trackee Pair) error {
	return nil
}

func (BaseHooks) PreDeleteInstanceResource(ctx context.Context, resource *types.ActualResource) error {
	return nil
}

// Engine runs one or more Hooks in the declared order every tick,
// persisting target/actual resources through store and enforcing the
// readiness gate between kinds.
type Engine struct {
	store    storage.Store
	hooks    []Hooks
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewEngine builds an Engine driving hooks in the given order. Order
// matters only to instances that declare DependsOn: a dependency whose
// target resource an earlier hook persists passes the readiness gate in
// the same tick, one persisted by a later hook only on the next tick.
func NewEngine(store storage.Store, interval time.Duration, hooks ...Hooks) *Engine {
	return &Engine{
		store:    store,
		hooks:    hooks,
		interval: interval,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
	}
}

func (e *Engine) Start() { go e.run() }
func (e *Engine) Stop()  { close(e.stopCh) }

func (e *Engine) run() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info().Msg("reconciliation engine started")

	for {
		select {
		case <-ticker.C:
			if err := e.RunOnce(context.Background()); err != nil {
				e.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-e.stopCh:
			e.logger.Info().Msg("reconciliation engine stopped")
			return
		}
	}
}

// RunOnce drives a single iteration across every registered kind, in
// order. It never returns early on a per-kind error: a kind that fails is
// logged and skipped, and the next kind still runs.
func (e *Engine) RunOnce(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, h := range e.hooks {
		if err := e.runKind(ctx, h); err != nil {
			e.logger.Error().Err(err).Str("kind", string(h.Kind())).Msg("kind reconciliation failed")
		}
	}
	return nil
}

func (e *Engine) runKind(ctx context.Context, h Hooks) error {
	prep, err := h.PrepareIteration(ctx)
	if err != nil {
		return fmt.Errorf("prepare iteration: %w", err)
	}

	if err := e.runNew(ctx, h, prep); err != nil {
		e.logger.Error().Err(err).Str("kind", string(h.Kind())).Msg("new instance pass failed")
	}
	if err := e.runUpdated(ctx, h, prep); err != nil {
		e.logger.Error().Err(err).Str("kind", string(h.Kind())).Msg("updated instance pass failed")
	}
	if err := e.runOutdated(ctx, h, prep); err != nil {
		e.logger.Error().Err(err).Str("kind", string(h.Kind())).Msg("outdated instance pass failed")
	}
	if err := e.runOrphaned(ctx, h, prep); err != nil {
		e.logger.Error().Err(err).Str("kind", string(h.Kind())).Msg("orphaned actual pass failed")
	}
	return nil
}

func (e *Engine) runNew(ctx context.Context, h Hooks, prep any) error {
	instances, err := h.FetchNewInstances(ctx, prep)
	if err != nil {
		return err
	}

	for _, inst := range instances {
		if !e.dependenciesReady(inst) {
			continue // readiness gate: retry next iteration
		}

		ok, err := h.CanCreateInstanceResource(ctx, inst)
		if err != nil {
			e.logger.Error().Err(err).Str("uuid", inst.UUID).Msg("can_create_instance_resource failed")
			continue
		}
		if !ok {
			continue
		}

		derivPayloads, err := h.CreateInstanceDerivatives(ctx, inst)
		if err != nil {
			e.logger.Error().Err(err).Str("uuid", inst.UUID).Msg("create_instance_derivatives failed")
			continue
		}

		resource := &types.TargetResource{
			UUID:      inst.UUID,
			Kind:      inst.Kind,
			Payload:   inst.Payload,
			Hash:      Hash(inst.Payload),
			UpdatedAt: now(),
		}
		if err := e.store.PutTargetResource(resource); err != nil {
			return fmt.Errorf("persist target %s: %w", inst.UUID, err)
		}

		derivatives := make(map[types.ResourceKind]*types.TargetResource, len(derivPayloads))
		for kind, payload := range derivPayloads {
			dr := &types.TargetResource{
				UUID:      DerivativeUUID(kind, inst.UUID),
				Kind:      kind,
				Payload:   payload,
				Hash:      Hash(payload),
				UpdatedAt: now(),
			}
			if err := e.store.PutTargetResource(dr); err != nil {
				return fmt.Errorf("persist derivative %s/%s: %w", kind, inst.UUID, err)
			}
			derivatives[kind] = dr
		}

		if err := h.PostCreateInstanceResource(ctx, inst, resource, derivatives); err != nil {
			e.logger.Error().Err(err).Str("uuid", inst.UUID).Msg("post_create_instance_resource failed")
		}
	}
	return nil
}

func (e *Engine) runUpdated(ctx context.Context, h Hooks, prep any) error {
	pairs, err := h.FetchUpdatedInstances(ctx, prep)
	if err != nil {
		return err
	}

	for _, p := range pairs {
		inst := Instance{UUID: p.Target.UUID, Kind: p.Target.Kind, Payload: p.Target.Payload}

		ok, err := h.CanUpdateInstanceResource(ctx, inst)
		if err != nil || !ok {
			continue
		}
		if err := h.PreUpdateInstanceResource(ctx, inst); err != nil {
			e.logger.Error().Err(err).Str("uuid", inst.UUID).Msg("pre_update_instance_resource failed")
			continue
		}
		if err := h.UpdateInstanceDerivatives(ctx, inst); err != nil {
			e.logger.Error().Err(err).Str("uuid", inst.UUID).Msg("update_instance_derivatives failed")
			continue
		}

		p.Target.Hash = Hash(p.Target.Payload)
		p.Target.UpdatedAt = now()
		if err := e.store.PutTargetResource(p.Target); err != nil {
			return fmt.Errorf("persist updated target %s: %w", inst.UUID, err)
		}

		if err := h.PostUpdateInstanceResource(ctx, inst); err != nil {
			e.logger.Error().Err(err).Str("uuid", inst.UUID).Msg("post_update_instance_resource failed")
		}
	}
	return nil
}

func (e *Engine) runOutdated(ctx context.Context, h Hooks, prep any) error {
	pairs, err := h.FetchOutdatedInstances(ctx, prep)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := h.ActualizeOutdatedInstance(ctx, p.Target, p.Actual); err != nil {
			e.logger.Error().Err(err).Str("uuid", p.Target.UUID).Msg("actualize_outdated_instance failed")
			continue
		}
		inst := Instance{UUID: p.Target.UUID, Kind: p.Target.Kind, Payload: p.Target.Payload}
		if err := h.ActualizeOutdatedInstanceDerivatives(ctx, inst, []Pair{p}); err != nil {
			e.logger.Error().Err(err).Str("uuid", p.Target.UUID).Msg("actualize_outdated_instance_derivatives failed")
		}
	}

	tracked, err := h.FetchOutdatedTracked(ctx, prep)
	if err != nil {
		return err
	}
	for _, p := range tracked {
		inst := Instance{UUID: p.Target.UUID, Kind: p.Target.Kind, Payload: p.Target.Payload}
		if err := h.ActualizeInstanceWithOutdatedTracked(ctx, inst, p); err != nil {
			e.logger.Error().Err(err).Str("uuid", p.Target.UUID).Msg("actualize_instance_with_outdated_tracked failed")
		}
	}
	return nil
}

func (e *Engine) runOrphaned(ctx context.Context, h Hooks, prep any) error {
	orphans, err := h.FetchOrphanedActuals(ctx, prep)
	if err != nil {
		return err
	}
	for _, actual := range orphans {
		if err := h.PreDeleteInstanceResource(ctx, actual); err != nil {
			e.logger.Error().Err(err).Str("uuid", actual.UUID).Msg("pre_delete_instance_resource failed")
			continue
		}
		if err := e.store.DeleteActualResource(actual.UUID); err != nil {
			e.logger.Error().Err(err).Str("uuid", actual.UUID).Msg("failed to delete actual resource")
		}
	}
	return nil
}

// dependenciesReady reports whether every RI an instance names already
// exists as a persisted target resource.
func (e *Engine) dependenciesReady(inst Instance) bool {
	deps := append([]RI(nil), inst.DependsOn...)
	sort.Slice(deps, func(i, j int) bool { return deps[i].UUID < deps[j].UUID })

	for _, dep := range deps {
		if _, err := e.store.GetTargetResource(dep.UUID); err != nil {
			return false
		}
	}
	return true
}

func now() time.Time { return time.Now() }
