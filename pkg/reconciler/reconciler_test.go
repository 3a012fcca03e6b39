package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDerivativeUUIDDistinctPerKind(t *testing.T) {
	a := DerivativeUUID(types.KindPoolMachine, "m-1")
	b := DerivativeUUID(types.KindGuestMachine, "m-1")
	require.NotEqual(t, a, b)
	require.Equal(t, a, DerivativeUUID(types.KindPoolMachine, "m-1"))
}

func TestHashStableAndSensitiveToPayload(t *testing.T) {
	p1 := map[string]any{"a": 1, "b": "x"}
	p2 := map[string]any{"a": 1, "b": "x"}
	require.Equal(t, Hash(p1), Hash(p2))

	p3 := map[string]any{"a": 2, "b": "x"}
	require.NotEqual(t, Hash(p1), Hash(p3))
}

func TestDependenciesReadyGatesOnMissingTarget(t *testing.T) {
	store := newTestStore(t)
	e := &Engine{store: store}

	inst := Instance{UUID: "i-1", DependsOn: []RI{{Kind: types.KindNode, UUID: "dep-1"}}}
	require.False(t, e.dependenciesReady(inst))

	require.NoError(t, store.PutTargetResource(&types.TargetResource{UUID: "dep-1", Kind: types.KindNode}))
	require.True(t, e.dependenciesReady(inst))
}

// fakeHooks is a minimal Hooks implementation recording the calls an
// engine iteration drives through it, so tests can assert ordering and
// convergence without a real builder.
type fakeHooks struct {
	BaseHooks

	newInstances []Instance
	created      map[string]bool

	outdated        []Pair
	actualizeCalls  int
	convergeAfter   int // not read by the hooks; tests model convergence by clearing outdated
	prepareErr      error
}

func newFakeHooks(kind types.ResourceKind) *fakeHooks {
	return &fakeHooks{BaseHooks: NewBaseHooks(kind), created: map[string]bool{}}
}

func (f *fakeHooks) PrepareIteration(ctx context.Context) (any, error) { return nil, f.prepareErr }

func (f *fakeHooks) FetchNewInstances(ctx context.Context, prep any) ([]Instance, error) {
	var out []Instance
	for _, inst := range f.newInstances {
		if !f.created[inst.UUID] {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *fakeHooks) PostCreateInstanceResource(ctx context.Context, inst Instance, resource *types.TargetResource, derivatives map[types.ResourceKind]*types.TargetResource) error {
	f.created[inst.UUID] = true
	return nil
}

func (f *fakeHooks) FetchOutdatedInstances(ctx context.Context, prep any) ([]Pair, error) {
	return f.outdated, nil
}

func (f *fakeHooks) ActualizeOutdatedInstance(ctx context.Context, target *types.TargetResource, actual *types.ActualResource) error {
	f.actualizeCalls++
	return nil
}

// TestRunOnceCreatesInstanceOnce exercises the new-instance pass end to
// end: the first RunOnce persists the target resource and its
// derivatives and marks the instance created; subsequent iterations must
// not recreate it (FetchNewInstances stops returning it).
func TestRunOnceCreatesInstanceOnce(t *testing.T) {
	store := newTestStore(t)
	h := newFakeHooks("widget")
	h.newInstances = []Instance{{UUID: "w-1", Kind: "widget", Payload: map[string]any{"x": 1}}}

	e := NewEngine(store, time.Second, h)
	require.NoError(t, e.RunOnce(context.Background()))

	target, err := store.GetTargetResource("w-1")
	require.NoError(t, err)
	require.Equal(t, Hash(map[string]any{"x": 1}), target.Hash)
	require.True(t, h.created["w-1"])

	require.NoError(t, e.RunOnce(context.Background()))
	require.Len(t, h.newInstances, 1) // still declared, but no longer re-created
}

// TestRunOnceConvergesOutdatedInstanceWithinBoundedIterations models
// spec.md's "actual record may lag target but must converge after a
// bounded number of iterations" invariant: an instance whose actual
// state differs keeps being actualized every tick until it matches, and
// never more than the number of outstanding diffs.
func TestRunOnceConvergesOutdatedInstanceWithinBoundedIterations(t *testing.T) {
	store := newTestStore(t)
	h := newFakeHooks("widget")

	target := &types.TargetResource{UUID: "w-2", Kind: "widget", Payload: map[string]any{"state": "on"}}
	actual := &types.ActualResource{UUID: "w-2", Kind: "widget", Payload: map[string]any{"state": "off"}}
	require.NoError(t, store.PutTargetResource(target))
	require.NoError(t, store.PutActualResource(actual))
	h.outdated = []Pair{{Target: target, Actual: actual}}

	e := NewEngine(store, time.Second, h)

	const bound = 3
	for i := 0; i < bound; i++ {
		require.NoError(t, e.RunOnce(context.Background()))
	}
	require.Equal(t, bound, h.actualizeCalls)

	// once converged, the hook stops reporting the pair as outdated
	h.outdated = nil
	require.NoError(t, e.RunOnce(context.Background()))
	require.Equal(t, bound, h.actualizeCalls)
}

// TestRunOnceIsolatesPerKindFailures confirms one kind's PrepareIteration
// error does not stop the engine from running the next registered kind,
// matching RunOnce's documented never-return-early contract.
func TestRunOnceIsolatesPerKindFailures(t *testing.T) {
	store := newTestStore(t)

	failing := newFakeHooks("failing")
	failing.prepareErr = errors.New("prepare failed")

	ok := newFakeHooks("ok")
	ok.newInstances = []Instance{{UUID: "w-3", Kind: "ok", Payload: map[string]any{"y": 1}}}

	e := NewEngine(store, time.Second, failing, ok)
	require.NoError(t, e.RunOnce(context.Background()))

	_, err := store.GetTargetResource("w-3")
	require.NoError(t, err)
}
