// Package reconciler implements the generic target-vs-actual diff engine
// every builder (pool, node, volume, node-set, load balancer) drives
// through.
//
// One Engine owns a declared-order list of per-kind Hooks. Each turn it
// walks new, updated, outdated and orphaned instances for every kind in
// order and calls the corresponding hook, persisting target/actual
// resources through a storage.Store. Hook implementations only need to
// override the behaviour that differs from a no-op; BaseHooks supplies
// every method as a default so a builder's Hooks struct stays small.
package reconciler
