// Package scheduler implements the periodic machine placement loop (§4.6):
// pool/agent admission, reuse-first placement onto idle machines, and a
// filter/weight pipeline (CoresRamAvailableFilter, AffinityFilter,
// RelativeCoreRamWeighter, AffinityWeighter) for the remaining pool
// placements. One iteration debits a chosen pool's in-memory capacity
// before persisting, so a burst of Nodes scheduled in the same tick never
// overcommits a pool the first Machine of the batch already claimed.
package scheduler
