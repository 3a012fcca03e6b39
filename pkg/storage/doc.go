// Package storage provides BoltDB-backed persistence for genesis-compute's
// control-plane state: one bucket per entity kind, JSON-encoded values
// keyed by uuid. There are no secondary-index buckets: the lookups that
// spec.md §6 calls out as the indices a relational schema would carry
// (machines by pool, machines by node, machine volumes by pool) scan the
// entity's bucket and filter. Create and Update share one upsert path, matching the teacher's
// pattern; deletes are idempotent.
package storage
