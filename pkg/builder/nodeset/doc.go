// Package nodeset implements the node-set builder (§4.5): it expands a
// NodeSet's replica count into deterministically-named Nodes under a
// default soft-anti-affinity policy, and aggregates their status back
// onto the set.
package nodeset
