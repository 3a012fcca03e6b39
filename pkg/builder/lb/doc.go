// Package lb implements the load balancer builder (supplemental, §1(c)):
// a thin instance-builder over the same reconciliation framework as
// Volume, fronting a NodeSet's member ports behind a VIP. Status is
// mirrored up from its lb_frontend actual-resource derivative, owned by
// the pool that hosts the frontend.
package lb
