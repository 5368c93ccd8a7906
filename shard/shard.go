// Package shard assigns each topic an owning node. Nodes agree on owners
// without talking to each other because every node hashes the same inputs.
package shard

import (
	"context"
	"sort"

	"github.com/cespare/xxhash"
)

// Forwarder sends a request to another node and decodes its reply into out.
type Forwarder interface {
	Forward(ctx context.Context, node, typ string, body interface{}, out interface{}) error
}

// Router picks a topic's owner by rendezvous hashing: the node with the
// highest hash of node+"/"+topic wins. Adding or removing a node only moves
// the topics it wins or owned.
type Router struct {
	Self      string
	Nodes     []string
	Forwarder Forwarder
}

func New(self string, nodes []string, f Forwarder) *Router {
	sorted := append([]string(nil), nodes...)
	sort.Strings(sorted)
	return &Router{Self: self, Nodes: sorted, Forwarder: f}
}

// Owner returns the node owning topic, or Self if there are no nodes.
func (r *Router) Owner(topic string) string {
	owner := r.Self
	var best uint64
	for i, n := range r.Nodes {
		h := xxhash.Sum64String(n + "/" + topic)
		if i == 0 || h > best {
			owner, best = n, h
		}
	}
	return owner
}

func (r *Router) IsLocal(topic string) bool {
	return r.Owner(topic) == r.Self
}

// Split groups the keys of m by owner.
func Split[T any](r *Router, m map[string]T) map[string]map[string]T {
	out := make(map[string]map[string]T)
	for topic, v := range m {
		owner := r.Owner(topic)
		if out[owner] == nil {
			out[owner] = make(map[string]T)
		}
		out[owner][topic] = v
	}
	return out
}
