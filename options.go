package meshbus

import (
	"github.com/meshbus/meshbus/pkg/types"
)

// Scope re-exports the publication visibility tag so callers don't need
// to import pkg/types for the common case.
type Scope = types.Scope

const (
	// ScopeProcess restricts a publication to nodes in the same process.
	ScopeProcess = types.ScopeProcess
	// ScopeHost restricts a publication to nodes on the same host.
	ScopeHost = types.ScopeHost
	// ScopeAll is unrestricted.
	ScopeAll = types.ScopeAll
)

// nodeOptions collects per-node settings resolved at construction.
type nodeOptions struct {
	partition    string
	hasPartition bool
	namespace    string
}

// NodeOption configures a Node at construction.
type NodeOption func(*nodeOptions)

// WithPartition overrides the node's partition. The default comes from
// MESHBUS_PARTITION, falling back to "<hostname>:<username>". Nodes in
// different partitions never see each other regardless of scope.
func WithPartition(partition string) NodeOption {
	return func(o *nodeOptions) {
		o.partition = partition
		o.hasPartition = true
	}
}

// WithNamespace sets the namespace prefixed to every relative topic this
// node advertises, subscribes to or requests. Topics beginning with '/'
// ignore it.
func WithNamespace(namespace string) NodeOption {
	return func(o *nodeOptions) { o.namespace = namespace }
}

// advertiseOptions collects per-advertise settings.
type advertiseOptions struct {
	scope types.Scope
}

// AdvertiseOption configures one Advertise or AdvertiseService call.
type AdvertiseOption func(*advertiseOptions)

// WithScope sets the visibility of the advertised publication. The
// default is ScopeAll.
func WithScope(scope types.Scope) AdvertiseOption {
	return func(o *advertiseOptions) { o.scope = scope }
}

func resolveAdvertiseOptions(opts []AdvertiseOption) advertiseOptions {
	o := advertiseOptions{scope: types.ScopeAll}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// subscribeOptions collects per-subscribe settings.
type subscribeOptions struct {
	msgsPerSec int
}

// SubscribeOption configures one Subscribe call.
type SubscribeOption func(*subscribeOptions)

// WithMsgsPerSec caps how many times per second the subscription's
// callback may fire; messages beyond the cap are silently dropped.
// Zero (the default) means unlimited.
func WithMsgsPerSec(n int) SubscribeOption {
	return func(o *subscribeOptions) { o.msgsPerSec = n }
}

func resolveSubscribeOptions(opts []SubscribeOption) subscribeOptions {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
