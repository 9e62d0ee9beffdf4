package registry

import (
	"sync"

	"github.com/meshbus/meshbus/pkg/types"
)

// ReplierHandler is what AdvertiseSrv registers: a callback invoked with
// an incoming request's raw bytes, returning the reply bytes and whether
// the call succeeded. The shared state writes (reply, success) back on the
// same replier-socket connection the request arrived on; replies do not
// travel over the control endpoint.
type ReplierHandler struct {
	Service string
	NUuid   types.NodeID
	ReqType string
	RepType string

	// Invoke runs the user's service callback against one request.
	Invoke func(request []byte) (reply []byte, success bool)
}

// ReplierRegistry keys repliers by service name then registering node;
// exactly one replier may exist per (service, node) pair, since AdvertiseSrv
// follows the same already-advertised guard as message publishers.
type ReplierRegistry struct {
	mu   sync.RWMutex
	byService map[string]map[types.NodeID]*ReplierHandler
}

// NewReplierRegistry builds an empty registry.
func NewReplierRegistry() *ReplierRegistry {
	return &ReplierRegistry{byService: make(map[string]map[types.NodeID]*ReplierHandler)}
}

// Register adds h, replacing any existing replier for the same
// (h.Service, h.NUuid) pair. Callers are expected to have already checked
// AlreadyAdvertised against the topic index before calling this.
func (r *ReplierRegistry) Register(h *ReplierHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes, ok := r.byService[h.Service]
	if !ok {
		nodes = make(map[types.NodeID]*ReplierHandler)
		r.byService[h.Service] = nodes
	}
	nodes[h.NUuid] = h
}

// Unregister removes the replier for (service, nUuid), reporting whether
// one existed.
func (r *ReplierRegistry) Unregister(service string, nUuid types.NodeID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes, ok := r.byService[service]
	if !ok {
		return false
	}
	if _, ok := nodes[nUuid]; !ok {
		return false
	}
	delete(nodes, nUuid)
	if len(nodes) == 0 {
		delete(r.byService, service)
	}
	return true
}

// Get looks up the replier for (service, nUuid).
func (r *ReplierRegistry) Get(service string, nUuid types.NodeID) (*ReplierHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes, ok := r.byService[service]
	if !ok {
		return nil, false
	}
	h, ok := nodes[nUuid]
	return h, ok
}

// AnyForService returns one registered replier for service, regardless of
// which local node owns it, or false if none exists.
func (r *ReplierRegistry) AnyForService(service string) (*ReplierHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes, ok := r.byService[service]
	if !ok {
		return nil, false
	}
	for _, h := range nodes {
		return h, true
	}
	return nil, false
}
