// Package registry holds the handler tables a node keys its local
// dispatch on: subscription callbacks, service repliers and pending
// outgoing requests waiting on a reply.
package registry

import (
	"sync"
	"time"

	"github.com/meshbus/meshbus/internal/util/logger"
	"github.com/meshbus/meshbus/pkg/types"
)

var log = logger.Logger("registry")

// SubscriptionHandler is one subscribe-time registration: a declared type
// name, an opaque decode-and-invoke closure, and an optional per-second
// rate limit. The closure owns deserialization so the registry never needs
// to know the wire format of any particular message type.
type SubscriptionHandler struct {
	Topic   string
	NUuid   types.NodeID
	HUuid   types.HandlerID
	MsgType string

	// Invoke decodes data into the declared type and runs the user
	// callback. It returns an error if decoding fails.
	Invoke func(data []byte) error

	// RateLimit caps callback invocations per wall-clock second; 0 means
	// unlimited.
	RateLimit int

	rateMu      sync.Mutex
	windowStart time.Time
	countInWin  int
}

// allow applies the per-second counter-reset rate limit described in
// spec.md §9: a simple cap that resets each wall-clock second.
func (h *SubscriptionHandler) allow(now time.Time) bool {
	if h.RateLimit <= 0 {
		return true
	}

	h.rateMu.Lock()
	defer h.rateMu.Unlock()

	if now.Sub(h.windowStart) >= time.Second {
		h.windowStart = now
		h.countInWin = 0
	}
	if h.countInWin >= h.RateLimit {
		return false
	}
	h.countInWin++
	return true
}

// Dispatch decodes and invokes the handler's callback for one inbound
// payload of msgType, subject to the rate limit. It returns false if the
// message was dropped (type mismatch, rate limited, or decode failure);
// true on a successful invocation.
func (h *SubscriptionHandler) Dispatch(data []byte, msgType string) bool {
	if msgType != "" && h.MsgType != "" && msgType != h.MsgType {
		return false
	}
	if !h.allow(time.Now()) {
		log.Debug("subscription handler dropped message: rate limit exceeded", "topic", h.Topic, "node", h.NUuid.ShortString())
		return false
	}
	if err := h.Invoke(data); err != nil {
		log.Warn("subscription handler failed to decode message", "topic", h.Topic, "node", h.NUuid.ShortString(), "err", err)
		return false
	}
	return true
}

// SubscriptionRegistry keys subscription handlers by topic, then by the
// node that registered them, then by handler UUID, mirroring the nested
// locking the node facade expects (§4.5).
type SubscriptionRegistry struct {
	mu       sync.RWMutex
	byTopic  map[string]map[types.NodeID]map[types.HandlerID]*SubscriptionHandler
}

// NewSubscriptionRegistry builds an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		byTopic: make(map[string]map[types.NodeID]map[types.HandlerID]*SubscriptionHandler),
	}
}

// Register adds h under (h.Topic, h.NUuid), assigning it a fresh handler
// UUID which is both stored on h and returned.
func (r *SubscriptionRegistry) Register(h *SubscriptionHandler) types.HandlerID {
	h.HUuid = types.NewHandlerID()

	r.mu.Lock()
	defer r.mu.Unlock()

	nodes, ok := r.byTopic[h.Topic]
	if !ok {
		nodes = make(map[types.NodeID]map[types.HandlerID]*SubscriptionHandler)
		r.byTopic[h.Topic] = nodes
	}
	handlers, ok := nodes[h.NUuid]
	if !ok {
		handlers = make(map[types.HandlerID]*SubscriptionHandler)
		nodes[h.NUuid] = handlers
	}
	handlers[h.HUuid] = h
	return h.HUuid
}

// Unregister removes one handler. It reports whether anything was removed.
func (r *SubscriptionRegistry) Unregister(topic string, nUuid types.NodeID, hUuid types.HandlerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(topic, nUuid, hUuid)
}

func (r *SubscriptionRegistry) unregisterLocked(topic string, nUuid types.NodeID, hUuid types.HandlerID) bool {
	nodes, ok := r.byTopic[topic]
	if !ok {
		return false
	}
	handlers, ok := nodes[nUuid]
	if !ok {
		return false
	}
	if _, ok := handlers[hUuid]; !ok {
		return false
	}
	delete(handlers, hUuid)
	if len(handlers) == 0 {
		delete(nodes, nUuid)
	}
	if len(nodes) == 0 {
		delete(r.byTopic, topic)
	}
	return true
}

// UnregisterNode removes every handler (h.Topic, nUuid) registered, used
// when a node unsubscribes from a topic entirely.
func (r *SubscriptionRegistry) UnregisterNode(topic string, nUuid types.NodeID) []types.HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes, ok := r.byTopic[topic]
	if !ok {
		return nil
	}
	handlers, ok := nodes[nUuid]
	if !ok {
		return nil
	}

	removed := make([]types.HandlerID, 0, len(handlers))
	for hUuid := range handlers {
		removed = append(removed, hUuid)
	}
	delete(nodes, nUuid)
	if len(nodes) == 0 {
		delete(r.byTopic, topic)
	}
	return removed
}

// HandlersForTopic returns a snapshot of every handler registered for
// topic, across all nodes.
func (r *SubscriptionRegistry) HandlersForTopic(topic string) []*SubscriptionHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes, ok := r.byTopic[topic]
	if !ok {
		return nil
	}
	var out []*SubscriptionHandler
	for _, handlers := range nodes {
		for _, h := range handlers {
			out = append(out, h)
		}
	}
	return out
}

// HasAnyHandler reports whether any node in this process still subscribes
// to topic; the node facade uses this to decide whether to tear down the
// shared subscriber socket's filter for topic.
func (r *SubscriptionRegistry) HasAnyHandler(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes, ok := r.byTopic[topic]
	return ok && len(nodes) > 0
}

// Dispatch invokes every handler registered for topic whose declared type
// matches msgType, per §4.7's Publish rule, returning how many fired.
func (r *SubscriptionRegistry) Dispatch(topic string, msgType string, data []byte) int {
	fired := 0
	for _, h := range r.HandlersForTopic(topic) {
		if h.Dispatch(data, msgType) {
			fired++
		}
	}
	return fired
}
