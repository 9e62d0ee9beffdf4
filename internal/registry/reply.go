package registry

import (
	"sync"
	"time"

	"github.com/meshbus/meshbus/pkg/types"
)

// ReplyHandler owns one pending outgoing service call: the request bytes
// prepared at submit time, the response bytes filled in on arrival, and a
// condition variable signalled by NotifyResult. Grounded in the
// condition-variable wait/broadcast pattern used for readiness waits
// elsewhere in the stack, generalized to a single-waiter deadline wait.
type ReplyHandler struct {
	HUuid   types.HandlerID
	Service string
	Request []byte

	mu        sync.Mutex
	cond      *sync.Cond
	response  []byte
	success   bool
	available bool
}

// NewReplyHandler prepares a reply handler for one outgoing request.
func NewReplyHandler(service string, request []byte) *ReplyHandler {
	h := &ReplyHandler{
		HUuid:   types.NewHandlerID(),
		Service: service,
		Request: request,
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// WaitUntil blocks until NotifyResult has fired or deadline passes,
// whichever is first. It returns true if NotifyResult fired, false if the
// deadline elapsed first.
func (h *ReplyHandler) WaitUntil(deadline time.Time) bool {
	timer := time.AfterFunc(time.Until(deadline), func() {
		h.mu.Lock()
		h.cond.Broadcast()
		h.mu.Unlock()
	})
	defer timer.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for !h.available && time.Now().Before(deadline) {
		h.cond.Wait()
	}
	return h.available
}

// NotifyResult stores the reply, marks the handler available and wakes
// the waiting caller. Safe to call at most once; later calls are no-ops.
func (h *ReplyHandler) NotifyResult(reply []byte, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.available {
		return
	}
	h.response = reply
	h.success = success
	h.available = true
	h.cond.Broadcast()
}

// Result returns the stored response and success flag. Only meaningful
// after WaitUntil returns true.
func (h *ReplyHandler) Result() ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.response, h.success
}

// ReplyRegistry tracks every pending outgoing request by handler UUID, so
// an inbound reply frame can be routed back to the caller waiting on it.
type ReplyRegistry struct {
	mu      sync.Mutex
	pending map[types.HandlerID]*ReplyHandler
}

// NewReplyRegistry builds an empty registry.
func NewReplyRegistry() *ReplyRegistry {
	return &ReplyRegistry{pending: make(map[types.HandlerID]*ReplyHandler)}
}

// Add stores h, keyed by its own HUuid.
func (r *ReplyRegistry) Add(h *ReplyHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[h.HUuid] = h
}

// Remove drops the handler for hUuid, e.g. after a timeout.
func (r *ReplyRegistry) Remove(hUuid types.HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, hUuid)
}

// Get looks up the pending handler for hUuid.
func (r *ReplyRegistry) Get(hUuid types.HandlerID) (*ReplyHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.pending[hUuid]
	return h, ok
}
