// Package meshbus is a peer-to-peer transport library: processes
// exchange typed messages over named topics and invoke named services
// without a central broker. Discovery runs over UDP broadcast; payloads
// travel over per-process streaming sockets.
//
// Each process hosts one or more Nodes. Nodes in the same process, on
// the same host or across a LAN interoperate with identical semantics.
package meshbus

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/meshbus/meshbus/internal/config"
	"github.com/meshbus/meshbus/internal/registry"
	"github.com/meshbus/meshbus/internal/sharedstate"
	"github.com/meshbus/meshbus/internal/util/logger"
	"github.com/meshbus/meshbus/pkg/names"
	"github.com/meshbus/meshbus/pkg/types"
)

var log = logger.Logger("node")

// MessageCallback receives one published payload and the topic it
// arrived on (as the caller-visible topic, not the fully qualified
// internal name).
type MessageCallback func(payload []byte, topic string)

// ServiceCallback answers one service request: it returns the reply
// payload and whether the call succeeded.
type ServiceCallback func(request []byte) (reply []byte, success bool)

// Node is the per-participant facade: advertise, subscribe, publish and
// request operations, each undone automatically when the node closes.
//
// A Node is safe for concurrent use.
type Node struct {
	nUuid     types.NodeID
	partition string
	namespace string

	shared *sharedstate.SharedState

	// app is set only for nodes built by StartNode; Close stops it after
	// releasing this node's own shared-state reference.
	app *fx.App

	mu             sync.Mutex
	subscribed     map[string]string   // fq topic -> caller topic
	advertisedMsgs map[string]struct{} // fq topic
	advertisedSrvs map[string]struct{} // fq service
	closed         bool
}

// NewNode constructs a node, lazily initializing the process-shared
// state (streaming sockets plus the discovery engine) on the first call.
func NewNode(opts ...NodeOption) (*Node, error) {
	var o nodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := config.NewConfig()
	shared, err := sharedstate.Acquire(cfg)
	if err != nil {
		return nil, err
	}

	partition := cfg.Network.Partition
	if o.hasPartition {
		partition = o.partition
	}

	n := &Node{
		nUuid:          types.NewNodeID(),
		partition:      partition,
		namespace:      o.namespace,
		shared:         shared,
		subscribed:     make(map[string]string),
		advertisedMsgs: make(map[string]struct{}),
		advertisedSrvs: make(map[string]struct{}),
	}
	log.Debug("node created", "node", n.nUuid.ShortString(), "partition", partition, "namespace", o.namespace)
	return n, nil
}

// ID returns the node's UUID.
func (n *Node) ID() types.NodeID { return n.nUuid }

// Partition returns the partition this node composes names in.
func (n *Node) Partition() string { return n.partition }

// Advertise announces that this node publishes topic with payloads of
// msgType. It inserts the publisher record locally, broadcasts one Adv
// packet and starts a beacon retransmitting it.
func (n *Node) Advertise(topic, msgType string, opts ...AdvertiseOption) error {
	o := resolveAdvertiseOptions(opts)

	fq, err := names.FullyQualifiedMsgName(n.partition, n.namespace, topic)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return errNodeClosed
	}

	pub := types.Publisher{
		Topic:    fq,
		Addr:     n.shared.MyAddress(),
		CtrlAddr: n.shared.MyCtrlAddress(),
		NUuid:    n.nUuid,
		Scope:    o.scope,
		MsgType:  msgType,
	}
	if err := n.shared.Discovery.AdvertiseMsg(pub); err != nil {
		return err
	}
	n.advertisedMsgs[fq] = struct{}{}
	return nil
}

// Unadvertise withdraws a previous Advertise: one Unadv broadcast, the
// beacon stopped, the local record removed.
func (n *Node) Unadvertise(topic string) error {
	fq, err := names.FullyQualifiedMsgName(n.partition, n.namespace, topic)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unadvertiseLocked(fq)
}

func (n *Node) unadvertiseLocked(fq string) error {
	if _, ok := n.advertisedMsgs[fq]; !ok {
		return types.ErrNotAdvertised
	}
	if err := n.shared.Discovery.Unadvertise(fq, n.nUuid); err != nil {
		return err
	}
	delete(n.advertisedMsgs, fq)
	return nil
}

// Publish delivers payload to every subscriber of topic: local handlers
// synchronously on the calling goroutine, remote subscribers over the
// shared publisher socket (skipped entirely when no remote process has
// announced interest).
func (n *Node) Publish(topic, msgType string, payload []byte) error {
	fq, err := names.FullyQualifiedMsgName(n.partition, n.namespace, topic)
	if err != nil {
		return err
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return errNodeClosed
	}
	_, advertised := n.advertisedMsgs[fq]
	n.mu.Unlock()

	if !advertised {
		return types.ErrNotAdvertised
	}

	pub, ok := n.shared.Discovery.LocalPublisher(fq, n.nUuid)
	if !ok {
		return types.ErrNotAdvertised
	}
	if pub.MsgType != msgType {
		return fmt.Errorf("%w: advertised %q, payload declares %q", types.ErrTypeMismatch, pub.MsgType, msgType)
	}

	n.shared.Subs.Dispatch(fq, msgType, payload)

	if err := n.shared.Publish(fq, payload); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportError, err)
	}
	return nil
}

// Subscribe registers cb for payloads of msgType published on topic. The
// subscription connects to every already-known publisher and, via the
// discovery connection callback, to publishers that appear later.
func (n *Node) Subscribe(topic, msgType string, cb MessageCallback, opts ...SubscribeOption) error {
	o := resolveSubscribeOptions(opts)

	fq, err := names.FullyQualifiedMsgName(n.partition, n.namespace, topic)
	if err != nil {
		return err
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return errNodeClosed
	}
	n.subscribed[fq] = topic
	n.mu.Unlock()

	callerTopic := topic
	h := &registry.SubscriptionHandler{
		Topic:     fq,
		NUuid:     n.nUuid,
		MsgType:   msgType,
		RateLimit: o.msgsPerSec,
		Invoke: func(data []byte) error {
			cb(data, callerTopic)
			return nil
		},
	}
	n.shared.Subs.Register(h)

	// One Sub broadcast; beacons re-announce at the advertise interval,
	// so publishers that miss it are still found.
	if err := n.shared.Discovery.DiscoverMsg(fq); err != nil {
		log.Warn("subscribe discovery broadcast failed", "topic", topic, "err", err)
	}

	self := n.shared.Discovery.ProcessID()
	for _, pub := range n.shared.Discovery.GetMsgPublishers(fq) {
		if pub.PUuid == self {
			continue // same process: the local dispatch path needs no socket
		}
		if err := n.shared.ConnectSubscriber(pub, n.nUuid); err != nil {
			log.Warn("failed to connect to known publisher", "topic", topic, "addr", pub.Addr, "err", err)
		}
	}
	return nil
}

// Unsubscribe removes this node's handlers for topic. If no other node
// in the process still subscribes, interest is withdrawn from every
// known publisher with an EndConnection control frame.
func (n *Node) Unsubscribe(topic string) error {
	fq, err := names.FullyQualifiedMsgName(n.partition, n.namespace, topic)
	if err != nil {
		return err
	}

	n.mu.Lock()
	delete(n.subscribed, fq)
	n.mu.Unlock()

	n.shared.Subs.UnregisterNode(fq, n.nUuid)
	if n.shared.Subs.HasAnyHandler(fq) {
		return nil
	}

	self := n.shared.Discovery.ProcessID()
	for _, pub := range n.shared.Discovery.GetMsgPublishers(fq) {
		if pub.PUuid == self {
			continue
		}
		n.shared.EndSubscription(pub, n.nUuid)
	}
	return nil
}

// AdvertiseService registers cb as the replier for service, taking
// requests of reqType and answering with repType.
func (n *Node) AdvertiseService(service, reqType, repType string, cb ServiceCallback, opts ...AdvertiseOption) error {
	o := resolveAdvertiseOptions(opts)

	fq, err := names.FullyQualifiedSrvName(n.partition, n.namespace, service)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return errNodeClosed
	}

	pub := types.Publisher{
		Topic:    fq,
		Addr:     n.shared.MySrvAddress(),
		CtrlAddr: n.shared.MyCtrlAddress(),
		NUuid:    n.nUuid,
		Scope:    o.scope,
		SocketID: n.shared.Discovery.ProcessID().String(),
		ReqType:  reqType,
		RepType:  repType,
	}
	if err := n.shared.Discovery.AdvertiseSrv(pub); err != nil {
		return err
	}

	n.shared.Repliers.Register(&registry.ReplierHandler{
		Service: fq,
		NUuid:   n.nUuid,
		ReqType: reqType,
		RepType: repType,
		Invoke:  cb,
	})
	n.advertisedSrvs[fq] = struct{}{}
	return nil
}

// UnadvertiseService withdraws a previous AdvertiseService.
func (n *Node) UnadvertiseService(service string) error {
	fq, err := names.FullyQualifiedSrvName(n.partition, n.namespace, service)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unadvertiseServiceLocked(fq)
}

func (n *Node) unadvertiseServiceLocked(fq string) error {
	if _, ok := n.advertisedSrvs[fq]; !ok {
		return types.ErrNotAdvertised
	}
	if err := n.shared.Discovery.UnadvertiseSrv(fq, n.nUuid); err != nil {
		return err
	}
	n.shared.Repliers.Unregister(fq, n.nUuid)
	delete(n.advertisedSrvs, fq)
	return nil
}

// Request invokes service with request bytes of reqType, expecting a
// reply of repType, and blocks up to timeout for the answer. A replier
// in the same process is invoked directly on the calling goroutine; a
// remote one is reached over its replier socket and matched back by
// handler UUID. The returned success flag is the replier's own verdict
// and is meaningful only when err is nil.
func (n *Node) Request(service string, request []byte, reqType, repType string, timeout time.Duration) (reply []byte, success bool, err error) {
	fq, err := names.FullyQualifiedSrvName(n.partition, n.namespace, service)
	if err != nil {
		return nil, false, err
	}

	if replier, ok := n.shared.Repliers.AnyForService(fq); ok {
		if replier.ReqType != reqType || replier.RepType != repType {
			return nil, false, fmt.Errorf("%w: service declares (%q, %q), caller uses (%q, %q)",
				types.ErrTypeMismatch, replier.ReqType, replier.RepType, reqType, repType)
		}
		reply, success = replier.Invoke(request)
		return reply, success, nil
	}

	var target *types.Publisher
	self := n.shared.Discovery.ProcessID()
	for _, pub := range n.shared.Discovery.GetSrvPublishers(fq) {
		if pub.PUuid == self {
			continue
		}
		p := pub
		target = &p
		break
	}
	if target == nil {
		// A single SubSrv broadcast so the replier's beacon answers; the
		// caller is expected to retry.
		if derr := n.shared.Discovery.DiscoverSrv(fq); derr != nil {
			log.Warn("request discovery broadcast failed", "service", service, "err", derr)
		}
		return nil, false, types.ErrNoPublisher
	}
	if target.ReqType != reqType || target.RepType != repType {
		return nil, false, fmt.Errorf("%w: service declares (%q, %q), caller uses (%q, %q)",
			types.ErrTypeMismatch, target.ReqType, target.RepType, reqType, repType)
	}

	h := registry.NewReplyHandler(fq, request)
	n.shared.Replies.Add(h)
	defer n.shared.Replies.Remove(h.HUuid)

	if err := n.shared.SendRequest(target.Addr, fq, h); err != nil {
		return nil, false, fmt.Errorf("%w: %v", types.ErrTransportError, err)
	}
	if !h.WaitUntil(time.Now().Add(timeout)) {
		return nil, false, types.ErrTimeout
	}
	reply, success = h.Result()
	return reply, success, nil
}

// SubscribedTopics returns the topics this node currently subscribes to,
// as the caller passed them, sorted.
func (n *Node) SubscribedTopics() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.subscribed))
	for _, topic := range n.subscribed {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Close unsubscribes from every subscribed topic, unadvertises every
// topic and service, and releases the process-shared state.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true

	subscribed := make(map[string]string, len(n.subscribed))
	for fq, topic := range n.subscribed {
		subscribed[fq] = topic
	}
	advertisedMsgs := make([]string, 0, len(n.advertisedMsgs))
	for fq := range n.advertisedMsgs {
		advertisedMsgs = append(advertisedMsgs, fq)
	}
	advertisedSrvs := make([]string, 0, len(n.advertisedSrvs))
	for fq := range n.advertisedSrvs {
		advertisedSrvs = append(advertisedSrvs, fq)
	}
	n.mu.Unlock()

	self := n.shared.Discovery.ProcessID()
	for fq := range subscribed {
		n.shared.Subs.UnregisterNode(fq, n.nUuid)
		if n.shared.Subs.HasAnyHandler(fq) {
			continue
		}
		for _, pub := range n.shared.Discovery.GetMsgPublishers(fq) {
			if pub.PUuid == self {
				continue
			}
			n.shared.EndSubscription(pub, n.nUuid)
		}
	}

	n.mu.Lock()
	for _, fq := range advertisedMsgs {
		if err := n.unadvertiseLocked(fq); err != nil {
			log.Warn("failed to unadvertise on close", "topic", fq, "err", err)
		}
	}
	for _, fq := range advertisedSrvs {
		if err := n.unadvertiseServiceLocked(fq); err != nil {
			log.Warn("failed to unadvertise service on close", "service", fq, "err", err)
		}
	}
	n.mu.Unlock()

	log.Debug("node closed", "node", n.nUuid.ShortString())
	err := sharedstate.Release()
	if n.app != nil {
		stopApp(n.app)
	}
	return err
}
