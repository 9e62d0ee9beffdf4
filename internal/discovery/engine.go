// Package discovery implements the UDP-broadcast discovery core: the
// packet dispatch, topic index wiring, activity tracking and beacon
// retransmission a process uses to learn where every topic's publishers
// live.
package discovery

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshbus/meshbus/internal/config"
	"github.com/meshbus/meshbus/internal/topicindex"
	"github.com/meshbus/meshbus/internal/util/logger"
	"github.com/meshbus/meshbus/pkg/types"
	"github.com/meshbus/meshbus/pkg/wire"
)

var log = logger.Logger("discovery")

// Engine is the per-process discovery core: one broadcast socket, one
// topic index, an activity map and a beacon registry, plus the three
// background tasks that keep them current.
//
// Engine is created once per process (via Module()/NewEngine) and
// destroyed at shutdown; it is safe for concurrent use by every node in
// the process.
type Engine struct {
	pUuid     types.ProcessID
	hostAddr  string
	partition string

	conn      *net.UDPConn
	broadcast *net.UDPAddr

	index *topicindex.Index

	activityMu sync.Mutex
	activity   map[types.ProcessID]time.Time

	beaconMu sync.Mutex
	beacons  map[string]map[types.NodeID]*beacon
	beaconWg sync.WaitGroup

	intervalMu sync.RWMutex
	activityIv time.Duration
	heartbeatIv time.Duration
	advertiseIv time.Duration
	silenceIv   time.Duration

	cbMu             sync.RWMutex
	msgConnectCb     func(types.Publisher)
	msgDisconnectCb  func(types.Publisher)
	srvConnectCb     func(types.Publisher)
	srvDisconnectCb  func(types.Publisher)

	// cbCh feeds the callback task: a single goroutine delivering every
	// connection/disconnection callback in arrival order, so events for
	// one peer keep their Adv-before-Unadv/Bye ordering.
	cbCh chan cbEvent
	cbWg sync.WaitGroup

	running int32
	closed  int32
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine builds an Engine bound to the discovery port, resolving the
// host address and partition from cfg.
func NewEngine(cfg *config.Config) (*Engine, error) {
	return newEngineOnPort(cfg, config.DiscoveryPort)
}

// NewEngineOnPort builds an Engine bound to an arbitrary port, letting
// tests and tools run several engines side by side without colliding on
// the real discovery port. Port 0 binds an OS-assigned ephemeral port.
func NewEngineOnPort(cfg *config.Config, port int) (*Engine, error) {
	return newEngineOnPort(cfg, port)
}

func newEngineOnPort(cfg *config.Config, port int) (*Engine, error) {
	hostAddr, err := resolveHostAddr(cfg.Network.HostAddr)
	if err != nil {
		return nil, err
	}

	conn, err := newSocket(port)
	if err != nil {
		return nil, err
	}

	boundPort := port
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.Port != 0 {
		boundPort = addr.Port
	}

	e := &Engine{
		pUuid:       types.NewProcessID(),
		hostAddr:    hostAddr,
		partition:   cfg.Network.Partition,
		conn:        conn,
		broadcast:   broadcastAddr(boundPort),
		index:       topicindex.New(),
		activity:    make(map[types.ProcessID]time.Time),
		beacons:     make(map[string]map[types.NodeID]*beacon),
		cbCh:        make(chan cbEvent, 64),
		activityIv:  cfg.Discovery.ActivityInterval,
		heartbeatIv: cfg.Discovery.HeartbeatInterval,
		advertiseIv: cfg.Discovery.AdvertiseInterval,
		silenceIv:   cfg.Discovery.SilenceInterval,
	}

	e.cbWg.Add(1)
	go e.callbackTask()
	return e, nil
}

// ProcessID returns this process's discovery identity.
func (e *Engine) ProcessID() types.ProcessID { return e.pUuid }

// HostAddr returns the resolved host address advertisements are filtered
// against for Scope=Host.
func (e *Engine) HostAddr() string { return e.hostAddr }

// Partition returns the partition this engine isolates itself into.
func (e *Engine) Partition() string { return e.partition }

// Start launches the reception, heartbeat and activity tasks. Calling
// Start on an already-started Engine is a no-op.
func (e *Engine) Start() error {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return nil
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.wg.Add(3)
	go e.receptionTask()
	go e.heartbeatTask()
	go e.activityTask()

	log.Info("discovery engine started", "process", e.pUuid.ShortString(), "host", e.hostAddr, "partition", e.partition)
	return nil
}

// Stop signals the three tasks to exit, joins them, broadcasts a final
// Bye, then stops every beacon and drains the callback queue. Calling
// Stop on an already-stopped Engine is a no-op.
func (e *Engine) Stop() error {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	e.broadcastBye()

	e.stopAllBeacons()
	e.beaconWg.Wait()

	// The tasks are joined, so nothing enqueues anymore; closing the
	// queue lets the callback task deliver what's left and exit.
	close(e.cbCh)
	e.cbWg.Wait()

	atomic.StoreInt32(&e.running, 0)
	log.Info("discovery engine stopped", "process", e.pUuid.ShortString())
	return e.conn.Close()
}

func (e *Engine) broadcastBye() {
	h := wire.Header{Version: wire.WireVersion, PUuid: e.pUuid, Type: wire.MsgBye}
	data, err := wire.Encode(h, nil)
	if err != nil {
		log.Error("failed to encode Bye", "err", err)
		return
	}
	e.send(data)
}

func (e *Engine) send(data []byte) {
	if _, err := e.conn.WriteToUDP(data, e.broadcast); err != nil {
		log.Warn("discovery broadcast failed", "err", err)
	}
}

// ---- intervals ----

// ActivityInterval returns the current activity-scan interval.
func (e *Engine) ActivityInterval() time.Duration {
	e.intervalMu.RLock()
	defer e.intervalMu.RUnlock()
	return e.activityIv
}

// HeartbeatInterval returns the current heartbeat interval.
func (e *Engine) HeartbeatInterval() time.Duration {
	e.intervalMu.RLock()
	defer e.intervalMu.RUnlock()
	return e.heartbeatIv
}

// AdvertiseInterval returns the current beacon retransmission interval.
func (e *Engine) AdvertiseInterval() time.Duration {
	e.intervalMu.RLock()
	defer e.intervalMu.RUnlock()
	return e.advertiseIv
}

// SilenceInterval returns the current silence window before eviction.
func (e *Engine) SilenceInterval() time.Duration {
	e.intervalMu.RLock()
	defer e.intervalMu.RUnlock()
	return e.silenceIv
}

// SetActivityInterval updates the activity-scan interval; running tasks
// pick it up on their next cycle.
func (e *Engine) SetActivityInterval(d time.Duration) error {
	return e.setInterval(&e.activityIv, d)
}

// SetHeartbeatInterval updates the heartbeat interval.
func (e *Engine) SetHeartbeatInterval(d time.Duration) error {
	return e.setInterval(&e.heartbeatIv, d)
}

// SetAdvertiseInterval updates the beacon retransmission interval;
// running beacons pick up the new value on their next cycle.
func (e *Engine) SetAdvertiseInterval(d time.Duration) error {
	return e.setInterval(&e.advertiseIv, d)
}

// SetSilenceInterval updates the silence window before eviction.
func (e *Engine) SetSilenceInterval(d time.Duration) error {
	return e.setInterval(&e.silenceIv, d)
}

func (e *Engine) setInterval(target *time.Duration, d time.Duration) error {
	if d < time.Millisecond {
		return types.ErrInvalidInterval
	}
	e.intervalMu.Lock()
	defer e.intervalMu.Unlock()
	*target = d
	return nil
}

// ---- callbacks ----

// SetConnectionsCb registers the callback invoked when a new message
// publisher is discovered.
func (e *Engine) SetConnectionsCb(cb func(types.Publisher)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.msgConnectCb = cb
}

// SetDisconnectionsCb registers the callback invoked when a message
// publisher disappears.
func (e *Engine) SetDisconnectionsCb(cb func(types.Publisher)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.msgDisconnectCb = cb
}

// SetSrvConnectionsCb registers the callback invoked when a new service
// publisher is discovered.
func (e *Engine) SetSrvConnectionsCb(cb func(types.Publisher)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.srvConnectCb = cb
}

// SetSrvDisconnectionsCb registers the callback invoked when a service
// publisher disappears.
func (e *Engine) SetSrvDisconnectionsCb(cb func(types.Publisher)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.srvDisconnectCb = cb
}

// cbEvent is one queued callback delivery.
type cbEvent struct {
	cb  func(types.Publisher)
	pub types.Publisher
}

// callbackTask drains the callback queue from a single goroutine, so
// deliveries happen strictly in the order the dispatch and activity
// paths produced them. It runs from construction and exits when Stop
// closes the queue.
func (e *Engine) callbackTask() {
	defer e.cbWg.Done()
	for ev := range e.cbCh {
		safeInvoke(ev.cb, ev.pub)
	}
}

func (e *Engine) enqueueCallback(cb func(types.Publisher), pub types.Publisher) {
	if cb != nil {
		e.cbCh <- cbEvent{cb: cb, pub: pub}
	}
}

func (e *Engine) fireConnect(pub types.Publisher) {
	e.cbMu.RLock()
	cb := e.msgConnectCb
	if pub.IsService() {
		cb = e.srvConnectCb
	}
	e.cbMu.RUnlock()
	e.enqueueCallback(cb, pub)
}

func (e *Engine) fireDisconnect(pub types.Publisher) {
	e.cbMu.RLock()
	cb := e.msgDisconnectCb
	if pub.IsService() {
		cb = e.srvDisconnectCb
	}
	e.cbMu.RUnlock()
	e.enqueueCallback(cb, pub)
}

// notifyProcessGone fires both the message and service disconnection
// callbacks once each, carrying only the dead process UUID, per §4.4's
// eviction and Bye handling.
func (e *Engine) notifyProcessGone(pid types.ProcessID) {
	empty := types.Publisher{PUuid: pid, Scope: types.ScopeAll}

	e.cbMu.RLock()
	msgCb, srvCb := e.msgDisconnectCb, e.srvDisconnectCb
	e.cbMu.RUnlock()

	e.enqueueCallback(msgCb, empty)
	e.enqueueCallback(srvCb, empty)
}

func safeInvoke(cb func(types.Publisher), pub types.Publisher) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("discovery callback panicked", "recover", r)
		}
	}()
	cb(pub)
}

// ---- advertise / unadvertise / discover ----

// AdvertiseMsg inserts pub into the topic index, broadcasts one Adv
// packet and starts a beacon retransmitting it at the advertise interval.
func (e *Engine) AdvertiseMsg(pub types.Publisher) error {
	return e.advertise(wire.MsgAdv, pub)
}

// AdvertiseSrv is AdvertiseMsg's service-publisher counterpart.
func (e *Engine) AdvertiseSrv(pub types.Publisher) error {
	return e.advertise(wire.MsgAdvSrv, pub)
}

func (e *Engine) advertise(advType wire.MsgType, pub types.Publisher) error {
	pub.PUuid = e.pUuid
	if _, exists := e.index.GetPublisher(pub.Topic, e.pUuid, pub.NUuid); exists {
		return types.ErrAlreadyAdvertised
	}

	e.index.AddPublisher(pub)

	data, err := e.encodeAdvertise(advType, pub)
	if err != nil {
		return err
	}
	e.send(data)

	e.startBeacon(pub.Topic, pub.NUuid, pub, advType)
	return nil
}

// Unadvertise broadcasts an Unadv packet, stops the beacon and removes
// the local record for (topic, nUuid).
func (e *Engine) Unadvertise(topic string, nUuid types.NodeID) error {
	return e.unadvertise(wire.MsgUnadv, topic, nUuid)
}

// UnadvertiseSrv is Unadvertise's service-publisher counterpart.
func (e *Engine) UnadvertiseSrv(topic string, nUuid types.NodeID) error {
	return e.unadvertise(wire.MsgUnadvSrv, topic, nUuid)
}

func (e *Engine) unadvertise(advType wire.MsgType, topic string, nUuid types.NodeID) error {
	pub, exists := e.index.GetPublisher(topic, e.pUuid, nUuid)
	if !exists {
		return types.ErrNotAdvertised
	}

	data, err := e.encodeAdvertise(advType, pub)
	if err != nil {
		return err
	}
	e.send(data)

	e.stopBeacon(topic, nUuid)
	e.index.DelPublisherByNode(topic, e.pUuid, nUuid)
	return nil
}

// DiscoverMsg broadcasts a Sub request for topic.
func (e *Engine) DiscoverMsg(topic string) error {
	return e.discover(wire.MsgSub, topic)
}

// DiscoverSrv broadcasts a SubSrv request for service.
func (e *Engine) DiscoverSrv(service string) error {
	return e.discover(wire.MsgSubSrv, service)
}

func (e *Engine) discover(subType wire.MsgType, topic string) error {
	h := wire.Header{Version: wire.WireVersion, PUuid: e.pUuid, Topic: topic, Type: subType}
	data, err := wire.Encode(h, nil)
	if err != nil {
		return err
	}
	e.send(data)
	return nil
}

// GetMsgPublishers returns every known message publisher for topic.
func (e *Engine) GetMsgPublishers(topic string) []types.Publisher {
	return e.index.GetPublishers(topic)
}

// GetSrvPublishers returns every known service publisher for service.
func (e *Engine) GetSrvPublishers(service string) []types.Publisher {
	return e.index.GetPublishers(service)
}

// LocalPublisher returns the record this process's own node nUuid
// advertised for topic, if any. Publish uses it to recover the declared
// message type.
func (e *Engine) LocalPublisher(topic string, nUuid types.NodeID) (types.Publisher, bool) {
	return e.index.GetPublisher(topic, e.pUuid, nUuid)
}

// ListTopics returns every fully qualified topic or service name with at
// least one known publisher.
func (e *Engine) ListTopics() []string {
	return e.index.ListTopics()
}

func (e *Engine) encodeAdvertise(t wire.MsgType, pub types.Publisher) ([]byte, error) {
	h := wire.Header{Version: wire.WireVersion, PUuid: e.pUuid, Topic: pub.Topic, Type: t}
	body := &wire.AdvertiseBody{
		Addr:     pub.Addr,
		CtrlAddr: pub.CtrlAddr,
		NUuid:    pub.NUuid,
		Scope:    pub.Scope,
	}
	if pub.IsService() {
		body.SocketID = pub.SocketID
		body.ReqType = pub.ReqType
		body.RepType = pub.RepType
	} else {
		body.MsgType = pub.MsgType
	}
	return wire.Encode(h, body)
}

// scopeAllowed reports whether a remote party at senderIP should observe
// a publication carrying scope, from the perspective of this engine's own
// host address.
func (e *Engine) scopeAllowed(scope types.Scope, senderIP string) bool {
	switch scope {
	case types.ScopeProcess:
		return false
	case types.ScopeHost:
		return senderIP == e.hostAddr
	case types.ScopeAll:
		return true
	default:
		return false
	}
}
