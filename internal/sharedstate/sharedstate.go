// Package sharedstate implements the per-process singleton every node in
// a process shares: the publisher data socket, the outbound subscriber
// connections, the control socket, the remote-subscriber bookkeeping, and
// the discovery engine wired to drive them. Acquire/Release reference
// counting lazily constructs it on the first node and tears it down when
// the last node goes away.
package sharedstate

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/meshbus/meshbus/internal/config"
	"github.com/meshbus/meshbus/internal/discovery"
	"github.com/meshbus/meshbus/internal/registry"
	"github.com/meshbus/meshbus/internal/util/logger"
	"github.com/meshbus/meshbus/pkg/types"
)

var log = logger.Logger("sharedstate")

// SharedState is the process-wide singleton described in spec.md §4.8.
type SharedState struct {
	cfg *config.Config

	Discovery *discovery.Engine
	Subs      *registry.SubscriptionRegistry
	Repliers  *registry.ReplierRegistry
	Replies   *registry.ReplyRegistry

	pubListener net.Listener
	pubAddr     string

	ctrlListener net.Listener
	ctrlAddr     string

	srvListener net.Listener
	srvAddr     string

	subsMu sync.Mutex
	// subConns holds one persistent outbound connection per remote
	// publisher address, shared across every local topic subscribed at
	// that address. subConnTopics counts which topics still need each
	// address so the connection can be torn down with the last one.
	subConns      map[string]*subscriberConn
	subConnTopics map[string]map[string]struct{}

	reqMu sync.Mutex
	// reqConns holds one persistent outbound connection per remote
	// replier address, shared across every pending request to it.
	reqConns map[string]*requesterConn

	remoteSubsMu sync.RWMutex
	// remoteSubs maps topic -> set of remote subscriber addresses, built
	// from inbound NewConnection/EndConnection control messages. Publish
	// consults it to decide whether the wire path is worth taking at all.
	remoteSubs map[string]map[string]struct{}

	pubConnsMu sync.Mutex
	pubConns   map[net.Conn]struct{}
	pubWriteMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed bool
}

var (
	singletonMu sync.Mutex
	singleton   *SharedState
	refCount    int
)

// Acquire returns the process-wide SharedState, constructing and starting
// it on the first call and incrementing the reference count on every
// call thereafter.
func Acquire(cfg *config.Config) (*SharedState, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if singleton != nil {
		refCount++
		return singleton, nil
	}

	s, err := newSharedState(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.start(); err != nil {
		return nil, err
	}

	singleton = s
	refCount = 1
	return s, nil
}

// Release decrements the reference count, tearing the singleton down once
// the last node releases it.
func Release() error {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if singleton == nil {
		return nil
	}
	refCount--
	if refCount > 0 {
		return nil
	}

	err := singleton.stop()
	singleton = nil
	refCount = 0
	return err
}

func newSharedState(cfg *config.Config) (*SharedState, error) {
	eng, err := discovery.NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("sharedstate: build discovery engine: %w", err)
	}
	return newSharedStateWithEngine(cfg, eng)
}

func newSharedStateWithEngine(cfg *config.Config, eng *discovery.Engine) (*SharedState, error) {
	pubLn, err := net.Listen("tcp", net.JoinHostPort(eng.HostAddr(), "0"))
	if err != nil {
		return nil, fmt.Errorf("sharedstate: bind publisher socket: %w", err)
	}
	ctrlLn, err := net.Listen("tcp", net.JoinHostPort(eng.HostAddr(), "0"))
	if err != nil {
		pubLn.Close()
		return nil, fmt.Errorf("sharedstate: bind control socket: %w", err)
	}
	srvLn, err := net.Listen("tcp", net.JoinHostPort(eng.HostAddr(), "0"))
	if err != nil {
		pubLn.Close()
		ctrlLn.Close()
		return nil, fmt.Errorf("sharedstate: bind replier socket: %w", err)
	}

	s := &SharedState{
		cfg:           cfg,
		Discovery:     eng,
		Subs:          registry.NewSubscriptionRegistry(),
		Repliers:      registry.NewReplierRegistry(),
		Replies:       registry.NewReplyRegistry(),
		pubListener:   pubLn,
		pubAddr:       pubLn.Addr().String(),
		ctrlListener:  ctrlLn,
		ctrlAddr:      ctrlLn.Addr().String(),
		srvListener:   srvLn,
		srvAddr:       srvLn.Addr().String(),
		subConns:      make(map[string]*subscriberConn),
		subConnTopics: make(map[string]map[string]struct{}),
		reqConns:      make(map[string]*requesterConn),
		remoteSubs:    make(map[string]map[string]struct{}),
		pubConns:      make(map[net.Conn]struct{}),
	}
	return s, nil
}

// MyAddress is the endpoint this process's publisher socket is bound
// to; advertised as Publisher.Addr for message publishers.
func (s *SharedState) MyAddress() string { return s.pubAddr }

// MyCtrlAddress is the endpoint remote subscribers negotiate disconnects
// on; advertised as Publisher.CtrlAddr.
func (s *SharedState) MyCtrlAddress() string { return s.ctrlAddr }

// MySrvAddress is the endpoint service requests are delivered to;
// advertised as Publisher.Addr for service publishers.
func (s *SharedState) MySrvAddress() string { return s.srvAddr }

func (s *SharedState) start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.Discovery.SetConnectionsCb(s.onMsgConnect)
	s.Discovery.SetDisconnectionsCb(s.onMsgDisconnect)
	s.Discovery.SetSrvConnectionsCb(s.onSrvConnect)
	s.Discovery.SetSrvDisconnectionsCb(s.onSrvDisconnect)

	if err := s.Discovery.Start(); err != nil {
		return err
	}

	s.wg.Add(3)
	go s.acceptPublisherConns()
	go s.acceptControlConns()
	go s.acceptServiceConns()

	log.Info("shared state started", "pub", s.pubAddr, "ctrl", s.ctrlAddr, "srv", s.srvAddr)
	return nil
}

func (s *SharedState) stop() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.cancel()
	s.pubListener.Close()
	s.ctrlListener.Close()
	s.srvListener.Close()

	s.closeAllSubConns()
	s.closeAllPubConns()
	s.closeAllReqConns()
	s.wg.Wait()

	if err := s.Discovery.Stop(); err != nil {
		return err
	}
	log.Info("shared state stopped")
	return nil
}

// onMsgConnect is the discovery connection callback: whenever a message
// publisher appears, if any local handler cares about its topic, connect
// to its primary address (idempotent per address) and announce interest
// on its control endpoint.
func (s *SharedState) onMsgConnect(pub types.Publisher) {
	handlers := s.Subs.HandlersForTopic(pub.Topic)
	if len(handlers) == 0 {
		return
	}
	if err := s.ConnectSubscriber(pub, handlers[0].NUuid); err != nil {
		log.Warn("failed to connect to publisher", "topic", pub.Topic, "addr", pub.Addr, "err", err)
	}
}

// onSrvConnect is the discovery connection callback for service
// publishers. Requests dial lazily, so there is nothing to set up here.
func (s *SharedState) onSrvConnect(pub types.Publisher) {
	log.Debug("service publisher discovered", "service", pub.Topic, "addr", pub.Addr)
}

func (s *SharedState) onSrvDisconnect(pub types.Publisher) {
	log.Debug("service publisher disconnected", "service", pub.Topic, "process", pub.PUuid.ShortString())
}

// onMsgDisconnect is the discovery disconnection callback. It has no
// connection to tear down by itself: the owning node's Unsubscribe path
// sends EndConnection explicitly, and eviction/Bye already imply the
// remote socket is gone, so the next write simply fails and is dropped.
func (s *SharedState) onMsgDisconnect(pub types.Publisher) {
	log.Debug("publisher disconnected", "topic", pub.Topic, "process", pub.PUuid.ShortString())
}
