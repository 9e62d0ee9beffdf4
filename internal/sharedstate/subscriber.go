package sharedstate

import (
	"net"

	"github.com/meshbus/meshbus/pkg/frame"
	"github.com/meshbus/meshbus/pkg/types"
)

// subscriberConn is this process's one outbound connection to a remote
// publisher address, shared across every local topic subscribed there.
type subscriberConn struct {
	conn net.Conn
	stop chan struct{}
}

// ConnectSubscriber wires this process up to one remote message
// publisher: dial its primary address (idempotent per address), record
// that pub.Topic needs the connection, and announce interest with a
// NewConnection frame on the publisher's control endpoint.
func (s *SharedState) ConnectSubscriber(pub types.Publisher, nUuid types.NodeID) error {
	if err := s.ensureSubConn(pub.Addr, pub.Topic); err != nil {
		return err
	}
	if err := s.sendControl(pub.CtrlAddr, pub.Topic, nUuid, opcodeNewConnection); err != nil {
		log.Warn("failed to send NewConnection", "topic", pub.Topic, "ctrlAddr", pub.CtrlAddr, "err", err)
	}
	return nil
}

// EndSubscription withdraws this process's interest in pub.Topic at one
// remote publisher: an EndConnection frame on its control endpoint, and
// the shared data connection torn down once no other topic needs it.
func (s *SharedState) EndSubscription(pub types.Publisher, nUuid types.NodeID) {
	if err := s.sendControl(pub.CtrlAddr, pub.Topic, nUuid, opcodeEndConnection); err != nil {
		log.Debug("failed to send EndConnection", "topic", pub.Topic, "ctrlAddr", pub.CtrlAddr, "err", err)
	}
	s.releaseSubConn(pub.Addr, pub.Topic)
}

// ensureSubConn dials addr if this process doesn't already hold a
// connection there, idempotent per address per §4.7's Subscribe rule,
// and records topic as one of the connection's users.
func (s *SharedState) ensureSubConn(addr, topic string) error {
	s.subsMu.Lock()
	s.addSubConnTopic(addr, topic)
	if _, ok := s.subConns[addr]; ok {
		s.subsMu.Unlock()
		return nil
	}
	s.subsMu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, controlDialTimeout)
	if err != nil {
		s.subsMu.Lock()
		s.delSubConnTopic(addr, topic)
		s.subsMu.Unlock()
		return err
	}

	sc := &subscriberConn{conn: conn, stop: make(chan struct{})}

	s.subsMu.Lock()
	if _, ok := s.subConns[addr]; ok {
		s.subsMu.Unlock()
		conn.Close()
		return nil
	}
	s.subConns[addr] = sc
	s.subsMu.Unlock()

	s.wg.Add(1)
	go s.readPushedFrames(addr, sc)
	return nil
}

// releaseSubConn removes topic from addr's user set, closing the
// connection when the last topic lets go.
func (s *SharedState) releaseSubConn(addr, topic string) {
	s.subsMu.Lock()
	s.delSubConnTopic(addr, topic)
	var sc *subscriberConn
	if len(s.subConnTopics[addr]) == 0 {
		delete(s.subConnTopics, addr)
		sc = s.subConns[addr]
		delete(s.subConns, addr)
	}
	s.subsMu.Unlock()

	if sc != nil {
		close(sc.stop)
		sc.conn.Close()
	}
}

// addSubConnTopic and delSubConnTopic maintain the addr -> topics user
// set; callers hold subsMu.
func (s *SharedState) addSubConnTopic(addr, topic string) {
	topics, ok := s.subConnTopics[addr]
	if !ok {
		topics = make(map[string]struct{})
		s.subConnTopics[addr] = topics
	}
	topics[topic] = struct{}{}
}

func (s *SharedState) delSubConnTopic(addr, topic string) {
	if topics, ok := s.subConnTopics[addr]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(s.subConnTopics, addr)
		}
	}
}

// readPushedFrames loops reading [topic, payload] frames pushed by the
// remote publisher and dispatches each to locally registered handlers of
// the frame's topic.
func (s *SharedState) readPushedFrames(addr string, sc *subscriberConn) {
	defer s.wg.Done()
	defer func() {
		s.subsMu.Lock()
		if s.subConns[addr] == sc {
			delete(s.subConns, addr)
		}
		s.subsMu.Unlock()
		sc.conn.Close()
	}()

	for {
		frames, err := frame.Read(sc.conn, 2)
		if err != nil {
			select {
			case <-sc.stop:
			default:
				log.Debug("subscriber connection closed", "addr", addr, "err", err)
			}
			return
		}
		topic, payload := string(frames[0]), frames[1]
		s.Subs.Dispatch(topic, "", payload)
	}
}

// closeAllSubConns tears down every outbound subscriber connection.
func (s *SharedState) closeAllSubConns() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for addr, sc := range s.subConns {
		close(sc.stop)
		sc.conn.Close()
		delete(s.subConns, addr)
	}
	for addr := range s.subConnTopics {
		delete(s.subConnTopics, addr)
	}
}
