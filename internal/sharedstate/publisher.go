package sharedstate

import (
	"io"
	"net"

	"github.com/meshbus/meshbus/pkg/frame"
)

// acceptPublisherConns accepts every inbound connection on the process's
// one publisher socket. These connections are push-only: remote
// subscribers dial in and read the [topic, payload] frames Publish
// writes, and never send anything themselves.
func (s *SharedState) acceptPublisherConns() {
	defer s.wg.Done()

	for {
		conn, err := s.pubListener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				log.Warn("publisher accept failed", "err", err)
			}
			return
		}

		s.pubConnsMu.Lock()
		s.pubConns[conn] = struct{}{}
		s.pubConnsMu.Unlock()

		go s.watchPubConn(conn)
	}
}

// watchPubConn blocks until the subscriber closes its end, then drops
// the connection from the push set. Subscribers never write, so any
// bytes that do arrive are discarded.
func (s *SharedState) watchPubConn(conn net.Conn) {
	io.Copy(io.Discard, conn)
	s.removePubConn(conn)
}

func (s *SharedState) removePubConn(conn net.Conn) {
	s.pubConnsMu.Lock()
	delete(s.pubConns, conn)
	s.pubConnsMu.Unlock()
	conn.Close()
}

func (s *SharedState) closeAllPubConns() {
	s.pubConnsMu.Lock()
	defer s.pubConnsMu.Unlock()
	for conn := range s.pubConns {
		conn.Close()
		delete(s.pubConns, conn)
	}
}

// Publish pushes [topic, payload] to every connected subscriber, but
// only if the remote-subscriber map reports interest in topic — matching
// §4.7's "skip the wire path" rule. Connections whose write fails are
// dropped; the subscriber reconnects via discovery if it still cares.
func (s *SharedState) Publish(topic string, payload []byte) error {
	if !s.HasRemoteSubscriber(topic) {
		return nil
	}

	s.pubConnsMu.Lock()
	conns := make([]net.Conn, 0, len(s.pubConns))
	for conn := range s.pubConns {
		conns = append(conns, conn)
	}
	s.pubConnsMu.Unlock()

	// One writer at a time: interleaved writes from two publishing nodes
	// would corrupt the frame stream a subscriber sees.
	s.pubWriteMu.Lock()
	defer s.pubWriteMu.Unlock()

	var firstErr error
	for _, conn := range conns {
		if err := frame.Write(conn, []byte(topic), payload); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.removePubConn(conn)
		}
	}
	return firstErr
}
