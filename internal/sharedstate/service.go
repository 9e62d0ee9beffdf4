package sharedstate

import (
	"net"
	"sync"

	"github.com/meshbus/meshbus/internal/registry"
	"github.com/meshbus/meshbus/pkg/frame"
	"github.com/meshbus/meshbus/pkg/types"
)

// requesterConn is this process's one outbound connection to a remote
// replier address, shared across every pending request to it. A write
// lock keeps concurrent requests from interleaving frames; replies are
// matched back to callers by handler UUID, so arrival order is free.
type requesterConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// acceptServiceConns accepts inbound connections on the replier socket.
// Remote requesters dial in, write request frames and read replies off
// the same connection.
func (s *SharedState) acceptServiceConns() {
	defer s.wg.Done()

	for {
		conn, err := s.srvListener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				log.Warn("replier accept failed", "err", err)
			}
			return
		}
		go s.serveRequests(conn)
	}
}

// serveRequests loops reading [service, hUuid, request] frames off one
// inbound requester connection, invokes the registered replier and
// writes the [service, hUuid, reply, success] answer back.
func (s *SharedState) serveRequests(conn net.Conn) {
	defer conn.Close()

	for {
		frames, err := frame.Read(conn, 3)
		if err != nil {
			return
		}
		service, hUuid, request := string(frames[0]), frames[1], frames[2]

		var reply []byte
		success := false
		if replier, ok := s.Repliers.AnyForService(service); ok {
			reply, success = replier.Invoke(request)
		} else {
			log.Debug("request for unknown service", "service", service)
		}

		successByte := byte(0)
		if success {
			successByte = 1
		}
		if err := frame.Write(conn, []byte(service), hUuid, reply, []byte{successByte}); err != nil {
			log.Warn("failed to write reply", "service", service, "err", err)
			return
		}
	}
}

// SendRequest delivers one pending request to the replier at addr,
// reusing (or establishing) the shared requester connection. The reply
// arrives asynchronously on the same connection and is routed to h via
// the reply registry by handler UUID.
func (s *SharedState) SendRequest(addr, service string, h *registry.ReplyHandler) error {
	rc, err := s.ensureReqConn(addr)
	if err != nil {
		return err
	}

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	return frame.Write(rc.conn, []byte(service), h.HUuid.Bytes(), h.Request)
}

func (s *SharedState) ensureReqConn(addr string) (*requesterConn, error) {
	s.reqMu.Lock()
	if rc, ok := s.reqConns[addr]; ok {
		s.reqMu.Unlock()
		return rc, nil
	}
	s.reqMu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, controlDialTimeout)
	if err != nil {
		return nil, err
	}
	rc := &requesterConn{conn: conn}

	s.reqMu.Lock()
	if existing, ok := s.reqConns[addr]; ok {
		s.reqMu.Unlock()
		conn.Close()
		return existing, nil
	}
	s.reqConns[addr] = rc
	s.reqMu.Unlock()

	s.wg.Add(1)
	go s.readReplies(addr, rc)
	return rc, nil
}

// readReplies loops reading [service, hUuid, reply, success] frames off
// one requester connection and wakes the caller waiting on each handler
// UUID. Replies for handlers already timed out and removed are dropped.
func (s *SharedState) readReplies(addr string, rc *requesterConn) {
	defer s.wg.Done()
	defer func() {
		s.reqMu.Lock()
		if s.reqConns[addr] == rc {
			delete(s.reqConns, addr)
		}
		s.reqMu.Unlock()
		rc.conn.Close()
	}()

	for {
		frames, err := frame.Read(rc.conn, 4)
		if err != nil {
			return
		}

		hUuid, err := types.HandlerIDFromBytes(frames[1])
		if err != nil {
			log.Debug("reply with malformed handler uuid dropped", "addr", addr)
			continue
		}
		success := len(frames[3]) == 1 && frames[3][0] == 1

		if h, ok := s.Replies.Get(hUuid); ok {
			h.NotifyResult(frames[2], success)
		} else {
			log.Debug("reply for unknown handler dropped", "handler", hUuid.String())
		}
	}
}

func (s *SharedState) closeAllReqConns() {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	for addr, rc := range s.reqConns {
		rc.conn.Close()
		delete(s.reqConns, addr)
	}
}
