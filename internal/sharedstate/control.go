package sharedstate

import (
	"net"
	"time"

	"github.com/meshbus/meshbus/pkg/frame"
	"github.com/meshbus/meshbus/pkg/types"
)

// Control opcodes, carried as the last frame of the four-frame control
// message [topic, subscriber-address, subscriber-node-uuid, opcode].
const (
	opcodeNewConnection byte = 1
	opcodeEndConnection byte = 2
)

const controlDialTimeout = 5 * time.Second

// acceptControlConns accepts inbound connections on the control socket.
// Remote subscribers dial in, deliver one or more control frames and
// hang up.
func (s *SharedState) acceptControlConns() {
	defer s.wg.Done()

	for {
		conn, err := s.ctrlListener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				log.Warn("control accept failed", "err", err)
			}
			return
		}
		go s.serveControl(conn)
	}
}

// serveControl reads control frames off one inbound connection until it
// closes, updating the remote-subscriber map Publish consults.
func (s *SharedState) serveControl(conn net.Conn) {
	defer conn.Close()

	for {
		frames, err := frame.Read(conn, 4)
		if err != nil {
			return
		}
		topic, subAddr := string(frames[0]), string(frames[1])
		if len(frames[3]) != 1 {
			log.Debug("control frame with malformed opcode dropped", "topic", topic)
			continue
		}

		switch frames[3][0] {
		case opcodeNewConnection:
			s.addRemoteSub(topic, subAddr)
			log.Debug("remote subscriber registered", "topic", topic, "addr", subAddr)
		case opcodeEndConnection:
			s.delRemoteSub(topic, subAddr)
			log.Debug("remote subscriber withdrawn", "topic", topic, "addr", subAddr)
		default:
			log.Debug("control frame with unknown opcode dropped", "topic", topic, "opcode", frames[3][0])
		}
	}
}

// sendControl dials a publisher's control endpoint and delivers one
// [topic, our-address, node-uuid, opcode] frame.
func (s *SharedState) sendControl(ctrlAddr, topic string, nUuid types.NodeID, opcode byte) error {
	conn, err := net.DialTimeout("tcp", ctrlAddr, controlDialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	return frame.Write(conn, []byte(topic), []byte(s.pubAddr), nUuid.Bytes(), []byte{opcode})
}

func (s *SharedState) addRemoteSub(topic, addr string) {
	s.remoteSubsMu.Lock()
	defer s.remoteSubsMu.Unlock()
	addrs, ok := s.remoteSubs[topic]
	if !ok {
		addrs = make(map[string]struct{})
		s.remoteSubs[topic] = addrs
	}
	addrs[addr] = struct{}{}
}

func (s *SharedState) delRemoteSub(topic, addr string) {
	s.remoteSubsMu.Lock()
	defer s.remoteSubsMu.Unlock()
	if addrs, ok := s.remoteSubs[topic]; ok {
		delete(addrs, addr)
		if len(addrs) == 0 {
			delete(s.remoteSubs, topic)
		}
	}
}

// HasRemoteSubscriber reports whether any remote process has announced
// interest in topic, i.e. whether Publish needs the wire path at all.
func (s *SharedState) HasRemoteSubscriber(topic string) bool {
	s.remoteSubsMu.RLock()
	defer s.remoteSubsMu.RUnlock()
	return len(s.remoteSubs[topic]) > 0
}
