package discovery

import (
	"net"
	"time"

	"github.com/meshbus/meshbus/pkg/types"
	"github.com/meshbus/meshbus/pkg/wire"
)

// receptionPollTimeout bounds each blocking read so the task can observe
// ctx cancellation promptly without busy-polling.
const receptionPollTimeout = 250 * time.Millisecond

// receptionTask reads one discovery datagram at a time, refreshes the
// sender's activity timestamp and dispatches by message type. A single
// malformed datagram is logged and dropped; the task never exits on one.
func (e *Engine) receptionTask() {
	defer e.wg.Done()

	buf := make([]byte, wire.MaxDatagramSize)
	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		e.conn.SetReadDeadline(time.Now().Add(receptionPollTimeout))
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-e.ctx.Done():
				return
			default:
			}
			log.Warn("discovery reception error", "err", err)
			continue
		}

		pkt, err := wire.Decode(buf[:n])
		if err != nil {
			log.Debug("malformed discovery packet dropped", "err", err, "from", addr)
			continue
		}

		if pkt.Header.PUuid == e.pUuid {
			continue // self-filtering
		}

		e.touchActivity(pkt.Header.PUuid)
		e.dispatch(pkt, addr.IP.String())
	}
}

// heartbeatTask broadcasts a Hello datagram at the heartbeat interval.
func (e *Engine) heartbeatTask() {
	defer e.wg.Done()

	for {
		timer := time.NewTimer(e.HeartbeatInterval())
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			h := wire.Header{Version: wire.WireVersion, PUuid: e.pUuid, Type: wire.MsgHello}
			data, err := wire.Encode(h, nil)
			if err != nil {
				log.Error("failed to encode Hello", "err", err)
				continue
			}
			e.send(data)
		}
	}
}

// activityTask scans the activity map at the activity interval, evicting
// any process whose last-heard gap exceeds the silence interval.
func (e *Engine) activityTask() {
	defer e.wg.Done()

	for {
		timer := time.NewTimer(e.ActivityInterval())
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.evictSilentProcesses()
		}
	}
}

func (e *Engine) touchActivity(pid types.ProcessID) {
	e.activityMu.Lock()
	e.activity[pid] = time.Now()
	e.activityMu.Unlock()
}

func (e *Engine) evictSilentProcesses() {
	silence := e.SilenceInterval()
	now := time.Now()

	var dead []types.ProcessID
	e.activityMu.Lock()
	for pid, lastHeard := range e.activity {
		if now.Sub(lastHeard) > silence {
			dead = append(dead, pid)
		}
	}
	for _, pid := range dead {
		delete(e.activity, pid)
	}
	e.activityMu.Unlock()

	for _, pid := range dead {
		log.Info("process evicted for silence", "process", pid.ShortString())
		e.index.DelPublishersByProcess(pid)
		e.notifyProcessGone(pid)
	}
}

// dispatch applies §4.4's dispatch table to a decoded, non-self packet.
func (e *Engine) dispatch(pkt wire.Packet, senderIP string) {
	switch pkt.Header.Type {
	case wire.MsgAdv, wire.MsgAdvSrv:
		e.handleAdvertise(pkt, senderIP)
	case wire.MsgSub, wire.MsgSubSrv:
		e.handleSubscribe(pkt, senderIP)
	case wire.MsgUnadv, wire.MsgUnadvSrv:
		e.handleUnadvertise(pkt, senderIP)
	case wire.MsgHello:
		// activity timestamp already refreshed; nothing else to do.
	case wire.MsgBye:
		e.handleBye(pkt.Header.PUuid)
	}
}

func (e *Engine) publisherFromPacket(pkt wire.Packet) types.Publisher {
	pub := types.Publisher{
		Topic:    pkt.Header.Topic,
		Addr:     pkt.Body.Addr,
		CtrlAddr: pkt.Body.CtrlAddr,
		PUuid:    pkt.Header.PUuid,
		NUuid:    pkt.Body.NUuid,
		Scope:    pkt.Body.Scope,
	}
	if pkt.Header.Type == wire.MsgAdvSrv || pkt.Header.Type == wire.MsgUnadvSrv {
		pub.SocketID = pkt.Body.SocketID
		pub.ReqType = pkt.Body.ReqType
		pub.RepType = pkt.Body.RepType
	} else {
		pub.MsgType = pkt.Body.MsgType
	}
	return pub
}

func (e *Engine) handleAdvertise(pkt wire.Packet, senderIP string) {
	if pkt.Body == nil {
		return
	}
	if !e.scopeAllowed(pkt.Body.Scope, senderIP) {
		return
	}

	pub := e.publisherFromPacket(pkt)
	if e.index.AddPublisher(pub) {
		e.fireConnect(pub)
	}
}

func (e *Engine) handleUnadvertise(pkt wire.Packet, senderIP string) {
	if pkt.Body == nil {
		return
	}
	if !e.scopeAllowed(pkt.Body.Scope, senderIP) {
		return
	}

	pub := e.publisherFromPacket(pkt)
	e.fireDisconnect(pub)
	e.index.DelPublisherByNode(pkt.Header.Topic, pkt.Header.PUuid, pub.NUuid)
}

func (e *Engine) handleSubscribe(pkt wire.Packet, senderIP string) {
	advType := wire.MsgAdv
	if pkt.Header.Type == wire.MsgSubSrv {
		advType = wire.MsgAdvSrv
	}

	for _, pub := range e.index.GetPublishers(pkt.Header.Topic) {
		if pub.PUuid != e.pUuid {
			continue // only answer for publishers this process owns
		}
		if !e.scopeAllowed(pub.Scope, senderIP) {
			continue
		}
		data, err := e.encodeAdvertise(advType, pub)
		if err != nil {
			log.Error("failed to encode subscribe answer", "err", err)
			continue
		}
		e.send(data)
	}
}

func (e *Engine) handleBye(pid types.ProcessID) {
	e.activityMu.Lock()
	delete(e.activity, pid)
	e.activityMu.Unlock()

	e.index.DelPublishersByProcess(pid)
	e.notifyProcessGone(pid)
}
