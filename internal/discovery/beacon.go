package discovery

import (
	"time"

	"github.com/meshbus/meshbus/pkg/types"
	"github.com/meshbus/meshbus/pkg/wire"
)

// beacon retransmits one advertised (topic, node) pair's Adv/AdvSrv
// packet at the advertise interval until stopped.
type beacon struct {
	stop chan struct{}
}

// startBeacon registers and launches a beacon for (topic, pub.NUuid).
func (e *Engine) startBeacon(topic string, nid types.NodeID, pub types.Publisher, advType wire.MsgType) {
	b := &beacon{stop: make(chan struct{})}

	e.beaconMu.Lock()
	nodes, ok := e.beacons[topic]
	if !ok {
		nodes = make(map[types.NodeID]*beacon)
		e.beacons[topic] = nodes
	}
	nodes[nid] = b
	e.beaconMu.Unlock()

	e.beaconWg.Add(1)
	go func() {
		defer e.beaconWg.Done()
		for {
			timer := time.NewTimer(e.AdvertiseInterval())
			select {
			case <-b.stop:
				timer.Stop()
				return
			case <-timer.C:
				data, err := e.encodeAdvertise(advType, pub)
				if err != nil {
					log.Error("beacon failed to encode advertisement", "topic", topic, "err", err)
					continue
				}
				e.send(data)
			}
		}
	}()
}

// stopBeacon stops and removes the beacon for (topic, nid), if any.
func (e *Engine) stopBeacon(topic string, nid types.NodeID) {
	e.beaconMu.Lock()
	defer e.beaconMu.Unlock()

	nodes, ok := e.beacons[topic]
	if !ok {
		return
	}
	if b, ok := nodes[nid]; ok {
		close(b.stop)
		delete(nodes, nid)
	}
	if len(nodes) == 0 {
		delete(e.beacons, topic)
	}
}

// stopAllBeacons stops every registered beacon. Called once during Stop,
// after the Bye broadcast.
func (e *Engine) stopAllBeacons() {
	e.beaconMu.Lock()
	defer e.beaconMu.Unlock()

	for topic, nodes := range e.beacons {
		for nid, b := range nodes {
			close(b.stop)
			delete(nodes, nid)
		}
		delete(e.beacons, topic)
	}
}
