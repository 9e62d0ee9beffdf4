// Package topicindex maintains the discovery layer's view of which
// publishers exist for which topics: a single in-memory index keyed by
// topic, then by owning process, then by node.
package topicindex

import (
	"sync"

	"github.com/meshbus/meshbus/pkg/types"
)

// Index is the topic -> process -> node -> Publisher table the discovery
// engine updates as Adv/Unadv/Bye messages arrive, and that Advertise,
// Publish and Request consult to resolve endpoints.
//
// A single RWMutex guards the whole nested map; the index never holds
// the lock across a callback.
type Index struct {
	mu sync.RWMutex
	// topic -> process -> node -> publisher
	byTopic map[string]map[types.ProcessID]map[types.NodeID]types.Publisher
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		byTopic: make(map[string]map[types.ProcessID]map[types.NodeID]types.Publisher),
	}
}

// AddPublisher inserts or replaces pub under its topic, process and node.
// It reports whether this (topic, process, node) triple was not already
// present, so callers can distinguish a fresh advertisement from a
// refreshed one.
func (idx *Index) AddPublisher(pub types.Publisher) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	byProcess, ok := idx.byTopic[pub.Topic]
	if !ok {
		byProcess = make(map[types.ProcessID]map[types.NodeID]types.Publisher)
		idx.byTopic[pub.Topic] = byProcess
	}

	byNode, ok := byProcess[pub.PUuid]
	if !ok {
		byNode = make(map[types.NodeID]types.Publisher)
		byProcess[pub.PUuid] = byNode
	}

	_, existed := byNode[pub.NUuid]
	byNode[pub.NUuid] = pub
	return !existed
}

// DelPublisherByNode removes the publisher advertised for topic by
// (process, node), reporting whether it existed.
func (idx *Index) DelPublisherByNode(topic string, pid types.ProcessID, nid types.NodeID) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	byProcess, ok := idx.byTopic[topic]
	if !ok {
		return false
	}
	byNode, ok := byProcess[pid]
	if !ok {
		return false
	}
	if _, ok := byNode[nid]; !ok {
		return false
	}
	delete(byNode, nid)
	if len(byNode) == 0 {
		delete(byProcess, pid)
	}
	if len(byProcess) == 0 {
		delete(idx.byTopic, topic)
	}
	return true
}

// DelPublishersByProcess removes every publisher owned by pid, across all
// topics. It returns the topics that lost their last publisher as a
// result, so the caller can drive topic-removed bookkeeping.
func (idx *Index) DelPublishersByProcess(pid types.ProcessID) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var emptied []string
	for topic, byProcess := range idx.byTopic {
		if _, ok := byProcess[pid]; !ok {
			continue
		}
		delete(byProcess, pid)
		if len(byProcess) == 0 {
			delete(idx.byTopic, topic)
			emptied = append(emptied, topic)
		}
	}
	return emptied
}

// GetPublishers returns every publisher currently known for topic.
func (idx *Index) GetPublishers(topic string) []types.Publisher {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	byProcess, ok := idx.byTopic[topic]
	if !ok {
		return nil
	}
	var out []types.Publisher
	for _, byNode := range byProcess {
		for _, pub := range byNode {
			out = append(out, pub)
		}
	}
	return out
}

// GetPublisher returns the publisher a specific (process, node) pair
// advertised for topic, if any.
func (idx *Index) GetPublisher(topic string, pid types.ProcessID, nid types.NodeID) (types.Publisher, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	byProcess, ok := idx.byTopic[topic]
	if !ok {
		return types.Publisher{}, false
	}
	byNode, ok := byProcess[pid]
	if !ok {
		return types.Publisher{}, false
	}
	pub, ok := byNode[nid]
	return pub, ok
}

// HasAnyPublisher reports whether pid has at least one known publisher
// for topic.
func (idx *Index) HasAnyPublisher(topic string, pid types.ProcessID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	byProcess, ok := idx.byTopic[topic]
	if !ok {
		return false
	}
	return len(byProcess[pid]) > 0
}

// ListTopics returns every topic with at least one known publisher.
func (idx *Index) ListTopics() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	topics := make([]string, 0, len(idx.byTopic))
	for topic := range idx.byTopic {
		topics = append(topics, topic)
	}
	return topics
}
