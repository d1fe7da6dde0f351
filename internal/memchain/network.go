package memchain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sacOO7/ldpos-chain/core"
)

// NetworkChannel is a loopback core.NetworkChannel for a single-node
// demo deployment: there are no peers to gossip with, so Emit only
// echoes the event back to this node's own subscribers (exercising the
// same dispatch path a multi-node deployment would use) and Request
// always reports no peer was available. Grounded on stream.go's
// broadcastStream fan-out shape, generalized from one typed stream to a
// per-GossipEventType registry.
type NetworkChannel struct {
	mu   sync.Mutex
	subs map[core.GossipEventType]map[int]chan core.GossipEvent
	next int
}

// NewNetworkChannel returns a NetworkChannel with no peers.
func NewNetworkChannel() *NetworkChannel {
	return &NetworkChannel{subs: make(map[core.GossipEventType]map[int]chan core.GossipEvent)}
}

func (n *NetworkChannel) Subscribe(eventType core.GossipEventType) (<-chan core.GossipEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs[eventType] == nil {
		n.subs[eventType] = make(map[int]chan core.GossipEvent)
	}
	id := n.next
	n.next++
	ch := make(chan core.GossipEvent, 8)
	n.subs[eventType][id] = ch
	return ch, func() {
		n.mu.Lock()
		delete(n.subs[eventType], id)
		n.mu.Unlock()
	}
}

// Emit loops the event back to this node's own subscribers of
// eventType. peerLimit is ignored: there are no peers to limit fanout
// to.
func (n *NetworkChannel) Emit(ctx context.Context, event string, data interface{}, peerLimit int) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[core.GossipEventType(event)] {
		select {
		case ch <- core.GossipEvent{Type: core.GossipEventType(event), Data: raw}:
		default:
		}
	}
	return nil
}

// Request always fails: a single-node deployment has no peer to ask.
func (n *NetworkChannel) Request(ctx context.Context, procedure string, data interface{}, requiredCapability func(core.PeerCapabilities) bool) ([]byte, error) {
	return nil, fmt.Errorf("memchain: no peers available to serve %q", procedure)
}

func (n *NetworkChannel) UpdateModuleState(ctx context.Context, caps core.PeerCapabilities) error {
	return nil
}

func (n *NetworkChannel) ListPeers() []core.Peer { return nil }

func (n *NetworkChannel) HasBlock(ctx context.Context, peerID string, blockId string) (bool, error) {
	return false, nil
}
