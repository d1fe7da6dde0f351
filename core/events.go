package core

import "sync"

// ModuleEvent names one of the three published module events of
// spec.md §6.
type ModuleEvent string

const (
	EventBootstrap    ModuleEvent = "bootstrap"
	EventChainChanges ModuleEvent = "chainChanges"
	EventTransaction  ModuleEvent = "transaction"
)

// ChainChangeType distinguishes the two chainChanges payloads emitted
// by the Block Processor / Block-Slot Loop (spec.md §4.6/§4.8).
type ChainChangeType string

const (
	ChainChangeAddBlock  ChainChangeType = "addBlock"
	ChainChangeSkipBlock ChainChangeType = "skipBlock"
)

// ChainChangePayload is the data carried by a chainChanges event.
type ChainChangePayload struct {
	Type  ChainChangeType `json:"type"`
	Block *Block          `json:"block,omitempty"`
}

// EventBus fans module-lifecycle events out to the host Application
// Channel (spec.md §6). It is a thin adapter: Publish forwards directly
// to the wrapped ApplicationChannel, kept as its own type so callers
// throughout core (Mempool, BlockProcessor, SlotLoop) depend on a
// narrow, mockable surface rather than the full ApplicationChannel.
type EventBus struct {
	mu      sync.RWMutex
	app     ApplicationChannel
	metrics *Metrics
}

// NewEventBus wraps app; app may be nil, in which case Publish is a
// no-op (useful for tests that don't need event delivery).
func NewEventBus(app ApplicationChannel) *EventBus {
	return &EventBus{app: app}
}

// SetMetrics attaches a Metrics collector so every chainChanges event
// also updates the ops surface's counters/gauges (spec.md §5's
// addBlock/skipBlock payloads, the natural point to observe both
// without threading a Metrics reference through BlockProcessor, SlotLoop
// and CatchUpEngine individually).
func (b *EventBus) SetMetrics(m *Metrics) {
	b.mu.Lock()
	b.metrics = m
	b.mu.Unlock()
}

// Publish forwards event/data to the wrapped ApplicationChannel and, for
// chainChanges events, updates the attached Metrics.
func (b *EventBus) Publish(event ModuleEvent, data interface{}) {
	b.mu.RLock()
	app := b.app
	metrics := b.metrics
	b.mu.RUnlock()

	if metrics != nil && event == EventChainChanges {
		if payload, ok := data.(ChainChangePayload); ok {
			switch payload.Type {
			case ChainChangeAddBlock:
				if payload.Block != nil {
					metrics.ObserveBlockProcessed(payload.Block.Height)
				}
			case ChainChangeSkipBlock:
				metrics.ObserveSlotSkipped()
			}
		}
	}

	if app != nil {
		app.Publish(string(event), data)
	}
}
