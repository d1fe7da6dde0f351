package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the node's Prometheus collectors. Grounded on
// system_health_logging.go's HealthLogger: a dedicated registry plus a
// fixed set of named gauges/counters, generalized from that file's
// ledger/coin/txpool snapshot fields to this module's own DPoS
// concerns (slots, quorum, catch-up, mempool depth).
type Metrics struct {
	Registry *prometheus.Registry

	blockHeight        prometheus.Gauge
	pendingTxGauge     prometheus.Gauge
	peerCountGauge     prometheus.Gauge
	activeDelegates    prometheus.Gauge
	blocksProcessed    prometheus.Counter
	slotsSkipped       prometheus.Counter
	doubleForgesSeen   prometheus.Counter
	catchUpFailures    prometheus.Counter
	catchUpBlocksAdded prometheus.Counter
	gossipRejections   *prometheus.CounterVec
}

// NewMetrics builds a Metrics with a private registry, mirroring
// system_health_logging.go's NewHealthLogger registration shape.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ldpos_block_height",
			Help: "Current accepted block height of the node",
		}),
		pendingTxGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ldpos_pending_transactions",
			Help: "Number of transactions currently pending across all senders",
		}),
		peerCountGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ldpos_peer_count",
			Help: "Number of peers known to the Network Channel",
		}),
		activeDelegates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ldpos_active_delegates",
			Help: "Number of delegates currently in the top-active forging set",
		}),
		blocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldpos_blocks_processed_total",
			Help: "Total blocks applied by the Block Processor, forged or caught up",
		}),
		slotsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldpos_slots_skipped_total",
			Help: "Total block slots that produced no processed block",
		}),
		doubleForgesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldpos_double_forges_seen_total",
			Help: "Total timestamps observed with more than one distinct forged block id",
		}),
		catchUpFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldpos_catch_up_failures_total",
			Help: "Total catch-up batch fetch/verification failures",
		}),
		catchUpBlocksAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldpos_catch_up_blocks_added_total",
			Help: "Total blocks accepted via the Catch-Up Engine rather than local forging",
		}),
		gossipRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ldpos_gossip_rejections_total",
			Help: "Total gossip messages rejected by kind (transaction, block, blockSignature)",
		}, []string{"kind"}),
	}

	m.Registry.MustRegister(
		m.blockHeight,
		m.pendingTxGauge,
		m.peerCountGauge,
		m.activeDelegates,
		m.blocksProcessed,
		m.slotsSkipped,
		m.doubleForgesSeen,
		m.catchUpFailures,
		m.catchUpBlocksAdded,
		m.gossipRejections,
	)
	return m
}

func (m *Metrics) ObserveBlockProcessed(height uint64) {
	m.blockHeight.Set(float64(height))
	m.blocksProcessed.Inc()
}

func (m *Metrics) ObserveSlotSkipped()     { m.slotsSkipped.Inc() }
func (m *Metrics) ObserveDoubleForge()     { m.doubleForgesSeen.Inc() }
func (m *Metrics) ObserveCatchUpFailure()  { m.catchUpFailures.Inc() }
func (m *Metrics) ObserveCatchUpBlocks(n int) {
	m.catchUpBlocksAdded.Add(float64(n))
}
func (m *Metrics) ObserveGossipRejection(kind string) { m.gossipRejections.WithLabelValues(kind).Inc() }

// Poll samples mempool depth, peer count and active-delegate count on
// interval until ctx is cancelled, mirroring
// system_health_logging.go's RecordMetrics polling loop.
func (m *Metrics) Poll(ctx context.Context, interval time.Duration, mempool *Mempool, network NetworkChannel, cache *DelegateCache) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending := 0
			for _, addr := range mempool.Senders() {
				pending += len(mempool.PendingForSender(addr))
			}
			m.pendingTxGauge.Set(float64(pending))
			if network != nil {
				m.peerCountGauge.Set(float64(len(network.ListPeers())))
			}
			m.activeDelegates.Set(float64(len(cache.ActiveDelegates())))
		}
	}
}
