package core

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsObserveBlockProcessedUpdatesHeightAndCounter(t *testing.T) {
	m := NewMetrics()
	m.ObserveBlockProcessed(5)
	m.ObserveBlockProcessed(6)

	if got := testutil.ToFloat64(m.blockHeight); got != 6 {
		t.Fatalf("blockHeight = %v, want 6", got)
	}
	if got := testutil.ToFloat64(m.blocksProcessed); got != 2 {
		t.Fatalf("blocksProcessed = %v, want 2", got)
	}
}

func TestMetricsObserveGossipRejectionLabelsByKind(t *testing.T) {
	m := NewMetrics()
	m.ObserveGossipRejection("transaction")
	m.ObserveGossipRejection("transaction")
	m.ObserveGossipRejection("block")

	if got := testutil.ToFloat64(m.gossipRejections.WithLabelValues("transaction")); got != 2 {
		t.Fatalf("transaction rejections = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.gossipRejections.WithLabelValues("block")); got != 1 {
		t.Fatalf("block rejections = %v, want 1", got)
	}
}

func TestMetricsPollSamplesMempoolAndDelegateCounts(t *testing.T) {
	sender := Address("ldposSender000000000000000000000000000000")
	dal := &fakeMempoolDAL{accounts: map[Address]*Account{sender: accountWithKeys(sender, 1_000_000_000)}}
	mp := newTestMempool(t, dal)
	tx := sigTx("tx1", sender, testSigKey, 1)
	if err := mp.Submit(context.Background(), tx, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	requirePendingCount(t, mp, sender, 1)

	cache, err := NewDelegateCache(1)
	if err != nil {
		t.Fatalf("NewDelegateCache: %v", err)
	}
	if err := cache.Refresh(context.Background(), &stubDelegateDAL{delegates: []*Delegate{{Address: "ldposA", VoteWeight: NewBigInt(1)}}}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	m := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Poll(ctx, time.Millisecond, mp, nil, cache)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(m.pendingTxGauge) == 1 && testutil.ToFloat64(m.activeDelegates) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if got := testutil.ToFloat64(m.pendingTxGauge); got != 1 {
		t.Fatalf("pendingTxGauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeDelegates); got != 1 {
		t.Fatalf("activeDelegates = %v, want 1", got)
	}
}
