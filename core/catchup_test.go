package core

import (
	"context"
	"testing"
)

type fakeCatchUpNetwork struct {
	peers    []Peer
	hasBlock map[string]bool // peerID -> whether it confirms the polled block
}

func (f *fakeCatchUpNetwork) Request(ctx context.Context, procedure string, data interface{}, requiredCapability func(PeerCapabilities) bool) ([]byte, error) {
	return nil, nil
}
func (f *fakeCatchUpNetwork) Emit(ctx context.Context, event string, data interface{}, peerLimit int) error {
	return nil
}
func (f *fakeCatchUpNetwork) Subscribe(eventType GossipEventType) (<-chan GossipEvent, func()) {
	return nil, func() {}
}
func (f *fakeCatchUpNetwork) UpdateModuleState(ctx context.Context, caps PeerCapabilities) error {
	return nil
}
func (f *fakeCatchUpNetwork) ListPeers() []Peer { return f.peers }
func (f *fakeCatchUpNetwork) HasBlock(ctx context.Context, peerID string, blockId string) (bool, error) {
	return f.hasBlock[peerID], nil
}

func newTestCatchUpEngine(t *testing.T, network NetworkChannel) *CatchUpEngine {
	t.Helper()
	cfg := testConfig(t)
	return NewCatchUpEngine(cfg, nil, nil, nil, nil, network, nil)
}

func TestCatchUpEngineBatchLinksAcceptsContiguousChain(t *testing.T) {
	c := newTestCatchUpEngine(t, nil)
	last := &Block{Id: "b10", Height: 10}
	batch := []*Block{
		{Id: "b11", Height: 11, PreviousBlockId: "b10"},
		{Id: "b12", Height: 12, PreviousBlockId: "b11"},
	}
	if !c.batchLinks(last, batch) {
		t.Fatal("expected a contiguous, correctly-linked batch to be accepted")
	}
}

func TestCatchUpEngineBatchLinksRejectsBrokenFirstLink(t *testing.T) {
	c := newTestCatchUpEngine(t, nil)
	last := &Block{Id: "b10", Height: 10}
	batch := []*Block{{Id: "b11", Height: 11, PreviousBlockId: "wrong"}}
	if c.batchLinks(last, batch) {
		t.Fatal("expected rejection: batch's first block does not chain from last")
	}
}

func TestCatchUpEngineBatchLinksRejectsBrokenInteriorLink(t *testing.T) {
	c := newTestCatchUpEngine(t, nil)
	last := &Block{Id: "b10", Height: 10}
	batch := []*Block{
		{Id: "b11", Height: 11, PreviousBlockId: "b10"},
		{Id: "b13", Height: 13, PreviousBlockId: "b11"}, // height gap
	}
	if c.batchLinks(last, batch) {
		t.Fatal("expected rejection: interior block skips a height")
	}
}

func TestCatchUpEngineSampledConsensusConfirmsTrustsEmptyPeerSet(t *testing.T) {
	c := newTestCatchUpEngine(t, &fakeCatchUpNetwork{})
	if !c.sampledConsensusConfirms(context.Background(), "b1") {
		t.Fatal("expected no peers to sample against to trust the batch")
	}
}

func TestCatchUpEngineSampledConsensusConfirmsAboveRatio(t *testing.T) {
	net := &fakeCatchUpNetwork{
		peers: []Peer{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}},
		hasBlock: map[string]bool{
			"p1": true, "p2": true, "p3": true,
		},
	}
	c := newTestCatchUpEngine(t, net)
	if !c.sampledConsensusConfirms(context.Background(), "b1") {
		t.Fatal("expected unanimous peer confirmation to clear the consensus ratio")
	}
}

func TestCatchUpEngineSampledConsensusRejectsBelowRatio(t *testing.T) {
	net := &fakeCatchUpNetwork{
		peers:    []Peer{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}},
		hasBlock: map[string]bool{}, // no peer confirms
	}
	c := newTestCatchUpEngine(t, net)
	if c.sampledConsensusConfirms(context.Background(), "b1") {
		t.Fatal("expected no peer confirmations to fail the consensus ratio")
	}
}

func TestCatchUpEngineVerifyEnclosedQuorumAcceptsSufficientSignatures(t *testing.T) {
	dal := &fakeSigVerifierDAL{accounts: map[Address]*Account{
		"ldposA": {Address: "ldposA"},
		"ldposB": {Address: "ldposB"},
	}}
	sigVerifier := NewBlockSigVerifier(dal, fakeCrypto{})
	cache := activeCache(t, "ldposA", "ldposB", "ldposForger")

	cfg := testConfig(t)
	cfg.MinForgerBlockSignatureRatio = 0.5
	c := &CatchUpEngine{cfg: cfg, sigVerifier: sigVerifier, cache: cache}

	block := &Block{Id: "b1", ForgerAddress: "ldposForger", Signatures: []BlockSignature{
		{BlockId: "b1", SignerAddress: "ldposA"},
	}}
	vb := &VerifiedBlock{Block: block}

	if err := c.verifyEnclosedQuorum(context.Background(), vb, []Address{"ldposA", "ldposB", "ldposForger"}); err != nil {
		t.Fatalf("verifyEnclosedQuorum: %v", err)
	}
}

func TestCatchUpEngineVerifyEnclosedQuorumRejectsInsufficientSignatures(t *testing.T) {
	dal := &fakeSigVerifierDAL{accounts: map[Address]*Account{
		"ldposA": {Address: "ldposA"},
	}}
	sigVerifier := NewBlockSigVerifier(dal, fakeCrypto{})
	cache := activeCache(t, "ldposA", "ldposB", "ldposForger")

	cfg := testConfig(t)
	cfg.MinForgerBlockSignatureRatio = 0.9
	c := &CatchUpEngine{cfg: cfg, sigVerifier: sigVerifier, cache: cache}

	block := &Block{Id: "b1", ForgerAddress: "ldposForger", Signatures: []BlockSignature{
		{BlockId: "b1", SignerAddress: "ldposA"},
	}}
	vb := &VerifiedBlock{Block: block}

	if err := c.verifyEnclosedQuorum(context.Background(), vb, []Address{"ldposA", "ldposB", "ldposForger"}); err == nil {
		t.Fatal("expected rejection: one valid signature does not meet a 0.9 quorum ratio")
	}
}
