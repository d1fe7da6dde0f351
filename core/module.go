package core

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sacOO7/ldpos-chain/pkg/config"
)

// CryptoClientFactory constructs an independent CryptoClient instance.
// Load calls it once for shared verification use and once more per
// configured forging credential, since a CryptoClient's stateful key
// material is bound to a single Connect call (spec.md §6).
type CryptoClientFactory func() CryptoClient

// loadGenesis reads cfg.GenesisPath (pkg/config's YAML document: root
// block id/timestamp plus the initial accounts and delegates a DAL
// implementation seeds on first Init) or, absent a path, returns the
// bare default genesis every fresh chain starts from.
func loadGenesis(path string) (*config.Genesis, error) {
	if path == "" {
		return &config.Genesis{BlockId: "genesis"}, nil
	}
	g, err := config.LoadGenesis(path)
	if err != nil {
		return nil, validationErr("malformed genesis file %s: %v", path, err)
	}
	if g.BlockId == "" {
		return nil, validationErr("genesis file %s is missing a blockId", path)
	}
	return g, nil
}

// Module is the top-level lifecycle object spec.md §5/§6 describes:
// Load wires every collaborator together and starts the Block-Slot Loop
// and its supporting background tasks; Unload cooperatively stops them.
// Grounded on consensus_start.go/consensus_start_stop_stub.go's
// start/stop pairing, generalized from a single global consensus
// instance to one Module value per Load call.
type Module struct {
	cfg     *config.Config
	dal     DAL
	network NetworkChannel
	events  *EventBus
	logger  *logrus.Logger

	mempool     *Mempool
	cache       *DelegateCache
	clock       *SlotClock
	verifier    *BlockVerifier
	sigVerifier *BlockSigVerifier
	processor   *BlockProcessor
	forger      *Forger
	catchUp     *CatchUpEngine
	slotLoop    *SlotLoop
	gossip      *GossipHandlers
	rpc         *RPC
	metrics     *Metrics

	cancel       context.CancelFunc
	unsubscribes []func()
	wg           sync.WaitGroup
}

// Load builds and starts a Module. The cryptoClient factory builds one
// unconnected CryptoClient for all stateless verification
// (Authenticator/BlockVerifier/BlockSigVerifier) and one freshly
// Connect'd CryptoClient per entry in cfg.ForgingCredentials (spec.md
// §6). app may be nil.
func Load(ctx context.Context, cfg *config.Config, dal DAL, cryptoClient CryptoClientFactory, network NetworkChannel, app ApplicationChannel, logger *logrus.Logger) (*Module, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	genesis, err := loadGenesis(cfg.GenesisPath)
	if err != nil {
		return nil, err
	}
	if err := dal.Init(ctx, genesis); err != nil {
		return nil, err
	}

	events := NewEventBus(app)
	metrics := NewMetrics()
	events.SetMetrics(metrics)
	verifyCrypto := cryptoClient()

	auth := NewAuthenticator(cfg, verifyCrypto)
	mempool, err := NewMempool(cfg, auth, dal, events)
	if err != nil {
		return nil, err
	}
	mempool.SetNetwork(network)

	cache, err := NewDelegateCache(cfg.ForgerCount)
	if err != nil {
		return nil, err
	}
	if err := cache.Refresh(ctx, dal); err != nil {
		return nil, err
	}

	clock := NewSlotClock(cfg.ForgingInterval, cfg.TimePollInterval)
	verifier := NewBlockVerifier(cfg, auth, dal, verifyCrypto, clock)
	sigVerifier := NewBlockSigVerifier(dal, verifyCrypto)
	processor := NewBlockProcessor(cfg, dal, mempool, cache, events)
	forger := NewForger(cfg, auth, dal, mempool)
	catchUp := NewCatchUpEngine(cfg, verifier, sigVerifier, processor, cache, network, logger)
	catchUp.SetMetrics(metrics)

	identities, err := connectForgingIdentities(ctx, cfg, cryptoClient)
	if err != nil {
		return nil, err
	}

	slotLoop := NewSlotLoop(cfg, clock, cache, verifier, sigVerifier, processor, forger, catchUp, network, events, identities, logger)
	slotLoop.SetMetrics(metrics)
	gossip, err := NewGossipHandlers(cfg, mempool, dal, verifier, sigVerifier, cache, slotLoop, network, logger)
	if err != nil {
		return nil, err
	}
	gossip.SetMetrics(metrics)
	rpc := NewRPC(cfg, dal, mempool, cache)

	m := &Module{
		cfg: cfg, dal: dal, network: network, events: events, logger: logger,
		mempool: mempool, cache: cache, clock: clock, verifier: verifier,
		sigVerifier: sigVerifier, processor: processor, forger: forger,
		catchUp: catchUp, slotLoop: slotLoop, gossip: gossip, rpc: rpc,
		metrics: metrics,
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	last, err := m.tip(runCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	m.subscribeGossip(runCtx)
	m.startSlotLoop(runCtx, last)
	m.startExpirySweep(runCtx)
	m.startMetricsPoll(runCtx)

	events.Publish(EventBootstrap, nil)
	return m, nil
}

// connectForgingIdentities resolves cfg.ForgingCredentials into
// Connect'd CryptoClient instances, decrypting encryptedForgingPassphrase
// entries with LDPOS_PASSWORD first (spec.md §6 Environment section).
func connectForgingIdentities(ctx context.Context, cfg *config.Config, factory CryptoClientFactory) ([]LocalForgingIdentity, error) {
	identities := make([]LocalForgingIdentity, 0, len(cfg.ForgingCredentials))
	for _, cred := range cfg.ForgingCredentials {
		passphrase := cred.ForgingPassphrase
		if passphrase == "" && cred.EncryptedForgingPassphrase != "" {
			decrypted, err := config.DecryptPassphrase(cred.EncryptedForgingPassphrase, os.Getenv("LDPOS_PASSWORD"))
			if err != nil {
				return nil, validationErr("could not decrypt forging passphrase for %s: %v", cred.WalletAddress, err)
			}
			passphrase = decrypted
		}

		client := factory()
		opts := ConnectOptions{Passphrase: passphrase, WalletAddress: Address(cred.WalletAddress)}
		if err := client.Connect(ctx, opts); err != nil {
			return nil, validationErr("could not connect forging credential %s: %v", cred.WalletAddress, err)
		}
		identities = append(identities, LocalForgingIdentity{WalletAddress: Address(cred.WalletAddress), Crypto: client})
	}
	return identities, nil
}

// tip returns the last accepted block, falling back to the genesis tip
// the DAL was just (re-)Initialized with.
func (m *Module) tip(ctx context.Context) (*Block, error) {
	height, err := m.dal.GetMaxBlockHeight(ctx)
	if err != nil {
		return nil, err
	}
	return m.dal.GetBlockAtHeight(ctx, height)
}

// subscribeGossip wires the three NetworkChannel event streams to their
// GossipHandlers (spec.md §4.10).
func (m *Module) subscribeGossip(ctx context.Context) {
	if m.network == nil {
		return
	}

	blockCh, blockUnsub := m.network.Subscribe(GossipBlock)
	sigCh, sigUnsub := m.network.Subscribe(GossipBlockSignature)
	txCh, txUnsub := m.network.Subscribe(GossipTransaction)
	m.unsubscribes = append(m.unsubscribes, blockUnsub, sigUnsub, txUnsub)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-blockCh:
				if !ok {
					return
				}
				last, err := m.tip(ctx)
				if err != nil {
					m.logger.WithError(err).Debug("gossip: could not resolve current tip for incoming block")
					continue
				}
				m.gossip.HandleBlock(ctx, ev.Data, last)
			}
		}
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sigCh:
				if !ok {
					return
				}
				if active := m.slotLoop.CurrentBlock(); active != nil {
					m.gossip.HandleBlockSignature(ctx, ev.Data, active)
				}
			}
		}
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-txCh:
				if !ok {
					return
				}
				m.gossip.HandleTransaction(ctx, ev.Data)
			}
		}
	}()
}

func (m *Module) startSlotLoop(ctx context.Context, last *Block) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.slotLoop.Run(ctx, last); err != nil && ctx.Err() == nil {
			m.logger.WithError(err).Error("block-slot loop exited")
		}
	}()
}

// startExpirySweep runs the periodic pending-transaction expiry task of
// spec.md §5 on pendingTransactionExpiryCheckInterval.
func (m *Module) startExpirySweep(ctx context.Context) {
	interval := m.cfg.PendingTransactionExpiryCheckInterval
	if interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-m.cfg.PendingTransactionExpiry).UnixMilli()
				m.mempool.ExpireOlderThan(cutoff)
			}
		}
	}()
}

// startMetricsPoll samples mempool/peer/delegate gauges on
// timePollInterval (no dedicated config option names this cadence, so
// it reuses the Slot Clock's own poll interval).
func (m *Module) startMetricsPoll(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.metrics.Poll(ctx, m.cfg.TimePollInterval, m.mempool, m.network, m.cache)
	}()
}

// RPC exposes the Public RPC surface (spec.md §6) for a host process to
// mount behind its own transport.
func (m *Module) RPC() *RPC { return m.rpc }

// Metrics exposes the Prometheus registry for a host process to mount
// behind its own /metrics handler.
func (m *Module) Metrics() *Metrics { return m.metrics }

// Unload cooperatively stops the Block-Slot Loop and every background
// task, then waits for them to exit (spec.md §5's isActive teardown).
func (m *Module) Unload(ctx context.Context) error {
	m.slotLoop.Stop()
	m.cancel()
	for _, unsub := range m.unsubscribes {
		unsub()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
