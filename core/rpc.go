package core

import (
	"context"

	"github.com/sacOO7/ldpos-chain/pkg/config"
)

// RPC implements spec.md §6's Public RPC surface: every method is a
// thin, read-mostly query against the DAL/Mempool/DelegateCache, with
// offset/limit sanitized against the configured maxPublic/PrivateAPI*
// caps before the call reaches the DAL. Methods never mutate chain
// state directly; PostTransaction is the sole write path, and it only
// ever calls through to the Mempool (spec.md §4.3).
type RPC struct {
	cfg     *config.Config
	dal     DAL
	mempool *Mempool
	cache   *DelegateCache
}

// NewRPC builds an RPC bound to its collaborators.
func NewRPC(cfg *config.Config, dal DAL, mempool *Mempool, cache *DelegateCache) *RPC {
	return &RPC{cfg: cfg, dal: dal, mempool: mempool, cache: cache}
}

// sanitize clamps an offset/limit pair to the configured cap for the
// calling surface (public vs private), per spec.md §6.
func (r *RPC) sanitize(offset, limit int, maxOffset, maxLimit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > maxOffset {
		offset = maxOffset
	}
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	return offset, limit
}

func (r *RPC) publicRange(offset, limit int) (int, int) {
	return r.sanitize(offset, limit, r.cfg.MaxPublicAPIOffset, r.cfg.MaxPublicAPILimit)
}

func (r *RPC) privateRange(offset, limit int) (int, int) {
	return r.sanitize(offset, limit, r.cfg.MaxPrivateAPIOffset, r.cfg.MaxPrivateAPILimit)
}

// GetNetworkSymbol returns the configured network symbol.
func (r *RPC) GetNetworkSymbol(ctx context.Context) (string, error) {
	return r.cfg.NetworkSymbol, nil
}

// GetAccount returns addr's account, lazily materialized per spec.md §3
// if it has never transacted.
func (r *RPC) GetAccount(ctx context.Context, addr Address) (*Account, error) {
	acc, err := r.dal.GetAccount(ctx, addr)
	if err == ErrAccountDidNotExist {
		return DefaultAccount(addr), nil
	}
	return acc, err
}

// GetAccountsByBalance returns accounts ordered by balance.
func (r *RPC) GetAccountsByBalance(ctx context.Context, offset, limit int, order SortOrder) ([]*Account, error) {
	offset, limit = r.publicRange(offset, limit)
	return r.dal.GetAccountsByBalance(ctx, offset, limit, order)
}

// GetMultisigWalletMembers returns addr's registered multisig members,
// or ErrAccountWasNotMultisig if addr isn't a multisig wallet.
func (r *RPC) GetMultisigWalletMembers(ctx context.Context, addr Address) ([]Address, error) {
	acc, err := r.dal.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if acc.Type != AccountTypeMultisig {
		return nil, ErrAccountWasNotMultisig(addr)
	}
	return r.dal.GetMultisigWalletMembers(ctx, addr)
}

// GetMinMultisigRequiredSignatures returns addr's requiredSignatureCount.
func (r *RPC) GetMinMultisigRequiredSignatures(ctx context.Context, addr Address) (int, error) {
	acc, err := r.dal.GetAccount(ctx, addr)
	if err != nil {
		return 0, err
	}
	if acc.Type != AccountTypeMultisig {
		return 0, ErrAccountWasNotMultisig(addr)
	}
	return acc.RequiredSignatureCount, nil
}

// GetSignedPendingTransaction returns a pending transaction by id in its
// simplified (hash-only) form, matching the shape a forged block would
// carry for the same id.
func (r *RPC) GetSignedPendingTransaction(ctx context.Context, id string) (*Transaction, error) {
	tx := r.mempool.LookupPending(id)
	if tx == nil {
		return nil, ErrPendingTransactionDidNotExist(id)
	}
	return tx.Simplify(), nil
}

// GetOutboundPendingTransactions returns addr's currently pending
// transactions it sent, oldest first.
func (r *RPC) GetOutboundPendingTransactions(ctx context.Context, addr Address, offset, limit int) ([]*Transaction, error) {
	offset, limit = r.publicRange(offset, limit)
	pending := r.mempool.PendingForSender(addr)
	return paginate(pending, offset, limit), nil
}

// GetPendingTransactionCount returns the number of addr's currently
// pending transactions.
func (r *RPC) GetPendingTransactionCount(ctx context.Context, addr Address) (int, error) {
	return len(r.mempool.PendingForSender(addr)), nil
}

// PostTransaction is the sole RPC write path: it authenticates and
// enqueues tx via the Mempool (spec.md §4.3), loading multisig member
// accounts first if needed.
func (r *RPC) PostTransaction(ctx context.Context, tx *Transaction) error {
	var members map[Address]*Account
	if tx.IsMultisigSender() {
		wallet, err := r.dal.GetAccount(ctx, tx.SenderAddress)
		if err != nil {
			return err
		}
		members = make(map[Address]*Account, len(wallet.MultisigMembers))
		for _, addr := range wallet.MultisigMembers {
			macc, err := r.dal.GetAccount(ctx, addr)
			if err != nil {
				return err
			}
			members[addr] = macc
		}
	}
	return r.mempool.Submit(ctx, tx, members)
}

// GetTransaction returns a committed transaction by id.
func (r *RPC) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return r.dal.GetTransaction(ctx, id)
}

// GetTransactionsByTimestamp returns committed transactions ordered by
// timestamp.
func (r *RPC) GetTransactionsByTimestamp(ctx context.Context, offset, limit int, order SortOrder) ([]*Transaction, error) {
	offset, limit = r.publicRange(offset, limit)
	return r.dal.GetTransactionsByTimestamp(ctx, offset, limit, order)
}

// GetInboundTransactions returns committed transactions addressed to addr.
func (r *RPC) GetInboundTransactions(ctx context.Context, addr Address, offset, limit int, order SortOrder) ([]*Transaction, error) {
	offset, limit = r.publicRange(offset, limit)
	return r.dal.GetInboundTransactions(ctx, addr, offset, limit, order)
}

// GetOutboundTransactions returns committed transactions sent by addr.
func (r *RPC) GetOutboundTransactions(ctx context.Context, addr Address, offset, limit int, order SortOrder) ([]*Transaction, error) {
	offset, limit = r.publicRange(offset, limit)
	return r.dal.GetOutboundTransactions(ctx, addr, offset, limit, order)
}

// GetTransactionsFromBlock returns every transaction included in blockId.
func (r *RPC) GetTransactionsFromBlock(ctx context.Context, blockId string, offset, limit int) ([]*Transaction, error) {
	offset, limit = r.publicRange(offset, limit)
	return r.dal.GetTransactionsFromBlock(ctx, blockId, offset, limit)
}

// GetInboundTransactionsFromBlock filters GetTransactionsFromBlock to
// transactions addressed to addr.
func (r *RPC) GetInboundTransactionsFromBlock(ctx context.Context, blockId string, addr Address, offset, limit int) ([]*Transaction, error) {
	all, err := r.dal.GetTransactionsFromBlock(ctx, blockId, 0, r.cfg.MaxPublicAPILimit)
	if err != nil {
		return nil, err
	}
	offset, limit = r.publicRange(offset, limit)
	filtered := make([]*Transaction, 0, len(all))
	for _, tx := range all {
		if tx.RecipientAddress == addr {
			filtered = append(filtered, tx)
		}
	}
	return paginate(filtered, offset, limit), nil
}

// GetOutboundTransactionsFromBlock filters GetTransactionsFromBlock to
// transactions sent by addr.
func (r *RPC) GetOutboundTransactionsFromBlock(ctx context.Context, blockId string, addr Address, offset, limit int) ([]*Transaction, error) {
	all, err := r.dal.GetTransactionsFromBlock(ctx, blockId, 0, r.cfg.MaxPublicAPILimit)
	if err != nil {
		return nil, err
	}
	offset, limit = r.publicRange(offset, limit)
	filtered := make([]*Transaction, 0, len(all))
	for _, tx := range all {
		if tx.SenderAddress == addr {
			filtered = append(filtered, tx)
		}
	}
	return paginate(filtered, offset, limit), nil
}

// GetLastBlockAtTimestamp returns the last block accepted at or before
// timestamp.
func (r *RPC) GetLastBlockAtTimestamp(ctx context.Context, timestamp int64) (*Block, error) {
	return r.dal.GetLastBlockAtTimestamp(ctx, timestamp)
}

// GetMaxBlockHeight returns the chain's current tip height.
func (r *RPC) GetMaxBlockHeight(ctx context.Context) (uint64, error) {
	return r.dal.GetMaxBlockHeight(ctx)
}

// GetBlocksFromHeight returns up to limit blocks starting at height.
func (r *RPC) GetBlocksFromHeight(ctx context.Context, height uint64, limit int) ([]*Block, error) {
	_, limit = r.publicRange(0, limit)
	return r.dal.GetBlocksFromHeight(ctx, height, limit)
}

// GetSignedBlocksFromHeight is GetBlocksFromHeight with each block's
// delegate co-signatures attached.
func (r *RPC) GetSignedBlocksFromHeight(ctx context.Context, height uint64, limit int) ([]*Block, error) {
	_, limit = r.publicRange(0, limit)
	return r.dal.GetSignedBlocksFromHeight(ctx, height, limit)
}

// GetBlocksBetweenHeights returns blocks in [from, to].
func (r *RPC) GetBlocksBetweenHeights(ctx context.Context, from, to uint64) ([]*Block, error) {
	if to-from > uint64(r.cfg.MaxPublicAPILimit) {
		to = from + uint64(r.cfg.MaxPublicAPILimit)
	}
	return r.dal.GetBlocksBetweenHeights(ctx, from, to)
}

// GetBlockAtHeight returns the block accepted at height.
func (r *RPC) GetBlockAtHeight(ctx context.Context, height uint64) (*Block, error) {
	return r.dal.GetBlockAtHeight(ctx, height)
}

// GetBlock returns a committed block by id.
func (r *RPC) GetBlock(ctx context.Context, id string) (*Block, error) {
	return r.dal.GetBlock(ctx, id)
}

// HasBlock reports whether id is a known committed block.
func (r *RPC) HasBlock(ctx context.Context, id string) (bool, error) {
	return r.dal.HasBlock(ctx, id)
}

// GetBlocksByTimestamp returns committed blocks ordered by timestamp.
func (r *RPC) GetBlocksByTimestamp(ctx context.Context, offset, limit int, order SortOrder) ([]*Block, error) {
	offset, limit = r.publicRange(offset, limit)
	return r.dal.GetBlocksByTimestamp(ctx, offset, limit, order)
}

// GetDelegate returns addr's delegate record.
func (r *RPC) GetDelegate(ctx context.Context, addr Address) (*Delegate, error) {
	return r.dal.GetDelegate(ctx, addr)
}

// GetDelegatesByVoteWeight returns delegates ordered by vote weight.
func (r *RPC) GetDelegatesByVoteWeight(ctx context.Context, offset, limit int, order SortOrder) ([]*Delegate, error) {
	offset, limit = r.publicRange(offset, limit)
	return r.dal.GetDelegatesByVoteWeight(ctx, offset, limit, order)
}

// GetForgingDelegates returns the current top-forgerCount delegate
// rotation this node is forging against (spec.md §4.1's ActiveDelegates).
func (r *RPC) GetForgingDelegates(ctx context.Context) ([]Address, error) {
	return r.cache.ActiveDelegates(), nil
}

// GetAccountVotes returns the delegates addr currently has votes cast for.
func (r *RPC) GetAccountVotes(ctx context.Context, addr Address) ([]Vote, error) {
	return r.dal.GetAccountVotes(ctx, addr)
}

// GetMinFees returns the configured per-transaction-type fee floors.
func (r *RPC) GetMinFees(ctx context.Context) (config.MinTransactionFees, error) {
	return r.cfg.MinTransactionFees, nil
}

// GetModuleOptions returns the full resolved configuration in effect.
func (r *RPC) GetModuleOptions(ctx context.Context) (*config.Config, error) {
	return r.cfg, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
