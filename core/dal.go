package core

import (
	"context"

	"github.com/sacOO7/ldpos-chain/pkg/config"
)

// SortOrder controls ascending/descending iteration for DAL range
// queries (spec.md §6).
type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

// DAL is the persistent Data Access Layer, an external collaborator
// (spec.md §1/§6) providing account/block/delegate/vote storage. The
// core never implements this interface itself; a concrete
// implementation is supplied at Load time.
type DAL interface {
	// Init seeds the chain's genesis block plus whatever initial
	// accounts and delegates genesis declares. Implementations must
	// treat a non-empty chain as already initialized and leave it
	// untouched, so repeated Load calls against the same store are
	// idempotent.
	Init(ctx context.Context, genesis *config.Genesis) error

	GetAccount(ctx context.Context, addr Address) (*Account, error)
	UpsertAccount(ctx context.Context, acc *Account) error
	GetAccountsByBalance(ctx context.Context, offset, limit int, order SortOrder) ([]*Account, error)

	GetMultisigWalletMembers(ctx context.Context, addr Address) ([]Address, error)
	RegisterMultisigWallet(ctx context.Context, addr Address, members []Address, required int) error

	GetDelegate(ctx context.Context, addr Address) (*Delegate, error)
	UpsertDelegate(ctx context.Context, d *Delegate) error
	HasDelegate(ctx context.Context, addr Address) (bool, error)
	GetDelegatesByVoteWeight(ctx context.Context, offset, limit int, order SortOrder) ([]*Delegate, error)

	GetAccountVotes(ctx context.Context, addr Address) ([]Vote, error)
	HasVoteForDelegate(ctx context.Context, voter, delegate Address) (bool, error)
	Vote(ctx context.Context, voter, delegate Address) error
	Unvote(ctx context.Context, voter, delegate Address) error

	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	HasTransaction(ctx context.Context, id string) (bool, error)
	GetTransactionsByTimestamp(ctx context.Context, offset, limit int, order SortOrder) ([]*Transaction, error)
	GetInboundTransactions(ctx context.Context, addr Address, offset, limit int, order SortOrder) ([]*Transaction, error)
	GetOutboundTransactions(ctx context.Context, addr Address, offset, limit int, order SortOrder) ([]*Transaction, error)
	GetTransactionsFromBlock(ctx context.Context, blockId string, offset, limit int) ([]*Transaction, error)

	GetBlock(ctx context.Context, id string) (*Block, error)
	HasBlock(ctx context.Context, id string) (bool, error)
	GetBlockAtHeight(ctx context.Context, height uint64) (*Block, error)
	GetBlocksFromHeight(ctx context.Context, height uint64, limit int) ([]*Block, error)
	GetBlocksBetweenHeights(ctx context.Context, from, to uint64) ([]*Block, error)
	GetBlocksByTimestamp(ctx context.Context, offset, limit int, order SortOrder) ([]*Block, error)
	GetSignedBlocksFromHeight(ctx context.Context, height uint64, limit int) ([]*Block, error)
	GetSignedBlockAtHeight(ctx context.Context, height uint64) (*Block, error)
	GetLastBlockAtTimestamp(ctx context.Context, timestamp int64) (*Block, error)
	GetMaxBlockHeight(ctx context.Context) (uint64, error)
	UpsertBlock(ctx context.Context, b *Block, synched bool) error
}
