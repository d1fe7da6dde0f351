// Package memchain provides in-memory reference implementations of the
// core package's external collaborator interfaces (DAL, CryptoClient,
// NetworkChannel), used by cmd/ldposnode to run a single-node demo
// without a real store, key-management service, or peer network.
package memchain

import (
	"context"
	"sort"
	"sync"

	"github.com/sacOO7/ldpos-chain/core"
	"github.com/sacOO7/ldpos-chain/pkg/config"
)

// DAL is an in-memory core.DAL, grounded on the teacher's own
// map-backed ledger pattern (common_structs.go's Ledger.Accounts) but
// restructured around this module's Account/Delegate/Vote/Block/
// Transaction shapes and guarded by a single RWMutex rather than
// per-field locks.
type DAL struct {
	mu sync.RWMutex

	accounts  map[core.Address]*core.Account
	delegates map[core.Address]*core.Delegate
	votes     map[core.Address]map[core.Address]bool // voter -> delegate -> true
	multisig  map[core.Address][]core.Address

	transactions map[string]*core.Transaction
	blocksByID   map[string]*core.Block
	blocksByHt   []*core.Block // index == height
}

// NewDAL returns an empty in-memory DAL.
func NewDAL() *DAL {
	return &DAL{
		accounts:     make(map[core.Address]*core.Account),
		delegates:    make(map[core.Address]*core.Delegate),
		votes:        make(map[core.Address]map[core.Address]bool),
		multisig:     make(map[core.Address][]core.Address),
		transactions: make(map[string]*core.Transaction),
		blocksByID:   make(map[string]*core.Block),
	}
}

// Init seeds the genesis block and, the first time it runs, every
// account and delegate genesis declares. A non-empty chain is left
// untouched so a restarted node never re-seeds over its own history.
func (d *DAL) Init(ctx context.Context, genesis *config.Genesis) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.blocksByHt) > 0 {
		return nil // already initialized
	}

	block := core.GenesisBlock(genesis.BlockId, genesis.Timestamp)
	d.blocksByHt = append(d.blocksByHt, block)
	d.blocksByID[block.Id] = block

	for _, ga := range genesis.Accounts {
		balance, err := core.ParseBigInt(ga.Balance)
		if err != nil {
			return err
		}
		d.accounts[core.Address(ga.Address)] = &core.Account{
			Address:          core.Address(ga.Address),
			Type:             core.AccountTypeSig,
			Balance:          balance,
			SigPublicKey:     ga.SigPublicKey,
			ForgingPublicKey: ga.ForgingPublicKey,
		}
	}
	for _, gd := range genesis.Delegates {
		weight, err := core.ParseBigInt(gd.VoteWeight)
		if err != nil {
			return err
		}
		d.delegates[core.Address(gd.Address)] = &core.Delegate{
			Address:    core.Address(gd.Address),
			VoteWeight: weight,
		}
	}
	return nil
}

func (d *DAL) GetAccount(ctx context.Context, addr core.Address) (*core.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acc, ok := d.accounts[addr]
	if !ok {
		return nil, core.ErrAccountDidNotExist
	}
	return acc.Clone(), nil
}

func (d *DAL) UpsertAccount(ctx context.Context, acc *core.Account) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[acc.Address] = acc.Clone()
	return nil
}

func (d *DAL) GetAccountsByBalance(ctx context.Context, offset, limit int, order core.SortOrder) ([]*core.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	accs := make([]*core.Account, 0, len(d.accounts))
	for _, a := range d.accounts {
		accs = append(accs, a)
	}
	sort.Slice(accs, func(i, j int) bool {
		c := accs[i].Balance.Cmp(accs[j].Balance)
		if order == core.SortDescending {
			return c > 0
		}
		return c < 0
	})
	return paginateSlice(accs, offset, limit), nil
}

func (d *DAL) GetMultisigWalletMembers(ctx context.Context, addr core.Address) ([]core.Address, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members, ok := d.multisig[addr]
	if !ok {
		return nil, core.ErrAccountDidNotExist
	}
	return append([]core.Address(nil), members...), nil
}

func (d *DAL) RegisterMultisigWallet(ctx context.Context, addr core.Address, members []core.Address, required int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.multisig[addr] = append([]core.Address(nil), members...)
	return nil
}

func (d *DAL) GetDelegate(ctx context.Context, addr core.Address) (*core.Delegate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	del, ok := d.delegates[addr]
	if !ok {
		return nil, core.ErrAccountDidNotExist
	}
	cp := *del
	return &cp, nil
}

func (d *DAL) UpsertDelegate(ctx context.Context, del *core.Delegate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *del
	d.delegates[del.Address] = &cp
	return nil
}

func (d *DAL) HasDelegate(ctx context.Context, addr core.Address) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.delegates[addr]
	return ok, nil
}

func (d *DAL) GetDelegatesByVoteWeight(ctx context.Context, offset, limit int, order core.SortOrder) ([]*core.Delegate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dels := make([]*core.Delegate, 0, len(d.delegates))
	for _, del := range d.delegates {
		dels = append(dels, del)
	}
	sort.Slice(dels, func(i, j int) bool {
		c := dels[i].VoteWeight.Cmp(dels[j].VoteWeight)
		if c != 0 {
			if order == core.SortDescending {
				return c > 0
			}
			return c < 0
		}
		return dels[i].Address < dels[j].Address
	})
	return paginateSlice(dels, offset, limit), nil
}

func (d *DAL) GetAccountVotes(ctx context.Context, addr core.Address) ([]core.Vote, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var votes []core.Vote
	for delegate := range d.votes[addr] {
		votes = append(votes, core.Vote{VoterAddress: addr, DelegateAddress: delegate})
	}
	return votes, nil
}

func (d *DAL) HasVoteForDelegate(ctx context.Context, voter, delegate core.Address) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.votes[voter][delegate], nil
}

func (d *DAL) Vote(ctx context.Context, voter, delegate core.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.votes[voter] == nil {
		d.votes[voter] = make(map[core.Address]bool)
	}
	d.votes[voter][delegate] = true
	return nil
}

func (d *DAL) Unvote(ctx context.Context, voter, delegate core.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.votes[voter], delegate)
	return nil
}

func (d *DAL) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tx, ok := d.transactions[id]
	if !ok {
		return nil, core.ErrInvalidTransaction("transaction does not exist")
	}
	return tx, nil
}

func (d *DAL) HasTransaction(ctx context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.transactions[id]
	return ok, nil
}

func (d *DAL) GetTransactionsByTimestamp(ctx context.Context, offset, limit int, order core.SortOrder) ([]*core.Transaction, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	txs := make([]*core.Transaction, 0, len(d.transactions))
	for _, tx := range d.transactions {
		txs = append(txs, tx)
	}
	sortTransactionsByTimestamp(txs, order)
	return paginateSlice(txs, offset, limit), nil
}

func (d *DAL) GetInboundTransactions(ctx context.Context, addr core.Address, offset, limit int, order core.SortOrder) ([]*core.Transaction, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var txs []*core.Transaction
	for _, tx := range d.transactions {
		if tx.RecipientAddress == addr {
			txs = append(txs, tx)
		}
	}
	sortTransactionsByTimestamp(txs, order)
	return paginateSlice(txs, offset, limit), nil
}

func (d *DAL) GetOutboundTransactions(ctx context.Context, addr core.Address, offset, limit int, order core.SortOrder) ([]*core.Transaction, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var txs []*core.Transaction
	for _, tx := range d.transactions {
		if tx.SenderAddress == addr {
			txs = append(txs, tx)
		}
	}
	sortTransactionsByTimestamp(txs, order)
	return paginateSlice(txs, offset, limit), nil
}

func (d *DAL) GetTransactionsFromBlock(ctx context.Context, blockId string, offset, limit int) ([]*core.Transaction, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.blocksByID[blockId]
	if !ok {
		return nil, core.ErrBlockDidNotExist
	}
	return paginateSlice(b.Transactions, offset, limit), nil
}

func (d *DAL) GetBlock(ctx context.Context, id string) (*core.Block, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.blocksByID[id]
	if !ok {
		return nil, core.ErrBlockDidNotExist
	}
	return b, nil
}

func (d *DAL) HasBlock(ctx context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.blocksByID[id]
	return ok, nil
}

func (d *DAL) GetBlockAtHeight(ctx context.Context, height uint64) (*core.Block, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if height >= uint64(len(d.blocksByHt)) {
		return nil, core.ErrBlockDidNotExist
	}
	return d.blocksByHt[height], nil
}

func (d *DAL) GetBlocksFromHeight(ctx context.Context, height uint64, limit int) ([]*core.Block, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if height >= uint64(len(d.blocksByHt)) {
		return nil, nil
	}
	end := height + uint64(limit)
	if end > uint64(len(d.blocksByHt)) {
		end = uint64(len(d.blocksByHt))
	}
	return append([]*core.Block(nil), d.blocksByHt[height:end]...), nil
}

func (d *DAL) GetSignedBlocksFromHeight(ctx context.Context, height uint64, limit int) ([]*core.Block, error) {
	return d.GetBlocksFromHeight(ctx, height, limit)
}

func (d *DAL) GetSignedBlockAtHeight(ctx context.Context, height uint64) (*core.Block, error) {
	return d.GetBlockAtHeight(ctx, height)
}

func (d *DAL) GetBlocksBetweenHeights(ctx context.Context, from, to uint64) ([]*core.Block, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if from >= uint64(len(d.blocksByHt)) {
		return nil, nil
	}
	if to >= uint64(len(d.blocksByHt)) {
		to = uint64(len(d.blocksByHt)) - 1
	}
	return append([]*core.Block(nil), d.blocksByHt[from:to+1]...), nil
}

func (d *DAL) GetBlocksByTimestamp(ctx context.Context, offset, limit int, order core.SortOrder) ([]*core.Block, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	blocks := append([]*core.Block(nil), d.blocksByHt...)
	sort.Slice(blocks, func(i, j int) bool {
		if order == core.SortDescending {
			return blocks[i].Timestamp > blocks[j].Timestamp
		}
		return blocks[i].Timestamp < blocks[j].Timestamp
	})
	return paginateSlice(blocks, offset, limit), nil
}

func (d *DAL) GetLastBlockAtTimestamp(ctx context.Context, timestamp int64) (*core.Block, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var found *core.Block
	for _, b := range d.blocksByHt {
		if b.Timestamp <= timestamp {
			found = b
		} else {
			break
		}
	}
	if found == nil {
		return nil, core.ErrBlockDidNotExist
	}
	return found, nil
}

func (d *DAL) GetMaxBlockHeight(ctx context.Context) (uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.blocksByHt) == 0 {
		return 0, nil
	}
	return uint64(len(d.blocksByHt) - 1), nil
}

func (d *DAL) UpsertBlock(ctx context.Context, b *core.Block, synched bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.blocksByID[b.Id]; ok {
		existing.Signatures = b.Signatures
		return nil
	}
	if uint64(len(d.blocksByHt)) != b.Height {
		return core.ErrBlockDidNotExist
	}
	d.blocksByHt = append(d.blocksByHt, b)
	d.blocksByID[b.Id] = b
	for _, tx := range b.Transactions {
		d.transactions[tx.Id] = tx
	}
	return nil
}

func sortTransactionsByTimestamp(txs []*core.Transaction, order core.SortOrder) {
	sort.Slice(txs, func(i, j int) bool {
		if order == core.SortDescending {
			return txs[i].Timestamp > txs[j].Timestamp
		}
		return txs[i].Timestamp < txs[j].Timestamp
	})
}

func paginateSlice[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
