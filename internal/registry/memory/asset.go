// Package memory provides in-process implementations of the asset,
// payment, and royalty registries. They back the sim operating mode and
// the test suites; the eth package provides the on-chain equivalents.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
)

type tokenKey struct {
	collection common.Address
	tokenID    uint64
}

// AssetLedger is an in-memory domain.AssetRegistry with ERC-721 ownership
// semantics: per-token owner, per-token approval (cleared on transfer),
// and per-owner operator approvals.
type AssetLedger struct {
	mu        sync.Mutex
	owners    map[tokenKey]common.Address
	approvals map[tokenKey]common.Address
	operators map[common.Address]map[common.Address]map[common.Address]bool // collection → owner → operator

	// TransferHook, when set, runs synchronously inside TransferOwnership
	// after preconditions pass and before state changes. Tests use it to
	// simulate a malicious collection re-entering the marketplace.
	TransferHook func(collection common.Address, from, to common.Address, tokenID uint64)

	// FailQueries makes every read return an error, simulating a
	// misbehaving collection contract.
	FailQueries bool

	// FailTransfers makes TransferOwnership return an error after its
	// preconditions pass, simulating a transfer that reverts on chain.
	FailTransfers bool
}

// NewAssetLedger creates an empty AssetLedger.
func NewAssetLedger() *AssetLedger {
	return &AssetLedger{
		owners:    make(map[tokenKey]common.Address),
		approvals: make(map[tokenKey]common.Address),
		operators: make(map[common.Address]map[common.Address]map[common.Address]bool),
	}
}

// Mint assigns the token to an owner, creating it if absent.
func (a *AssetLedger) Mint(collection common.Address, tokenID uint64, owner common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.owners[tokenKey{collection, tokenID}] = owner
}

// Approve grants token-level transfer approval to the operator.
func (a *AssetLedger) Approve(collection common.Address, tokenID uint64, operator common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.approvals[tokenKey{collection, tokenID}] = operator
}

// SetApprovalForAll grants or revokes the operator's approval over all of
// the owner's tokens in the collection.
func (a *AssetLedger) SetApprovalForAll(collection, owner, operator common.Address, approved bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	byOwner, ok := a.operators[collection]
	if !ok {
		byOwner = make(map[common.Address]map[common.Address]bool)
		a.operators[collection] = byOwner
	}
	byOp, ok := byOwner[owner]
	if !ok {
		byOp = make(map[common.Address]bool)
		byOwner[owner] = byOp
	}
	byOp[operator] = approved
}

func (a *AssetLedger) OwnerOf(ctx context.Context, collection common.Address, tokenID uint64) (common.Address, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailQueries {
		return common.Address{}, fmt.Errorf("memory: asset query failed")
	}
	owner, ok := a.owners[tokenKey{collection, tokenID}]
	if !ok {
		return common.Address{}, domain.ErrAssetNotFound
	}
	return owner, nil
}

func (a *AssetLedger) GetApproved(ctx context.Context, collection common.Address, tokenID uint64) (common.Address, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailQueries {
		return common.Address{}, fmt.Errorf("memory: asset query failed")
	}
	if _, ok := a.owners[tokenKey{collection, tokenID}]; !ok {
		return common.Address{}, domain.ErrAssetNotFound
	}
	return a.approvals[tokenKey{collection, tokenID}], nil
}

func (a *AssetLedger) IsApprovedForAll(ctx context.Context, collection common.Address, owner, operator common.Address) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailQueries {
		return false, fmt.Errorf("memory: asset query failed")
	}
	return a.operators[collection][owner][operator], nil
}

func (a *AssetLedger) TransferOwnership(ctx context.Context, collection common.Address, from, to common.Address, tokenID uint64) error {
	a.mu.Lock()
	key := tokenKey{collection, tokenID}
	owner, ok := a.owners[key]
	if !ok {
		a.mu.Unlock()
		return domain.ErrAssetNotFound
	}
	if owner != from {
		a.mu.Unlock()
		return fmt.Errorf("memory: %s does not own token %d", from.Hex(), tokenID)
	}
	if a.FailTransfers {
		a.mu.Unlock()
		return fmt.Errorf("memory: asset transfer reverted")
	}
	hook := a.TransferHook
	a.mu.Unlock()

	// Hooks run outside the ledger lock, like an external contract call.
	if hook != nil {
		hook(collection, from, to, tokenID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.owners[key] = to
	delete(a.approvals, key) // token-level approval does not survive transfer
	return nil
}

var _ domain.AssetRegistry = (*AssetLedger)(nil)
