package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetRegistry is the external authority on token ownership and transfer
// approval for every collection the marketplace trades.
//
// Callers must treat any returned error as "not owner / not approved"; a
// misbehaving collection contract must never be able to brick the
// marketplace by making queries fail loudly. ErrAssetNotFound distinguishes
// a token that does not exist from a query that failed outright, but both
// map to a negative validity result.
type AssetRegistry interface {
	OwnerOf(ctx context.Context, collection common.Address, tokenID uint64) (common.Address, error)
	GetApproved(ctx context.Context, collection common.Address, tokenID uint64) (common.Address, error)
	IsApprovedForAll(ctx context.Context, collection common.Address, owner, operator common.Address) (bool, error)

	// TransferOwnership atomically moves the token from one owner to the
	// next. It fails, with no state change, if from is not the current
	// owner or the caller lacks approval.
	TransferOwnership(ctx context.Context, collection common.Address, from, to common.Address, tokenID uint64) error
}

// PaymentRegistry is the external authority on payment-token balances and
// spending allowances, and the atomic value-transfer primitive settlement
// is built on. Moving funds on behalf of a holder requires a pre-granted
// allowance to the marketplace.
type PaymentRegistry interface {
	Allowance(ctx context.Context, holder, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// RoyaltyInfo is a collection's royalty destination and fee fraction,
// expressed in points over the fee denominator of 1000.
type RoyaltyInfo struct {
	Recipient common.Address
	FeePoints uint64
}

// RoyaltyRegistry resolves the per-collection royalty configuration. It is
// externally governed and read-only from the marketplace's perspective.
type RoyaltyRegistry interface {
	RoyaltyOf(ctx context.Context, collection common.Address) (RoyaltyInfo, error)
}
