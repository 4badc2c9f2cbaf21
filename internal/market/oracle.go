package market

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
)

// Oracle decides whether a stored listing or bid is currently exercisable
// by cross-checking it against the live asset and payment registries.
//
// Stored records are intent, never fact: the Oracle is evaluated fresh on
// every read and before every settlement. Registry query failures are
// treated as a negative result; a broken collection contract can only make
// its own records invalid, never take the marketplace down with it.
type Oracle struct {
	assets   domain.AssetRegistry
	payments domain.PaymentRegistry
	// operator is the marketplace address that must hold transfer approval
	// and spending allowance.
	operator common.Address
	now      func() time.Time
}

// NewOracle creates an Oracle bound to the given registries and marketplace
// operator address.
func NewOracle(assets domain.AssetRegistry, payments domain.PaymentRegistry, operator common.Address) *Oracle {
	return &Oracle{
		assets:   assets,
		payments: payments,
		operator: operator,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Tests inject a fixed clock.
func (o *Oracle) WithClock(now func() time.Time) *Oracle {
	o.now = now
	return o
}

// IsListingValid reports whether the listing can be exercised right now:
// the recorded seller still owns the token, the marketplace holds transfer
// approval for it, the price is positive, and the expiry has not lapsed.
func (o *Oracle) IsListingValid(ctx context.Context, listing domain.Listing) bool {
	if listing.IsZero() || listing.Price.Sign() <= 0 {
		return false
	}
	if !listing.ExpireAt.After(o.now()) {
		return false
	}

	owner, err := o.assets.OwnerOf(ctx, listing.Collection, listing.TokenID)
	if err != nil || owner != listing.Seller {
		return false
	}

	return o.marketplaceApproved(ctx, listing.Collection, listing.TokenID, owner)
}

// IsBidValid reports whether the bid can be exercised right now: the bidder
// does not already own the token, their allowance to the marketplace and
// their balance both cover the price, the price is positive, and the expiry
// has not lapsed.
func (o *Oracle) IsBidValid(ctx context.Context, bid domain.Bid) bool {
	if bid.IsZero() || bid.Price.Sign() <= 0 {
		return false
	}
	if !bid.ExpireAt.After(o.now()) {
		return false
	}

	owner, err := o.assets.OwnerOf(ctx, bid.Collection, bid.TokenID)
	if err != nil || owner == bid.Bidder {
		return false
	}

	allowance, err := o.payments.Allowance(ctx, bid.Bidder, o.operator)
	if err != nil || allowance.Cmp(bid.Price) < 0 {
		return false
	}

	balance, err := o.payments.BalanceOf(ctx, bid.Bidder)
	if err != nil || balance.Cmp(bid.Price) < 0 {
		return false
	}

	return true
}

// marketplaceApproved reports whether the marketplace may move the token:
// either a token-level approval or an operator approval over all of the
// owner's tokens in the collection.
func (o *Oracle) marketplaceApproved(ctx context.Context, collection common.Address, tokenID uint64, owner common.Address) bool {
	approved, err := o.assets.GetApproved(ctx, collection, tokenID)
	if err == nil && approved == o.operator {
		return true
	}
	all, err := o.assets.IsApprovedForAll(ctx, collection, owner, o.operator)
	return err == nil && all
}
