package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
)

// Administrative surface. Every setter is gated on the marketplace
// operator address.

// Policy returns a copy of the current policy record.
func (e *Engine) Policy() Policy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy
}

// Operator returns the marketplace operator address.
func (e *Engine) Operator() common.Address {
	return e.operator
}

// SetTradingEnabled flips the trading flag. Exits (delist, withdraw, buy,
// accept) remain available while trading is disabled.
func (e *Engine) SetTradingEnabled(ctx context.Context, caller common.Address, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.operator {
		return domain.ErrUnauthorized
	}
	e.policy.TradingEnabled = enabled
	e.logger.InfoContext(ctx, "market: trading flag updated", slog.Bool("enabled", enabled))
	return nil
}

// SetExpireWindow updates the bounds every new listing and bid expiry must
// fall within.
func (e *Engine) SetExpireWindow(ctx context.Context, caller common.Address, min, max time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.operator {
		return domain.ErrUnauthorized
	}
	next := e.policy
	next.MinExpireWindow = min
	next.MaxExpireWindow = max
	if err := next.Validate(); err != nil {
		return err
	}
	e.policy = next
	e.logger.InfoContext(ctx, "market: expire window updated",
		slog.Duration("min", min),
		slog.Duration("max", max),
	)
	return nil
}

// SetServiceFee updates the operator's cut, capped at MaxServiceFeePoints.
func (e *Engine) SetServiceFee(ctx context.Context, caller common.Address, points uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.operator {
		return domain.ErrUnauthorized
	}
	if points > MaxServiceFeePoints {
		return domain.ErrPolicy("service fee %d exceeds cap %d", points, MaxServiceFeePoints)
	}
	e.policy.ServiceFeePoints = points
	e.logger.InfoContext(ctx, "market: service fee updated", slog.Uint64("points", points))
	return nil
}

// Prune walks the collection's stored listings and bids and removes every
// record the oracle reports as invalid. Lazy invalidation keeps stale
// intent in storage indefinitely otherwise; prune bounds that growth.
func (e *Engine) Prune(ctx context.Context, caller, collection common.Address) (listingsRemoved, bidsRemoved int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.operator {
		return 0, 0, domain.ErrUnauthorized
	}

	// Snapshot before removal: the index sets swap-remove underneath
	// iteration otherwise.
	stale := make([]domain.Listing, 0)
	for _, listing := range e.ledger.ListingsPage(collection, 0, e.ledger.ListingCount(collection)) {
		if !e.oracle.IsListingValid(ctx, listing) {
			stale = append(stale, listing)
		}
	}
	for _, listing := range stale {
		if e.ledger.RemoveListing(collection, listing.TokenID) {
			listingsRemoved++
		}
	}

	staleBids := make([]domain.Bid, 0)
	for _, tokenID := range e.ledger.TokensWithBids(collection, 0, e.ledger.BidTokenCount(collection)) {
		for _, bid := range e.ledger.BidsForToken(collection, tokenID) {
			if !e.oracle.IsBidValid(ctx, bid) {
				staleBids = append(staleBids, bid)
			}
		}
	}
	for _, bid := range staleBids {
		if e.ledger.RemoveBid(collection, bid.TokenID, bid.Bidder) {
			bidsRemoved++
		}
	}

	e.logger.InfoContext(ctx, "market: pruned stale records",
		slog.String("collection", collection.Hex()),
		slog.Int("listings_removed", listingsRemoved),
		slog.Int("bids_removed", bidsRemoved),
	)
	return listingsRemoved, bidsRemoved, nil
}
