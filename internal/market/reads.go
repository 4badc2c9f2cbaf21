package market

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
)

// Read operations evaluate validity lazily: stale records stay in the
// ledger but are filtered out of every result here. They are only removed
// when a mutating operation touches them or an explicit prune runs.

// GetTokenListing returns the token's listing if one is stored and
// currently valid.
func (e *Engine) GetTokenListing(ctx context.Context, collection common.Address, tokenID uint64) (domain.Listing, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	listing, ok := e.ledger.Listing(collection, tokenID)
	if !ok || !e.oracle.IsListingValid(ctx, listing) {
		return domain.Listing{}, false
	}
	return listing, true
}

// GetTokenListings returns the currently valid listings in the index
// window [offset, offset+limit). The window is applied to the stored index
// before filtering, so a page may come back shorter than limit even when
// more valid listings exist beyond it.
func (e *Engine) GetTokenListings(ctx context.Context, collection common.Address, offset, limit int) []domain.Listing {
	e.mu.Lock()
	defer e.mu.Unlock()

	page := e.ledger.ListingsPage(collection, offset, limit)
	out := make([]domain.Listing, 0, len(page))
	for _, listing := range page {
		if e.oracle.IsListingValid(ctx, listing) {
			out = append(out, listing)
		}
	}
	return out
}

// GetTokenBid returns the bidder's bid on the token if one is stored and
// currently valid.
func (e *Engine) GetTokenBid(ctx context.Context, collection common.Address, tokenID uint64, bidder common.Address) (domain.Bid, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bid, ok := e.ledger.Bid(collection, tokenID, bidder)
	if !ok || !e.oracle.IsBidValid(ctx, bid) {
		return domain.Bid{}, false
	}
	return bid, true
}

// GetTokenBids returns all currently valid bids on the token.
func (e *Engine) GetTokenBids(ctx context.Context, collection common.Address, tokenID uint64) []domain.Bid {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validBids(ctx, collection, tokenID)
}

// GetTokenHighestBid returns the highest-priced currently valid bid on the
// token, or the zero-value sentinel bid when none exists. Ties go to the
// bid encountered first in index order; index order is implementation
// defined, so callers must not read meaning into the winner among equals.
func (e *Engine) GetTokenHighestBid(ctx context.Context, collection common.Address, tokenID uint64) domain.Bid {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.highestBid(ctx, collection, tokenID)
}

// GetTokenHighestBids returns, for each token in the bid-index window
// [offset, offset+limit), its highest currently valid bid. Tokens whose
// bids are all invalid are omitted.
func (e *Engine) GetTokenHighestBids(ctx context.Context, collection common.Address, offset, limit int) []domain.Bid {
	e.mu.Lock()
	defer e.mu.Unlock()

	tokens := e.ledger.TokensWithBids(collection, offset, limit)
	out := make([]domain.Bid, 0, len(tokens))
	for _, tokenID := range tokens {
		if best := e.highestBid(ctx, collection, tokenID); !best.IsZero() {
			out = append(out, best)
		}
	}
	return out
}

// GetBidsByBidder returns the bidder's currently valid bids across the
// collection, windowed by [offset, offset+limit) over their stored bids.
func (e *Engine) GetBidsByBidder(ctx context.Context, collection common.Address, bidder common.Address, offset, limit int) []domain.Bid {
	e.mu.Lock()
	defer e.mu.Unlock()

	all := e.ledger.BidsByBidder(collection, bidder)
	start, end := clampPage(len(all), offset, limit)
	out := make([]domain.Bid, 0, end-start)
	for _, bid := range all[start:end] {
		if e.oracle.IsBidValid(ctx, bid) {
			out = append(out, bid)
		}
	}
	return out
}

func (e *Engine) validBids(ctx context.Context, collection common.Address, tokenID uint64) []domain.Bid {
	stored := e.ledger.BidsForToken(collection, tokenID)
	out := make([]domain.Bid, 0, len(stored))
	for _, bid := range stored {
		if e.oracle.IsBidValid(ctx, bid) {
			out = append(out, bid)
		}
	}
	return out
}

func (e *Engine) highestBid(ctx context.Context, collection common.Address, tokenID uint64) domain.Bid {
	var best domain.Bid
	for _, bid := range e.validBids(ctx, collection, tokenID) {
		if best.IsZero() || bid.Price.Cmp(best.Price) > 0 {
			best = bid
		}
	}
	return best
}
