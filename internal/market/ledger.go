package market

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
)

// Ledger is the per-collection storage of listings and bids together with
// the membership indexes used for paginated reads.
//
// Invariants, maintained by every mutation:
//   - listingIndex contains a token id iff listings has an entry for it
//   - bidIndex contains a token id iff at least one bid exists for it
//   - bidders[id] mirrors the key set of bids[id]
//
// The Ledger performs no validity checks; stale entries stay stored until
// a mutating operation purges them. The Ledger is not safe for concurrent
// use; the Engine serializes access.
type Ledger struct {
	collections map[common.Address]*collectionBook
}

type collectionBook struct {
	listings     map[uint64]domain.Listing
	listingIndex *tokenSet

	bids     map[uint64]map[common.Address]domain.Bid
	bidders  map[uint64]*addressSet
	bidIndex *tokenSet
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{collections: make(map[common.Address]*collectionBook)}
}

func (l *Ledger) book(collection common.Address) *collectionBook {
	b, ok := l.collections[collection]
	if !ok {
		b = &collectionBook{
			listings:     make(map[uint64]domain.Listing),
			listingIndex: newTokenSet(),
			bids:         make(map[uint64]map[common.Address]domain.Bid),
			bidders:      make(map[uint64]*addressSet),
			bidIndex:     newTokenSet(),
		}
		l.collections[collection] = b
	}
	return b
}

// RecordListing stores a listing, replacing any previous listing for the
// same token.
func (l *Ledger) RecordListing(listing domain.Listing) {
	b := l.book(listing.Collection)
	b.listings[listing.TokenID] = listing
	b.listingIndex.Add(listing.TokenID)
}

// RemoveListing deletes the listing for the token if one exists. Removing
// an absent listing is a no-op.
func (l *Ledger) RemoveListing(collection common.Address, tokenID uint64) bool {
	b := l.book(collection)
	if _, ok := b.listings[tokenID]; !ok {
		return false
	}
	delete(b.listings, tokenID)
	b.listingIndex.Remove(tokenID)
	return true
}

// Listing returns the stored listing for the token, valid or not.
func (l *Ledger) Listing(collection common.Address, tokenID uint64) (domain.Listing, bool) {
	b := l.book(collection)
	listing, ok := b.listings[tokenID]
	return listing, ok
}

// ListingCount returns the number of stored listings for the collection.
func (l *Ledger) ListingCount(collection common.Address) int {
	return l.book(collection).listingIndex.Len()
}

// ListingsPage returns the stored listings in the index window
// [offset, offset+limit), clamped to the index size. An offset at or past
// the end, or a zero limit, yields an empty page.
func (l *Ledger) ListingsPage(collection common.Address, offset, limit int) []domain.Listing {
	b := l.book(collection)
	start, end := clampPage(b.listingIndex.Len(), offset, limit)
	out := make([]domain.Listing, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, b.listings[b.listingIndex.At(i)])
	}
	return out
}

// RecordBid stores a bid, overwriting any prior bid by the same bidder for
// the same token.
func (l *Ledger) RecordBid(bid domain.Bid) {
	b := l.book(bid.Collection)
	byBidder, ok := b.bids[bid.TokenID]
	if !ok {
		byBidder = make(map[common.Address]domain.Bid)
		b.bids[bid.TokenID] = byBidder
		b.bidders[bid.TokenID] = newAddressSet()
	}
	byBidder[bid.Bidder] = bid
	b.bidders[bid.TokenID].Add(bid.Bidder)
	b.bidIndex.Add(bid.TokenID)
}

// RemoveBid deletes the bidder's bid for the token if one exists, dropping
// the token from the bid index when its bidder set becomes empty. Removing
// an absent bid is a no-op.
func (l *Ledger) RemoveBid(collection common.Address, tokenID uint64, bidder common.Address) bool {
	b := l.book(collection)
	byBidder, ok := b.bids[tokenID]
	if !ok {
		return false
	}
	if _, ok := byBidder[bidder]; !ok {
		return false
	}
	delete(byBidder, bidder)
	b.bidders[tokenID].Remove(bidder)
	if len(byBidder) == 0 {
		delete(b.bids, tokenID)
		delete(b.bidders, tokenID)
		b.bidIndex.Remove(tokenID)
	}
	return true
}

// Bid returns the bidder's stored bid for the token, valid or not.
func (l *Ledger) Bid(collection common.Address, tokenID uint64, bidder common.Address) (domain.Bid, bool) {
	b := l.book(collection)
	byBidder, ok := b.bids[tokenID]
	if !ok {
		return domain.Bid{}, false
	}
	bid, ok := byBidder[bidder]
	return bid, ok
}

// BidsForToken returns all stored bids for the token in index order.
func (l *Ledger) BidsForToken(collection common.Address, tokenID uint64) []domain.Bid {
	b := l.book(collection)
	set, ok := b.bidders[tokenID]
	if !ok {
		return nil
	}
	out := make([]domain.Bid, 0, set.Len())
	for i := 0; i < set.Len(); i++ {
		out = append(out, b.bids[tokenID][set.At(i)])
	}
	return out
}

// TokensWithBids returns the token ids carrying at least one stored bid,
// in the index window [offset, offset+limit) clamped to the index size.
func (l *Ledger) TokensWithBids(collection common.Address, offset, limit int) []uint64 {
	b := l.book(collection)
	start, end := clampPage(b.bidIndex.Len(), offset, limit)
	out := make([]uint64, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, b.bidIndex.At(i))
	}
	return out
}

// BidTokenCount returns the number of tokens with at least one stored bid.
func (l *Ledger) BidTokenCount(collection common.Address) int {
	return l.book(collection).bidIndex.Len()
}

// BidsByBidder returns the bidder's stored bids across all tokens of the
// collection, walking the bid index in order.
func (l *Ledger) BidsByBidder(collection common.Address, bidder common.Address) []domain.Bid {
	b := l.book(collection)
	var out []domain.Bid
	for i := 0; i < b.bidIndex.Len(); i++ {
		tokenID := b.bidIndex.At(i)
		if bid, ok := b.bids[tokenID][bidder]; ok {
			out = append(out, bid)
		}
	}
	return out
}

// clampPage maps (offset, limit) onto [start, end) within an index of the
// given size. Out-of-range offsets and zero limits yield an empty window
// rather than an error.
func clampPage(size, offset, limit int) (start, end int) {
	if offset < 0 || limit <= 0 || offset >= size {
		return 0, 0
	}
	end = offset + limit
	if end > size {
		end = size
	}
	return offset, end
}
