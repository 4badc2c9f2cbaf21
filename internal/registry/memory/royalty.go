package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
)

// RoyaltyLedger is an in-memory domain.RoyaltyRegistry. Collections with
// no entry resolve to a zero royalty rather than an error.
type RoyaltyLedger struct {
	mu      sync.Mutex
	entries map[common.Address]domain.RoyaltyInfo

	// FailQueries makes lookups return an error.
	FailQueries bool
}

// NewRoyaltyLedger creates an empty RoyaltyLedger.
func NewRoyaltyLedger() *RoyaltyLedger {
	return &RoyaltyLedger{entries: make(map[common.Address]domain.RoyaltyInfo)}
}

// SetRoyalty configures the collection's royalty recipient and fraction.
func (r *RoyaltyLedger) SetRoyalty(collection common.Address, info domain.RoyaltyInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[collection] = info
}

func (r *RoyaltyLedger) RoyaltyOf(ctx context.Context, collection common.Address) (domain.RoyaltyInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailQueries {
		return domain.RoyaltyInfo{}, fmt.Errorf("memory: royalty query failed")
	}
	return r.entries[collection], nil
}

var _ domain.RoyaltyRegistry = (*RoyaltyLedger)(nil)
