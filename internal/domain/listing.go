// Package domain defines the marketplace core types, the external registry
// contracts the settlement engine depends on, and the store/cache ports
// implemented by the postgres, redis, and s3 packages.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Listing is a seller's standing offer to sell one token at a fixed price
// until an expiry time. At most one listing exists per (collection, token).
//
// A stored listing is intent, not fact: it may have been invalidated by an
// ownership change or approval revocation since it was recorded. Exercisability
// is always re-checked against the live registries.
type Listing struct {
	Collection common.Address `json:"collection"`
	TokenID    uint64         `json:"token_id"`
	Price      *big.Int       `json:"price"`
	Seller     common.Address `json:"seller"`
	ExpireAt   time.Time      `json:"expire_at"`
}

// IsZero reports whether l is the zero-value sentinel returned when no
// listing exists.
func (l Listing) IsZero() bool {
	return l.Price == nil
}

// Bid is a prospective buyer's standing offer to buy one token at a fixed
// price until an expiry time. At most one bid exists per (collection, token,
// bidder); entering a new bid overwrites the previous one.
type Bid struct {
	Collection common.Address `json:"collection"`
	TokenID    uint64         `json:"token_id"`
	Price      *big.Int       `json:"price"`
	Bidder     common.Address `json:"bidder"`
	ExpireAt   time.Time      `json:"expire_at"`
}

// IsZero reports whether b is the zero-value sentinel returned when no
// valid bid exists.
func (b Bid) IsZero() bool {
	return b.Price == nil
}

// TradeKind distinguishes how a settlement was initiated.
type TradeKind string

const (
	TradeKindBuy       TradeKind = "buy"
	TradeKindAcceptBid TradeKind = "accept_bid"
)

// Trade is the receipt of a completed settlement: one asset ownership
// transfer plus the three-way split of the gross price. The four amount
// fields always satisfy Price == ServiceFee + RoyaltyFee + NetToSeller.
type Trade struct {
	ID               string         `json:"id"`
	Kind             TradeKind      `json:"kind"`
	Collection       common.Address `json:"collection"`
	TokenID          uint64         `json:"token_id"`
	Seller           common.Address `json:"seller"`
	Buyer            common.Address `json:"buyer"`
	Price            *big.Int       `json:"price"`
	ServiceFee       *big.Int       `json:"service_fee"`
	RoyaltyFee       *big.Int       `json:"royalty_fee"`
	NetToSeller      *big.Int       `json:"net_to_seller"`
	RoyaltyRecipient common.Address `json:"royalty_recipient"`
	// Overpayment is any excess a buyer supplied above the listing price.
	// It is retained by the marketplace operator, never refunded.
	Overpayment *big.Int  `json:"overpayment"`
	ExecutedAt  time.Time `json:"executed_at"`
}
