package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names the marketplace events published on the signal bus for
// external indexers. Events carry no semantic weight for the core; the
// ledger is authoritative.
type EventType string

const (
	EventTokenListed       EventType = "token_listed"
	EventTokenDelisted     EventType = "token_delisted"
	EventTokenBought       EventType = "token_bought"
	EventTokenBidEntered   EventType = "token_bid_entered"
	EventTokenBidWithdrawn EventType = "token_bid_withdrawn"
	EventTokenBidAccepted  EventType = "token_bid_accepted"
)

// EventChannel is the signal bus channel all marketplace events are
// published on.
const EventChannel = "market:events"

// MarketEvent is the JSON envelope published for every state-changing
// marketplace operation.
type MarketEvent struct {
	Type       EventType      `json:"type"`
	Collection common.Address `json:"collection"`
	TokenID    uint64         `json:"token_id"`
	At         time.Time      `json:"at"`

	// Listing-shaped events.
	Seller   common.Address `json:"seller,omitempty"`
	Price    *big.Int       `json:"price,omitempty"`
	ExpireAt *time.Time     `json:"expire_at,omitempty"`

	// Bid-shaped events.
	Bidder common.Address `json:"bidder,omitempty"`

	// Settlement events.
	Buyer      common.Address `json:"buyer,omitempty"`
	ServiceFee *big.Int       `json:"service_fee,omitempty"`
	RoyaltyFee *big.Int       `json:"royalty_fee,omitempty"`
	TradeID    string         `json:"trade_id,omitempty"`
}
