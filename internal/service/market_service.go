// Package service wraps the marketplace engine with the operational
// concerns the core deliberately ignores: distributed settlement locks,
// the persistent trade journal, the audit log, and event publishing.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
	"github.com/chainbazaar/marketd/internal/market"
)

// settleLockTTL bounds how long a settlement lock can be held if the
// process dies mid-settlement.
const settleLockTTL = 30 * time.Second

// MarketService is the application-facing marketplace API. Engine errors
// pass through unwrapped so handlers can map the domain error taxonomy to
// status codes.
type MarketService struct {
	engine *market.Engine
	trades domain.TradeStore
	audit  domain.AuditStore
	bus    domain.SignalBus
	locks  domain.LockManager
	logger *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	engine *market.Engine,
	trades domain.TradeStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	locks domain.LockManager,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		engine: engine,
		trades: trades,
		audit:  audit,
		bus:    bus,
		locks:  locks,
		logger: logger,
	}
}

// ── Listing lifecycle ──

// ListToken records a listing and publishes a token_listed event.
func (s *MarketService) ListToken(ctx context.Context, caller, collection common.Address, tokenID uint64, price *big.Int, expireAt time.Time) (domain.Listing, error) {
	listing, err := s.engine.ListToken(ctx, caller, collection, tokenID, price, expireAt)
	if err != nil {
		return domain.Listing{}, err
	}

	s.publish(ctx, domain.MarketEvent{
		Type:       domain.EventTokenListed,
		Collection: collection,
		TokenID:    tokenID,
		At:         time.Now().UTC(),
		Seller:     listing.Seller,
		Price:      listing.Price,
		ExpireAt:   &listing.ExpireAt,
	})
	s.auditLog(ctx, string(domain.EventTokenListed), map[string]any{
		"collection": collection.Hex(),
		"token_id":   tokenID,
		"seller":     caller.Hex(),
		"price":      price.String(),
	})
	return listing, nil
}

// DelistToken removes the caller's listing. The bool reports whether a
// listing was actually removed; absent listings are a successful no-op and
// publish nothing.
func (s *MarketService) DelistToken(ctx context.Context, caller, collection common.Address, tokenID uint64) (domain.Listing, bool, error) {
	listing, removed, err := s.engine.DelistToken(ctx, caller, collection, tokenID)
	if err != nil || !removed {
		return domain.Listing{}, removed, err
	}

	s.publish(ctx, domain.MarketEvent{
		Type:       domain.EventTokenDelisted,
		Collection: collection,
		TokenID:    tokenID,
		At:         time.Now().UTC(),
		Seller:     listing.Seller,
	})
	s.auditLog(ctx, string(domain.EventTokenDelisted), map[string]any{
		"collection": collection.Hex(),
		"token_id":   tokenID,
		"seller":     caller.Hex(),
	})
	return listing, true, nil
}

// ── Bid lifecycle ──

// EnterBid records a bid and publishes a token_bid_entered event.
func (s *MarketService) EnterBid(ctx context.Context, caller, collection common.Address, tokenID uint64, price *big.Int, expireAt time.Time) (domain.Bid, error) {
	bid, err := s.engine.EnterBidForToken(ctx, caller, collection, tokenID, price, expireAt)
	if err != nil {
		return domain.Bid{}, err
	}

	s.publish(ctx, domain.MarketEvent{
		Type:       domain.EventTokenBidEntered,
		Collection: collection,
		TokenID:    tokenID,
		At:         time.Now().UTC(),
		Bidder:     bid.Bidder,
		Price:      bid.Price,
		ExpireAt:   &bid.ExpireAt,
	})
	s.auditLog(ctx, string(domain.EventTokenBidEntered), map[string]any{
		"collection": collection.Hex(),
		"token_id":   tokenID,
		"bidder":     caller.Hex(),
		"price":      price.String(),
	})
	return bid, nil
}

// WithdrawBid removes the caller's bid. Absent bids are a successful no-op.
func (s *MarketService) WithdrawBid(ctx context.Context, caller, collection common.Address, tokenID uint64) (domain.Bid, bool, error) {
	bid, removed, err := s.engine.WithdrawBidForToken(ctx, caller, collection, tokenID)
	if err != nil || !removed {
		return domain.Bid{}, removed, err
	}

	s.publish(ctx, domain.MarketEvent{
		Type:       domain.EventTokenBidWithdrawn,
		Collection: collection,
		TokenID:    tokenID,
		At:         time.Now().UTC(),
		Bidder:     bid.Bidder,
	})
	s.auditLog(ctx, string(domain.EventTokenBidWithdrawn), map[string]any{
		"collection": collection.Hex(),
		"token_id":   tokenID,
		"bidder":     caller.Hex(),
	})
	return bid, true, nil
}

// ── Settlement ──

// BuyToken settles the token's listing under a per-asset distributed lock,
// journals the trade, and publishes a token_bought event.
func (s *MarketService) BuyToken(ctx context.Context, caller, collection common.Address, tokenID uint64, payment *big.Int) (domain.Trade, error) {
	unlock, err := s.locks.Acquire(ctx, settleLockKey(collection, tokenID), settleLockTTL)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("market_service: acquire settle lock: %w", err)
	}
	defer unlock()

	trade, err := s.engine.BuyToken(ctx, caller, collection, tokenID, payment)
	if err != nil {
		s.auditIncompleteSettlement(ctx, caller, collection, tokenID, err)
		return domain.Trade{}, err
	}

	s.recordTrade(ctx, trade, domain.EventTokenBought)
	return trade, nil
}

// AcceptBid settles the given bidder's bid under a per-asset distributed
// lock, journals the trade, and publishes a token_bid_accepted event.
func (s *MarketService) AcceptBid(ctx context.Context, caller, collection common.Address, tokenID uint64, bidder common.Address, expectedPrice *big.Int) (domain.Trade, error) {
	unlock, err := s.locks.Acquire(ctx, settleLockKey(collection, tokenID), settleLockTTL)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("market_service: acquire settle lock: %w", err)
	}
	defer unlock()

	trade, err := s.engine.AcceptBidForToken(ctx, caller, collection, tokenID, bidder, expectedPrice)
	if err != nil {
		s.auditIncompleteSettlement(ctx, caller, collection, tokenID, err)
		return domain.Trade{}, err
	}

	s.recordTrade(ctx, trade, domain.EventTokenBidAccepted)
	return trade, nil
}

// auditIncompleteSettlement writes a settlement_incomplete audit entry when
// a settlement fails after its payment legs cleared, so the half-settled
// trade is visible to operators for manual reconciliation. Other settlement
// failures are side-effect free and pass through silently.
func (s *MarketService) auditIncompleteSettlement(ctx context.Context, caller, collection common.Address, tokenID uint64, err error) {
	if !errors.Is(err, domain.ErrSettlementIncomplete) {
		return
	}
	s.auditLog(ctx, "settlement_incomplete", map[string]any{
		"collection": collection.Hex(),
		"token_id":   tokenID,
		"caller":     caller.Hex(),
		"error":      err.Error(),
	})
}

// recordTrade journals a settled trade, publishes its event, and writes an
// audit entry. Value and ownership have already moved, so failures here are
// logged rather than surfaced: the caller's trade succeeded.
func (s *MarketService) recordTrade(ctx context.Context, trade domain.Trade, event domain.EventType) {
	if err := s.trades.Insert(ctx, trade); err != nil {
		s.logger.ErrorContext(ctx, "market_service: journal trade failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", err.Error()),
		)
	}

	s.publish(ctx, domain.MarketEvent{
		Type:       event,
		Collection: trade.Collection,
		TokenID:    trade.TokenID,
		At:         trade.ExecutedAt,
		Seller:     trade.Seller,
		Buyer:      trade.Buyer,
		Price:      trade.Price,
		ServiceFee: trade.ServiceFee,
		RoyaltyFee: trade.RoyaltyFee,
		TradeID:    trade.ID,
	})
	s.auditLog(ctx, string(event), map[string]any{
		"trade_id":   trade.ID,
		"collection": trade.Collection.Hex(),
		"token_id":   trade.TokenID,
		"seller":     trade.Seller.Hex(),
		"buyer":      trade.Buyer.Hex(),
		"price":      trade.Price.String(),
	})
}

// ── Reads ──

// GetListing returns the token's currently valid listing.
func (s *MarketService) GetListing(ctx context.Context, collection common.Address, tokenID uint64) (domain.Listing, bool) {
	return s.engine.GetTokenListing(ctx, collection, tokenID)
}

// GetListings returns a page of currently valid listings for the collection.
func (s *MarketService) GetListings(ctx context.Context, collection common.Address, offset, limit int) []domain.Listing {
	return s.engine.GetTokenListings(ctx, collection, offset, limit)
}

// GetBid returns the bidder's currently valid bid on the token.
func (s *MarketService) GetBid(ctx context.Context, collection common.Address, tokenID uint64, bidder common.Address) (domain.Bid, bool) {
	return s.engine.GetTokenBid(ctx, collection, tokenID, bidder)
}

// GetBids returns all currently valid bids on the token.
func (s *MarketService) GetBids(ctx context.Context, collection common.Address, tokenID uint64) []domain.Bid {
	return s.engine.GetTokenBids(ctx, collection, tokenID)
}

// GetHighestBid returns the highest currently valid bid on the token, or a
// zero bid when none exists.
func (s *MarketService) GetHighestBid(ctx context.Context, collection common.Address, tokenID uint64) domain.Bid {
	return s.engine.GetTokenHighestBid(ctx, collection, tokenID)
}

// GetHighestBids returns the highest valid bid per token for a page of
// tokens carrying bids.
func (s *MarketService) GetHighestBids(ctx context.Context, collection common.Address, offset, limit int) []domain.Bid {
	return s.engine.GetTokenHighestBids(ctx, collection, offset, limit)
}

// GetBidsByBidder returns a page of the bidder's currently valid bids
// across the collection.
func (s *MarketService) GetBidsByBidder(ctx context.Context, collection, bidder common.Address, offset, limit int) []domain.Bid {
	return s.engine.GetBidsByBidder(ctx, collection, bidder, offset, limit)
}

// ── Trade journal ──

// GetTrade returns a journaled trade by id.
func (s *MarketService) GetTrade(ctx context.Context, id string) (domain.Trade, error) {
	trade, err := s.trades.GetByID(ctx, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("market_service: get trade %q: %w", id, err)
	}
	return trade, nil
}

// ListTrades returns recent journaled trades with pagination.
func (s *MarketService) ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list trades: %w", err)
	}
	return trades, nil
}

// ListTradesByCollection returns journaled trades for one collection.
func (s *MarketService) ListTradesByCollection(ctx context.Context, collection common.Address, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByCollection(ctx, collection, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list trades for %s: %w", collection.Hex(), err)
	}
	return trades, nil
}

// ListAuditEntries returns audit log rows with pagination.
func (s *MarketService) ListAuditEntries(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list audit entries: %w", err)
	}
	return entries, nil
}

func settleLockKey(collection common.Address, tokenID uint64) string {
	return fmt.Sprintf("settle:%s:%d", collection.Hex(), tokenID)
}

// publish marshals the event and sends it on both the fan-out channel and
// the durable stream. Delivery is best-effort.
func (s *MarketService) publish(ctx context.Context, evt domain.MarketEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "market_service: marshal event failed",
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.EventChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "market_service: publish event failed",
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.EventChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "market_service: stream append failed",
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
