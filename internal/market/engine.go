// Package market implements the marketplace core: the listing/bid ledger,
// the validity oracle, fee splitting, policy gating, and the settlement
// engine that atomically swaps token ownership for payment.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/chainbazaar/marketd/internal/domain"
)

// Engine orchestrates every marketplace operation: policy checks first,
// then fresh oracle validation, then for settlements the fee split, the
// value transfers, the ownership transfer, and finally the ledger purge.
//
// A single mutex serializes requests, standing in for the host ledger's
// commit order: no two requests ever interleave against the shared ledger.
// The settling set exists solely to reject a nested settlement of a token
// whose own settlement is still in flight, as fired by an external
// transfer hook; it is claimed before the mutex so the nested call errors
// instead of deadlocking, while settlements of other tokens simply queue
// on the mutex.
type Engine struct {
	mu sync.Mutex

	settleMu sync.Mutex
	settling map[settleKey]struct{}

	ledger    *Ledger
	oracle    *Oracle
	assets    domain.AssetRegistry
	payments  domain.PaymentRegistry
	royalties domain.RoyaltyRegistry

	policy Policy

	// operator is the marketplace owner: it receives service fees and
	// retained overpayments, and is the only address allowed to mutate
	// policy.
	operator common.Address

	now    func() time.Time
	logger *slog.Logger
}

// NewEngine creates an Engine over the given ledger, oracle, and external
// registries. The policy record is copied in; later mutations go through
// the operator-gated setters.
func NewEngine(
	ledger *Ledger,
	oracle *Oracle,
	assets domain.AssetRegistry,
	payments domain.PaymentRegistry,
	royalties domain.RoyaltyRegistry,
	operator common.Address,
	policy Policy,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		settling:  make(map[settleKey]struct{}),
		ledger:    ledger,
		oracle:    oracle,
		assets:    assets,
		payments:  payments,
		royalties: royalties,
		policy:    policy,
		operator:  operator,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock overrides the time source for the engine and its oracle.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.oracle.WithClock(now)
	return e
}

// settleKey identifies a token with a settlement in flight.
type settleKey struct {
	collection common.Address
	tokenID    uint64
}

// claimSettlement marks the token as settling. A second claim for the same
// token fails, so a nested call fired by an external transfer hook errors
// out instead of deadlocking on the engine mutex.
func (e *Engine) claimSettlement(collection common.Address, tokenID uint64) error {
	k := settleKey{collection: collection, tokenID: tokenID}
	e.settleMu.Lock()
	defer e.settleMu.Unlock()
	if _, busy := e.settling[k]; busy {
		return domain.ErrReentrantSettlement
	}
	e.settling[k] = struct{}{}
	return nil
}

// releaseSettlement clears the token's in-flight mark.
func (e *Engine) releaseSettlement(collection common.Address, tokenID uint64) {
	e.settleMu.Lock()
	delete(e.settling, settleKey{collection: collection, tokenID: tokenID})
	e.settleMu.Unlock()
}

// ── Listing lifecycle ──

// ListToken records a standing offer by the caller to sell the token at
// the given price until expireAt. The proposed listing must already be
// exercisable: the caller owns the token and the marketplace holds
// transfer approval.
func (e *Engine) ListToken(ctx context.Context, caller, collection common.Address, tokenID uint64, price *big.Int, expireAt time.Time) (domain.Listing, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.policy.TradingEnabled {
		return domain.Listing{}, domain.ErrPolicy("trading is disabled")
	}
	if err := e.policy.checkExpireWindow(e.now(), expireAt); err != nil {
		return domain.Listing{}, err
	}
	if price == nil || price.Sign() <= 0 {
		return domain.Listing{}, domain.ErrValidation("listing price must be positive")
	}

	listing := domain.Listing{
		Collection: collection,
		TokenID:    tokenID,
		Price:      new(big.Int).Set(price),
		Seller:     caller,
		ExpireAt:   expireAt,
	}
	if !e.oracle.IsListingValid(ctx, listing) {
		return domain.Listing{}, domain.ErrValidation("caller does not own token %d or marketplace lacks transfer approval", tokenID)
	}

	e.ledger.RecordListing(listing)
	e.logger.InfoContext(ctx, "market: token listed",
		slog.String("collection", collection.Hex()),
		slog.Uint64("token_id", tokenID),
		slog.String("seller", caller.Hex()),
		slog.String("price", price.String()),
	)
	return listing, nil
}

// DelistToken removes the caller's listing for the token. Delisting an
// unlisted token is a no-op, not an error, so exits always succeed. The
// trading flag is deliberately not checked: users must always be able to
// withdraw standing intent.
func (e *Engine) DelistToken(ctx context.Context, caller, collection common.Address, tokenID uint64) (domain.Listing, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	listing, ok := e.ledger.Listing(collection, tokenID)
	if !ok {
		return domain.Listing{}, false, nil
	}
	if listing.Seller != caller {
		return domain.Listing{}, false, domain.ErrValidation("only the listing seller may delist token %d", tokenID)
	}

	e.ledger.RemoveListing(collection, tokenID)
	e.logger.InfoContext(ctx, "market: token delisted",
		slog.String("collection", collection.Hex()),
		slog.Uint64("token_id", tokenID),
	)
	return listing, true, nil
}

// ── Bid lifecycle ──

// EnterBidForToken records a standing offer by the caller to buy the token
// at the given price until expireAt, overwriting any prior bid by the same
// caller. The proposed bid must already be fundable: allowance and balance
// cover the price, and the caller does not own the token.
func (e *Engine) EnterBidForToken(ctx context.Context, caller, collection common.Address, tokenID uint64, price *big.Int, expireAt time.Time) (domain.Bid, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.policy.TradingEnabled {
		return domain.Bid{}, domain.ErrPolicy("trading is disabled")
	}
	if err := e.policy.checkExpireWindow(e.now(), expireAt); err != nil {
		return domain.Bid{}, err
	}
	if price == nil || price.Sign() <= 0 {
		return domain.Bid{}, domain.ErrValidation("bid price must be positive")
	}

	bid := domain.Bid{
		Collection: collection,
		TokenID:    tokenID,
		Price:      new(big.Int).Set(price),
		Bidder:     caller,
		ExpireAt:   expireAt,
	}
	if !e.oracle.IsBidValid(ctx, bid) {
		return domain.Bid{}, domain.ErrValidation("bid on token %d is not currently fundable, or bidder already owns it", tokenID)
	}

	e.ledger.RecordBid(bid)
	e.logger.InfoContext(ctx, "market: bid entered",
		slog.String("collection", collection.Hex()),
		slog.Uint64("token_id", tokenID),
		slog.String("bidder", caller.Hex()),
		slog.String("price", price.String()),
	)
	return bid, nil
}

// WithdrawBidForToken removes the caller's bid on the token. Withdrawing
// an absent bid is a no-op, not an error. Like DelistToken, it ignores the
// trading flag.
func (e *Engine) WithdrawBidForToken(ctx context.Context, caller, collection common.Address, tokenID uint64) (domain.Bid, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bid, ok := e.ledger.Bid(collection, tokenID, caller)
	if !ok {
		return domain.Bid{}, false, nil
	}

	e.ledger.RemoveBid(collection, tokenID, caller)
	e.logger.InfoContext(ctx, "market: bid withdrawn",
		slog.String("collection", collection.Hex()),
		slog.Uint64("token_id", tokenID),
		slog.String("bidder", caller.Hex()),
	)
	return bid, true, nil
}

// ── Settlement ──

// BuyToken settles the token's listing at its asking price. The caller
// supplies payment, which must cover the price; any excess is retained by
// the marketplace operator, never refunded. On success the caller is the
// new owner, the seller, operator, and royalty recipient have been paid,
// the listing is gone, and any stray bid the caller had on the token is
// purged.
func (e *Engine) BuyToken(ctx context.Context, caller, collection common.Address, tokenID uint64, payment *big.Int) (domain.Trade, error) {
	if err := e.claimSettlement(collection, tokenID); err != nil {
		return domain.Trade{}, err
	}
	defer e.releaseSettlement(collection, tokenID)

	e.mu.Lock()
	defer e.mu.Unlock()

	listing, ok := e.ledger.Listing(collection, tokenID)
	if !ok || !e.oracle.IsListingValid(ctx, listing) {
		return domain.Trade{}, domain.ErrValidation("token %d is not for sale", tokenID)
	}
	if caller == listing.Seller {
		return domain.Trade{}, domain.ErrValidation("caller already owns token %d", tokenID)
	}
	if payment == nil || payment.Cmp(listing.Price) < 0 {
		return domain.Trade{}, domain.ErrValidation("payment below asking price %s", listing.Price)
	}
	if err := e.checkBuyerFunds(ctx, caller, payment); err != nil {
		return domain.Trade{}, err
	}

	royalty, err := e.collectionRoyalty(ctx, collection)
	if err != nil {
		return domain.Trade{}, err
	}

	serviceFee, royaltyFee, net := SplitProceeds(listing.Price, e.policy.ServiceFeePoints, royalty.FeePoints)
	overpayment := new(big.Int).Sub(payment, listing.Price)

	if err := e.settleValue(ctx, caller, listing.Seller, royalty.Recipient, net, serviceFee, royaltyFee, overpayment); err != nil {
		return domain.Trade{}, err
	}
	if err := e.assets.TransferOwnership(ctx, collection, listing.Seller, caller, tokenID); err != nil {
		e.logSettlementIncomplete(ctx, collection, tokenID, caller, listing.Seller, err)
		return domain.Trade{}, fmt.Errorf("market: transfer token %d ownership: %w: %w", tokenID, domain.ErrSettlementIncomplete, err)
	}

	e.ledger.RemoveListing(collection, tokenID)
	// The buyer's own bid on this token, if any, is now meaningless.
	e.ledger.RemoveBid(collection, tokenID, caller)

	trade := domain.Trade{
		ID:               uuid.NewString(),
		Kind:             domain.TradeKindBuy,
		Collection:       collection,
		TokenID:          tokenID,
		Seller:           listing.Seller,
		Buyer:            caller,
		Price:            new(big.Int).Set(listing.Price),
		ServiceFee:       serviceFee,
		RoyaltyFee:       royaltyFee,
		NetToSeller:      net,
		RoyaltyRecipient: royalty.Recipient,
		Overpayment:      overpayment,
		ExecutedAt:       e.now(),
	}
	e.logger.InfoContext(ctx, "market: token bought",
		slog.String("trade_id", trade.ID),
		slog.String("collection", collection.Hex()),
		slog.Uint64("token_id", tokenID),
		slog.String("buyer", caller.Hex()),
		slog.String("seller", trade.Seller.Hex()),
		slog.String("price", trade.Price.String()),
		slog.String("service_fee", serviceFee.String()),
		slog.String("royalty_fee", royaltyFee.String()),
	)
	return trade, nil
}

// AcceptBidForToken settles the given bidder's bid on the caller's token.
// expectedPrice must exactly match the stored bid price, defending the
// caller against a bid silently changing between observation and
// execution. On success the bidder is the new owner, proceeds have been
// pulled from the bidder's balance, and both the accepted bid and any
// listing on the token are purged.
func (e *Engine) AcceptBidForToken(ctx context.Context, caller, collection common.Address, tokenID uint64, bidder common.Address, expectedPrice *big.Int) (domain.Trade, error) {
	if err := e.claimSettlement(collection, tokenID); err != nil {
		return domain.Trade{}, err
	}
	defer e.releaseSettlement(collection, tokenID)

	e.mu.Lock()
	defer e.mu.Unlock()

	bid, ok := e.ledger.Bid(collection, tokenID, bidder)
	if !ok {
		return domain.Trade{}, domain.ErrValidation("no bid on token %d from %s", tokenID, bidder.Hex())
	}

	owner, err := e.assets.OwnerOf(ctx, collection, tokenID)
	if err != nil || owner != caller {
		return domain.Trade{}, domain.ErrValidation("caller is not the owner of token %d", tokenID)
	}
	if !e.oracle.marketplaceApproved(ctx, collection, tokenID, owner) {
		return domain.Trade{}, domain.ErrValidation("marketplace lacks transfer approval for token %d", tokenID)
	}
	if !e.oracle.IsBidValid(ctx, bid) {
		return domain.Trade{}, domain.ErrValidation("bid on token %d is no longer valid", tokenID)
	}
	if expectedPrice == nil || bid.Price.Cmp(expectedPrice) != 0 {
		return domain.Trade{}, &domain.PriceMismatchError{Expected: expectedPrice, Actual: bid.Price}
	}

	royalty, err := e.collectionRoyalty(ctx, collection)
	if err != nil {
		return domain.Trade{}, err
	}

	serviceFee, royaltyFee, net := SplitProceeds(bid.Price, e.policy.ServiceFeePoints, royalty.FeePoints)

	if err := e.settleValue(ctx, bidder, caller, royalty.Recipient, net, serviceFee, royaltyFee, nil); err != nil {
		return domain.Trade{}, err
	}
	if err := e.assets.TransferOwnership(ctx, collection, caller, bidder, tokenID); err != nil {
		e.logSettlementIncomplete(ctx, collection, tokenID, bidder, caller, err)
		return domain.Trade{}, fmt.Errorf("market: transfer token %d ownership: %w: %w", tokenID, domain.ErrSettlementIncomplete, err)
	}

	e.ledger.RemoveListing(collection, tokenID)
	e.ledger.RemoveBid(collection, tokenID, bidder)

	trade := domain.Trade{
		ID:               uuid.NewString(),
		Kind:             domain.TradeKindAcceptBid,
		Collection:       collection,
		TokenID:          tokenID,
		Seller:           caller,
		Buyer:            bidder,
		Price:            new(big.Int).Set(bid.Price),
		ServiceFee:       serviceFee,
		RoyaltyFee:       royaltyFee,
		NetToSeller:      net,
		RoyaltyRecipient: royalty.Recipient,
		Overpayment:      new(big.Int),
		ExecutedAt:       e.now(),
	}
	e.logger.InfoContext(ctx, "market: bid accepted",
		slog.String("trade_id", trade.ID),
		slog.String("collection", collection.Hex()),
		slog.Uint64("token_id", tokenID),
		slog.String("seller", caller.Hex()),
		slog.String("bidder", bidder.Hex()),
		slog.String("price", trade.Price.String()),
		slog.String("service_fee", serviceFee.String()),
		slog.String("royalty_fee", royaltyFee.String()),
	)
	return trade, nil
}

// settleValue performs the multi-party value transfer: net to the seller,
// service fee plus any retained overpayment to the operator, and the
// royalty leg when a recipient is set and the fee is non-zero.
func (e *Engine) settleValue(ctx context.Context, payer, seller, royaltyRecipient common.Address, net, serviceFee, royaltyFee, overpayment *big.Int) error {
	if net.Sign() > 0 {
		if err := e.payments.Transfer(ctx, payer, seller, net); err != nil {
			return fmt.Errorf("market: transfer seller proceeds: %w", err)
		}
	}
	operatorCut := new(big.Int).Set(serviceFee)
	if overpayment != nil {
		operatorCut.Add(operatorCut, overpayment)
	}
	if operatorCut.Sign() > 0 {
		if err := e.payments.Transfer(ctx, payer, e.operator, operatorCut); err != nil {
			return fmt.Errorf("market: transfer service fee: %w", err)
		}
	}
	if royaltyFee.Sign() > 0 && royaltyRecipient != (common.Address{}) {
		if err := e.payments.Transfer(ctx, payer, royaltyRecipient, royaltyFee); err != nil {
			return fmt.Errorf("market: transfer royalty: %w", err)
		}
	}
	return nil
}

// logSettlementIncomplete records a trade left half-settled: value moved
// but the ownership transfer failed. Against live registries the payment
// legs are already mined and cannot be unwound here.
func (e *Engine) logSettlementIncomplete(ctx context.Context, collection common.Address, tokenID uint64, buyer, seller common.Address, cause error) {
	e.logger.ErrorContext(ctx, "market: settlement incomplete, payment cleared but ownership transfer failed",
		slog.String("collection", collection.Hex()),
		slog.Uint64("token_id", tokenID),
		slog.String("buyer", buyer.Hex()),
		slog.String("seller", seller.Hex()),
		slog.String("error", cause.Error()),
	)
}

// checkBuyerFunds verifies the buyer has granted the marketplace enough
// allowance and holds enough balance to cover the payment before any
// transfer is attempted, keeping failures side-effect free.
func (e *Engine) checkBuyerFunds(ctx context.Context, buyer common.Address, payment *big.Int) error {
	allowance, err := e.payments.Allowance(ctx, buyer, e.operator)
	if err != nil || allowance.Cmp(payment) < 0 {
		return domain.ErrValidation("buyer allowance below payment %s", payment)
	}
	balance, err := e.payments.BalanceOf(ctx, buyer)
	if err != nil || balance.Cmp(payment) < 0 {
		return domain.ErrValidation("buyer balance below payment %s", payment)
	}
	return nil
}

// collectionRoyalty resolves the collection's royalty configuration. A
// lookup failure aborts settlement: silently dropping a royalty would
// misdirect funds. An unset recipient zeroes the fraction so no royalty
// share is carved out of the price.
func (e *Engine) collectionRoyalty(ctx context.Context, collection common.Address) (domain.RoyaltyInfo, error) {
	info, err := e.royalties.RoyaltyOf(ctx, collection)
	if err != nil {
		return domain.RoyaltyInfo{}, domain.ErrValidation("royalty lookup for %s failed", collection.Hex())
	}
	if info.Recipient == (common.Address{}) {
		info.FeePoints = 0
	}
	return info, nil
}
