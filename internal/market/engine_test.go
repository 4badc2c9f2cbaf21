package market

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/chainbazaar/marketd/internal/domain"
	"github.com/chainbazaar/marketd/internal/registry/memory"
)

var (
	testOperator = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	testSeller   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testBuyer    = common.HexToAddress("0x0000000000000000000000000000000000000002")
	testArtist   = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

type engineFixture struct {
	engine    *Engine
	assets    *memory.AssetLedger
	payments  *memory.PaymentLedger
	royalties *memory.RoyaltyLedger
	now       time.Time
}

func newEngineFixture(policy Policy) *engineFixture {
	assets := memory.NewAssetLedger()
	payments := memory.NewPaymentLedger(testOperator)
	royalties := memory.NewRoyaltyLedger()
	oracle := NewOracle(assets, payments, testOperator)
	engine := NewEngine(NewLedger(), oracle, assets, payments, royalties, testOperator, policy, slog.New(slog.DiscardHandler))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.WithClock(func() time.Time { return now })
	return &engineFixture{engine: engine, assets: assets, payments: payments, royalties: royalties, now: now}
}

// mintApproved mints the token to the owner and grants the marketplace
// token-level transfer approval.
func (f *engineFixture) mintApproved(tokenID uint64, owner common.Address) {
	f.assets.Mint(testCollection, tokenID, owner)
	f.assets.Approve(testCollection, tokenID, testOperator)
}

// fund credits the holder and grants the marketplace a matching allowance.
func (f *engineFixture) fund(holder common.Address, amount int64) {
	f.payments.Credit(holder, big.NewInt(amount))
	f.payments.SetAllowance(holder, testOperator, big.NewInt(amount))
}

func (f *engineFixture) list(t *testing.T, tokenID uint64, seller common.Address, price int64) domain.Listing {
	t.Helper()
	listing, err := f.engine.ListToken(context.Background(), seller, testCollection, tokenID, big.NewInt(price), f.now.Add(time.Hour))
	require.NoError(t, err)
	return listing
}

func (f *engineFixture) enterBid(t *testing.T, tokenID uint64, bidder common.Address, price int64) domain.Bid {
	t.Helper()
	bid, err := f.engine.EnterBidForToken(context.Background(), bidder, testCollection, tokenID, big.NewInt(price), f.now.Add(time.Hour))
	require.NoError(t, err)
	return bid
}

func (f *engineFixture) balance(t *testing.T, holder common.Address) int64 {
	t.Helper()
	b, err := f.payments.BalanceOf(context.Background(), holder)
	require.NoError(t, err)
	return b.Int64()
}

func TestListToken(t *testing.T) {
	ctx := context.Background()

	t.Run("records a valid listing", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)

		listing := f.list(t, 1, testSeller, 1000)
		require.Equal(t, testSeller, listing.Seller)
		require.Equal(t, int64(1000), listing.Price.Int64())

		got, ok := f.engine.GetTokenListing(ctx, testCollection, 1)
		require.True(t, ok)
		require.Equal(t, listing.Price, got.Price)
	})

	t.Run("rejects listing while trading disabled", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.TradingEnabled = false
		f := newEngineFixture(policy)
		f.mintApproved(1, testSeller)

		_, err := f.engine.ListToken(ctx, testSeller, testCollection, 1, big.NewInt(1000), f.now.Add(time.Hour))
		var perr *domain.PolicyError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("rejects expiry below minimum window", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)

		_, err := f.engine.ListToken(ctx, testSeller, testCollection, 1, big.NewInt(1000), f.now.Add(time.Minute))
		var perr *domain.PolicyError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("rejects expiry above maximum window", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)

		_, err := f.engine.ListToken(ctx, testSeller, testCollection, 1, big.NewInt(1000), f.now.Add(366*24*time.Hour))
		var perr *domain.PolicyError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("rejects non-positive price", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)

		var verr *domain.ValidationError
		_, err := f.engine.ListToken(ctx, testSeller, testCollection, 1, big.NewInt(0), f.now.Add(time.Hour))
		require.ErrorAs(t, err, &verr)
		_, err = f.engine.ListToken(ctx, testSeller, testCollection, 1, nil, f.now.Add(time.Hour))
		require.ErrorAs(t, err, &verr)
	})

	t.Run("rejects listing by non-owner", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)

		_, err := f.engine.ListToken(ctx, testBuyer, testCollection, 1, big.NewInt(1000), f.now.Add(time.Hour))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("rejects listing without marketplace approval", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.assets.Mint(testCollection, 1, testSeller)

		_, err := f.engine.ListToken(ctx, testSeller, testCollection, 1, big.NewInt(1000), f.now.Add(time.Hour))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("relisting replaces price", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)

		f.list(t, 1, testSeller, 1000)
		f.list(t, 1, testSeller, 1500)

		got, ok := f.engine.GetTokenListing(ctx, testCollection, 1)
		require.True(t, ok)
		require.Equal(t, int64(1500), got.Price.Int64())
		require.Len(t, f.engine.GetTokenListings(ctx, testCollection, 0, 10), 1)
	})
}

func TestDelistToken(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the caller's listing", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 1000)

		listing, removed, err := f.engine.DelistToken(ctx, testSeller, testCollection, 1)
		require.NoError(t, err)
		require.True(t, removed)
		require.Equal(t, int64(1000), listing.Price.Int64())

		_, ok := f.engine.GetTokenListing(ctx, testCollection, 1)
		require.False(t, ok)
	})

	t.Run("delisting an unlisted token is a no-op", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())

		_, removed, err := f.engine.DelistToken(ctx, testSeller, testCollection, 1)
		require.NoError(t, err)
		require.False(t, removed)
	})

	t.Run("only the seller may delist", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 1000)

		_, _, err := f.engine.DelistToken(ctx, testBuyer, testCollection, 1)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("delist works while trading disabled", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 1000)

		require.NoError(t, f.engine.SetTradingEnabled(ctx, testOperator, false))
		_, removed, err := f.engine.DelistToken(ctx, testSeller, testCollection, 1)
		require.NoError(t, err)
		require.True(t, removed)
	})
}

func TestEnterAndWithdrawBid(t *testing.T) {
	ctx := context.Background()

	t.Run("records a fundable bid", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.fund(testBuyer, 1000)

		bid := f.enterBid(t, 1, testBuyer, 800)
		require.Equal(t, testBuyer, bid.Bidder)

		got, ok := f.engine.GetTokenBid(ctx, testCollection, 1, testBuyer)
		require.True(t, ok)
		require.Equal(t, int64(800), got.Price.Int64())
	})

	t.Run("rejects unfundable bid", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.fund(testBuyer, 500)

		_, err := f.engine.EnterBidForToken(ctx, testBuyer, testCollection, 1, big.NewInt(800), f.now.Add(time.Hour))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("rejects bid by the token owner", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.fund(testSeller, 1000)

		_, err := f.engine.EnterBidForToken(ctx, testSeller, testCollection, 1, big.NewInt(800), f.now.Add(time.Hour))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("withdraw removes the bid", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.fund(testBuyer, 1000)
		f.enterBid(t, 1, testBuyer, 800)

		bid, removed, err := f.engine.WithdrawBidForToken(ctx, testBuyer, testCollection, 1)
		require.NoError(t, err)
		require.True(t, removed)
		require.Equal(t, int64(800), bid.Price.Int64())

		_, removed, err = f.engine.WithdrawBidForToken(ctx, testBuyer, testCollection, 1)
		require.NoError(t, err)
		require.False(t, removed, "second withdrawal is a no-op")
	})
}

func TestBuyToken(t *testing.T) {
	ctx := context.Background()

	t.Run("settles at asking price with royalty", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.royalties.SetRoyalty(testCollection, domain.RoyaltyInfo{Recipient: testArtist, FeePoints: 50})
		f.list(t, 1, testSeller, 1000)
		f.fund(testBuyer, 1000)

		trade, err := f.engine.BuyToken(ctx, testBuyer, testCollection, 1, big.NewInt(1000))
		require.NoError(t, err)

		// denominator 1000+20+50: service floor(20000/1070)=18,
		// royalty floor(50000/1070)=46, net 936.
		require.Equal(t, domain.TradeKindBuy, trade.Kind)
		require.Equal(t, int64(18), trade.ServiceFee.Int64())
		require.Equal(t, int64(46), trade.RoyaltyFee.Int64())
		require.Equal(t, int64(936), trade.NetToSeller.Int64())
		require.Equal(t, int64(0), trade.Overpayment.Int64())
		require.Equal(t, testArtist, trade.RoyaltyRecipient)
		require.NotEmpty(t, trade.ID)
		require.Equal(t, f.now, trade.ExecutedAt)

		require.Equal(t, int64(0), f.balance(t, testBuyer))
		require.Equal(t, int64(936), f.balance(t, testSeller))
		require.Equal(t, int64(18), f.balance(t, testOperator))
		require.Equal(t, int64(46), f.balance(t, testArtist))

		owner, err := f.assets.OwnerOf(ctx, testCollection, 1)
		require.NoError(t, err)
		require.Equal(t, testBuyer, owner)

		_, ok := f.engine.GetTokenListing(ctx, testCollection, 1)
		require.False(t, ok, "listing purged after settlement")
	})

	t.Run("overpayment is retained by the operator", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 1000)
		f.fund(testBuyer, 1100)

		trade, err := f.engine.BuyToken(ctx, testBuyer, testCollection, 1, big.NewInt(1100))
		require.NoError(t, err)

		// No royalty recipient: denominator 1020, service floor(20000/1020)=19.
		require.Equal(t, int64(19), trade.ServiceFee.Int64())
		require.Equal(t, int64(0), trade.RoyaltyFee.Int64())
		require.Equal(t, int64(981), trade.NetToSeller.Int64())
		require.Equal(t, int64(100), trade.Overpayment.Int64())

		require.Equal(t, int64(0), f.balance(t, testBuyer))
		require.Equal(t, int64(981), f.balance(t, testSeller))
		require.Equal(t, int64(119), f.balance(t, testOperator), "service fee plus retained overpayment")
	})

	t.Run("zero royalty recipient earns nothing", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		// Misconfigured registry entry: points set but recipient unset.
		f.royalties.SetRoyalty(testCollection, domain.RoyaltyInfo{FeePoints: 50})
		f.list(t, 1, testSeller, 1000)
		f.fund(testBuyer, 1000)

		trade, err := f.engine.BuyToken(ctx, testBuyer, testCollection, 1, big.NewInt(1000))
		require.NoError(t, err)
		require.Equal(t, int64(0), trade.RoyaltyFee.Int64())
		require.Equal(t, int64(19), trade.ServiceFee.Int64())
		require.Equal(t, int64(981), trade.NetToSeller.Int64())
	})

	t.Run("rejects payment below asking price", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 1000)
		f.fund(testBuyer, 1000)

		_, err := f.engine.BuyToken(ctx, testBuyer, testCollection, 1, big.NewInt(999))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("rejects buy of unlisted token", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.fund(testBuyer, 1000)

		_, err := f.engine.BuyToken(ctx, testBuyer, testCollection, 1, big.NewInt(1000))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("rejects self-purchase", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 1000)
		f.fund(testSeller, 1000)

		_, err := f.engine.BuyToken(ctx, testSeller, testCollection, 1, big.NewInt(1000))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("rejects underfunded buyer before any transfer", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 1000)
		f.payments.Credit(testBuyer, big.NewInt(1000))
		f.payments.SetAllowance(testBuyer, testOperator, big.NewInt(500))

		_, err := f.engine.BuyToken(ctx, testBuyer, testCollection, 1, big.NewInt(1000))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, int64(1000), f.balance(t, testBuyer), "failed buy must be side-effect free")
		require.Equal(t, int64(0), f.balance(t, testSeller))
	})

	t.Run("royalty lookup failure aborts settlement", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 1000)
		f.fund(testBuyer, 1000)
		f.royalties.FailQueries = true

		_, err := f.engine.BuyToken(ctx, testBuyer, testCollection, 1, big.NewInt(1000))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, int64(1000), f.balance(t, testBuyer))
	})

	t.Run("purges the buyer's stray bid on the token", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 1000)
		f.fund(testBuyer, 2000)
		f.enterBid(t, 1, testBuyer, 800)

		_, err := f.engine.BuyToken(ctx, testBuyer, testCollection, 1, big.NewInt(1000))
		require.NoError(t, err)

		_, _, err = f.engine.WithdrawBidForToken(ctx, testBuyer, testCollection, 1)
		require.NoError(t, err)
		_, removed, err := f.engine.WithdrawBidForToken(ctx, testBuyer, testCollection, 1)
		require.NoError(t, err)
		require.False(t, removed, "bid already purged by settlement")
	})

	t.Run("rejects re-entrant settlement of the same token from a transfer hook", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 1000)
		f.fund(testBuyer, 2000)

		var nestedErr error
		f.payments.TransferHook = func(from, to common.Address, amount *big.Int) {
			f.payments.TransferHook = nil
			_, nestedErr = f.engine.BuyToken(ctx, testBuyer, testCollection, 1, big.NewInt(1000))
		}

		_, err := f.engine.BuyToken(ctx, testBuyer, testCollection, 1, big.NewInt(1000))
		require.NoError(t, err, "outer settlement completes")
		require.ErrorIs(t, nestedErr, domain.ErrReentrantSettlement)
	})

	t.Run("queues a concurrent settlement of an independent token", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.mintApproved(2, testSeller)
		f.list(t, 1, testSeller, 1000)
		f.list(t, 2, testSeller, 1000)
		f.fund(testBuyer, 2000)

		inside := make(chan struct{})
		release := make(chan struct{})
		f.payments.TransferHook = func(from, to common.Address, amount *big.Int) {
			f.payments.TransferHook = nil
			close(inside)
			<-release
		}

		firstDone := make(chan error, 1)
		go func() {
			_, err := f.engine.BuyToken(ctx, testBuyer, testCollection, 1, big.NewInt(1000))
			firstDone <- err
		}()
		<-inside

		secondDone := make(chan error, 1)
		go func() {
			_, err := f.engine.BuyToken(ctx, testBuyer, testCollection, 2, big.NewInt(1000))
			secondDone <- err
		}()

		// Let the second buy reach the engine while the first is parked
		// mid-settlement, then let both finish.
		time.Sleep(50 * time.Millisecond)
		close(release)

		require.NoError(t, <-firstDone)
		require.NoError(t, <-secondDone, "independent token settles instead of erroring")

		owner1, err := f.assets.OwnerOf(ctx, testCollection, 1)
		require.NoError(t, err)
		owner2, err := f.assets.OwnerOf(ctx, testCollection, 2)
		require.NoError(t, err)
		require.Equal(t, testBuyer, owner1)
		require.Equal(t, testBuyer, owner2)
	})

	t.Run("flags a settlement left incomplete by a failed ownership transfer", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 1000)
		f.fund(testBuyer, 1000)
		f.assets.FailTransfers = true

		_, err := f.engine.BuyToken(ctx, testBuyer, testCollection, 1, big.NewInt(1000))
		require.ErrorIs(t, err, domain.ErrSettlementIncomplete)

		// The payment legs had already cleared and cannot be unwound.
		require.Equal(t, int64(0), f.balance(t, testBuyer))
		require.Equal(t, int64(981), f.balance(t, testSeller))

		// The listing is not purged; the half-settled token stays visible.
		_, ok := f.engine.GetTokenListing(ctx, testCollection, 1)
		require.True(t, ok)
	})
}

func TestAcceptBidForToken(t *testing.T) {
	ctx := context.Background()

	t.Run("settles the bid at its stored price", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.royalties.SetRoyalty(testCollection, domain.RoyaltyInfo{Recipient: testArtist, FeePoints: 50})
		f.fund(testBuyer, 1000)
		f.enterBid(t, 1, testBuyer, 1000)

		trade, err := f.engine.AcceptBidForToken(ctx, testSeller, testCollection, 1, testBuyer, big.NewInt(1000))
		require.NoError(t, err)

		require.Equal(t, domain.TradeKindAcceptBid, trade.Kind)
		require.Equal(t, testSeller, trade.Seller)
		require.Equal(t, testBuyer, trade.Buyer)
		require.Equal(t, int64(18), trade.ServiceFee.Int64())
		require.Equal(t, int64(46), trade.RoyaltyFee.Int64())
		require.Equal(t, int64(936), trade.NetToSeller.Int64())
		require.Equal(t, int64(0), trade.Overpayment.Int64())

		owner, err := f.assets.OwnerOf(ctx, testCollection, 1)
		require.NoError(t, err)
		require.Equal(t, testBuyer, owner)
		require.Equal(t, int64(936), f.balance(t, testSeller))

		_, ok := f.engine.GetTokenBid(ctx, testCollection, 1, testBuyer)
		require.False(t, ok, "accepted bid purged")
	})

	t.Run("price mismatch fails with both prices", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.fund(testBuyer, 1000)
		f.enterBid(t, 1, testBuyer, 1000)

		_, err := f.engine.AcceptBidForToken(ctx, testSeller, testCollection, 1, testBuyer, big.NewInt(900))
		var merr *domain.PriceMismatchError
		require.ErrorAs(t, err, &merr)
		require.Equal(t, int64(900), merr.Expected.Int64())
		require.Equal(t, int64(1000), merr.Actual.Int64())
	})

	t.Run("rejects accept by non-owner", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.fund(testBuyer, 1000)
		f.enterBid(t, 1, testBuyer, 1000)

		_, err := f.engine.AcceptBidForToken(ctx, testArtist, testCollection, 1, testBuyer, big.NewInt(1000))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("rejects accept of unknown bid", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)

		_, err := f.engine.AcceptBidForToken(ctx, testSeller, testCollection, 1, testBuyer, big.NewInt(1000))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("rejects bid that went stale", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.fund(testBuyer, 1000)
		f.enterBid(t, 1, testBuyer, 1000)

		// Bidder spends their funds elsewhere after bidding.
		require.NoError(t, f.payments.Transfer(ctx, testBuyer, testArtist, big.NewInt(600)))

		_, err := f.engine.AcceptBidForToken(ctx, testSeller, testCollection, 1, testBuyer, big.NewInt(1000))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("accepting also purges the token's listing", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 2000)
		f.fund(testBuyer, 1000)
		f.enterBid(t, 1, testBuyer, 1000)

		_, err := f.engine.AcceptBidForToken(ctx, testSeller, testCollection, 1, testBuyer, big.NewInt(1000))
		require.NoError(t, err)

		_, removed, err := f.engine.DelistToken(ctx, testSeller, testCollection, 1)
		require.NoError(t, err)
		require.False(t, removed, "listing already purged by settlement")
	})
}

func TestLazyInvalidationOnReads(t *testing.T) {
	ctx := context.Background()

	t.Run("stale listing is filtered but stays stored", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 1000)

		// Ownership moves outside the marketplace.
		f.assets.Mint(testCollection, 1, testArtist)

		_, ok := f.engine.GetTokenListing(ctx, testCollection, 1)
		require.False(t, ok)
		require.Empty(t, f.engine.GetTokenListings(ctx, testCollection, 0, 10))

		// The record is still there: the original seller can delist it.
		_, removed, err := f.engine.DelistToken(ctx, testSeller, testCollection, 1)
		require.NoError(t, err)
		require.True(t, removed)
	})

	t.Run("highest bid skips invalid bids", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		highBidder := common.HexToAddress("0x0000000000000000000000000000000000000004")
		f.fund(testBuyer, 1000)
		f.fund(highBidder, 2000)
		f.enterBid(t, 1, testBuyer, 800)
		f.enterBid(t, 1, highBidder, 1200)

		best := f.engine.GetTokenHighestBid(ctx, testCollection, 1)
		require.False(t, best.IsZero())
		require.Equal(t, highBidder, best.Bidder)

		// The high bidder drains their balance; their bid goes stale.
		require.NoError(t, f.payments.Transfer(ctx, highBidder, testArtist, big.NewInt(1500)))

		best = f.engine.GetTokenHighestBid(ctx, testCollection, 1)
		require.Equal(t, testBuyer, best.Bidder)
		require.Len(t, f.engine.GetTokenBids(ctx, testCollection, 1), 1)

		highest := f.engine.GetTokenHighestBids(ctx, testCollection, 0, 10)
		require.Len(t, highest, 1)
		require.Equal(t, testBuyer, highest[0].Bidder)
	})

	t.Run("bids by bidder filters stale entries", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.mintApproved(2, testSeller)
		f.fund(testBuyer, 1000)
		f.enterBid(t, 1, testBuyer, 400)
		f.enterBid(t, 2, testBuyer, 400)

		require.Len(t, f.engine.GetBidsByBidder(ctx, testCollection, testBuyer, 0, 10), 2)

		require.NoError(t, f.payments.Transfer(ctx, testBuyer, testArtist, big.NewInt(700)))
		require.Empty(t, f.engine.GetBidsByBidder(ctx, testCollection, testBuyer, 0, 10))
	})
}
