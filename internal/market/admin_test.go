package market

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainbazaar/marketd/internal/domain"
)

func TestPolicySetters(t *testing.T) {
	ctx := context.Background()

	t.Run("non-operator is rejected", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())

		require.ErrorIs(t, f.engine.SetTradingEnabled(ctx, testSeller, false), domain.ErrUnauthorized)
		require.ErrorIs(t, f.engine.SetExpireWindow(ctx, testSeller, time.Hour, 2*time.Hour), domain.ErrUnauthorized)
		require.ErrorIs(t, f.engine.SetServiceFee(ctx, testSeller, 10), domain.ErrUnauthorized)
		_, _, err := f.engine.Prune(ctx, testSeller, testCollection)
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("trading flag", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		require.NoError(t, f.engine.SetTradingEnabled(ctx, testOperator, false))
		require.False(t, f.engine.Policy().TradingEnabled)
		require.NoError(t, f.engine.SetTradingEnabled(ctx, testOperator, true))
		require.True(t, f.engine.Policy().TradingEnabled)
	})

	t.Run("expire window", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		require.NoError(t, f.engine.SetExpireWindow(ctx, testOperator, time.Hour, 48*time.Hour))
		p := f.engine.Policy()
		require.Equal(t, time.Hour, p.MinExpireWindow)
		require.Equal(t, 48*time.Hour, p.MaxExpireWindow)
	})

	t.Run("invalid expire window leaves policy untouched", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		var perr *domain.PolicyError

		err := f.engine.SetExpireWindow(ctx, testOperator, 2*time.Hour, time.Hour)
		require.ErrorAs(t, err, &perr)
		err = f.engine.SetExpireWindow(ctx, testOperator, 0, time.Hour)
		require.ErrorAs(t, err, &perr)

		require.Equal(t, DefaultPolicy().MinExpireWindow, f.engine.Policy().MinExpireWindow)
	})

	t.Run("service fee respects the cap", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())

		require.NoError(t, f.engine.SetServiceFee(ctx, testOperator, MaxServiceFeePoints))
		require.Equal(t, uint64(MaxServiceFeePoints), f.engine.Policy().ServiceFeePoints)

		var perr *domain.PolicyError
		err := f.engine.SetServiceFee(ctx, testOperator, MaxServiceFeePoints+1)
		require.ErrorAs(t, err, &perr)
		require.Equal(t, uint64(MaxServiceFeePoints), f.engine.Policy().ServiceFeePoints)
	})

	t.Run("fee change applies to later settlements", func(t *testing.T) {
		f := newEngineFixture(DefaultPolicy())
		f.mintApproved(1, testSeller)
		f.list(t, 1, testSeller, 1000)
		f.fund(testBuyer, 1000)

		require.NoError(t, f.engine.SetServiceFee(ctx, testOperator, 0))
		trade, err := f.engine.BuyToken(ctx, testBuyer, testCollection, 1, big.NewInt(1000))
		require.NoError(t, err)
		require.Equal(t, int64(0), trade.ServiceFee.Int64())
		require.Equal(t, int64(1000), trade.NetToSeller.Int64())
	})
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.ServiceFeePoints = MaxServiceFeePoints + 1
	require.Error(t, p.Validate())

	p = DefaultPolicy()
	p.MinExpireWindow = 0
	require.Error(t, p.Validate())

	p = DefaultPolicy()
	p.MaxExpireWindow = p.MinExpireWindow - time.Second
	require.Error(t, p.Validate())
}

func TestPrune(t *testing.T) {
	ctx := context.Background()

	f := newEngineFixture(DefaultPolicy())
	f.mintApproved(1, testSeller)
	f.mintApproved(2, testSeller)
	f.mintApproved(3, testSeller)
	f.list(t, 1, testSeller, 1000)
	f.list(t, 2, testSeller, 1000)
	f.fund(testBuyer, 1000)
	f.enterBid(t, 2, testBuyer, 500)
	f.enterBid(t, 3, testBuyer, 500)

	// Token 1's listing goes stale: ownership moved outside the market.
	// Both bids go stale: the bidder drained their balance.
	f.assets.Mint(testCollection, 1, testArtist)
	require.NoError(t, f.payments.Transfer(ctx, testBuyer, testArtist, big.NewInt(800)))

	listingsRemoved, bidsRemoved, err := f.engine.Prune(ctx, testOperator, testCollection)
	require.NoError(t, err)
	require.Equal(t, 1, listingsRemoved)
	require.Equal(t, 2, bidsRemoved)

	// The valid listing survives; the stale records are gone from storage.
	_, ok := f.engine.GetTokenListing(ctx, testCollection, 2)
	require.True(t, ok)
	_, removed, err := f.engine.DelistToken(ctx, testSeller, testCollection, 1)
	require.NoError(t, err)
	require.False(t, removed, "stale listing was physically removed")

	// Prune again: nothing left to remove.
	listingsRemoved, bidsRemoved, err = f.engine.Prune(ctx, testOperator, testCollection)
	require.NoError(t, err)
	require.Zero(t, listingsRemoved)
	require.Zero(t, bidsRemoved)
}

func TestCheckExpireWindow(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, p.checkExpireWindow(now, now.Add(p.MinExpireWindow)))
	require.NoError(t, p.checkExpireWindow(now, now.Add(p.MaxExpireWindow)))
	require.Error(t, p.checkExpireWindow(now, now.Add(p.MinExpireWindow-time.Second)))
	require.Error(t, p.checkExpireWindow(now, now.Add(p.MaxExpireWindow+time.Second)))
	require.Error(t, p.checkExpireWindow(now, now.Add(-time.Hour)))
}
