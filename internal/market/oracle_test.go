package market

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/chainbazaar/marketd/internal/domain"
	"github.com/chainbazaar/marketd/internal/registry/memory"
)

type oracleFixture struct {
	oracle   *Oracle
	assets   *memory.AssetLedger
	payments *memory.PaymentLedger
	now      time.Time
}

func newOracleFixture() *oracleFixture {
	assets := memory.NewAssetLedger()
	payments := memory.NewPaymentLedger(testOperator)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	oracle := NewOracle(assets, payments, testOperator).WithClock(func() time.Time { return now })
	return &oracleFixture{oracle: oracle, assets: assets, payments: payments, now: now}
}

func (f *oracleFixture) listing(tokenID uint64, seller common.Address, price int64) domain.Listing {
	l := testListing(tokenID, seller, price)
	l.ExpireAt = f.now.Add(time.Hour)
	return l
}

func (f *oracleFixture) bid(tokenID uint64, bidder common.Address, price int64) domain.Bid {
	b := testBid(tokenID, bidder, price)
	b.ExpireAt = f.now.Add(time.Hour)
	return b
}

func TestOracleListingValidity(t *testing.T) {
	ctx := context.Background()
	seller := common.HexToAddress("0x01")
	stranger := common.HexToAddress("0x02")

	t.Run("valid with token-level approval", func(t *testing.T) {
		f := newOracleFixture()
		f.assets.Mint(testCollection, 1, seller)
		f.assets.Approve(testCollection, 1, testOperator)
		require.True(t, f.oracle.IsListingValid(ctx, f.listing(1, seller, 100)))
	})

	t.Run("valid with operator approval", func(t *testing.T) {
		f := newOracleFixture()
		f.assets.Mint(testCollection, 1, seller)
		f.assets.SetApprovalForAll(testCollection, seller, testOperator, true)
		require.True(t, f.oracle.IsListingValid(ctx, f.listing(1, seller, 100)))
	})

	t.Run("invalid without approval", func(t *testing.T) {
		f := newOracleFixture()
		f.assets.Mint(testCollection, 1, seller)
		require.False(t, f.oracle.IsListingValid(ctx, f.listing(1, seller, 100)))
	})

	t.Run("invalid when seller no longer owns", func(t *testing.T) {
		f := newOracleFixture()
		f.assets.Mint(testCollection, 1, stranger)
		f.assets.Approve(testCollection, 1, testOperator)
		require.False(t, f.oracle.IsListingValid(ctx, f.listing(1, seller, 100)))
	})

	t.Run("invalid when token does not exist", func(t *testing.T) {
		f := newOracleFixture()
		require.False(t, f.oracle.IsListingValid(ctx, f.listing(1, seller, 100)))
	})

	t.Run("invalid when expired", func(t *testing.T) {
		f := newOracleFixture()
		f.assets.Mint(testCollection, 1, seller)
		f.assets.Approve(testCollection, 1, testOperator)
		l := f.listing(1, seller, 100)
		l.ExpireAt = f.now
		require.False(t, f.oracle.IsListingValid(ctx, l), "expiry at now has lapsed")
	})

	t.Run("invalid on zero record", func(t *testing.T) {
		f := newOracleFixture()
		require.False(t, f.oracle.IsListingValid(ctx, domain.Listing{}))
	})

	t.Run("registry failure is fail-closed", func(t *testing.T) {
		f := newOracleFixture()
		f.assets.Mint(testCollection, 1, seller)
		f.assets.Approve(testCollection, 1, testOperator)
		f.assets.FailQueries = true
		require.False(t, f.oracle.IsListingValid(ctx, f.listing(1, seller, 100)))
	})
}

func TestOracleBidValidity(t *testing.T) {
	ctx := context.Background()
	owner := common.HexToAddress("0x01")
	bidder := common.HexToAddress("0x02")

	fund := func(f *oracleFixture, holder common.Address, balance, allowance int64) {
		f.payments.Credit(holder, big.NewInt(balance))
		f.payments.SetAllowance(holder, testOperator, big.NewInt(allowance))
	}

	t.Run("valid when funded", func(t *testing.T) {
		f := newOracleFixture()
		f.assets.Mint(testCollection, 1, owner)
		fund(f, bidder, 100, 100)
		require.True(t, f.oracle.IsBidValid(ctx, f.bid(1, bidder, 50)))
	})

	t.Run("invalid when allowance below price", func(t *testing.T) {
		f := newOracleFixture()
		f.assets.Mint(testCollection, 1, owner)
		fund(f, bidder, 100, 40)
		require.False(t, f.oracle.IsBidValid(ctx, f.bid(1, bidder, 50)))
	})

	t.Run("invalid when balance below price", func(t *testing.T) {
		f := newOracleFixture()
		f.assets.Mint(testCollection, 1, owner)
		fund(f, bidder, 40, 100)
		require.False(t, f.oracle.IsBidValid(ctx, f.bid(1, bidder, 50)))
	})

	t.Run("invalid when bidder owns the token", func(t *testing.T) {
		f := newOracleFixture()
		f.assets.Mint(testCollection, 1, bidder)
		fund(f, bidder, 100, 100)
		require.False(t, f.oracle.IsBidValid(ctx, f.bid(1, bidder, 50)))
	})

	t.Run("invalid when expired", func(t *testing.T) {
		f := newOracleFixture()
		f.assets.Mint(testCollection, 1, owner)
		fund(f, bidder, 100, 100)
		b := f.bid(1, bidder, 50)
		b.ExpireAt = f.now.Add(-time.Second)
		require.False(t, f.oracle.IsBidValid(ctx, b))
	})

	t.Run("payment registry failure is fail-closed", func(t *testing.T) {
		f := newOracleFixture()
		f.assets.Mint(testCollection, 1, owner)
		fund(f, bidder, 100, 100)
		f.payments.FailQueries = true
		require.False(t, f.oracle.IsBidValid(ctx, f.bid(1, bidder, 50)))
	})
}
