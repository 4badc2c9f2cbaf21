package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainbazaar/marketd/internal/domain"
	"github.com/chainbazaar/marketd/internal/market"
	"github.com/chainbazaar/marketd/internal/registry/memory"
)

// fakeBlobReader serves canned archive snapshots.
type fakeBlobReader struct {
	objects map[string]string
}

func (f *fakeBlobReader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	data, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (f *fakeBlobReader) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func newAdminFixture(archives domain.BlobReader) (*AdminService, *fakeAuditStore) {
	assets := memory.NewAssetLedger()
	payments := memory.NewPaymentLedger(svcOperator)
	oracle := market.NewOracle(assets, payments, svcOperator)
	logger := slog.New(slog.DiscardHandler)
	engine := market.NewEngine(market.NewLedger(), oracle, assets, payments, memory.NewRoyaltyLedger(), svcOperator, market.DefaultPolicy(), logger)
	audit := &fakeAuditStore{}
	return NewAdminService(engine, audit, archives, logger), audit
}

func TestAdminServiceAuditsMutations(t *testing.T) {
	ctx := context.Background()
	svc, audit := newAdminFixture(nil)

	require.NoError(t, svc.SetTradingEnabled(ctx, svcOperator, false))
	require.NoError(t, svc.SetExpireWindow(ctx, svcOperator, time.Hour, 48*time.Hour))
	require.NoError(t, svc.SetServiceFee(ctx, svcOperator, 10))
	_, _, err := svc.Prune(ctx, svcOperator, svcCollection)
	require.NoError(t, err)

	require.Len(t, audit.entries, 4)
	require.Equal(t, "policy_trading_updated", audit.entries[0].Event)
	require.Equal(t, "policy_expire_window_updated", audit.entries[1].Event)
	require.Equal(t, "policy_service_fee_updated", audit.entries[2].Event)
	require.Equal(t, "ledger_pruned", audit.entries[3].Event)

	p := svc.Policy()
	require.False(t, p.TradingEnabled)
	require.Equal(t, uint64(10), p.ServiceFeePoints)
	require.Equal(t, svcOperator, svc.Operator())
}

func TestAdminServiceArchiveReads(t *testing.T) {
	ctx := context.Background()
	reader := &fakeBlobReader{objects: map[string]string{
		"trades/2026-01-01T00-00-00.jsonl": `{"id":"t1"}` + "\n",
		"audit/2026-01-01T00-00-00.jsonl":  `{"event":"x"}` + "\n",
	}}
	svc, _ := newAdminFixture(reader)

	keys, err := svc.ListArchiveObjects(ctx, "trades/")
	require.NoError(t, err)
	require.Equal(t, []string{"trades/2026-01-01T00-00-00.jsonl"}, keys)

	body, err := svc.OpenArchiveObject(ctx, "trades/2026-01-01T00-00-00.jsonl")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Contains(t, string(data), `"id":"t1"`)

	_, err = svc.OpenArchiveObject(ctx, "trades/missing.jsonl")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdminServiceArchiveDisabled(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAdminFixture(nil)

	_, err := svc.ListArchiveObjects(ctx, "")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.OpenArchiveObject(ctx, "trades/any.jsonl")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdminServiceRejectedMutationIsNotAudited(t *testing.T) {
	ctx := context.Background()
	svc, audit := newAdminFixture(nil)

	require.ErrorIs(t, svc.SetTradingEnabled(ctx, svcSeller, false), domain.ErrUnauthorized)
	require.ErrorIs(t, svc.SetServiceFee(ctx, svcSeller, 10), domain.ErrUnauthorized)
	_, _, err := svc.Prune(ctx, svcSeller, svcCollection)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	require.Empty(t, audit.entries)
}
