package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/chainbazaar/marketd/internal/domain"
)

// pagedTradeStore serves a fixed trade slice, honoring Limit/Offset and
// recording the Until cutoff it was queried with.
type pagedTradeStore struct {
	trades  []domain.Trade
	until   *time.Time
	listErr error
}

func (s *pagedTradeStore) Insert(ctx context.Context, trade domain.Trade) error { return nil }

func (s *pagedTradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}

func (s *pagedTradeStore) ListByCollection(ctx context.Context, collection common.Address, opts domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

func (s *pagedTradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.until = opts.Until
	if opts.Offset >= len(s.trades) {
		return nil, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(s.trades) {
		end = len(s.trades)
	}
	return s.trades[opts.Offset:end], nil
}

type pagedAuditStore struct {
	entries []domain.AuditEntry
}

func (s *pagedAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	return nil
}

func (s *pagedAuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if opts.Offset >= len(s.entries) {
		return nil, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(s.entries) {
		end = len(s.entries)
	}
	return s.entries[opts.Offset:end], nil
}

// captureBlobWriter stores uploaded objects keyed by path.
type captureBlobWriter struct {
	objects      map[string][]byte
	contentTypes map[string]string
	putErr       error
}

func newCaptureBlobWriter() *captureBlobWriter {
	return &captureBlobWriter{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (w *captureBlobWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if w.putErr != nil {
		return w.putErr
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	w.objects[path] = buf.Bytes()
	w.contentTypes[path] = contentType
	return nil
}

func (w *captureBlobWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return w.Put(ctx, path, data, "application/octet-stream")
}

func makeTrades(n int) []domain.Trade {
	out := make([]domain.Trade, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Trade{
			ID:          string(rune('a'+i%26)) + "-trade",
			Kind:        domain.TradeKindBuy,
			TokenID:     uint64(i),
			Price:       big.NewInt(1000),
			ServiceFee:  big.NewInt(19),
			RoyaltyFee:  big.NewInt(0),
			NetToSeller: big.NewInt(981),
			Overpayment: big.NewInt(0),
			ExecutedAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	return out
}

func countLines(data []byte) int {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
	}
	return n
}

func TestRunExportsTradesAndAudit(t *testing.T) {
	trades := &pagedTradeStore{trades: makeTrades(3)}
	audits := &pagedAuditStore{entries: []domain.AuditEntry{
		{ID: 1, Event: "token_listed", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: 2, Event: "token_bought", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
	}}
	blobs := newCaptureBlobWriter()

	a := New(trades, audits, blobs, 90*24*time.Hour, slog.New(slog.DiscardHandler))
	require.NoError(t, a.Run(context.Background()))

	require.Len(t, blobs.objects, 2)
	var tradeKey, auditKey string
	for key := range blobs.objects {
		switch {
		case strings.HasPrefix(key, "trades/"):
			tradeKey = key
		case strings.HasPrefix(key, "audit/"):
			auditKey = key
		}
	}
	require.NotEmpty(t, tradeKey)
	require.NotEmpty(t, auditKey)
	require.True(t, strings.HasSuffix(tradeKey, ".jsonl"))
	require.Equal(t, "application/x-ndjson", blobs.contentTypes[tradeKey])

	require.Equal(t, 3, countLines(blobs.objects[tradeKey]), "one JSON line per trade")
	require.Equal(t, 2, countLines(blobs.objects[auditKey]))

	// Every line is standalone JSON.
	sc := bufio.NewScanner(bytes.NewReader(blobs.objects[tradeKey]))
	for sc.Scan() {
		var trade domain.Trade
		require.NoError(t, json.Unmarshal(sc.Bytes(), &trade))
	}

	// The store was filtered by the retention cutoff.
	require.NotNil(t, trades.until)
	require.WithinDuration(t, time.Now().UTC().Add(-90*24*time.Hour), *trades.until, time.Minute)
}

func TestRunPaginatesLargeExports(t *testing.T) {
	trades := &pagedTradeStore{trades: makeTrades(exportPageSize + 7)}
	blobs := newCaptureBlobWriter()

	a := New(trades, &pagedAuditStore{}, blobs, time.Hour, slog.New(slog.DiscardHandler))
	require.NoError(t, a.Run(context.Background()))

	var tradeKey string
	for key := range blobs.objects {
		if strings.HasPrefix(key, "trades/") {
			tradeKey = key
		}
	}
	require.NotEmpty(t, tradeKey)
	require.Equal(t, exportPageSize+7, countLines(blobs.objects[tradeKey]), "all pages land in one snapshot")
}

func TestRunSkipsEmptyExports(t *testing.T) {
	blobs := newCaptureBlobWriter()
	a := New(&pagedTradeStore{}, &pagedAuditStore{}, blobs, time.Hour, slog.New(slog.DiscardHandler))

	require.NoError(t, a.Run(context.Background()))
	require.Empty(t, blobs.objects, "no rows, no snapshot objects")
}

func TestRunSurfacesStoreErrors(t *testing.T) {
	trades := &pagedTradeStore{listErr: errors.New("pg down")}
	a := New(trades, &pagedAuditStore{}, newCaptureBlobWriter(), time.Hour, slog.New(slog.DiscardHandler))

	err := a.Run(context.Background())
	require.ErrorContains(t, err, "exporting trades")
}

func TestRunEveryStopsOnCancel(t *testing.T) {
	a := New(&pagedTradeStore{}, &pagedAuditStore{}, newCaptureBlobWriter(), time.Hour, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunEvery(ctx, time.Hour) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RunEvery did not stop after cancellation")
	}
}
