package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainbazaar/marketd/internal/domain"
)

// exportPageSize bounds how many rows each store query fetches.
const exportPageSize = 500

// Archiver exports the trade journal and audit log to blob cold storage as
// JSON-lines snapshots. Rows stay in Postgres; the export is additive.
type Archiver struct {
	trades    domain.TradeStore
	audits    domain.AuditStore
	blobs     domain.BlobWriter
	retention time.Duration
	logger    *slog.Logger
}

// New creates an Archiver. retention controls the export cutoff: only rows
// older than now-retention are written out.
func New(trades domain.TradeStore, audits domain.AuditStore, blobs domain.BlobWriter, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		trades:    trades,
		audits:    audits,
		blobs:     blobs,
		retention: retention,
		logger:    logger,
	}
}

// Run executes a single export run against the current cutoff.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.retention)
	a.logger.Info("archive: starting export run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)

	tradeCount, err := a.exportTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive: exporting trades before %v: %w", cutoff, err)
	}

	auditCount, err := a.exportAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive: exporting audit log before %v: %w", cutoff, err)
	}

	a.logger.Info("archive: export run complete",
		slog.Int("trades_exported", tradeCount),
		slog.Int("audit_exported", auditCount),
	)
	return nil
}

// RunEvery runs the archiver on a fixed interval until the context is
// cancelled. The first run fires after one full interval.
func (a *Archiver) RunEvery(ctx context.Context, interval time.Duration) error {
	a.logger.Info("archive: scheduler started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archive: scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive: export run failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *Archiver) exportTrades(ctx context.Context, cutoff time.Time) (int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	total := 0
	for offset := 0; ; offset += exportPageSize {
		page, err := a.trades.ListRecent(ctx, domain.ListOpts{
			Limit:  exportPageSize,
			Offset: offset,
			Until:  &cutoff,
		})
		if err != nil {
			return 0, err
		}
		for _, t := range page {
			if err := enc.Encode(t); err != nil {
				return 0, fmt.Errorf("encoding trade %s: %w", t.ID, err)
			}
		}
		total += len(page)
		if len(page) < exportPageSize {
			break
		}
	}

	if total == 0 {
		return 0, nil
	}
	key := fmt.Sprintf("trades/%s.jsonl", cutoff.Format("2006-01-02T15-04-05"))
	if err := a.blobs.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return 0, err
	}
	return total, nil
}

func (a *Archiver) exportAudit(ctx context.Context, cutoff time.Time) (int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	total := 0
	for offset := 0; ; offset += exportPageSize {
		page, err := a.audits.List(ctx, domain.ListOpts{
			Limit:  exportPageSize,
			Offset: offset,
			Until:  &cutoff,
		})
		if err != nil {
			return 0, err
		}
		for _, e := range page {
			if err := enc.Encode(e); err != nil {
				return 0, fmt.Errorf("encoding audit entry %d: %w", e.ID, err)
			}
		}
		total += len(page)
		if len(page) < exportPageSize {
			break
		}
	}

	if total == 0 {
		return 0, nil
	}
	key := fmt.Sprintf("audit/%s.jsonl", cutoff.Format("2006-01-02T15-04-05"))
	if err := a.blobs.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return 0, err
	}
	return total, nil
}
