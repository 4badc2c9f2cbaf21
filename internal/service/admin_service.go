package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
	"github.com/chainbazaar/marketd/internal/market"
)

// AdminService exposes the operator-gated policy surface. Every successful
// mutation is audit logged.
type AdminService struct {
	engine   *market.Engine
	audit    domain.AuditStore
	archives domain.BlobReader // nil unless the archiver is enabled
	logger   *slog.Logger
}

// NewAdminService creates an AdminService. archives may be nil when no
// cold storage is configured; the archive endpoints then report not-found.
func NewAdminService(engine *market.Engine, audit domain.AuditStore, archives domain.BlobReader, logger *slog.Logger) *AdminService {
	return &AdminService{engine: engine, audit: audit, archives: archives, logger: logger}
}

// Policy returns the current policy record.
func (s *AdminService) Policy() market.Policy {
	return s.engine.Policy()
}

// Operator returns the marketplace operator address.
func (s *AdminService) Operator() common.Address {
	return s.engine.Operator()
}

// SetTradingEnabled flips the trading flag.
func (s *AdminService) SetTradingEnabled(ctx context.Context, caller common.Address, enabled bool) error {
	if err := s.engine.SetTradingEnabled(ctx, caller, enabled); err != nil {
		return err
	}
	s.auditLog(ctx, "policy_trading_updated", map[string]any{
		"caller":  caller.Hex(),
		"enabled": enabled,
	})
	return nil
}

// SetExpireWindow updates the min/max expiry bounds.
func (s *AdminService) SetExpireWindow(ctx context.Context, caller common.Address, min, max time.Duration) error {
	if err := s.engine.SetExpireWindow(ctx, caller, min, max); err != nil {
		return err
	}
	s.auditLog(ctx, "policy_expire_window_updated", map[string]any{
		"caller": caller.Hex(),
		"min":    min.String(),
		"max":    max.String(),
	})
	return nil
}

// SetServiceFee updates the operator's fee share.
func (s *AdminService) SetServiceFee(ctx context.Context, caller common.Address, points uint64) error {
	if err := s.engine.SetServiceFee(ctx, caller, points); err != nil {
		return err
	}
	s.auditLog(ctx, "policy_service_fee_updated", map[string]any{
		"caller": caller.Hex(),
		"points": points,
	})
	return nil
}

// Prune removes every stale listing and bid from the collection's ledger.
func (s *AdminService) Prune(ctx context.Context, caller, collection common.Address) (listingsRemoved, bidsRemoved int, err error) {
	listingsRemoved, bidsRemoved, err = s.engine.Prune(ctx, caller, collection)
	if err != nil {
		return 0, 0, err
	}
	s.auditLog(ctx, "ledger_pruned", map[string]any{
		"caller":           caller.Hex(),
		"collection":       collection.Hex(),
		"listings_removed": listingsRemoved,
		"bids_removed":     bidsRemoved,
	})
	return listingsRemoved, bidsRemoved, nil
}

// ListArchiveObjects returns the cold-storage snapshot keys under prefix.
func (s *AdminService) ListArchiveObjects(ctx context.Context, prefix string) ([]string, error) {
	if s.archives == nil {
		return nil, domain.ErrNotFound
	}
	keys, err := s.archives.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("admin_service: list archive objects: %w", err)
	}
	return keys, nil
}

// OpenArchiveObject streams one archived snapshot. The caller must close
// the returned reader.
func (s *AdminService) OpenArchiveObject(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.archives == nil {
		return nil, domain.ErrNotFound
	}
	return s.archives.Get(ctx, key)
}

func (s *AdminService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "admin_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
