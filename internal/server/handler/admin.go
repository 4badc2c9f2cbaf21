package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
	"github.com/chainbazaar/marketd/internal/market"
)

// AdminService defines the operator-gated policy methods the handler
// requires from the service layer.
type AdminService interface {
	Policy() market.Policy
	SetTradingEnabled(ctx context.Context, caller common.Address, enabled bool) error
	SetExpireWindow(ctx context.Context, caller common.Address, min, max time.Duration) error
	SetServiceFee(ctx context.Context, caller common.Address, points uint64) error
	Prune(ctx context.Context, caller, collection common.Address) (listingsRemoved, bidsRemoved int, err error)
}

// AuditService defines the audit log query the handler requires.
type AuditService interface {
	ListAuditEntries(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// ArchiveService defines the cold-storage snapshot reads the handler
// requires.
type ArchiveService interface {
	ListArchiveObjects(ctx context.Context, prefix string) ([]string, error)
	OpenArchiveObject(ctx context.Context, key string) (io.ReadCloser, error)
}

// AdminHandler serves the operator policy and maintenance endpoints.
type AdminHandler struct {
	admin    AdminService
	audit    AuditService
	archives ArchiveService
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given services and
// logger.
func NewAdminHandler(admin AdminService, audit AuditService, archives ArchiveService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, audit: audit, archives: archives, logger: logger}
}

// policyResponse exposes the policy record with durations as strings.
type policyResponse struct {
	TradingEnabled   bool   `json:"trading_enabled"`
	MinExpireWindow  string `json:"min_expire_window"`
	MaxExpireWindow  string `json:"max_expire_window"`
	ServiceFeePoints uint64 `json:"service_fee_points"`
}

// GetPolicy returns the current marketplace policy.
// GET /api/admin/policy
func (h *AdminHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p := h.admin.Policy()
	writeJSON(w, http.StatusOK, policyResponse{
		TradingEnabled:   p.TradingEnabled,
		MinExpireWindow:  p.MinExpireWindow.String(),
		MaxExpireWindow:  p.MaxExpireWindow.String(),
		ServiceFeePoints: p.ServiceFeePoints,
	})
}

// SetTrading flips the trading flag.
// PUT /api/admin/policy/trading
func (h *AdminHandler) SetTrading(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid "+callerHeader+" header")
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.admin.SetTradingEnabled(r.Context(), caller, req.Enabled); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trading_enabled": req.Enabled})
}

// SetExpireWindow updates the listing/bid expiry bounds.
// PUT /api/admin/policy/expire-window
func (h *AdminHandler) SetExpireWindow(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid "+callerHeader+" header")
		return
	}

	var req struct {
		Min string `json:"min"`
		Max string `json:"max"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	min, err := time.ParseDuration(req.Min)
	if err != nil {
		writeError(w, http.StatusBadRequest, "min must be a duration string")
		return
	}
	max, err := time.ParseDuration(req.Max)
	if err != nil {
		writeError(w, http.StatusBadRequest, "max must be a duration string")
		return
	}

	if err := h.admin.SetExpireWindow(r.Context(), caller, min, max); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"min": min.String(), "max": max.String()})
}

// SetServiceFee updates the operator's fee share.
// PUT /api/admin/policy/service-fee
func (h *AdminHandler) SetServiceFee(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid "+callerHeader+" header")
		return
	}

	var req struct {
		Points uint64 `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.admin.SetServiceFee(r.Context(), caller, req.Points); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"points": req.Points})
}

// Prune removes every stale listing and bid from a collection's ledger.
// POST /api/admin/collections/{collection}/prune
func (h *AdminHandler) Prune(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid "+callerHeader+" header")
		return
	}
	collection, ok := pathAddress(r, "collection")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection address")
		return
	}

	listings, bids, err := h.admin.Prune(r.Context(), caller, collection)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"listings_removed": listings,
		"bids_removed":     bids,
	})
}

// ListArchive returns the exported snapshot keys, optionally filtered by a
// prefix such as trades/ or audit/.
// GET /api/admin/archive?prefix=trades/
func (h *AdminHandler) ListArchive(w http.ResponseWriter, r *http.Request) {
	keys, err := h.archives.ListArchiveObjects(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// GetArchiveObject streams one exported snapshot back to the operator.
// GET /api/admin/archive/{key...}
func (h *AdminHandler) GetArchiveObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing archive key")
		return
	}

	body, err := h.archives.OpenArchiveObject(r.Context(), key)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: streaming archive object failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// ListAudit returns audit log entries.
// GET /api/admin/audit?limit=50&offset=0
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	entries, err := h.audit.ListAuditEntries(r.Context(), opts)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
