package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
)

// ListingService defines the listing and settlement methods the handler
// requires from the service layer.
type ListingService interface {
	ListToken(ctx context.Context, caller, collection common.Address, tokenID uint64, price *big.Int, expireAt time.Time) (domain.Listing, error)
	DelistToken(ctx context.Context, caller, collection common.Address, tokenID uint64) (domain.Listing, bool, error)
	BuyToken(ctx context.Context, caller, collection common.Address, tokenID uint64, payment *big.Int) (domain.Trade, error)
	GetListing(ctx context.Context, collection common.Address, tokenID uint64) (domain.Listing, bool)
	GetListings(ctx context.Context, collection common.Address, offset, limit int) []domain.Listing
}

// ListingHandler serves listing lifecycle and buy endpoints.
type ListingHandler struct {
	market ListingService
	logger *slog.Logger
}

// NewListingHandler creates a ListingHandler with the given service and
// logger.
func NewListingHandler(market ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{market: market, logger: logger}
}

// listingRequest is the JSON body for creating a listing.
type listingRequest struct {
	Price    string    `json:"price"`
	ExpireAt time.Time `json:"expire_at"`
}

// buyRequest is the JSON body for a buy. Payment must cover the asking
// price; any excess is retained by the marketplace operator.
type buyRequest struct {
	Payment string `json:"payment"`
}

// listListingsResponse wraps the list endpoint output with its paging
// window.
type listListingsResponse struct {
	Listings []domain.Listing `json:"listings"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// ListListings returns the collection's currently valid listings.
// GET /api/collections/{collection}/listings?limit=50&offset=0
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	collection, ok := pathAddress(r, "collection")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection address")
		return
	}
	opts := parseListOpts(r)

	listings := h.market.GetListings(r.Context(), collection, opts.Offset, opts.Limit)
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, listListingsResponse{
		Listings: listings,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// GetListing returns a single token's listing if one is currently valid.
// GET /api/collections/{collection}/listings/{token}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	collection, ok := pathAddress(r, "collection")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection address")
		return
	}
	tokenID, ok := pathTokenID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	listing, found := h.market.GetListing(r.Context(), collection, tokenID)
	if !found {
		writeError(w, http.StatusNotFound, "no valid listing for token")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// CreateListing lists the caller's token for sale.
// POST /api/collections/{collection}/listings/{token}
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
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
	tokenID, ok := pathTokenID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	var req listingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	price, ok := parsePrice(req.Price)
	if !ok {
		writeError(w, http.StatusBadRequest, "price must be a positive decimal string")
		return
	}

	listing, err := h.market.ListToken(r.Context(), caller, collection, tokenID, price, req.ExpireAt)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

// DeleteListing removes the caller's listing. Deleting an absent listing
// succeeds with removed=false.
// DELETE /api/collections/{collection}/listings/{token}
func (h *ListingHandler) DeleteListing(w http.ResponseWriter, r *http.Request) {
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
	tokenID, ok := pathTokenID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	_, removed, err := h.market.DelistToken(r.Context(), caller, collection, tokenID)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// BuyToken settles a listing at its asking price.
// POST /api/collections/{collection}/tokens/{token}/buy
func (h *ListingHandler) BuyToken(w http.ResponseWriter, r *http.Request) {
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
	tokenID, ok := pathTokenID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	payment, ok := parsePrice(req.Payment)
	if !ok {
		writeError(w, http.StatusBadRequest, "payment must be a positive decimal string")
		return
	}

	trade, err := h.market.BuyToken(r.Context(), caller, collection, tokenID, payment)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}
