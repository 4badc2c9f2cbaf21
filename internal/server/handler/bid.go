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

// BidService defines the bid lifecycle methods the handler requires from
// the service layer.
type BidService interface {
	EnterBid(ctx context.Context, caller, collection common.Address, tokenID uint64, price *big.Int, expireAt time.Time) (domain.Bid, error)
	WithdrawBid(ctx context.Context, caller, collection common.Address, tokenID uint64) (domain.Bid, bool, error)
	AcceptBid(ctx context.Context, caller, collection common.Address, tokenID uint64, bidder common.Address, expectedPrice *big.Int) (domain.Trade, error)
	GetBid(ctx context.Context, collection common.Address, tokenID uint64, bidder common.Address) (domain.Bid, bool)
	GetBids(ctx context.Context, collection common.Address, tokenID uint64) []domain.Bid
	GetHighestBid(ctx context.Context, collection common.Address, tokenID uint64) domain.Bid
	GetHighestBids(ctx context.Context, collection common.Address, offset, limit int) []domain.Bid
	GetBidsByBidder(ctx context.Context, collection, bidder common.Address, offset, limit int) []domain.Bid
}

// BidHandler serves bid lifecycle and accept-bid endpoints.
type BidHandler struct {
	market BidService
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler with the given service and logger.
func NewBidHandler(market BidService, logger *slog.Logger) *BidHandler {
	return &BidHandler{market: market, logger: logger}
}

// bidRequest is the JSON body for entering a bid.
type bidRequest struct {
	Price    string    `json:"price"`
	ExpireAt time.Time `json:"expire_at"`
}

// acceptBidRequest is the JSON body for accepting a bid. Price pins the
// exact bid the seller observed; settlement is refused if the stored bid
// has changed.
type acceptBidRequest struct {
	Bidder string `json:"bidder"`
	Price  string `json:"price"`
}

// listBidsResponse wraps bid list output.
type listBidsResponse struct {
	Bids   []domain.Bid `json:"bids"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset,omitempty"`
}

// ListBids returns all currently valid bids on a token.
// GET /api/collections/{collection}/tokens/{token}/bids
func (h *BidHandler) ListBids(w http.ResponseWriter, r *http.Request) {
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

	bids := h.market.GetBids(r.Context(), collection, tokenID)
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: bids})
}

// GetBid returns one bidder's currently valid bid on a token.
// GET /api/collections/{collection}/tokens/{token}/bids/{bidder}
func (h *BidHandler) GetBid(w http.ResponseWriter, r *http.Request) {
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
	bidder, ok := pathAddress(r, "bidder")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bidder address")
		return
	}

	bid, ok := h.market.GetBid(r.Context(), collection, tokenID, bidder)
	if !ok {
		writeError(w, http.StatusNotFound, "no valid bid on token from bidder")
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// GetHighestBid returns the best currently valid bid on a token.
// GET /api/collections/{collection}/tokens/{token}/bids/highest
func (h *BidHandler) GetHighestBid(w http.ResponseWriter, r *http.Request) {
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

	best := h.market.GetHighestBid(r.Context(), collection, tokenID)
	if best.IsZero() {
		writeError(w, http.StatusNotFound, "no valid bid on token")
		return
	}
	writeJSON(w, http.StatusOK, best)
}

// ListHighestBids returns the best valid bid per token across a page of
// tokens carrying bids.
// GET /api/collections/{collection}/bids/highest?limit=50&offset=0
func (h *BidHandler) ListHighestBids(w http.ResponseWriter, r *http.Request) {
	collection, ok := pathAddress(r, "collection")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection address")
		return
	}
	opts := parseListOpts(r)

	bids := h.market.GetHighestBids(r.Context(), collection, opts.Offset, opts.Limit)
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{
		Bids:   bids,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// ListBidsByBidder returns a page of one bidder's valid bids across the
// collection.
// GET /api/collections/{collection}/bidders/{bidder}/bids
func (h *BidHandler) ListBidsByBidder(w http.ResponseWriter, r *http.Request) {
	collection, ok := pathAddress(r, "collection")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection address")
		return
	}
	bidder, ok := pathAddress(r, "bidder")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bidder address")
		return
	}
	opts := parseListOpts(r)

	bids := h.market.GetBidsByBidder(r.Context(), collection, bidder, opts.Offset, opts.Limit)
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{
		Bids:   bids,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// CreateBid enters the caller's bid on a token, replacing any prior bid by
// the same caller.
// POST /api/collections/{collection}/tokens/{token}/bids
func (h *BidHandler) CreateBid(w http.ResponseWriter, r *http.Request) {
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

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	price, ok := parsePrice(req.Price)
	if !ok {
		writeError(w, http.StatusBadRequest, "price must be a positive decimal string")
		return
	}

	bid, err := h.market.EnterBid(r.Context(), caller, collection, tokenID, price, req.ExpireAt)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// DeleteBid withdraws the caller's bid. Withdrawing an absent bid succeeds
// with removed=false.
// DELETE /api/collections/{collection}/tokens/{token}/bids
func (h *BidHandler) DeleteBid(w http.ResponseWriter, r *http.Request) {
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

	_, removed, err := h.market.WithdrawBid(r.Context(), caller, collection, tokenID)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// AcceptBid settles a bid against the caller's token.
// POST /api/collections/{collection}/tokens/{token}/accept
func (h *BidHandler) AcceptBid(w http.ResponseWriter, r *http.Request) {
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

	var req acceptBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !common.IsHexAddress(req.Bidder) {
		writeError(w, http.StatusBadRequest, "bidder must be a hex address")
		return
	}
	price, ok := parsePrice(req.Price)
	if !ok {
		writeError(w, http.StatusBadRequest, "price must be a positive decimal string")
		return
	}

	trade, err := h.market.AcceptBid(r.Context(), caller, collection, tokenID, common.HexToAddress(req.Bidder), price)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}
