package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainbazaar/marketd/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Amounts are
// stored as NUMERIC(78,0) and round-tripped through decimal strings, so
// uint256-scale values survive intact.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeColumns = `id, kind, collection, token_id, seller, buyer,
	price::text, service_fee::text, royalty_fee::text, net_to_seller::text,
	royalty_recipient, overpayment::text, executed_at`

// Insert appends a settled trade to the journal.
func (s *TradeStore) Insert(ctx context.Context, trade domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, kind, collection, token_id, seller, buyer,
			price, service_fee, royalty_fee, net_to_seller,
			royalty_recipient, overpayment, executed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8::numeric, $9::numeric, $10::numeric,
			$11, $12::numeric, $13
		)`
	_, err := s.pool.Exec(ctx, query,
		trade.ID,
		string(trade.Kind),
		trade.Collection.Hex(),
		strconv.FormatUint(trade.TokenID, 10),
		trade.Seller.Hex(),
		trade.Buyer.Hex(),
		trade.Price.String(),
		trade.ServiceFee.String(),
		trade.RoyaltyFee.String(),
		trade.NetToSeller.String(),
		trade.RoyaltyRecipient.Hex(),
		trade.Overpayment.String(),
		trade.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", trade.ID, err)
	}
	return nil
}

// GetByID retrieves a single trade by its id.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`
	trade, err := scanTrade(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return trade, nil
}

// ListByCollection returns the collection's trades, newest first.
func (s *TradeStore) ListByCollection(ctx context.Context, collection common.Address, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE collection = $1`
	args := []any{collection.Hex()}
	query, args = applyTimeFilters(query, args, opts)
	query += " ORDER BY executed_at DESC"
	query, args = applyListOpts(query, args, opts)

	return s.queryTrades(ctx, query, args...)
}

// ListRecent returns the most recent trades across all collections.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE 1=1`
	var args []any
	query, args = applyTimeFilters(query, args, opts)
	query += " ORDER BY executed_at DESC"
	query, args = applyListOpts(query, args, opts)

	return s.queryTrades(ctx, query, args...)
}

func (s *TradeStore) queryTrades(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: trades rows: %w", err)
	}
	return trades, nil
}

// applyTimeFilters appends executed_at bounds for the given options.
func applyTimeFilters(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND executed_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND executed_at <= $%d", len(args))
	}
	return query, args
}

// applyListOpts appends LIMIT/OFFSET clauses for the given options.
func applyListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (domain.Trade, error) {
	var (
		t                                            domain.Trade
		kind, collection, tokenID, seller, buyer     string
		price, serviceFee, royaltyFee, net, overpaid string
		royaltyRecipient                             string
	)
	if err := row.Scan(
		&t.ID, &kind, &collection, &tokenID, &seller, &buyer,
		&price, &serviceFee, &royaltyFee, &net,
		&royaltyRecipient, &overpaid, &t.ExecutedAt,
	); err != nil {
		return domain.Trade{}, err
	}

	id, err := strconv.ParseUint(tokenID, 10, 64)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("parse token id %q: %w", tokenID, err)
	}

	t.Kind = domain.TradeKind(kind)
	t.Collection = common.HexToAddress(collection)
	t.TokenID = id
	t.Seller = common.HexToAddress(seller)
	t.Buyer = common.HexToAddress(buyer)
	t.RoyaltyRecipient = common.HexToAddress(royaltyRecipient)

	for _, pair := range []struct {
		dst **big.Int
		src string
	}{
		{&t.Price, price},
		{&t.ServiceFee, serviceFee},
		{&t.RoyaltyFee, royaltyFee},
		{&t.NetToSeller, net},
		{&t.Overpayment, overpaid},
	} {
		v, ok := new(big.Int).SetString(pair.src, 10)
		if !ok {
			return domain.Trade{}, fmt.Errorf("parse amount %q", pair.src)
		}
		*pair.dst = v
	}
	return t, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
