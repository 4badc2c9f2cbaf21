package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
)

// Royalty registry surface: per-collection recipient and fee fraction in
// points over the 1000 denominator.
const royaltyABIJSON = `[
	{"name":"royaltyOf","type":"function","stateMutability":"view","inputs":[{"name":"collection","type":"address"}],"outputs":[{"name":"recipient","type":"address"},{"name":"feePoints","type":"uint256"}]}
]`

var royaltyABI = mustParseABI(royaltyABIJSON)

// RoyaltyClient implements domain.RoyaltyRegistry against the externally
// governed on-chain royalty registry contract.
type RoyaltyClient struct {
	c        *Client
	registry common.Address
}

// NewRoyaltyClient creates a RoyaltyClient bound to the registry contract.
func NewRoyaltyClient(c *Client, registry common.Address) *RoyaltyClient {
	return &RoyaltyClient{c: c, registry: registry}
}

func (r *RoyaltyClient) RoyaltyOf(ctx context.Context, collection common.Address) (domain.RoyaltyInfo, error) {
	data, err := royaltyABI.Pack("royaltyOf", collection)
	if err != nil {
		return domain.RoyaltyInfo{}, fmt.Errorf("eth: pack royaltyOf: %w", err)
	}
	out, err := r.c.call(ctx, r.registry, data)
	if err != nil {
		return domain.RoyaltyInfo{}, err
	}
	res, err := royaltyABI.Unpack("royaltyOf", out)
	if err != nil || len(res) != 2 {
		return domain.RoyaltyInfo{}, fmt.Errorf("eth: unpack royaltyOf: %w", err)
	}

	points := res[1].(*big.Int)
	if !points.IsUint64() {
		return domain.RoyaltyInfo{}, fmt.Errorf("eth: royalty points %s out of range", points)
	}
	return domain.RoyaltyInfo{
		Recipient: res[0].(common.Address),
		FeePoints: points.Uint64(),
	}, nil
}

var _ domain.RoyaltyRegistry = (*RoyaltyClient)(nil)
