package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
)

// Minimal ERC-721 surface: ownership, approvals, and transfer.
const erc721ABIJSON = `[
	{"name":"ownerOf","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"getApproved","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"isApprovedForAll","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]}
]`

var erc721ABI = mustParseABI(erc721ABIJSON)

// AssetClient implements domain.AssetRegistry against ERC-721 collection
// contracts. The collection address in every call is the contract to query.
type AssetClient struct {
	c *Client
}

// NewAssetClient creates an AssetClient over the given connection.
func NewAssetClient(c *Client) *AssetClient {
	return &AssetClient{c: c}
}

func (a *AssetClient) OwnerOf(ctx context.Context, collection common.Address, tokenID uint64) (common.Address, error) {
	data, err := erc721ABI.Pack("ownerOf", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return common.Address{}, fmt.Errorf("eth: pack ownerOf: %w", err)
	}
	out, err := a.c.call(ctx, collection, data)
	if err != nil {
		// ownerOf reverts for nonexistent tokens; the caller treats any
		// failure as not-owner.
		return common.Address{}, domain.ErrAssetNotFound
	}
	res, err := erc721ABI.Unpack("ownerOf", out)
	if err != nil || len(res) != 1 {
		return common.Address{}, fmt.Errorf("eth: unpack ownerOf: %w", err)
	}
	return res[0].(common.Address), nil
}

func (a *AssetClient) GetApproved(ctx context.Context, collection common.Address, tokenID uint64) (common.Address, error) {
	data, err := erc721ABI.Pack("getApproved", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return common.Address{}, fmt.Errorf("eth: pack getApproved: %w", err)
	}
	out, err := a.c.call(ctx, collection, data)
	if err != nil {
		return common.Address{}, domain.ErrAssetNotFound
	}
	res, err := erc721ABI.Unpack("getApproved", out)
	if err != nil || len(res) != 1 {
		return common.Address{}, fmt.Errorf("eth: unpack getApproved: %w", err)
	}
	return res[0].(common.Address), nil
}

func (a *AssetClient) IsApprovedForAll(ctx context.Context, collection common.Address, owner, operator common.Address) (bool, error) {
	data, err := erc721ABI.Pack("isApprovedForAll", owner, operator)
	if err != nil {
		return false, fmt.Errorf("eth: pack isApprovedForAll: %w", err)
	}
	out, err := a.c.call(ctx, collection, data)
	if err != nil {
		return false, err
	}
	res, err := erc721ABI.Unpack("isApprovedForAll", out)
	if err != nil || len(res) != 1 {
		return false, fmt.Errorf("eth: unpack isApprovedForAll: %w", err)
	}
	return res[0].(bool), nil
}

func (a *AssetClient) TransferOwnership(ctx context.Context, collection common.Address, from, to common.Address, tokenID uint64) error {
	data, err := erc721ABI.Pack("transferFrom", from, to, new(big.Int).SetUint64(tokenID))
	if err != nil {
		return fmt.Errorf("eth: pack transferFrom: %w", err)
	}
	return a.c.transact(ctx, collection, data)
}

var _ domain.AssetRegistry = (*AssetClient)(nil)
