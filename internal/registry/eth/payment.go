package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
)

// Minimal ERC-20 surface: balance, allowance, and delegated transfer.
const erc20ABIJSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

// PaymentClient implements domain.PaymentRegistry against a single ERC-20
// payment token. Delegated transfers spend the allowance holders granted
// to the marketplace operator.
type PaymentClient struct {
	c     *Client
	token common.Address
}

// NewPaymentClient creates a PaymentClient for the given payment token
// contract.
func NewPaymentClient(c *Client, token common.Address) *PaymentClient {
	return &PaymentClient{c: c, token: token}
}

func (p *PaymentClient) Allowance(ctx context.Context, holder, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", holder, spender)
	if err != nil {
		return nil, fmt.Errorf("eth: pack allowance: %w", err)
	}
	out, err := p.c.call(ctx, p.token, data)
	if err != nil {
		return nil, err
	}
	res, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(res) != 1 {
		return nil, fmt.Errorf("eth: unpack allowance: %w", err)
	}
	return res[0].(*big.Int), nil
}

func (p *PaymentClient) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("eth: pack balanceOf: %w", err)
	}
	out, err := p.c.call(ctx, p.token, data)
	if err != nil {
		return nil, err
	}
	res, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(res) != 1 {
		return nil, fmt.Errorf("eth: unpack balanceOf: %w", err)
	}
	return res[0].(*big.Int), nil
}

func (p *PaymentClient) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	data, err := erc20ABI.Pack("transferFrom", from, to, amount)
	if err != nil {
		return fmt.Errorf("eth: pack transferFrom: %w", err)
	}
	return p.c.transact(ctx, p.token, data)
}

var _ domain.PaymentRegistry = (*PaymentClient)(nil)
