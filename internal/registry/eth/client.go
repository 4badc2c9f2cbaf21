// Package eth implements the asset, payment, and royalty registry
// contracts against live Ethereum-compatible chains: read queries via
// eth_call and settlement transfers via signed transactions from the
// marketplace operator key.
package eth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chainbazaar/marketd/internal/crypto"
)

const (
	// transferGasLimit bounds the gas for registry transfer transactions.
	transferGasLimit = 300_000

	// receiptPollInterval is how often we poll for a mined receipt.
	receiptPollInterval = 2 * time.Second
)

// Client wraps an ethclient connection plus the operator signer used for
// settlement transactions.
type Client struct {
	eth    *ethclient.Client
	signer *crypto.Signer
	logger *slog.Logger
}

// Dial connects to the RPC endpoint and verifies the chain id matches the
// signer's.
func Dial(ctx context.Context, rpcURL string, signer *crypto.Signer, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("eth: dial %s: %w", rpcURL, err)
	}

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("eth: query chain id: %w", err)
	}
	if signer != nil && chainID.Cmp(signer.ChainID()) != 0 {
		ec.Close()
		return nil, fmt.Errorf("eth: chain id mismatch: node reports %s, signer configured for %s", chainID, signer.ChainID())
	}

	return &Client{eth: ec, signer: signer, logger: logger}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// call executes a read-only contract call against the latest block.
func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth: call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// transact signs, submits, and waits out a state-changing contract call,
// failing if the transaction reverts.
func (c *Client) transact(ctx context.Context, to common.Address, data []byte) error {
	if c.signer == nil {
		return errors.New("eth: no operator signer configured")
	}
	from := c.signer.Address()

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("eth: pending nonce for %s: %w", from.Hex(), err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("eth: suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("eth: send transaction to %s: %w", to.Hex(), err)
	}

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("eth: transaction %s reverted", signed.Hash().Hex())
	}

	c.logger.InfoContext(ctx, "eth: transaction mined",
		slog.String("tx", signed.Hash().Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return nil
}

// waitMined polls until the transaction has a receipt or the context ends.
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("eth: fetch receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("eth: waiting for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// mustParseABI parses a JSON ABI fragment at package init.
func mustParseABI(jsonDef string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(jsonDef))
	if err != nil {
		panic(fmt.Sprintf("eth: parse abi: %v", err))
	}
	return parsed
}
