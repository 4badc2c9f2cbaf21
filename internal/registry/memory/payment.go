package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbazaar/marketd/internal/domain"
)

// PaymentLedger is an in-memory domain.PaymentRegistry with ERC-20
// balance and allowance semantics. Transfers initiated by the marketplace
// on a holder's behalf consume the holder's allowance to the marketplace
// operator.
type PaymentLedger struct {
	mu         sync.Mutex
	operator   common.Address
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int

	// TransferHook, when set, runs synchronously inside Transfer after
	// preconditions pass and before balances move. Tests use it to
	// simulate a malicious payment token re-entering the marketplace.
	TransferHook func(from, to common.Address, amount *big.Int)

	// FailQueries makes balance and allowance reads return an error.
	FailQueries bool
}

// NewPaymentLedger creates an empty PaymentLedger. Transfers on behalf of
// a holder are authorized against allowances granted to operator.
func NewPaymentLedger(operator common.Address) *PaymentLedger {
	return &PaymentLedger{
		operator:   operator,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Credit adds amount to the holder's balance.
func (p *PaymentLedger) Credit(holder common.Address, amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[holder] = new(big.Int).Add(p.balance(holder), amount)
}

// SetAllowance sets the spender's allowance over the holder's funds.
func (p *PaymentLedger) SetAllowance(holder, spender common.Address, amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setAllowance(holder, spender, new(big.Int).Set(amount))
}

func (p *PaymentLedger) Allowance(ctx context.Context, holder, spender common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailQueries {
		return nil, fmt.Errorf("memory: payment query failed")
	}
	return new(big.Int).Set(p.allowance(holder, spender)), nil
}

func (p *PaymentLedger) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailQueries {
		return nil, fmt.Errorf("memory: payment query failed")
	}
	return new(big.Int).Set(p.balance(holder)), nil
}

// Transfer moves amount from one holder to another. When from is not the
// marketplace operator itself, the move consumes from's allowance to the
// operator; insufficient allowance or balance fails the transfer with no
// state change.
func (p *PaymentLedger) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("memory: invalid transfer amount")
	}

	p.mu.Lock()
	if p.balance(from).Cmp(amount) < 0 {
		p.mu.Unlock()
		return fmt.Errorf("memory: balance of %s below %s", from.Hex(), amount)
	}
	if from != p.operator && p.allowance(from, p.operator).Cmp(amount) < 0 {
		p.mu.Unlock()
		return fmt.Errorf("memory: allowance of %s below %s", from.Hex(), amount)
	}
	hook := p.TransferHook
	p.mu.Unlock()

	if hook != nil {
		hook(from, to, amount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[from] = new(big.Int).Sub(p.balance(from), amount)
	p.balances[to] = new(big.Int).Add(p.balance(to), amount)
	if from != p.operator {
		p.setAllowance(from, p.operator, new(big.Int).Sub(p.allowance(from, p.operator), amount))
	}
	return nil
}

func (p *PaymentLedger) setAllowance(holder, spender common.Address, amount *big.Int) {
	bySpender, ok := p.allowances[holder]
	if !ok {
		bySpender = make(map[common.Address]*big.Int)
		p.allowances[holder] = bySpender
	}
	bySpender[spender] = amount
}

func (p *PaymentLedger) balance(holder common.Address) *big.Int {
	if b, ok := p.balances[holder]; ok {
		return b
	}
	return new(big.Int)
}

func (p *PaymentLedger) allowance(holder, spender common.Address) *big.Int {
	if a, ok := p.allowances[holder][spender]; ok {
		return a
	}
	return new(big.Int)
}

var _ domain.PaymentRegistry = (*PaymentLedger)(nil)
