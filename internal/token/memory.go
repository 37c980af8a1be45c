package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakeledger/internal/fixedpoint"
	"stakeledger/internal/model"
)

var (
	ErrInsufficientFunds     = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Memory is an in-process token ledger. Transfer moves funds out of the
// operator account; TransferFrom spends an allowance granted to the operator.
type Memory struct {
	mu         sync.Mutex
	operator   common.Address
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

// NewMemory returns an empty token operated by operator, usually the ledger custody account.
func NewMemory(operator common.Address) *Memory {
	return &Memory{
		operator:   operator,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Mint credits amount to account.
func (m *Memory) Mint(account common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fixedpoint.Add(m.balance(account), amount)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	m.balances[account] = next
	return nil
}

// Approve sets the amount spender may pull from owner.
func (m *Memory) Approve(owner, spender common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.allowances[owner] == nil {
		m.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	m.allowances[owner][spender] = amount.Clone()
}

// Allowance returns the amount spender may still pull from owner.
func (m *Memory) Allowance(owner, spender common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.allowance(owner, spender).Clone()
}

func (m *Memory) Transfer(_ context.Context, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.move(m.operator, to, amount)
}

func (m *Memory) TransferFrom(_ context.Context, owner, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := m.allowance(owner, m.operator)
	remaining, err := fixedpoint.Sub(allowed, amount)
	if err != nil {
		return fmt.Errorf("%w: %s approved, %s requested", ErrInsufficientAllowance, fixedpoint.String(allowed), fixedpoint.String(amount))
	}
	if err := m.move(owner, to, amount); err != nil {
		return err
	}
	if m.allowances[owner] == nil {
		m.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	m.allowances[owner][m.operator] = remaining
	return nil
}

func (m *Memory) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.balance(account).Clone(), nil
}

func (m *Memory) move(from, to common.Address, amount *uint256.Int) error {
	fromBalance := m.balance(from)
	nextFrom, err := fixedpoint.Sub(fromBalance, amount)
	if err != nil {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, from.Hex(), fixedpoint.String(fromBalance), fixedpoint.String(amount))
	}
	m.balances[from] = nextFrom
	nextTo, err := fixedpoint.Add(m.balance(to), amount)
	if err != nil {
		m.balances[from] = fromBalance
		return fmt.Errorf("credit %s: %w", to.Hex(), err)
	}
	m.balances[to] = nextTo
	return nil
}

func (m *Memory) balance(account common.Address) *uint256.Int {
	if bal, ok := m.balances[account]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (m *Memory) allowance(owner, spender common.Address) *uint256.Int {
	if amount, ok := m.allowances[owner][spender]; ok {
		return amount
	}
	return new(uint256.Int)
}

// Export returns balances and allowances in storage form.
func (m *Memory) Export() *model.TokenState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := &model.TokenState{
		Balances:   make(map[string]string, len(m.balances)),
		Allowances: make(map[string]map[string]string, len(m.allowances)),
	}
	for account, bal := range m.balances {
		state.Balances[account.Hex()] = fixedpoint.String(bal)
	}
	for owner, spenders := range m.allowances {
		out := make(map[string]string, len(spenders))
		for spender, amount := range spenders {
			out[spender.Hex()] = fixedpoint.String(amount)
		}
		state.Allowances[owner.Hex()] = out
	}
	return state
}

// Import replaces balances and allowances with the stored state.
func (m *Memory) Import(state *model.TokenState) error {
	balances := make(map[common.Address]*uint256.Int)
	allowances := make(map[common.Address]map[common.Address]*uint256.Int)
	if state != nil {
		for account, value := range state.Balances {
			addr, err := parseAddress(account)
			if err != nil {
				return err
			}
			amount, err := fixedpoint.ParseInt(value)
			if err != nil {
				return fmt.Errorf("balance of %s: %w", account, err)
			}
			balances[addr] = amount
		}
		for owner, spenders := range state.Allowances {
			ownerAddr, err := parseAddress(owner)
			if err != nil {
				return err
			}
			allowances[ownerAddr] = make(map[common.Address]*uint256.Int, len(spenders))
			for spender, value := range spenders {
				spenderAddr, err := parseAddress(spender)
				if err != nil {
					return err
				}
				amount, err := fixedpoint.ParseInt(value)
				if err != nil {
					return fmt.Errorf("allowance %s->%s: %w", owner, spender, err)
				}
				allowances[ownerAddr][spenderAddr] = amount
			}
		}
	}

	m.mu.Lock()
	m.balances = balances
	m.allowances = allowances
	m.mu.Unlock()
	return nil
}

func parseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}
