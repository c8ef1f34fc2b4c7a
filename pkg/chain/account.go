package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// accountState tracks per-asset balances and per-contract option
// positions for one address. All amounts are 18-decimal fixed point.
//
// Locked balance is reserved by open positions (written collateral) and
// is excluded from what resting orders can spend.
type accountState struct {
	balances  map[common.Address]*big.Int // asset -> total deposited
	locked    map[common.Address]*big.Int // asset -> reserved collateral
	positions map[common.Hash]*big.Int    // positionHash -> net contracts (+long / -short)
}

func newAccountState() *accountState {
	return &accountState{
		balances:  make(map[common.Address]*big.Int),
		locked:    make(map[common.Address]*big.Int),
		positions: make(map[common.Hash]*big.Int),
	}
}

func (a *accountState) total(asset common.Address) *big.Int {
	if b, ok := a.balances[asset]; ok {
		return b
	}
	return new(big.Int)
}

func (a *accountState) lockedOf(asset common.Address) *big.Int {
	if b, ok := a.locked[asset]; ok {
		return b
	}
	return new(big.Int)
}

// available = total - locked.
func (a *accountState) available(asset common.Address) *big.Int {
	return new(big.Int).Sub(a.total(asset), a.lockedOf(asset))
}

func (a *accountState) credit(asset common.Address, amount *big.Int) {
	a.balances[asset] = new(big.Int).Add(a.total(asset), amount)
}

func (a *accountState) debit(asset common.Address, amount *big.Int) error {
	if a.available(asset).Cmp(amount) < 0 {
		return fmt.Errorf("available balance %s below %s", a.available(asset), amount)
	}
	a.balances[asset] = new(big.Int).Sub(a.total(asset), amount)
	return nil
}

func (a *accountState) lock(asset common.Address, amount *big.Int) error {
	if a.available(asset).Cmp(amount) < 0 {
		return fmt.Errorf("available balance %s below collateral %s", a.available(asset), amount)
	}
	a.locked[asset] = new(big.Int).Add(a.lockedOf(asset), amount)
	return nil
}

// clone deep-copies the state so a failed match can be rolled back.
func (a *accountState) clone() *accountState {
	c := newAccountState()
	for asset, b := range a.balances {
		c.balances[asset] = new(big.Int).Set(b)
	}
	for asset, b := range a.locked {
		c.locked[asset] = new(big.Int).Set(b)
	}
	for hash, p := range a.positions {
		c.positions[hash] = new(big.Int).Set(p)
	}
	return c
}

func (a *accountState) addPosition(positionHash common.Hash, delta *big.Int) {
	cur, ok := a.positions[positionHash]
	if !ok {
		cur = new(big.Int)
	}
	a.positions[positionHash] = new(big.Int).Add(cur, delta)
}
