package book

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientDepth: the snapshot itself cannot cover the requested
// size. Raised before any per-level resolution call is made.
var ErrInsufficientDepth = errors.New("order size exceeds available depth in order book")

// ErrInsufficientMarketDepth: the snapshot looked sufficient but live
// depth was not (resting orders went stale between refresh and walk).
// Distinct from ErrInsufficientDepth so callers can tell the user the
// difference.
var ErrInsufficientMarketDepth = errors.New("insufficient live market depth, try a smaller order")

// StaleCounterpartyOrderError records a level skipped because the
// maker's current nonce no longer matches the order's: the maker has
// superseded or cancelled it. Internal to the walk; never aborts it.
type StaleCounterpartyOrderError struct {
	Maker        common.Address
	OrderNonce   uint64
	CurrentNonce uint64
}

func (e *StaleCounterpartyOrderError) Error() string {
	return fmt.Sprintf("stale counterparty order: maker %s nonce %d, current %d",
		e.Maker.Hex(), e.OrderNonce, e.CurrentNonce)
}

// InsufficientCollateralError records a level skipped because the maker
// cannot back its resting order. Internal to the walk; never aborts it.
type InsufficientCollateralError struct {
	Maker common.Address
	Asset common.Address
	Need  *big.Int
	Have  *big.Int
}

func (e *InsufficientCollateralError) Error() string {
	return fmt.Sprintf("insufficient maker collateral: maker %s needs %s of %s, has %s",
		e.Maker.Hex(), e.Need, e.Asset.Hex(), e.Have)
}
