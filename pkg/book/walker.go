package book

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/shrub-finance/shrub-go/pkg/crypto"
	"github.com/shrub-finance/shrub-go/pkg/order"
)

// Resolver re-fetches full signed orders from chain history by their
// announcement locator. Zero, one, or many orders may match; the walker
// disambiguates.
type Resolver interface {
	ResolveOrders(ctx context.Context, positionHash common.Hash, user common.Address, blockHeight uint64) ([]*order.SignedOrder, error)
}

// NonceSource reads the current on-chain nonce for a signer and
// contract. Never cached across a placement flow.
type NonceSource interface {
	CurrentNonce(ctx context.Context, addr common.Address, oc order.OrderCommon) (uint64, error)
}

// CollateralSource reads unlocked balance only: total minus whatever is
// reserved by resting orders and open positions.
type CollateralSource interface {
	AvailableBalance(ctx context.Context, addr common.Address, asset common.Address) (*big.Int, error)
}

// SkippedLevel records a level the walk passed over and why. Skips are
// control flow, not failures; they are surfaced for logging only.
type SkippedLevel struct {
	Index  int
	Reason error
}

// Result is the outcome of a depth walk: counterparty orders in
// consumption order whose sizes cover the requested size, and the
// accumulated total price. The last order is truncated only in the
// price accounting (full maker order referenced, taker price prorated).
type Result struct {
	Orders     []*order.SignedOrder
	TotalPrice *big.Int
	FilledSize *big.Int
	Skipped    []SkippedLevel
}

// Walker greedily consumes resting levels from the counterparty side of
// a book snapshot until the requested size is covered. Levels are
// walked strictly in price priority; the walk runs to completion or
// failure before any signing happens.
type Walker struct {
	resolver   Resolver
	nonces     NonceSource
	collateral CollateralSource
	signer     *crypto.OrderSigner
	log        *zap.SugaredLogger
}

func NewWalker(resolver Resolver, nonces NonceSource, collateral CollateralSource, signer *crypto.OrderSigner, log *zap.SugaredLogger) *Walker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Walker{
		resolver:   resolver,
		nonces:     nonces,
		collateral: collateral,
		signer:     signer,
		log:        log,
	}
}

// Walk assembles counterparty orders for a taker order of requestedSize
// on takerSide. Buyers consume the sell book and vice versa.
//
// Failure semantics: a snapshot that cannot cover the size fails with
// ErrInsufficientDepth before any resolution call; exhausting live
// levels fails with ErrInsufficientMarketDepth. Everything per-level
// (unresolvable, ambiguous, bad signature, stale nonce, thin
// collateral) skips the level and advances. The cursor moves on every
// path, so the walk always terminates.
func (w *Walker) Walk(ctx context.Context, snap *Snapshot, takerSide order.Side, requestedSize *big.Int) (*Result, error) {
	if requestedSize == nil || requestedSize.Sign() <= 0 {
		return nil, &order.ValidationError{Field: "size", Reason: "must be positive"}
	}

	makerSide := takerSide.Opposite()
	levels := snap.Side(makerSide)

	depth := snap.Depth(makerSide)
	if requestedSize.Cmp(depth) > 0 {
		return nil, ErrInsufficientDepth
	}

	res := &Result{
		TotalPrice: new(big.Int),
		FilledSize: new(big.Int),
	}
	remaining := new(big.Int).Set(requestedSize)

	for i := 0; i < len(levels) && remaining.Sign() > 0; i++ {
		lvl := levels[i]

		maker, err := w.resolveLevel(ctx, snap.PositionHash, lvl, makerSide)
		if err != nil {
			return nil, err
		}
		if maker == nil {
			w.skip(res, i, fmt.Errorf("no unique announcement for %s at height %d", lvl.User.Hex(), lvl.BlockHeight))
			continue
		}

		if ok, err := w.signer.VerifyOrder(maker); err != nil {
			w.skip(res, i, fmt.Errorf("signature verification for %s: %w", maker.Signer.Hex(), err))
			continue
		} else if !ok {
			w.skip(res, i, fmt.Errorf("signature does not recover to %s", maker.Signer.Hex()))
			continue
		}

		currentNonce, err := w.nonces.CurrentNonce(ctx, maker.Signer, maker.OrderCommon)
		if err != nil {
			return nil, fmt.Errorf("nonce lookup for %s: %w", maker.Signer.Hex(), err)
		}
		if maker.Nonce != currentNonce+1 {
			w.skip(res, i, &StaleCounterpartyOrderError{
				Maker:        maker.Signer,
				OrderNonce:   maker.Nonce,
				CurrentNonce: currentNonce,
			})
			continue
		}

		if takerSide == order.Buy {
			if err := w.checkMakerCollateral(ctx, maker); err != nil {
				var insufficient *InsufficientCollateralError
				if errors.As(err, &insufficient) {
					w.skip(res, i, err)
					continue
				}
				return nil, err
			}
		}

		// Accept the level. The maker order is referenced whole; only
		// the price accounting is prorated when it overshoots.
		res.Orders = append(res.Orders, maker)
		remaining.Sub(remaining, maker.Size)
		if remaining.Sign() < 0 {
			fillSize := new(big.Int).Add(maker.Size, remaining) // size + (negative remainder)
			res.TotalPrice.Add(res.TotalPrice, order.ProratedPrice(maker.Price, maker.Size, fillSize))
			res.FilledSize.Add(res.FilledSize, fillSize)
			remaining.SetInt64(0)
		} else {
			res.TotalPrice.Add(res.TotalPrice, maker.Price)
			res.FilledSize.Add(res.FilledSize, maker.Size)
		}
	}

	if remaining.Sign() > 0 {
		return nil, ErrInsufficientMarketDepth
	}

	w.log.Debugw("depth_walk_complete",
		"position_hash", snap.PositionHash.Hex(),
		"taker_side", takerSide.String(),
		"orders", len(res.Orders),
		"skipped", len(res.Skipped),
		"total_price", res.TotalPrice.String(),
	)
	return res, nil
}

// resolveLevel re-fetches the signed order behind a level. When the
// locator yields several candidates (a busy maker announced more than
// one order in the same block range), the expected counter-order is
// matched on side, size and unit price. Returns nil when no unique
// match exists.
func (w *Walker) resolveLevel(ctx context.Context, positionHash common.Hash, lvl Level, makerSide order.Side) (*order.SignedOrder, error) {
	candidates, err := w.resolver.ResolveOrders(ctx, positionHash, lvl.User, lvl.BlockHeight)
	if err != nil {
		return nil, fmt.Errorf("resolve level (user %s, height %d): %w", lvl.User.Hex(), lvl.BlockHeight, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	for _, cand := range candidates {
		if cand.Side() != makerSide {
			continue
		}
		if cand.Size.Cmp(lvl.Size) != 0 {
			continue
		}
		if cand.UnitPrice().Cmp(lvl.UnitPrice) != 0 {
			continue
		}
		return cand, nil
	}
	return nil, nil
}

// checkMakerCollateral verifies a maker can back its resting order.
// A CALL writer must hold the underlying: size of the quote asset.
// A PUT writer must hold the settlement currency: strike * size of the
// base asset.
func (w *Walker) checkMakerCollateral(ctx context.Context, maker *order.SignedOrder) error {
	var asset common.Address
	var need *big.Int
	if maker.OptionType == order.Call {
		asset = maker.QuoteAsset
		need = new(big.Int).Set(maker.Size)
	} else {
		asset = maker.BaseAsset
		need = new(big.Int).Mul(maker.Strike, maker.Size)
		need.Div(need, order.Wad())
	}

	have, err := w.collateral.AvailableBalance(ctx, maker.Signer, asset)
	if err != nil {
		return fmt.Errorf("collateral lookup for %s: %w", maker.Signer.Hex(), err)
	}
	if have.Cmp(need) < 0 {
		return &InsufficientCollateralError{Maker: maker.Signer, Asset: asset, Need: need, Have: have}
	}
	return nil
}

func (w *Walker) skip(res *Result, index int, reason error) {
	res.Skipped = append(res.Skipped, SkippedLevel{Index: index, Reason: reason})
	w.log.Debugw("level_skipped", "index", index, "reason", reason.Error())
}
