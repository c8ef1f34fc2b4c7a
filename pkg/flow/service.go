package flow

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/shrub-finance/shrub-go/pkg/book"
	"github.com/shrub-finance/shrub-go/pkg/chain"
	"github.com/shrub-finance/shrub-go/pkg/crypto"
	"github.com/shrub-finance/shrub-go/pkg/order"
)

// ErrWalletNotConnected: the flow was invoked without a signing
// capability. Terminal for the flow; the UI surfaces a connect prompt.
var ErrWalletNotConnected = errors.New("wallet not connected")

// Session is the explicit per-user context threaded through a flow:
// active address, chain, and signing capability. Passed by reference
// instead of living in ambient shared state.
type Session struct {
	Address common.Address
	ChainID *big.Int
	Wallet  crypto.Wallet
}

// Connected reports whether the session can sign.
func (s *Session) Connected() bool {
	return s != nil && s.Wallet != nil
}

// SettlementGateway submits matched order sets and announcements to the
// settlement contract. Implemented by chain.Chain; a JSON-RPC client
// fills the same role against a real network.
type SettlementGateway interface {
	AnnounceOrder(ctx context.Context, o *order.SignedOrder) (*chain.TxHandle, error)
	MatchOrders(ctx context.Context, buys, sells []*order.SignedOrder) (*chain.TxHandle, error)
}

// Service runs order placement flows. One logical flow per user action;
// no internal parallelism. Two concurrent flows by the same signer race
// on the nonce: one settles, one reverts on-chain. That race is
// accepted, user-visible behavior.
type Service struct {
	builder order.Builder
	signer  *crypto.OrderSigner
	walker  *book.Walker
	nonces  book.NonceSource
	settle  SettlementGateway
	log     *zap.SugaredLogger

	// Offer lifetimes for freshly built orders.
	LimitOfferTTL  time.Duration
	MarketOfferTTL time.Duration
}

func NewService(builder order.Builder, signer *crypto.OrderSigner, walker *book.Walker, nonces book.NonceSource, settle SettlementGateway, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		builder:        builder,
		signer:         signer,
		walker:         walker,
		nonces:         nonces,
		settle:         settle,
		log:            log,
		LimitOfferTTL:  24 * time.Hour,
		MarketOfferTTL: 7 * 24 * time.Hour,
	}
}

// PlaceLimitOrder builds, signs and announces a resting limit order at
// unitPrice per contract. Blocks until the announcement transaction
// confirms or fails; the returned Placement records the outcome either
// way. Validation failures happen before any network call and return a
// nil Placement.
func (s *Service) PlaceLimitOrder(ctx context.Context, session *Session, oc order.OrderCommon, side order.Side, size, unitPrice *big.Int) (*Placement, error) {
	if !session.Connected() {
		return nil, ErrWalletNotConnected
	}
	if size == nil || size.Sign() <= 0 {
		return nil, &order.ValidationError{Field: "size", Reason: "must be positive"}
	}
	if unitPrice == nil || unitPrice.Sign() <= 0 {
		return nil, &order.ValidationError{Field: "price", Reason: "limit order requires a positive price"}
	}

	p := newPlacement()

	// Nonce is re-read here, immediately before signing, never cached
	// across flows.
	current, err := s.nonces.CurrentNonce(ctx, session.Address, oc)
	if err != nil {
		p.fail(err)
		return p, err
	}
	unsigned, err := s.builder.BuildLimit(oc, side, size, unitPrice, current+1, time.Now().Add(s.LimitOfferTTL))
	if err != nil {
		p.fail(err)
		return p, err
	}

	signed, err := s.sign(p, session, unsigned)
	if err != nil {
		return p, err
	}
	p.Order = signed

	return p, s.submit(ctx, p, func(ctx context.Context) (*chain.TxHandle, error) {
		return s.settle.AnnounceOrder(ctx, signed)
	})
}

// PlaceMarketOrder walks the counterparty side of the snapshot to
// assemble maker orders covering size, then builds, signs and submits
// the matched set. The snapshot is read-only here and should be
// discarded after the call; re-initiating a failed placement must
// re-fetch a fresh one.
func (s *Service) PlaceMarketOrder(ctx context.Context, session *Session, oc order.OrderCommon, side order.Side, size *big.Int, snap *book.Snapshot) (*Placement, error) {
	if !session.Connected() {
		return nil, ErrWalletNotConnected
	}
	if size == nil || size.Sign() <= 0 {
		return nil, &order.ValidationError{Field: "size", Reason: "must be positive"}
	}

	p := newPlacement()

	// The whole walk runs to completion or failure before any signing.
	result, err := s.walker.Walk(ctx, snap, side, size)
	if err != nil {
		p.fail(err)
		return p, err
	}
	p.Counterparties = result.Orders

	current, err := s.nonces.CurrentNonce(ctx, session.Address, oc)
	if err != nil {
		p.fail(err)
		return p, err
	}
	unsigned, err := s.builder.BuildMarket(oc, side, size, result.TotalPrice, current+1, time.Now().Add(s.MarketOfferTTL))
	if err != nil {
		p.fail(err)
		return p, err
	}

	signed, err := s.sign(p, session, unsigned)
	if err != nil {
		return p, err
	}
	p.Order = signed

	buys, sells := []*order.SignedOrder{signed}, result.Orders
	if side == order.Sell {
		buys, sells = result.Orders, []*order.SignedOrder{signed}
	}

	s.log.Infow("market_order_matched",
		"position_hash", oc.PositionHash().Hex(),
		"side", side.String(),
		"size", size.String(),
		"total_price", result.TotalPrice.String(),
		"counterparties", len(result.Orders),
	)

	return p, s.submit(ctx, p, func(ctx context.Context) (*chain.TxHandle, error) {
		return s.settle.MatchOrders(ctx, buys, sells)
	})
}

// sign advances building -> signing and obtains the wallet signature.
// A declined signature is terminal and never retried.
func (s *Service) sign(p *Placement, session *Session, unsigned *order.UnsignedOrder) (*order.SignedOrder, error) {
	p.advance(StatusSigning)
	signed, err := s.signer.SignOrder(session.Wallet, unsigned)
	if err != nil {
		if errors.Is(err, crypto.ErrSignatureDeclined) {
			p.fail(crypto.ErrSignatureDeclined)
			return nil, crypto.ErrSignatureDeclined
		}
		p.fail(err)
		return nil, err
	}
	return signed, nil
}

// submit sends the settlement transaction and drives the placement
// through submitted -> confirming -> confirmed | failed.
func (s *Service) submit(ctx context.Context, p *Placement, send func(context.Context) (*chain.TxHandle, error)) error {
	handle, err := send(ctx)
	if err != nil {
		p.fail(err)
		return err
	}
	// Hash recorded before waiting so an interrupted flow stays
	// trackable.
	p.recordTxHash(handle.Hash)
	p.advance(StatusSubmitted)
	p.advance(StatusConfirming)

	receipt, err := handle.Await(ctx)
	if err != nil {
		p.fail(err)
		return err
	}
	if receipt.Status != chain.ReceiptStatusSuccess {
		err := &chain.SettlementRevertedError{TxHash: handle.Hash}
		p.fail(err)
		return err
	}
	p.advance(StatusConfirmed)
	s.log.Infow("placement_confirmed", "tx", handle.Hash.Hex(), "block", receipt.BlockNumber)
	return nil
}
