package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/shrub-finance/shrub-go/pkg/book"
	"github.com/shrub-finance/shrub-go/pkg/crypto"
	"github.com/shrub-finance/shrub-go/pkg/order"
	"github.com/shrub-finance/shrub-go/pkg/util"
)

// Announcement is an order-announced event: a signed order published to
// chain history at a block height. The (user, height) pair is the
// locator order book levels carry.
type Announcement struct {
	Order       *order.SignedOrder `json:"order"`
	BlockHeight uint64             `json:"blockHeight"`
	TxHash      common.Hash        `json:"txHash"`
}

// Store persists announcements and receipts. Satisfied by
// storage.Store; nil disables persistence.
type Store interface {
	SaveAnnouncement(positionHash common.Hash, ann *Announcement) error
	SaveReceipt(r *Receipt) error
}

type nonceKey struct {
	addr     common.Address
	position common.Hash
}

// Chain is an in-process settlement chain for the devnet: account
// balances with locked-collateral bookkeeping, per-(signer, contract)
// nonces, announced-order history, and order matching. It implements
// the Resolver, NonceSource and CollateralSource contracts the depth
// walker consumes, and the settlement gateway the placement flow
// submits to.
//
// Transactions execute instantly (fast-mine); the TxHandle interface is
// still asynchronous so callers are written against real chain timing.
type Chain struct {
	mu sync.Mutex

	height    uint64
	txCounter uint64

	accounts      map[common.Address]*accountState
	nonces        map[nonceKey]uint64
	announcements map[common.Hash][]*Announcement // positionHash -> history, append-only
	receipts      map[common.Hash]*Receipt

	signer *crypto.OrderSigner
	store  Store
	clock  util.Clock
	log    *zap.SugaredLogger
}

func NewChain(signer *crypto.OrderSigner, log *zap.SugaredLogger) *Chain {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Chain{
		height:        1,
		accounts:      make(map[common.Address]*accountState),
		nonces:        make(map[nonceKey]uint64),
		announcements: make(map[common.Hash][]*Announcement),
		receipts:      make(map[common.Hash]*Receipt),
		signer:        signer,
		clock:         util.RealClock{},
		log:           log,
	}
}

// WithStore attaches a persistence backend. Announcements and receipts
// written from here on are durably recorded.
func (c *Chain) WithStore(store Store) *Chain {
	c.store = store
	return c
}

// WithClock overrides the time source, for tests exercising offer
// expiry.
func (c *Chain) WithClock(clock util.Clock) *Chain {
	c.clock = clock
	return c
}

// Height returns the current block height.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Deposit credits an account. Devnet faucet; no transaction handle.
func (c *Chain) Deposit(addr common.Address, asset common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account(addr).credit(asset, amount)
	c.height++
}

// Withdraw debits unlocked balance.
func (c *Chain) Withdraw(addr common.Address, asset common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.account(addr).debit(asset, amount); err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	c.height++
	return nil
}

// AvailableBalance returns unlocked balance only (total minus locked).
func (c *Chain) AvailableBalance(_ context.Context, addr common.Address, asset common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account(addr).available(asset), nil
}

// LockedBalance returns collateral reserved by written positions.
func (c *Chain) LockedBalance(_ context.Context, addr common.Address, asset common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.account(addr).lockedOf(asset)), nil
}

// CurrentNonce returns the on-chain nonce for a signer and contract.
// A fresh order must carry CurrentNonce + 1.
func (c *Chain) CurrentNonce(_ context.Context, addr common.Address, oc order.OrderCommon) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[nonceKey{addr: addr, position: oc.PositionHash()}], nil
}

// BumpNonce advances a signer's nonce without matching anything,
// implicitly cancelling every resting order carrying the old nonce + 1.
func (c *Chain) BumpNonce(addr common.Address, oc order.OrderCommon) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := nonceKey{addr: addr, position: oc.PositionHash()}
	c.nonces[k]++
	c.height++
	return c.nonces[k]
}

// Position returns the net contract balance for (addr, positionHash):
// positive long, negative short (written).
func (c *Chain) Position(addr common.Address, positionHash common.Hash) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.account(addr).positions[positionHash]; ok {
		return new(big.Int).Set(p)
	}
	return new(big.Int)
}

// Positions returns all non-zero positions for an address.
func (c *Chain) Positions(addr common.Address) map[common.Hash]*big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[common.Hash]*big.Int)
	for h, p := range c.account(addr).positions {
		if p.Sign() != 0 {
			out[h] = new(big.Int).Set(p)
		}
	}
	return out
}

// AnnounceOrder publishes a signed limit order to chain history. The
// announcement is what order book snapshots and level resolution are
// built from. Announcing does not consume the nonce; the nonce advances
// when the order is matched or superseded.
func (c *Chain) AnnounceOrder(_ context.Context, o *order.SignedOrder) (*TxHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle := newTxHandle(c.nextTxHash())

	if err := c.validateOrder(o, c.clock.Now()); err != nil {
		c.revert(handle, err.Error())
		return handle, nil
	}

	positionHash := o.PositionHash()
	ann := &Announcement{Order: o, BlockHeight: c.height, TxHash: handle.Hash}
	c.announcements[positionHash] = append(c.announcements[positionHash], ann)
	if c.store != nil {
		if err := c.store.SaveAnnouncement(positionHash, ann); err != nil {
			return nil, fmt.Errorf("persist announcement: %w", err)
		}
	}

	c.log.Infow("order_announced",
		"position_hash", positionHash.Hex(),
		"signer", o.Signer.Hex(),
		"side", o.Side().String(),
		"size", o.Size.String(),
		"height", c.height,
	)
	c.mine(handle)
	return handle, nil
}

// MatchOrders submits matched signed buy/sell order sets for
// settlement. Fills pair the two lists in sequence at the resting
// maker side's prorated price; an order whose total price does not
// cover (buys) or is not covered by (sells) its cumulative premium
// reverts. For each fill the
// buyer pays premium in the base asset and the seller locks collateral
// (quote asset for calls, strike-scaled base asset for puts). Every
// participating signer's nonce advances to the order's nonce, which
// also invalidates any unfilled remainder of a partially consumed
// maker order.
func (c *Chain) MatchOrders(_ context.Context, buys, sells []*order.SignedOrder) (*TxHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle := newTxHandle(c.nextTxHash())

	if len(buys) == 0 || len(sells) == 0 {
		c.revert(handle, "empty order set")
		return handle, nil
	}

	// Snapshot participant state so a mid-sequence failure reverts
	// cleanly instead of leaving earlier fills settled.
	saved := make(map[common.Address]*accountState)
	for _, o := range append(append([]*order.SignedOrder{}, buys...), sells...) {
		if _, ok := saved[o.Signer]; !ok {
			saved[o.Signer] = c.account(o.Signer).clone()
		}
	}

	if err := c.executeMatch(buys, sells); err != nil {
		for addr, st := range saved {
			c.accounts[addr] = st
		}
		c.revert(handle, err.Error())
		return handle, nil
	}
	c.mine(handle)
	return handle, nil
}

func (c *Chain) executeMatch(buys, sells []*order.SignedOrder) error {
	now := c.clock.Now()
	positionHash := buys[0].PositionHash()

	all := make([]*order.SignedOrder, 0, len(buys)+len(sells))
	all = append(all, buys...)
	all = append(all, sells...)
	for _, o := range all {
		if o.PositionHash() != positionHash {
			return fmt.Errorf("mismatched option contracts")
		}
		if err := c.validateOrder(o, now); err != nil {
			return err
		}
	}
	for _, o := range buys {
		if !o.IsBuy {
			return fmt.Errorf("sell order in buy set")
		}
	}
	for _, o := range sells {
		if o.IsBuy {
			return fmt.Errorf("buy order in sell set")
		}
	}

	// Sequential pairing with remaining-size tracking on both cursors.
	// A lone order facing several counterparties is the taker carrying
	// a blended walk total; the other side holds the resting makers and
	// each fill settles at the maker's prorated price. With one order
	// on each side the sell prices the fill. Cumulative checks on both
	// sides: a buy must cover what it spent with its own prorated
	// price, a sell must be covered by what it earned. The cumulative
	// form admits a taker total accumulated across levels at different
	// unit prices.
	buysAreMakers := len(buys) > 1 && len(sells) == 1
	bi, si := 0, 0
	buyRemaining := new(big.Int).Set(buys[0].Size)
	sellRemaining := new(big.Int).Set(sells[0].Size)
	buyFilled := new(big.Int)
	buySpent := new(big.Int)
	sellFilled := new(big.Int)
	sellEarned := new(big.Int)
	for bi < len(buys) && si < len(sells) {
		buy, sell := buys[bi], sells[si]

		fill := new(big.Int).Set(buyRemaining)
		if sellRemaining.Cmp(fill) < 0 {
			fill.Set(sellRemaining)
		}

		maker := sell
		if buysAreMakers {
			maker = buy
		}
		premium := order.ProratedPrice(maker.Price, maker.Size, fill)
		if err := c.settleFill(buy, sell, fill, premium, positionHash); err != nil {
			return err
		}

		buyFilled.Add(buyFilled, fill)
		buySpent.Add(buySpent, premium)
		if buySpent.Cmp(order.ProratedPrice(buy.Price, buy.Size, buyFilled)) > 0 {
			return fmt.Errorf("buy price does not cover fills")
		}
		sellFilled.Add(sellFilled, fill)
		sellEarned.Add(sellEarned, premium)
		if sellEarned.Cmp(order.ProratedPrice(sell.Price, sell.Size, sellFilled)) < 0 {
			return fmt.Errorf("sell price not covered by fills")
		}

		buyRemaining.Sub(buyRemaining, fill)
		sellRemaining.Sub(sellRemaining, fill)
		if buyRemaining.Sign() == 0 {
			bi++
			if bi < len(buys) {
				buyRemaining.Set(buys[bi].Size)
				buyFilled.SetInt64(0)
				buySpent.SetInt64(0)
			}
		}
		if sellRemaining.Sign() == 0 {
			si++
			if si < len(sells) {
				sellRemaining.Set(sells[si].Size)
				sellFilled.SetInt64(0)
				sellEarned.SetInt64(0)
			}
		}
	}

	// Nonce advance doubles as cancellation of partial remainders.
	for _, o := range all {
		c.nonces[nonceKey{addr: o.Signer, position: positionHash}] = o.Nonce
	}

	c.log.Infow("orders_matched",
		"position_hash", positionHash.Hex(),
		"buys", len(buys),
		"sells", len(sells),
		"height", c.height,
	)
	return nil
}

// settleFill moves premium and collateral for one fill and updates
// positions. The caller prices the fill from the maker order's
// prorated total.
func (c *Chain) settleFill(buy, sell *order.SignedOrder, fill, premium *big.Int, positionHash common.Hash) error {
	buyer := c.account(buy.Signer)
	seller := c.account(sell.Signer)

	if err := buyer.debit(buy.BaseAsset, premium); err != nil {
		return fmt.Errorf("buyer premium: %w", err)
	}
	seller.credit(sell.BaseAsset, premium)

	if sell.OptionType == order.Call {
		if err := seller.lock(sell.QuoteAsset, fill); err != nil {
			return fmt.Errorf("seller collateral: %w", err)
		}
	} else {
		need := new(big.Int).Mul(sell.Strike, fill)
		need.Div(need, order.Wad())
		if err := seller.lock(sell.BaseAsset, need); err != nil {
			return fmt.Errorf("seller collateral: %w", err)
		}
	}

	buyer.addPosition(positionHash, fill)
	seller.addPosition(positionHash, new(big.Int).Neg(fill))
	return nil
}

// ResolveOrders returns historical signed orders announced at or after
// blockHeight by user for the given contract. Zero, one, or many;
// callers disambiguate by side, size and price.
func (c *Chain) ResolveOrders(_ context.Context, positionHash common.Hash, user common.Address, blockHeight uint64) ([]*order.SignedOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*order.SignedOrder
	for _, ann := range c.announcements[positionHash] {
		if ann.Order.Signer != user || ann.BlockHeight < blockHeight {
			continue
		}
		out = append(out, ann.Order)
	}
	return out, nil
}

// RestingOrders returns the currently live announcements for one
// contract: offer not expired and nonce still fresh. Snapshot input.
func (c *Chain) RestingOrders(positionHash common.Hash, now time.Time) []book.RestingOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	nowSec := uint64(now.Unix())
	var out []book.RestingOrder
	for _, ann := range c.announcements[positionHash] {
		o := ann.Order
		if o.OfferExpire <= nowSec {
			continue
		}
		current := c.nonces[nonceKey{addr: o.Signer, position: positionHash}]
		if o.Nonce != current+1 {
			continue
		}
		out = append(out, book.RestingOrder{Order: o, BlockHeight: ann.BlockHeight})
	}
	return out
}

// RestoreAnnouncements replays persisted order history, typically
// loaded from a storage.Store at startup. Height resumes past the
// newest restored announcement.
func (c *Chain) RestoreAnnouncements(anns map[common.Hash][]*Announcement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for positionHash, list := range anns {
		for _, ann := range list {
			c.announcements[positionHash] = append(c.announcements[positionHash], ann)
			if ann.BlockHeight >= c.height {
				c.height = ann.BlockHeight + 1
			}
		}
	}
}

// PositionHashes lists every contract with announced history.
func (c *Chain) PositionHashes() []common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]common.Hash, 0, len(c.announcements))
	for h := range c.announcements {
		out = append(out, h)
	}
	return out
}

// Receipt returns the mined receipt for a transaction hash, if any.
func (c *Chain) Receipt(hash common.Hash) (*Receipt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[hash]
	return r, ok
}

// validateOrder checks signature, offer expiry and nonce freshness.
// Caller holds the lock.
func (c *Chain) validateOrder(o *order.SignedOrder, now time.Time) error {
	ok, err := c.signer.VerifyOrder(o)
	if err != nil {
		return fmt.Errorf("verify order: %w", err)
	}
	if !ok {
		return fmt.Errorf("signature does not recover to claimed signer %s", o.Signer.Hex())
	}
	if o.OfferExpire <= uint64(now.Unix()) {
		return fmt.Errorf("offer expired")
	}
	current := c.nonces[nonceKey{addr: o.Signer, position: o.PositionHash()}]
	if o.Nonce != current+1 {
		return fmt.Errorf("stale nonce: order %d, current %d", o.Nonce, current)
	}
	return nil
}

func (c *Chain) account(addr common.Address) *accountState {
	acc, ok := c.accounts[addr]
	if !ok {
		acc = newAccountState()
		c.accounts[addr] = acc
	}
	return acc
}

func (c *Chain) nextTxHash() common.Hash {
	c.txCounter++
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], c.height)
	binary.BigEndian.PutUint64(buf[8:], c.txCounter)
	return ethcrypto.Keccak256Hash(buf[:])
}

// mine finalizes a successful transaction. Caller holds the lock.
func (c *Chain) mine(handle *TxHandle) {
	c.height++
	receipt := &Receipt{TxHash: handle.Hash, BlockNumber: c.height, Status: ReceiptStatusSuccess}
	c.receipts[handle.Hash] = receipt
	if c.store != nil {
		if err := c.store.SaveReceipt(receipt); err != nil {
			c.log.Errorw("receipt_persist_failed", "tx", handle.Hash.Hex(), "err", err)
		}
	}
	handle.complete(receipt, nil)
}

// revert finalizes a failed transaction. Caller holds the lock.
func (c *Chain) revert(handle *TxHandle, reason string) {
	c.height++
	receipt := &Receipt{TxHash: handle.Hash, BlockNumber: c.height, Status: ReceiptStatusReverted}
	c.receipts[handle.Hash] = receipt
	if c.store != nil {
		if err := c.store.SaveReceipt(receipt); err != nil {
			c.log.Errorw("receipt_persist_failed", "tx", handle.Hash.Hex(), "err", err)
		}
	}
	c.log.Warnw("tx_reverted", "tx", handle.Hash.Hex(), "reason", reason)
	handle.complete(receipt, &SettlementRevertedError{TxHash: handle.Hash, Reason: reason})
}
