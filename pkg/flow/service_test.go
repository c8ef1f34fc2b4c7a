package flow

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shrub-finance/shrub-go/pkg/book"
	"github.com/shrub-finance/shrub-go/pkg/chain"
	"github.com/shrub-finance/shrub-go/pkg/crypto"
	"github.com/shrub-finance/shrub-go/pkg/order"
)

var (
	sUSD   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	sMATIC = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func wads(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), order.Wad())
}

func callContract() order.OrderCommon {
	return order.OrderCommon{
		BaseAsset:  sUSD,
		QuoteAsset: sMATIC,
		Expiry:     uint64(time.Now().Add(30 * 24 * time.Hour).Unix()),
		Strike:     wads(2),
		OptionType: order.Call,
	}
}

// env wires a Service against a devnet chain, the way shrubd does.
type env struct {
	chain   *chain.Chain
	signer  *crypto.OrderSigner
	service *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	signer := crypto.NewOrderSigner(crypto.DefaultDomain())
	devnet := chain.NewChain(signer, nil)
	walker := book.NewWalker(devnet, devnet, devnet, signer, nil)
	return &env{
		chain:   devnet,
		signer:  signer,
		service: NewService(order.Builder{}, signer, walker, devnet, devnet, nil),
	}
}

func (e *env) session(t *testing.T) (*Session, *crypto.Signer) {
	t.Helper()
	wallet, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &Session{Address: wallet.Address(), ChainID: big.NewInt(1337), Wallet: wallet}, wallet
}

// seedSell funds a maker and rests a sell at unitPrice for size.
func (e *env) seedSell(t *testing.T, oc order.OrderCommon, unitPrice, size *big.Int) {
	t.Helper()
	session, _ := e.session(t)
	e.chain.Deposit(session.Address, oc.QuoteAsset, size)

	p, err := e.service.PlaceLimitOrder(context.Background(), session, oc, order.Sell, size, unitPrice)
	if err != nil {
		t.Fatalf("seed sell: %v", err)
	}
	if p.Status() != StatusConfirmed {
		t.Fatalf("seed sell status = %s, want confirmed", p.Status())
	}
}

func (e *env) snapshot(oc order.OrderCommon) *book.Snapshot {
	return book.BuildSnapshot(oc.PositionHash(), e.chain.RestingOrders(oc.PositionHash(), time.Now()), time.Now())
}

func TestPlaceLimitOrder(t *testing.T) {
	e := newEnv(t)
	session, _ := e.session(t)
	oc := callContract()

	p, err := e.service.PlaceLimitOrder(context.Background(), session, oc, order.Sell, wads(5), wads(10))
	if err != nil {
		t.Fatalf("place limit: %v", err)
	}

	if p.Status() != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", p.Status())
	}
	if p.TxHash() == (common.Hash{}) {
		t.Error("tx hash not recorded")
	}
	if p.Order == nil || p.Order.Nonce != 1 {
		t.Error("order not built with nonce current + 1")
	}
	if p.Order.Price.Cmp(wads(50)) != 0 {
		t.Errorf("total price = %s, want %s", p.Order.Price, wads(50))
	}

	// Announced order rests on the book
	if resting := e.chain.RestingOrders(oc.PositionHash(), time.Now()); len(resting) != 1 {
		t.Errorf("resting = %d, want 1", len(resting))
	}
}

func TestPlaceLimitOrderValidation(t *testing.T) {
	e := newEnv(t)
	session, _ := e.session(t)
	oc := callContract()

	var verr *order.ValidationError
	if _, err := e.service.PlaceLimitOrder(context.Background(), session, oc, order.Buy, big.NewInt(0), wads(10)); !errors.As(err, &verr) {
		t.Errorf("zero size: err = %v, want *ValidationError", err)
	}
	if _, err := e.service.PlaceLimitOrder(context.Background(), session, oc, order.Buy, wads(1), nil); !errors.As(err, &verr) {
		t.Errorf("nil price: err = %v, want *ValidationError", err)
	}
}

func TestPlaceOrderWalletNotConnected(t *testing.T) {
	e := newEnv(t)
	oc := callContract()

	_, err := e.service.PlaceLimitOrder(context.Background(), nil, oc, order.Buy, wads(1), wads(1))
	if !errors.Is(err, ErrWalletNotConnected) {
		t.Errorf("nil session: err = %v, want ErrWalletNotConnected", err)
	}

	session := &Session{Address: common.HexToAddress("0x01")}
	_, err = e.service.PlaceMarketOrder(context.Background(), session, oc, order.Buy, wads(1), e.snapshot(oc))
	if !errors.Is(err, ErrWalletNotConnected) {
		t.Errorf("no wallet: err = %v, want ErrWalletNotConnected", err)
	}
}

// decliningWallet rejects every signing request.
type decliningWallet struct {
	addr common.Address
}

func (w decliningWallet) Address() common.Address { return w.addr }

func (w decliningWallet) SignDigest([]byte) ([]byte, error) {
	return nil, crypto.ErrSignatureDeclined
}

func TestPlaceLimitOrderDeclined(t *testing.T) {
	e := newEnv(t)
	oc := callContract()
	session := &Session{
		Address: common.HexToAddress("0x0000000000000000000000000000000000000abc"),
		ChainID: big.NewInt(1337),
		Wallet:  decliningWallet{addr: common.HexToAddress("0x0000000000000000000000000000000000000abc")},
	}

	p, err := e.service.PlaceLimitOrder(context.Background(), session, oc, order.Sell, wads(5), wads(10))
	if !errors.Is(err, crypto.ErrSignatureDeclined) {
		t.Fatalf("err = %v, want ErrSignatureDeclined", err)
	}
	if p.Status() != StatusFailed {
		t.Errorf("status = %s, want failed", p.Status())
	}
	if !errors.Is(p.Err(), crypto.ErrSignatureDeclined) {
		t.Errorf("placement err = %v, want ErrSignatureDeclined", p.Err())
	}
}

// TestPlaceMarketOrder drives the whole flow: walk the resting sells,
// sign the taker order carrying the accumulated total, settle.
func TestPlaceMarketOrder(t *testing.T) {
	e := newEnv(t)
	oc := callContract()
	e.seedSell(t, oc, wads(10), wads(5))
	e.seedSell(t, oc, wads(11), wads(5))

	buyer, _ := e.session(t)
	e.chain.Deposit(buyer.Address, sUSD, wads(100))

	p, err := e.service.PlaceMarketOrder(context.Background(), buyer, oc, order.Buy, wads(7), e.snapshot(oc))
	if err != nil {
		t.Fatalf("place market: %v", err)
	}

	if p.Status() != StatusConfirmed {
		t.Fatalf("status = %s, want confirmed (err %v)", p.Status(), p.Err())
	}
	if len(p.Counterparties) != 2 {
		t.Errorf("counterparties = %d, want 2", len(p.Counterparties))
	}
	// Accumulated total: 5*10 + 2*11 = 72
	if p.Order.Price.Cmp(wads(72)) != 0 {
		t.Errorf("taker total = %s, want %s", p.Order.Price, wads(72))
	}

	if pos := e.chain.Position(buyer.Address, oc.PositionHash()); pos.Cmp(wads(7)) != 0 {
		t.Errorf("buyer position = %s, want %s", pos, wads(7))
	}
	bal, _ := e.chain.AvailableBalance(context.Background(), buyer.Address, sUSD)
	if bal.Cmp(wads(28)) != 0 {
		t.Errorf("buyer sUSD = %s, want %s", bal, wads(28))
	}
}

func TestPlaceMarketOrderInsufficientDepth(t *testing.T) {
	e := newEnv(t)
	oc := callContract()
	e.seedSell(t, oc, wads(10), wads(5))

	buyer, _ := e.session(t)
	e.chain.Deposit(buyer.Address, sUSD, wads(100))

	p, err := e.service.PlaceMarketOrder(context.Background(), buyer, oc, order.Buy, wads(6), e.snapshot(oc))
	if !errors.Is(err, book.ErrInsufficientDepth) {
		t.Fatalf("err = %v, want ErrInsufficientDepth", err)
	}
	if p.Status() != StatusFailed {
		t.Errorf("status = %s, want failed", p.Status())
	}
	// Nothing was signed or submitted
	if p.Order != nil {
		t.Error("taker order built despite failed walk")
	}
	if p.TxHash() != (common.Hash{}) {
		t.Error("tx hash recorded despite failed walk")
	}
}

// TestPlaceMarketOrderSell: a selling taker consumes resting bids and
// receives premium.
func TestPlaceMarketOrderSell(t *testing.T) {
	e := newEnv(t)
	oc := callContract()

	// A funded buyer rests a bid
	bidder, _ := e.session(t)
	e.chain.Deposit(bidder.Address, sUSD, wads(100))
	if _, err := e.service.PlaceLimitOrder(context.Background(), bidder, oc, order.Buy, wads(5), wads(10)); err != nil {
		t.Fatalf("seed bid: %v", err)
	}

	// Writer sells into it at market
	writer, _ := e.session(t)
	e.chain.Deposit(writer.Address, sMATIC, wads(5))

	p, err := e.service.PlaceMarketOrder(context.Background(), writer, oc, order.Sell, wads(5), e.snapshot(oc))
	if err != nil {
		t.Fatalf("place market sell: %v", err)
	}
	if p.Status() != StatusConfirmed {
		t.Fatalf("status = %s, want confirmed (err %v)", p.Status(), p.Err())
	}

	bal, _ := e.chain.AvailableBalance(context.Background(), writer.Address, sUSD)
	if bal.Cmp(wads(50)) != 0 {
		t.Errorf("writer sUSD = %s, want %s", bal, wads(50))
	}
	locked, _ := e.chain.LockedBalance(context.Background(), writer.Address, sMATIC)
	if locked.Cmp(wads(5)) != 0 {
		t.Errorf("writer locked sMATIC = %s, want %s", locked, wads(5))
	}
	if pos := e.chain.Position(bidder.Address, oc.PositionHash()); pos.Cmp(wads(5)) != 0 {
		t.Errorf("bidder position = %s, want %s", pos, wads(5))
	}
}

// TestPlaceMarketOrderSellBlended: a selling taker crossing two bid
// levels settles at a blended total, best bid consumed first.
func TestPlaceMarketOrderSellBlended(t *testing.T) {
	e := newEnv(t)
	oc := callContract()

	bidder1, _ := e.session(t)
	e.chain.Deposit(bidder1.Address, sUSD, wads(100))
	if _, err := e.service.PlaceLimitOrder(context.Background(), bidder1, oc, order.Buy, wads(5), wads(11)); err != nil {
		t.Fatalf("seed bid 11: %v", err)
	}
	bidder2, _ := e.session(t)
	e.chain.Deposit(bidder2.Address, sUSD, wads(100))
	if _, err := e.service.PlaceLimitOrder(context.Background(), bidder2, oc, order.Buy, wads(5), wads(10)); err != nil {
		t.Fatalf("seed bid 10: %v", err)
	}

	writer, _ := e.session(t)
	e.chain.Deposit(writer.Address, sMATIC, wads(7))

	p, err := e.service.PlaceMarketOrder(context.Background(), writer, oc, order.Sell, wads(7), e.snapshot(oc))
	if err != nil {
		t.Fatalf("place market sell: %v", err)
	}
	if p.Status() != StatusConfirmed {
		t.Fatalf("status = %s, want confirmed (err %v)", p.Status(), p.Err())
	}

	// 5 at unit 11 plus 2 of 5 at unit 10 prorated
	if p.Order == nil || p.Order.Price.Cmp(wads(75)) != 0 {
		t.Fatalf("taker total = %v, want %s", p.Order, wads(75))
	}
	bal, _ := e.chain.AvailableBalance(context.Background(), writer.Address, sUSD)
	if bal.Cmp(wads(75)) != 0 {
		t.Errorf("writer sUSD = %s, want %s", bal, wads(75))
	}
	locked, _ := e.chain.LockedBalance(context.Background(), writer.Address, sMATIC)
	if locked.Cmp(wads(7)) != 0 {
		t.Errorf("writer locked sMATIC = %s, want %s", locked, wads(7))
	}
	if pos := e.chain.Position(bidder1.Address, oc.PositionHash()); pos.Cmp(wads(5)) != 0 {
		t.Errorf("bidder1 position = %s, want %s", pos, wads(5))
	}
	if pos := e.chain.Position(bidder2.Address, oc.PositionHash()); pos.Cmp(wads(2)) != 0 {
		t.Errorf("bidder2 position = %s, want %s", pos, wads(2))
	}
}
