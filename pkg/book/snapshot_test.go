package book

import (
	"math/big"
	"testing"
	"time"

	"github.com/shrub-finance/shrub-go/pkg/crypto"
	"github.com/shrub-finance/shrub-go/pkg/order"
)

// addBuy announces a fresh bid from a new wallet.
func (f *fixture) addBuy(t *testing.T, unitPrice, size *big.Int) {
	t.Helper()
	wallet, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f.announce(signLimit(t, f.signer, wallet, f.oc, order.Buy, size, unitPrice, 1))
}

func TestBuildSnapshotOrdering(t *testing.T) {
	f := newFixture(t, callContract())
	f.addSell(t, wads(11), wads(5))
	f.addSell(t, wads(10), wads(5))
	f.addSell(t, wads(12), wads(2))
	f.addBuy(t, wads(8), wads(3))
	f.addBuy(t, wads(9), wads(4))

	snap := f.snapshot()

	if len(snap.Sells) != 3 {
		t.Fatalf("sells = %d, want 3", len(snap.Sells))
	}
	// Asks ascending: best ask first
	for i, want := range []int64{10, 11, 12} {
		if snap.Sells[i].UnitPrice.Cmp(wads(want)) != 0 {
			t.Errorf("sells[%d] = %s, want %s", i, snap.Sells[i].UnitPrice, wads(want))
		}
	}
	// Bids descending: best bid first
	if len(snap.Buys) != 2 {
		t.Fatalf("buys = %d, want 2", len(snap.Buys))
	}
	for i, want := range []int64{9, 8} {
		if snap.Buys[i].UnitPrice.Cmp(wads(want)) != 0 {
			t.Errorf("buys[%d] = %s, want %s", i, snap.Buys[i].UnitPrice, wads(want))
		}
	}
}

func TestBuildSnapshotFiltersExpiredOffers(t *testing.T) {
	f := newFixture(t, callContract())
	f.addSell(t, wads(10), wads(5))

	// An offer whose expiry has already passed never reaches the book.
	wallet, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	expired := signLimit(t, f.signer, wallet, f.oc, order.Sell, wads(5), wads(9), 1)
	f.announce(expired)

	snap := BuildSnapshot(f.oc.PositionHash(), f.resting, time.Unix(int64(expired.OfferExpire), 0))
	if len(snap.Sells) != 1 {
		t.Fatalf("sells = %d, want 1 after expiry filter", len(snap.Sells))
	}
	if snap.Sells[0].UnitPrice.Cmp(wads(10)) != 0 {
		t.Error("surviving level is not the live offer")
	}
}

func TestBuildSnapshotFiltersOtherContracts(t *testing.T) {
	f := newFixture(t, callContract())
	f.addSell(t, wads(10), wads(5))

	other := newFixture(t, putContract())
	other.addSell(t, wads(1), wads(5))

	mixed := append(append([]RestingOrder{}, f.resting...), other.resting...)
	snap := BuildSnapshot(f.oc.PositionHash(), mixed, time.Now())
	if len(snap.Sells) != 1 {
		t.Fatalf("sells = %d, want 1 after contract filter", len(snap.Sells))
	}
}

func TestSnapshotDepthAndBestPrice(t *testing.T) {
	f := newFixture(t, callContract())
	f.addSell(t, wads(10), wads(5))
	f.addSell(t, wads(11), wads(3))

	snap := f.snapshot()

	if snap.Depth(order.Sell).Cmp(wads(8)) != 0 {
		t.Errorf("sell depth = %s, want %s", snap.Depth(order.Sell), wads(8))
	}
	if snap.Depth(order.Buy).Sign() != 0 {
		t.Errorf("buy depth = %s, want 0", snap.Depth(order.Buy))
	}
	if snap.BestUnitPrice(order.Sell).Cmp(wads(10)) != 0 {
		t.Errorf("best ask = %s, want %s", snap.BestUnitPrice(order.Sell), wads(10))
	}
	if snap.BestUnitPrice(order.Buy) != nil {
		t.Error("best bid of empty side should be nil")
	}
}

func TestSnapshotLevelLocator(t *testing.T) {
	f := newFixture(t, callContract())
	wallet := f.addSell(t, wads(10), wads(5))

	snap := f.snapshot()
	lvl := snap.Sells[0]
	if lvl.User != wallet.Address() {
		t.Errorf("level user = %s, want %s", lvl.User.Hex(), wallet.Address().Hex())
	}
	if lvl.BlockHeight != 1 {
		t.Errorf("level height = %d, want 1", lvl.BlockHeight)
	}
	if snap.PositionHash != f.oc.PositionHash() {
		t.Error("snapshot keyed by wrong contract")
	}
}
