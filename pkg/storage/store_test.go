package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shrub-finance/shrub-go/pkg/chain"
	"github.com/shrub-finance/shrub-go/pkg/crypto"
	"github.com/shrub-finance/shrub-go/pkg/order"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func signedOrder(t *testing.T, nonce uint64) *order.SignedOrder {
	t.Helper()
	wallet, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wad := order.Wad()
	unsigned := &order.UnsignedOrder{
		OrderCommon: order.OrderCommon{
			BaseAsset:  common.HexToAddress("0x01"),
			QuoteAsset: common.HexToAddress("0x02"),
			Expiry:     1790000000,
			Strike:     new(big.Int).Mul(big.NewInt(2), wad),
			OptionType: order.Call,
		},
		Size:        new(big.Int).Mul(big.NewInt(5), wad),
		Price:       new(big.Int).Mul(big.NewInt(50), wad),
		Fee:         new(big.Int),
		OfferExpire: 1780000000,
		Nonce:       nonce,
	}
	signed, err := crypto.NewOrderSigner(crypto.DefaultDomain()).SignOrder(wallet, unsigned)
	if err != nil {
		t.Fatalf("sign order: %v", err)
	}
	return signed
}

func TestAnnouncementRoundTrip(t *testing.T) {
	store := openTestStore(t)

	o1 := signedOrder(t, 1)
	o2 := signedOrder(t, 1)
	hash := o1.PositionHash()

	anns := []*chain.Announcement{
		{Order: o1, BlockHeight: 3, TxHash: common.HexToHash("0x0a")},
		{Order: o2, BlockHeight: 7, TxHash: common.HexToHash("0x0b")},
	}
	for _, ann := range anns {
		if err := store.SaveAnnouncement(hash, ann); err != nil {
			t.Fatalf("save announcement: %v", err)
		}
	}

	loaded, err := store.LoadAnnouncements()
	if err != nil {
		t.Fatalf("load announcements: %v", err)
	}
	got := loaded[hash]
	if len(got) != 2 {
		t.Fatalf("loaded = %d, want 2", len(got))
	}
	// Height-ordered by key encoding
	if got[0].BlockHeight != 3 || got[1].BlockHeight != 7 {
		t.Errorf("heights = %d, %d, want 3, 7", got[0].BlockHeight, got[1].BlockHeight)
	}
	if got[0].Order.Signer != o1.Signer {
		t.Errorf("signer = %s, want %s", got[0].Order.Signer.Hex(), o1.Signer.Hex())
	}
	if got[0].Order.Price.Cmp(o1.Price) != 0 {
		t.Error("price did not survive the round trip")
	}
	if len(got[0].Order.Signature) != 65 {
		t.Errorf("signature length = %d, want 65", len(got[0].Order.Signature))
	}
}

func TestLoadAnnouncementsEmpty(t *testing.T) {
	store := openTestStore(t)
	loaded, err := store.LoadAnnouncements()
	if err != nil {
		t.Fatalf("load announcements: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("loaded = %d contracts, want 0", len(loaded))
	}
}

func TestReceiptRoundTrip(t *testing.T) {
	store := openTestStore(t)

	r := &chain.Receipt{
		TxHash:      common.HexToHash("0xdead"),
		BlockNumber: 42,
		Status:      chain.ReceiptStatusSuccess,
	}
	if err := store.SaveReceipt(r); err != nil {
		t.Fatalf("save receipt: %v", err)
	}

	got, ok, err := store.GetReceipt(r.TxHash)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if !ok {
		t.Fatal("receipt not found")
	}
	if got.BlockNumber != 42 || got.Status != chain.ReceiptStatusSuccess {
		t.Errorf("receipt = %+v, want %+v", got, r)
	}

	if _, ok, err := store.GetReceipt(common.HexToHash("0xbeef")); err != nil || ok {
		t.Errorf("missing receipt: ok = %v, err = %v, want false, nil", ok, err)
	}
}
