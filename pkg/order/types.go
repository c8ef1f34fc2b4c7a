package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// All sizes, prices and strikes are 18-decimal fixed point carried as
// *big.Int, matching the on-chain token representation (1.0 == 10^18).
const WadDecimals = 18

// Wad returns 10^18 as a fresh big.Int.
func Wad() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)
}

// OptionType distinguishes puts from calls. Numeric values match the
// settlement contract's enum.
type OptionType uint8

const (
	Put  OptionType = 0
	Call OptionType = 1
)

func (t OptionType) String() string {
	switch t {
	case Put:
		return "PUT"
	case Call:
		return "CALL"
	default:
		return "unknown"
	}
}

// Side is the direction of an order from the order owner's perspective.
type Side uint8

const (
	Sell Side = 0
	Buy  Side = 1
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// IsBuy converts a Side to the bool carried on the wire.
func (s Side) IsBuy() bool { return s == Buy }

// Opposite returns the counterparty side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderCommon identifies one option contract. It is immutable once an
// order references it.
//
// BaseAsset is the settlement currency of the pair (e.g. sUSD) and
// QuoteAsset is the underlying (e.g. sMATIC): a CALL writer collateralizes
// in QuoteAsset, a PUT writer in BaseAsset.
type OrderCommon struct {
	BaseAsset  common.Address `json:"baseAsset"`
	QuoteAsset common.Address `json:"quoteAsset"`
	Expiry     uint64         `json:"expiry"` // epoch seconds
	Strike     *big.Int       `json:"strike"` // fixed-point
	OptionType OptionType     `json:"optionType"`
}

// PositionHash is the canonical identity of an option contract:
// keccak256 over the packed common fields. Resting orders, announcements
// and positions are all keyed by it.
func (c OrderCommon) PositionHash() common.Hash {
	buf := make([]byte, 0, 20+20+32+32+1)
	buf = append(buf, c.BaseAsset.Bytes()...)
	buf = append(buf, c.QuoteAsset.Bytes()...)
	buf = append(buf, common.LeftPadBytes(new(big.Int).SetUint64(c.Expiry).Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(c.Strike.Bytes(), 32)...)
	buf = append(buf, byte(c.OptionType))
	return crypto.Keccak256Hash(buf)
}

// UnsignedOrder is the canonical order record prior to signing.
//
// Price is the TOTAL price for Size units, not a unit price. Unit price
// is derived for display and book ordering only.
type UnsignedOrder struct {
	OrderCommon
	Size        *big.Int `json:"size"`
	IsBuy       bool     `json:"isBuy"`
	Price       *big.Int `json:"price"`
	Fee         *big.Int `json:"fee"`
	OfferExpire uint64   `json:"offerExpire"` // epoch seconds; unmatchable afterwards
	Nonce       uint64   `json:"nonce"`       // per (signer, positionHash), strictly increasing
}

// Side returns the order's direction.
func (o *UnsignedOrder) Side() Side {
	if o.IsBuy {
		return Buy
	}
	return Sell
}

// UnitPrice derives price-per-contract: Price * 10^18 / Size.
// Returns zero for a zero size rather than dividing by it.
func (o *UnsignedOrder) UnitPrice() *big.Int {
	return UnitPrice(o.Price, o.Size)
}

// SignedOrder is a write-once record: an UnsignedOrder plus the claimed
// signer and the 65-byte [R || S || V] signature over its EIP-712 digest.
type SignedOrder struct {
	UnsignedOrder
	Signer    common.Address `json:"signer"`
	Signature []byte         `json:"signature"`
}

func (o *SignedOrder) String() string {
	return fmt.Sprintf("%s %s size=%s price=%s nonce=%d signer=%s",
		o.Side(), o.OptionType, o.Size, o.Price, o.Nonce, o.Signer.Hex())
}

// UnitPrice computes price * 10^18 / size in fixed point.
func UnitPrice(price, size *big.Int) *big.Int {
	if size == nil || size.Sign() == 0 {
		return new(big.Int)
	}
	up := new(big.Int).Mul(price, Wad())
	return up.Div(up, size)
}

// ProratedPrice is the price contribution of a partial fill:
// fillSize * price / size. The maker order itself is never split; this
// is accounting only, used when the last level of a depth walk covers
// more than the remaining requested size.
func ProratedPrice(price, size, fillSize *big.Int) *big.Int {
	if size == nil || size.Sign() == 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(fillSize, price)
	return p.Div(p, size)
}
