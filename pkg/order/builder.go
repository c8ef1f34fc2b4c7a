package order

import (
	"math/big"
	"time"
)

// Builder constructs canonical unsigned orders. Construction is pure:
// the nonce must be fetched by the caller immediately before signing
// (current on-chain nonce + 1) and is never invented here.
type Builder struct {
	Fee *big.Int // flat fee applied to every order; zero when nil
}

// BuildLimit constructs a limit order. unitPrice is price-per-contract;
// the order's Price field is the total, unitPrice * size / 10^18.
func (b Builder) BuildLimit(common OrderCommon, side Side, size, unitPrice *big.Int, nonce uint64, offerExpire time.Time) (*UnsignedOrder, error) {
	if err := validateSize(size); err != nil {
		return nil, err
	}
	if unitPrice == nil || unitPrice.Sign() <= 0 {
		return nil, validationErr("price", "limit order requires a positive price per contract")
	}
	total := new(big.Int).Mul(unitPrice, size)
	total.Div(total, Wad())
	return b.build(common, side, size, total, nonce, offerExpire)
}

// BuildMarket constructs a market (taker) order whose total price has
// already been accumulated by a depth walk over the counterparty book.
func (b Builder) BuildMarket(common OrderCommon, side Side, size, totalPrice *big.Int, nonce uint64, offerExpire time.Time) (*UnsignedOrder, error) {
	if err := validateSize(size); err != nil {
		return nil, err
	}
	if totalPrice == nil || totalPrice.Sign() < 0 {
		return nil, validationErr("price", "market order requires an accumulated total price")
	}
	return b.build(common, side, size, totalPrice, nonce, offerExpire)
}

func (b Builder) build(common OrderCommon, side Side, size, totalPrice *big.Int, nonce uint64, offerExpire time.Time) (*UnsignedOrder, error) {
	expire := uint64(offerExpire.Unix())
	if !offerExpire.After(time.Now()) {
		return nil, validationErr("offerExpire", "must be strictly in the future")
	}
	fee := b.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	return &UnsignedOrder{
		OrderCommon: common,
		Size:        new(big.Int).Set(size),
		IsBuy:       side.IsBuy(),
		Price:       new(big.Int).Set(totalPrice),
		Fee:         new(big.Int).Set(fee),
		OfferExpire: expire,
		Nonce:       nonce,
	}, nil
}

func validateSize(size *big.Int) error {
	if size == nil {
		return validationErr("size", "required")
	}
	if size.Sign() <= 0 {
		return validationErr("size", "must be positive")
	}
	return nil
}
