package crypto

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/shrub-finance/shrub-go/pkg/order"
)

// ErrSignatureDeclined is returned by a Wallet when the user rejects the
// signing request. The placement flow treats it as terminal.
var ErrSignatureDeclined = errors.New("signature request declined")

// Wallet is the signing capability a session carries: a local key in
// this repo, a browser wallet in the hosted app.
type Wallet interface {
	Address() common.Address
	SignDigest(digest []byte) ([]byte, error)
}

// Domain is the EIP-712 domain separator. It prevents replaying an
// order signature against another chain or another exchange contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the domain used by the local devnet.
func DefaultDomain() Domain {
	return Domain{
		Name:              "Shrub Trade",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{}, // zero address for off-chain signing
	}
}

// orderTypes is the EIP-712 type table for an unsigned order. The field
// order must match the settlement contract's ORDER_TYPEHASH exactly.
var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "size", Type: "uint256"},
		{Name: "isBuy", Type: "bool"},
		{Name: "optionType", Type: "uint8"},
		{Name: "baseAsset", Type: "address"},
		{Name: "quoteAsset", Type: "address"},
		{Name: "expiry", Type: "uint256"},
		{Name: "strike", Type: "uint256"},
		{Name: "price", Type: "uint256"},
		{Name: "fee", Type: "uint256"},
		{Name: "offerExpire", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
}

// OrderSigner hashes, signs and verifies orders as EIP-712 typed data.
// This is the SigningGateway: sign(unsigned) -> signed and
// recoverSigner(signed) -> address.
type OrderSigner struct {
	domain Domain
}

func NewOrderSigner(domain Domain) *OrderSigner {
	return &OrderSigner{domain: domain}
}

// HashOrder computes the EIP-712 digest an order owner signs:
// keccak256("\x19\x01" || domainSeparator || hashStruct(order)).
func (s *OrderSigner) HashOrder(o *order.UnsignedOrder) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              s.domain.Name,
			Version:           s.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(s.domain.ChainID),
			VerifyingContract: s.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"size":        o.Size.String(),
			"isBuy":       o.IsBuy,
			"optionType":  fmt.Sprintf("%d", o.OptionType),
			"baseAsset":   o.BaseAsset.Hex(),
			"quoteAsset":  o.QuoteAsset.Hex(),
			"expiry":      fmt.Sprintf("%d", o.Expiry),
			"strike":      o.Strike.String(),
			"price":       o.Price.String(),
			"fee":         o.Fee.String(),
			"offerExpire": fmt.Sprintf("%d", o.OfferExpire),
			"nonce":       fmt.Sprintf("%d", o.Nonce),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	digest := crypto.Keccak256Hash(rawData)
	return digest.Bytes(), nil
}

// SignOrder signs an unsigned order with the given wallet and returns
// the signed record. The unsigned order is not mutated.
func (s *OrderSigner) SignOrder(wallet Wallet, o *order.UnsignedOrder) (*order.SignedOrder, error) {
	digest, err := s.HashOrder(o)
	if err != nil {
		return nil, err
	}
	signature, err := wallet.SignDigest(digest)
	if err != nil {
		if errors.Is(err, ErrSignatureDeclined) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	return &order.SignedOrder{
		UnsignedOrder: *o,
		Signer:        wallet.Address(),
		Signature:     signature,
	}, nil
}

// RecoverSigner recovers the address that signed an order.
func (s *OrderSigner) RecoverSigner(o *order.SignedOrder) (common.Address, error) {
	digest, err := s.HashOrder(&o.UnsignedOrder)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(digest, o.Signature)
}

// VerifyOrder reports whether the signature recovers to the claimed
// signer address.
func (s *OrderSigner) VerifyOrder(o *order.SignedOrder) (bool, error) {
	recovered, err := s.RecoverSigner(o)
	if err != nil {
		return false, err
	}
	return recovered == o.Signer, nil
}
