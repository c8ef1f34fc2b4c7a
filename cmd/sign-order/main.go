package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shrub-finance/shrub-go/pkg/crypto"
	"github.com/shrub-finance/shrub-go/pkg/order"
)

// Demonstrates the full offline signing path: generate a key, build a
// limit order, sign it as EIP-712 typed data, verify, and print the
// JSON ready for POST /api/v1/orders.
func main() {
	// Step 1: Generate or load key
	fmt.Println("Generating new keypair...")
	signer, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	// Step 2: Build the order
	wad := order.Wad()
	oc := order.OrderCommon{
		BaseAsset:  common.HexToAddress("0x0000000000000000000000000000000000000001"), // sUSD
		QuoteAsset: common.HexToAddress("0x0000000000000000000000000000000000000002"), // sMATIC
		Expiry:     uint64(time.Now().Add(30 * 24 * time.Hour).Unix()),
		Strike:     new(big.Int).Mul(big.NewInt(2), wad),
		OptionType: order.Call,
	}

	builder := order.Builder{}
	size := new(big.Int).Mul(big.NewInt(5), wad)
	unitPrice := new(big.Int).Mul(big.NewInt(10), wad)
	unsigned, err := builder.BuildLimit(oc, order.Sell, size, unitPrice, 1, time.Now().Add(24*time.Hour))
	if err != nil {
		fmt.Printf("Error building order: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Position: %s\n", oc.PositionHash().Hex())
	fmt.Printf("  Type: %s\n", oc.OptionType)
	fmt.Printf("  Side: sell\n")
	fmt.Printf("  Strike: %s\n", oc.Strike.String())
	fmt.Printf("  Size: %s\n", unsigned.Size.String())
	fmt.Printf("  Price (total): %s\n", unsigned.Price.String())
	fmt.Printf("  Nonce: %d\n\n", unsigned.Nonce)

	// Step 3: Sign with EIP-712
	orderSigner := crypto.NewOrderSigner(crypto.DefaultDomain())
	signed, err := orderSigner.SignOrder(signer, unsigned)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Signature: 0x%x\n\n", signed.Signature)

	// Step 4: Serialize to JSON
	orderJSON, err := json.MarshalIndent(signed, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Signed Order (JSON):")
	fmt.Println(string(orderJSON))
	fmt.Println()

	// Step 5: Verify signature
	fmt.Println("Verifying signature...")
	valid, err := orderSigner.VerifyOrder(signed)
	if err != nil {
		fmt.Printf("Error verifying: %v\n", err)
		os.Exit(1)
	}
	if !valid {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}

	recovered, err := orderSigner.RecoverSigner(signed)
	if err != nil {
		fmt.Printf("Error recovering: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n", recovered.Hex())
	fmt.Printf("  Matches key: %v\n\n", recovered == signer.Address())

	// Step 6: Show how to submit to the API
	fmt.Println("To submit this order to shrubd:")
	fmt.Println("  POST http://localhost:8551/api/v1/orders")
	fmt.Println("  Content-Type: application/json")
	fmt.Printf("  Body: {\"order\": %s}\n", string(orderJSON))
}
