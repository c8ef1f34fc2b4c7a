package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shrub-finance/shrub-go/params"
	"github.com/shrub-finance/shrub-go/pkg/api"
	"github.com/shrub-finance/shrub-go/pkg/chain"
	"github.com/shrub-finance/shrub-go/pkg/crypto"
	"github.com/shrub-finance/shrub-go/pkg/order"
	"github.com/shrub-finance/shrub-go/pkg/storage"
	"github.com/shrub-finance/shrub-go/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("") // "" loads .env from current directory

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	domain := crypto.Domain{
		Name:              cfg.Exchange.DomainName,
		Version:           cfg.Exchange.DomainVersion,
		ChainID:           cfg.Exchange.ChainID,
		VerifyingContract: common.Address{},
	}
	orderSigner := crypto.NewOrderSigner(domain)

	store, err := storage.NewStore(filepath.Join(cfg.Node.DataDir, "chain"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()

	devnet := chain.NewChain(orderSigner, sugar).WithStore(store)

	// Restore announced order history from previous runs.
	anns, err := store.LoadAnnouncements()
	if err != nil {
		sugar.Fatalw("history_restore_failed", "err", err)
	}
	devnet.RestoreAnnouncements(anns)
	sugar.Infow("chain_ready", "height", devnet.Height(), "contracts", len(devnet.PositionHashes()))

	if os.Getenv("SEED_DEMO") == "true" {
		if err := seedDemoBook(devnet, orderSigner); err != nil {
			sugar.Fatalw("seed_failed", "err", err)
		}
		sugar.Info("demo order book seeded")
	}

	server := api.NewServer(devnet, orderSigner, cfg.Node.BookPollInterval)
	if err := server.Start(cfg.Node.APIListenAddr); err != nil {
		sugar.Fatalw("api_server_failed", "err", err)
	}
}

// seedDemoBook funds two maker accounts and announces a small resting
// book on a near-term call, so a fresh devnet has something to trade
// against.
func seedDemoBook(devnet *chain.Chain, orderSigner *crypto.OrderSigner) error {
	ctx := context.Background()
	wad := order.Wad()
	baseAsset := common.HexToAddress("0x0000000000000000000000000000000000000001")  // sUSD
	quoteAsset := common.HexToAddress("0x0000000000000000000000000000000000000002") // sMATIC

	oc := order.OrderCommon{
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
		Expiry:     uint64(time.Now().Add(30 * 24 * time.Hour).Unix()),
		Strike:     new(big.Int).Mul(big.NewInt(2), wad),
		OptionType: order.Call,
	}

	builder := order.Builder{}
	for _, unitPrice := range []int64{10, 11} {
		maker, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		devnet.Deposit(maker.Address(), quoteAsset, new(big.Int).Mul(big.NewInt(100), wad))
		devnet.Deposit(maker.Address(), baseAsset, new(big.Int).Mul(big.NewInt(1000), wad))

		size := new(big.Int).Mul(big.NewInt(5), wad)
		price := new(big.Int).Mul(big.NewInt(unitPrice), wad)
		unsigned, err := builder.BuildLimit(oc, order.Sell, size, price, 1, time.Now().Add(7*24*time.Hour))
		if err != nil {
			return err
		}
		signed, err := orderSigner.SignOrder(maker, unsigned)
		if err != nil {
			return err
		}
		handle, err := devnet.AnnounceOrder(ctx, signed)
		if err != nil {
			return err
		}
		if _, err := handle.Await(ctx); err != nil {
			return err
		}
	}
	return nil
}
