package params

import (
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Exchange struct {
	// EIP-712 domain for order signing.
	DomainName    string
	DomainVersion string
	ChainID       *big.Int

	// Offer lifetimes applied to freshly built orders.
	LimitOfferTTL  time.Duration
	MarketOfferTTL time.Duration
}

type Node struct {
	APIListenAddr string
	DataDir       string
	LogFile       string

	// BookPollInterval throttles order book snapshot rebuilds pushed to
	// websocket subscribers. The hosted app polls its indexer every 5s;
	// the devnet defaults to the same cadence.
	BookPollInterval time.Duration
}

type Config struct {
	Exchange Exchange
	Node     Node
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			DomainName:     "Shrub Trade",
			DomainVersion:  "1",
			ChainID:        big.NewInt(1337),
			LimitOfferTTL:  24 * time.Hour,
			MarketOfferTTL: 7 * 24 * time.Hour,
		},
		Node: Node{
			APIListenAddr:    ":8551",
			DataDir:          "data",
			LogFile:          "data/shrubd.log",
			BookPollInterval: 5 * time.Second,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, ok := new(big.Int).SetString(v, 10); ok {
			cfg.Exchange.ChainID = id
		}
	}
	if v := os.Getenv("DOMAIN_NAME"); v != "" {
		cfg.Exchange.DomainName = v
	}
	if v := os.Getenv("LIMIT_OFFER_TTL_HOURS"); v != "" {
		if h, err := strconv.Atoi(v); err == nil {
			cfg.Exchange.LimitOfferTTL = time.Duration(h) * time.Hour
		}
	}
	if v := os.Getenv("MARKET_OFFER_TTL_HOURS"); v != "" {
		if h, err := strconv.Atoi(v); err == nil {
			cfg.Exchange.MarketOfferTTL = time.Duration(h) * time.Hour
		}
	}
	if v := os.Getenv("API_LISTEN"); v != "" {
		cfg.Node.APIListenAddr = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("BOOK_POLL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Node.BookPollInterval = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg
}
