package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Node struct {
	DataDir  string // Pebble directory
	APIAddr  string
	LogFile  string // empty logs to stdout only
	LogLevel string // debug, info, warn, error
}

type Exchange struct {
	BookCapacity int // per side
	TradeHistory int // recent trades kept in memory per market

	// BootstrapMarkets are initialized at boot when missing
	BootstrapMarkets []MarketPair
}

type API struct {
	// EnableFaucet exposes POST /api/v1/faucet, which mints external balances.
	// Devnet only.
	EnableFaucet bool
	CORSOrigins  []string
}

type Kafka struct {
	Brokers []string // empty disables the trade feed
	Topic   string
}

// MarketPair is a base/quote asset pair
type MarketPair struct {
	Base  common.Address
	Quote common.Address
}

type Config struct {
	Node     Node
	Exchange Exchange
	API      API
	Kafka    Kafka
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:  "data/db",
			APIAddr:  ":8080",
			LogFile:  "data/node.log",
			LogLevel: "info",
		},
		Exchange: Exchange{
			BookCapacity: 128,
			TradeHistory: 1000,
		},
		API: API{
			EnableFaucet: false,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Kafka: Kafka{
			Topic: "rapidflow.trades",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)

	var err error
	if cfg.Exchange.BookCapacity, err = getEnvInt("BOOK_CAPACITY", cfg.Exchange.BookCapacity); err != nil {
		return Config{}, err
	}
	if cfg.Exchange.TradeHistory, err = getEnvInt("TRADE_HISTORY", cfg.Exchange.TradeHistory); err != nil {
		return Config{}, err
	}
	if raw := os.Getenv("BOOTSTRAP_MARKETS"); raw != "" {
		// Example: "0xBase/0xQuote,0xBase2/0xQuote2"
		pairs, err := ParseMarketPairs(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.Exchange.BootstrapMarkets = pairs
	}

	if faucet := os.Getenv("ENABLE_FAUCET"); faucet != "" {
		cfg.API.EnableFaucet = faucet == "true"
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	return cfg, nil
}

// ParseMarketPairs parses "base/quote,base/quote" into pairs
func ParseMarketPairs(raw string) ([]MarketPair, error) {
	var pairs []MarketPair
	for _, item := range splitList(raw) {
		base, quote, ok := strings.Cut(item, "/")
		if !ok || !common.IsHexAddress(base) || !common.IsHexAddress(quote) {
			return nil, fmt.Errorf("BOOTSTRAP_MARKETS: bad pair %q, want 0xBASE/0xQUOTE", item)
		}
		pairs = append(pairs, MarketPair{Base: common.HexToAddress(base), Quote: common.HexToAddress(quote)})
	}
	return pairs, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: %q is not a positive integer", key, value)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
