package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Instrument is the start-up definition of a tradable symbol
type Instrument struct {
	Ticker       string
	DisplayName  string
	Sector       string
	InitialPrice int64
	TotalShares  int64
}

type Market struct {
	Instruments []Instrument
	// TickInterval paces the market loop: noise orders, history sampling and reconciliation
	// all run once per tick.
	TickInterval time.Duration
	HistorySize  int
	// SelfTradePolicy is one of "allow", "cancel_resting", "cancel_incoming"
	SelfTradePolicy string
	// MarketRemainderPolicy is one of "discard", "rest_at_last"
	MarketRemainderPolicy string
	// Upper bounds on a user order; escrow is price*quantity won
	MaxOrderPrice    int64
	MaxOrderQuantity int64
}

type Noise struct {
	Enabled  bool
	Spread   int64 // max absolute offset from the current price (won)
	MaxQty   int64
	MinPrice int64
}

type Ledger struct {
	Path           string
	InitialBalance int64
	FirstBuyBonus  int64
	FirstSellBonus int64
}

type API struct {
	Addr        string
	CORSOrigins []string
}

type Kafka struct {
	Brokers []string
	Topic   string
}

type Config struct {
	Market  Market
	Noise   Noise
	Ledger  Ledger
	API     API
	Kafka   Kafka
	LogFile string // "-" logs to the console only
	Verbose bool
}

func Default() Config {
	return Config{
		Market: Market{
			Instruments: []Instrument{
				{Ticker: "삼성전자", DisplayName: "삼성전자", Sector: "Tech", InitialPrice: 70000, TotalShares: 1000000},
				{Ticker: "소현컴퍼니", DisplayName: "소현컴퍼니", Sector: "Tech", InitialPrice: 70000, TotalShares: 1000000},
				{Ticker: "상은테크놀로지", DisplayName: "상은테크놀로지", Sector: "Tech", InitialPrice: 70000, TotalShares: 1000000},
				{Ticker: "예진캐피탈", DisplayName: "예진캐피탈", Sector: "Finance", InitialPrice: 70000, TotalShares: 1000000},
			},
			TickInterval:          1 * time.Second,
			HistorySize:           30,
			SelfTradePolicy:       "allow",
			MarketRemainderPolicy: "discard",
			MaxOrderPrice:         1_000_000_000,
			MaxOrderQuantity:      1_000_000,
		},
		Noise: Noise{
			Enabled:  true,
			Spread:   500,
			MaxQty:   5,
			MinPrice: 10,
		},
		Ledger: Ledger{
			Path:           "data/ledger.db",
			InitialBalance: 1000000,
			FirstBuyBonus:  500000,
			FirstSellBonus: 1000000,
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		Kafka: Kafka{
			Topic: "stocksim.trades",
		},
		LogFile: "data/stocksim.log",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if ms := getEnvInt("TICK_MS", 0); ms > 0 {
		cfg.Market.TickInterval = time.Duration(ms) * time.Millisecond
	}
	if n := getEnvInt("HISTORY_SIZE", 0); n > 0 {
		cfg.Market.HistorySize = int(n)
	}
	cfg.Market.SelfTradePolicy = getEnv("SELF_TRADE_POLICY", cfg.Market.SelfTradePolicy)
	cfg.Market.MarketRemainderPolicy = getEnv("MARKET_REMAINDER_POLICY", cfg.Market.MarketRemainderPolicy)

	cfg.Market.MaxOrderPrice = getEnvInt("MAX_ORDER_PRICE", cfg.Market.MaxOrderPrice)
	cfg.Market.MaxOrderQuantity = getEnvInt("MAX_ORDER_QTY", cfg.Market.MaxOrderQuantity)

	// Example: TICKERS="AAA=70000,BBB=120000"
	if tickers := os.Getenv("TICKERS"); tickers != "" {
		if parsed := parseInstruments(tickers); len(parsed) > 0 {
			cfg.Market.Instruments = parsed
		}
	}

	if enabled := os.Getenv("NOISE_ENABLED"); enabled != "" {
		cfg.Noise.Enabled = enabled == "true"
	}
	cfg.Noise.Spread = getEnvInt("NOISE_SPREAD", cfg.Noise.Spread)
	cfg.Noise.MaxQty = getEnvInt("NOISE_MAX_QTY", cfg.Noise.MaxQty)
	cfg.Noise.MinPrice = getEnvInt("NOISE_MIN_PRICE", cfg.Noise.MinPrice)

	cfg.Ledger.Path = getEnv("LEDGER_PATH", cfg.Ledger.Path)
	cfg.Ledger.InitialBalance = getEnvInt("INITIAL_BALANCE", cfg.Ledger.InitialBalance)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.Verbose = os.Getenv("VERBOSE") == "true"

	return cfg
}

// parseInstruments reads "TICKER=PRICE" pairs; malformed entries are skipped
func parseInstruments(s string) []Instrument {
	var out []Instrument
	for _, item := range splitList(s) {
		name, priceStr, ok := strings.Cut(item, "=")
		if !ok || name == "" {
			continue
		}
		price, err := strconv.ParseInt(priceStr, 10, 64)
		if err != nil || price <= 0 {
			continue
		}
		out = append(out, Instrument{
			Ticker:       name,
			DisplayName:  name,
			Sector:       "Tech",
			InitialPrice: price,
			TotalShares:  1000000,
		})
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}
