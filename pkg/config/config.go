package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the process-lifetime settings: credentials and toggles from
// the environment, trading parameters from a YAML file. Loaded once at start
// and treated as an immutable snapshot; changes require a restart.
type Config struct {
	Port string

	// Venues
	DefaultExchange string // "bybit" or "mexc"
	BybitAPIKey     string
	BybitAPISecret  string
	BybitTestnet    bool
	MexcAPIKey      string
	MexcAPISecret   string

	// Execution
	DryRun bool

	// Notification channel
	TelegramBotToken string
	TelegramChatID   string

	// Database
	DBPath string

	// Auth
	JWTSecret string

	// Logging
	Debug bool

	Trading Trading
}

// Trading holds the risk and signal parameters, loaded from trading.yaml.
type Trading struct {
	Symbols            []string `yaml:"symbols"`
	CandleInterval     string   `yaml:"candle_interval"`
	CycleSeconds       int      `yaml:"cycle_seconds"`
	MaxCapitalPerTrade float64  `yaml:"max_capital_per_trade"`
	MinCapital         float64  `yaml:"min_capital"`
	MaxLeverage        int      `yaml:"max_leverage"`
	RiskPerTrade       float64  `yaml:"risk_per_trade"`
	MinRiskReward      float64  `yaml:"min_risk_reward"`
	MaxOpenPositions   int      `yaml:"max_open_positions"`
	MinEVScore         float64  `yaml:"min_ev_score"`
	MinKellyScore      float64  `yaml:"min_kelly_score"`
	SlippagePct        float64  `yaml:"slippage_pct"`
	TPMultiplier       float64  `yaml:"tp_multiplier"`
	SLMultiplier       float64  `yaml:"sl_multiplier"`

	// Per-venue taker fee rates (decimal, e.g. 0.0006 = 6 bps).
	TakerFees map[string]float64 `yaml:"taker_fees"`
}

// TakerFee returns the taker fee rate for a venue, defaulting to 6 bps.
func (t Trading) TakerFee(venue string) float64 {
	if fee, ok := t.TakerFees[venue]; ok {
		return fee
	}
	return 0.0006
}

// DefaultTrading returns conservative trading parameters used when no YAML
// file is present.
func DefaultTrading() Trading {
	return Trading{
		Symbols:            []string{"BTCUSDT", "ETHUSDT"},
		CandleInterval:     "15m",
		CycleSeconds:       60,
		MaxCapitalPerTrade: 100.0,
		MinCapital:         10.0,
		MaxLeverage:        10,
		RiskPerTrade:       0.02,
		MinRiskReward:      1.2,
		MaxOpenPositions:   3,
		MinEVScore:         0.1,
		MinKellyScore:      0.01,
		SlippagePct:        0.05,
		TPMultiplier:       2.0,
		SLMultiplier:       1.5,
		TakerFees: map[string]float64{
			"bybit": 0.00055,
			"mexc":  0.0006,
		},
	}
}

// Load reads environment variables (optionally via .env) and the trading
// YAML file into a Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DefaultExchange:  strings.ToLower(getEnv("DEFAULT_EXCHANGE", "bybit")),
		BybitAPIKey:      os.Getenv("BYBIT_API_KEY"),
		BybitAPISecret:   os.Getenv("BYBIT_API_SECRET"),
		BybitTestnet:     getEnv("BYBIT_TESTNET", "false") == "true",
		MexcAPIKey:       os.Getenv("MEXC_API_KEY"),
		MexcAPISecret:    os.Getenv("MEXC_API_SECRET"),
		DryRun:           getEnv("DRY_RUN", "false") == "true",
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		DBPath:           getEnv("DB_PATH", "./data/apex.db"),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		Debug:            getEnv("DEBUG", "false") == "true",
	}

	tradingPath := getEnv("TRADING_CONFIG", "trading.yaml")
	trading, err := LoadTrading(tradingPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.Trading = DefaultTrading()
			return cfg, nil
		}
		return nil, fmt.Errorf("load trading config: %w", err)
	}
	cfg.Trading = trading
	return cfg, nil
}

// LoadTrading reads trading parameters from a YAML file, filling gaps with
// defaults.
func LoadTrading(path string) (Trading, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Trading{}, err
	}

	t := DefaultTrading()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Trading{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := validateTrading(t); err != nil {
		return Trading{}, err
	}
	return t, nil
}

func validateTrading(t Trading) error {
	if len(t.Symbols) == 0 {
		return fmt.Errorf("trading config: symbols must not be empty")
	}
	if t.MaxCapitalPerTrade <= 0 {
		return fmt.Errorf("trading config: max_capital_per_trade must be positive")
	}
	if t.MaxLeverage < 1 {
		return fmt.Errorf("trading config: max_leverage must be at least 1")
	}
	if t.RiskPerTrade <= 0 || t.RiskPerTrade >= 1 {
		return fmt.Errorf("trading config: risk_per_trade must be in (0,1)")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
