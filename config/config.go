package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"leverbot/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Universe
	Symbols           []string          // Tradable symbols, order is scan preference
	CorrelationGroups map[string]string // symbol -> correlation group name
	QuoteAsset        string

	// Loop Timing
	KlineInterval   string
	KlineLimit      int
	MonitorInterval time.Duration
	ScanInterval    time.Duration
	ScanStartDelay  time.Duration

	// Entry Gating
	MinConfidence    float64
	MaxOpenPositions int
	OutcomeWindow    int
	OutcomeSeedLimit int // Outcomes loaded from the DB at startup

	// Risk Bounds
	RiskPerTrade          float64
	MaxNotional           float64
	BaseLeverage          float64
	MinLeverage           float64
	MaxLeverage           float64
	MinStopDist           float64
	MaxStopDist           float64
	StopVolMult           float64
	KellyFloor            float64
	KellyCeiling          float64
	KellyMinTrades        int
	MaxGroupPositions     int
	MaxGroupNotionalShare float64
	DailyLossLimit        float64

	// Lifecycle Coefficients
	FeeRate         float64   // Round-trip fee estimate as a fraction of notional
	TrailBasePct    float64   // Base trailing stop distance
	TrailMinPct     float64   // Trailing distance clamp floor
	TrailMaxPct     float64   // Trailing distance clamp ceiling
	TrailRefVol     float64   // Volatility considered normal for the trail multiplier
	BreakevenBuffer float64   // Net profit above fees required before breakeven migration
	TPProgressLock  float64   // Progress fraction after which the target may only come closer
	TPExtendFactor  float64   // Target distance growth factor for pre-lock extensions
	ProtectionTiers []float64 // Net leveraged ROI tiers, ascending; empty disables
	DrawdownPeakROI float64   // Peak net leveraged ROI that arms the drawdown exit
	DrawdownRetrace float64   // Retracement fraction from peak that fires it

	// Gateway Resilience
	CallTimeout      time.Duration
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryMaxAttempts int
	RetryCooldown    time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	RatePerMinute    int

	// Signal Parameters
	SignalShortMAPeriod int
	SignalLongMAPeriod  int

	// Shutdown
	ForceCloseOnShutdown bool
	ShutdownTimeout      time.Duration

	// Database
	DBPath string

	// Observability
	LogLevel    zerolog.Level
	MetricsAddr string // Empty disables the /metrics endpoint
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Universe
	cfg.Symbols = splitList(getEnv("SYMBOLS", "ETHUSDT,BTCUSDT"))
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}
	cfg.CorrelationGroups, err = parseGroups(getEnv("CORRELATION_GROUPS", ""))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid CORRELATION_GROUPS: %v", err))
	}
	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "USDT")

	// Loop Timing
	cfg.KlineInterval = getEnv("KLINE_INTERVAL", "1m")
	cfg.KlineLimit = getEnvAsInt("KLINE_LIMIT", 60)
	cfg.MonitorInterval = getEnvAsDuration("MONITOR_INTERVAL", 5*time.Second, &errs)
	cfg.ScanInterval = getEnvAsDuration("SCAN_INTERVAL", 30*time.Second, &errs)
	cfg.ScanStartDelay = getEnvAsDuration("SCAN_START_DELAY", 10*time.Second, &errs)

	// Entry Gating
	cfg.MinConfidence = getEnvAsFloat("MIN_CONFIDENCE", 0.3)
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		errs = append(errs, "MIN_CONFIDENCE must be between 0.0 and 1.0")
	}
	cfg.MaxOpenPositions = getEnvAsInt("MAX_OPEN_POSITIONS", 5)
	if cfg.MaxOpenPositions <= 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS must be positive")
	}
	cfg.OutcomeWindow = getEnvAsInt("OUTCOME_WINDOW", 50)
	cfg.OutcomeSeedLimit = getEnvAsInt("OUTCOME_SEED_LIMIT", 200)

	// Risk Bounds
	cfg.RiskPerTrade = getEnvAsFloat("RISK_PER_TRADE", 0.01)
	if cfg.RiskPerTrade <= 0 || cfg.RiskPerTrade >= 1 {
		errs = append(errs, "RISK_PER_TRADE must be between 0.0 and 1.0 (exclusive)")
	}
	cfg.MaxNotional = getEnvAsFloat("MAX_NOTIONAL", 50000)
	cfg.BaseLeverage = getEnvAsFloat("BASE_LEVERAGE", 10)
	cfg.MinLeverage = getEnvAsFloat("MIN_LEVERAGE", 3)
	cfg.MaxLeverage = getEnvAsFloat("MAX_LEVERAGE", 20)
	if cfg.MinLeverage <= 0 || cfg.MinLeverage > cfg.MaxLeverage {
		errs = append(errs, "MIN_LEVERAGE must be positive and not above MAX_LEVERAGE")
	}
	if cfg.BaseLeverage < cfg.MinLeverage || cfg.BaseLeverage > cfg.MaxLeverage {
		errs = append(errs, "BASE_LEVERAGE must lie within [MIN_LEVERAGE, MAX_LEVERAGE]")
	}
	cfg.MinStopDist = getEnvAsFloat("MIN_STOP_DIST", 0.015)
	cfg.MaxStopDist = getEnvAsFloat("MAX_STOP_DIST", 0.08)
	if cfg.MinStopDist <= 0 || cfg.MinStopDist >= cfg.MaxStopDist {
		errs = append(errs, "MIN_STOP_DIST must be positive and below MAX_STOP_DIST")
	}
	cfg.StopVolMult = getEnvAsFloat("STOP_VOL_MULT", 1.5)
	cfg.KellyFloor = getEnvAsFloat("KELLY_FLOOR", 0.005)
	cfg.KellyCeiling = getEnvAsFloat("KELLY_CEILING", 0.035)
	if cfg.KellyFloor <= 0 || cfg.KellyFloor >= cfg.KellyCeiling {
		errs = append(errs, "KELLY_FLOOR must be positive and below KELLY_CEILING")
	}
	cfg.KellyMinTrades = getEnvAsInt("KELLY_MIN_TRADES", 10)
	cfg.MaxGroupPositions = getEnvAsInt("MAX_GROUP_POSITIONS", 2)
	cfg.MaxGroupNotionalShare = getEnvAsFloat("MAX_GROUP_NOTIONAL_SHARE", 0.40)
	cfg.DailyLossLimit = getEnvAsFloat("DAILY_LOSS_LIMIT", 0.10)
	if cfg.DailyLossLimit <= 0 || cfg.DailyLossLimit >= 1 {
		errs = append(errs, "DAILY_LOSS_LIMIT must be between 0.0 and 1.0 (exclusive)")
	}

	// Lifecycle Coefficients
	cfg.FeeRate = getEnvAsFloat("FEE_RATE", 0.0008)
	if cfg.FeeRate < 0 || cfg.FeeRate >= 1 {
		errs = append(errs, "FEE_RATE must be between 0.0 and 1.0")
	}
	cfg.TrailBasePct = getEnvAsFloat("TRAIL_BASE_PCT", 0.01)
	cfg.TrailMinPct = getEnvAsFloat("TRAIL_MIN_PCT", 0.004)
	cfg.TrailMaxPct = getEnvAsFloat("TRAIL_MAX_PCT", 0.05)
	if cfg.TrailMinPct <= 0 || cfg.TrailMinPct >= cfg.TrailMaxPct {
		errs = append(errs, "TRAIL_MIN_PCT must be positive and below TRAIL_MAX_PCT")
	}
	if cfg.TrailBasePct < cfg.TrailMinPct || cfg.TrailBasePct > cfg.TrailMaxPct {
		errs = append(errs, "TRAIL_BASE_PCT must lie within [TRAIL_MIN_PCT, TRAIL_MAX_PCT]")
	}
	cfg.TrailRefVol = getEnvAsFloat("TRAIL_REF_VOL", 0.02)
	cfg.BreakevenBuffer = getEnvAsFloat("BREAKEVEN_BUFFER", 0.002)
	cfg.TPProgressLock = getEnvAsFloat("TP_PROGRESS_LOCK", 0.60)
	if cfg.TPProgressLock <= 0 || cfg.TPProgressLock > 1 {
		errs = append(errs, "TP_PROGRESS_LOCK must be between 0.0 (exclusive) and 1.0")
	}
	cfg.TPExtendFactor = getEnvAsFloat("TP_EXTEND_FACTOR", 1.25)
	if tiersRaw := getEnv("PROTECTION_TIERS", "0.15,0.20,0.25"); strings.EqualFold(tiersRaw, "none") {
		cfg.ProtectionTiers = nil
	} else {
		cfg.ProtectionTiers, err = parseFloatList(tiersRaw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid PROTECTION_TIERS: %v", err))
		}
		for i, tier := range cfg.ProtectionTiers {
			if tier <= 0 || (i > 0 && tier <= cfg.ProtectionTiers[i-1]) {
				errs = append(errs, "PROTECTION_TIERS must be positive and strictly ascending")
				break
			}
		}
	}
	cfg.DrawdownPeakROI = getEnvAsFloat("DRAWDOWN_PEAK_ROI", 0.10)
	cfg.DrawdownRetrace = getEnvAsFloat("DRAWDOWN_RETRACE", 0.30)

	// Gateway Resilience
	cfg.CallTimeout = getEnvAsDuration("CALL_TIMEOUT", 10*time.Second, &errs)
	cfg.RetryBaseDelay = getEnvAsDuration("RETRY_BASE_DELAY", 3*time.Second, &errs)
	cfg.RetryMaxDelay = getEnvAsDuration("RETRY_MAX_DELAY", 60*time.Second, &errs)
	cfg.RetryMaxAttempts = getEnvAsInt("RETRY_MAX_ATTEMPTS", 4)
	if cfg.RetryMaxAttempts <= 0 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be positive")
	}
	cfg.RetryCooldown = getEnvAsDuration("RETRY_COOLDOWN", 30*time.Second, &errs)
	cfg.BreakerThreshold = getEnvAsInt("BREAKER_THRESHOLD", 5)
	cfg.BreakerCooldown = getEnvAsDuration("BREAKER_COOLDOWN", 90*time.Second, &errs)
	cfg.RatePerMinute = getEnvAsInt("RATE_PER_MINUTE", 1200)

	// Signal Parameters
	cfg.SignalShortMAPeriod = getEnvAsInt("SIGNAL_SHORT_MA_PERIOD", 7)
	cfg.SignalLongMAPeriod = getEnvAsInt("SIGNAL_LONG_MA_PERIOD", 25)
	if cfg.SignalShortMAPeriod <= 0 || cfg.SignalShortMAPeriod >= cfg.SignalLongMAPeriod {
		errs = append(errs, "SIGNAL_SHORT_MA_PERIOD must be positive and below SIGNAL_LONG_MA_PERIOD")
	}

	// Shutdown
	cfg.ForceCloseOnShutdown = getEnvAsBool("FORCE_CLOSE_ON_SHUTDOWN", false)
	cfg.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second, &errs)

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/leverbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Observability
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseFloatList parses a comma-separated list of floats.
func parseFloatList(s string) ([]float64, error) {
	var out []float64
	for _, part := range splitList(s) {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q is not a number", part)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseGroups parses "SYMBOL:group,SYMBOL:group" into a map.
func parseGroups(s string) (map[string]string, error) {
	groups := make(map[string]string)
	for _, part := range splitList(s) {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("entry %q is not SYMBOL:group", part)
		}
		groups[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return groups, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration, errs *[]string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("invalid duration %q for key %s", valueStr, key))
		return defaultValue
	}
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be positive", key))
		return defaultValue
	}
	return value
}
