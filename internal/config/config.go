package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/saeid-a/TherapyCallBack/internal/billing"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port       string
	DBUrl      string
	JWTSecret  string
	AppEnv     string
	EnableDocs bool

	Billing           billing.Config
	FreeTrialMinutes  decimal.Decimal
	HeartbeatInterval time.Duration
	RequestPoolTTL    time.Duration
	MatchBroadcastMax int
	SettlementWeekday time.Weekday

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	SMSGatewayURL    string
	SMSGatewayAPIKey string
	SMSSender        string

	RazorpayKeyID     string
	RazorpayKeySecret string
	TopupVATPercent   decimal.Decimal

	TelegramBotToken string
	TelegramOpsChat  int64

	EventWorkers int
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	jwtSecret, exists := os.LookupEnv("JWT_SECRET")
	if !exists || jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	cfg := &Config{
		Port:       getEnv("PORT", "8080"),
		DBUrl:      getEnv("DB_URL", ""),
		JWTSecret:  jwtSecret,
		AppEnv:     normalizeEnv(getEnv("APP_ENV", "production")),
		EnableDocs: getEnvBool("ENABLE_API_DOCS", false),

		Billing: billing.Config{
			PerMinuteRate:            getEnvDecimal("PLATFORM_PER_MINUTE_RATE", decimal.NewFromInt(1)),
			MaxFreeSessions:          getEnvInt("MAX_FREE_SESSIONS", 1),
			DefaultCommissionPercent: getEnvDecimal("DEFAULT_COMMISSION_PERCENT", decimal.NewFromInt(50)),
			VATPercent:               getEnvDecimal("VAT_PERCENT", decimal.Zero),
			ReferralExtraPercent:     getEnvDecimal("REFERRAL_EXTRA_PERCENT", decimal.NewFromInt(5)),
			HoldUnitMinutes:          getEnvDecimal("HOLD_UNIT_MINUTES", decimal.NewFromInt(1)),
		},
		FreeTrialMinutes:  getEnvDecimal("FREE_TRIAL_MINUTES", decimal.NewFromInt(10)),
		HeartbeatInterval: time.Duration(getEnvInt("HEARTBEAT_INTERVAL_SECONDS", 60)) * time.Second,
		RequestPoolTTL:    time.Duration(getEnvInt("REQUEST_POOL_TTL_MINUTES", 15)) * time.Minute,
		MatchBroadcastMax: getEnvInt("MATCH_BROADCAST_LIMIT", 20),
		SettlementWeekday: time.Weekday(getEnvInt("SETTLEMENT_WEEKDAY", int(time.Monday)) % 7),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),

		SMSGatewayURL:    getEnv("SMS_GATEWAY_URL", ""),
		SMSGatewayAPIKey: getEnv("SMS_GATEWAY_API_KEY", ""),
		SMSSender:        getEnv("SMS_SENDER", ""),

		RazorpayKeyID:     getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret: getEnv("RAZORPAY_KEY_SECRET", ""),
		TopupVATPercent:   getEnvDecimal("TOPUP_VAT_PERCENT", decimal.Zero),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramOpsChat:  int64(getEnvInt("TELEGRAM_OPS_CHAT_ID", 0)),

		EventWorkers: getEnvInt("EVENT_WORKERS", 4),
	}

	if !cfg.Billing.PerMinuteRate.IsPositive() {
		return nil, fmt.Errorf("PLATFORM_PER_MINUTE_RATE must be positive")
	}
	if cfg.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("HEARTBEAT_INTERVAL_SECONDS must be positive")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		log.Printf("invalid %s=%q, using %s", key, value, fallback.String())
		return fallback
	}
	return parsed
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}

func (c *Config) DocsEnabled() bool {
	return c != nil && c.EnableDocs && c.AppEnv == "development"
}

// RunSchedulerEnabled lets secondary replicas skip the job loop.
func (c *Config) RunSchedulerEnabled() bool {
	return getEnvBool("RUN_SCHEDULER", true)
}
