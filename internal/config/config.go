package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// minSecretLen is the shortest SESSION_SECRET accepted at startup.
const minSecretLen = 32

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	BaseURL        string // prefix for public audit links, the audit hash is appended
	AllowedOrigins []string // CORS allowed origins
	TrustedProxies []string // IPs or CIDRs whose X-Forwarded-For / X-Real-Ip are honored
	RequestTimeout time.Duration

	SessionSecret          string
	OTPTTL                 time.Duration
	TokenTTL               time.Duration
	MaxSignatureImageBytes int

	StoreBackend string // "dynamo" | "postgres" | "memory"
	DatabaseURL  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string
	SNSRegion      string
	SNSTopicARN    string // optional, empty disables signature events

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	RateLimitBackend string // "dynamo" | "local" | "off"
	RateLimits       RateLimits

	ReceiptRetrySchedule string
	SeedPetitionSlug     string
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Petitions   string
	Signatures  string
	OTPRequests string
	RateLimits  string
}

// Limit is a count allowed within a sliding window.
type Limit struct {
	Max    int
	Window time.Duration
}

// RateLimits holds the named limits applied by the OTP and signature flows.
type RateLimits struct {
	OTPPerEmail       Limit
	OTPPerIP          Limit
	OTPVerifyPerEmail Limit
	SignPerEmail      Limit
	SignPerIP         Limit
}

// Load reads all configuration from environment variables. It returns an
// error when a required secret is missing so the process refuses to start.
func Load() (*Config, error) {
	cfg := &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		BaseURL:        getEnv("BASE_URL", "http://localhost:3000/verify?audit="),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),

		SessionSecret:          os.Getenv("SESSION_SECRET"),
		OTPTTL:                 getEnvDuration("OTP_TTL", 10*time.Minute),
		TokenTTL:               getEnvDuration("TOKEN_TTL", 30*time.Minute),
		MaxSignatureImageBytes: getEnvInt("MAX_SIGNATURE_IMAGE_BYTES", 256*1024),

		StoreBackend: getEnv("STORE_BACKEND", "dynamo"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Petitions:   getEnv("DYNAMO_TABLE_PETITIONS", "petitions"),
			Signatures:  getEnv("DYNAMO_TABLE_SIGNATURES", "signatures"),
			OTPRequests: getEnv("DYNAMO_TABLE_OTP_REQUESTS", "otp_requests"),
			RateLimits:  getEnv("DYNAMO_TABLE_RATE_LIMITS", "rate_limits"),
		},
		S3BucketName: getEnv("S3_BUCKET_NAME", "petition-receipts"),
		SNSRegion:    getEnv("SNS_REGION", "us-east-1"),
		SNSTopicARN:  getEnv("SNS_TOPIC_ARN", ""),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", "dynamo"),
		RateLimits: RateLimits{
			OTPPerEmail:       getEnvLimit("RATE_LIMIT_OTP_EMAIL", Limit{Max: 5, Window: 15 * time.Minute}),
			OTPPerIP:          getEnvLimit("RATE_LIMIT_OTP_IP", Limit{Max: 20, Window: 15 * time.Minute}),
			OTPVerifyPerEmail: getEnvLimit("RATE_LIMIT_OTP_VERIFY_EMAIL", Limit{Max: 10, Window: 15 * time.Minute}),
			SignPerEmail:      getEnvLimit("RATE_LIMIT_SIGN_EMAIL", Limit{Max: 3, Window: time.Hour}),
			SignPerIP:         getEnvLimit("RATE_LIMIT_SIGN_IP", Limit{Max: 10, Window: time.Hour}),
		},

		ReceiptRetrySchedule: getEnv("RECEIPT_RETRY_SCHEDULE", "*/10 * * * *"),
		SeedPetitionSlug:     getEnv("SEED_PETITION_SLUG", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SessionSecret == "" {
		return errors.New("SESSION_SECRET is required")
	}
	if len(c.SessionSecret) < minSecretLen {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSecretLen)
	}
	switch c.StoreBackend {
	case "dynamo", "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.RateLimitBackend {
	case "dynamo", "local", "off":
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}
	if c.OTPTTL <= 0 || c.TokenTTL <= 0 {
		return errors.New("OTP_TTL and TOKEN_TTL must be positive")
	}
	for _, p := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("invalid TRUSTED_PROXIES entry %q", p)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvLimit parses "<max>/<window>", e.g. "5/15m".
func getEnvLimit(key string, fallback Limit) Limit {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	maxStr, windowStr, ok := strings.Cut(v, "/")
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(maxStr)
	if err != nil || n <= 0 {
		return fallback
	}
	d, err := time.ParseDuration(windowStr)
	if err != nil || d <= 0 {
		return fallback
	}
	return Limit{Max: n, Window: d}
}
