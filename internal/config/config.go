package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	AutoMigrate           bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	BusinessTimezone      string
	LogLevel              string
	LogFormat             string
	ScopedOutlets         []string

	Deposit  DepositConfig
	WhatsApp WhatsAppConfig
	Archive  ArchiveConfig
}

// DepositConfig controls best-effort deposit verification. ForceManual wins
// over every other flag.
type DepositConfig struct {
	ForceManual   bool
	VerifyURL     string
	VerifyToken   string
	VerifyTimeout time.Duration
}

func (d DepositConfig) VerificationEnabled() bool {
	return !d.ForceManual && d.VerifyURL != ""
}

type WhatsAppConfig struct {
	APIURL   string
	APIToken string
}

type ArchiveConfig struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

func Load() Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DATABASE_AUTO_MIGRATE", false)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 720)
	v.SetDefault("BUSINESS_TIMEZONE", "Africa/Nairobi")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("DEPOSIT_FORCE_MANUAL", true)
	v.SetDefault("DEPOSIT_VERIFY_TIMEOUT_SECONDS", 8)
	v.SetDefault("SNAPSHOT_S3_REGION", "auto")

	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 720
	}
	verifyTimeout := v.GetInt("DEPOSIT_VERIFY_TIMEOUT_SECONDS")
	if verifyTimeout < 1 {
		verifyTimeout = 8
	}

	return Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		AutoMigrate:           v.GetBool("DATABASE_AUTO_MIGRATE"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		BusinessTimezone:      v.GetString("BUSINESS_TIMEZONE"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             v.GetString("LOG_FORMAT"),
		ScopedOutlets:         splitList(v.GetString("SCOPED_OUTLETS")),
		Deposit: DepositConfig{
			ForceManual:   v.GetBool("DEPOSIT_FORCE_MANUAL"),
			VerifyURL:     strings.TrimSpace(v.GetString("DEPOSIT_VERIFY_URL")),
			VerifyToken:   strings.TrimSpace(v.GetString("DEPOSIT_VERIFY_TOKEN")),
			VerifyTimeout: time.Duration(verifyTimeout) * time.Second,
		},
		WhatsApp: WhatsAppConfig{
			APIURL:   strings.TrimSpace(v.GetString("WHATSAPP_API_URL")),
			APIToken: strings.TrimSpace(v.GetString("WHATSAPP_API_TOKEN")),
		},
		Archive: ArchiveConfig{
			Bucket:    strings.TrimSpace(v.GetString("SNAPSHOT_S3_BUCKET")),
			Endpoint:  strings.TrimSpace(v.GetString("SNAPSHOT_S3_ENDPOINT")),
			Region:    v.GetString("SNAPSHOT_S3_REGION"),
			AccessKey: strings.TrimSpace(v.GetString("SNAPSHOT_S3_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(v.GetString("SNAPSHOT_S3_SECRET_KEY")),
		},
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
