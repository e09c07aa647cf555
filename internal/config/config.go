package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "ACP_"

type Config struct {
	Log      LogConfig      `koanf:"log"`
	HTTP     HTTPConfig     `koanf:"http"`
	Postgres PostgresConfig `koanf:"postgres"`
	Registry RegistryConfig `koanf:"registry"`
	Redis    RedisConfig    `koanf:"redis"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Buyer    BuyerConfig    `koanf:"buyer"`
	Seller   SellerConfig   `koanf:"seller"`
	Analysis AnalysisConfig `koanf:"analysis"`
	Share    ShareConfig    `koanf:"share"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

type RegistryConfig struct {
	Driver       string        `koanf:"driver"` // postgres, memory
	URL          string        `koanf:"url"`    // used by the agents
	ReapInterval time.Duration `koanf:"reap_interval"`
	ArchiveAfter time.Duration `koanf:"archive_after"`
	JobTTL       time.Duration `koanf:"job_ttl"`
}

// Redis is optional: empty addr disables the inbox and agents only poll.
type RedisConfig struct {
	Addr         string        `koanf:"addr"`
	InboxPrefix  string        `koanf:"inbox_prefix"`
	ClaimTimeout time.Duration `koanf:"claim_timeout"`
}

type LedgerConfig struct {
	Driver       string        `koanf:"driver"` // memory, redis
	ConfirmDelay time.Duration `koanf:"confirm_delay"`
}

type BuyerConfig struct {
	Wallet         string        `koanf:"wallet"`
	Keyword        string        `koanf:"keyword"`
	ConfirmTimeout time.Duration `koanf:"confirm_timeout"`
	PollInterval   time.Duration `koanf:"poll_interval"`
}

type SellerConfig struct {
	Wallet         string        `koanf:"wallet"`
	Offering       string        `koanf:"offering"`
	Description    string        `koanf:"description"`
	Price          int64         `koanf:"price"`
	PaymentTimeout time.Duration `koanf:"payment_timeout"`
	PollInterval   time.Duration `koanf:"poll_interval"`
}

type AnalysisConfig struct {
	URL            string        `koanf:"url"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

type ShareConfig struct {
	Endpoint    string `koanf:"endpoint"`
	AccessKey   string `koanf:"access_key"`
	SecretKey   string `koanf:"secret_key"`
	Bucket      string `koanf:"bucket"`
	UseSSL      bool   `koanf:"use_ssl"`
	ExpireHours int    `koanf:"expire_hours"`
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"http.addr": ":8080",

	"registry.driver":        "memory",
	"registry.url":           "http://localhost:8080",
	"registry.reap_interval": "10s",
	"registry.archive_after": "168h",
	"registry.job_ttl":       "24h",

	"redis.inbox_prefix":  "acp:inbox",
	"redis.claim_timeout": "1m",

	"ledger.driver":        "auto",
	"ledger.confirm_delay": "2s",

	"buyer.wallet":          "buyer-wallet",
	"buyer.keyword":         "twitter",
	"buyer.confirm_timeout": "2m",
	"buyer.poll_interval":   "2s",

	"seller.wallet":          "seller-wallet",
	"seller.offering":        "twitter_analysis",
	"seller.description":     "Twitter KOL analysis",
	"seller.price":           int64(10),
	"seller.payment_timeout": "10m",
	"seller.poll_interval":   "2s",

	"analysis.url":             "http://localhost:8000/analyze",
	"analysis.timeout":         "30s",
	"analysis.max_attempts":    3,
	"analysis.initial_backoff": "1s",
	"analysis.max_backoff":     "10s",

	"share.expire_hours": 168,
}

// Load reads defaults, then the optional YAML file at path, then ACP_*
// environment variables. ACP_SELLER_PAYMENT_TIMEOUT maps to
// seller.payment_timeout: only the first underscore separates section and key.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
}
