// config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config is everything the service reads from the environment.
type Config struct {
	Port           string `env:"PORT,default=5200"`
	DatabaseURL    string `env:"DATABASE_URL,required"`
	ServiceToken   string `env:"MINT_SERVICE_TOKEN,required"` // gateway -> this service
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`

	// Upstream collaborators
	SyncServiceURL   string        `env:"SYNC_SERVICE_URL"`
	WalletServiceURL string        `env:"WALLET_SERVICE_URL"`
	AuthServiceURL   string        `env:"AUTH_SERVICE_URL"`
	ScoringURL       string        `env:"SCORING_SERVICE_URL"`
	ScoringTimeout   time.Duration `env:"SCORING_TIMEOUT,default=5s"`
	UpstreamToken    string        `env:"UPSTREAM_SERVICE_TOKEN"` // this service -> collaborators
	SyncEvery        time.Duration `env:"SYNC_POLL_INTERVAL,default=10s"`

	// Chain + relay
	ChainID          int64         `env:"CHAIN_ID,default=97"`
	ContractAddress  string        `env:"MINT_CONTRACT_ADDRESS,required"`
	DomainName       string        `env:"MINT_DOMAIN_NAME,default=LightToken"`
	DomainVersion    string        `env:"MINT_DOMAIN_VERSION,default=1"`
	TokenDecimals    uint8         `env:"TOKEN_DECIMALS,default=18"`
	RelayURL         string        `env:"RELAY_URL"`
	RelayToken       string        `env:"RELAY_TOKEN"`
	RPCURL           string        `env:"RPC_URL"`
	ChainTimeout     time.Duration `env:"CHAIN_TIMEOUT,default=15s"`
	RelayRatePerSec  float64       `env:"RELAY_RATE_PER_SEC,default=5"`
	ReceiptPollEvery time.Duration `env:"RECEIPT_POLL_INTERVAL,default=15s"`

	// Signers are comma separated addresses; Threshold of them must sign.
	Signers         string        `env:"MINT_SIGNERS,required"`
	SignerThreshold int           `env:"MINT_SIGNER_THRESHOLD,default=2"`
	PayloadTTL      time.Duration `env:"MINT_PAYLOAD_TTL,default=24h"`

	// Emission
	DefaultEpochCap int64         `env:"EPOCH_DEFAULT_CAP,default=1000000"`
	DeviceWindow    time.Duration `env:"FRAUD_DEVICE_WINDOW,default=720h"`

	// Optional fan-out
	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_MINT_CHANNEL,default=mint-events"`

	// Optional ban report archive (Cloudflare R2)
	R2AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	R2AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	R2AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	R2Bucket          string `env:"R2_BUCKET_NAME"`
	CDNBaseURL        string `env:"CDN_BASE_URL"`
}

// Load reads .env (if present) and decodes the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	signers := c.SignerAddresses()
	if len(signers) == 0 {
		return errors.New("MINT_SIGNERS must list at least one address")
	}
	if c.SignerThreshold < 1 || c.SignerThreshold > len(signers) {
		return fmt.Errorf("MINT_SIGNER_THRESHOLD must be between 1 and %d", len(signers))
	}
	if c.DefaultEpochCap < 0 {
		return errors.New("EPOCH_DEFAULT_CAP must not be negative")
	}
	return nil
}

// SignerAddresses returns the configured signer set, lower-cased.
func (c *Config) SignerAddresses() []string {
	var out []string
	for _, s := range strings.Split(c.Signers, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Origins splits ALLOWED_ORIGINS and trims each entry.
func (c *Config) Origins() string {
	list := strings.Split(c.AllowedOrigins, ",")
	for i, o := range list {
		list[i] = strings.TrimSpace(o)
	}
	return strings.Join(list, ",")
}

// R2Enabled reports whether the ban report archive is configured.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2Bucket != ""
}
