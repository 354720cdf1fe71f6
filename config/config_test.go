package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mint")
	t.Setenv("MINT_SERVICE_TOKEN", "secret")
	t.Setenv("MINT_CONTRACT_ADDRESS", "0x1111111111111111111111111111111111111111")
	t.Setenv("MINT_SIGNERS", "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA, 0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "5200", cfg.Port)
	assert.Equal(t, 2, cfg.SignerThreshold)
	assert.Equal(t, 24*time.Hour, cfg.PayloadTTL)
	assert.Equal(t, 720*time.Hour, cfg.DeviceWindow)
	assert.Equal(t, uint8(18), cfg.TokenDecimals)
	assert.Equal(t, []string{
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
	}, cfg.SignerAddresses())
	assert.False(t, cfg.R2Enabled())
}

func TestLoad_ThresholdAboveSignerCount(t *testing.T) {
	setRequired(t)
	t.Setenv("MINT_SIGNER_THRESHOLD", "3")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestOrigins_Trimmed(t *testing.T) {
	c := &Config{AllowedOrigins: "https://a.example, https://b.example "}
	assert.Equal(t, "https://a.example,https://b.example", c.Origins())
}
