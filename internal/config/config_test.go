package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionmarket/internal/config"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100*domain.USDC, cfg.Market.MaxPrice.Amount)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.RapidTradeWindow.Duration)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, `
mode = "full"

[market]
pricing = "tiered"
min_price = "2"
max_price = "250.5"

[pool]
min_duration = "2h"
creation_fee = "0.50"

[access]
admins = ["0x00000000000000000000000000000000000000ad"]

[s3]
enabled = true
`)
	t.Setenv("OPINIONMARKET_SERVER_PORT", "9100")
	t.Setenv("OPINIONMARKET_ACCESS_TREASURY", "0x00000000000000000000000000000000000000fe, ")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "tiered", cfg.Market.Pricing)
	assert.Equal(t, 2*domain.USDC, cfg.Market.MinPrice.Amount)
	assert.Equal(t, domain.Amount(250_500_000), cfg.Market.MaxPrice.Amount)
	assert.Equal(t, 2*time.Hour, cfg.Pool.MinDuration.Duration)
	assert.Equal(t, domain.Amount(500_000), cfg.Pool.CreationFee.Amount)
	assert.Equal(t, 9100, cfg.Server.Port)

	grants := cfg.Access.Grants()
	require.Len(t, grants, 2)
	assert.Equal(t, domain.RoleAdmin, grants[0].Role)
	assert.Equal(t, domain.RoleTreasury, grants[1].Role)
}

func TestLoad_BlockEpochEnv(t *testing.T) {
	t.Setenv("OPINIONMARKET_CHAIN_BLOCK_EPOCH", "2025-06-01T12:00:00Z")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), cfg.Chain.BlockEpoch.UTC())

	cfg.Chain.BlockEpoch = time.Time{}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block_epoch")
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := config.Load(writeFile(t, "[market]\nprcing = \"tiered\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market.prcing")
}

func TestLoad_BadAmount(t *testing.T) {
	_, err := config.Load(writeFile(t, "[market]\nmin_price = \"1.0000001\"\n"))
	require.Error(t, err)
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "trade"
	cfg.Market.Pricing = "linear"
	cfg.Storage.Backend = "postgres"
	cfg.Supabase.Host = ""
	cfg.Chain.RPCURL = "https://rpc.example"
	cfg.Keeper.Address = "nope"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown pricing "linear"`,
		"supabase: host",
		"wallet: either private_key",
		"keeper: address",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Server.APIKey = "secret"
	cfg.Chain.RPCURL = "https://rpc.example/key"

	red := config.RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "https://rpc.example/***", red.Chain.RPCURL)
	assert.Empty(t, red.Wallet.KeyPassword)
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)

	cfg.Chain.RPCURL = "wss://user:pw@rpc.example"
	assert.Equal(t, "wss://rpc.example/***", config.RedactedConfig(&cfg).Chain.RPCURL)
	cfg.Chain.RPCURL = "http://localhost:8545"
	assert.Equal(t, "http://localhost:8545", config.RedactedConfig(&cfg).Chain.RPCURL)

	red.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
