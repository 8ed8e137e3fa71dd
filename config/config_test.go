package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/claims-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Blob.Backend)
	assert.Equal(t, "claims.events", cfg.AMQP.Exchange)
	assert.True(t, cfg.UseSimulator(), "no rpc url means the simulated ledger")
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Equal(t, time.Minute, cfg.Server.RegistryRefresh)
	assert.Equal(t, 2*time.Second, cfg.Ledger.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Redis.TTL)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	// GIVEN: a YAML file and an env override
	path := filepath.Join(t.TempDir(), "claims.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
ledger:
  rpc_url: http://localhost:8545
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  private_key: abc
  chain_id: 1337
log:
  level: debug
`), 0o600))
	t.Setenv("CLAIMS_SERVER_PORT", "9100")
	t.Setenv("CLAIMS_REDIS_ADDR", "localhost:6379")

	// WHEN
	cfg, err := config.Load(path)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "http://localhost:8545", cfg.Ledger.RPCURL)
	assert.Equal(t, int64(1337), cfg.Ledger.ChainID)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.UseSimulator())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("CLAIMS_BLOB_BACKEND", "s3")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "blob.backend")
}

func TestLoad_RPCNeedsContract(t *testing.T) {
	t.Setenv("CLAIMS_LEDGER_RPC_URL", "http://localhost:8545")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "contract_address")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
