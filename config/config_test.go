package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tally/crypto"
)

func testAddress(b byte) string {
	var addr crypto.Address
	addr[0] = b
	addr[19] = b
	return addr.String()
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "leveldb", cfg.Storage.Backend)
	require.Equal(t, ":8080", cfg.RPC.ListenAddress)
	require.Equal(t, uint64(2), cfg.Program.LowAllowancePeriods)

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Storage, reloaded.Storage)
	require.Equal(t, cfg.RPC, reloaded.RPC)
	require.Equal(t, cfg.Keeper, reloaded.Keeper)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.toml")
	body := `
DataDir = "/var/lib/tally"

[Storage]
Backend = "bolt"

[Program]
Admin = "` + testAddress(0xa0) + `"
DepositPerByte = 3

[Keeper]
Enabled = true
Address = "` + testAddress(0xd0) + `"
Account = "` + testAddress(0xd1) + `"
Concurrency = 2
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "bolt", cfg.Storage.Backend)
	require.Equal(t, filepath.Join("/var/lib/tally", "state"), cfg.Storage.Path)
	require.Equal(t, uint64(3), cfg.Program.DepositPerByte)
	require.Equal(t, 2, cfg.Keeper.Concurrency)
	require.Equal(t, 60, cfg.Keeper.IntervalSecs)

	admin, err := cfg.AdminAddress()
	require.NoError(t, err)
	require.Equal(t, byte(0xa0), admin[0])

	signer, account, err := cfg.KeeperAddresses()
	require.NoError(t, err)
	require.Equal(t, byte(0xd0), signer[0])
	require.Equal(t, byte(0xd1), account[0])
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.yaml")
	body := `
storage:
  backend: memory
rpc:
  listenAddress: 127.0.0.1:9090
  jwtSecret: hunter2
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Empty(t, cfg.Storage.Path)
	require.Equal(t, "127.0.0.1:9090", cfg.RPC.ListenAddress)
	require.Equal(t, "hunter2", cfg.JWTSecret())
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.toml")
	require.NoError(t, os.WriteFile(path, []byte("Bogus = 1\n"), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "unknown key")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv(EnvOverride, "staging")
	path := filepath.Join(t.TempDir(), "tally.toml")
	require.NoError(t, persist(path, Default()))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.Log.Env)
}

func TestJWTSecretFromEnv(t *testing.T) {
	t.Setenv("TALLY_TEST_JWT", "from-env")
	cfg := Default()
	cfg.RPC.JWTSecret = "from-file"
	cfg.RPC.JWTSecretEnv = "TALLY_TEST_JWT"
	require.Equal(t, "from-env", cfg.JWTSecret())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend": func(c *Config) { c.Storage.Backend = "rocks" },
		"missing path":    func(c *Config) { c.Storage.Path = " " },
		"bad admin":       func(c *Config) { c.Program.Admin = "not-an-address" },
		"keeper address":  func(c *Config) { c.Keeper.Enabled = true },
		"sample ratio":    func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
		"negative burst":  func(c *Config) { c.RPC.RateLimitBurst = -1 },
		"webhook secret":  func(c *Config) { c.Webhook.Endpoint = "https://hooks.example.com" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
	require.NoError(t, Default().Validate())
}
