package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"tally/config"
	"tally/core/state"
	"tally/crypto"
	"tally/native/subscription"
	"tally/storage"
)

func testAddress(b byte) crypto.Address {
	var addr crypto.Address
	addr[0] = b
	addr[19] = b
	return addr
}

func TestOpenDatabase(t *testing.T) {
	dir := t.TempDir()

	mem, err := openDatabase(config.Storage{Backend: "memory"})
	require.NoError(t, err)
	require.IsType(t, &storage.MemDB{}, mem)
	require.NoError(t, mem.Close())

	bolt, err := openDatabase(config.Storage{Backend: "bolt", Path: filepath.Join(dir, "nested", "state.db")})
	require.NoError(t, err)
	require.NoError(t, bolt.Put([]byte("k"), []byte("v")))
	require.NoError(t, bolt.Close())

	level, err := openDatabase(config.Storage{Backend: "leveldb", Path: filepath.Join(dir, "level")})
	require.NoError(t, err)
	require.NoError(t, level.Close())

	_, err = openDatabase(config.Storage{Backend: "rocks"})
	require.ErrorContains(t, err, "unknown storage backend")
}

func TestNodeFansOutEvents(t *testing.T) {
	admin := testAddress(0xa0)
	cfg := config.Default()
	cfg.Program.Admin = admin.String()
	cfg.Program.DepositPerByte = 0
	cfg.EventStore.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())

	n, err := newNode(cfg, state.NewManager(storage.NewMemDB()), nil)
	require.NoError(t, err)
	defer n.close()
	require.NotNil(t, n.store)
	require.Nil(t, n.dispatcher)

	acct, err := n.engine.OpenFundingAccount(admin, "platform")
	require.NoError(t, err)
	_, err = n.engine.InitConfig(admin, subscription.ConfigParams{
		PlatformAuthority:   admin,
		PlatformDestination: acct,
		MaxPlatformFeeBps:   500,
		MinPeriodSecs:       subscription.MinPeriodFloor,
		MaxGraceSecs:        86_400,
	})
	require.NoError(t, err)

	require.Equal(t, uint64(1), n.log.Last())
	require.Eventually(t, func() bool {
		count, err := n.store.Count(context.Background())
		return err == nil && count == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngineIgnoresUnavailableArchive(t *testing.T) {
	admin := testAddress(0xa0)
	cfg := config.Default()
	cfg.Program.Admin = admin.String()
	cfg.Program.DepositPerByte = 0
	cfg.EventStore.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())

	n, err := newNode(cfg, state.NewManager(storage.NewMemDB()), nil)
	require.NoError(t, err)
	defer n.close()
	require.NoError(t, n.store.Close())

	acct, err := n.engine.OpenFundingAccount(admin, "platform")
	require.NoError(t, err)
	started := time.Now()
	_, err = n.engine.InitConfig(admin, subscription.ConfigParams{
		PlatformAuthority:   admin,
		PlatformDestination: acct,
		MaxPlatformFeeBps:   500,
		MinPeriodSecs:       subscription.MinPeriodFloor,
		MaxGraceSecs:        86_400,
	})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := n.engine.SetPaused(admin, i%2 == 0)
		require.NoError(t, err)
	}
	require.Less(t, time.Since(started), time.Second)
	require.Equal(t, uint64(5), n.log.Last())
}

func TestNewKeeperRequiresAddresses(t *testing.T) {
	cfg := config.Default()
	cfg.Keeper.Address = "not-an-address"
	n, err := newNode(cfg, state.NewManager(storage.NewMemDB()), nil)
	require.NoError(t, err)
	_, err = newKeeper(cfg, n.engine, nil)
	require.Error(t, err)
}

func TestRunToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.toml")
	secret := "token-test-secret-0123456789"
	body := "[RPC]\nJWTSecret = \"" + secret + "\"\nJWTIssuer = \"tally\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	subject := testAddress(0xc0)
	var out bytes.Buffer
	require.NoError(t, runToken([]string{"-config", path, "-subject", subject.String()}, &out))

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	require.Equal(t, subject.String(), claims.Subject)
	require.Equal(t, "tally", claims.Issuer)

	require.ErrorContains(t, runToken([]string{"-config", path}, &out), "-subject is required")
	require.Error(t, runToken([]string{"-config", path, "-subject", subject.String(), "-ttl", "0s"}, &out))
}

func TestRender(t *testing.T) {
	_, _, err := render("xml", nil)
	require.ErrorContains(t, err, "unknown format")

	body, sum, err := render("csv", nil)
	require.NoError(t, err)
	require.NotEmpty(t, body)
	require.Len(t, sum, 64)

	body, _, err = render("PARQUET", nil)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(body, []byte("PAR1")))
}
