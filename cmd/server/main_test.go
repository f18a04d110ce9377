package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rabby-mobile/provider-core/internal/chains"
	"github.com/rabby-mobile/provider-core/internal/config"
	"github.com/rabby-mobile/provider-core/internal/keyring"
	"github.com/rabby-mobile/provider-core/internal/storage"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestChainsCmd(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		out, err := runCmd(t, "chains")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Greater(t, len(lines), 1)
		assert.True(t, strings.HasPrefix(lines[0], "ENUM"))
		assert.Contains(t, lines[1], "ETH")
		assert.Contains(t, lines[1], "push")
		assert.Contains(t, out, "matic")
	})

	t.Run("overlay file as json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "chains.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[[chains]]
enum = "gnosis"
id = 100
server_id = "xdai"
name = "Gnosis"
rpc_urls = ["https://rpc.gnosischain.com"]
`), 0o600))

		out, err := runCmd(t, "chains", "--json", "--chains-file", path)
		require.NoError(t, err)
		var list []chains.Chain
		require.NoError(t, json.Unmarshal([]byte(out), &list))
		var found bool
		for _, c := range list {
			if c.Enum == "GNOSIS" {
				found = true
				assert.Equal(t, int64(100), c.ID)
			}
		}
		assert.True(t, found)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := runCmd(t, "chains", "--chains-file", filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})
}

func TestSeedCurrentAccount(t *testing.T) {
	ctx := context.Background()
	kr, err := keyring.NewLocal("pw", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	require.NoError(t, seedCurrentAccount(ctx, kr, store))
	current, err := store.GetCurrentAccount(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	accounts, err := kr.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, accounts[0].Address, current.Address)

	// an existing choice is kept
	other := &types.Account{Address: "0xbbb0000000000000000000000000000000000002", Type: "Watch Address"}
	require.NoError(t, store.SetCurrentAccount(ctx, other))
	require.NoError(t, seedCurrentAccount(ctx, kr, store))
	current, err = store.GetCurrentAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, other.Address, current.Address)
}

func TestUIAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name    string
		cfg     config.Config
		wantNil bool
		wantErr bool
	}{
		{name: "none configured", wantNil: true},
		{name: "hash", cfg: config.Config{UISecretHash: string(hash)}},
		{name: "bad hash", cfg: config.Config{UISecretHash: "plain"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, err := uiAuth(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNil, auth == nil)
		})
	}
}
