package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rabby-mobile/provider-core/pkg/types"
)

const (
	prefCurrentAccount = "currentAccount"
	prefGasCachePrefix = "gasCache:"
)

// PreferenceRepository stores user preferences in PostgreSQL
type PreferenceRepository struct {
	store *Store
}

var _ PreferenceStore = (*PreferenceRepository)(nil)

// NewPreferenceRepository creates a new preference repository
func NewPreferenceRepository(store *Store) *PreferenceRepository {
	return &PreferenceRepository{store: store}
}

func (r *PreferenceRepository) getValue(ctx context.Context, key string, dst any) (bool, error) {
	var raw []byte
	err := r.store.pool.QueryRow(ctx, `SELECT value FROM preferences WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get preference %s: %w", key, err)
	}
	if err := decodePreference(key, raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

func encodePreference(key string, value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode preference %s: %w", key, err)
	}
	return raw, nil
}

func decodePreference(key string, raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode preference %s: %w", key, err)
	}
	return nil
}

func (r *PreferenceRepository) setValue(ctx context.Context, key string, value any) error {
	raw, err := encodePreference(key, value)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO preferences (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := r.store.pool.Exec(ctx, query, key, raw); err != nil {
		return fmt.Errorf("failed to set preference %s: %w", key, err)
	}
	return nil
}

// GetCurrentAccount returns the global fallback account
func (r *PreferenceRepository) GetCurrentAccount(ctx context.Context) (*types.Account, error) {
	var acc types.Account
	found, err := r.getValue(ctx, prefCurrentAccount, &acc)
	if err != nil || !found {
		return nil, err
	}
	return &acc, nil
}

// SetCurrentAccount replaces the fallback account; nil clears it
func (r *PreferenceRepository) SetCurrentAccount(ctx context.Context, account *types.Account) error {
	if account == nil {
		_, err := r.store.pool.Exec(ctx, `DELETE FROM preferences WHERE key = $1`, prefCurrentAccount)
		if err != nil {
			return fmt.Errorf("failed to clear current account: %w", err)
		}
		return nil
	}
	return r.setValue(ctx, prefCurrentAccount, account)
}

func (r *PreferenceRepository) GetCustomRPC(ctx context.Context, chainEnum string) (string, error) {
	var url string
	err := r.store.pool.QueryRow(ctx, `SELECT url FROM custom_rpcs WHERE chain_enum = $1`, strings.ToUpper(chainEnum)).Scan(&url)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get custom rpc: %w", err)
	}
	return url, nil
}

func (r *PreferenceRepository) SetCustomRPC(ctx context.Context, chainEnum, url string) error {
	chainEnum = strings.ToUpper(chainEnum)
	var err error
	if url == "" {
		_, err = r.store.pool.Exec(ctx, `DELETE FROM custom_rpcs WHERE chain_enum = $1`, chainEnum)
	} else {
		_, err = r.store.pool.Exec(ctx, `
			INSERT INTO custom_rpcs (chain_enum, url) VALUES ($1, $2)
			ON CONFLICT (chain_enum) DO UPDATE SET url = EXCLUDED.url, updated_at = NOW()
		`, chainEnum, url)
	}
	if err != nil {
		return fmt.Errorf("failed to set custom rpc: %w", err)
	}
	return nil
}

func (r *PreferenceRepository) GetGasCache(ctx context.Context, chainID int64) (*GasCache, error) {
	var g GasCache
	found, err := r.getValue(ctx, prefGasCachePrefix+strconv.FormatInt(chainID, 10), &g)
	if err != nil || !found {
		return nil, err
	}
	return &g, nil
}

func (r *PreferenceRepository) SetGasCache(ctx context.Context, cache *GasCache) error {
	if cache == nil {
		return nil
	}
	g := *cache
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = time.Now()
	}
	return r.setValue(ctx, prefGasCachePrefix+strconv.FormatInt(g.ChainID, 10), g)
}

// AddCustomToken upserts a watched asset
func (r *PreferenceRepository) AddCustomToken(ctx context.Context, token *types.TokenRecord) error {
	if token == nil {
		return fmt.Errorf("token is required")
	}
	query := `
		INSERT INTO custom_tokens (chain_id, address, symbol, decimals, image)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chain_id, address) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals,
			image = EXCLUDED.image
	`
	_, err := r.store.pool.Exec(ctx, query,
		token.ChainID,
		strings.ToLower(token.Address),
		token.Symbol,
		token.Decimals,
		token.Image,
	)
	if err != nil {
		return fmt.Errorf("failed to add custom token: %w", err)
	}
	return nil
}

func (r *PreferenceRepository) ListCustomTokens(ctx context.Context) ([]types.TokenRecord, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT chain_id, address, symbol, decimals, image
		FROM custom_tokens ORDER BY chain_id, address
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom tokens: %w", err)
	}
	defer rows.Close()

	var out []types.TokenRecord
	for rows.Next() {
		var t types.TokenRecord
		if err := rows.Scan(&t.ChainID, &t.Address, &t.Symbol, &t.Decimals, &t.Image); err != nil {
			return nil, fmt.Errorf("failed to scan custom token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
