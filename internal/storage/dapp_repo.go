package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rabby-mobile/provider-core/pkg/types"
)

// DappRepository stores dapp sessions in PostgreSQL
type DappRepository struct {
	store *Store
}

var _ DappStore = (*DappRepository)(nil)

// NewDappRepository creates a new dapp session repository
func NewDappRepository(store *Store) *DappRepository {
	return &DappRepository{store: store}
}

const dappColumns = `origin, name, icon, chain_enum, is_connected, current_account, is_signed, is_favorite, connected_at`

func scanDapp(row pgx.Row) (*types.DappSession, error) {
	var (
		d       types.DappSession
		account []byte
	)
	if err := row.Scan(
		&d.Origin,
		&d.Name,
		&d.Icon,
		&d.ChainEnum,
		&d.IsConnected,
		&account,
		&d.IsSigned,
		&d.IsFavorite,
		&d.ConnectedAt,
	); err != nil {
		return nil, err
	}
	acc, err := decodeAccount(account)
	if err != nil {
		return nil, err
	}
	d.CurrentAccount = acc
	return &d, nil
}

// encodeAccount maps a nil account to SQL NULL
func encodeAccount(acc *types.Account) ([]byte, error) {
	if acc == nil {
		return nil, nil
	}
	b, err := json.Marshal(acc)
	if err != nil {
		return nil, fmt.Errorf("encode current_account: %w", err)
	}
	return b, nil
}

func decodeAccount(raw []byte) (*types.Account, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var acc types.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("decode current_account: %w", err)
	}
	return &acc, nil
}

// GetDapp retrieves a session by origin
func (r *DappRepository) GetDapp(ctx context.Context, origin string) (*types.DappSession, error) {
	query := `SELECT ` + dappColumns + ` FROM dapp_sessions WHERE origin = $1`

	d, err := scanDapp(r.store.pool.QueryRow(ctx, query, origin))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dapp session: %w", err)
	}
	return d, nil
}

// SaveDapp upserts a session
func (r *DappRepository) SaveDapp(ctx context.Context, dapp *types.DappSession) error {
	if dapp == nil || dapp.Origin == "" {
		return fmt.Errorf("dapp origin is required")
	}

	connectedAt := dapp.ConnectedAt
	if connectedAt.IsZero() {
		connectedAt = time.Now()
	}

	account, err := encodeAccount(dapp.CurrentAccount)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO dapp_sessions (
			origin, name, icon, chain_enum, is_connected, current_account,
			is_signed, is_favorite, connected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (origin) DO UPDATE SET
			name = EXCLUDED.name,
			icon = EXCLUDED.icon,
			chain_enum = EXCLUDED.chain_enum,
			is_connected = EXCLUDED.is_connected,
			current_account = EXCLUDED.current_account,
			is_signed = EXCLUDED.is_signed,
			is_favorite = EXCLUDED.is_favorite,
			updated_at = NOW()
	`

	_, err = r.store.pool.Exec(ctx, query,
		dapp.Origin,
		dapp.Name,
		dapp.Icon,
		dapp.ChainEnum,
		dapp.IsConnected,
		account,
		dapp.IsSigned,
		dapp.IsFavorite,
		connectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save dapp session: %w", err)
	}
	return nil
}

// RemoveDapp deletes a session
func (r *DappRepository) RemoveDapp(ctx context.Context, origin string) error {
	if _, err := r.store.pool.Exec(ctx, `DELETE FROM dapp_sessions WHERE origin = $1`, origin); err != nil {
		return fmt.Errorf("failed to remove dapp session: %w", err)
	}
	return nil
}

// ListDapps returns all sessions ordered by origin
func (r *DappRepository) ListDapps(ctx context.Context) ([]types.DappSession, error) {
	rows, err := r.store.pool.Query(ctx, `SELECT `+dappColumns+` FROM dapp_sessions ORDER BY origin`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dapp sessions: %w", err)
	}
	defer rows.Close()

	var out []types.DappSession
	for rows.Next() {
		d, err := scanDapp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dapp session: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
