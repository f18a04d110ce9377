package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rabby-mobile/provider-core/pkg/types"
)

// TxHistoryRepository stores signing and pending transactions in PostgreSQL
type TxHistoryRepository struct {
	store *Store
}

var _ TxHistory = (*TxHistoryRepository)(nil)

// NewTxHistoryRepository creates a new tx history repository
func NewTxHistoryRepository(store *Store) *TxHistoryRepository {
	return &TxHistoryRepository{store: store}
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case json.RawMessage:
		if len(t) == 0 {
			return nil, nil
		}
		return t, nil
	case *types.TxParams:
		if t == nil {
			return nil, nil
		}
	case *SiteInfo:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func decodeTxParams(raw []byte) (*types.TxParams, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var p types.TxParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode raw_tx: %w", err)
	}
	return &p, nil
}

func decodeSite(raw []byte) (*SiteInfo, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var site SiteInfo
	if err := json.Unmarshal(raw, &site); err != nil {
		return nil, fmt.Errorf("decode site: %w", err)
	}
	return &site, nil
}

// AddSigningTx inserts a signing placeholder, assigning an id when empty
func (r *TxHistoryRepository) AddSigningTx(ctx context.Context, tx *SigningTx) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Phase == "" {
		tx.Phase = PhaseUnsigned
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	rawTx, err := marshalNullable(tx.RawTx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO signing_txs (id, raw_tx, explain, action, phase, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.store.pool.Exec(ctx, query,
		tx.ID,
		rawTx,
		[]byte(tx.Explain),
		[]byte(tx.Action),
		tx.Phase,
		tx.Hash,
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add signing tx: %w", err)
	}
	return nil
}

// GetSigningTx retrieves a signing placeholder by ID
func (r *TxHistoryRepository) GetSigningTx(ctx context.Context, id string) (*SigningTx, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	var (
		tx    SigningTx
		rawTx []byte
	)
	err := r.store.pool.QueryRow(ctx, `
		SELECT id::text, raw_tx, explain, action, phase, hash, created_at
		FROM signing_txs WHERE id = $1
	`, id).Scan(&tx.ID, &rawTx, &tx.Explain, &tx.Action, &tx.Phase, &tx.Hash, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get signing tx: %w", err)
	}
	if tx.RawTx, err = decodeTxParams(rawTx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// UpdateSigningTx rewrites the mutable fields of a placeholder
func (r *TxHistoryRepository) UpdateSigningTx(ctx context.Context, tx *SigningTx) error {
	rawTx, err := marshalNullable(tx.RawTx)
	if err != nil {
		return err
	}
	tag, err := r.store.pool.Exec(ctx, `
		UPDATE signing_txs SET raw_tx = $2, explain = $3, action = $4, phase = $5, hash = $6
		WHERE id = $1
	`, tx.ID, rawTx, []byte(tx.Explain), []byte(tx.Action), tx.Phase, tx.Hash)
	if err != nil {
		return fmt.Errorf("failed to update signing tx: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("signing tx %s not found", tx.ID)
	}
	return nil
}

func (r *TxHistoryRepository) RemoveSigningTx(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	if _, err := r.store.pool.Exec(ctx, `DELETE FROM signing_txs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to remove signing tx: %w", err)
	}
	return nil
}

func (r *TxHistoryRepository) RemoveAllSigningTxs(ctx context.Context) error {
	if _, err := r.store.pool.Exec(ctx, `DELETE FROM signing_txs`); err != nil {
		return fmt.Errorf("failed to clear signing txs: %w", err)
	}
	return nil
}

// AddPendingTx records a broadcast tx
func (r *TxHistoryRepository) AddPendingTx(ctx context.Context, tx *PendingTx) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	rawTx, err := marshalNullable(tx.RawTx)
	if err != nil {
		return err
	}
	site, err := marshalNullable(tx.Site)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO pending_txs (
			id, address, nonce, chain_id, raw_tx, hash, req_id,
			explain, site, ctx, push_type, is_submit_failed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.store.pool.Exec(ctx, query,
		tx.ID,
		strings.ToLower(tx.Address),
		int64(tx.Nonce),
		tx.ChainID,
		rawTx,
		tx.Hash,
		tx.ReqID,
		[]byte(tx.Explain),
		site,
		[]byte(tx.Ctx),
		tx.PushType,
		tx.IsSubmitFailed,
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add pending tx: %w", err)
	}
	return nil
}

const pendingColumns = `id::text, address, nonce, chain_id, raw_tx, hash, req_id, explain, site, ctx, push_type, is_submit_failed, created_at`

func (r *TxHistoryRepository) queryPending(ctx context.Context, query string, args ...any) ([]PendingTx, error) {
	rows, err := r.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending txs: %w", err)
	}
	defer rows.Close()

	var out []PendingTx
	for rows.Next() {
		var (
			tx    PendingTx
			nonce int64
			rawTx []byte
			site  []byte
		)
		if err := rows.Scan(
			&tx.ID,
			&tx.Address,
			&nonce,
			&tx.ChainID,
			&rawTx,
			&tx.Hash,
			&tx.ReqID,
			&tx.Explain,
			&site,
			&tx.Ctx,
			&tx.PushType,
			&tx.IsSubmitFailed,
			&tx.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending tx: %w", err)
		}
		tx.Nonce = uint64(nonce)
		if tx.RawTx, err = decodeTxParams(rawTx); err != nil {
			return nil, err
		}
		if tx.Site, err = decodeSite(site); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r *TxHistoryRepository) GetPendingTx(ctx context.Context, key PendingKey) ([]PendingTx, error) {
	return r.queryPending(ctx,
		`SELECT `+pendingColumns+` FROM pending_txs WHERE address = $1 AND nonce = $2 AND chain_id = $3 ORDER BY created_at`,
		strings.ToLower(key.Address), int64(key.Nonce), key.ChainID)
}

// ListPendingTxs lists pending txs for an address; chainID 0 matches all chains
func (r *TxHistoryRepository) ListPendingTxs(ctx context.Context, address string, chainID int64) ([]PendingTx, error) {
	return r.queryPending(ctx,
		`SELECT `+pendingColumns+` FROM pending_txs WHERE address = $1 AND ($2 = 0 OR chain_id = $2) ORDER BY nonce, created_at`,
		strings.ToLower(address), chainID)
}

func (r *TxHistoryRepository) RemovePendingTx(ctx context.Context, key PendingKey) error {
	_, err := r.store.pool.Exec(ctx,
		`DELETE FROM pending_txs WHERE address = $1 AND nonce = $2 AND chain_id = $3`,
		strings.ToLower(key.Address), int64(key.Nonce), key.ChainID)
	if err != nil {
		return fmt.Errorf("failed to remove pending tx: %w", err)
	}
	return nil
}
