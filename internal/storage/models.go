package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rabby-mobile/provider-core/pkg/types"
)

// Signing tx phases as persisted
const (
	PhaseUnsigned  = "unsigned"
	PhaseSigned    = "signed"
	PhaseSubmitted = "submitted"
	PhaseFailed    = "failed"
)

// SigningTx is a transaction awaiting signature, created when a SignTx
// approval enters the queue.
type SigningTx struct {
	ID        string
	RawTx     *types.TxParams
	Explain   json.RawMessage
	Action    json.RawMessage
	Phase     string
	Hash      string
	CreatedAt time.Time
}

// SiteInfo is the dapp site a pending tx came from
type SiteInfo struct {
	Origin string `json:"origin"`
	Name   string `json:"name"`
	Icon   string `json:"icon"`
}

// PendingTx is a broadcast transaction tracked until confirmation or replacement.
type PendingTx struct {
	ID             string
	Address        string
	Nonce          uint64
	ChainID        int64
	RawTx          *types.TxParams
	Hash           string
	ReqID          string
	Explain        json.RawMessage
	Site           *SiteInfo
	Ctx            json.RawMessage
	PushType       string
	IsSubmitFailed bool
	CreatedAt      time.Time
}

// PendingKey identifies the nonce slot a pending tx occupies
type PendingKey struct {
	Address string
	Nonce   uint64
	ChainID int64
}

// Key returns the lowercase-normalized nonce slot of the tx
func (p *PendingTx) Key() PendingKey {
	return PendingKey{Address: strings.ToLower(p.Address), Nonce: p.Nonce, ChainID: p.ChainID}
}

// GasCache is the last gas choice made for a chain
type GasCache struct {
	ChainID   int64     `json:"chainId"`
	GasPrice  string    `json:"gasPrice"`
	GasLevel  string    `json:"gasLevel,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DappStore persists dapp sessions keyed by origin.
// Get returns nil, nil when the origin is unknown.
type DappStore interface {
	GetDapp(ctx context.Context, origin string) (*types.DappSession, error)
	SaveDapp(ctx context.Context, dapp *types.DappSession) error
	RemoveDapp(ctx context.Context, origin string) error
	ListDapps(ctx context.Context) ([]types.DappSession, error)
}

// PreferenceStore holds the fallback account and per-chain user settings.
type PreferenceStore interface {
	GetCurrentAccount(ctx context.Context) (*types.Account, error)
	SetCurrentAccount(ctx context.Context, account *types.Account) error
	GetCustomRPC(ctx context.Context, chainEnum string) (string, error)
	SetCustomRPC(ctx context.Context, chainEnum, url string) error
	GetGasCache(ctx context.Context, chainID int64) (*GasCache, error)
	SetGasCache(ctx context.Context, cache *GasCache) error
	AddCustomToken(ctx context.Context, token *types.TokenRecord) error
	ListCustomTokens(ctx context.Context) ([]types.TokenRecord, error)
}

// TxHistory tracks signing placeholders and pending broadcast transactions.
type TxHistory interface {
	AddSigningTx(ctx context.Context, tx *SigningTx) error
	GetSigningTx(ctx context.Context, id string) (*SigningTx, error)
	UpdateSigningTx(ctx context.Context, tx *SigningTx) error
	RemoveSigningTx(ctx context.Context, id string) error
	RemoveAllSigningTxs(ctx context.Context) error

	AddPendingTx(ctx context.Context, tx *PendingTx) error
	GetPendingTx(ctx context.Context, key PendingKey) ([]PendingTx, error)
	ListPendingTxs(ctx context.Context, address string, chainID int64) ([]PendingTx, error)
	RemovePendingTx(ctx context.Context, key PendingKey) error
}
