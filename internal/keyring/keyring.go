// Package keyring defines the signing collaborator the provider pipeline
// consumes, plus a private-key implementation for development and tests.
package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"

	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/rabby-mobile/provider-core/pkg/types"
)

// Typed data versions accepted by eth_signTypedData*
const (
	TypedDataV1 = "V1"
	TypedDataV3 = "V3"
	TypedDataV4 = "V4"
)

var (
	// ErrLocked is returned by signing calls while the keyring is locked
	ErrLocked = errors.New("keyring is locked")
	// ErrUnknownAccount is returned when the account is not held by the keyring
	ErrUnknownAccount = errors.New("account not found in keyring")
	// ErrWrongPassword is returned by Unlock
	ErrWrongPassword = errors.New("incorrect password")
)

// Keyring produces signatures for accounts it holds.
type Keyring interface {
	IsUnlocked() bool
	Unlock(password string) error
	Lock()

	Accounts(ctx context.Context) ([]types.Account, error)
	HasAccount(ctx context.Context, address string) bool

	SignTransaction(ctx context.Context, account *types.Account, tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error)
	SignPersonalMessage(ctx context.Context, account *types.Account, message []byte) ([]byte, error)
	SignTypedData(ctx context.Context, account *types.Account, data json.RawMessage, version string) ([]byte, error)
	SignAuthorization(ctx context.Context, account *types.Account, auth gethtypes.SetCodeAuthorization) (gethtypes.SetCodeAuthorization, error)
}
