package keyring

import (
	"context"
	"crypto/ecdsa"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/rabby-mobile/provider-core/pkg/types"
)

// Local holds raw secp256k1 keys in memory behind a password gate.
type Local struct {
	mu       sync.RWMutex
	password string
	unlocked bool
	keys     map[common.Address]*ecdsa.PrivateKey
}

var _ Keyring = (*Local)(nil)

// NewLocal creates a locked keyring from hex private keys
func NewLocal(password string, hexKeys ...string) (*Local, error) {
	l := &Local{
		password: password,
		keys:     make(map[common.Address]*ecdsa.PrivateKey, len(hexKeys)),
	}
	for i, hk := range hexKeys {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hk), "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key at index %d: %w", i, err)
		}
		l.keys[ethcrypto.PubkeyToAddress(key.PublicKey)] = key
	}
	return l, nil
}

// IsUnlocked reports whether signing is allowed
func (l *Local) IsUnlocked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.unlocked
}

// Unlock opens the keyring when password matches
func (l *Local) Unlock(password string) error {
	if subtle.ConstantTimeCompare([]byte(password), []byte(l.password)) != 1 {
		return ErrWrongPassword
	}
	l.mu.Lock()
	l.unlocked = true
	l.mu.Unlock()
	return nil
}

// Lock closes the keyring
func (l *Local) Lock() {
	l.mu.Lock()
	l.unlocked = false
	l.mu.Unlock()
}

// Accounts lists held accounts ordered by address
func (l *Local) Accounts(_ context.Context) ([]types.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Account, 0, len(l.keys))
	for addr := range l.keys {
		out = append(out, types.Account{
			Address:   addr.Hex(),
			Type:      types.KeyringSimple,
			BrandName: types.KeyringSimple,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// HasAccount reports whether address is held
func (l *Local) HasAccount(_ context.Context, address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.keys[common.HexToAddress(address)]
	return ok
}

func (l *Local) key(account *types.Account) (*ecdsa.PrivateKey, error) {
	if account == nil || !common.IsHexAddress(account.Address) {
		return nil, ErrUnknownAccount
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.unlocked {
		return nil, ErrLocked
	}
	key, ok := l.keys[common.HexToAddress(account.Address)]
	if !ok {
		return nil, ErrUnknownAccount
	}
	return key, nil
}

// SignTransaction signs tx with a Prague signer so legacy, 1559 and 7702
// transactions are all accepted.
func (l *Local) SignTransaction(_ context.Context, account *types.Account, tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error) {
	key, err := l.key(account)
	if err != nil {
		return nil, err
	}
	signed, err := gethtypes.SignTx(tx, gethtypes.NewPragueSigner(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// SignPersonalMessage signs with the EIP-191 prefix. V is 27/28.
func (l *Local) SignPersonalMessage(_ context.Context, account *types.Account, message []byte) ([]byte, error) {
	key, err := l.key(account)
	if err != nil {
		return nil, err
	}
	sig, err := ethcrypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignTypedData signs EIP-712 data. V1 (legacy array form) is not supported.
func (l *Local) SignTypedData(_ context.Context, account *types.Account, data json.RawMessage, version string) ([]byte, error) {
	key, err := l.key(account)
	if err != nil {
		return nil, err
	}

	switch strings.ToUpper(version) {
	case TypedDataV3, TypedDataV4:
	default:
		return nil, fmt.Errorf("typed data %s is not supported by this keyring", version)
	}

	var td apitypes.TypedData
	if err := json.Unmarshal(data, &td); err != nil {
		return nil, fmt.Errorf("failed to decode typed data: %w", err)
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}

	sig, err := ethcrypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignAuthorization signs an EIP-7702 authorization tuple
func (l *Local) SignAuthorization(_ context.Context, account *types.Account, auth gethtypes.SetCodeAuthorization) (gethtypes.SetCodeAuthorization, error) {
	key, err := l.key(account)
	if err != nil {
		return gethtypes.SetCodeAuthorization{}, err
	}
	signed, err := gethtypes.SignSetCode(key, auth)
	if err != nil {
		return gethtypes.SetCodeAuthorization{}, fmt.Errorf("failed to sign authorization: %w", err)
	}
	return signed, nil
}
