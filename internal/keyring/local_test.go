package keyring

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabby-mobile/provider-core/pkg/types"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newUnlocked(t *testing.T) (*Local, *types.Account) {
	t.Helper()
	l, err := NewLocal("pw", "0x"+testKey)
	require.NoError(t, err)
	require.NoError(t, l.Unlock("pw"))

	accs, err := l.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accs, 1)
	return l, &accs[0]
}

func recoverAddr(t *testing.T, hash, sig []byte) common.Address {
	t.Helper()
	s := append([]byte(nil), sig...)
	s[64] -= 27
	pub, err := ethcrypto.SigToPub(hash, s)
	require.NoError(t, err)
	return ethcrypto.PubkeyToAddress(*pub)
}

func TestNewLocal_InvalidKey(t *testing.T) {
	_, err := NewLocal("pw", "not-a-key")
	assert.Error(t, err)
}

func TestLocal_LockState(t *testing.T) {
	l, err := NewLocal("pw", testKey)
	require.NoError(t, err)
	ctx := context.Background()

	accs, err := l.Accounts(ctx)
	require.NoError(t, err)
	acc := &accs[0]

	assert.False(t, l.IsUnlocked())
	_, err = l.SignPersonalMessage(ctx, acc, []byte("hi"))
	assert.ErrorIs(t, err, ErrLocked)

	assert.ErrorIs(t, l.Unlock("wrong"), ErrWrongPassword)
	require.NoError(t, l.Unlock("pw"))
	assert.True(t, l.IsUnlocked())

	l.Lock()
	assert.False(t, l.IsUnlocked())
}

func TestLocal_HasAccount(t *testing.T) {
	l, acc := newUnlocked(t)
	ctx := context.Background()

	assert.True(t, l.HasAccount(ctx, acc.Address))
	assert.True(t, l.HasAccount(ctx, acc.LowerAddress()))
	assert.False(t, l.HasAccount(ctx, "0x0000000000000000000000000000000000000001"))
	assert.False(t, l.HasAccount(ctx, "garbage"))

	_, err := l.SignPersonalMessage(ctx, &types.Account{Address: "0x0000000000000000000000000000000000000001"}, []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestLocal_SignPersonalMessage(t *testing.T) {
	l, acc := newUnlocked(t)

	msg := []byte("hello rabby")
	sig, err := l.SignPersonalMessage(context.Background(), acc, msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.True(t, sig[64] == 27 || sig[64] == 28)

	assert.Equal(t, common.HexToAddress(acc.Address), recoverAddr(t, accounts.TextHash(msg), sig))
}

func TestLocal_SignTransaction(t *testing.T) {
	l, acc := newUnlocked(t)
	chainID := big.NewInt(1)
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(0),
	})

	signed, err := l.SignTransaction(context.Background(), acc, tx, chainID)
	require.NoError(t, err)

	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(acc.Address), from)
}

func TestLocal_SignTypedData(t *testing.T) {
	l, acc := newUnlocked(t)
	ctx := context.Background()

	payload := json.RawMessage(`{
		"types": {
			"EIP712Domain": [{"name":"name","type":"string"},{"name":"chainId","type":"uint256"}],
			"Mail": [{"name":"contents","type":"string"}]
		},
		"primaryType": "Mail",
		"domain": {"name": "Test", "chainId": "1"},
		"message": {"contents": "hello"}
	}`)

	sig, err := l.SignTypedData(ctx, acc, payload, TypedDataV4)
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	_, err = l.SignTypedData(ctx, acc, payload, TypedDataV1)
	assert.Error(t, err)

	_, err = l.SignTypedData(ctx, acc, json.RawMessage(`{bad`), TypedDataV3)
	assert.Error(t, err)
}

func TestLocal_SignAuthorization(t *testing.T) {
	l, acc := newUnlocked(t)

	auth := gethtypes.SetCodeAuthorization{
		ChainID: *uint256.NewInt(1),
		Address: common.Address{},
		Nonce:   7,
	}
	signed, err := l.SignAuthorization(context.Background(), acc, auth)
	require.NoError(t, err)

	authority, err := signed.Authority()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(acc.Address), authority)
	assert.Equal(t, uint64(7), signed.Nonce)
}
