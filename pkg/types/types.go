package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Keyring type constants
const (
	KeyringSimple        = "Simple Key Pair"
	KeyringHD            = "HD Key Tree"
	KeyringLedger        = "Ledger Hardware"
	KeyringOneKey        = "Onekey Hardware"
	KeyringKeystone      = "QR Hardware Wallet Device"
	KeyringGnosis        = "Gnosis"
	KeyringWatch         = "Watch Address"
	KeyringWalletConnect = "WalletConnect"
)

// Account identifies a signing identity owned by the keyring.
type Account struct {
	Address   string `json:"address"`
	Type      string `json:"type"`
	BrandName string `json:"brandName"`
	AliasName string `json:"aliasName,omitempty"`
	Index     *int   `json:"index,omitempty"`
}

// LowerAddress returns the lowercased address
func (a *Account) LowerAddress() string {
	if a == nil {
		return ""
	}
	return strings.ToLower(a.Address)
}

// IsHardware reports whether signing requires an external device round trip
func (a *Account) IsHardware() bool {
	if a == nil {
		return false
	}
	switch a.Type {
	case KeyringLedger, KeyringOneKey, KeyringKeystone:
		return true
	}
	return false
}

// IsGnosis reports whether the account is a multisig safe
func (a *Account) IsGnosis() bool {
	return a != nil && a.Type == KeyringGnosis
}

// SameAddress compares two addresses case-insensitively
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// DappSession is the persisted connection state of one site.
type DappSession struct {
	Origin         string    `json:"origin"`
	Name           string    `json:"name"`
	Icon           string    `json:"icon"`
	ChainEnum      string    `json:"chain"`
	IsConnected    bool      `json:"isConnected"`
	CurrentAccount *Account  `json:"currentAccount,omitempty"`
	IsSigned       bool      `json:"isSigned"`
	IsFavorite     bool      `json:"isFavorite"`
	ConnectedAt    time.Time `json:"connectedAt"`
}

// AuthorizationTuple is an EIP-7702 authorization in JSON (hex string) form.
type AuthorizationTuple struct {
	ChainID string `json:"chainId"`
	Address string `json:"address"`
	Nonce   string `json:"nonce"`
	R       string `json:"r,omitempty"`
	S       string `json:"s,omitempty"`
	YParity string `json:"yParity,omitempty"`
}

// ChainID is a chain id that decodes from a JSON number, a decimal string
// or a 0x hex string. It encodes as a number.
type ChainID int64

func (c *ChainID) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == `""` {
		*c = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	}
	base := 10
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw, base = raw[2:], 16
	}
	v, err := strconv.ParseInt(raw, base, 64)
	if err != nil || v < 0 {
		return fmt.Errorf("invalid chainId %s", string(b))
	}
	*c = ChainID(v)
	return nil
}

// TxParams is the dapp-facing transaction shape. Quantities are 0x hex strings.
type TxParams struct {
	From                 string               `json:"from"`
	To                   string               `json:"to,omitempty"`
	Value                string               `json:"value,omitempty"`
	Data                 string               `json:"data,omitempty"`
	Gas                  string               `json:"gas,omitempty"`
	GasPrice             string               `json:"gasPrice,omitempty"`
	MaxFeePerGas         string               `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string               `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                string               `json:"nonce,omitempty"`
	ChainID              ChainID              `json:"chainId,omitempty"`
	AuthorizationList    []AuthorizationTuple `json:"authorizationList,omitempty"`
}

// Is1559 reports whether both EIP-1559 fee fields are set
func (p *TxParams) Is1559() bool {
	return p.MaxFeePerGas != "" && p.MaxPriorityFeePerGas != ""
}

// Clone returns a deep copy
func (p *TxParams) Clone() *TxParams {
	if p == nil {
		return nil
	}
	out := *p
	if p.AuthorizationList != nil {
		out.AuthorizationList = append([]AuthorizationTuple(nil), p.AuthorizationList...)
	}
	return &out
}

// TokenRecord is a customized or testnet token added through wallet_watchAsset.
type TokenRecord struct {
	Address  string `json:"address"`
	ChainID  int64  `json:"chainId"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Image    string `json:"image,omitempty"`
}

// Permission is the EIP-2255 permission object returned by wallet_getPermissions.
type Permission struct {
	ParentCapability string            `json:"parentCapability"`
	Invoker          string            `json:"invoker"`
	Caveats          []json.RawMessage `json:"caveats,omitempty"`
	Date             int64             `json:"date,omitempty"`
}
