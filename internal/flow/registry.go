package flow

import (
	"sort"
	"strings"

	"github.com/rabby-mobile/provider-core/internal/notification"
	"github.com/rabby-mobile/provider-core/internal/provider"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

// ApprovalSpec describes the prompt an approval-gated method needs
type ApprovalSpec struct {
	Kind      string
	Validator provider.Validator
	UI        *notification.WinProps
}

// Entry is one registered provider method.
//
// Private entries are controller internals and never reachable from a
// request. Safe entries skip the unlock and connect gates. Entries with an
// Approval go through the approval gate before dispatch.
type Entry struct {
	Method   string
	Handler  provider.Handler
	Private  bool
	Safe     bool
	Approval *ApprovalSpec
}

// Registry maps method names to entries
type Registry struct {
	entries map[string]Entry
	proxy   provider.Handler
}

// wildcardMethod is the entry name reported for proxied reads
const wildcardMethod = "ethRpc"

// NewRegistry builds the provider method table on top of c
func NewRegistry(c *provider.Controller) *Registry {
	r := &Registry{entries: make(map[string]Entry), proxy: c.ProxyRPC}

	safe := func(method string, h provider.Handler) {
		r.Register(Entry{Method: method, Handler: h, Safe: true})
	}
	gated := func(method string, h provider.Handler) {
		r.Register(Entry{Method: method, Handler: h})
	}
	approval := func(method string, h provider.Handler, kind string, v provider.Validator, height int) {
		spec := &ApprovalSpec{Kind: kind, Validator: v}
		if height > 0 {
			spec.UI = &notification.WinProps{Height: height}
		}
		r.Register(Entry{Method: method, Handler: h, Approval: spec})
	}

	safe("eth_chainId", c.EthChainID)
	safe("net_version", c.NetVersion)
	safe("net_listening", c.NetListening)
	safe("eth_accounts", c.EthAccounts)
	safe("eth_coinbase", c.EthCoinbase)
	safe("wallet_getPermissions", c.WalletGetPermissions)
	safe("wallet_revokePermissions", c.WalletRevokePermissions)
	// eth_sign fails before any prompt or network call
	safe("eth_sign", c.EthSign)

	gated("eth_requestAccounts", c.EthRequestAccounts)
	gated("wallet_requestPermissions", c.WalletRequestPermissions)

	approval("eth_sendTransaction", c.EthSendTransaction, notification.ComponentSignTx, c.ValidateSendTransaction, 0)
	approval("personal_sign", c.PersonalSign, notification.ComponentSignText, c.ValidatePersonalSign, 0)
	approval("eth_signTypedData", c.EthSignTypedData, notification.ComponentSignTypedData, c.ValidateSignTypedData, 0)
	approval("eth_signTypedData_v1", c.EthSignTypedData, notification.ComponentSignTypedData, c.ValidateSignTypedData, 0)
	approval("eth_signTypedData_v3", c.EthSignTypedDataV3, notification.ComponentSignTypedData, c.ValidateSignTypedDataV3, 0)
	approval("eth_signTypedData_v4", c.EthSignTypedDataV4, notification.ComponentSignTypedData, c.ValidateSignTypedDataV4, 0)
	approval("wallet_addEthereumChain", c.WalletAddEthereumChain, notification.ComponentAddChain, c.ValidateAddEthereumChain, 390)
	approval("wallet_switchEthereumChain", c.WalletSwitchEthereumChain, notification.ComponentSwitchChain, c.ValidateSwitchEthereumChain, 390)
	approval("wallet_watchAsset", c.WalletWatchAsset, notification.ComponentAddAsset, c.ValidateWatchAsset, 0)

	// reachable only through the wildcard route
	r.Register(Entry{Method: wildcardMethod, Handler: c.ProxyRPC, Private: true})

	return r
}

// Register adds or replaces an entry
func (r *Registry) Register(e Entry) {
	r.entries[e.Method] = e
}

// Resolve finds the entry for method. Unregistered eth_* methods and
// net_version fall through to the RPC proxy, which enforces its own
// allowlist for unconnected origins.
func (r *Registry) Resolve(method string) (Entry, error) {
	if e, ok := r.entries[method]; ok {
		if e.Private {
			return Entry{}, apperrors.MethodNotFound(method)
		}
		return e, nil
	}
	if strings.HasPrefix(method, "eth_") || method == "net_version" {
		return Entry{Method: wildcardMethod, Handler: r.proxy, Safe: true}, nil
	}
	return Entry{}, apperrors.MethodNotFound(method)
}

// Methods lists the public method names in order
func (r *Registry) Methods() []string {
	out := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if !e.Private {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
