package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rabby-mobile/provider-core/internal/chains"
	"github.com/rabby-mobile/provider-core/internal/keyring"
	"github.com/rabby-mobile/provider-core/internal/openapi"
	"github.com/rabby-mobile/provider-core/internal/rpccache"
	"github.com/rabby-mobile/provider-core/internal/session"
	"github.com/rabby-mobile/provider-core/internal/storage"
	"github.com/rabby-mobile/provider-core/internal/txflow"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

// Handler executes one provider method
type Handler func(ctx context.Context, req *Request) (any, error)

// Deps are the collaborators a Controller is built from
type Deps struct {
	Chains    *chains.Registry
	Resolver  *session.Resolver
	Dapps     storage.DappStore
	Prefs     storage.PreferenceStore
	History   storage.TxHistory
	Keyring   keyring.Keyring
	Backend   openapi.Backend
	RPC       txflow.ChainRPC
	Cache     *rpccache.Cache
	Events    *session.Events
	Submitter *txflow.Submitter
}

// Controller holds the per-method business logic
type Controller struct {
	chains    *chains.Registry
	resolver  *session.Resolver
	dapps     storage.DappStore
	prefs     storage.PreferenceStore
	history   storage.TxHistory
	keyring   keyring.Keyring
	backend   openapi.Backend
	rpc       txflow.ChainRPC
	cache     *rpccache.Cache
	events    *session.Events
	submitter *txflow.Submitter
}

// NewController creates a controller
func NewController(d Deps) *Controller {
	return &Controller{
		chains:    d.Chains,
		resolver:  d.Resolver,
		dapps:     d.Dapps,
		prefs:     d.Prefs,
		history:   d.History,
		keyring:   d.Keyring,
		backend:   d.Backend,
		rpc:       d.RPC,
		cache:     d.Cache,
		events:    d.Events,
		submitter: d.Submitter,
	}
}

// Chains exposes the chain registry
func (c *Controller) Chains() *chains.Registry {
	return c.chains
}

// Keyring exposes the signing collaborator
func (c *Controller) Keyring() keyring.Keyring {
	return c.keyring
}

// SiteChain returns the chain the origin selected, or the default chain
// for unconnected origins and the internal origin.
func (c *Controller) SiteChain(ctx context.Context, origin string) (*chains.Chain, error) {
	enum := chains.DefaultEnum
	site, err := c.resolver.ConnectedSite(ctx, origin)
	if err != nil {
		return nil, err
	}
	if site != nil && site.ChainEnum != "" {
		enum = site.ChainEnum
	}
	chain, err := c.chains.ByEnum(enum)
	if err != nil {
		return nil, fmt.Errorf("site chain %s: %w", enum, err)
	}
	return chain, nil
}

func rawArgs(params json.RawMessage) ([]any, error) {
	list, err := decodeParamList(params)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(list))
	for i, p := range list {
		args[i] = p
	}
	return args, nil
}

// chainCall sends a JSON-RPC call along the chain's route: testnets go to
// their own endpoints, a user custom RPC wins next, and everything else is
// proxied through the backend.
func (c *Controller) chainCall(ctx context.Context, chain *chains.Chain, method string, params json.RawMessage) (json.RawMessage, error) {
	if chain.IsTestnet {
		args, err := rawArgs(params)
		if err != nil {
			return nil, err
		}
		return c.rpc.Call(ctx, chain.RPCURLs, method, args...)
	}

	customURL, err := c.prefs.GetCustomRPC(ctx, chain.Enum)
	if err != nil {
		return nil, fmt.Errorf("load custom rpc: %w", err)
	}
	if customURL != "" {
		args, err := rawArgs(params)
		if err != nil {
			return nil, err
		}
		return c.rpc.Call(ctx, []string{customURL}, method, args...)
	}
	return c.backend.EthRPC(ctx, chain.ServerID, method, params)
}

func (c *Controller) callWith(ctx context.Context, chain *chains.Chain, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	return c.chainCall(ctx, chain, method, raw)
}

// checkAddress requires address to be the attributed account
func checkAddress(account *types.Account, address string) error {
	if account == nil || address == "" || !types.SameAddress(account.Address, address) {
		return apperrors.InvalidParams("Invalid parameters: must use the current account")
	}
	return nil
}

func lowerAccounts(account *types.Account) []string {
	if account == nil {
		return []string{}
	}
	return []string{strings.ToLower(account.Address)}
}

func (c *Controller) broadcastChain(origin string, chain *chains.Chain) {
	c.events.Broadcast(origin, session.EventChainChanged, map[string]string{
		"chain":          chain.HexID(),
		"networkVersion": fmt.Sprintf("%d", chain.ID),
	})
}
