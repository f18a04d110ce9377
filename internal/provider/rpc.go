package provider

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rabby-mobile/provider-core/internal/chains"
	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/rpccache"
	"github.com/rabby-mobile/provider-core/internal/session"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

// safeRPCMethods may be proxied for origins without a connection
var safeRPCMethods = map[string]bool{
	"eth_blockNumber":                         true,
	"eth_call":                                true,
	"eth_chainId":                             true,
	"eth_coinbase":                            true,
	"eth_estimateGas":                         true,
	"eth_feeHistory":                          true,
	"eth_gasPrice":                            true,
	"eth_getBalance":                          true,
	"eth_getBlockByHash":                      true,
	"eth_getBlockByNumber":                    true,
	"eth_getBlockTransactionCountByHash":      true,
	"eth_getBlockTransactionCountByNumber":    true,
	"eth_getCode":                             true,
	"eth_getFilterChanges":                    true,
	"eth_getFilterLogs":                       true,
	"eth_getLogs":                             true,
	"eth_getProof":                            true,
	"eth_getStorageAt":                        true,
	"eth_getTransactionByBlockHashAndIndex":   true,
	"eth_getTransactionByBlockNumberAndIndex": true,
	"eth_getTransactionByHash":                true,
	"eth_getTransactionCount":                 true,
	"eth_getTransactionReceipt":               true,
	"eth_getUncleByBlockHashAndIndex":         true,
	"eth_getUncleByBlockNumberAndIndex":       true,
	"eth_getUncleCountByBlockHash":            true,
	"eth_getUncleCountByBlockNumber":          true,
	"eth_maxPriorityFeePerGas":                true,
	"eth_newBlockFilter":                      true,
	"eth_newFilter":                           true,
	"eth_newPendingTransactionFilter":         true,
	"eth_protocolVersion":                     true,
	"eth_sendRawTransaction":                  true,
	"eth_syncing":                             true,
	"eth_uninstallFilter":                     true,
	"net_version":                             true,
	"wallet_getPermissions":                   true,
	"wallet_requestPermissions":               true,
}

// IsSafeRPCMethod reports whether method may be proxied without a connection
func IsSafeRPCMethod(method string) bool {
	return safeRPCMethods[method]
}

// EthRPC proxies req to the chain selected by the origin, or to the chain
// with forceChainServerID when set. Identical reads from the same address
// share one in-flight call.
func (c *Controller) EthRPC(ctx context.Context, req *Request, forceChainServerID string) (any, error) {
	origin := req.CallerOrigin()
	method := req.Data.Method

	connected, err := c.resolver.IsConnected(ctx, origin)
	if err != nil {
		return nil, err
	}
	if !connected && !IsSafeRPCMethod(method) {
		return nil, apperrors.Unauthorized("")
	}

	var chain *chains.Chain
	if forceChainServerID != "" {
		chain, err = c.chains.ByServerID(forceChainServerID)
		if err != nil {
			return nil, apperrors.InvalidParams("unknown chain " + forceChainServerID)
		}
	} else if chain, err = c.SiteChain(ctx, origin); err != nil {
		return nil, err
	}

	params := req.Data.Params
	if len(params) == 0 {
		params = json.RawMessage("[]")
	}
	key := rpccache.Key{
		Address: req.Account.LowerAddress(),
		Method:  method,
		Params:  params,
		ChainID: chain.HexID(),
	}
	res, err := c.cache.Do(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		return c.chainCall(ctx, chain, method, params)
	})
	if err != nil {
		logger.Debug(ctx, "rpc proxy failed", "method", method, "chain", chain.Enum, "error", err)
		return nil, err
	}
	return res, nil
}

type rpcCtx struct {
	ChainServerID string `json:"chainServerId"`
}

// ProxyRPC is the wildcard route for unregistered eth_* reads. The wallet's
// own screens may pick the chain through $ctx.chainServerId.
func (c *Controller) ProxyRPC(ctx context.Context, req *Request) (any, error) {
	force := ""
	if req.CallerOrigin() == session.InternalOrigin && len(req.Data.Ctx) > 0 {
		var rc rpcCtx
		if err := json.Unmarshal(req.Data.Ctx, &rc); err == nil {
			force = rc.ChainServerID
		}
	}
	return c.EthRPC(ctx, req, force)
}

// EthChainID returns the site chain as hex
func (c *Controller) EthChainID(ctx context.Context, req *Request) (any, error) {
	chain, err := c.SiteChain(ctx, req.CallerOrigin())
	if err != nil {
		return nil, err
	}
	return chain.HexID(), nil
}

// NetVersion returns the site chain id in decimal
func (c *Controller) NetVersion(ctx context.Context, req *Request) (any, error) {
	chain, err := c.SiteChain(ctx, req.CallerOrigin())
	if err != nil {
		return nil, err
	}
	return strconv.FormatInt(chain.ID, 10), nil
}

func (c *Controller) NetListening(context.Context, *Request) (any, error) {
	return true, nil
}

// visibleAccounts returns the lowercased account when the origin is
// connected and the keyring unlocked, else an empty list
func (c *Controller) visibleAccounts(ctx context.Context, req *Request) ([]string, error) {
	connected, err := c.resolver.IsConnected(ctx, req.CallerOrigin())
	if err != nil {
		return nil, err
	}
	if !connected || !c.keyring.IsUnlocked() {
		return []string{}, nil
	}
	return lowerAccounts(req.Account), nil
}

func (c *Controller) EthAccounts(ctx context.Context, req *Request) (any, error) {
	return c.visibleAccounts(ctx, req)
}

// EthCoinbase returns the first visible account or null
func (c *Controller) EthCoinbase(ctx context.Context, req *Request) (any, error) {
	accounts, err := c.visibleAccounts(ctx, req)
	if err != nil || len(accounts) == 0 {
		return nil, err
	}
	return accounts[0], nil
}

// EthRequestAccounts returns the account and re-announces account and chain
// to the origin.
func (c *Controller) EthRequestAccounts(ctx context.Context, req *Request) (any, error) {
	origin := req.CallerOrigin()
	connected, err := c.resolver.IsConnected(ctx, origin)
	if err != nil {
		return nil, err
	}
	if !connected {
		return nil, apperrors.Unauthorized("")
	}

	accounts := lowerAccounts(req.Account)
	c.events.Broadcast(origin, session.EventAccountsChanged, accounts)
	if site, err := c.resolver.ConnectedSite(ctx, origin); err == nil && site != nil {
		if chain, err := c.chains.ByEnum(site.ChainEnum); err == nil {
			c.broadcastChain(origin, chain)
		}
	}
	return accounts, nil
}
