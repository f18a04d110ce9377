package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rabby-mobile/provider-core/internal/chains"
	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/session"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

// AddChainParams is the EIP-3085 wallet_addEthereumChain argument
type AddChainParams struct {
	ChainID        string   `json:"chainId"`
	ChainName      string   `json:"chainName"`
	RPCURLs        []string `json:"rpcUrls"`
	NativeCurrency *struct {
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"nativeCurrency,omitempty"`
	BlockExplorerURLs []string `json:"blockExplorerUrls,omitempty"`
}

func decodeFirst(req *Request, out any) error {
	list, err := req.ParamList()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return apperrors.InvalidParams("missing params")
	}
	if err := json.Unmarshal(list[0], out); err != nil {
		return apperrors.InvalidParams("malformed params")
	}
	return nil
}

func parseChainParam(raw string) (int64, error) {
	id, err := chains.ParseChainID(raw)
	if err != nil {
		return 0, apperrors.InvalidParams(fmt.Sprintf("invalid chainId %q", raw))
	}
	return id, nil
}

func (c *Controller) knownChain(id int64) (*chains.Chain, error) {
	chain, err := c.chains.ByID(id)
	if errors.Is(err, chains.ErrChainNotFound) {
		return nil, nil
	}
	return chain, err
}

func (c *Controller) isSiteChain(ctx context.Context, origin string, chain *chains.Chain) (bool, error) {
	current, err := c.SiteChain(ctx, origin)
	if err != nil {
		return false, err
	}
	return current.ID == chain.ID, nil
}

// ValidateAddEthereumChain bypasses the prompt when the chain is already
// the site chain. Unknown chains need a name and at least one RPC URL.
func (c *Controller) ValidateAddEthereumChain(ctx context.Context, req *Request) (bool, error) {
	var p AddChainParams
	if err := decodeFirst(req, &p); err != nil {
		return false, err
	}
	id, err := parseChainParam(p.ChainID)
	if err != nil {
		return false, err
	}
	chain, err := c.knownChain(id)
	if err != nil {
		return false, err
	}
	if chain != nil {
		return c.isSiteChain(ctx, req.CallerOrigin(), chain)
	}
	if strings.TrimSpace(p.ChainName) == "" || len(p.RPCURLs) == 0 {
		return false, apperrors.InvalidParams("chainName and rpcUrls are required to add a chain")
	}
	return false, nil
}

// WalletAddEthereumChain registers the chain when unknown and switches the site to it
func (c *Controller) WalletAddEthereumChain(ctx context.Context, req *Request) (any, error) {
	var p AddChainParams
	if err := decodeFirst(req, &p); err != nil {
		return nil, err
	}
	id, err := parseChainParam(p.ChainID)
	if err != nil {
		return nil, err
	}
	chain, err := c.knownChain(id)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		custom := chains.Chain{ID: id, Name: p.ChainName, RPCURLs: p.RPCURLs}
		if p.NativeCurrency != nil {
			custom.NativeTokenSymbol = p.NativeCurrency.Symbol
		}
		if chain, err = c.chains.AddCustom(custom); err != nil {
			return nil, apperrors.InvalidParams(err.Error())
		}
		logger.Info(ctx, "custom chain added", "chain_id", id, "enum", chain.Enum)
	}
	if err := c.switchSiteChain(ctx, req.CallerOrigin(), chain); err != nil {
		return nil, err
	}
	return nil, nil
}

type switchChainParams struct {
	ChainID string `json:"chainId"`
}

func (c *Controller) switchTarget(req *Request) (*chains.Chain, error) {
	var p switchChainParams
	if err := decodeFirst(req, &p); err != nil {
		return nil, err
	}
	id, err := parseChainParam(p.ChainID)
	if err != nil {
		return nil, err
	}
	chain, err := c.knownChain(id)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, apperrors.ChainNotAdded(p.ChainID)
	}
	return chain, nil
}

// ValidateSwitchEthereumChain rejects unknown chains with 4902 and bypasses
// the prompt for the current chain.
func (c *Controller) ValidateSwitchEthereumChain(ctx context.Context, req *Request) (bool, error) {
	chain, err := c.switchTarget(req)
	if err != nil {
		return false, err
	}
	return c.isSiteChain(ctx, req.CallerOrigin(), chain)
}

func (c *Controller) WalletSwitchEthereumChain(ctx context.Context, req *Request) (any, error) {
	chain, err := c.switchTarget(req)
	if err != nil {
		return nil, err
	}
	if err := c.switchSiteChain(ctx, req.CallerOrigin(), chain); err != nil {
		return nil, err
	}
	return nil, nil
}

// switchSiteChain persists the site chain and announces changes. The
// internal origin has no session and is left alone.
func (c *Controller) switchSiteChain(ctx context.Context, origin string, chain *chains.Chain) error {
	if origin == session.InternalOrigin {
		return nil
	}
	site, err := c.dapps.GetDapp(ctx, origin)
	if err != nil {
		return err
	}
	if site == nil {
		return apperrors.Unauthorized("")
	}
	if site.ChainEnum == chain.Enum {
		return nil
	}
	site.ChainEnum = chain.Enum
	if err := c.dapps.SaveDapp(ctx, site); err != nil {
		return fmt.Errorf("save site chain: %w", err)
	}
	c.broadcastChain(origin, chain)
	logger.Info(ctx, "site chain switched", "origin", origin, "chain", chain.Enum)
	return nil
}

// WatchAssetParams is the EIP-747 wallet_watchAsset argument
type WatchAssetParams struct {
	Type    string `json:"type"`
	Options struct {
		Address  string          `json:"address"`
		Symbol   string          `json:"symbol"`
		Decimals json.RawMessage `json:"decimals"`
		Image    string          `json:"image,omitempty"`
		ChainID  *types.ChainID  `json:"chainId,omitempty"`
	} `json:"options"`
}

func parseWatchAsset(req *Request) (*WatchAssetParams, int, error) {
	var p WatchAssetParams
	if err := decodeFirst(req, &p); err != nil {
		return nil, 0, err
	}
	if !strings.EqualFold(p.Type, "ERC20") {
		return nil, 0, apperrors.InvalidParams(fmt.Sprintf("Asset of type '%s' not supported", p.Type))
	}
	if !common.IsHexAddress(p.Options.Address) {
		return nil, 0, apperrors.InvalidParams("invalid token address")
	}
	if n := len(p.Options.Symbol); n == 0 || n > 11 {
		return nil, 0, apperrors.InvalidParams("symbol must be 1 to 11 characters")
	}
	decimals, err := decodeDecimals(p.Options.Decimals)
	if err != nil || decimals < 0 || decimals > 36 {
		return nil, 0, apperrors.InvalidParams("decimals must be between 0 and 36")
	}
	return &p, decimals, nil
}

// decodeDecimals accepts a JSON number or a decimal string
func decodeDecimals(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(s))
}

// ValidateWatchAsset checks the asset shape; the prompt is never bypassed
func (c *Controller) ValidateWatchAsset(_ context.Context, req *Request) (bool, error) {
	_, _, err := parseWatchAsset(req)
	return false, err
}

// WalletWatchAsset stores the token against the site chain, or the chain
// named in the options.
func (c *Controller) WalletWatchAsset(ctx context.Context, req *Request) (any, error) {
	p, decimals, err := parseWatchAsset(req)
	if err != nil {
		return nil, err
	}
	chain, err := c.SiteChain(ctx, req.CallerOrigin())
	if err != nil {
		return nil, err
	}
	if p.Options.ChainID != nil && *p.Options.ChainID != 0 {
		if chain, err = c.knownChain(int64(*p.Options.ChainID)); err != nil {
			return nil, err
		}
		if chain == nil {
			return nil, apperrors.ChainNotAdded(fmt.Sprintf("%d", *p.Options.ChainID))
		}
	}

	token := &types.TokenRecord{
		Address:  strings.ToLower(p.Options.Address),
		ChainID:  chain.ID,
		Symbol:   p.Options.Symbol,
		Decimals: decimals,
		Image:    p.Options.Image,
	}
	if err := c.prefs.AddCustomToken(ctx, token); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	return true, nil
}
