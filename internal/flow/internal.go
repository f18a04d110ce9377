package flow

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/openapi"
	"github.com/rabby-mobile/provider-core/internal/provider"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

const dappsInfoConcurrency = 4

// tabCheckin records the site name and icon sent by the page
func (p *Pipeline) tabCheckin(ctx context.Context, req *ProviderRequest) (any, error) {
	var site struct {
		Name string `json:"name"`
		Icon string `json:"icon"`
	}
	list, err := req.ParamList()
	if err != nil {
		return nil, err
	}
	if len(list) > 0 {
		if err := json.Unmarshal(list[0], &site); err != nil {
			return nil, apperrors.InvalidParams("tabCheckin expects {name, icon}")
		}
	}
	origin := req.CallerOrigin()
	s := provider.Session{Origin: origin, Name: site.Name, Icon: site.Icon}

	p.mu.Lock()
	p.sites[origin] = s
	p.mu.Unlock()
	req.Session = s
	logger.Debug(ctx, "tab checked in", "name", site.Name)
	return true, nil
}

// ProviderState is what a freshly injected provider needs to start
type ProviderState struct {
	ChainID        string   `json:"chainId"`
	NetworkVersion string   `json:"networkVersion"`
	IsUnlocked     bool     `json:"isUnlocked"`
	Accounts       []string `json:"accounts"`
}

func (p *Pipeline) providerState(ctx context.Context, req *ProviderRequest) (any, error) {
	chain, err := p.controller.SiteChain(ctx, req.CallerOrigin())
	if err != nil {
		return nil, err
	}
	accounts, err := p.controller.EthAccounts(ctx, req)
	if err != nil {
		return nil, err
	}
	return ProviderState{
		ChainID:        chain.HexID(),
		NetworkVersion: strconv.FormatInt(chain.ID, 10),
		IsUnlocked:     p.controller.Keyring().IsUnlocked(),
		Accounts:       accounts.([]string),
	}, nil
}

// dappsInfo looks up backend metadata for a list of origins. Origins the
// backend fails on are left out.
func (p *Pipeline) dappsInfo(ctx context.Context, req *ProviderRequest) (any, error) {
	list, err := req.ParamList()
	if err != nil {
		return nil, err
	}
	var origins []string
	if len(list) > 0 {
		if err := json.Unmarshal(list[0], &origins); err != nil {
			return nil, apperrors.InvalidParams("expected a list of origins")
		}
	}

	var mu sync.Mutex
	out := make(map[string]*openapi.DappInfo, len(origins))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dappsInfoConcurrency)
	for _, origin := range origins {
		g.Go(func() error {
			info, err := p.backend.GetDappInfo(gctx, origin)
			if err != nil {
				logger.Warn(gctx, "dapp info lookup failed", "dapp", origin, "error", err)
				return nil
			}
			mu.Lock()
			out[origin] = info
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) originIsScam(ctx context.Context, req *ProviderRequest) (any, error) {
	origin := req.CallerOrigin()
	list, err := req.ParamList()
	if err != nil {
		return nil, err
	}
	if len(list) > 0 {
		var target string
		if json.Unmarshal(list[0], &target) == nil && target != "" {
			origin = target
		}
	}
	scam, err := p.backend.IsOriginScam(ctx, origin)
	if err != nil {
		logger.Warn(ctx, "scam lookup failed", "error", err)
		return false, nil
	}
	return scam, nil
}

func (p *Pipeline) isMetamaskMode(_ context.Context, req *ProviderRequest) (any, error) {
	return p.metamask[req.CallerOrigin()], nil
}
