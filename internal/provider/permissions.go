package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/session"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

const capabilityAccounts = "eth_accounts"

func requestsAccounts(req *Request) bool {
	list, err := req.ParamList()
	if err != nil || len(list) == 0 {
		return false
	}
	var caps map[string]json.RawMessage
	if err := json.Unmarshal(list[0], &caps); err != nil {
		return false
	}
	_, ok := caps[capabilityAccounts]
	return ok
}

// WalletRequestPermissions grants eth_accounts. The connect gate has
// already run by the time this executes.
func (c *Controller) WalletRequestPermissions(_ context.Context, req *Request) (any, error) {
	out := []types.Permission{}
	if requestsAccounts(req) {
		out = append(out, types.Permission{ParentCapability: capabilityAccounts, Invoker: req.CallerOrigin()})
	}
	return out, nil
}

// WalletGetPermissions lists eth_accounts for connected origins
func (c *Controller) WalletGetPermissions(ctx context.Context, req *Request) (any, error) {
	out := []types.Permission{}
	site, err := c.resolver.ConnectedSite(ctx, req.CallerOrigin())
	if err != nil {
		return nil, err
	}
	if site != nil {
		out = append(out, types.Permission{
			ParentCapability: capabilityAccounts,
			Invoker:          site.Origin,
			Date:             site.ConnectedAt.UnixMilli(),
		})
	}
	return out, nil
}

// WalletRevokePermissions disconnects the origin when eth_accounts is
// revoked while the keyring is unlocked.
func (c *Controller) WalletRevokePermissions(ctx context.Context, req *Request) (any, error) {
	if !c.keyring.IsUnlocked() || !requestsAccounts(req) {
		return nil, nil
	}
	if err := c.Disconnect(ctx, req.CallerOrigin()); err != nil {
		return nil, err
	}
	return nil, nil
}

// Disconnect removes the origin's session and tells it the account list is empty
func (c *Controller) Disconnect(ctx context.Context, origin string) error {
	if err := c.dapps.RemoveDapp(ctx, origin); err != nil {
		return fmt.Errorf("remove dapp: %w", err)
	}
	c.events.Broadcast(origin, session.EventAccountsChanged, []string{})
	logger.Info(ctx, "dapp disconnected", "origin", origin)
	return nil
}
