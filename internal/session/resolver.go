// Package session resolves which account a request is attributed to and
// delivers provider events to connected dapp sessions.
package session

import (
	"context"
	"fmt"

	"github.com/rabby-mobile/provider-core/internal/storage"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

// InternalOrigin is the pseudo-origin used by the wallet's own screens.
const InternalOrigin = "https://rabby.io"

// Resolver attributes requests to accounts. It performs reads only.
type Resolver struct {
	dapps storage.DappStore
	prefs storage.PreferenceStore
}

// NewResolver creates a resolver over the dapp and preference stores
func NewResolver(dapps storage.DappStore, prefs storage.PreferenceStore) *Resolver {
	return &Resolver{dapps: dapps, prefs: prefs}
}

// Resolve returns the account for a request from origin.
//
// The internal origin uses explicit when given, else the fallback account.
// Other origins use the connected session's account, else the fallback
// account, else nil.
func (r *Resolver) Resolve(ctx context.Context, origin string, explicit *types.Account) (*types.Account, error) {
	if origin == InternalOrigin {
		if explicit != nil {
			return explicit, nil
		}
		return r.fallback(ctx)
	}

	dapp, err := r.dapps.GetDapp(ctx, origin)
	if err != nil {
		return nil, fmt.Errorf("lookup dapp session: %w", err)
	}
	if dapp != nil && dapp.IsConnected && dapp.CurrentAccount != nil {
		return dapp.CurrentAccount, nil
	}
	return r.fallback(ctx)
}

func (r *Resolver) fallback(ctx context.Context) (*types.Account, error) {
	acc, err := r.prefs.GetCurrentAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("lookup fallback account: %w", err)
	}
	return acc, nil
}

// ConnectedSite returns the session for origin if it is connected, else nil
func (r *Resolver) ConnectedSite(ctx context.Context, origin string) (*types.DappSession, error) {
	dapp, err := r.dapps.GetDapp(ctx, origin)
	if err != nil {
		return nil, fmt.Errorf("lookup dapp session: %w", err)
	}
	if dapp == nil || !dapp.IsConnected {
		return nil, nil
	}
	return dapp, nil
}

// IsConnected reports whether origin holds connection permission.
// The internal origin is always connected.
func (r *Resolver) IsConnected(ctx context.Context, origin string) (bool, error) {
	if origin == InternalOrigin {
		return true, nil
	}
	site, err := r.ConnectedSite(ctx, origin)
	if err != nil {
		return false, err
	}
	return site != nil, nil
}
