package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"

	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/provider"
	"github.com/rabby-mobile/provider-core/internal/session"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

const erc20ApproveABI = `[{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

var erc20ABI = mustParseABI(erc20ApproveABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// RevokeItem is one ERC-20 allowance to reset
type RevokeItem struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
}

// RevokeCalldata encodes approve(spender, 0)
func RevokeCalldata(spender string) (string, error) {
	if !common.IsHexAddress(spender) {
		return "", apperrors.InvalidParams("invalid spender " + spender)
	}
	data, err := erc20ABI.Pack("approve", common.HexToAddress(spender), big.NewInt(0))
	if err != nil {
		return "", fmt.Errorf("pack approve: %w", err)
	}
	return hexutil.Encode(data), nil
}

// RevokeApprovals sends one approve(spender, 0) per item from account, one
// at a time. The first failure stops the queue; items not yet started are
// dropped. It returns the hashes of the transactions that were sent.
func (p *Pipeline) RevokeApprovals(ctx context.Context, account *types.Account, chainID int64, items []RevokeItem) ([]string, error) {
	if account == nil {
		return nil, apperrors.InvalidParams("account is required")
	}
	for _, it := range items {
		if !common.IsHexAddress(it.Token) {
			return nil, apperrors.InvalidParams("invalid token " + it.Token)
		}
	}

	hashes := make([]string, 0, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(1)
	for i, it := range items {
		g.Go(func() error {
			if gctx.Err() != nil {
				logger.Debug(ctx, "revoke skipped after failure", "index", i)
				return nil
			}
			res, err := p.revokeOne(gctx, account, chainID, it)
			if err != nil {
				return fmt.Errorf("revoke %s for %s: %w", it.Token, it.Spender, err)
			}
			if hash, ok := res.(string); ok {
				hashes = append(hashes, hash)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn(ctx, "revoke queue aborted", "sent", len(hashes), "error", err)
		return hashes, err
	}
	return hashes, nil
}

func (p *Pipeline) revokeOne(ctx context.Context, account *types.Account, chainID int64, it RevokeItem) (any, error) {
	data, err := RevokeCalldata(it.Spender)
	if err != nil {
		return nil, err
	}
	tx := types.TxParams{
		From:    account.Address,
		To:      it.Token,
		Value:   "0x0",
		Data:    data,
		ChainID: types.ChainID(chainID),
	}
	params, err := json.Marshal([]types.TxParams{tx})
	if err != nil {
		return nil, fmt.Errorf("encode revoke tx: %w", err)
	}
	return p.Handle(ctx, &ProviderRequest{
		Data:    provider.RequestData{Method: "eth_sendTransaction", Params: params},
		Session: provider.Session{Origin: session.InternalOrigin},
		Origin:  session.InternalOrigin,
		Account: account,
	})
}
