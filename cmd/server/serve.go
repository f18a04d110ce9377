package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/rabby-mobile/provider-core/internal/api"
	"github.com/rabby-mobile/provider-core/internal/config"
	"github.com/rabby-mobile/provider-core/internal/eth"
	"github.com/rabby-mobile/provider-core/internal/flow"
	"github.com/rabby-mobile/provider-core/internal/keyring"
	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/metrics"
	"github.com/rabby-mobile/provider-core/internal/middleware"
	"github.com/rabby-mobile/provider-core/internal/notification"
	"github.com/rabby-mobile/provider-core/internal/openapi"
	"github.com/rabby-mobile/provider-core/internal/provider"
	"github.com/rabby-mobile/provider-core/internal/rpccache"
	"github.com/rabby-mobile/provider-core/internal/session"
	"github.com/rabby-mobile/provider-core/internal/stats"
	"github.com/rabby-mobile/provider-core/internal/storage"
	"github.com/rabby-mobile/provider-core/internal/txflow"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the provider HTTP bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(v)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.LogFormat, cfg.LogLevel); err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP listen port")
	cmd.Flags().String("log-level", "INFO", "DEBUG, INFO, WARN or ERROR")
	_ = v.BindPFlag("PORT", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("LOG_LEVEL", cmd.Flags().Lookup("log-level"))
	return cmd
}

type stores struct {
	dapps   storage.DappStore
	prefs   storage.PreferenceStore
	history storage.TxHistory
	ping    func(ctx context.Context) error
	close   func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if !cfg.UsePostgres() {
		mem := storage.NewMemoryStore()
		slog.Warn("POSTGRES_DSN not set, dapp sessions and tx history are kept in memory")
		return &stores{dapps: mem, prefs: mem, history: mem, close: func() {}}, nil
	}
	db, err := storage.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	slog.Info("connected to database")
	return &stores{
		dapps:   storage.NewDappRepository(db),
		prefs:   storage.NewPreferenceRepository(db),
		history: storage.NewTxHistoryRepository(db),
		ping:    db.Ping,
		close:   db.Close,
	}, nil
}

// uiAuth builds the wallet UI credential check. Without a configured
// secret the UI routes stay closed.
func uiAuth(cfg *config.Config) (*middleware.UIAuth, error) {
	switch {
	case cfg.UISecretHash != "":
		return middleware.NewUIAuth(cfg.UISecretHash)
	case cfg.UISecret != "":
		return middleware.NewUIAuthFromSecret(cfg.UISecret, bcrypt.DefaultCost)
	default:
		slog.Warn("UI_SECRET not set, approval and wallet routes will refuse every request")
		return nil, nil
	}
}

// seedCurrentAccount picks the first keyring account when none is stored
func seedCurrentAccount(ctx context.Context, kr keyring.Keyring, prefs storage.PreferenceStore) error {
	current, err := prefs.GetCurrentAccount(ctx)
	if err != nil || current != nil {
		return err
	}
	accounts, err := kr.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		return err
	}
	return prefs.SetCurrentAccount(ctx, &accounts[0])
}

func serve(ctx context.Context, cfg *config.Config) error {
	registry, err := loadChains(cfg.ChainsFile)
	if err != nil {
		return err
	}

	auth, err := uiAuth(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	kr, err := keyring.NewLocal(cfg.KeyringPassword, cfg.DevPrivateKeys...)
	if err != nil {
		return fmt.Errorf("initialize keyring: %w", err)
	}
	if err := seedCurrentAccount(ctx, kr, st.prefs); err != nil {
		return fmt.Errorf("seed current account: %w", err)
	}

	pool := eth.NewPool()
	defer pool.Close()
	backend := openapi.NewClient(cfg.OpenAPIURL, &http.Client{Timeout: 30 * time.Second})

	watcher := txflow.NewWatcher(pool, st.history, txflow.WithOutcome(func(o txflow.Outcome) {
		m.TxFlowStage(strconv.FormatInt(o.Key.ChainID, 10), o.State.Phase.String())
		slog.Info("pending tx settled",
			"address", o.Key.Address,
			"nonce", o.Key.Nonce,
			"chain_id", o.Key.ChainID,
			"phase", o.State.Phase.String())
	}))
	defer watcher.Stop()
	submitter := txflow.NewSubmitter(backend, pool, st.prefs, st.history, watcher, cfg.PersistFailedTx)
	defer submitter.Wait()

	events := session.NewEvents()
	resolver := session.NewResolver(st.dapps, st.prefs)
	ctrl := provider.NewController(provider.Deps{
		Chains:    registry,
		Resolver:  resolver,
		Dapps:     st.dapps,
		Prefs:     st.prefs,
		History:   st.history,
		Keyring:   kr,
		Backend:   backend,
		RPC:       pool,
		Cache:     rpccache.New(cfg.RPCCacheTTL, m),
		Events:    events,
		Submitter: submitter,
	})
	approvals := notification.NewService(st.history, notification.NewBus(), m, notification.Config{
		RejectWindow:     cfg.RejectWindow,
		BlockDuration:    cfg.BlockDuration,
		SkipStreakOrigin: session.InternalOrigin,
	})
	pipe := flow.New(flow.Deps{
		Registry:            flow.NewRegistry(ctrl),
		Controller:          ctrl,
		Approvals:           approvals,
		Resolver:            resolver,
		Dapps:               st.dapps,
		History:             st.history,
		Backend:             backend,
		Metrics:             m,
		Reporter:            stats.MetricsReporter{Metrics: m},
		MaxApprovalStages:   cfg.MaxApprovalStages,
		MetamaskModeOrigins: cfg.MetamaskModeOrigins,
	})

	server := api.NewServer(api.Deps{
		Config:     cfg,
		Pipeline:   pipe,
		Controller: ctrl,
		Approvals:  approvals,
		Dapps:      st.dapps,
		Events:     events,
		Gatherer:   reg,
		Limiter:    middleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled),
		UIAuth:     auth,
		Ping:       st.ping,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// pending dapp calls are released before connections drain
	if n := approvals.RejectAllApprovals(shutdownCtx); n > 0 {
		slog.Info("rejected pending approvals", "count", n)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during shutdown", "error", err)
		return err
	}
	slog.Info("server stopped")
	return nil
}
