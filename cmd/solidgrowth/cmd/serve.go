package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"solidgrowth/internal/api"
	"solidgrowth/internal/bot"
	"solidgrowth/internal/config"
	"solidgrowth/internal/database"
	"solidgrowth/internal/ledger"
	"solidgrowth/internal/metrics"
	"solidgrowth/internal/payment"
	"solidgrowth/internal/store"
	"solidgrowth/internal/utils"
	"solidgrowth/internal/worker"
)

const (
	tokenSymbol     = "USDT"
	shutdownTimeout = 10 * time.Second
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the ledger HTTP service",
	PreRunE: setup,
	RunE: func(cmd *cobra.Command, _ []string) error {
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", true, "migrate the database schema before serving")
}

// newGateway binds the ERC-20 payment token and checks its decimals against
// the configured ones, which scale every configured amount.
func newGateway(ctx context.Context) (*payment.ERC20Gateway, error) {
	gw, err := payment.Dial(ctx, cfg.RPCURL, cfg.TokenAddress, cfg.CustodyPrivateKey, cfg.ChainID, log)
	if err != nil {
		return nil, err
	}
	decimals, err := gw.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read token decimals: %w", err)
	}
	if decimals != cfg.TokenDecimals {
		return nil, fmt.Errorf("%w: TOKEN_DECIMALS is %d but token reports %d", config.ErrInvalid, cfg.TokenDecimals, decimals)
	}
	return gw, nil
}

func serve(ctx context.Context) error {
	db, err := database.ConnectPostgres(cfg, log)
	if err != nil {
		return err
	}
	if autoMigrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
	}

	rdb, err := database.ConnectRedis(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	admin, err := utils.ParseAllowList(cfg.AdminCIDRs)
	if err != nil {
		return fmt.Errorf("%w: ADMIN_CIDRS: %w", config.ErrInvalid, err)
	}

	gw, err := newGateway(ctx)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry, cfg.TokenDecimals)
	if err != nil {
		return err
	}

	opts := []ledger.Option{
		ledger.WithStore(store.NewPostgres(db, cfg.DBTimeout)),
		ledger.WithLogger(log.Named("ledger")),
		ledger.WithRecorder(m),
	}
	if cfg.BotToken != "" && cfg.BotChatID != 0 {
		notifier, err := bot.NewNotifier(cfg.BotToken, cfg.BotChatID, tokenSymbol, cfg.TokenDecimals, log.Named("bot"))
		if err != nil {
			return err
		}
		go notifier.Start(ctx)
		opts = append(opts, ledger.WithSubscribers(notifier))
	} else {
		log.Info("telegram notifications disabled")
	}

	l, err := ledger.New(ctx, ledger.Config{
		Owner:         cfg.OwnerAddress,
		Custody:       gw.Custody(),
		MinInvestment: cfg.BaseUnits(cfg.MinInvestment),
		MaxInvestment: cfg.BaseUnits(cfg.MaxInvestment),
	}, gw, opts...)
	if err != nil {
		return err
	}
	log.Info("ledger ready",
		zap.String("owner", l.Owner().Hex()),
		zap.String("custody", l.Custody().Hex()),
		zap.Uint64("positions", l.PositionCount()))

	reconciler := worker.NewReconciler(l, gw, rdb, log.Named("reconciler"), cfg.ReconcileInterval)
	go reconciler.Start(ctx)

	handler := api.NewHandler(l, rdb, admin, log.Named("api"))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
