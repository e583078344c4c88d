package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	polymarket "github.com/GoPolymarket/polymarket-go-sdk"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/GoPolymarket/weather-trader/internal/api"
	"github.com/GoPolymarket/weather-trader/internal/app"
	"github.com/GoPolymarket/weather-trader/internal/engine"
	"github.com/GoPolymarket/weather-trader/internal/logging"
	"github.com/GoPolymarket/weather-trader/internal/metrics"
	"github.com/GoPolymarket/weather-trader/internal/notify"
	"github.com/GoPolymarket/weather-trader/internal/record"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the live decision loops",
	Long: `Poll every configured market on tick_interval, evaluate the consensus,
forecast guard and strategy, and place buys in paper or live mode.

Examples:
  weather-trader run --config configs/example.yaml
  weather-trader run --config prod.yaml --phase shadow`,
	RunE: runTrader,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runTrader(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	log.Info().
		Str("mode", cfg.TradingMode).
		Bool("dry_run", cfg.DryRun).
		Str("phase", strings.TrimSpace(phase)).
		Float64("order_amount_usdc", cfg.OrderAmountUSDC).
		Int("markets", len(cfg.Markets)).
		Msg("weather-trader starting")

	sdkClient := polymarket.NewClient()
	clobClient := sdkClient.CLOB
	wsClient := sdkClient.CLOBWS
	var signer auth.Signer
	if cfg.PrivateKey != "" && cfg.APIKey != "" {
		signer, err = auth.NewPrivateKeySigner(strings.TrimSpace(cfg.PrivateKey), 137)
		if err != nil {
			return err
		}
		apiKey := &auth.APIKey{
			Key:        strings.TrimSpace(cfg.APIKey),
			Secret:     strings.TrimSpace(cfg.APISecret),
			Passphrase: strings.TrimSpace(cfg.APIPassphrase),
		}
		clobClient = clobClient.WithAuth(signer, apiKey)
		wsClient = wsClient.Authenticate(signer, apiKey)
	} else if cfg.TradingMode == "live" && !cfg.DryRun {
		return errors.New("live mode requires POLYMARKET_PK and POLYMARKET_API_KEY")
	} else {
		log.Info().Msg("no API credentials: using public order book data")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	var sinks record.Multi
	var store *record.Store
	if cfg.Record.SQLitePath != "" {
		store, err = record.Open(cfg.Record.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
		log.Info().Str("path", cfg.Record.SQLitePath).Str("run_id", store.RunID()).Msg("decision log opened")
	}
	if cfg.Record.CSVDir != "" {
		markets := make([]engine.Market, 0, len(cfg.Markets))
		for _, mc := range cfg.Markets {
			m, err := mc.Market()
			if err != nil {
				return err
			}
			markets = append(markets, m)
		}
		csvRec, err := record.NewCSVRecorder(cfg.Record.CSVDir, markets)
		if err != nil {
			return err
		}
		defer csvRec.Close()
		sinks = append(sinks, csvRec)
	}

	deps := app.Deps{
		CLOB:    clobClient,
		WS:      wsClient,
		Gamma:   sdkClient.Gamma,
		Data:    sdkClient.Data,
		Signer:  signer,
		HTTP:    &http.Client{Timeout: cfg.PollTimeout},
		Sink:    sinks,
		Metrics: rec,
		Log:     log,
	}
	if cfg.Telegram.Enabled {
		deps.Notifier = notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.LockCooldown)
	}
	a, err := app.New(cfg, deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var apiServer *api.Server
	if cfg.API.Enabled {
		var ds api.DecisionStore
		if store != nil {
			ds = store
		}
		apiServer = api.NewServer(cfg.API.Addr, a, ds, reg, log)
		if err := apiServer.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("api server failed to start")
			apiServer = nil
		}
	}

	runErr := a.Run(ctx)
	if runErr != nil {
		log.Error().Err(runErr).Msg("run error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if apiServer != nil {
		_ = apiServer.Shutdown(shutdownCtx)
	}
	a.Shutdown(shutdownCtx)
	return runErr
}
