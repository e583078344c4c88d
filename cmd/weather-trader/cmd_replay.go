package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoPolymarket/weather-trader/internal/logging"
	"github.com/GoPolymarket/weather-trader/internal/replay"
)

var (
	replayMarket  string
	replayVerbose bool
)

var replayCmd = &cobra.Command{
	Use:   "replay [csv files...]",
	Short: "Replay recorded ticks through the decision pipeline",
	Long: `Load recorded per-day CSV files for one market and drive them through
the same pipeline the live loop uses, with paper execution.

Examples:
  weather-trader replay --config configs/example.yaml --market seoul data/records/seoul_*.csv
  weather-trader replay --market seoul --verbose seoul_2026-07-01.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayMarket, "market", "", "market id from the config")
	replayCmd.Flags().BoolVar(&replayVerbose, "verbose", false, "print every tick, not only signal changes")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if replayMarket == "" {
		if len(cfg.Markets) != 1 {
			return errors.New("--market is required when the config lists several markets")
		}
		replayMarket = cfg.Markets[0].ID
	}
	mc, ok := cfg.FindMarket(replayMarket)
	if !ok {
		return fmt.Errorf("market %q not in config", replayMarket)
	}
	m, err := mc.Market()
	if err != nil {
		return err
	}
	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	ticks, err := replay.LoadFiles(args, m)
	if err != nil {
		return err
	}
	log.Info().Str("market", m.ID).Int("ticks", len(ticks)).Int("files", len(args)).Msg("replay loaded")

	r := &replay.Runner{
		Config:     cfg.EngineConfig(),
		Market:     m,
		AmountUSDC: cfg.OrderAmountUSDC,
		Paper:      cfg.Paper,
		Log:        log,
	}
	res, err := r.Run(cmd.Context(), ticks)
	if err != nil {
		return err
	}
	return replay.WriteTable(os.Stdout, res, replayVerbose)
}
