package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoPolymarket/weather-trader/internal/config"
)

var (
	cfgPath string
	phase   string
	mode    string
)

var rootCmd = &cobra.Command{
	Use:   "weather-trader",
	Short: "Decision engine for daily-high temperature markets",
	Long: `weather-trader watches ground-truth and forecast temperature sources,
decides when the daily high is in and buys the matching contract once per
market-day.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&phase, "phase", "", "rollout phase preset: paper|shadow|live-small|live")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "", "override trading mode: paper|live")
}

// loadConfig reads the config file and applies env, mode and phase
// overrides in that order.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	cfg.ApplyEnv()
	if mode != "" {
		cfg.TradingMode = mode
	}
	if err := config.ApplyRolloutPhase(&cfg, phase); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
