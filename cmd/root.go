package cmd

import (
	"context"
	"fmt"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/config"
	"github.com/michaelpento.lv/flashlender/simulator"
	"github.com/michaelpento.lv/flashlender/utils"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "flashsim",
	Short: "Simulate flash loans across lending facilities",
	Long: `flashsim builds a world of flash lending facilities from a YAML file,
wraps each in a uniform flash lender, and quotes or simulates loans against
them with a configurable borrower.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("world file (default is $%s or %s)", config.EnvConfigPath, config.DefaultWorldPath))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, fmt.Sprintf("enable debug logging (or set $%s)", config.EnvDebug))
}

func initConfig() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "failed to load .env: %v\n", err)
	}
	if cfgFile == "" {
		cfgFile = config.GetEnvWithDefault(config.EnvConfigPath, config.DefaultWorldPath)
	}
	if !debug {
		debug = config.GetEnvBool(config.EnvDebug, false)
	}
	utils.InitLogger(debug)
}

// loadSimulator builds the configured world. Its metrics go to a private
// registry; the CLI runs one command per process.
func loadSimulator() (*simulator.Simulator, error) {
	log := utils.GetLogger()

	world, err := config.LoadWorld(cfgFile)
	if err != nil {
		return nil, err
	}
	sim, err := simulator.New(world, log, prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}

	log.Debug("World loaded",
		zap.String("config", cfgFile),
		zap.Int("lenders", len(world.Lenders)),
		zap.Int("assets", len(world.Assets)))
	return sim, nil
}

func parseAmount(s string) (*big.Int, error) {
	amount, err := config.ParseAmount(s)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}
