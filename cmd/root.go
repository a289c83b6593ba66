package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/config"
)

var (
	cfg *config.Config

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "directory-cli",
	Short: "Directory entity extraction orchestrator",
	Long: `Admits extraction requests for restaurants, hotels, malls, attractions,
fitness centers and schools, then runs each type's step pipeline against
places, web, research and AI providers.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) { _ = zap.L().Sync() },
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
	f.StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

// setup loads configuration and installs the global logger before any
// subcommand runs.
func setup(*cobra.Command, []string) error {
	c, err := config.LoadFile(configPath)
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if err := config.InitLogger(c.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
