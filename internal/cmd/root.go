package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mvdbeek/gravity"
)

var (
	configFile string
	stateDir   string
	debug      bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "galaxyctl",
	Short: "Manage the lifecycle of a Galaxy instance's services",
	Long: `galaxyctl manages a Galaxy instance's services (web server, workers,
scheduler, proxies) through a backend process manager.

The instance is described in a YAML configuration file selected with
--config-file. Run "update" after configuration changes to regenerate
the backend's native configuration, then "start", "stop", "restart" and
"status" to drive the services.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = newLogger(debug)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", "", "instance configuration file")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "state directory (list only; other commands use the configuration's)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func newLogger(debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}

// loadOrchestrator builds the orchestrator for the configured instance
func loadOrchestrator() (*gravity.Orchestrator, error) {
	if configFile == "" {
		return nil, fmt.Errorf("--config-file is required")
	}
	cfg, err := gravity.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	return gravity.NewOrchestrator(cfg, gravity.WithLogger(logger))
}

// report prints a lifecycle result and converts it to an error for the
// exit code when the operation failed.
func report(res gravity.Result) error {
	if res.OK {
		if res.Message != "" {
			fmt.Fprintln(os.Stdout, res.Message)
		}
		return nil
	}
	if res.Diagnostic != "" {
		fmt.Fprintln(os.Stderr, res.Diagnostic)
	}
	return fmt.Errorf("%s", res.Message)
}
