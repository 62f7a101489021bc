package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// startupParams are the flag values shared by every command.
type startupParams struct {
	verbose    bool
	modelFile  string
	configFile string
	sets       []string
	maxSeconds int
	httpAddr   string
	ndim       int

	out    io.Writer
	logger *zap.Logger
}

var sp = &startupParams{out: os.Stdout}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nutsgo",
	Short: "Parallel MCMC sampling runs",
	Long: `nutsgo runs parallel MCMC chains on a model and assembles their draws
into a labeled trace. Among other features:

  - Diagonal Gaussian models read from YAML files
  - Run configuration from YAML with per-option overrides
  - Graceful stop on Ctrl-C or a time limit, keeping the partial trace
  - Prometheus progress metrics over HTTP
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(sp.verbose)
		if err != nil {
			return err
		}
		sp.logger = logger
		sp.out = cmd.OutOrStdout()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sp.logger != nil {
			_ = sp.logger.Sync()
		}
	},
}

// newLogger builds the production logger, at debug level when verbose.
// Output goes to stderr unless paths are given.
func newLogger(verbose bool, paths ...string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if len(paths) > 0 {
		config.OutputPaths = paths
	}
	logger, err := config.Build()
	if err != nil {
		return nil, errors.Wrapf(err, "Could not initialize logger")
	}
	return logger, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.PersistentFlags().BoolVarP(&sp.verbose, "verbose", "v", false, "Verbose logging (default is much more parsimonious)")
	rootCmd.PersistentFlags().StringVarP(&sp.configFile, "config", "c", "", "Run configuration YAML file")
	rootCmd.PersistentFlags().StringArrayVarP(&sp.sets, "set", "s", nil, "Override one run option as name=value (repeatable)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
