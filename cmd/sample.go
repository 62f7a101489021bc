package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CraigKelly/nutsgo/model"
	"github.com/CraigKelly/nutsgo/sampler"
	"github.com/CraigKelly/nutsgo/trace"
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Run the chains on a model and print a summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSample(cmd.Context(), sp)
	},
}

func init() {
	sampleCmd.Flags().StringVarP(&sp.modelFile, "model", "m", "", "YAML model file to read")
	sampleCmd.Flags().IntVar(&sp.maxSeconds, "max-seconds", 0, "Stop sampling after this many seconds (0 is no limit)")
	sampleCmd.Flags().StringVar(&sp.httpAddr, "http", "", "Serve prometheus metrics on this address (e.g. :8000)")
	sampleCmd.MarkFlagRequired("model")

	rootCmd.AddCommand(sampleCmd)
}

// runSample reads the model and configuration, samples until done (or
// interrupted) and reports the result.
func runSample(ctx context.Context, sp *startupParams) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := sp.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("Reading model", zap.String("file", sp.modelFile))
	m, err := model.NewModelFromFile(sp.modelFile)
	if err != nil {
		return err
	}
	logger.Info("Model loaded",
		zap.String("name", m.Name),
		zap.Int("ndim", m.NDim),
		zap.Int("vars", len(m.Vars)))

	s, err := loadSettings(sp)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if sp.maxSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(sp.maxSeconds)*time.Second)
		defer cancel()
	}

	hooks := []sampler.ProgressFunc{
		sampler.RateLimited(2*time.Second, func(p sampler.Progress) error {
			logger.Info(p.String(), zap.Int("done", p.Done), zap.Int("total", p.Total))
			return nil
		}),
	}

	if len(sp.httpAddr) > 0 {
		mon := newMonitor(logger)
		if err := mon.Start(sp.httpAddr); err != nil {
			return err
		}
		defer mon.Stop()
		hooks = append(hooks, mon.Update)
	}

	res, err := sampler.Sample(ctx, m, s,
		sampler.WithLogger(logger),
		sampler.WithProgress(fanOut(hooks...)),
	)
	if err != nil {
		return err
	}

	return report(sp.out, res)
}

// fanOut calls every hook and returns the first error.
func fanOut(hooks ...sampler.ProgressFunc) sampler.ProgressFunc {
	return func(p sampler.Progress) error {
		var first error
		for _, h := range hooks {
			if err := h(p); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
}

func f3(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// report writes the run outcome, the per-chain state and the posterior
// summary.
func report(out io.Writer, res *sampler.Result) error {
	tr := res.Trace

	status := "complete"
	if res.Interrupted {
		status = "INTERRUPTED (partial trace)"
	}
	fmt.Fprintf(out, "Run %s: %s\n", tr.Attrs["run_id"], status)
	fmt.Fprintf(out, "Chains: %d, Tune: %d, Draws: %d, Consumed: %d, Divergences: %d, Time: %ss\n",
		tr.Chains, tr.Tune, tr.Draws, res.Consumed, res.Divergences, tr.Attrs["sampling_time"])
	if res.FinalizeErr != nil {
		fmt.Fprintf(out, "Sampler shutdown error: %v\n", res.FinalizeErr)
	}

	if len(res.Chains) > 0 {
		chains := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("chain", "draws", "divergences", "step size", "accept", "last accept")
		for _, c := range res.Chains {
			chains.Row(
				strconv.Itoa(c.Chain),
				fmt.Sprintf("%d/%d", c.FinishedDraws, c.TotalDraws),
				strconv.Itoa(c.Divergences),
				f3(c.StepSize),
				f3(c.MeanAccept),
				f3(c.LatestAccept),
			)
		}
		fmt.Fprintln(out, chains.String())
	}

	summary, err := trace.Summarize(tr)
	if err != nil {
		return err
	}

	vars := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("variable", "draws", "mean", "sd", "r_hat")
	for _, v := range summary {
		vars.Row(v.Name, strconv.Itoa(v.Draws), f3(v.Mean), f3(v.SD), f3(v.RHat))
	}
	fmt.Fprintln(out, vars.String())

	return nil
}
