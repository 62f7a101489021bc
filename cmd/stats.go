package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/CraigKelly/nutsgo/sampler"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the per-draw statistics a run configuration records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(sp)
	},
}

func init() {
	statsCmd.Flags().IntVarP(&sp.ndim, "ndim", "n", 1, "Model dimensionality")
	rootCmd.AddCommand(statsCmd)
}

func runStats(sp *startupParams) error {
	s, err := loadSettings(sp)
	if err != nil {
		return err
	}

	schema, err := sampler.ResolveStats(s, sp.ndim)
	if err != nil {
		return errors.Wrapf(err, "Could not resolve stats")
	}

	return printSchema(sp.out, s, schema)
}

func printSchema(out io.Writer, s *sampler.Settings, schema *sampler.StatSchema) error {
	fmt.Fprintf(out, "Adaptation: %s, NDim: %d\n", s.Adaptation, schema.NDim)

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("stat", "kind", "dims", "shape")
	for _, f := range schema.Fields {
		dims := append([]string{"chain", "draw"}, f.Dims...)
		tbl.Row(f.Name, f.Kind.String(), strings.Join(dims, ", "), fmt.Sprint(f.Shape))
	}
	_, err := fmt.Fprintln(out, tbl.String())
	return err
}
