package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zoobzio/tapez/parser"
)

type statsRow struct {
	Name   string        `json:"name" yaml:"name"`
	ID     uint64        `json:"metadata_id" yaml:"metadata_id"`
	Count  int           `json:"count" yaml:"count"`
	Open   int           `json:"open" yaml:"open"`
	Min    time.Duration `json:"min_ns" yaml:"min_ns"`
	Q1     time.Duration `json:"q1_ns" yaml:"q1_ns"`
	Median time.Duration `json:"median_ns" yaml:"median_ns"`
	Q3     time.Duration `json:"q3_ns" yaml:"q3_ns"`
	Max    time.Duration `json:"max_ns" yaml:"max_ns"`
	Mean   time.Duration `json:"mean_ns" yaml:"mean_ns"`
	StdDev time.Duration `json:"stddev_ns" yaml:"stddev_ns"`
	Fast   []uint64      `json:"fast_outliers,omitempty" yaml:"fast_outliers,omitempty"`
	Slow   []uint64      `json:"slow_outliers,omitempty" yaml:"slow_outliers,omitempty"`
}

func statsRows(m *parser.Model) []statsRow {
	var rows []statsRow
	for _, s := range parser.AllDurationStats(m) {
		row := statsRow{
			ID:     s.MetadataID,
			Count:  s.Count,
			Open:   s.Open,
			Min:    s.Min,
			Q1:     s.Q1,
			Median: s.Median,
			Q3:     s.Q3,
			Max:    s.Max,
			Mean:   s.Mean,
			StdDev: s.StdDev,
		}
		if def, ok := m.Definition(s.MetadataID); ok {
			row.Name = def.Name
		}
		for _, sp := range s.Fast {
			row.Fast = append(row.Fast, sp.ID)
		}
		for _, sp := range s.Slow {
			row.Slow = append(row.Slow, sp.ID)
		}
		rows = append(rows, row)
	}
	return rows
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <tape>...",
		Short: "Print span duration statistics per definition",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.eachTape(cmd.Context(), args, func(path string, m *parser.Model) error {
				rows := statsRows(m)
				return a.render(rows, func(w io.Writer) error {
					fmt.Fprintf(w, "%s\n", path)
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "  SPAN\tCOUNT\tOPEN\tMIN\tMEDIAN\tMEAN\tMAX\tSLOW\tFAST")
					for _, r := range rows {
						fmt.Fprintf(tw, "  %s\t%d\t%d\t%s\t%s\t%s\t%s\t%d\t%d\n",
							r.Name, r.Count, r.Open, r.Min, r.Median, r.Mean, r.Max, len(r.Slow), len(r.Fast))
					}
					return tw.Flush()
				})
			})
		},
	}
}
