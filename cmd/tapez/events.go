package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zoobzio/tapez/parser"
)

type eventRow struct {
	Timestamp int64    `json:"timestamp_ns" yaml:"timestamp_ns"`
	Thread    uint64   `json:"thread" yaml:"thread"`
	Span      string   `json:"span,omitempty" yaml:"span,omitempty"`
	Name      string   `json:"name,omitempty" yaml:"name,omitempty"`
	Level     string   `json:"level,omitempty" yaml:"level,omitempty"`
	Message   string   `json:"message" yaml:"message"`
	Fields    []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

func eventRows(m *parser.Model, thread uint64, filterThread bool) []eventRow {
	var rows []eventRow
	for _, e := range m.Events() {
		if filterThread && e.ThreadID != thread {
			continue
		}
		row := eventRow{
			Timestamp: e.Timestamp,
			Thread:    e.ThreadID,
			Message:   e.Message,
		}
		if e.Span != nil {
			row.Span = spanName(e.Span)
		}
		if e.Metadata != nil {
			row.Name = e.Metadata.Name
			row.Level = e.Metadata.Level.String()
		}
		for _, f := range e.Fields {
			row.Fields = append(row.Fields, formatField(f))
		}
		rows = append(rows, row)
	}
	return rows
}

func newEventsCmd(a *app) *cobra.Command {
	var thread uint64
	cmd := &cobra.Command{
		Use:   "events <tape>...",
		Short: "List events in timestamp order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := cmd.Flags().Changed("thread")
			return a.eachTape(cmd.Context(), args, func(path string, m *parser.Model) error {
				rows := eventRows(m, thread, filter)
				return a.render(rows, func(w io.Writer) error {
					fmt.Fprintf(w, "%s\n", path)
					for _, r := range rows {
						printEvent(w, r)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().Uint64Var(&thread, "thread", 0, "Only list events recorded on this thread ID")
	return cmd
}

func printEvent(w io.Writer, r eventRow) {
	fmt.Fprintf(w, "  %12s thread=%d", time.Duration(r.Timestamp), r.Thread)
	if r.Level != "" {
		fmt.Fprintf(w, " %s", r.Level)
	}
	if r.Span != "" {
		fmt.Fprintf(w, " [%s]", r.Span)
	}
	fmt.Fprintf(w, " %s", r.Message)
	if len(r.Fields) > 0 {
		fmt.Fprintf(w, " %s", strings.Join(r.Fields, " "))
	}
	fmt.Fprintln(w)
}
