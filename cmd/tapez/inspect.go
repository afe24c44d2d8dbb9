package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zoobzio/tapez/parser"
)

type tapeReport struct {
	Path        string   `json:"path" yaml:"path"`
	Version     string   `json:"version" yaml:"version"`
	Session     string   `json:"session" yaml:"session"`
	Start       string   `json:"start" yaml:"start"`
	Chapters    int      `json:"chapters" yaml:"chapters"`
	Threads     int      `json:"threads" yaml:"threads"`
	Spans       int      `json:"spans" yaml:"spans"`
	Events      int      `json:"events" yaml:"events"`
	Definitions int      `json:"definitions" yaml:"definitions"`
	DurationNS  int64    `json:"duration_ns" yaml:"duration_ns"`
	Dropped     uint64   `json:"dropped_records" yaml:"dropped_records"`
	Partial     bool     `json:"partial" yaml:"partial"`
	Warnings    []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func summarize(path string, m *parser.Model) tapeReport {
	hdr := m.Header()
	r := tapeReport{
		Path:        path,
		Version:     hdr.Version.String(),
		Session:     hdr.SessionID.String(),
		Start:       m.StartTime().UTC().Format(time.RFC3339Nano),
		Chapters:    len(m.Chapters()),
		Threads:     len(m.Threads()),
		Spans:       len(m.Spans()),
		Events:      len(m.Events()),
		Definitions: len(m.Metadata()),
		DurationNS:  int64(m.TimeRange().Duration()),
		Dropped:     m.RecorderStats().DroppedRecords,
		Partial:     m.Partial(),
	}
	for _, w := range m.Warnings() {
		r.Warnings = append(r.Warnings, w.String())
	}
	return r
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <tape>...",
		Short: "Summarize one or more tapes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reports []tapeReport
			err := a.eachTape(cmd.Context(), args, func(path string, m *parser.Model) error {
				reports = append(reports, summarize(path, m))
				return nil
			})
			if rerr := a.render(reports, func(w io.Writer) error {
				for _, r := range reports {
					printReport(w, r)
				}
				return nil
			}); rerr != nil {
				return rerr
			}
			return err
		},
	}
}

func printReport(w io.Writer, r tapeReport) {
	fmt.Fprintf(w, "%s\n", r.Path)
	fmt.Fprintf(w, "  version:     %s\n", r.Version)
	fmt.Fprintf(w, "  session:     %s\n", r.Session)
	fmt.Fprintf(w, "  started:     %s\n", r.Start)
	fmt.Fprintf(w, "  duration:    %s\n", time.Duration(r.DurationNS))
	fmt.Fprintf(w, "  chapters:    %d\n", r.Chapters)
	fmt.Fprintf(w, "  threads:     %d\n", r.Threads)
	fmt.Fprintf(w, "  spans:       %d\n", r.Spans)
	fmt.Fprintf(w, "  events:      %d\n", r.Events)
	fmt.Fprintf(w, "  definitions: %d\n", r.Definitions)
	if r.Partial {
		fmt.Fprintf(w, "  partial:     yes (%d records dropped while recording)\n", r.Dropped)
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}
