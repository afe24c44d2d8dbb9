package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/zoobzio/tapez"
	"go.uber.org/zap"
)

type demoOptions struct {
	path     string
	workers  int
	jobs     int
	work     time.Duration
	compress bool
	metrics  bool
}

type demoReport struct {
	Path     string            `json:"path" yaml:"path"`
	Records  uint64            `json:"records" yaml:"records"`
	Chapters uint64            `json:"chapters" yaml:"chapters"`
	Bytes    uint64            `json:"bytes" yaml:"bytes"`
	Dropped  uint64            `json:"dropped_records" yaml:"dropped_records"`
	Metrics  map[string]uint64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

func newRecordDemoCmd(a *app) *cobra.Command {
	opts := demoOptions{}
	cmd := &cobra.Command{
		Use:   "record-demo",
		Short: "Record a tape of a small worker pool",
		Long: `record-demo runs a dispatcher handing jobs to a pool of workers and records
it to a new tape. Jobs are entered on the dispatcher and exited on the worker
that ran them, so the tape holds cross-thread parents and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.workers < 1 || opts.jobs < 0 {
				return fmt.Errorf("need at least one worker and a non-negative job count")
			}
			if opts.path == "" {
				opts.path = tapez.DefaultPath(time.Now())
			}
			report, err := recordDemo(cmd.Context(), a.logger, opts)
			if err != nil {
				return err
			}
			return a.render(report, func(w io.Writer) error {
				fmt.Fprintf(w, "wrote %s: %d records in %d chapters, %d bytes\n",
					report.Path, report.Records, report.Chapters, report.Bytes)
				if report.Dropped > 0 {
					fmt.Fprintf(w, "dropped %d records\n", report.Dropped)
				}
				for _, name := range slices.Sorted(maps.Keys(report.Metrics)) {
					fmt.Fprintf(w, "%s %d\n", name, report.Metrics[name])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.path, "out", "", "Tape path (default <executable>_<timestamp>.tape)")
	cmd.Flags().IntVar(&opts.workers, "workers", 4, "Number of worker goroutines")
	cmd.Flags().IntVar(&opts.jobs, "jobs", 100, "Number of jobs to dispatch")
	cmd.Flags().DurationVar(&opts.work, "work", 200*time.Microsecond, "Simulated time spent per job")
	cmd.Flags().BoolVar(&opts.compress, "compress", false, "Compress the tape with zstd")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "Report the recorder's Prometheus counters")
	return cmd
}

type job struct {
	span *tapez.Span
	n    int
}

func recordDemo(ctx context.Context, logger *zap.Logger, opts demoOptions) (demoReport, error) {
	sink, err := tapez.OpenFile(opts.path, opts.compress)
	if err != nil {
		return demoReport{}, err
	}

	reg := prometheus.NewRegistry()
	rec, err := tapez.New(sink,
		tapez.WithLogger(logger),
		tapez.WithMetrics(tapez.NewMetrics(reg)))
	if err != nil {
		_ = sink.Close()
		return demoReport{}, err
	}

	batchSite := rec.Register(tapez.SpanSite("batch"))
	jobSite := rec.Register(tapez.SpanSite("job"))
	runSite := rec.Register(tapez.SpanSite("run"))
	doneSite := rec.Register(tapez.EventSite("job done"))

	dispatch := rec.Thread("dispatcher")
	ctx, batch := dispatch.Start(ctx, batchSite, tapez.F("jobs", tapez.Int64(int64(opts.jobs))))

	jobs := make(chan job)
	var wg sync.WaitGroup
	for i := range opts.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th := rec.Thread(fmt.Sprintf("worker-%d", i))
			defer th.Close()
			for j := range jobs {
				run := th.Open(runSite)
				th.Enter(run, j.span)
				if opts.work > 0 {
					time.Sleep(opts.work)
				}
				th.Event(doneSite, run, "job done", tapez.F("job", tapez.Int64(int64(j.n))))
				th.Exit(run)
				th.Exit(j.span)
			}
		}()
	}

dispatchLoop:
	for n := range opts.jobs {
		span := dispatch.Open(jobSite, tapez.F("n", tapez.Int64(int64(n))))
		dispatch.Enter(span, batch)
		select {
		case jobs <- job{span: span, n: n}:
		case <-ctx.Done():
			dispatch.Exit(span)
			break dispatchLoop
		}
	}
	close(jobs)
	wg.Wait()
	dispatch.Exit(batch)
	dispatch.Close()

	if err := rec.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return demoReport{}, err
	}

	stats := rec.Stats()
	report := demoReport{
		Path:     opts.path,
		Records:  stats.Records,
		Chapters: stats.Chapters,
		Bytes:    stats.BytesWritten,
		Dropped:  stats.DroppedRecords,
	}
	if opts.metrics {
		families, err := reg.Gather()
		if err != nil {
			return report, fmt.Errorf("gather metrics: %w", err)
		}
		report.Metrics = make(map[string]uint64, len(families))
		for _, mf := range families {
			for _, m := range mf.GetMetric() {
				report.Metrics[mf.GetName()] = uint64(m.GetCounter().GetValue())
			}
		}
	}
	logger.Info("demo tape recorded", zap.String("path", opts.path), zap.Uint64("records", stats.Records))
	return report, ctx.Err()
}
