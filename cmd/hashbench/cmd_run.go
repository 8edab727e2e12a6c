package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/hashbench/internal/dispatch"
	"github.com/user/hashbench/internal/gen"
	"github.com/user/hashbench/internal/queue"
)

var (
	runRequests    int
	runConcurrency int
	runBatchSize   int
	runMode        string
	runRepeats     int
	runRepeatPause time.Duration
	runReportEvery int
	runNoFallback  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load benchmark against a sink server",
	RunE:  runBench,
}

func init() {
	runCmd.Flags().IntVar(&runRequests, "requests", 100000, "Total number of records to send")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 2, "Number of concurrent in-flight requests")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 10000, "Records per request in batch mode")
	runCmd.Flags().StringVar(&runMode, "mode", "batch", "Benchmark mode: single, batch, or matrix")
	runCmd.Flags().IntVar(&runRepeats, "repeats", 1, "Number of benchmark repeats per mode")
	runCmd.Flags().DurationVar(&runRepeatPause, "repeat-pause", 0, "Pause between repeats (e.g. 500ms)")
	runCmd.Flags().IntVar(&runReportEvery, "report-every", 10000, "Progress line interval in completed records")
	runCmd.Flags().BoolVar(&runNoFallback, "no-batch-fallback", false, "Drop a failed batch instead of retrying its records individually")
	addClientFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

type runSummary struct {
	ratePerSec float64
	avg        time.Duration
	p50        time.Duration
	p90        time.Duration
	p99        time.Duration
	min        time.Duration
	max        time.Duration
	completed  int64
	failed     int64
}

func runBench(cmd *cobra.Command, args []string) error {
	if runRequests < 1 || runConcurrency < 1 {
		return fmt.Errorf("requests and concurrency must be >= 1")
	}
	if runBatchSize < 1 {
		runBatchSize = 1
	}

	fmt.Printf("hashbench\n")
	fmt.Printf("  server:      %s\n", serverURL)
	fmt.Printf("  mode:        %s\n", runMode)
	fmt.Printf("  requests:    %d\n", runRequests)
	fmt.Printf("  concurrency: %d\n", runConcurrency)
	fmt.Printf("  batch-size:  %d\n", runBatchSize)
	fmt.Printf("  repeats:     %d\n\n", runRepeats)

	sink := newClient()

	// Preflight so a dead sink fails fast instead of producing a run
	// that is all errors.
	ctx := context.Background()
	if err := sink.Healthz(ctx); err != nil {
		return fmt.Errorf("cannot reach sink at %s: %w", serverURL, err)
	}

	run := func(batchSize int, label string) error {
		if runMode == "matrix" {
			fmt.Printf("\n=== Mode: %s ===\n", label)
		}
		runs := make([]runSummary, 0, runRepeats)
		for i := 1; i <= runRepeats; i++ {
			if runRepeats > 1 {
				fmt.Printf("\n-- Run %d/%d --\n", i, runRepeats)
			}

			fmt.Printf("generating %d random records...\n", runRequests)
			records, err := gen.Records(runRequests)
			if err != nil {
				return err
			}

			d := dispatch.New(sink, dispatch.Config{
				Concurrency:   runConcurrency,
				BatchSize:     batchSize,
				ReportEvery:   runReportEvery,
				BatchFallback: !runNoFallback,
				Progress:      os.Stdout,
			})
			result := d.Run(ctx, queue.New(records))
			runs = append(runs, printStats(result))

			if i < runRepeats && runRepeatPause > 0 {
				time.Sleep(runRepeatPause)
			}
		}
		if runRepeats > 1 {
			fmt.Println("\n=== Repeat Summary ===")
			printRunAggregate(runs)
		}
		return nil
	}

	switch runMode {
	case "single":
		return run(1, "single")
	case "batch":
		return run(runBatchSize, "batch")
	case "matrix":
		if err := run(1, "single"); err != nil {
			return err
		}
		return run(runBatchSize, "batch")
	default:
		return fmt.Errorf("invalid --mode %q (expected single, batch, matrix)", runMode)
	}
}

func summarize(r dispatch.Result) runSummary {
	s := runSummary{
		ratePerSec: r.Rate(),
		completed:  r.Completed,
		failed:     r.Failed,
	}
	lats := r.Latencies
	if len(lats) == 0 {
		return s
	}
	slices.Sort(lats)

	var sum time.Duration
	for _, l := range lats {
		sum += l
	}
	n := len(lats)
	s.avg = sum / time.Duration(n)
	s.p50 = lats[percentileIndex(n, 50)]
	s.p90 = lats[percentileIndex(n, 90)]
	s.p99 = lats[percentileIndex(n, 99)]
	s.min = lats[0]
	s.max = lats[n-1]
	return s
}

func printStats(r dispatch.Result) runSummary {
	fmt.Printf("completed in %.2f seconds\n", r.Elapsed.Seconds())
	s := summarize(r)
	fmt.Printf("  records/sec: %.2f\n", s.ratePerSec)
	fmt.Printf("  completed:   %d\n", s.completed)
	if s.failed > 0 {
		fmt.Printf("  failed:      %d\n", s.failed)
	}
	if s.completed == 0 {
		return s
	}
	fmt.Printf("  avg req:     %s\n", s.avg.Round(time.Microsecond))
	fmt.Printf("  p50 req:     %s\n", s.p50.Round(time.Microsecond))
	fmt.Printf("  p90 req:     %s\n", s.p90.Round(time.Microsecond))
	fmt.Printf("  p99 req:     %s\n", s.p99.Round(time.Microsecond))
	fmt.Printf("  min req:     %s\n", s.min.Round(time.Microsecond))
	fmt.Printf("  max req:     %s\n", s.max.Round(time.Microsecond))
	return s
}

func printRunAggregate(runs []runSummary) {
	rateVals := make([]float64, 0, len(runs))
	p99Vals := make([]time.Duration, 0, len(runs))
	for _, r := range runs {
		if r.completed == 0 {
			continue
		}
		rateVals = append(rateVals, r.ratePerSec)
		p99Vals = append(p99Vals, r.p99)
	}
	if len(rateVals) == 0 {
		fmt.Println("  no successful runs")
		return
	}
	slices.Sort(rateVals)
	slices.Sort(p99Vals)
	fmt.Printf("  records/sec median: %.2f\n", rateVals[len(rateVals)/2])
	fmt.Printf("  records/sec p90:    %.2f\n", rateVals[percentileIndex(len(rateVals), 90)])
	fmt.Printf("  p99 median:         %s\n", p99Vals[len(p99Vals)/2].Round(time.Microsecond))
	fmt.Printf("  p99 p90:            %s\n", p99Vals[percentileIndex(len(p99Vals), 90)].Round(time.Microsecond))
}

func percentileIndex(n, p int) int {
	if n <= 1 || p <= 0 {
		return 0
	}
	if p >= 100 {
		return n - 1
	}
	rank := int(math.Ceil(float64(p) / 100.0 * float64(n)))
	idx := rank - 1
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}
