// Package dispatch drives a bounded worker pool that drains the record
// queue against a sink, one request per record or per batch.
package dispatch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/hashbench/internal/queue"
)

// Sink is the capability the dispatcher needs from the service under
// test: deliver one record, or one concatenated batch of records.
type Sink interface {
	AddHash(ctx context.Context, record []byte) error
	AddBatch(ctx context.Context, records [][]byte) error
}

// Config controls a benchmark run.
type Config struct {
	// Concurrency is the ceiling on simultaneous in-flight sink
	// requests and the number of worker goroutines.
	Concurrency int

	// BatchSize <= 1 selects single-item mode: one JSON request per
	// record. Larger values send up to BatchSize records per request.
	BatchSize int

	// ReportEvery prints a cumulative-rate progress line whenever the
	// completion counter crosses a multiple of this value.
	ReportEvery int

	// BatchFallback retries the records of a failed batch request
	// individually instead of dropping the whole batch.
	BatchFallback bool

	// Progress receives progress lines. Defaults to os.Stdout.
	Progress io.Writer
}

// Result is the outcome of a run.
type Result struct {
	Completed int64
	Failed    int64
	Elapsed   time.Duration
	Latencies []time.Duration
}

// Dispatcher drains a queue with Config.Concurrency workers.
type Dispatcher struct {
	sink Sink
	cfg  Config

	permits   chan struct{}
	completed atomic.Int64
	failed    atomic.Int64
	lats      []time.Duration
	latIdx    atomic.Int64
	start     time.Time
	progress  io.Writer
	progMu    sync.Mutex
}

// New creates a Dispatcher. Zero-value config fields get defaults:
// concurrency 1, single-item mode, reporting every 10000 completions.
func New(sink Sink, cfg Config) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.ReportEvery < 1 {
		cfg.ReportEvery = 10000
	}
	if cfg.Progress == nil {
		cfg.Progress = os.Stdout
	}
	return &Dispatcher{
		sink:     sink,
		cfg:      cfg,
		permits:  make(chan struct{}, cfg.Concurrency),
		progress: cfg.Progress,
	}
}

// Run drains the queue and returns once every worker has observed the
// exhaustion sentinel. Records whose requests failed (after fallback,
// in batch mode) are counted in Result.Failed, not Result.Completed.
// Cancelling ctx stops workers between requests.
func (d *Dispatcher) Run(ctx context.Context, q *queue.Queue) Result {
	d.completed.Store(0)
	d.failed.Store(0)
	d.latIdx.Store(0)
	d.lats = make([]time.Duration, q.Len())
	d.start = time.Now()

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.cfg.BatchSize > 1 {
				d.batchWorker(ctx, q)
			} else {
				d.singleWorker(ctx, q)
			}
		}()
	}
	wg.Wait()

	return Result{
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
		Elapsed:   time.Since(d.start),
		Latencies: d.lats[:d.latIdx.Load()],
	}
}

func (d *Dispatcher) singleWorker(ctx context.Context, q *queue.Queue) {
	for ctx.Err() == nil {
		record, ok := q.TryPop()
		if !ok {
			return
		}
		opStart := time.Now()
		if err := d.send(ctx, func(ctx context.Context) error {
			return d.sink.AddHash(ctx, record)
		}); err != nil {
			d.failed.Add(1)
			slog.Warn("add request failed", "error", err)
			continue
		}
		d.recordLatency(time.Since(opStart))
		d.bump(1)
	}
}

func (d *Dispatcher) batchWorker(ctx context.Context, q *queue.Queue) {
	for ctx.Err() == nil {
		batch := q.TryPopN(d.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}
		opStart := time.Now()
		err := d.send(ctx, func(ctx context.Context) error {
			return d.sink.AddBatch(ctx, batch)
		})
		if err == nil {
			d.recordLatency(time.Since(opStart))
			d.bump(len(batch))
			continue
		}
		slog.Warn("batch request failed", "size", len(batch), "error", err)
		if !d.cfg.BatchFallback {
			d.failed.Add(int64(len(batch)))
			continue
		}
		d.fallback(ctx, batch)
	}
}

// fallback retries each record of a failed batch individually so a
// single bad request no longer loses the whole batch's accounting.
func (d *Dispatcher) fallback(ctx context.Context, batch [][]byte) {
	for _, record := range batch {
		if ctx.Err() != nil {
			d.failed.Add(1)
			continue
		}
		opStart := time.Now()
		if err := d.send(ctx, func(ctx context.Context) error {
			return d.sink.AddHash(ctx, record)
		}); err != nil {
			d.failed.Add(1)
			slog.Warn("fallback add failed", "error", err)
			continue
		}
		d.recordLatency(time.Since(opStart))
		d.bump(1)
	}
}

// send runs one sink call under a concurrency permit. The permit is
// released on every exit path, including panics out of the sink.
func (d *Dispatcher) send(ctx context.Context, call func(context.Context) error) error {
	select {
	case d.permits <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.permits }()
	return call(ctx)
}

func (d *Dispatcher) recordLatency(lat time.Duration) {
	pos := d.latIdx.Add(1) - 1
	if pos < int64(len(d.lats)) {
		d.lats[pos] = lat
	}
}
