package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/hashbench/internal/queue"
)

// fakeSink records deliveries and tracks the number of requests in
// flight so tests can assert the concurrency ceiling.
type fakeSink struct {
	mu       sync.Mutex
	singles  [][]byte
	batches  [][][]byte
	inflight int
	maxSeen  int
	delay    time.Duration

	singleErr func(record []byte) error
	batchErr  func(records [][]byte) error
}

func (f *fakeSink) enter() {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxSeen {
		f.maxSeen = f.inflight
	}
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
}

func (f *fakeSink) leave() {
	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
}

func (f *fakeSink) AddHash(ctx context.Context, record []byte) error {
	f.enter()
	defer f.leave()
	if f.singleErr != nil {
		if err := f.singleErr(record); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.singles = append(f.singles, record)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) AddBatch(ctx context.Context, records [][]byte) error {
	f.enter()
	defer f.leave()
	if f.batchErr != nil {
		if err := f.batchErr(records); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.batches = append(f.batches, records)
	f.mu.Unlock()
	return nil
}

func testRecords(n int) [][]byte {
	records := make([][]byte, n)
	for i := range records {
		records[i] = []byte(fmt.Sprintf("rec-%05d", i))
	}
	return records
}

func TestSingleModeSequential(t *testing.T) {
	sink := &fakeSink{}
	d := New(sink, Config{Concurrency: 1, BatchSize: 1, Progress: io.Discard})

	result := d.Run(context.Background(), queue.New(testRecords(5)))

	if result.Completed != 5 {
		t.Errorf("Completed = %d, want 5", result.Completed)
	}
	if result.Failed != 0 {
		t.Errorf("Failed = %d, want 0", result.Failed)
	}
	if len(sink.singles) != 5 {
		t.Errorf("sink received %d single requests, want 5", len(sink.singles))
	}
	if len(result.Latencies) != 5 {
		t.Errorf("recorded %d latencies, want 5", len(result.Latencies))
	}
}

func TestSingleModeExactlyOnce(t *testing.T) {
	const total = 500
	sink := &fakeSink{}
	d := New(sink, Config{Concurrency: 8, Progress: io.Discard})

	result := d.Run(context.Background(), queue.New(testRecords(total)))

	if result.Completed != total {
		t.Fatalf("Completed = %d, want %d", result.Completed, total)
	}
	seen := make(map[string]int, total)
	for _, r := range sink.singles {
		seen[string(r)]++
	}
	if len(seen) != total {
		t.Fatalf("sink saw %d distinct records, want %d", len(seen), total)
	}
	for r, n := range seen {
		if n != 1 {
			t.Fatalf("record %q delivered %d times", r, n)
		}
	}
}

func TestBatchModePartitions(t *testing.T) {
	sink := &fakeSink{}
	d := New(sink, Config{Concurrency: 2, BatchSize: 5, Progress: io.Discard})

	result := d.Run(context.Background(), queue.New(testRecords(10)))

	if result.Completed != 10 {
		t.Errorf("Completed = %d, want 10", result.Completed)
	}
	if len(sink.batches) != 2 {
		t.Fatalf("sink received %d batches, want 2", len(sink.batches))
	}
	seen := make(map[string]bool)
	for _, b := range sink.batches {
		if len(b) > 5 {
			t.Fatalf("batch size %d exceeds limit 5", len(b))
		}
		for _, r := range b {
			if seen[string(r)] {
				t.Fatalf("record %q appeared in two batches", r)
			}
			seen[string(r)] = true
		}
	}
	if len(seen) != 10 {
		t.Errorf("batches covered %d records, want 10", len(seen))
	}
}

func TestConcurrencyCeiling(t *testing.T) {
	const ceiling = 3
	sink := &fakeSink{delay: 5 * time.Millisecond}
	d := New(sink, Config{Concurrency: ceiling, Progress: io.Discard})

	d.Run(context.Background(), queue.New(testRecords(30)))

	if sink.maxSeen > ceiling {
		t.Errorf("observed %d in-flight requests, ceiling is %d", sink.maxSeen, ceiling)
	}
}

func TestBatchFallbackRecoversRecords(t *testing.T) {
	sink := &fakeSink{
		batchErr: func([][]byte) error { return errors.New("batch refused") },
	}
	d := New(sink, Config{Concurrency: 2, BatchSize: 5, BatchFallback: true, Progress: io.Discard})

	result := d.Run(context.Background(), queue.New(testRecords(10)))

	if result.Completed != 10 {
		t.Errorf("Completed = %d, want 10 (fallback should recover all records)", result.Completed)
	}
	if result.Failed != 0 {
		t.Errorf("Failed = %d, want 0", result.Failed)
	}
	if len(sink.singles) != 10 {
		t.Errorf("fallback issued %d single requests, want 10", len(sink.singles))
	}
}

func TestBatchFallbackDisabledDropsBatch(t *testing.T) {
	var calls int
	var mu sync.Mutex
	sink := &fakeSink{
		batchErr: func([][]byte) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return errors.New("batch refused")
			}
			return nil
		},
	}
	d := New(sink, Config{Concurrency: 1, BatchSize: 5, BatchFallback: false, Progress: io.Discard})

	result := d.Run(context.Background(), queue.New(testRecords(10)))

	if result.Completed != 5 {
		t.Errorf("Completed = %d, want 5 (one dropped batch)", result.Completed)
	}
	if result.Failed != 5 {
		t.Errorf("Failed = %d, want 5", result.Failed)
	}
	if len(sink.singles) != 0 {
		t.Errorf("fallback issued %d single requests with fallback disabled", len(sink.singles))
	}
}

func TestPartialFallbackFailure(t *testing.T) {
	bad := []byte("rec-00003")
	sink := &fakeSink{
		batchErr: func([][]byte) error { return errors.New("batch refused") },
		singleErr: func(record []byte) error {
			if bytes.Equal(record, bad) {
				return errors.New("record refused")
			}
			return nil
		},
	}
	d := New(sink, Config{Concurrency: 1, BatchSize: 10, BatchFallback: true, Progress: io.Discard})

	result := d.Run(context.Background(), queue.New(testRecords(10)))

	if result.Completed != 9 {
		t.Errorf("Completed = %d, want 9", result.Completed)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
}

func TestSingleModeErrorContinues(t *testing.T) {
	bad := []byte("rec-00001")
	sink := &fakeSink{
		singleErr: func(record []byte) error {
			if bytes.Equal(record, bad) {
				return errors.New("record refused")
			}
			return nil
		},
	}
	d := New(sink, Config{Concurrency: 1, Progress: io.Discard})

	result := d.Run(context.Background(), queue.New(testRecords(5)))

	if result.Completed != 4 {
		t.Errorf("Completed = %d, want 4", result.Completed)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
}

func TestProgressReporting(t *testing.T) {
	var buf bytes.Buffer
	sink := &fakeSink{}
	d := New(sink, Config{Concurrency: 1, ReportEvery: 2, Progress: &buf})

	result := d.Run(context.Background(), queue.New(testRecords(6)))

	if result.Completed != 6 {
		t.Fatalf("Completed = %d, want 6", result.Completed)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d progress lines, want 3:\n%s", len(lines), buf.String())
	}
	for _, line := range lines {
		if !strings.Contains(line, "req/sec") {
			t.Errorf("progress line missing rate: %q", line)
		}
	}
}

func TestRateNonNegative(t *testing.T) {
	r := Result{Completed: 0, Elapsed: time.Second}
	if r.Rate() < 0 {
		t.Errorf("Rate() = %f, want >= 0", r.Rate())
	}
	r = Result{Completed: 100, Elapsed: 0}
	if r.Rate() < 0 {
		t.Errorf("Rate() = %f, want >= 0", r.Rate())
	}
}

func TestCancelledContextStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &fakeSink{}
	d := New(sink, Config{Concurrency: 2, Progress: io.Discard})
	result := d.Run(ctx, queue.New(testRecords(1000)))

	if result.Completed != 0 {
		t.Errorf("Completed = %d on a cancelled context, want 0", result.Completed)
	}
}
