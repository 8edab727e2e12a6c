package dispatch

import (
	"fmt"
	"time"
)

// bump adds n to the completion counter and prints a progress line when
// the counter crosses a ReportEvery boundary. The rate is cumulative
// since the run started, not a windowed average.
func (d *Dispatcher) bump(n int) {
	cur := d.completed.Add(int64(n))
	prev := cur - int64(n)
	every := int64(d.cfg.ReportEvery)
	if cur/every == prev/every {
		return
	}
	elapsed := time.Since(d.start).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(cur) / elapsed
	}
	d.progMu.Lock()
	fmt.Fprintf(d.progress, "completed %d requests, rate %.2f req/sec\n", cur, rate)
	d.progMu.Unlock()
}

// Rate returns the cumulative requests/sec for a finished run.
func (r Result) Rate() float64 {
	secs := r.Elapsed.Seconds()
	if secs <= 0 {
		return float64(r.Completed)
	}
	return float64(r.Completed) / secs
}
