// Package queue holds the pre-generated benchmark backlog and hands
// records out to workers with non-blocking, exactly-once semantics.
package queue

import "sync/atomic"

// Queue is a concurrency-safe work queue over a fully-populated backlog.
// Workers claim positions with an atomic cursor, so every record is
// delivered to exactly one caller and an exhausted queue is observed as
// ok=false rather than blocking.
type Queue struct {
	records [][]byte
	next    atomic.Int64
}

// New creates a queue over the given backlog. The backlog is not copied
// and must not be mutated after this call.
func New(records [][]byte) *Queue {
	return &Queue{records: records}
}

// TryPop removes and returns one record. ok=false means the queue is
// exhausted; that is the worker's termination signal, not an error.
func (q *Queue) TryPop() (record []byte, ok bool) {
	pos := q.next.Add(1) - 1
	if pos >= int64(len(q.records)) {
		return nil, false
	}
	return q.records[pos], true
}

// TryPopN removes up to n records in one claim. It returns between 0
// and n records; a short batch means the backlog ran out mid-claim and
// the final batch may be smaller than n. A nil result means exhausted.
func (q *Queue) TryPopN(n int) [][]byte {
	if n <= 0 {
		return nil
	}
	end := q.next.Add(int64(n))
	start := end - int64(n)
	total := int64(len(q.records))
	if start >= total {
		return nil
	}
	if end > total {
		end = total
	}
	return q.records[start:end]
}

// Len returns the total backlog size.
func (q *Queue) Len() int {
	return len(q.records)
}

// Remaining returns how many records have not been claimed yet.
// Diagnostic only; the value may be stale by the time it is read.
func (q *Queue) Remaining() int {
	taken := q.next.Load()
	if taken >= int64(len(q.records)) {
		return 0
	}
	return len(q.records) - int(taken)
}
