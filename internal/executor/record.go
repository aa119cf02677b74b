package executor

import (
	"sort"
	"time"

	"script-executor/internal/engine"
)

// DatedEvent is an evaluation event stamped with the time it was recorded
// and its position in the run.
type DatedEvent struct {
	Seq   uint64       `json:"seq"`
	Time  time.Time    `json:"time"`
	Event engine.Event `json:"event"`
}

// Before orders by time, breaking ties by submission sequence.
func (d DatedEvent) Before(other DatedEvent) bool {
	if !d.Time.Equal(other.Time) {
		return d.Time.Before(other.Time)
	}
	return d.Seq < other.Seq
}

// Entry pairs a dated event with its outcome.
type Entry struct {
	DatedEvent
	Outcome Outcome `json:"outcome"`
}

// Record is the result of one script run. It is not modified once the run
// that produced it has completed.
type Record struct {
	ID          string    `json:"id"`
	Script      string    `json:"script"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Entries     []Entry   `json:"entries"`
	// DiscardedBytes counts the non-blank bytes of a trailing fragment
	// that never formed a complete unit.
	DiscardedBytes int `json:"discarded_bytes"`
}

// Len returns the number of recorded events.
func (r *Record) Len() int {
	return len(r.Entries)
}

// Count returns how many entries have outcome o.
func (r *Record) Count(o Outcome) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == o {
			n++
		}
	}
	return n
}

// Sorted returns a copy of the entries in time order.
func (r *Record) Sorted() []Entry {
	entries := make([]Entry, len(r.Entries))
	copy(entries, r.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Before(entries[j].DatedEvent)
	})
	return entries
}

// Last returns the final entry in time order.
func (r *Record) Last() (Entry, bool) {
	entries := r.Sorted()
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}
