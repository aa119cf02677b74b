package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"script-executor/internal/executor"
)

// RunRecord is the audit row of one completed script run.
type RunRecord struct {
	ID             string        `json:"id" db:"id"`
	Script         string        `json:"script" db:"script"`
	ScriptHash     string        `json:"script_hash,omitempty" db:"script_hash"`
	Events         int           `json:"events" db:"events"`
	Failures       int           `json:"failures" db:"failures"`
	Warnings       int           `json:"warnings" db:"warnings"`
	LastOutcome    string        `json:"last_outcome" db:"last_outcome"`
	DiscardedBytes int           `json:"discarded_bytes" db:"discarded_bytes"`
	Transcript     string        `json:"transcript,omitempty" db:"transcript"`
	RequestIP      string        `json:"request_ip,omitempty" db:"request_ip"`
	StartedAt      time.Time     `json:"started_at" db:"started_at"`
	CompletedAt    time.Time     `json:"completed_at" db:"completed_at"`
	Entries        []EntryRecord `json:"entries,omitempty" db:"-"`
}

// EntryRecord is the audit row of one classified event.
type EntryRecord struct {
	RunID       string    `json:"run_id" db:"run_id"`
	Seq         uint64    `json:"seq" db:"seq"`
	Time        time.Time `json:"time" db:"time"`
	SubKind     string    `json:"sub_kind" db:"sub_kind"`
	Status      string    `json:"status" db:"status"`
	Outcome     string    `json:"outcome" db:"outcome"`
	Source      string    `json:"source" db:"source"`
	Value       string    `json:"value,omitempty" db:"value"`
	Diagnostics []string  `json:"diagnostics,omitempty" db:"diagnostics"`
}

// RunFilter provides criteria for querying runs.
type RunFilter struct {
	Script string
	Since  *time.Time
	Limit  int
	Offset int
}

// NewRunRecord converts a completed executor record into its audit form.
// content is the script text the run read, used only for hashing.
func NewRunRecord(rec *executor.Record, content []byte) *RunRecord {
	r := &RunRecord{
		ID:             rec.ID,
		Script:         rec.Script,
		Events:         rec.Len(),
		Failures:       rec.Count(executor.Failure),
		Warnings:       rec.Count(executor.Warning),
		DiscardedBytes: rec.DiscardedBytes,
		Transcript:     executor.RenderRecord(rec),
		StartedAt:      rec.StartedAt,
		CompletedAt:    rec.CompletedAt,
	}
	if content != nil {
		sum := sha256.Sum256(content)
		r.ScriptHash = hex.EncodeToString(sum[:])
	}
	if last, ok := rec.Last(); ok {
		r.LastOutcome = last.Outcome.String()
	}

	r.Entries = make([]EntryRecord, 0, rec.Len())
	for _, e := range rec.Sorted() {
		r.Entries = append(r.Entries, EntryRecord{
			RunID:       rec.ID,
			Seq:         e.Seq,
			Time:        e.Time,
			SubKind:     e.Event.SubKind.String(),
			Status:      e.Event.Status.String(),
			Outcome:     e.Outcome.String(),
			Source:      e.Event.Source,
			Value:       e.Event.Value,
			Diagnostics: e.Event.Diagnostics,
		})
	}
	return r
}
