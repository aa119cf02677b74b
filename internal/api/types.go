package api

import (
	"time"

	"script-executor/internal/engine"
	"script-executor/internal/executor"
)

// RunRequest asks the server to run one script.
type RunRequest struct {
	Script string `json:"script"`
}

// RunResponse summarizes a completed run.
type RunResponse struct {
	ID             string `json:"id"`
	Script         string `json:"script"`
	Events         int    `json:"events"`
	Successes      int    `json:"successes"`
	Warnings       int    `json:"warnings"`
	Failures       int    `json:"failures"`
	LastOutcome    string `json:"last_outcome"`
	DiscardedBytes int    `json:"discarded_bytes,omitempty"`
	Duration       string `json:"duration"`
	Transcript     string `json:"transcript"`
}

// NewRunResponse builds the summary of rec.
func NewRunResponse(rec *executor.Record) RunResponse {
	resp := RunResponse{
		ID:             rec.ID,
		Script:         rec.Script,
		Events:         rec.Len(),
		Successes:      rec.Count(executor.Success),
		Warnings:       rec.Count(executor.Warning),
		Failures:       rec.Count(executor.Failure),
		DiscardedBytes: rec.DiscardedBytes,
		Duration:       rec.CompletedAt.Sub(rec.StartedAt).String(),
		Transcript:     executor.RenderRecord(rec),
	}
	if last, ok := rec.Last(); ok {
		resp.LastOutcome = last.Outcome.String()
	}
	return resp
}

// RecordResponse is the full stored record of a run.
type RecordResponse struct {
	ID             string          `json:"id"`
	Script         string          `json:"script"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at"`
	DiscardedBytes int             `json:"discarded_bytes,omitempty"`
	Entries        []EntryResponse `json:"entries"`
}

// EntryResponse is one classified event, in time order.
type EntryResponse struct {
	Seq     uint64       `json:"seq"`
	Time    time.Time    `json:"time"`
	Outcome string       `json:"outcome"`
	Event   engine.Event `json:"event"`
}

// NewRecordResponse converts rec, ordering entries by time then sequence.
func NewRecordResponse(rec *executor.Record) RecordResponse {
	resp := RecordResponse{
		ID:             rec.ID,
		Script:         rec.Script,
		StartedAt:      rec.StartedAt,
		CompletedAt:    rec.CompletedAt,
		DiscardedBytes: rec.DiscardedBytes,
		Entries:        make([]EntryResponse, 0, rec.Len()),
	}
	for _, e := range rec.Sorted() {
		resp.Entries = append(resp.Entries, EntryResponse{
			Seq:     e.Seq,
			Time:    e.Time,
			Outcome: e.Outcome.String(),
			Event:   e.Event,
		})
	}
	return resp
}

// OutcomeEvent is streamed for every classified event of a run.
type OutcomeEvent struct {
	Seq      uint64 `json:"seq"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
	SubKind  string `json:"sub_kind"`
	Source   string `json:"source"`
	Value    string `json:"value,omitempty"`
}

// NewOutcomeEvent converts an outcome change for streaming.
func NewOutcomeEvent(c executor.Change) OutcomeEvent {
	return OutcomeEvent{
		Seq:      c.Entry.Seq,
		Previous: c.Previous.String(),
		Current:  c.Current.String(),
		SubKind:  c.Entry.Event.SubKind.String(),
		Source:   c.Entry.Event.Source,
		Value:    c.Entry.Event.Value,
	}
}

// TranscriptResponse carries the rendered transcript of a script.
type TranscriptResponse struct {
	Script     string `json:"script"`
	Transcript string `json:"transcript"`
}

// ScriptsResponse lists every script with a stored record.
type ScriptsResponse struct {
	Scripts     []string `json:"scripts"`
	LastOutcome string   `json:"last_outcome,omitempty"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Engine   string `json:"engine"`
	Database bool   `json:"database"`
	Uptime   string `json:"uptime"`
}
