// Package executor runs scripts unit by unit against an evaluation engine,
// classifies every event the engine reports and keeps the resulting records
// for the lifetime of the process.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"

	"script-executor/internal/engine"
	"script-executor/internal/monitor"
)

// Executor drives script runs and owns the registry of their records.
//
// An Executor is not safe for concurrent use. Callers that run scripts from
// several goroutines must serialize calls or use one Executor each.
type Executor struct {
	factory  engine.Factory
	runs     map[string]*Record
	last     Outcome
	notifier Notifier
	now      func() time.Time
	logger   zerolog.Logger
	tracer   *monitor.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(x *Executor) { x.now = now }
}

// WithLogger sets the logger runs derive their loggers from.
func WithLogger(l zerolog.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

// WithTracer sets the tracer used for run and unit spans.
func WithTracer(t *monitor.Tracer) Option {
	return func(x *Executor) { x.tracer = t }
}

// WithObserver subscribes o before any run starts.
func WithObserver(o Observer) Option {
	return func(x *Executor) { x.notifier.Subscribe(o) }
}

// New creates an Executor that builds a fresh engine for every run.
func New(factory engine.Factory, opts ...Option) *Executor {
	x := &Executor{
		factory: factory,
		runs:    make(map[string]*Record),
		now:     time.Now,
		logger:  log.Logger,
		tracer:  monitor.NewTracer(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Subscribe registers o for outcome changes. Observers are called in
// subscription order.
func (x *Executor) Subscribe(o Observer) {
	x.notifier.Subscribe(o)
}

// LastOutcome returns the outcome of the most recently recorded event across
// all runs. ok is false until a run records its first event.
func (x *Executor) LastOutcome() (o Outcome, ok bool) {
	return x.last, x.last != 0
}

// Get returns the record of the latest completed run of script.
// The record must not be modified.
func (x *Executor) Get(script string) (*Record, bool) {
	rec, ok := x.runs[script]
	return rec, ok
}

// Scripts returns the identifiers of all recorded runs, sorted.
func (x *Executor) Scripts() []string {
	scripts := make([]string, 0, len(x.runs))
	for s := range x.runs {
		scripts = append(scripts, s)
	}
	sort.Strings(scripts)
	return scripts
}

// Render returns the transcript of the latest run of script.
func (x *Executor) Render(script string) (string, bool) {
	rec, ok := x.runs[script]
	if !ok {
		return "", false
	}
	return RenderRecord(rec), true
}

// Run reads script and evaluates it unit by unit until no complete unit
// remains. Rejected units are recorded as failures and do not stop the run.
// On success the record replaces any earlier record for script. Read errors,
// engine errors and observer errors abort the run without storing a record.
func (x *Executor) Run(ctx context.Context, script string) error {
	runID := uuid.New().String()
	logger := x.logger.With().
		Str("run_id", runID).
		Str("script", script).
		Logger()

	ctx, span := x.tracer.StartSpan(ctx, "run",
		monitor.AttrRunID.String(runID),
		monitor.AttrScript.String(script),
	)
	defer span.End()

	fail := func(op string, err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
		logger.Warn().Err(err).Str("op", op).Msg("run aborted")
		return &RunError{RunID: runID, Script: script, Op: op, Err: err}
	}

	data, err := os.ReadFile(filepath.Clean(script)) // #nosec G304 -- script paths are vetted by callers
	if err != nil {
		return fail("read_script", err)
	}

	eng, err := x.factory()
	if err != nil {
		return fail("create_engine", fmt.Errorf("%w: %w", ErrEngineFailed, err))
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("engine close failed")
		}
	}()

	logger.Info().Int("bytes", len(data)).Msg("run started")

	rec := &Record{
		ID:        runID,
		Script:    script,
		StartedAt: x.now(),
	}

	var seq uint64
	remaining := string(data)
	for {
		c := eng.AnalyzeCompletion(remaining)
		if !c.Complete {
			rec.DiscardedBytes = len(strings.TrimSpace(remaining))
			if rec.DiscardedBytes > 0 {
				logger.Debug().Int("discarded_bytes", rec.DiscardedBytes).Msg("dropping incomplete trailing fragment")
			}
			break
		}
		if len(c.Remainder) >= len(remaining) {
			return fail("analyze", fmt.Errorf("%w: completion made no progress", ErrEngineFailed))
		}

		unit := TrimNewlines(c.Unit)
		_, unitSpan := x.tracer.StartSpan(ctx, "unit")
		events, err := eng.Eval(unit)
		unitSpan.SetAttributes(monitor.AttrEvents.Int(len(events)))
		unitSpan.End()
		if err != nil {
			return fail("eval", fmt.Errorf("%w: %w", ErrEngineFailed, err))
		}

		for _, ev := range events {
			seq++
			entry := Entry{
				DatedEvent: DatedEvent{Seq: seq, Time: x.now(), Event: ev},
				Outcome:    Classify(ev),
			}
			rec.Entries = append(rec.Entries, entry)

			prev := x.last
			x.last = entry.Outcome

			logger.Debug().
				Uint64("seq", seq).
				Stringer("sub_kind", ev.SubKind).
				Stringer("outcome", entry.Outcome).
				Msg("event recorded")

			if err := x.notifier.Broadcast(Change{Previous: prev, Current: entry.Outcome, Entry: entry}); err != nil {
				return fail("notify", err)
			}
		}

		if c.Remainder == "" {
			break
		}
		remaining = c.Remainder
	}

	rec.CompletedAt = x.now()
	x.runs[script] = rec

	span.SetAttributes(
		monitor.AttrEvents.Int(rec.Len()),
		monitor.AttrFailures.Int(rec.Count(Failure)),
	)
	logger.Info().
		Int("events", rec.Len()).
		Int("failures", rec.Count(Failure)).
		Dur("duration", rec.CompletedAt.Sub(rec.StartedAt)).
		Msg("run completed")

	return nil
}

// TrimNewlines strips leading and trailing line breaks, keeping any other
// surrounding whitespace.
func TrimNewlines(s string) string {
	return strings.Trim(s, "\r\n")
}
