package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"script-executor/internal/config"
)

// RunLogger persists one run. *DB implements it.
type RunLogger interface {
	LogRun(ctx context.Context, run *RunRecord) error
}

// AuditWriter writes runs in the background so a slow database never
// delays a script run. Runs are dropped when the buffer is full.
type AuditWriter struct {
	sink    RunLogger
	ch      chan *RunRecord
	wg      sync.WaitGroup
	done    chan struct{}
	once    sync.Once
	retries int
	backoff time.Duration
	onDrop  func()
}

func NewAuditWriter(sink RunLogger, cfg config.AuditConfig) *AuditWriter {
	size := cfg.BufferSize
	if size < 1 {
		size = 256
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &AuditWriter{
		sink:    sink,
		ch:      make(chan *RunRecord, size),
		done:    make(chan struct{}),
		retries: cfg.MaxRetries,
		backoff: backoff,
		onDrop:  func() {},
	}
}

// OnDrop sets a callback invoked for every dropped run. Call before Start.
func (w *AuditWriter) OnDrop(fn func()) {
	w.onDrop = fn
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log queues run for writing. It never blocks.
func (w *AuditWriter) Log(run *RunRecord) {
	select {
	case <-w.done:
		log.Warn().Str("run_id", run.ID).Msg("audit writer stopped, dropping run")
		w.onDrop()
		return
	default:
	}
	select {
	case w.ch <- run:
	default:
		log.Warn().Str("run_id", run.ID).Msg("audit buffer full, dropping run")
		w.onDrop()
	}
}

// Flush stops accepting runs and waits up to timeout for queued runs to be
// written. It reports whether the queue drained in time.
func (w *AuditWriter) Flush(timeout time.Duration) bool {
	w.once.Do(func() { close(w.done) })

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
		return true
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
		return false
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case run := <-w.ch:
			w.writeWithRetry(run)
		case <-w.done:
			for {
				select {
				case run := <-w.ch:
					w.writeWithRetry(run)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(run *RunRecord) {
	for attempt := 0; attempt <= w.retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.sink.LogRun(ctx, run)
		cancel()

		if err == nil {
			return
		}

		if attempt < w.retries {
			backoff := w.backoff << attempt
			log.Warn().
				Err(err).
				Str("run_id", run.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("run_id", run.ID).
				Msg("audit write failed permanently after retries")
		}
	}
}
