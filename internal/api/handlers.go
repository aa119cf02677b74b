package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"script-executor/internal/executor"
	"script-executor/internal/monitor"
	"script-executor/internal/storage"
)

// AuditStore is the read side of the audit trail. *storage.DB implements it.
type AuditStore interface {
	ListRuns(ctx context.Context, filter storage.RunFilter) ([]storage.RunRecord, error)
	Healthy(ctx context.Context) bool
}

// Handlers serves the run API. The executor is not safe for concurrent use,
// so every access to it goes through mu.
type Handlers struct {
	mu       sync.Mutex
	exec     *executor.Executor
	sink     func(executor.Change) error
	scripts  *ScriptResolver
	maxBytes int64

	store   AuditStore
	audit   *storage.AuditWriter
	metrics *monitor.Metrics
}

// NewHandlers wires h into exec as its change observer.
func NewHandlers(exec *executor.Executor, scripts *ScriptResolver, maxBytes int64, store AuditStore, audit *storage.AuditWriter, metrics *monitor.Metrics) *Handlers {
	h := &Handlers{
		exec:     exec,
		scripts:  scripts,
		maxBytes: maxBytes,
		store:    store,
		audit:    audit,
		metrics:  metrics,
	}
	exec.Subscribe(executor.ObserverFunc(h.outcomeChanged))
	return h
}

// outcomeChanged runs inside Executor.Run, with mu held by the caller.
func (h *Handlers) outcomeChanged(c executor.Change) error {
	h.metrics.RecordEvent(c.Current.String(), c.Entry.Event.SubKind.String())
	if h.sink == nil {
		return nil
	}
	return h.sink(c)
}

func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	path, data, ok := h.prepare(w, r)
	if !ok {
		return
	}

	rec, err := h.execute(r, path, data, nil)
	if err != nil {
		code, status := classifyRunError(err)
		writeError(w, err.Error(), code, status, r)
		return
	}

	writeJSON(w, http.StatusOK, NewRunResponse(rec))
}

func (h *Handlers) HandleRunStream(w http.ResponseWriter, r *http.Request) {
	path, data, ok := h.prepare(w, r)
	if !ok {
		return
	}

	stdout := NewSSEWriter(w, "stdout")
	if stdout == nil {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sink := func(c executor.Change) error {
		if out := c.Entry.Event.Stdout; out != "" {
			if _, err := stdout.Write([]byte(out)); err != nil {
				return err
			}
		}
		return sendSSEJSON(w, "outcome", NewOutcomeEvent(c))
	}

	rec, err := h.execute(r, path, data, sink)
	if err != nil {
		code, _ := classifyRunError(err)
		sendSSEError(w, r, err.Error(), code)
		return
	}
	_ = sendSSEJSON(w, "done", NewRunResponse(rec))
}

func (h *Handlers) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, NewRecordResponse(rec))
}

func (h *Handlers) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, TranscriptResponse{
		Script:     rec.Script,
		Transcript: executor.RenderRecord(rec),
	})
}

func (h *Handlers) HandleListScripts(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	resp := ScriptsResponse{Scripts: h.exec.Scripts()}
	if last, ok := h.exec.LastOutcome(); ok {
		resp.LastOutcome = last.String()
	}
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	q := r.URL.Query()
	filter := storage.RunFilter{
		Script: q.Get("script"),
		Limit:  100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, "limit must be an integer", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "offset must be a non-negative integer", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Offset = n
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "since must be an RFC 3339 timestamp", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Since = &since
	}

	runs, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("audit query failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}

	writeJSON(w, http.StatusOK, runs)
}

// prepare decodes the request, resolves the script and reads it once for
// size checks and audit hashing.
func (h *Handlers) prepare(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return "", nil, false
	}

	path, err := h.scripts.Resolve(req.Script)
	if err != nil {
		code, status := classifyRunError(err)
		writeError(w, err.Error(), code, status, r)
		return "", nil, false
	}

	info, err := os.Stat(path)
	if err != nil {
		code, status := classifyRunError(err)
		writeError(w, "script not found", code, status, r)
		return "", nil, false
	}
	if info.IsDir() {
		writeError(w, "script is a directory", "INVALID_REQUEST", http.StatusBadRequest, r)
		return "", nil, false
	}
	if h.maxBytes > 0 && info.Size() > h.maxBytes {
		writeError(w, "script exceeds max_script_bytes", "SCRIPT_TOO_LARGE", http.StatusRequestEntityTooLarge, r)
		return "", nil, false
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path resolved under script_roots
	if err != nil {
		code, status := classifyRunError(err)
		writeError(w, "reading script failed", code, status, r)
		return "", nil, false
	}
	h.metrics.ScriptSizeBytes.Observe(float64(len(data)))
	return path, data, true
}

// execute runs path with sink attached for the duration of the run.
func (h *Handlers) execute(r *http.Request, path string, data []byte, sink func(executor.Change) error) (*executor.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sink = sink
	defer func() { h.sink = nil }()

	start := time.Now()
	err := h.exec.Run(r.Context(), path)
	duration := time.Since(start)

	if err != nil {
		h.metrics.RecordRun("error", duration.Seconds())
		log.Warn().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("run failed")
		return nil, err
	}

	rec, _ := h.exec.Get(path)
	status := "ok"
	if rec.Count(executor.Failure) > 0 {
		status = "failures"
	}
	h.metrics.RecordRun(status, duration.Seconds())
	h.metrics.DiscardedBytes.Add(float64(rec.DiscardedBytes))

	if h.audit != nil {
		run := storage.NewRunRecord(rec, data)
		run.RequestIP = r.RemoteAddr
		h.audit.Log(run)
	}
	return rec, nil
}

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*executor.Record, bool) {
	script := r.URL.Query().Get("script")
	path, err := h.scripts.Resolve(script)
	if err != nil {
		code, status := classifyRunError(err)
		writeError(w, err.Error(), code, status, r)
		return nil, false
	}

	h.mu.Lock()
	rec, ok := h.exec.Get(path)
	h.mu.Unlock()

	if !ok {
		writeError(w, "no record for script", "NOT_FOUND", http.StatusNotFound, r)
		return nil, false
	}
	return rec, true
}

func classifyRunError(err error) (code string, status int) {
	switch {
	case errors.Is(err, ErrInvalidScript):
		return "INVALID_REQUEST", http.StatusBadRequest
	case errors.Is(err, ErrScriptNotAllowed):
		return "SCRIPT_NOT_ALLOWED", http.StatusForbidden
	case executor.IsNotFound(err):
		return "NOT_FOUND", http.StatusNotFound
	case executor.IsObserverFailure(err):
		return "STREAM_FAILED", http.StatusInternalServerError
	case errors.Is(err, executor.ErrEngineFailed):
		return "ENGINE_FAILED", http.StatusInternalServerError
	default:
		return "RUN_FAILED", http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
