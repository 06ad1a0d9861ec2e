package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/pipeline"
)

const progressPollInterval = 500 * time.Millisecond

// AnalyzeFace runs the full eyewear analysis and streams every event to the
// client as Server-Sent Events. Once started the run is never cancelled: if
// the client disconnects, remaining events are drained so checkpoints for the
// session keep accumulating.
func (a *App) AnalyzeFace(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeAnalyzeRequest(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}
	sseHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	run := a.Analyzer.Start(context.WithoutCancel(r.Context()), req)
	clientGone := false
	for ev := range run.Events() {
		if clientGone {
			continue
		}
		payload, err := pipeline.EncodeEvent(ev)
		if err != nil {
			a.Logger.Error().Err(err).Str("event", pipeline.EventType(ev)).Msg("encode event")
			continue
		}
		if err := writeSSE(w, flusher, payload); err != nil {
			a.Logger.Warn().Err(err).Msg("client disconnected, draining remaining events")
			clientGone = true
		}
	}
}

// AnalyzeFaceTracked starts the analysis in the background and immediately
// returns a progress handle the client can poll via AnalyzeProgress and
// AnalyzeResult.
func (a *App) AnalyzeFaceTracked(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeAnalyzeRequest(w, r)
	if !ok {
		return
	}
	handle, tracker := a.Registry.Create()
	go func() {
		result := a.Analyzer.Analyze(context.Background(), req, tracker)
		a.results.put(handle, result)
	}()
	a.json(w, http.StatusAccepted, map[string]string{"progress_id": handle})
}

// AnalyzeResult returns the final result of a tracked run. The result is
// removed on first fetch, and its tracker is released with it so a client
// that dropped the progress stream early does not leak one.
func (a *App) AnalyzeResult(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "progress_id")
	if result, ok := a.results.take(handle); ok {
		a.Registry.Destroy(handle)
		a.json(w, http.StatusOK, result)
		return
	}
	if a.Registry.Lookup(handle) != nil {
		a.json(w, http.StatusAccepted, map[string]string{"status": "processing"})
		return
	}
	a.error(w, http.StatusNotFound, "not_found", "unknown progress id")
}

// AnalyzeProgress streams progress snapshots for a tracked run. Snapshots are
// polled twice a second and only emitted when the percentage changes. The
// tracker is released once the run reports completion.
func (a *App) AnalyzeProgress(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "progress_id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}
	sseHeaders(w)
	w.WriteHeader(http.StatusOK)

	tracker := a.Registry.Lookup(handle)
	if tracker == nil {
		_ = writeSSEJSON(w, flusher, map[string]string{"error": "Session not found"})
		return
	}

	last := -1
	for {
		snap := tracker.Snapshot()
		if snap.Progress != last {
			if err := writeSSEJSON(w, flusher, snap); err != nil {
				return
			}
			last = snap.Progress
		}
		if snap.Progress >= 100 {
			break
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(progressPollInterval):
		}
	}
	a.Registry.Destroy(handle)
}

func (a *App) decodeAnalyzeRequest(w http.ResponseWriter, r *http.Request) (pipeline.Request, bool) {
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return req, false
	}
	if req.Image == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "image is required")
		return req, false
	}
	return req, true
}
