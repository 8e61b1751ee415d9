// CLAUDE:SUMMARY chi HTTP API: source registry, on-demand and due runs, server-sent progress streams, booths, metrics and stats.
package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hazyhaar/boothcrawl/crawl/internal/coordinator"
	"github.com/hazyhaar/boothcrawl/shield"
)

const (
	sseBuffer    = 256
	sseKeepAlive = 15 * time.Second
)

// Handler returns the HTTP API.
func (svc *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(svc.logger) {
		r.Use(mw)
	}

	r.Get("/healthz", svc.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", svc.handleStats)

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", svc.handleListSources)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", svc.handleGetSource)
				r.Get("/metrics", svc.handleSourceMetrics)
				r.Post("/reset", svc.handleResetSource)
				r.Post("/run", svc.handleRunSource)
				r.Get("/run/stream", svc.handleRunSourceStream)
			})
		})

		r.Post("/runs", svc.handleRunDue)
		r.Get("/runs/stream", svc.handleRunDueStream)

		r.Get("/booths", svc.handleListBooths)
		r.Get("/booths/{slug}", svc.handleGetBooth)
	})
	return r
}

func (svc *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := svc.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "model": svc.model != nil})
}

func (svc *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := svc.Stats(r.Context())
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (svc *Service) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := svc.ListSources(r.Context())
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	out := make([]sourceView, 0, len(sources))
	for _, s := range sources {
		out = append(out, viewOf(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (svc *Service) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := svc.GetSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(src))
}

func (svc *Service) handleSourceMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := svc.SourceMetrics(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 20))
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (svc *Service) handleResetSource(w http.ResponseWriter, r *http.Request) {
	src, err := svc.ResetSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(src))
}

func (svc *Service) handleRunSource(w http.ResponseWriter, r *http.Request) {
	opts, err := runOptions(r)
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	sum, err := svc.RunSource(r.Context(), chi.URLParam(r, "id"), opts, nil)
	svc.writeSummary(w, r, sum, err)
}

func (svc *Service) handleRunDue(w http.ResponseWriter, r *http.Request) {
	opts, err := runOptions(r)
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	sum, err := svc.RunDue(r.Context(), opts, nil)
	svc.writeSummary(w, r, sum, err)
}

func (svc *Service) handleRunSourceStream(w http.ResponseWriter, r *http.Request) {
	opts, err := runOptions(r)
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	svc.stream(w, r, func(ctx context.Context, sink Sink) (*Summary, error) {
		return svc.RunSource(ctx, id, opts, sink)
	})
}

func (svc *Service) handleRunDueStream(w http.ResponseWriter, r *http.Request) {
	opts, err := runOptions(r)
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	svc.stream(w, r, func(ctx context.Context, sink Sink) (*Summary, error) {
		return svc.RunDue(ctx, opts, sink)
	})
}

func (svc *Service) handleListBooths(w http.ResponseWriter, r *http.Request) {
	var review *bool
	if v := r.URL.Query().Get("needs_review"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			svc.writeError(w, r, fmt.Errorf("%w: needs_review must be a boolean", ErrInvalidInput))
			return
		}
		review = &b
	}
	booths, err := svc.ListBooths(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0), review)
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booths)
}

func (svc *Service) handleGetBooth(w http.ResponseWriter, r *http.Request) {
	b, err := svc.GetBooth(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// stream runs fn and relays its progress as server-sent events: one
// "progress" event per coordinator event, then a final "summary" event (or
// "error" when the run could not start or aborted). The response starts
// lazily, so a run refused before any progress gets a plain JSON error.
func (svc *Service) stream(w http.ResponseWriter, r *http.Request, fn func(context.Context, Sink) (*Summary, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	logger := shield.GetLogger(r.Context())

	events := make(chan Event, sseBuffer)
	sink := func(e Event) {
		if e.Type == EventSummary {
			return
		}
		select {
		case events <- e:
		default:
			logger.Debug("crawl: progress event dropped", "type", e.Type, "source_id", e.SourceID)
		}
	}

	type result struct {
		sum *Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := fn(r.Context(), sink)
		done <- result{sum, err}
	}()

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
	}
	send := func(name string, v any) {
		start()
		if err := writeSSE(w, name, v); err != nil {
			logger.Debug("crawl: sse write", "error", err)
		}
		flusher.Flush()
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case e := <-events:
			send("progress", e)
		case <-keepAlive.C:
			if started {
				io.WriteString(w, ": keep-alive\n\n")
				flusher.Flush()
			}
		case res := <-done:
		drain:
			for {
				select {
				case e := <-events:
					send("progress", e)
				default:
					break drain
				}
			}
			switch {
			case res.sum != nil:
				send("summary", res.sum)
				if res.err != nil {
					send("error", map[string]string{"error": res.err.Error()})
				}
			case !started:
				svc.writeError(w, r, res.err)
			default:
				send("error", map[string]string{"error": res.err.Error()})
			}
			return
		}
	}
}

func writeSSE(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// writeSummary answers a run: 200 with the summary, or 503 with the summary
// when a systemic failure aborted the batch.
func (svc *Service) writeSummary(w http.ResponseWriter, r *http.Request, sum *Summary, err error) {
	switch {
	case sum == nil:
		svc.writeError(w, r, err)
	case err != nil:
		writeJSON(w, http.StatusServiceUnavailable, sum)
	default:
		writeJSON(w, http.StatusOK, sum)
	}
}

// sourceView adds the operator state to a source.
type sourceView struct {
	*Source
	State string `json:"state"`
}

func viewOf(s *Source) sourceView { return sourceView{Source: s, State: s.State()} }

// runOptions reads force/replay from the query string or a JSON body.
func runOptions(r *http.Request) (RunOptions, error) {
	var opts RunOptions
	if r.Body != nil && r.ContentLength != 0 && r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
			return opts, fmt.Errorf("%w: run options: %v", ErrInvalidInput, err)
		}
	}
	q := r.URL.Query()
	for name, dst := range map[string]*bool{"force": &opts.Force, "replay": &opts.Replay} {
		if v := q.Get(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return opts, fmt.Errorf("%w: %s must be a boolean", ErrInvalidInput, name)
			}
			*dst = b
		}
	}
	return opts, nil
}

func (svc *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrSourceNotFound), errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, ErrSourceDisabled), errors.Is(err, ErrSourceBusy):
		code = http.StatusConflict
	case errors.Is(err, coordinator.ErrSystemic):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		shield.GetLogger(r.Context()).Error("crawl: request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
