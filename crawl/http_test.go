package crawl

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.name != "":
			out = append(out, cur)
			cur = sseEvent{}
		}
	}
	return out
}

func TestHTTP_RunDueStream(t *testing.T) {
	// WHAT: The stream relays progress events and ends with one summary event.
	// WHY: Callers render live progress and need the totals at the end.
	svc, _ := setupTestService(t)
	seed(t, svc, "alpha", "beta")
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	events := readSSE(t, resp)
	if len(events) < 3 {
		t.Fatalf("events = %d, want progress plus summary", len(events))
	}
	last := events[len(events)-1]
	if last.name != "summary" {
		t.Fatalf("last event = %q", last.name)
	}
	var sum Summary
	if err := json.Unmarshal([]byte(last.data), &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Sources != 2 || sum.Added != 2 || sum.ByStatus[StatusSuccess] != 2 {
		t.Errorf("summary = %+v", sum)
	}

	finished := 0
	for _, e := range events[:len(events)-1] {
		if e.name != "progress" {
			t.Errorf("unexpected event %q", e.name)
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(e.data), &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Type == EventSourceFinished {
			finished++
			if ev.Report == nil || ev.Report.Added != 1 {
				t.Errorf("finished event = %+v", ev)
			}
		}
	}
	if finished != 2 {
		t.Errorf("source_finished events = %d, want 2", finished)
	}
}

func TestHTTP_RunSourceStream_NotFound(t *testing.T) {
	// WHAT: A run refused before starting gets a plain JSON error, not a stream.
	svc, _ := setupTestService(t)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sources/missing/run/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHTTP_Endpoints(t *testing.T) {
	svc, _ := setupTestService(t)
	seed(t, svc, "alpha")
	h := svc.Handler()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	if w := do("GET", "/healthz", ""); w.Code != 200 || w.Header().Get("X-Trace-ID") == "" {
		t.Errorf("healthz: %d %v", w.Code, w.Header())
	}

	w := do("POST", "/api/sources/alpha/run", `{"force":false}`)
	if w.Code != 200 {
		t.Fatalf("run: %d %s", w.Code, w.Body)
	}
	var sum Summary
	json.NewDecoder(w.Body).Decode(&sum)
	if sum.Added != 1 {
		t.Errorf("run summary = %+v", sum)
	}

	w = do("GET", "/api/sources", "")
	var sources []map[string]any
	json.NewDecoder(w.Body).Decode(&sources)
	if len(sources) != 1 || sources[0]["state"] != "ok" || sources[0]["id"] != "alpha" {
		t.Errorf("sources = %v", sources)
	}

	w = do("GET", "/api/booths", "")
	var booths []Booth
	json.NewDecoder(w.Body).Decode(&booths)
	if len(booths) != 1 {
		t.Fatalf("booths = %d", len(booths))
	}

	w = do("GET", "/api/booths/"+booths[0].Slug, "")
	var booth Booth
	json.NewDecoder(w.Body).Decode(&booth)
	if w.Code != 200 || len(booth.Sources) != 1 || booth.Sources[0].SourceID != "alpha" {
		t.Errorf("booth: %d %+v", w.Code, booth)
	}

	w = do("GET", "/api/sources/alpha/metrics?limit=5", "")
	var metrics []Metric
	json.NewDecoder(w.Body).Decode(&metrics)
	if len(metrics) != 1 || metrics[0].Status != StatusSuccess {
		t.Errorf("metrics = %+v", metrics)
	}

	cases := []struct {
		method, path, body string
		want               int
	}{
		{"GET", "/api/sources/missing", "", 404},
		{"GET", "/api/booths/missing", "", 404},
		{"GET", "/api/booths?needs_review=maybe", "", 400},
		{"POST", "/api/sources/alpha/run", `{"force":`, 400},
		{"POST", "/api/sources/missing/reset", "", 404},
		{"POST", "/api/sources/alpha/reset", "", 200},
		{"GET", "/api/stats", "", 200},
		{"POST", "/api/runs", "", 200},
	}
	for _, c := range cases {
		if w := do(c.method, c.path, c.body); w.Code != c.want {
			t.Errorf("%s %s: got %d, want %d (%s)", c.method, c.path, w.Code, c.want, w.Body)
		}
	}

	svc.SetSourceEnabled(t.Context(), "alpha", false)
	if w := do("POST", "/api/sources/alpha/run", ""); w.Code != http.StatusConflict {
		t.Errorf("disabled run: got %d", w.Code)
	}
	if w := do("POST", "/api/sources/alpha/run?force=true", ""); w.Code != 200 {
		t.Errorf("forced run: got %d %s", w.Code, w.Body)
	}
}
