package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/painlog/internal/grafana"
	"github.com/kalambet/painlog/internal/influx"
	"github.com/kalambet/painlog/internal/tracker"
)

type mockSampleWriter struct {
	mu     sync.Mutex
	values []int
	err    error
}

func (m *mockSampleWriter) RecordSample(_ context.Context, v int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = append(m.values, v)
	return m.err
}

type mockPublisher struct {
	texts []string
	err   error
}

func (m *mockPublisher) CreateAnnotation(_ context.Context, text string) (grafana.AnnotationResponse, error) {
	m.texts = append(m.texts, text)
	if m.err != nil {
		return grafana.AnnotationResponse{}, m.err
	}
	return grafana.AnnotationResponse{ID: 1, Message: "Annotation added"}, nil
}

type testEnv struct {
	srv     *httptest.Server
	tracker *tracker.Tracker
	samples *mockSampleWriter
	grafana *mockPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		samples: &mockSampleWriter{},
		grafana: &mockPublisher{},
	}
	env.tracker = tracker.New(env.samples, env.grafana)
	env.srv = httptest.NewServer(NewWebHandler(WebDeps{
		Tracker:  env.tracker,
		Subject:  "Oli",
		EmbedURL: "https://grafana.example/d-solo/n_chIOy4k/cluster-headache?panelId=2",
	}))
	t.Cleanup(env.srv.Close)
	return env
}

func (env *testEnv) postForm(t *testing.T, path string, form url.Values) (int, string) {
	t.Helper()
	resp, err := http.PostForm(env.srv.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func (env *testEnv) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(env.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func decodeWrite(t *testing.T, body string) map[string]any {
	t.Helper()
	var got map[string]any
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decoding %q: %v", body, err)
	}
	return got
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	code, body := env.get(t, "/health")
	if code != http.StatusOK || body != `{"status":"ok"}` {
		t.Errorf("GET /health = %d %q", code, body)
	}
}

func TestIndex_RendersPage(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.get(t, "/")
	if code != http.StatusOK {
		t.Fatalf("GET / = %d", code)
	}
	for _, want := range []string{
		"Current Pain Metric: 0",
		"Last Annotation: ",
		`href="#"`,
		"Authenticate with Grafana",
		`data-metric="0"`,
		`data-metric="10"`,
		`data-annotation="Oxygen On"`,
		`data-annotation="Sumatriptan"`,
		"d-solo/n_chIOy4k",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(body, `data-metric="11"`) {
		t.Error("page must not offer values above 10")
	}
}

func TestIndex_EscapesAnnotation(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.PublishAnnotation(context.Background(), "<script>x</script>")

	_, body := env.get(t, "/")
	if strings.Contains(body, "<script>x</script>") {
		t.Error("annotation text must be HTML escaped")
	}
}

func TestSubmit_EveryValueShowsOnPage(t *testing.T) {
	env := newTestEnv(t)

	for v := 0; v <= 10; v++ {
		code, body := env.postForm(t, "/submit", url.Values{"pain_metric": {fmt.Sprint(v)}})
		if code != http.StatusOK {
			t.Fatalf("submit %d = %d %s", v, code, body)
		}
		got := decodeWrite(t, body)
		if got["success"] != true || got["current_metric"] != float64(v) {
			t.Errorf("submit %d response = %v", v, got)
		}

		_, page := env.get(t, "/")
		if !strings.Contains(page, fmt.Sprintf("Current Pain Metric: %d<", v)) {
			t.Errorf("page does not show current value %d", v)
		}
	}
}

func TestSubmit_InvalidValue(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
	}{
		{"missing", url.Values{}},
		{"empty", url.Values{"pain_metric": {""}}},
		{"non-numeric", url.Values{"pain_metric": {"bad"}}},
		{"negative", url.Values{"pain_metric": {"-1"}}},
		{"too high", url.Values{"pain_metric": {"11"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			code, _ := env.postForm(t, "/submit", tt.form)
			if code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
			if len(env.samples.values) != 0 {
				t.Errorf("store called with %v", env.samples.values)
			}
			if env.tracker.Status().CurrentMetric != 0 {
				t.Error("status changed on invalid input")
			}
		})
	}
}

func TestSubmit_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.postForm(t, "/submit", url.Values{"pain_metric": {"3"}})

	env.samples.err = errors.New("database not found: headache")
	code, body := env.postForm(t, "/submit", url.Values{"pain_metric": {"8"}})
	if code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", code)
	}
	if body != "Error submitting data: database not found: headache" {
		t.Errorf("body = %q", body)
	}
	if got := env.tracker.Status().CurrentMetric; got != 3 {
		t.Errorf("CurrentMetric = %d, want 3", got)
	}
}

func TestSubmit_Timeout(t *testing.T) {
	env := newTestEnv(t)
	env.samples.err = fmt.Errorf("%w after 5s", influx.ErrTimeout)

	code, body := env.postForm(t, "/submit", url.Values{"pain_metric": {"2"}})
	if code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", code)
	}
	if !strings.Contains(body, "timed out") {
		t.Errorf("body = %q, want timeout message", body)
	}
}

func TestCreateAnnotation_Treatments(t *testing.T) {
	for _, a := range tracker.Treatments {
		t.Run(a, func(t *testing.T) {
			env := newTestEnv(t)
			code, body := env.postForm(t, "/create_annotation", url.Values{"annotation": {a}})
			if code != http.StatusOK {
				t.Fatalf("status = %d %s", code, body)
			}
			got := decodeWrite(t, body)
			if got["last_annotation"] != a {
				t.Errorf("last_annotation = %v, want %q", got["last_annotation"], a)
			}
			if len(env.grafana.texts) != 1 || env.grafana.texts[0] != a {
				t.Errorf("grafana got %v", env.grafana.texts)
			}
		})
	}
}

func TestCreateAnnotation_GrafanaRejects(t *testing.T) {
	env := newTestEnv(t)
	env.postForm(t, "/create_annotation", url.Values{"annotation": {"Energy Drink"}})

	env.grafana.err = &grafana.APIError{StatusCode: 401, Body: `{"message":"invalid API key"}`}
	code, body := env.postForm(t, "/create_annotation", url.Values{"annotation": {"Oxygen On"}})
	if code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", code)
	}
	if body != `Error creating annotation: {"message":"invalid API key"}` {
		t.Errorf("body = %q", body)
	}
	if got := env.tracker.Status().LastAnnotation; got != "Energy Drink" {
		t.Errorf("LastAnnotation = %q, want Energy Drink", got)
	}
}

func TestEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.postForm(t, "/submit", url.Values{"pain_metric": {"5"}})
	if code != http.StatusOK {
		t.Fatalf("submit = %d %s", code, body)
	}
	if want := `{"success":true,"current_metric":5,"last_annotation":""}`; strings.TrimSpace(body) != want {
		t.Errorf("submit body = %s, want %s", body, want)
	}

	code, body = env.postForm(t, "/create_annotation", url.Values{"annotation": {"Oxygen On"}})
	if code != http.StatusOK {
		t.Fatalf("annotate = %d %s", code, body)
	}
	if want := `{"success":true,"current_metric":5,"last_annotation":"Oxygen On"}`; strings.TrimSpace(body) != want {
		t.Errorf("annotate body = %s, want %s", body, want)
	}

	_, body = env.get(t, "/status")
	if want := `{"current_metric":5,"last_annotation":"Oxygen On"}`; strings.TrimSpace(body) != want {
		t.Errorf("status body = %s, want %s", body, want)
	}
}

func TestStatic(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/static/style.css", "/static/app.js"} {
		if code, _ := env.get(t, path); code != http.StatusOK {
			t.Errorf("GET %s = %d", path, code)
		}
	}
	if code, _ := env.get(t, "/static/missing.js"); code != http.StatusNotFound {
		t.Errorf("GET missing asset = %d, want 404", code)
	}
}

func TestSubmitRequiresPost(t *testing.T) {
	env := newTestEnv(t)
	if code, _ := env.get(t, "/submit"); code != http.StatusMethodNotAllowed {
		t.Errorf("GET /submit = %d, want 405", code)
	}
}
