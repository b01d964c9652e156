package influx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/painlog/internal/config"
)

type writeRequest struct {
	Query url.Values
	Body  string
	User  string
	Pass  string
}

// fakeInflux mimics the /write and /ping endpoints of InfluxDB 1.x.
type fakeInflux struct {
	mu       sync.Mutex
	writes   []writeRequest
	status   int
	errBody  string
	delay    time.Duration
	pingCode int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	switch r.URL.Path {
	case "/ping":
		w.Header().Set("X-Influxdb-Version", "1.8.10")
		code := f.pingCode
		if code == 0 {
			code = http.StatusNoContent
		}
		w.WriteHeader(code)
	case "/write":
		body, _ := io.ReadAll(r.Body)
		user, pass, _ := r.BasicAuth()
		f.mu.Lock()
		f.writes = append(f.writes, writeRequest{Query: r.URL.Query(), Body: string(body), User: user, Pass: pass})
		f.mu.Unlock()
		if f.status != 0 {
			w.WriteHeader(f.status)
			io.WriteString(w, f.errBody)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func newTestWriter(t *testing.T, f *fakeInflux, timeout time.Duration) *Writer {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWriter(config.InfluxConfig{
		Host:        u.Hostname(),
		Port:        port,
		Username:    "writer",
		Password:    "pw",
		Database:    "headache",
		Measurement: "cluster_headache",
		Timeout:     timeout,
	}, "Oli")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	w.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return w
}

func TestRecordSample_WritesPoint(t *testing.T) {
	f := &fakeInflux{}
	w := newTestWriter(t, f, time.Second)

	if err := w.RecordSample(context.Background(), 5); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}

	if len(f.writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(f.writes))
	}
	req := f.writes[0]
	if got := req.Query.Get("db"); got != "headache" {
		t.Errorf("db = %q, want headache", got)
	}
	if got := req.Query.Get("precision"); got != "ms" {
		t.Errorf("precision = %q, want ms", got)
	}
	if req.User != "writer" || req.Pass != "pw" {
		t.Errorf("basic auth = %q/%q", req.User, req.Pass)
	}

	want := "cluster_headache,subject=Oli pain_value=5i 1700000000000"
	if strings.TrimSpace(req.Body) != want {
		t.Errorf("body = %q, want %q", req.Body, want)
	}
}

func TestRecordSample_StoreError(t *testing.T) {
	f := &fakeInflux{
		status:  http.StatusNotFound,
		errBody: `{"error":"database not found: \"headache\""}`,
	}
	w := newTestWriter(t, f, time.Second)

	err := w.RecordSample(context.Background(), 3)
	if err == nil {
		t.Fatal("expected error from store")
	}
	if !strings.Contains(err.Error(), "database not found") {
		t.Errorf("error = %q, want it to carry the store message", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("store rejection must not be reported as a timeout")
	}
}

func TestRecordSample_Timeout(t *testing.T) {
	f := &fakeInflux{delay: 300 * time.Millisecond}
	w := newTestWriter(t, f, 50*time.Millisecond)

	err := w.RecordSample(context.Background(), 7)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestRecordSample_CanceledContext(t *testing.T) {
	f := &fakeInflux{}
	w := newTestWriter(t, f, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.RecordSample(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(f.writes) != 0 {
		t.Errorf("expected no writes, got %d", len(f.writes))
	}
}

func TestPing(t *testing.T) {
	f := &fakeInflux{}
	w := newTestWriter(t, f, time.Second)

	version, err := w.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if version != "1.8.10" {
		t.Errorf("version = %q, want 1.8.10", version)
	}
}

func TestPing_Unhealthy(t *testing.T) {
	f := &fakeInflux{pingCode: http.StatusServiceUnavailable}
	w := newTestWriter(t, f, time.Second)

	if _, err := w.Ping(context.Background()); err == nil {
		t.Fatal("expected error for unhealthy influxdb")
	}
}

func TestNewWriter_HostWithPort(t *testing.T) {
	f := &fakeInflux{}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	w, err := NewWriter(config.InfluxConfig{
		Host:        srv.URL,
		Port:        8086,
		Database:    "headache",
		Measurement: "cluster_headache",
	}, "Oli")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	if err := w.RecordSample(context.Background(), 2); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}
	if len(f.writes) != 1 {
		t.Fatalf("expected 1 write on the host's own port, got %d", len(f.writes))
	}
}
