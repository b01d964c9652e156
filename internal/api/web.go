package api

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/schema"

	"github.com/kalambet/painlog/internal/grafana"
	"github.com/kalambet/painlog/internal/influx"
	"github.com/kalambet/painlog/internal/tracker"
)

const maxFormSize = 64 << 10

//go:embed templates/*.html static/*
var assets embed.FS

var indexTmpl = template.Must(template.ParseFS(assets, "templates/index.html"))

var formDecoder = newFormDecoder()

func newFormDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// PainTracker is the subset of *tracker.Tracker the handlers need.
type PainTracker interface {
	RecordSample(ctx context.Context, painValue int) (tracker.Status, error)
	PublishAnnotation(ctx context.Context, text string) (tracker.Status, error)
	Status() tracker.Status
}

// WebDeps holds dependencies for the web front end.
type WebDeps struct {
	Tracker  PainTracker
	Subject  string
	PubURL   string // "Authenticate with Grafana" link target
	EmbedURL string // optional dashboard panel iframe
}

type submitForm struct {
	PainMetric string `schema:"pain_metric"`
}

type annotationForm struct {
	Annotation string `schema:"annotation"`
}

type writeResponse struct {
	Success bool `json:"success"`
	tracker.Status
}

// NewWebHandler returns the pain logging page and its form endpoints.
func NewWebHandler(deps WebDeps) http.Handler {
	if deps.PubURL == "" {
		deps.PubURL = "#"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", handleIndex(deps))
	r.Post("/submit", handleSubmit(deps.Tracker))
	r.Post("/create_annotation", handleCreateAnnotation(deps.Tracker))
	r.Get("/status", handleStatus(deps.Tracker))
	r.Get("/health", handleHealth)

	static, _ := fs.Sub(assets, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	return r
}

type indexData struct {
	Status     tracker.Status
	Subject    string
	PubURL     string
	EmbedURL   string
	Treatments []string
	Values     []int
}

func handleIndex(deps WebDeps) http.HandlerFunc {
	values := make([]int, 0, tracker.MaxPainValue-tracker.MinPainValue+1)
	for v := tracker.MinPainValue; v <= tracker.MaxPainValue; v++ {
		values = append(values, v)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		data := indexData{
			Status:     deps.Tracker.Status(),
			Subject:    deps.Subject,
			PubURL:     deps.PubURL,
			EmbedURL:   deps.EmbedURL,
			Treatments: tracker.Treatments,
			Values:     values,
		}

		var buf bytes.Buffer
		if err := indexTmpl.Execute(&buf, data); err != nil {
			slog.Error("rendering index", "error", err)
			textError(w, http.StatusInternalServerError, "rendering page: %v", err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}
}

func handleSubmit(t PainTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var form submitForm
		if err := decodeForm(w, r, &form); err != nil {
			textError(w, http.StatusBadRequest, "invalid form: %v", err)
			return
		}

		v, err := tracker.ParsePainValue(form.PainMetric)
		if err != nil {
			textError(w, http.StatusBadRequest, "%v", err)
			return
		}

		st, err := t.RecordSample(r.Context(), v)
		if err != nil {
			if errors.Is(err, influx.ErrTimeout) {
				slog.Warn("sample write timed out", "pain_value", v)
			}
			textError(w, http.StatusInternalServerError, "Error submitting data: %v", err)
			return
		}
		writeJSON(w, writeResponse{Success: true, Status: st})
	}
}

func handleCreateAnnotation(t PainTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var form annotationForm
		if err := decodeForm(w, r, &form); err != nil {
			textError(w, http.StatusBadRequest, "invalid form: %v", err)
			return
		}

		st, err := t.PublishAnnotation(r.Context(), form.Annotation)
		if err != nil {
			if errors.Is(err, grafana.ErrTimeout) {
				slog.Warn("annotation timed out", "text", form.Annotation)
			}
			textError(w, http.StatusInternalServerError, "Error creating annotation: %v", err)
			return
		}
		writeJSON(w, writeResponse{Success: true, Status: st})
	}
}

func handleStatus(t PainTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, t.Status())
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func decodeForm(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		return err
	}
	return formDecoder.Decode(dst, r.PostForm)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// textError writes a plain-text error body without a trailing newline.
func textError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	fmt.Fprintf(w, format, args...)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
