// Package tracker records pain samples and treatment annotations and keeps
// the last successful value of each for display.
//
// Status is process-wide and not authoritative: it starts at zero values,
// is lost on restart, and diverges from the store when several instances
// run. Concurrent writes race; the status reflects whichever successful
// write finished last.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/kalambet/painlog/internal/grafana"
	"github.com/kalambet/painlog/internal/journal"
)

const (
	MinPainValue = 0
	MaxPainValue = 10
)

// ErrInvalidPainValue is returned for missing, non-numeric or out-of-range samples.
var ErrInvalidPainValue = errors.New("pain value must be an integer between 0 and 10")

// Treatments are the treatment events offered on the page.
var Treatments = []string{
	"Energy Drink",
	"Oxygen On",
	"Oxygen Off",
	"Sumatriptan",
}

// Status is the last successfully written sample and annotation.
type Status struct {
	CurrentMetric  int    `json:"current_metric"`
	LastAnnotation string `json:"last_annotation"`
}

// SampleWriter persists one pain sample.
type SampleWriter interface {
	RecordSample(ctx context.Context, painValue int) error
}

// AnnotationPublisher creates one dashboard annotation.
type AnnotationPublisher interface {
	CreateAnnotation(ctx context.Context, text string) (grafana.AnnotationResponse, error)
}

// Recorder keeps an audit entry per write attempt.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

type Tracker struct {
	samples     SampleWriter
	annotations AnnotationPublisher
	journal     Recorder
	logger      *slog.Logger

	mu     sync.Mutex
	status Status
}

type Option func(*Tracker)

// WithJournal records every write attempt to r.
func WithJournal(r Recorder) Option {
	return func(t *Tracker) { t.journal = r }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func New(samples SampleWriter, annotations AnnotationPublisher, opts ...Option) *Tracker {
	t := &Tracker{
		samples:     samples,
		annotations: annotations,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Status returns a snapshot of the current status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// RecordSample validates and writes a pain sample. The current value only
// changes when the write succeeds.
func (t *Tracker) RecordSample(ctx context.Context, painValue int) (Status, error) {
	if painValue < MinPainValue || painValue > MaxPainValue {
		return t.Status(), fmt.Errorf("%w: got %d", ErrInvalidPainValue, painValue)
	}

	t.logger.Info("received pain sample", "pain_value", painValue)

	err := t.samples.RecordSample(ctx, painValue)
	t.audit(ctx, journal.KindSample, strconv.Itoa(painValue), err)
	if err != nil {
		t.logger.Error("writing pain sample", "pain_value", painValue, "error", err)
		return t.Status(), err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.CurrentMetric = painValue
	return t.status, nil
}

// PublishAnnotation forwards text to the dashboard. The last annotation
// only changes when the dashboard accepts it.
func (t *Tracker) PublishAnnotation(ctx context.Context, text string) (Status, error) {
	t.logger.Info("received annotation", "text", text)

	resp, err := t.annotations.CreateAnnotation(ctx, text)
	t.audit(ctx, journal.KindAnnotation, text, err)
	if err != nil {
		t.logger.Error("creating annotation", "text", text, "error", err)
		return t.Status(), err
	}
	t.logger.Debug("annotation created", "id", resp.ID)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastAnnotation = text
	return t.status, nil
}

func (t *Tracker) audit(ctx context.Context, kind journal.Kind, value string, writeErr error) {
	if t.journal == nil {
		return
	}
	e := journal.Entry{Kind: kind, Value: value, OK: writeErr == nil}
	if writeErr != nil {
		e.Error = writeErr.Error()
	}
	// The request context may already be done after a timeout.
	if err := t.journal.Record(context.WithoutCancel(ctx), e); err != nil {
		t.logger.Warn("journal write failed", "kind", kind, "error", err)
	}
}

// ParsePainValue parses a submitted form value.
func ParsePainValue(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: missing", ErrInvalidPainValue)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPainValue, raw)
	}
	if v < MinPainValue || v > MaxPainValue {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidPainValue, v)
	}
	return v, nil
}
