// Package influx writes pain samples to an InfluxDB 1.x database.
package influx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/kalambet/painlog/internal/config"
)

const (
	defaultTimeout = 5 * time.Second
	fieldPainValue = "pain_value"
	tagSubject     = "subject"
)

// ErrTimeout is returned when InfluxDB does not answer within the configured timeout.
var ErrTimeout = errors.New("influxdb: timed out")

// Writer pushes one point per sample through a single long-lived client.
type Writer struct {
	client      client.Client
	database    string
	measurement string
	subject     string
	timeout     time.Duration
	now         func() time.Time
}

// NewWriter creates a Writer for the configured database. Samples are
// tagged with subject.
func NewWriter(cfg config.InfluxConfig, subject string) (*Writer, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.Addr(),
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating influxdb client: %w", err)
	}
	return &Writer{
		client:      c,
		database:    cfg.Database,
		measurement: cfg.Measurement,
		subject:     subject,
		timeout:     timeout,
		now:         time.Now,
	}, nil
}

// RecordSample writes a single pain_value point. Store errors are returned
// wrapped; nothing is retried.
func (w *Writer) RecordSample(ctx context.Context, painValue int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  w.database,
		Precision: "ms",
	})
	if err != nil {
		return fmt.Errorf("creating batch: %w", err)
	}

	pt, err := client.NewPoint(
		w.measurement,
		map[string]string{tagSubject: w.subject},
		map[string]interface{}{fieldPainValue: painValue},
		w.now(),
	)
	if err != nil {
		return fmt.Errorf("creating point: %w", err)
	}
	bp.AddPoint(pt)

	if err := w.client.Write(bp); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w after %s: %v", ErrTimeout, w.timeout, err)
		}
		return fmt.Errorf("writing point: %w", err)
	}
	return nil
}

// Ping checks that InfluxDB is reachable and returns its version.
func (w *Writer) Ping(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, version, err := w.client.Ping(w.timeout)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w after %s: %v", ErrTimeout, w.timeout, err)
		}
		return "", fmt.Errorf("pinging influxdb: %w", err)
	}
	return version, nil
}

// Close releases the underlying HTTP transport.
func (w *Writer) Close() error {
	return w.client.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
