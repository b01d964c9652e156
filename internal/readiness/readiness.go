// Package readiness probes the backing services before the server starts
// accepting requests.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single probe when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// Check is a named probe. Probe returns a short detail (usually a version)
// printed next to the name when the service is ready.
type Check struct {
	Name  string
	Probe func(ctx context.Context) (string, error)
}

// EnsureReady runs all checks concurrently and writes one line per check to
// w, in the order given. It returns the joined errors of failing checks.
func EnsureReady(ctx context.Context, w io.Writer, checks ...Check) error {
	details := make([]string, len(checks))
	errs := make([]error, len(checks))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, c := range checks {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gCtx, DefaultTimeout)
			defer cancel()
			details[i], errs[i] = c.Probe(pctx)
			return nil
		})
	}
	g.Wait()

	var failed []error
	for i, c := range checks {
		if errs[i] != nil {
			fmt.Fprintf(w, "%s: unavailable (%v)\n", c.Name, errs[i])
			failed = append(failed, fmt.Errorf("%s: %w", c.Name, errs[i]))
			continue
		}
		if details[i] != "" {
			fmt.Fprintf(w, "%s %s: ready\n", c.Name, details[i])
		} else {
			fmt.Fprintf(w, "%s: ready\n", c.Name)
		}
	}
	return errors.Join(failed...)
}
