// Package resolver implements the two substitution languages applied to step
// configs: environment-variable injection (YOUR_<NAME> and {{NAME}} forms with
// name-variant fallback) and run-state templates ({{path.into.results}} plus
// the reserved date/time tokens).
package resolver

import (
	"log/slog"
	"os"
	"time"

	"github.com/nvoss/dynaflow/pkg/schema"
)

// LookupFunc resolves a variable name to a value. The default is
// os.LookupEnv; tests and embedders inject their own to keep the core free of
// hidden global state.
type LookupFunc func(name string) (string, bool)

// Resolver performs env and run-state substitution over strings and nested
// structures. The zero value is not usable; construct with New.
type Resolver struct {
	lookup LookupFunc
	logger *slog.Logger
	strict bool
	now    func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookup replaces the environment lookup function.
func WithLookup(fn LookupFunc) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// WithLogger sets the logger used for resolution diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithStrict makes unresolved references errors instead of best-effort
// fallbacks. Off by default; the lenient behavior is the compatible one.
func WithStrict(strict bool) Option {
	return func(r *Resolver) { r.strict = strict }
}

// WithClock overrides the time source used for the reserved date tokens.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a Resolver with the given options.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		lookup: os.LookupEnv,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// unresolvedErr builds the strict-mode error for a reference that could not be
// resolved.
func (r *Resolver) unresolvedErr(kind, ref string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeExecution, "unresolved %s reference: %s", kind, ref).
		WithDetails(map[string]any{"reference": ref})
}
