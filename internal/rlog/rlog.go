// Package rlog is the logging facade used throughout this module: a thin
// wrapper over a stumpy-backed logiface.Logger[*stumpy.Event], plus a
// catrate-backed limiter for diagnostics a hot path might otherwise emit on
// every iteration (a subscription take failing repeatedly, a saturated
// command queue).
package rlog

import (
	"io"
	"os"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the typed logger every package in this module takes as a
// dependency, never the bare *logiface.Logger[*stumpy.Event] generic
// instantiation, so call sites don't need the type parameter in scope.
type Logger = logiface.Logger[*stumpy.Event]

// Builder is the matching typed event builder, returned by Logger.Info,
// Logger.Warning, and so on.
type Builder = logiface.Builder[*stumpy.Event]

// New builds a Logger writing newline-delimited JSON to w at minLevel and
// above, in the teacher's stumpy idiom (logiface-stumpy/example_test.go).
func New(w io.Writer, minLevel logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(minLevel),
	)
}

// Nop returns a Logger that discards everything, for tests and contexts
// that don't want to wire a writer.
func Nop() *Logger {
	return New(io.Discard, logiface.LevelDisabled)
}

// Limited rate-limits a diagnostic message by category, so a condition that
// recurs every Selector.Wait iteration (a saturated async command queue, a
// middleware take erroring repeatedly) logs at most once per window instead
// of flooding the writer.
type Limited struct {
	log     *Logger
	limiter *catrate.Limiter
}

// NewLimited wraps log with a limiter allowing at most n occurrences of any
// given category per window.
func NewLimited(log *Logger, window time.Duration, n int) *Limited {
	return &Limited{
		log:     log,
		limiter: catrate.NewLimiter(map[time.Duration]int{window: n}),
	}
}

// Warn emits msg at Warning level under category, unless category has
// exceeded its rate budget, in which case the call is a no-op.
func (l *Limited) Warn(category any, msg string, fields func(b *Builder) *Builder) {
	if _, ok := l.limiter.Allow(category); !ok {
		return
	}
	b := l.log.Warning()
	if fields != nil {
		b = fields(b)
	}
	b.Log(msg)
}

// Info emits msg at Informational level under category, unless category has
// exceeded its rate budget. Lifecycle events (a background thread starting
// or stopping) use this rather than Warn.
func (l *Limited) Info(category any, msg string, fields func(b *Builder) *Builder) {
	if _, ok := l.limiter.Allow(category); !ok {
		return
	}
	b := l.log.Info()
	if fields != nil {
		b = fields(b)
	}
	b.Log(msg)
}
