// Package ids provides unique string identifiers for events, threads,
// and runs. Identifiers are formatted "<kind>_<uuid>" so log lines and
// reports stay greppable by kind.
package ids

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator mints unique identifiers. The zero value is not usable; use
// NewGenerator. A Generator is safe for concurrent use.
type Generator struct {
	counter atomic.Uint64
}

// NewGenerator creates a Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns a unique identifier of the given kind. An empty kind
// defaults to "id".
func (g *Generator) Generate(kind string) string {
	if kind == "" {
		kind = "id"
	}
	return fmt.Sprintf("%s_%s", kind, uuid.NewString())
}

// GenerateSequential returns a unique identifier that also carries a
// process-local monotonic counter, useful when callers need ids that sort
// by creation order within one process.
func (g *Generator) GenerateSequential(kind string) string {
	if kind == "" {
		kind = "id"
	}
	return fmt.Sprintf("%s_%d_%s", kind, g.counter.Add(1), uuid.NewString()[:8])
}

// NewEventID returns an identifier for a validated event.
func (g *Generator) NewEventID() string { return g.Generate("event") }

// NewThreadID returns an identifier for a conversation thread.
func (g *Generator) NewThreadID() string { return g.Generate("thread") }

// NewRunID returns an identifier for a run within a thread.
func (g *Generator) NewRunID() string { return g.Generate("run") }
