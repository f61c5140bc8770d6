package processor

import (
	"log/slog"
	"sort"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
)

// Registry maps processor ids to capabilities. It is built once at startup
// and read-only afterwards, so lookups need no locking.
type Registry struct {
	processors map[string]ports.DocumentProcessor
}

// NewRegistry registers the given processors. The reserved antivirus pseudo-id
// is skipped: that result is synthesized on read, never produced by dispatch.
func NewRegistry(processors ...ports.DocumentProcessor) *Registry {
	m := make(map[string]ports.DocumentProcessor, len(processors))
	for _, p := range processors {
		if p.ID() == domain.AntivirusProcessorID {
			slog.Warn("ignoring processor with reserved id", "processor_id", p.ID())
			continue
		}
		slog.Info("registering processor", "processor_id", p.ID())
		m[p.ID()] = p
	}
	return &Registry{processors: m}
}

// Lookup returns the capability for id. Absence is not an error here; callers
// decide how to react.
func (r *Registry) Lookup(id string) (ports.DocumentProcessor, bool) {
	p, ok := r.processors[id]
	return p, ok
}

// IDs lists registered processor ids in stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.processors))
	for id := range r.processors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
