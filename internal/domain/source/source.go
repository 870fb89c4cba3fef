// Package source describes the knowledge base sources a query may select.
package source

import (
	"fmt"

	"github.com/kailas-cloud/protoquery/internal/domain"
)

// Source is one selectable knowledge base.
type Source struct {
	ID          string
	Name        string
	Description string
	Enabled     bool
}

// Catalog is the configured set of sources. An empty catalog accepts any source tag.
type Catalog struct {
	sources []Source
	byID    map[string]Source
}

// NewCatalog builds a catalog preserving the configured order.
func NewCatalog(sources []Source) *Catalog {
	c := &Catalog{sources: sources, byID: make(map[string]Source, len(sources))}
	for _, s := range sources {
		c.byID[s.ID] = s
	}
	return c
}

// Enabled returns the enabled sources in configured order.
func (c *Catalog) Enabled() []Source {
	out := make([]Source, 0, len(c.sources))
	for _, s := range c.sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Check rejects tags that are unknown or disabled. A nil or empty catalog accepts everything.
func (c *Catalog) Check(tags []string) error {
	if c == nil || len(c.sources) == 0 {
		return nil
	}
	for _, tag := range tags {
		s, ok := c.byID[tag]
		if !ok {
			return fmt.Errorf("%w: %w", domain.NewInputError(fmt.Sprintf("unknown source %q", tag)), domain.ErrUnknownSource)
		}
		if !s.Enabled {
			return domain.NewInputError(fmt.Sprintf("source %q is disabled", tag))
		}
	}
	return nil
}
