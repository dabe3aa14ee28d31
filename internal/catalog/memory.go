package catalog

import (
	"context"
	"sync"

	"github.com/shineum/mail-composer/internal/mailer"
)

// Memory is an in-memory catalog. It is safe for concurrent use; readers
// always see either the previous or the next complete catalog.
type Memory struct {
	mu        sync.RWMutex
	templates map[int]*mailer.Template
	partials  map[string]*mailer.Partial
}

// NewMemory returns a catalog holding the given set.
func NewMemory(set *Set) *Memory {
	m := &Memory{}
	m.Replace(set)
	return m
}

// Replace swaps the whole catalog.
func (m *Memory) Replace(set *Set) {
	templates := make(map[int]*mailer.Template)
	partials := make(map[string]*mailer.Partial)
	if set != nil {
		for _, t := range set.Templates {
			templates[t.ID] = t
		}
		for _, p := range set.Partials {
			partials[p.Key] = p
		}
	}

	m.mu.Lock()
	m.templates = templates
	m.partials = partials
	m.mu.Unlock()
}

// GetTemplate returns the template with the given id.
func (m *Memory) GetTemplate(ctx context.Context, id int) (*mailer.Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[id]
	if !ok {
		return nil, mailer.ErrTemplateNotFound
	}
	return t, nil
}

// GetPartial returns the partial with the given key. Keys are case-sensitive.
func (m *Memory) GetPartial(ctx context.Context, key string) (*mailer.Partial, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.partials[key]
	if !ok {
		return nil, mailer.ErrPartialNotFound
	}
	return p, nil
}

// Len returns the number of templates and partials.
func (m *Memory) Len() (templates, partials int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.templates), len(m.partials)
}
