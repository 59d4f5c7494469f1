// Package tracking owns one hottrack.Root per storage domain.
package tracking

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/hottrack/internal/hottrack"
)

var (
	ErrUnknownDomain = errors.New("tracking: unknown domain")
	ErrInvalidDomain = errors.New("tracking: invalid domain name")
	ErrClosed        = errors.New("tracking: manager closed")
)

// domain names end up in log fields, metric labels and Redis keys
const domainRule = "required,max=64,printascii,excludesall=:/ *?"

type Manager struct {
	log      zerolog.Logger
	opts     []hottrack.Option
	validate *validator.Validate

	mu     sync.RWMutex
	roots  map[string]*hottrack.Root
	closed bool
}

// New returns a manager that builds every root with opts plus a logger
// derived from log.
func New(log zerolog.Logger, opts ...hottrack.Option) *Manager {
	return &Manager{
		log:      log,
		opts:     opts,
		validate: validator.New(),
		roots:    make(map[string]*hottrack.Root),
	}
}

// Enable starts tracking domain. Enabling a tracked domain returns its
// existing root.
func (m *Manager) Enable(domain string) (*hottrack.Root, error) {
	if err := m.validate.Var(domain, domainRule); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if r, ok := m.roots[domain]; ok {
		return r, nil
	}
	opts := append(slices.Clone(m.opts), hottrack.WithLogger(m.log))
	r, err := hottrack.New(domain, opts...)
	if err != nil {
		return nil, fmt.Errorf("enable %q: %w", domain, err)
	}
	m.roots[domain] = r
	return r, nil
}

// Disable stops tracking domain and waits until its root is torn down.
func (m *Manager) Disable(domain string) error {
	m.mu.Lock()
	r, ok := m.roots[domain]
	delete(m.roots, domain)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	r.Stop()
	return nil
}

func (m *Manager) Get(domain string) (*hottrack.Root, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roots[domain]
	return r, ok
}

// Domains lists tracked domains in name order.
func (m *Manager) Domains() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.roots))
	for d := range m.roots {
		out = append(out, d)
	}
	m.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Readiness reports whether the manager still accepts work.
func (m *Manager) Readiness() (bool, []string) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return false, nil
	}
	return true, m.Domains()
}

// Close stops every root. Later Enable calls fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	roots := m.roots
	m.roots = make(map[string]*hottrack.Root)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range roots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Stop()
		}()
	}
	wg.Wait()
	m.log.Info().Int("domains", len(roots)).Msg("tracking manager closed")
}
