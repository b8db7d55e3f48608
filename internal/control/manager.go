// Package control implements the control-plane surface for passthrough
// sessions: the CREATE/DELETE/List operations a local caller (the CLI, or
// an embedding program) issues against a registry of active sessions.
package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gobwas/glob"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/borislavmatvey/netmap/internal/ptnetmap"
)

// BackendFactory constructs the external backend collaborator a new
// session attaches to, given the adapter name from its configuration.
// Busy/contention errors returned here are retried by Create.
type BackendFactory func(adapterName string) (ptnetmap.Backend, error)

// Manager is the session registry: it owns every active passthrough
// session, keyed by name, and serializes lifecycle operations against
// concurrent callers.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*ptnetmap.Session
	newBackend BackendFactory
	log        *zap.SugaredLogger

	// MaxRetryElapsed bounds how long Create retries a failed adapter
	// attach. The zero value disables retrying (a single attempt).
	MaxRetryElapsed time.Duration
}

// NewManager constructs an empty session registry.
func NewManager(newBackend BackendFactory, log *zap.SugaredLogger) *Manager {
	return &Manager{
		sessions:        make(map[string]*ptnetmap.Session),
		newBackend:      newBackend,
		log:             log,
		MaxRetryElapsed: 2 * time.Second,
	}
}

// Create is the CREATE control-plane command: it validates and installs
// a new passthrough session, retrying a failed backend construction or
// session attach within MaxRetryElapsed. When it gives up, the last
// attempt's error is returned; a backend factory failure is wrapped in
// ErrBusy. On success the session is started immediately.
func (m *Manager) Create(ctx context.Context, cfg ptnetmap.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.sessions[cfg.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: session %q already exists", ptnetmap.ErrBusy, cfg.Name)
	}
	m.mu.Unlock()

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(m.MaxRetryElapsed),
	}
	if m.MaxRetryElapsed == 0 {
		retryOpts = append(retryOpts, backoff.WithMaxTries(1))
	}

	session, err := backoff.Retry(ctx, func() (*ptnetmap.Session, error) {
		be, err := m.newBackend(cfg.AdapterName)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ptnetmap.ErrBusy, err)
		}
		s, err := ptnetmap.Create(cfg, be, m.log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, retryOpts...)
	if err != nil {
		return err
	}

	if err := session.Start(ctx); err != nil {
		_ = session.Destroy()
		return fmt.Errorf("start session %q: %w", cfg.Name, err)
	}

	m.mu.Lock()
	m.sessions[cfg.Name] = session
	m.mu.Unlock()

	m.log.Infow("passthrough session created", "session", cfg.Name, "adapter", cfg.AdapterName)
	return nil
}

// Delete is the DELETE control-plane command: idempotent, returns nil
// whether or not a session by that name exists.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	session, exists := m.sessions[name]
	if exists {
		delete(m.sessions, name)
	}
	m.mu.Unlock()

	if !exists {
		return nil
	}

	if err := session.Destroy(); err != nil {
		return fmt.Errorf("destroy session %q: %w", name, err)
	}
	m.log.Infow("passthrough session destroyed", "session", name)
	return nil
}

// List returns the names of active sessions whose name matches pattern
// (a glob; "*" matches everything).
func (m *Manager) List(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid filter pattern: %v", ptnetmap.ErrInvalid, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		if g.Match(name) {
			names = append(names, name)
		}
	}
	return names, nil
}

// Stats returns telemetry counters for a named session.
func (m *Manager) Stats(name string) (ptnetmap.Snapshot, error) {
	m.mu.Lock()
	session, exists := m.sessions[name]
	m.mu.Unlock()

	if !exists {
		return ptnetmap.Snapshot{}, fmt.Errorf("stats %q: %w", name, ptnetmap.ErrNotFound)
	}
	return session.Stats(), nil
}

// Close tears down every active session, aggregating any failures.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := make([]*ptnetmap.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*ptnetmap.Session)
	m.mu.Unlock()

	var result *multierror.Error
	for _, s := range sessions {
		if err := s.Destroy(); err != nil {
			result = multierror.Append(result, fmt.Errorf("destroy session %q: %w", s.Name(), err))
		}
	}
	return result.ErrorOrNil()
}
