package daemon

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/borislavmatvey/netmap/internal/control"
)

type options struct {
	Log      *zap.SugaredLogger
	LogLevel *zap.AtomicLevel
}

func newOptions() *options {
	return &options{Log: zap.NewNop().Sugar()}
}

// EngineOption configures an Engine.
type EngineOption func(*options)

// WithLog sets the engine's logger.
func WithLog(log *zap.SugaredLogger) EngineOption {
	return func(o *options) { o.Log = log }
}

// WithAtomicLogLevel sets the engine's runtime-adjustable log level.
func WithAtomicLogLevel(level *zap.AtomicLevel) EngineOption {
	return func(o *options) { o.LogLevel = level }
}

// Engine is the daemon's entry point: it owns the session manager and
// brings up any sessions named in its configuration on Run.
type Engine struct {
	cfg     Config
	manager *control.Manager
	log     *zap.SugaredLogger
}

// NewEngine constructs an Engine bound to a backend factory (how it turns
// an adapter name into a concrete ptnetmap.Backend for Create calls).
func NewEngine(cfg Config, newBackend control.BackendFactory, opts ...EngineOption) (*Engine, error) {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	log := o.Log
	if o.LogLevel != nil {
		log = log.With("log_level", o.LogLevel.Level())
	}
	log.Infow("initializing passthrough engine", "sessions_configured", len(cfg.Sessions))

	return &Engine{
		cfg:     cfg,
		manager: control.NewManager(newBackend, log),
		log:     log,
	}, nil
}

// Close tears down every managed session.
func (e *Engine) Close() error {
	return e.manager.Close()
}

// Manager exposes the session registry, for a control-plane front end
// (the CLI, or an embedding program) to issue Create/Delete/List calls
// against the same registry Run is managing.
func (e *Engine) Manager() *control.Manager { return e.manager }

// Run creates every configured session and then blocks until ctx is
// canceled, at which point it tears them all down.
func (e *Engine) Run(ctx context.Context) error {
	wg, gctx := errgroup.WithContext(ctx)

	for _, sessionCfg := range e.cfg.Sessions {
		sessionCfg := sessionCfg
		if err := e.manager.Create(gctx, sessionCfg); err != nil {
			return fmt.Errorf("create configured session %q: %w", sessionCfg.Name, err)
		}
	}

	wg.Go(func() error {
		<-gctx.Done()
		return e.manager.Close()
	})

	return wg.Wait()
}
