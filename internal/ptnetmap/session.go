package ptnetmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/borislavmatvey/netmap/internal/csb"
	"github.com/borislavmatvey/netmap/internal/kring"
)

// Session is a passthrough session bound to one adapter: the CSB
// mapping, both krings, both workers, and the notify hijack installed on
// the backend. It implements the create/start/stop/destroy lifecycle.
type Session struct {
	cfg     Config
	backend Backend
	mapping *csb.Mapping
	block   *csb.Block

	txKring *kring.Kring
	rxKring *kring.Kring

	txWorker *Worker
	rxWorker *Worker

	stats *Stats
	log   *zap.SugaredLogger

	origNotify NotifyFunc

	group           *errgroup.Group
	cancel          context.CancelFunc
	telemetryCancel context.CancelFunc
}

// Create validates cfg, attaches the control block, snapshots initial
// ring state into it, and hijacks the backend's notification callback.
// Workers are constructed but not started. Any failure leaves no state
// behind: the control block is detached and any partial hijack undone.
func Create(cfg Config, backend Backend, log *zap.SugaredLogger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if marker, ok := backend.(BusyMarker); ok {
		if err := marker.MarkBusy(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBusy, err)
		}
	}

	mapping, err := csb.Attach(cfg.CSBPath)
	if err != nil {
		if marker, ok := backend.(BusyMarker); ok {
			marker.ClearBusy()
		}
		return nil, fmt.Errorf("%w: %v", ErrFault, err)
	}

	s, err := newSession(cfg, backend, mapping.Block, log)
	if err != nil {
		_ = mapping.Detach()
		if marker, ok := backend.(BusyMarker); ok {
			marker.ClearBusy()
		}
		return nil, err
	}
	s.mapping = mapping
	return s, nil
}

// newSession builds a session over an already-mapped control block. It
// is split out from Create so this package's tests, which act as an
// in-process synthetic guest, can drive a session without a real POSIX
// shared-memory mapping.
func newSession(cfg Config, backend Backend, block *csb.Block, log *zap.SugaredLogger) (*Session, error) {
	numSlotsTX, hwcurTX, hwtailTX := backend.RingState(csb.TX)
	numSlotsRX, hwcurRX, hwtailRX := backend.RingState(csb.RX)
	if numSlotsTX == 0 || numSlotsRX == 0 {
		return nil, fmt.Errorf("%w: backend reports a zero-slot ring", ErrNoMemory)
	}

	txKring := kring.New(numSlotsTX, hwcurTX, hwtailTX)
	rxKring := kring.New(numSlotsRX, hwcurRX, hwtailRX)
	stats := &Stats{}

	s := &Session{
		cfg:     cfg,
		backend: backend,
		block:   block,
		txKring: txKring,
		rxKring: rxKring,
		stats:   stats,
		log:     log.With("session", cfg.Name),
	}

	s.txWorker = NewWorker(csb.TX, block.Ring(csb.TX), txKring, backend, &s.cfg, stats, s.log)
	s.rxWorker = NewWorker(csb.RX, block.Ring(csb.RX), rxKring, backend, &s.cfg, stats, s.log)

	// Snapshot the current hwcur/hwtail of both directions into the
	// control block so the guest starts from a consistent view.
	block.Ring(csb.TX).PublishHost(hwcurTX, hwtailTX)
	block.Ring(csb.RX).PublishHost(hwcurRX, hwtailRX)

	s.origNotify = backend.SetNotify(s.onNotify)

	return s, nil
}

// onNotify is the hijacked notification callback: it wakes the
// appropriate worker and then forwards to whatever the backend's
// notification callback used to be, so any local (non-passthrough)
// observer of the parent adapter is still served.
func (s *Session) onNotify(dir csb.Direction) {
	switch dir {
	case csb.TX:
		s.txWorker.Kick()
	case csb.RX:
		s.rxWorker.Kick()
	}
	if s.origNotify != nil {
		s.origNotify(dir)
	}
}

// Start configures both workers and launches them. If the RX side cannot
// start, TX is stopped and the failure is reported; Create's state
// otherwise remains intact so a caller may retry Start later.
func (s *Session) Start(ctx context.Context) error {
	if !s.txKring.TryAcquire() {
		return fmt.Errorf("%w: tx kring is held by another owner", ErrBusy)
	}
	s.txKring.Release()

	s.txWorker.stopped.Store(false)
	s.rxWorker.stopped.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	s.txWorker.Configure(true)
	group.Go(func() error { return s.txWorker.Run(groupCtx) })

	if !s.rxKring.TryAcquire() {
		s.txWorker.Stop()
		s.txWorker.Kick()
		s.txWorker.Configure(false)
		cancel()
		_ = group.Wait()
		return fmt.Errorf("%w: rx kring is held by another owner", ErrBusy)
	}
	s.rxKring.Release()

	s.rxWorker.Configure(true)
	group.Go(func() error { return s.rxWorker.Run(groupCtx) })

	s.cancel = cancel
	s.group = group

	// Give both workers an initial wake: a session may start after the
	// guest already produced slots while the session was being created.
	s.txWorker.Kick()
	s.rxWorker.Kick()

	if s.cfg.Telemetry.Enabled {
		telemetryCtx, tcancel := context.WithCancel(context.Background())
		s.telemetryCancel = tcancel
		go runTelemetry(telemetryCtx, s.log, s.cfg.Name, s.stats, s.cfg.Telemetry.Interval)
	}

	return nil
}

// Stop asks both workers to exit at their next iteration boundary and
// waits for them to do so.
func (s *Session) Stop() error {
	s.txWorker.Stop()
	s.rxWorker.Stop()
	s.txWorker.Kick()
	s.rxWorker.Kick()

	if s.cancel != nil {
		s.cancel()
	}
	if s.telemetryCancel != nil {
		s.telemetryCancel()
		s.telemetryCancel = nil
	}

	var err error
	if s.group != nil {
		err = s.group.Wait()
		s.group = nil
	}

	s.txWorker.Configure(false)
	s.rxWorker.Configure(false)

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("ptnetmap: worker exited with error: %w", err)
	}
	return nil
}

// Destroy restores the backend's original notification callback, clears
// any busy marker, detaches the control block, and stops the workers if
// they were still running. It is idempotent: calling it a second time on
// an already-destroyed session is a safe no-op whose only possible error
// is an already-detached mapping, which is itself tolerated.
func (s *Session) Destroy() error {
	var result *multierror.Error

	if err := s.Stop(); err != nil {
		result = multierror.Append(result, err)
	}

	s.backend.SetNotify(s.origNotify)

	if marker, ok := s.backend.(BusyMarker); ok {
		marker.ClearBusy()
	}

	if s.mapping != nil {
		if err := s.mapping.Detach(); err != nil {
			result = multierror.Append(result, err)
		}
		s.mapping = nil
	}

	return result.ErrorOrNil()
}

// Stats returns the session's telemetry counters.
func (s *Session) Stats() Snapshot { return s.stats.Snapshot() }

// Name returns the session's configured name.
func (s *Session) Name() string { return s.cfg.Name }
