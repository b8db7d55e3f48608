package ptnetmap

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/borislavmatvey/netmap/internal/csb"
)

// Stats carries the session's telemetry counters, the Go equivalent of
// the original's compile-time RATE instrumentation (rate_context /
// rate_callback): a set of monotonically increasing counters, optionally
// drained periodically to a logger rather than to a kernel printk.
type Stats struct {
	txWork       atomic.Uint64
	rxWork       atomic.Uint64
	txGuestKicks atomic.Uint64
	rxGuestKicks atomic.Uint64
	txSyncErrors atomic.Uint64
	rxSyncErrors atomic.Uint64
	txHostKicks  atomic.Uint64 // times the worker armed host_need_kick
	rxHostKicks  atomic.Uint64
}

func (s *Stats) recordWork(dir csb.Direction) {
	if dir == csb.TX {
		s.txWork.Add(1)
	} else {
		s.rxWork.Add(1)
	}
}

func (s *Stats) recordGuestInterrupt(dir csb.Direction) {
	if dir == csb.TX {
		s.txGuestKicks.Add(1)
	} else {
		s.rxGuestKicks.Add(1)
	}
}

func (s *Stats) recordSyncError(dir csb.Direction) {
	if dir == csb.TX {
		s.txSyncErrors.Add(1)
	} else {
		s.rxSyncErrors.Add(1)
	}
}

func (s *Stats) recordHostArm(dir csb.Direction) {
	if dir == csb.TX {
		s.txHostKicks.Add(1)
	} else {
		s.rxHostKicks.Add(1)
	}
}

// Snapshot is a point-in-time copy of the counters, safe to log or
// compare in tests.
type Snapshot struct {
	TXWork, RXWork             uint64
	TXGuestKicks, RXGuestKicks uint64
	TXSyncErrors, RXSyncErrors uint64
	TXHostKicks, RXHostKicks   uint64
}

// Snapshot reads all counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TXWork:        s.txWork.Load(),
		RXWork:        s.rxWork.Load(),
		TXGuestKicks:  s.txGuestKicks.Load(),
		RXGuestKicks:  s.rxGuestKicks.Load(),
		TXSyncErrors:  s.txSyncErrors.Load(),
		RXSyncErrors:  s.rxSyncErrors.Load(),
		TXHostKicks:   s.txHostKicks.Load(),
		RXHostKicks:   s.rxHostKicks.Load(),
	}
}

// runTelemetry periodically logs a diff of the counters until ctx is
// canceled, mirroring the original's timer-driven rate_callback.
func runTelemetry(ctx context.Context, log *zap.SugaredLogger, name string, stats *Stats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := stats.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := stats.Snapshot()
			log.Infow("passthrough telemetry",
				"session", name,
				"tx_work_per_interval", cur.TXWork-prev.TXWork,
				"rx_work_per_interval", cur.RXWork-prev.RXWork,
				"tx_guest_kicks_per_interval", cur.TXGuestKicks-prev.TXGuestKicks,
				"rx_guest_kicks_per_interval", cur.RXGuestKicks-prev.RXGuestKicks,
				"tx_sync_errors_total", cur.TXSyncErrors,
				"rx_sync_errors_total", cur.RXSyncErrors,
			)
			prev = cur
		}
	}
}
