package ptnetmap

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/borislavmatvey/netmap/internal/csb"
	"github.com/borislavmatvey/netmap/internal/kring"
)

// rxNoWorkCycle is the number of consecutive no-progress RX iterations
// after which the worker exits without re-arming host_need_kick — a
// polite exit when the backend genuinely has no traffic, rather than
// spinning waiting for the guest.
const rxNoWorkCycle = 10

// microsleep stabilizes the arm-then-doublecheck handshake. It is a
// pragmatic yield, not a correctness requirement in itself; the protocol
// around it is.
const microsleep = time.Microsecond

// Worker runs the ring-sync loop for one direction of one session. It is
// the Go-goroutine analogue of one of the original's kernel worker
// threads: Run blocks waiting to be woken, and each wake drives exactly
// one pass of the loop described in the ring-sync design through to its
// exit condition.
type Worker struct {
	dir     csb.Direction
	ring    csb.Ring
	kr      *kring.Kring
	backend Backend
	cfg     *Config
	stats   *Stats
	log     *zap.SugaredLogger

	wake chan struct{}

	configured atomic.Bool
	stopped    atomic.Bool
}

// NewWorker constructs a worker bound to one direction's ring state. It
// is not yet configured or started; Session.Start arranges that.
func NewWorker(dir csb.Direction, ring csb.Ring, kr *kring.Kring, backend Backend, cfg *Config, stats *Stats, log *zap.SugaredLogger) *Worker {
	return &Worker{
		dir:     dir,
		ring:    ring,
		kr:      kr,
		backend: backend,
		cfg:     cfg,
		stats:   stats,
		log:     log.With("dir", dir.String()),
		wake:    make(chan struct{}, 1),
	}
}

// Configure gates the entry of every future wake; it is false until
// Session.Start enables it, and forced false again by Session.Stop.
func (w *Worker) Configure(v bool) { w.configured.Store(v) }

// Stop marks the worker stopped. The running loop observes this on its
// next iteration boundary (or, if idle, on its next wake) and exits
// cleanly.
func (w *Worker) Stop() { w.stopped.Store(true) }

// Kick wakes the worker if it is idle. Non-blocking: if a wake is already
// pending, this is a no-op, matching the kernel wakeup semantics where
// redundant wakeups collapse into one.
func (w *Worker) Kick() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run is the worker's body: it blocks waiting for a wake (from the
// notification hijack, from Session.Start's initial kick, or from the
// control plane), and on each wake runs one pass of the ring-sync loop.
// It returns when ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.wake:
		}

		if err := csb.Guard(w.runOnce); err != nil {
			w.log.Errorw("worker iteration faulted, arming host-kick and continuing", "err", err)
			w.ring.SetHostNeedKick(true)
			w.stats.recordHostArm(w.dir)
		}

		if w.stopped.Load() {
			return nil
		}
	}
}

// runOnce executes steps 1-6 of the ring-sync loop for a single wake.
func (w *Worker) runOnce() {
	// 1. Entry gate.
	if !w.configured.Load() || w.stopped.Load() {
		return
	}

	// 2. Acquire exclusive access to the kring.
	if !w.kr.TryAcquire() {
		w.log.Debugw("kring busy on wake, yielding to current owner")
		return
	}
	defer w.kr.Release()

	// 3. Disarm host-kick.
	w.ring.SetHostNeedKick(false)

	// 4. Snapshot guest indices.
	snap := w.ring.Snapshot()
	gHead, gCur := snap.Head, snap.Cur

	work := false
	cycleNoWork := 0

	for {
		gFlags := snap.SyncFlags
		if w.dir == csb.TX {
			cap := w.kr.BatchCap()
			gHead = w.kr.ClampBatch(gHead, cap)
			if w.kr.AvailableTxSpace() <= w.kr.BatchCap() {
				w.ring.RequestReclaim()
				gFlags |= csb.SyncFlagForceReclaim
			}
		}

		// c. Install guest indices into the kring.
		w.kr.InstallGuest(gHead, gCur)

		if !w.cfg.SkipPrologue {
			if err := w.backend.Prologue(w.dir, gHead, gCur); err != nil {
				w.log.Errorw("prologue validation failed, reinitializing ring", "err", err)
				w.reinitRing()
				w.ring.SetHostNeedKick(true)
				w.stats.recordHostArm(w.dir)
				return
			}
		}

		// d. Backend sync: g_flags carries the guest's sync_flags hint
		// OR'd with the reclaim bit computed above.
		w.kr.LogState(w.log, "kring state before sync")
		hwcur, hwtail, err := w.backend.Sync(w.dir, gHead, gCur, gFlags)
		if err != nil {
			w.log.Errorw("backend sync failed", "err", err)
			w.ring.SetHostNeedKick(true)
			w.stats.recordHostArm(w.dir)
			w.stats.recordSyncError(w.dir)
			return
		}
		w.kr.ApplyBackendResult(hwcur, hwtail)

		// e. Publish new host indices.
		w.ring.PublishHost(hwcur, hwtail)
		if w.kr.AdvancedTail() {
			work = true
			cycleNoWork = 0
			w.stats.recordWork(w.dir)
		} else {
			cycleNoWork++
		}

		// f. Conditional guest notification.
		if work && w.ring.GuestNeedKick() {
			w.ring.ClearGuestNeedKick()
			if err := w.backend.Interrupt(w.dir); err != nil {
				w.log.Warnw("guest interrupt delivery failed", "err", err)
			} else {
				w.stats.recordGuestInterrupt(w.dir)
			}
			work = false
		}

		// g. Re-snapshot guest indices.
		snap = w.ring.Snapshot()
		gHead, gCur = snap.Head, snap.Cur

		// h. Direction-specific exit condition.
		brk := false
		switch w.dir {
		case csb.TX:
			// Guest produced nothing beyond this iteration's install
			// target: decide via arm-then-doublecheck whether to sleep.
			// If the guest head has moved past rhead, there is still
			// backlog the batching cap deferred; loop again without
			// breaking so it gets processed in this same wake.
			if gHead == w.kr.Rhead() {
				gHead, gCur, brk = w.armThenDoublecheck(w.kr.Rhead())
			} else if w.kr.TxFull() {
				// Backend hasn't drained anything beyond rhead: wait
				// for it, not for the guest. Exit without arming
				// host-kick.
				brk = true
			}
		case csb.RX:
			if w.kr.RxFull(gHead) {
				gHead, gCur, brk = w.armThenDoublecheck(w.kr.Rhead())
			} else if w.kr.RxEmpty() || cycleNoWork >= rxNoWorkCycle {
				brk = true
			}
		}

		if brk {
			break
		}

		// i. Stop/deconfigure check.
		if w.stopped.Load() || !w.configured.Load() {
			break
		}
	}

	// 6. On exit: deliver any pending final interrupt.
	if work && w.ring.GuestNeedKick() {
		w.ring.ClearGuestNeedKick()
		if err := w.backend.Interrupt(w.dir); err != nil {
			w.log.Warnw("final guest interrupt delivery failed", "err", err)
		} else {
			w.stats.recordGuestInterrupt(w.dir)
		}
	}
}

// armThenDoublecheck closes the race where the guest produces a new slot
// after the worker's last read but before arming would have been
// visible: it arms host_need_kick, then re-reads guest state. If the
// guest's head moved since rhead, the race was hit — disarm again and
// report the fresh indices for the caller to process inline. Otherwise
// report that the loop should exit.
func (w *Worker) armThenDoublecheck(rhead uint32) (newHead, newCur uint32, brk bool) {
	time.Sleep(microsleep)

	w.ring.SetHostNeedKick(true)
	w.stats.recordHostArm(w.dir)

	snap := w.ring.Snapshot()
	if snap.Head != rhead {
		w.ring.SetHostNeedKick(false)
		return snap.Head, snap.Cur, false
	}
	return snap.Head, snap.Cur, true
}

// reinitRing reinitializes the kring from the guest's current indices
// when the backend prologue validator rejects them, trusting the guest
// minimally rather than leaving the ring in an inconsistent state.
func (w *Worker) reinitRing() {
	snap := w.ring.Snapshot()
	w.kr.InstallGuest(snap.Head, snap.Cur)
}
