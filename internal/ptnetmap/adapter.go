package ptnetmap

import "github.com/borislavmatvey/netmap/internal/csb"

// NotifyFunc is the backend's "ring progressed" callback signature: the
// adapter calls it whenever hardware or software state advances a ring,
// independent of whether anyone is waiting on it.
type NotifyFunc func(dir csb.Direction)

// SyncAdapter is the backend's ring synchronization primitive: the
// external collaborator that reconciles a direction's ring indices with
// the underlying hardware or software dataplane. This is out of scope for
// the coordination core itself; only its call contract is specified here.
type SyncAdapter interface {
	// Name identifies the adapter for logging and for the "-PTN" wrapper
	// naming convention.
	Name() string

	// RingState returns the ring's fixed capacity and its current
	// hwcur/hwtail, used to snapshot initial state into the control
	// block at session create.
	RingState(dir csb.Direction) (numSlots, hwcur, hwtail uint32)

	// Prologue validates guest-supplied head/cur before a sync call. It
	// is only invoked when the session's SkipPrologue policy is false.
	Prologue(dir csb.Direction, head, cur uint32) error

	// Sync reconciles ring state with the backend for one iteration and
	// returns the resulting hwcur/hwtail. flags carries the guest's
	// sync_flags hint (csb.SyncFlagForceReclaim and friends) OR'd with
	// whatever the worker itself computed this iteration, so the backend
	// sees the same reclaim/force hints the original's kring->nm_sync(kring,
	// g_flags) call received. It must not be called unless the caller holds
	// exclusive ownership of the corresponding kring.
	Sync(dir csb.Direction, head, cur, flags uint32) (hwcur, hwtail uint32, err error)
}

// NotifyHijacker is implemented by adapters that support redirecting
// their notification callback. The passthrough layer registers itself as
// an interceptor and is handed back the previously installed callback by
// value, so it can forward to it and later restore it — an explicit
// observer-chain discipline rather than mutating a shared function
// pointer in place.
type NotifyHijacker interface {
	SetNotify(fn NotifyFunc) (previous NotifyFunc)
}

// GuestNotifier injects an interrupt into the guest for the given
// direction, via whatever IRQ descriptor the session's configuration
// named for that ring (conceptually an irqfd).
type GuestNotifier interface {
	Interrupt(dir csb.Direction) error
}

// Backend is the full external-collaborator surface a session attaches
// to: ring synchronization, notification hijack support, and guest
// interrupt delivery.
type Backend interface {
	SyncAdapter
	NotifyHijacker
	GuestNotifier
}

// BusyMarker is implemented by backends that track passthrough
// occupancy on the parent adapter, modelling the attach protocol's
// "verify the parent is not busy ... mark the parent BUSY" step.
type BusyMarker interface {
	MarkBusy() error
	ClearBusy()
}
