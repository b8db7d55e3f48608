// Package kring implements the host-side canonical ring state for one
// direction (TX or RX) of a passthrough session: the authoritative
// hwcur/hwtail maintained by the backend, and the guest-view
// rhead/rcur/rtail last applied by a worker.
package kring

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Kring is the host's view of one ring. Access is exclusive: at most one
// worker may hold it at a time, enforced by TryAcquire/Release rather than
// a blocking mutex, since the worker loop must be able to yield instead of
// stalling when a local (non-passthrough) consumer already owns the ring.
type Kring struct {
	numSlots uint32

	hwcur  uint32
	hwtail uint32

	rhead uint32
	rcur  uint32
	rtail uint32

	busy atomic.Bool
}

// New constructs a Kring with numSlots capacity, starting from the given
// initial hwcur/hwtail (as read from the backend at session create).
func New(numSlots, hwcur, hwtail uint32) *Kring {
	return &Kring{
		numSlots: numSlots,
		hwcur:    hwcur,
		hwtail:   hwtail,
		rhead:    hwcur,
		rcur:     hwcur,
		rtail:    hwtail,
	}
}

// NumSlots returns the ring's fixed capacity.
func (k *Kring) NumSlots() uint32 { return k.numSlots }

// Mod reduces v into [0, numSlots) ring arithmetic. Slot indices are not
// assumed to be powers of two, so this is a true modulo, not a mask.
func (k *Kring) Mod(v uint32) uint32 {
	return v % k.numSlots
}

// Distance computes (to - from) mod numSlots, the standard "how many slots
// between these two modular indices" computation used throughout the
// worker loop (batch size, fullness checks).
func (k *Kring) Distance(from, to uint32) uint32 {
	return k.Mod(to + k.numSlots - k.Mod(from))
}

// Prev returns the slot immediately preceding v, modularly.
func (k *Kring) Prev(v uint32) uint32 {
	if v == 0 {
		return k.numSlots - 1
	}
	return v - 1
}

// TryAcquire attempts to take exclusive ownership of the ring. Returns
// false if another context (another worker iteration, or a local
// non-passthrough consumer) currently owns it; the caller must not touch
// ring state on failure and relies on a later re-wake.
func (k *Kring) TryAcquire() bool {
	return k.busy.CompareAndSwap(false, true)
}

// Release gives up ownership acquired via TryAcquire.
func (k *Kring) Release() {
	if !k.busy.CompareAndSwap(true, false) {
		panic("kring: release of a kring that was not held")
	}
}

// Hwcur returns the backend-maintained hardware cursor.
func (k *Kring) Hwcur() uint32 { return k.hwcur }

// Hwtail returns the backend-maintained hardware tail.
func (k *Kring) Hwtail() uint32 { return k.hwtail }

// Rhead returns the guest's last-applied "done up to here" index.
func (k *Kring) Rhead() uint32 { return k.rhead }

// Rcur returns the guest's last-applied cursor.
func (k *Kring) Rcur() uint32 { return k.rcur }

// Rtail returns the guest's last-observed tail.
func (k *Kring) Rtail() uint32 { return k.rtail }

// InstallGuest applies the guest-supplied head/cur as this iteration's
// rhead/rcur, ahead of a backend sync call.
func (k *Kring) InstallGuest(head, cur uint32) {
	k.rhead = head
	k.rcur = cur
}

// ApplyBackendResult records the backend's post-sync hwcur/hwtail. Must be
// called only after the backend sync for this iteration has returned.
func (k *Kring) ApplyBackendResult(hwcur, hwtail uint32) {
	k.hwcur = hwcur
	k.hwtail = hwtail
}

// AdvancedTail reports whether hwtail moved since the last recorded rtail,
// and if so, refreshes rtail and returns true ("work happened").
func (k *Kring) AdvancedTail() bool {
	if k.hwtail != k.rtail {
		k.rtail = k.hwtail
		return true
	}
	return false
}

// ClampBatch applies the TX batching cap: if the distance from hwcur to
// head exceeds cap, clamp head back to hwcur+cap. Returns the (possibly
// clamped) head. Only meaningful for TX.
func (k *Kring) ClampBatch(head, cap uint32) uint32 {
	batch := k.Distance(k.hwcur, head)
	if batch > cap {
		return k.Mod(k.hwcur + cap)
	}
	return head
}

// BatchCap is half the ring's capacity, the fixed cap used to bound one
// TX iteration's processed slot count.
func (k *Kring) BatchCap() uint32 { return k.numSlots / 2 }

// AvailableTxSpace estimates the number of TX slots not currently
// in-flight between hwcur and hwtail, used to decide whether to hint the
// backend to reclaim completions.
func (k *Kring) AvailableTxSpace() uint32 {
	return k.numSlots - k.Distance(k.hwcur, k.hwtail)
}

// TxFull reports whether the TX ring is full from the host's perspective:
// the backend has not drained anything beyond the guest's last-applied
// rhead.
func (k *Kring) TxFull() bool { return k.hwtail == k.rhead }

// RxFull reports whether the RX ring is full from the guest's
// perspective: the guest has not freed any slot since its last produce
// (head), so the backend has nowhere to place new packets.
func (k *Kring) RxFull(guestHead uint32) bool { return k.hwtail == k.Prev(guestHead) }

// RxEmpty reports whether the RX ring has no unconsumed slots for the
// guest: hwtail has not advanced past rhead.
func (k *Kring) RxEmpty() bool { return k.hwtail == k.rhead }

// LogState emits the ring's full internal state at debug level, for
// diagnosing a stuck worker without attaching a debugger to a goroutine
// that only wakes on demand.
func (k *Kring) LogState(log *zap.SugaredLogger, label string) {
	log.Debugw(label,
		"num_slots", k.numSlots,
		"hwcur", k.hwcur,
		"hwtail", k.hwtail,
		"rhead", k.rhead,
		"rcur", k.rcur,
		"rtail", k.rtail,
	)
}

func (k *Kring) String() string {
	return fmt.Sprintf("kring{slots=%d hwcur=%d hwtail=%d rhead=%d rcur=%d rtail=%d}",
		k.numSlots, k.hwcur, k.hwtail, k.rhead, k.rcur, k.rtail)
}
