// Package backend provides concrete implementations of the
// ptnetmap.Backend external-collaborator interface: a scriptable fake
// used by the deterministic end-to-end test harness, and an adapter that
// resolves a real host network link.
package backend

import (
	"fmt"
	"sync"

	"github.com/borislavmatvey/netmap/internal/csb"
	"github.com/borislavmatvey/netmap/internal/ptnetmap"
)

// SyncScript lets a test script how many slots a direction's backend
// sync should appear to drain/fill on each call, and whether it should
// fail.
type SyncScript func(call int, head, cur uint32) (advance uint32, err error)

// Fake is a synthetic backend adapter whose Sync advances hwtail by a
// scriptable amount per call, and which records every interrupt
// delivered to the guest — sufficient to verify the ring-sync loop's
// boundary scenarios deterministically, without real hardware or a real
// guest.
type Fake struct {
	name string

	mu        sync.Mutex
	numSlots  [2]uint32
	hwcur     [2]uint32
	hwtail    [2]uint32
	script    [2]SyncScript
	calls     [2]int
	notify    ptnetmap.NotifyFunc
	busy      bool
	interrupt [2]int
}

// NewFake constructs a fake backend with the given per-direction ring
// capacity. Both directions start at hwcur=hwtail=0 and a no-op sync
// script (zero advance, no error) until WithScript is called.
func NewFake(name string, txSlots, rxSlots uint32) *Fake {
	f := &Fake{name: name}
	f.numSlots[csb.TX] = txSlots
	f.numSlots[csb.RX] = rxSlots
	f.script[csb.TX] = func(int, uint32, uint32) (uint32, error) { return 0, nil }
	f.script[csb.RX] = func(int, uint32, uint32) (uint32, error) { return 0, nil }
	return f
}

// WithScript installs a sync script for a direction.
func (f *Fake) WithScript(dir csb.Direction, script SyncScript) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[dir] = script
	return f
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) RingState(dir csb.Direction) (numSlots, hwcur, hwtail uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.numSlots[dir], f.hwcur[dir], f.hwtail[dir]
}

func (f *Fake) Prologue(dir csb.Direction, head, cur uint32) error {
	return nil
}

func (f *Fake) Sync(dir csb.Direction, head, cur, flags uint32) (hwcur, hwtail uint32, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := f.calls[dir]
	f.calls[dir]++

	advance, err := f.script[dir](call, head, cur)
	if err != nil {
		return f.hwcur[dir], f.hwtail[dir], err
	}

	numSlots := f.numSlots[dir]
	f.hwtail[dir] = (f.hwtail[dir] + advance) % numSlots
	f.hwcur[dir] = head
	return f.hwcur[dir], f.hwtail[dir], nil
}

func (f *Fake) SetNotify(fn ptnetmap.NotifyFunc) ptnetmap.NotifyFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.notify
	f.notify = fn
	return prev
}

// Notify invokes whatever notify callback is currently installed,
// simulating the backend observing ring progress and calling back into
// the (possibly hijacked) notification path.
func (f *Fake) Notify(dir csb.Direction) {
	f.mu.Lock()
	fn := f.notify
	f.mu.Unlock()
	if fn != nil {
		fn(dir)
	}
}

func (f *Fake) Interrupt(dir csb.Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupt[dir]++
	return nil
}

// InterruptCount returns how many interrupts have been delivered to the
// simulated guest for dir so far.
func (f *Fake) InterruptCount(dir csb.Direction) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupt[dir]
}

func (f *Fake) MarkBusy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return fmt.Errorf("backend: %s already in passthrough mode", f.name)
	}
	f.busy = true
	return nil
}

func (f *Fake) ClearBusy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = false
}

var (
	_ ptnetmap.SyncAdapter    = (*Fake)(nil)
	_ ptnetmap.NotifyHijacker = (*Fake)(nil)
	_ ptnetmap.GuestNotifier  = (*Fake)(nil)
	_ ptnetmap.BusyMarker     = (*Fake)(nil)
)
