// Package csb implements the typed protocol layer over the communication
// status block: the fixed-layout shared-memory page through which a guest
// and this host engine exchange ring indices and kick-arm flags without
// locks.
package csb

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Sync flag bits carried in a ring's sync_flags field, guest -> host.
const (
	SyncFlagForceReclaim uint32 = 1 << 0
)

const (
	fieldCount = 7
	fieldSize  = 4 // bytes per uint32 field
	// RingSize is the byte size of one direction's ring state.
	RingSize = fieldCount * fieldSize
	// Size is the total byte size of the control block: one TX ring
	// followed by one RX ring. A rewrite must preserve this layout and
	// field order for any existing guest driver to remain compatible.
	Size = 2 * RingSize
)

// Direction identifies which ring within the control block an operation
// addresses.
type Direction int

const (
	TX Direction = iota
	RX
)

func (d Direction) String() string {
	if d == TX {
		return "tx"
	}
	return "rx"
}

// Ring is a typed view over one direction's control state inside a mapped
// control block. It holds no memory of its own: every accessor resolves to
// an atomic operation at a fixed byte offset into the backing region.
//
// Field order: head, cur, hwcur, hwtail, sync_flags, host_need_kick,
// guest_need_kick. This matches the wire layout documented for the control
// block and must not be reordered.
type Ring struct {
	head          *uint32
	cur           *uint32
	hwcur         *uint32
	hwtail        *uint32
	syncFlags     *uint32
	hostNeedKick  *uint32
	guestNeedKick *uint32
}

func newRing(base unsafe.Pointer, byteOffset int) Ring {
	field := func(idx int) *uint32 {
		return (*uint32)(unsafe.Add(base, byteOffset+idx*fieldSize))
	}
	return Ring{
		head:          field(0),
		cur:           field(1),
		hwcur:         field(2),
		hwtail:        field(3),
		syncFlags:     field(4),
		hostNeedKick:  field(5),
		guestNeedKick: field(6),
	}
}

// Head returns the guest-written head index. Guest fields are read with
// the same atomic load used for every other access to this page; because
// the guest is untrusted, callers must never assume a value is in range
// for num_slots without checking.
func (r Ring) Head() uint32 { return atomic.LoadUint32(r.head) }

// Cur returns the guest-written cursor index.
func (r Ring) Cur() uint32 { return atomic.LoadUint32(r.cur) }

// SyncFlags returns the guest-written sync hint bits.
func (r Ring) SyncFlags() uint32 { return atomic.LoadUint32(r.syncFlags) }

// GuestNeedKick reports whether the guest asked to be interrupted on the
// next host-side progress.
func (r Ring) GuestNeedKick() bool { return atomic.LoadUint32(r.guestNeedKick) != 0 }

// ClearGuestNeedKick clears guest_need_kick. The host does this
// immediately before delivering an interrupt, so a guest that is already
// polling does not receive a redundant one.
func (r Ring) ClearGuestNeedKick() { atomic.StoreUint32(r.guestNeedKick, 0) }

// The following are the guest side of this protocol: a real guest driver
// writes head/cur/guest_need_kick directly into its mapping of this same
// memory. They are exposed here so an in-process synthetic guest (used by
// the end-to-end worker-loop tests) can drive the same control block the
// host half of this package observes.

// SetHead writes the guest's head index.
func (r Ring) SetHead(v uint32) { atomic.StoreUint32(r.head, v) }

// SetCur writes the guest's cursor index.
func (r Ring) SetCur(v uint32) { atomic.StoreUint32(r.cur, v) }

// SetGuestNeedKick arms or disarms guest_need_kick.
func (r Ring) SetGuestNeedKick(armed bool) {
	v := uint32(0)
	if armed {
		v = 1
	}
	atomic.StoreUint32(r.guestNeedKick, v)
}

// orSyncFlags ORs the force-reclaim style hint bits into sync_flags,
// leaving any other bits set. The host sets the reclaim hint through it
// (RequestReclaim), and this package's tests use it to stand in for a
// guest; a real guest driver would overwrite the field on its next produce.
func (r Ring) orSyncFlags(bits uint32) {
	for {
		old := atomic.LoadUint32(r.syncFlags)
		if atomic.CompareAndSwapUint32(r.syncFlags, old, old|bits) {
			return
		}
	}
}

// RequestReclaim sets the force-reclaim hint bit for the backend.
func (r Ring) RequestReclaim() { r.orSyncFlags(SyncFlagForceReclaim) }

// Hwcur returns the host-published hardware cursor.
func (r Ring) Hwcur() uint32 { return atomic.LoadUint32(r.hwcur) }

// Hwtail returns the host-published hardware tail.
func (r Ring) Hwtail() uint32 { return atomic.LoadUint32(r.hwtail) }

// HostNeedKick reports whether the host is asking to be kicked on the
// guest's next progress.
func (r Ring) HostNeedKick() bool { return atomic.LoadUint32(r.hostNeedKick) != 0 }

// SetHostNeedKick arms (true) or disarms (false) host_need_kick.
//
// This store must happen-before any subsequent read of guest fields that
// the worker intends to act on — the arm-then-doublecheck sequence in the
// worker loop relies on this store/load pair to close the race where the
// guest produces between the worker's last read and the moment it decides
// to sleep. A plain atomic store already provides that ordering here.
func (r Ring) SetHostNeedKick(armed bool) {
	v := uint32(0)
	if armed {
		v = 1
	}
	atomic.StoreUint32(r.hostNeedKick, v)
}

// PublishHost writes hwcur/hwtail. Must only be called after the backend
// sync for this direction has returned, and before any subsequent read of
// guest_need_kick: the host's decision to notify the guest depends on the
// guest observing these values first.
func (r Ring) PublishHost(hwcur, hwtail uint32) {
	atomic.StoreUint32(r.hwcur, hwcur)
	atomic.StoreUint32(r.hwtail, hwtail)
}

// Snapshot is a torn-read-tolerant group read of the guest-written fields.
// The worker loop re-reads before acting on stale data, so an occasional
// torn read across these three loads is acceptable by design.
type Snapshot struct {
	Head      uint32
	Cur       uint32
	SyncFlags uint32
}

// Snapshot reads head/cur/sync_flags as a group.
func (r Ring) Snapshot() Snapshot {
	return Snapshot{
		Head:      r.Head(),
		Cur:       r.Cur(),
		SyncFlags: r.SyncFlags(),
	}
}

// Block is the mapped control block: one TX ring and one RX ring, back to
// back, at fixed offsets. It is backed by shared memory that may be the
// target of a hostile or buggy guest; every access that touches
// guest-controlled memory outside of the fixed field layout must go
// through Guard.
type Block struct {
	mem []byte
	tx  Ring
	rx  Ring
}

// NewBlock wraps an existing byte slice of at least Size bytes as a
// control block. The slice is expected to be backed by memory obtained
// from Attach, but any sufficiently large, stable slice works — this is
// what the in-process synthetic guest harness uses.
func NewBlock(mem []byte) (*Block, error) {
	if len(mem) < Size {
		return nil, fmt.Errorf("csb: region too small: have %d bytes, need %d", len(mem), Size)
	}
	base := unsafe.Pointer(&mem[0])
	return &Block{
		mem: mem,
		tx:  newRing(base, 0),
		rx:  newRing(base, RingSize),
	}, nil
}

// Ring returns the typed ring view for the given direction.
func (b *Block) Ring(dir Direction) Ring {
	if dir == TX {
		return b.tx
	}
	return b.rx
}

// Guard executes fn and converts a fault reaching through this block's
// memory (for example, a slice bounds violation surfaced as a panic by code
// operating on a view derived from Bytes) into a regular error instead of
// crashing the host process. The control block is shared with an
// untrusted guest; no access path rooted here may be allowed to take the
// process down with it.
func Guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("csb: fault: %v", r)
		}
	}()
	fn()
	return nil
}

// Bytes exposes the raw backing region, for initialization by session
// create (snapshotting initial ring state) and for the synthetic guest
// test harness. Callers outside this package must not retain the slice
// past Block's lifetime.
func (b *Block) Bytes() []byte { return b.mem }
