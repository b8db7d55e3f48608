package kring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_TryAcquireIsExclusive(t *testing.T) {
	k := New(256, 0, 0)

	require.True(t, k.TryAcquire())
	assert.False(t, k.TryAcquire(), "a second acquire must fail while the first holds the ring")

	k.Release()
	assert.True(t, k.TryAcquire(), "release must allow a subsequent acquire")
}

func Test_ReleaseWithoutHoldingPanics(t *testing.T) {
	k := New(256, 0, 0)
	assert.Panics(t, func() { k.Release() })
}

func Test_DistanceWrapsModularly(t *testing.T) {
	k := New(256, 0, 0)

	assert.EqualValues(t, 0, k.Distance(10, 10))
	assert.EqualValues(t, 10, k.Distance(0, 10))
	assert.EqualValues(t, 6, k.Distance(250, 0), "distance must wrap past num_slots")
}

func Test_ClampBatchAppliesCapOfHalfRing(t *testing.T) {
	k := New(256, 0, 0)
	cap := k.BatchCap()
	require.EqualValues(t, 128, cap)

	// guest produced 3*num_slots/4 = 192 slots from hwcur=0
	clamped := k.ClampBatch(192, cap)
	assert.EqualValues(t, 128, clamped)

	// a batch within the cap passes through untouched
	assert.EqualValues(t, 64, k.ClampBatch(64, cap))
}

func Test_AdvancedTailTracksRtail(t *testing.T) {
	k := New(256, 0, 0)
	assert.False(t, k.AdvancedTail(), "no movement yet")

	k.ApplyBackendResult(10, 20)
	assert.True(t, k.AdvancedTail())
	assert.EqualValues(t, 20, k.Rtail())

	assert.False(t, k.AdvancedTail(), "rtail now caught up")
}

func Test_TxFullWhenHwtailEqualsRhead(t *testing.T) {
	k := New(256, 0, 0)
	k.InstallGuest(5, 5)
	k.ApplyBackendResult(5, 5)
	assert.True(t, k.TxFull())

	k.ApplyBackendResult(5, 6)
	assert.False(t, k.TxFull())
}

func Test_RxFullAndEmpty(t *testing.T) {
	k := New(256, 0, 0)
	k.ApplyBackendResult(0, 0)

	// guest head == 1 means guest has produced/freed up to slot 0;
	// RxFull checks hwtail == prev(guestHead).
	assert.True(t, k.RxFull(1))
	assert.False(t, k.RxFull(2))

	assert.True(t, k.RxEmpty())
	k.ApplyBackendResult(0, 3)
	assert.False(t, k.RxEmpty())
}

func Test_PrevWrapsAtZero(t *testing.T) {
	k := New(256, 0, 0)
	assert.EqualValues(t, 255, k.Prev(0))
	assert.EqualValues(t, 4, k.Prev(5))
}
