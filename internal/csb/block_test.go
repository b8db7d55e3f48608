package csb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewBlockRejectsShortRegion(t *testing.T) {
	_, err := NewBlock(make([]byte, Size-1))
	require.Error(t, err)
}

func Test_RingFieldsAreIndependentPerDirection(t *testing.T) {
	mem := make([]byte, Size)
	b, err := NewBlock(mem)
	require.NoError(t, err)

	tx := b.Ring(TX)
	rx := b.Ring(RX)

	tx.PublishHost(10, 20)
	rx.PublishHost(30, 40)

	assert.EqualValues(t, 10, tx.Hwcur())
	assert.EqualValues(t, 20, tx.Hwtail())
	assert.EqualValues(t, 30, rx.Hwcur())
	assert.EqualValues(t, 40, rx.Hwtail())
}

func Test_HostNeedKickArmDisarm(t *testing.T) {
	b, err := NewBlock(make([]byte, Size))
	require.NoError(t, err)

	tx := b.Ring(TX)
	assert.False(t, tx.HostNeedKick())

	tx.SetHostNeedKick(true)
	assert.True(t, tx.HostNeedKick())

	tx.SetHostNeedKick(false)
	assert.False(t, tx.HostNeedKick())
}

func Test_GuestNeedKickClearedOnDelivery(t *testing.T) {
	mem := make([]byte, Size)
	b, err := NewBlock(mem)
	require.NoError(t, err)

	rx := b.Ring(RX)
	rx.SetGuestNeedKick(true)

	assert.True(t, rx.GuestNeedKick())
	rx.ClearGuestNeedKick()
	assert.False(t, rx.GuestNeedKick())
}

func Test_RequestReclaimSetsBitWithoutClobberingOthers(t *testing.T) {
	b, err := NewBlock(make([]byte, Size))
	require.NoError(t, err)

	tx := b.Ring(TX)
	tx.orSyncFlags(0x2)
	tx.RequestReclaim()

	assert.EqualValues(t, 0x2|SyncFlagForceReclaim, tx.SyncFlags())
}

func Test_GuardRecoversFault(t *testing.T) {
	err := Guard(func() {
		var p *int
		_ = *p
	})
	require.Error(t, err)
}

func Test_GuardPassesThroughCleanCall(t *testing.T) {
	err := Guard(func() {})
	require.NoError(t, err)
}

func Test_SnapshotReadsGroupOfGuestFields(t *testing.T) {
	mem := make([]byte, Size)
	b, err := NewBlock(mem)
	require.NoError(t, err)

	tx := b.Ring(TX)
	tx.SetHead(7)
	tx.SetCur(3)
	tx.orSyncFlags(SyncFlagForceReclaim)

	snap := tx.Snapshot()
	assert.EqualValues(t, 7, snap.Head)
	assert.EqualValues(t, 3, snap.Cur)
	assert.EqualValues(t, SyncFlagForceReclaim, snap.SyncFlags)
}
