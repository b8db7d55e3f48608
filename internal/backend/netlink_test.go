package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borislavmatvey/netmap/internal/csb"
)

func Test_NetlinkAdapterResolvesLoopback(t *testing.T) {
	a, err := NewNetlinkAdapter("lo", 64, 64)
	require.NoError(t, err)
	assert.Equal(t, "lo-PTN", a.Name())
	assert.Equal(t, "lo", a.LinkAttrs().Name)
}

func Test_NetlinkAdapterUnknownLinkFails(t *testing.T) {
	_, err := NewNetlinkAdapter("does-not-exist-0", 64, 64)
	assert.Error(t, err)
}

func Test_NetlinkAdapterSyncDrainsOneForOne(t *testing.T) {
	a, err := NewNetlinkAdapter("lo", 64, 64)
	require.NoError(t, err)

	hwcur, hwtail, err := a.Sync(csb.TX, 12, 12, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), hwcur)
	assert.Equal(t, uint32(12), hwtail)
}

func Test_NetlinkAdapterMarkBusyIsExclusive(t *testing.T) {
	a, err := NewNetlinkAdapter("lo", 64, 64)
	require.NoError(t, err)

	require.NoError(t, a.MarkBusy())
	assert.Error(t, a.MarkBusy())
	a.ClearBusy()
	assert.NoError(t, a.MarkBusy())
}

func Test_NetlinkAdapterPrologueRejectsOutOfRangeHead(t *testing.T) {
	a, err := NewNetlinkAdapter("lo", 64, 64)
	require.NoError(t, err)

	assert.NoError(t, a.Prologue(csb.TX, 63, 0))
	assert.Error(t, a.Prologue(csb.TX, 64, 0))
}
