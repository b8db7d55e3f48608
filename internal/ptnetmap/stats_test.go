package ptnetmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/borislavmatvey/netmap/internal/csb"
)

func Test_StatsSnapshotTracksPerDirectionCounters(t *testing.T) {
	s := &Stats{}

	s.recordWork(csb.TX)
	s.recordWork(csb.TX)
	s.recordWork(csb.RX)
	s.recordGuestInterrupt(csb.TX)
	s.recordSyncError(csb.RX)
	s.recordHostArm(csb.RX)

	got := s.Snapshot()
	want := Snapshot{
		TXWork:       2,
		RXWork:       1,
		TXGuestKicks: 1,
		RXSyncErrors: 1,
		RXHostKicks:  1,
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func Test_StatsSnapshotIsIndependentOfLiveCounters(t *testing.T) {
	s := &Stats{}
	first := s.Snapshot()

	s.recordWork(csb.TX)

	if diff := cmp.Diff(Snapshot{}, first); diff != "" {
		t.Fatalf("snapshot taken before recordWork should stay zero (-want +got):\n%s", diff)
	}
}
