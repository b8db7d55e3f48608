package control

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/borislavmatvey/netmap/internal/backend"
	"github.com/borislavmatvey/netmap/internal/ptnetmap"
)

func testSessionConfig(t *testing.T, name string) ptnetmap.Config {
	t.Helper()
	cfg := ptnetmap.DefaultConfig()
	cfg.Name = name
	cfg.AdapterName = name + "-adapter"
	cfg.CSBPath = filepath.Join(t.TempDir(), "csb")
	cfg.TX = ptnetmap.RingDescriptor{NumSlots: 64}
	cfg.RX = ptnetmap.RingDescriptor{NumSlots: 64}
	return cfg
}

func fakeFactory() BackendFactory {
	return func(adapterName string) (ptnetmap.Backend, error) {
		return backend.NewFake(adapterName, 64, 64), nil
	}
}

func Test_CreateAndList(t *testing.T) {
	m := NewManager(fakeFactory(), zap.NewNop().Sugar())
	defer m.Close()

	require.NoError(t, m.Create(context.Background(), testSessionConfig(t, "alpha")))
	require.NoError(t, m.Create(context.Background(), testSessionConfig(t, "abeta")))
	require.NoError(t, m.Create(context.Background(), testSessionConfig(t, "gamma")))

	names, err := m.List("a*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "abeta"}, names)

	all, err := m.List("*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "abeta", "gamma"}, all)
}

func Test_CreateDuplicateNameRejected(t *testing.T) {
	m := NewManager(fakeFactory(), zap.NewNop().Sugar())
	defer m.Close()

	cfg := testSessionConfig(t, "dup")
	require.NoError(t, m.Create(context.Background(), cfg))

	err := m.Create(context.Background(), cfg)
	assert.ErrorIs(t, err, ptnetmap.ErrBusy)
}

func Test_DeleteIsIdempotent(t *testing.T) {
	m := NewManager(fakeFactory(), zap.NewNop().Sugar())
	defer m.Close()

	require.NoError(t, m.Create(context.Background(), testSessionConfig(t, "gone")))
	require.NoError(t, m.Delete("gone"))
	require.NoError(t, m.Delete("gone"))

	names, err := m.List("*")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func Test_StatsUnknownSessionReturnsNotFound(t *testing.T) {
	m := NewManager(fakeFactory(), zap.NewNop().Sugar())
	defer m.Close()

	_, err := m.Stats("missing")
	assert.ErrorIs(t, err, ptnetmap.ErrNotFound)
}

func Test_CloseDestroysEverySession(t *testing.T) {
	m := NewManager(fakeFactory(), zap.NewNop().Sugar())

	require.NoError(t, m.Create(context.Background(), testSessionConfig(t, "one")))
	require.NoError(t, m.Create(context.Background(), testSessionConfig(t, "two")))

	require.NoError(t, m.Close())

	names, err := m.List("*")
	require.NoError(t, err)
	assert.Empty(t, names)
}
