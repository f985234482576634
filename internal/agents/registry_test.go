package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	a := newEchoAgent(t, testConfig("alpha", 10))
	require.NoError(t, reg.Register(a))

	got, ok := reg.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Name())

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_DuplicateName(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newEchoAgent(t, testConfig("alpha", 10))))
	err := reg.Register(newEchoAgent(t, testConfig("alpha", 10)))
	assert.ErrorContains(t, err, "already registered")
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newEchoAgent(t, testConfig("alpha", 10))))

	assert.True(t, reg.Unregister("alpha"))
	assert.False(t, reg.Unregister("alpha"))
	assert.Zero(t, reg.Len())
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.Register(newEchoAgent(t, testConfig(name, 10))))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())
}

func TestRegistry_CatalogPrompt(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newEchoAgent(t, testConfig("alpha", 10))))

	catalog := reg.CatalogPrompt()
	assert.Contains(t, catalog, "- alpha: Echoes messages back.")
}

func TestRegistry_HealthCheck(t *testing.T) {
	reg := NewRegistry()
	healthy := newEchoAgent(t, testConfig("healthy", 10))
	sick := newEchoAgent(t, testConfig("sick", 10))
	sick.failWith = errors.New("connection refused")

	require.NoError(t, reg.Register(healthy))
	require.NoError(t, reg.Register(sick))

	failures := reg.HealthCheck(context.Background())
	require.Len(t, failures, 1)
	assert.ErrorContains(t, failures["sick"], "connection refused")
}

func TestRegistry_Describe(t *testing.T) {
	reg := NewRegistry()
	a := newEchoAgent(t, testConfig("alpha", 10))
	require.NoError(t, reg.Register(a))

	_, err := a.Handle(context.Background(), "hi")
	require.NoError(t, err)

	infos := reg.Describe()
	require.Len(t, infos, 1)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, int64(1), infos[0].Health.TotalRequests)
}
