package chainconfig

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestResolveMemoizesValueEqualPrefs(t *testing.T) {
	r := NewResolver(testLogger())

	prefs := Prefs{
		DefaultChainID: 11155111,
		ChainIDs:       []uint64{11155111, 137},
		RPCURLs:        map[uint64]string{137: "http://localhost:8545"},
	}

	first := r.Resolve(prefs)
	require.NotNil(t, first)

	// Same values, different map/slice instances.
	second := r.Resolve(Prefs{
		DefaultChainID: 11155111,
		ChainIDs:       []uint64{11155111, 137},
		RPCURLs:        map[uint64]string{137: "http://localhost:8545"},
	})

	assert.Same(t, first, second)
}

func TestResolveRebuildsOnChangedRPCURL(t *testing.T) {
	r := NewResolver(testLogger())

	prefs := Prefs{
		DefaultChainID: 11155111,
		RPCURLs:        map[uint64]string{11155111: "http://localhost:8545"},
	}
	first := r.Resolve(prefs)

	prefs.RPCURLs = map[uint64]string{11155111: "http://localhost:9999"}
	second := r.Resolve(prefs)

	assert.NotSame(t, first, second)
}

func TestResolveNormalization(t *testing.T) {
	r := NewResolver(testLogger())

	t.Run("chain ids derived from default", func(t *testing.T) {
		desc := r.Resolve(Prefs{DefaultChainID: 137})
		assert.Equal(t, uint64(137), desc.DefaultChainID)
		assert.Equal(t, []uint64{137}, desc.ChainIDs)
	})

	t.Run("both absent falls back to the built-in chain", func(t *testing.T) {
		desc := r.Resolve(Prefs{})
		assert.Equal(t, uint64(FallbackChainID), desc.DefaultChainID)
		assert.Equal(t, []uint64{FallbackChainID}, desc.ChainIDs)
	})

	t.Run("default missing takes the first listed chain", func(t *testing.T) {
		desc := r.Resolve(Prefs{ChainIDs: []uint64{10, 137}})
		assert.Equal(t, uint64(10), desc.DefaultChainID)
	})
}

func TestResolveSkipsUnresolvableChains(t *testing.T) {
	r := NewResolver(testLogger())

	// Chain 424242 has no override and no built-in default.
	desc := r.Resolve(Prefs{
		DefaultChainID: 11155111,
		ChainIDs:       []uint64{11155111, 424242},
	})

	_, err := desc.Client(11155111)
	require.NoError(t, err)

	_, err = desc.Client(424242)
	assert.Error(t, err)
}
