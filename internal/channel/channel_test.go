package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry(Defaults())

	spec, err := registry.Get("ig")
	require.NoError(t, err)
	assert.Equal(t, 2200, spec.CharacterLimit)
	assert.True(t, spec.RelayEligible)

	_, err = registry.Get("myspace")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "myspace")
}

func TestRegistry_Resolve(t *testing.T) {
	registry := NewRegistry(Defaults())

	specs, err := registry.Resolve([]string{"ig", "x"})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "ig", specs[0].ChannelID)
	assert.Equal(t, 280, specs[1].CharacterLimit)

	_, err = registry.Resolve([]string{"ig", "myspace"})
	assert.Error(t, err)
}

func TestDefaults_CoverExpectedChannels(t *testing.T) {
	registry := NewRegistry(Defaults())

	for _, id := range []string{"ig", "li", "fb", "x"} {
		spec, err := registry.Get(id)
		require.NoError(t, err)
		assert.Positive(t, spec.CharacterLimit)
		assert.NotEmpty(t, spec.ToneDescriptor)
	}
}
