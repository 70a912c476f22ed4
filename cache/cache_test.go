package cache

import (
	"testing"

	"attribution/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	_, err := NewKey("", "abc")
	assert.Equal(t, ErrorInvalidPrefix, err)

	key, err := NewKey("simulation", "abc")
	require.Nil(t, err)
	cacheKey, err := key.Key()
	assert.Nil(t, err)
	assert.Equal(t, "simulation:abc", cacheKey)

	cacheKey, _ = (&Key{Prefix: "simulation"}).Key()
	assert.Equal(t, "simulation", cacheKey)

	var missing *Key
	_, err = missing.Key()
	assert.Equal(t, ErrorInvalidKey, err)
}

func TestJourneyCache(t *testing.T) {
	journeyCache, err := NewJourneyCache(2)
	require.Nil(t, err)
	assert.True(t, journeyCache.Enabled())

	first, _ := NewKey("simulation", "first")
	second, _ := NewKey("simulation", "second")
	third, _ := NewKey("simulation", "third")

	population := []model.Journey{model.NewJourney(model.ChannelPush, model.ChannelSMS)}
	require.Nil(t, journeyCache.Set(first, population))
	assert.Equal(t, ErrorInvalidValues, journeyCache.Set(first, nil))

	// the cached copy is independent of the caller's slice.
	population[0].Touches[0].Channel = model.ChannelOffline
	cached, exists := journeyCache.Get(first)
	require.True(t, exists)
	assert.Equal(t, model.ChannelPush, cached[0].Touches[0].Channel)
	cached[0].Touches[0].Channel = model.ChannelOffline
	cached, _ = journeyCache.Get(first)
	assert.Equal(t, model.ChannelPush, cached[0].Touches[0].Channel)

	require.Nil(t, journeyCache.Set(second, population))
	require.Nil(t, journeyCache.Set(third, population))
	assert.Equal(t, 2, journeyCache.Len())
	_, exists = journeyCache.Get(first)
	assert.False(t, exists)
}

func TestJourneyCacheDisabled(t *testing.T) {
	journeyCache, err := NewJourneyCache(0)
	require.Nil(t, err)
	assert.False(t, journeyCache.Enabled())

	key, _ := NewKey("simulation", "abc")
	assert.Nil(t, journeyCache.Set(key, []model.Journey{}))
	_, exists := journeyCache.Get(key)
	assert.False(t, exists)
	assert.Equal(t, 0, journeyCache.Len())
}
