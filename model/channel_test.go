package model

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelRegistryWeights(t *testing.T) {
	registry := NewDefaultChannelRegistry()

	assert.Equal(t, 2.0, registry.GetWeight(ChannelDigital))
	assert.Equal(t, 5.0, registry.GetWeight("Telemarketing"))
	assert.Equal(t, DefaultWeight, registry.GetWeight("carrier pigeon"))

	t.Run("RejectsInvalidWeightAndKeepsLastValue", func(t *testing.T) {
		assert.Nil(t, registry.SetWeight(ChannelPush, 4))
		for _, weight := range []float64{-1, math.NaN(), math.Inf(1)} {
			err := registry.SetWeight(ChannelPush, weight)
			assert.Equal(t, ErrInvalidWeight, err)
			assert.True(t, IsValidationError(err))
		}
		assert.Equal(t, 4.0, registry.GetWeight(ChannelPush))
	})

	t.Run("ZeroResolvesToDefault", func(t *testing.T) {
		assert.Nil(t, registry.SetWeight(ChannelSMS, 0))
		assert.Equal(t, DefaultWeight, registry.GetWeight(ChannelSMS))
	})

	t.Run("EmptyChannelID", func(t *testing.T) {
		assert.Equal(t, ErrEmptyChannelID, registry.SetWeight("  ", 1))
	})

	t.Run("UnknownChannelBecomesConfigured", func(t *testing.T) {
		assert.Nil(t, registry.SetWeight("Email", 1.5))
		channel, exists := registry.GetChannel("email")
		assert.True(t, exists)
		assert.False(t, channel.Implicit)
		assert.Equal(t, 1.5, channel.Weight)
	})

	t.Run("DefaultWeight", func(t *testing.T) {
		assert.Equal(t, ErrInvalidWeight, registry.SetDefaultWeight(0))
		assert.Nil(t, registry.SetDefaultWeight(1))
		assert.Equal(t, 1.0, registry.GetWeight("unconfigured"))
	})
}

func TestChannelRegistryIdentify(t *testing.T) {
	registry := NewDefaultChannelRegistry()

	for raw, expected := range map[string]string{
		"push":              ChannelPush,
		"  PUSH ":           ChannelPush,
		"Digital Ads":       ChannelDigital,
		"facebook":          ChannelDigital,
		"Facebook CPC":      ChannelDigital,
		"Instagram Stories": ChannelStories,
		"instagram story":   ChannelStories,
		"phone call":        ChannelTelemarketing,
		"Телемаркетинг":     ChannelTelemarketing,
		"branch visit":      ChannelOffline,
	} {
		id, known := registry.Identify(raw)
		assert.True(t, known, raw)
		assert.Equal(t, expected, id, raw)
	}

	id, known := registry.Identify("Carrier Pigeon")
	assert.False(t, known)
	assert.Equal(t, "carrier pigeon", id)

	_, known = registry.Identify("")
	assert.False(t, known)

	id, _ = registry.Identify("carrier\x1fpigeon")
	assert.Equal(t, "carrier pigeon", id)
}

func TestChannelRegistryResolveAllocatesImplicitChannel(t *testing.T) {
	registry := NewDefaultChannelRegistry()

	id, known, err := registry.Resolve("Carrier  Pigeon")
	assert.Nil(t, err)
	assert.False(t, known)
	assert.Equal(t, "carrier pigeon", id)

	// second lookup finds the implicit channel, still reported as unknown.
	id, known, err = registry.Resolve("carrier pigeon")
	assert.Nil(t, err)
	assert.False(t, known)
	assert.Equal(t, "carrier pigeon", id)
	assert.Equal(t, DefaultWeight, registry.GetWeight(id))

	_, _, err = registry.Resolve(" ")
	assert.Equal(t, ErrEmptyChannelID, err)

	channels := registry.ListChannels()
	assert.Len(t, channels, len(DefaultChannels())+1)
	assert.Equal(t, ChannelDigital, channels[0].ID)
	last := channels[len(channels)-1]
	assert.Equal(t, "carrier pigeon", last.ID)
	assert.True(t, last.Implicit)
}

func TestChannelRegistryListIsACopy(t *testing.T) {
	registry := NewDefaultChannelRegistry()
	channels := registry.ListChannels()
	channels[0].Weight = 100
	channels[0].Aliases[0] = "changed"

	channel, _ := registry.GetChannel(channels[0].ID)
	assert.Equal(t, 2.0, channel.Weight)
	assert.Equal(t, "digital", channel.Aliases[0])
}

func TestChannelModifiers(t *testing.T) {
	registry := NewDefaultChannelRegistry()

	assert.Equal(t, ErrUnknownChannel, registry.SetModifierActive("unknown", true))
	assert.Equal(t, ErrNoModifier, registry.SetModifierActive(ChannelPush, true))
	assert.Equal(t, ErrInvalidModifier, registry.SetModifier(ChannelPush, &Modifier{Kind: "boost"}))
	assert.Equal(t, ErrInvalidModifier, registry.SetModifier(ChannelPush,
		&Modifier{Kind: ModifierDiscount, Weight: -1}))

	recent := Touch{Channel: ChannelStories, Lead: 30 * time.Minute, HasLead: true}
	early := Touch{Channel: ChannelStories, Lead: 3 * time.Hour, HasLead: true}
	untimed := Touch{Channel: ChannelStories}
	offline := Touch{Channel: ChannelOffline}

	snapshot := registry.Snapshot()
	assert.Equal(t, 2.0, snapshot.TouchWeight(recent))
	assert.Equal(t, 5.0, snapshot.TouchWeight(offline))

	assert.Nil(t, registry.SetModifierActive(ChannelStories, true))
	assert.Nil(t, registry.SetModifierActive(ChannelOffline, true))

	// the old snapshot is unaffected.
	assert.Equal(t, 2.0, snapshot.TouchWeight(recent))

	snapshot = registry.Snapshot()
	assert.Equal(t, 0.0, snapshot.TouchWeight(recent))
	assert.Equal(t, 2.0, snapshot.TouchWeight(early))
	assert.Equal(t, 2.0, snapshot.TouchWeight(untimed))
	assert.Equal(t, 0.0, snapshot.TouchWeight(Touch{Channel: ChannelStories, Flagged: true}))
	assert.Equal(t, 2.0, snapshot.TouchWeight(offline))

	assert.Nil(t, registry.SetModifier(ChannelOffline, nil))
	assert.Equal(t, 5.0, registry.Snapshot().TouchWeight(offline))
}

func TestWeightMap(t *testing.T) {
	weights := WeightMap{"a": 2, "b": 0}
	assert.Equal(t, 2.0, weights.TouchWeight(Touch{Channel: "a"}))
	assert.Equal(t, DefaultWeight, weights.TouchWeight(Touch{Channel: "b"}))
	assert.Equal(t, DefaultWeight, weights.TouchWeight(Touch{Channel: "c"}))
	assert.Nil(t, weights.Validate())
	assert.Equal(t, ErrInvalidWeight, WeightMap{"a": -2}.Validate())

	// keys are matched as channel ids.
	mixedCase := WeightMap{"Push": 1, " SMS ": 9}
	assert.Equal(t, 1.0, mixedCase.TouchWeight(Touch{Channel: ChannelPush}))
	assert.Equal(t, 9.0, mixedCase.TouchWeight(Touch{Channel: ChannelSMS}))
	shares, err := AttributeJourney(AttributionMethodWeighted, NewJourney(ChannelPush, ChannelSMS),
		mixedCase, DefaultModelOptions())
	require.Nil(t, err)
	assert.InDelta(t, 10, shares[ChannelPush], 1e-9)
	assert.InDelta(t, 90, shares[ChannelSMS], 1e-9)

	normalized, err := mixedCase.Normalize()
	require.Nil(t, err)
	assert.Equal(t, WeightMap{ChannelPush: 1, ChannelSMS: 9}, normalized)
	assert.Equal(t, ErrDuplicateChannelWeight, WeightMap{"push": 1, "PUSH": 2}.Validate())
	assert.Equal(t, ErrEmptyChannelID, WeightMap{" ": 1}.Validate())
}

func TestChannelSnapshotWithWeights(t *testing.T) {
	registry := NewDefaultChannelRegistry()
	assert.Nil(t, registry.SetModifierActive(ChannelStories, true))

	snapshot := registry.Snapshot().WithWeights(WeightMap{"Stories": 4, "radio": 1})
	assert.Equal(t, 4.0, snapshot.TouchWeight(Touch{Channel: ChannelStories, Lead: 2 * time.Hour, HasLead: true}))
	assert.Equal(t, 0.0, snapshot.TouchWeight(Touch{Channel: ChannelStories, Lead: time.Minute, HasLead: true}))
	assert.Equal(t, 1.0, snapshot.TouchWeight(Touch{Channel: "radio"}))
	assert.Equal(t, 5.0, snapshot.TouchWeight(Touch{Channel: ChannelTelemarketing}))

	assert.Equal(t, 2.0, registry.GetWeight(ChannelStories))
	_, exists := registry.GetChannel("radio")
	assert.False(t, exists)
}

func TestChannelRegistryConcurrentAccess(t *testing.T) {
	registry := NewDefaultChannelRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			registry.SetWeight(ChannelPush, float64(i+1))
		}(i)
		go func() {
			defer wg.Done()
			registry.Resolve("new channel")
			registry.Snapshot().TouchWeight(Touch{Channel: ChannelPush})
		}()
	}
	wg.Wait()

	weight := registry.GetWeight(ChannelPush)
	assert.True(t, weight >= 1 && weight <= 8)
}
