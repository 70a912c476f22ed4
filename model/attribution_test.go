package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUShapedByJourneyLength(t *testing.T) {
	options := DefaultModelOptions()

	shares, err := AttributeJourney(AttributionMethodUShaped, NewJourney("a"), nil, options)
	assert.Nil(t, err)
	assert.Equal(t, map[string]float64{"a": 100}, shares)

	shares, _ = AttributeJourney(AttributionMethodUShaped, NewJourney("a", "b"), WeightMap{"a": 1, "b": 9}, options)
	assert.InDelta(t, 50, shares["a"], 1e-9)
	assert.InDelta(t, 50, shares["b"], 1e-9)

	shares, _ = AttributeJourney(AttributionMethodUShaped, NewJourney("a", "b", "c"), nil, options)
	assert.InDelta(t, 40, shares["a"], 1e-9)
	assert.InDelta(t, 20, shares["b"], 1e-9)
	assert.InDelta(t, 40, shares["c"], 1e-9)

	shares, _ = AttributeJourney(AttributionMethodUShaped, NewJourney("a", "b", "c", "b", "e"), nil, options)
	assert.InDelta(t, 40, shares["a"], 1e-9)
	assert.InDelta(t, 40.0/3, shares["b"], 1e-9)
	assert.InDelta(t, 20.0/3, shares["c"], 1e-9)
	assert.InDelta(t, 40, shares["e"], 1e-9)

	// repeated channel at first and middle positions sums its credits.
	shares, _ = AttributeJourney(AttributionMethodUShaped, NewJourney("a", "b", "a", "c"), nil, options)
	assert.InDelta(t, 50, shares["a"], 1e-9)
	assert.InDelta(t, 10, shares["b"], 1e-9)
	assert.InDelta(t, 40, shares["c"], 1e-9)
}

func TestUShapedOptions(t *testing.T) {
	journey := NewJourney("a", "b", "c", "b", "e")

	options := DefaultModelOptions()
	options.MiddleSplit = MiddleSplitUniqueChannel
	shares, err := AttributeJourney(AttributionMethodUShaped, journey, nil, options)
	assert.Nil(t, err)
	assert.InDelta(t, 10, shares["b"], 1e-9)
	assert.InDelta(t, 10, shares["c"], 1e-9)

	options = DefaultModelOptions()
	options.UShape = UShapeWeights{First: 0.3, Last: 0.5, Middle: 0.2}
	shares, _ = AttributeJourney(AttributionMethodUShaped, NewJourney("a", "b"), nil, options)
	assert.InDelta(t, 37.5, shares["a"], 1e-9)
	assert.InDelta(t, 62.5, shares["b"], 1e-9)

	options.UShape = UShapeWeights{First: 0.5, Last: 0.5, Middle: 0.2}
	_, err = AttributeJourney(AttributionMethodUShaped, journey, nil, options)
	assert.Equal(t, ErrInvalidUShapeWeights, err)

	options.UShape = UShapeWeights{First: -0.2, Last: 1, Middle: 0.2}
	_, err = AttributeJourney(AttributionMethodUShaped, journey, nil, options)
	assert.Equal(t, ErrInvalidUShapeWeights, err)

	options = DefaultModelOptions()
	options.MiddleSplit = "random"
	_, err = AttributeJourney(AttributionMethodUShaped, journey, nil, options)
	assert.Equal(t, ErrInvalidModelOption, err)
}

func TestFirstAndLastTouch(t *testing.T) {
	journey := NewJourney(ChannelPush, ChannelStories, ChannelOffline)

	shares, err := AttributeJourney(AttributionMethodLastTouch, journey, nil, ModelOptions{})
	assert.Nil(t, err)
	assert.Equal(t, map[string]float64{ChannelOffline: 100}, shares)

	shares, err = AttributeJourney(AttributionMethodFirstTouch, journey, nil, ModelOptions{})
	assert.Nil(t, err)
	assert.Equal(t, map[string]float64{ChannelPush: 100}, shares)

	_, err = AttributeJourney("Linear", journey, nil, ModelOptions{})
	assert.Equal(t, ErrUnknownAttributionMethod, err)
}

func TestWeightedScore(t *testing.T) {
	weights := WeightMap{"a": 2, "b": 3}

	shares, err := AttributeJourney(AttributionMethodWeighted, NewJourney("a", "b"), weights, ModelOptions{})
	assert.Nil(t, err)
	assert.InDelta(t, 40, shares["a"], 1e-9)
	assert.InDelta(t, 60, shares["b"], 1e-9)

	// every position counts, repeated channels sum their weights.
	shares, _ = AttributeJourney(AttributionMethodWeighted, NewJourney("a", "b", "a"), weights, ModelOptions{})
	assert.InDelta(t, 4.0/7*100, shares["a"], 1e-9)

	options := ModelOptions{WeightedScoring: ScoringUniqueChannel}
	shares, _ = AttributeJourney(AttributionMethodWeighted, NewJourney("a", "b", "a"), weights, options)
	assert.InDelta(t, 40, shares["a"], 1e-9)
	assert.InDelta(t, 60, shares["b"], 1e-9)
}

func TestWeightedScoreAllZeroWeights(t *testing.T) {
	registry := NewDefaultChannelRegistry()
	require.Nil(t, registry.SetModifierActive(ChannelStories, true))
	recent := Journey{Value: 1, Touches: []Touch{{Channel: ChannelStories, Lead: time.Minute, HasLead: true}}}

	shares, err := AttributeJourney(AttributionMethodWeighted, recent, registry.Snapshot(), ModelOptions{})
	assert.Nil(t, err)
	assert.Empty(t, shares)

	report, err := ComputeModels([]Journey{recent, NewJourney(ChannelPush)}, registry.Snapshot(), ModelOptions{})
	assert.Nil(t, err)
	assert.Equal(t, 1, report.Stats.ZeroWeightJourneys)
	assert.InDelta(t, 100, report.Weighted.Shares[ChannelPush], 1e-9)
	assert.Equal(t, 0.0, report.Weighted.Shares[ChannelStories])
	// position models still credit the excluded touch.
	assert.InDelta(t, 50, report.UShaped.Shares[ChannelStories], 1e-9)
	assert.InDelta(t, 50, report.LastTouch.Shares[ChannelStories], 1e-9)
}

func TestModifierChangesOnlyWeightedModel(t *testing.T) {
	registry := NewDefaultChannelRegistry()
	journeys := []Journey{
		NewJourney(ChannelDigital, ChannelOffline, ChannelTelemarketing),
		NewJourney(ChannelOffline, ChannelPush),
	}

	before, err := ComputeModels(journeys, registry.Snapshot(), ModelOptions{})
	require.Nil(t, err)
	require.Nil(t, registry.SetModifierActive(ChannelOffline, true))
	after, err := ComputeModels(journeys, registry.Snapshot(), ModelOptions{})
	require.Nil(t, err)

	assert.True(t, after.Weighted.Shares[ChannelOffline] < before.Weighted.Shares[ChannelOffline])
	assert.Equal(t, before.UShaped, after.UShaped)
	assert.Equal(t, before.FirstTouch, after.FirstTouch)
	assert.Equal(t, before.LastTouch, after.LastTouch)
}

func TestComputeModelsPopulation(t *testing.T) {
	registry := NewDefaultChannelRegistry()
	journeys := []Journey{
		NewJourney(ChannelPush, ChannelStories, ChannelOffline),
		NewJourney(ChannelDigital, ChannelOffline),
		NewJourney(),
		NewJourney(ChannelSMS),
	}

	report, err := ComputeModels(journeys, registry.Snapshot(), ModelOptions{})
	require.Nil(t, err)

	assert.Equal(t, 4, report.Stats.Journeys)
	assert.Equal(t, 1, report.Stats.Organic)
	assert.Equal(t, 3, report.Stats.Attributed)
	assert.Equal(t, 6, report.Stats.Touches)
	assert.InDelta(t, 25, report.Stats.OrganicShare(), 1e-9)
	assert.InDelta(t, 2, report.Stats.AverageTouches(), 1e-9)

	for _, method := range AttributionMethods {
		result, err := report.Result(method)
		require.Nil(t, err)
		assert.Equal(t, method, result.Method)
		var total float64
		for _, share := range result.Shares {
			total += share
		}
		assert.InDelta(t, 100, total, 1e-9, method)
	}

	// last touch: offline twice, sms once.
	assert.InDelta(t, 200.0/3, report.LastTouch.Shares[ChannelOffline], 1e-9)
	assert.InDelta(t, 2, report.LastTouch.Credits[ChannelOffline], 1e-9)
	assert.Equal(t, []string{ChannelOffline, ChannelSMS}, report.LastTouch.Channels())

	// weighted: push 3/10, stories 2/10, offline 5/10 + digital 2/7, offline 5/7 + sms 1.
	assert.InDelta(t, (0.5+5.0/7)/3*100, report.Weighted.Shares[ChannelOffline], 1e-9)
	assert.InDelta(t, 100.0/3, report.Weighted.Shares[ChannelSMS], 1e-9)
}

func TestComputeModelsIsIdempotentAndReadsCurrentWeights(t *testing.T) {
	registry := NewDefaultChannelRegistry()
	journeys := []Journey{
		NewJourney(ChannelDigital, ChannelStories, ChannelPush, ChannelSMS, ChannelTelemarketing),
		NewJourney(ChannelSMS, ChannelPush),
		NewJourney(ChannelDigital, ChannelOffline),
	}

	first, err := ComputeModels(journeys, registry.Snapshot(), ModelOptions{})
	require.Nil(t, err)
	second, err := ComputeModels(journeys, registry.Snapshot(), ModelOptions{})
	require.Nil(t, err)
	assert.Equal(t, first, second)

	require.Nil(t, registry.SetWeight(ChannelPush, 10))
	third, err := ComputeModels(journeys, registry.Snapshot(), ModelOptions{})
	require.Nil(t, err)
	assert.NotEqual(t, first.Weighted.Shares, third.Weighted.Shares)
	assert.Equal(t, first.UShaped, third.UShaped)
	assert.Equal(t, first.LastTouch, third.LastTouch)
	assert.Equal(t, first.FirstTouch, third.FirstTouch)
}

func TestComputeModelsEmptyAndOrganicPopulations(t *testing.T) {
	for _, journeys := range [][]Journey{nil, {NewJourney(), NewJourney()}} {
		report, err := ComputeModels(journeys, nil, ModelOptions{})
		assert.Nil(t, err)
		assert.True(t, report.Weighted.IsEmpty())
		assert.True(t, report.UShaped.IsEmpty())
		assert.True(t, report.LastTouch.IsEmpty())
		assert.True(t, report.FirstTouch.IsEmpty())
		assert.Equal(t, len(journeys), report.Stats.Organic)
		assert.Equal(t, 0, report.Stats.Attributed)
	}
}

func TestComputeModelsConversionValue(t *testing.T) {
	big := NewJourney(ChannelPush)
	big.Value = 900
	small := NewJourney(ChannelSMS)
	small.Value = 100

	report, err := ComputeModels([]Journey{big, small}, nil, ModelOptions{UseConversionValue: true})
	require.Nil(t, err)
	assert.InDelta(t, 90, report.LastTouch.Shares[ChannelPush], 1e-9)
	assert.InDelta(t, 900, report.LastTouch.Credits[ChannelPush], 1e-9)
	assert.InDelta(t, 1000, report.Stats.Units, 1e-9)

	report, err = ComputeModels([]Journey{big, small}, nil, ModelOptions{})
	require.Nil(t, err)
	assert.InDelta(t, 50, report.LastTouch.Shares[ChannelPush], 1e-9)
}

func TestComputeModelsMaxLengthJourney(t *testing.T) {
	channels := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	report, err := ComputeModels([]Journey{NewJourney(channels...)}, nil, ModelOptions{})
	require.Nil(t, err)
	assert.InDelta(t, 40, report.UShaped.Shares["a"], 1e-9)
	assert.InDelta(t, 40, report.UShaped.Shares["h"], 1e-9)
	for _, channel := range channels[1:7] {
		assert.InDelta(t, 20.0/6, report.UShaped.Shares[channel], 1e-9)
	}
	assert.InDelta(t, 12.5, report.Weighted.Shares["d"], 1e-9)
}

func TestCompareModels(t *testing.T) {
	journeys := []Journey{
		NewJourney(ChannelDigital, ChannelPush, ChannelTelemarketing),
		NewJourney(ChannelDigital, ChannelStories),
	}
	report, err := ComputeModels(journeys, nil, ModelOptions{})
	require.Nil(t, err)

	deltas := CompareModels(report.FirstTouch, report.LastTouch, DefaultDiscrepancyThreshold)
	require.Len(t, deltas, 3)
	assert.Equal(t, ChannelDigital, deltas[0].Channel)
	assert.InDelta(t, -100, deltas[0].Difference, 1e-9)
	assert.True(t, deltas[0].Significant)
	assert.InDelta(t, 50, deltas[1].ShareB, 1e-9)
	assert.Equal(t, 0.0, deltas[1].ShareA)

	same := CompareModels(report.UShaped, report.UShaped, DefaultDiscrepancyThreshold)
	for _, delta := range same {
		assert.False(t, delta.Significant)
	}
}
