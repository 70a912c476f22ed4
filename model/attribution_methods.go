package model

import (
	U "attribution/util"
)

// AttributionKeyWeight is the share of one conversion given to a channel.
// Per-journey methods return one entry per credited position; the weights of
// a journey sum to 1.
type AttributionKeyWeight struct {
	Key    string  `json:"key"`
	Weight float64 `json:"weight"`
}

const (
	AttributionMethodWeighted   = "Weighted"
	AttributionMethodUShaped    = "U_Shaped"
	AttributionMethodLastTouch  = "Last_Touch"
	AttributionMethodFirstTouch = "First_Touch"
)

// AttributionMethods lists the computed models in report order.
var AttributionMethods = []string{
	AttributionMethodWeighted,
	AttributionMethodUShaped,
	AttributionMethodLastTouch,
	AttributionMethodFirstTouch,
}

func IsValidAttributionMethod(method string) bool {
	return U.ContainsStringInArray(AttributionMethods, method)
}

// getAttributionKeys dispatches a journey to the per-journey method.
func getAttributionKeys(method string, journey Journey, weights TouchWeigher,
	options ModelOptions) ([]AttributionKeyWeight, error) {

	switch method {
	case AttributionMethodWeighted:
		return getWeightedScore(journey, weights, options.WeightedScoring), nil
	case AttributionMethodUShaped:
		return getUShaped(journey, options.UShape, options.MiddleSplit), nil
	case AttributionMethodLastTouch:
		return getLastTouch(journey), nil
	case AttributionMethodFirstTouch:
		return getFirstTouch(journey), nil
	}
	return nil, ErrUnknownAttributionMethod
}

// getWeightedScore credits each position proportionally to the effective
// weight of its touch. A journey whose weights sum to zero yields no credit.
func getWeightedScore(journey Journey, weights TouchWeigher, scoring string) []AttributionKeyWeight {
	if journey.IsOrganic() {
		return nil
	}

	var keys []AttributionKeyWeight
	if scoring == ScoringUniqueChannel {
		keys = getUniqueChannelScores(journey, weights)
	} else {
		keys = make([]AttributionKeyWeight, 0, len(journey.Touches))
		for _, touch := range journey.Touches {
			keys = append(keys, AttributionKeyWeight{Key: touch.Channel, Weight: weights.TouchWeight(touch)})
		}
	}

	var total float64
	for _, key := range keys {
		total += key.Weight
	}
	if total <= 0 {
		return nil
	}
	for i := range keys {
		keys[i].Weight = keys[i].Weight / total
	}
	return keys
}

// getUniqueChannelScores counts every distinct channel once, with the highest
// effective weight any of its touches carries.
func getUniqueChannelScores(journey Journey, weights TouchWeigher) []AttributionKeyWeight {
	index := make(map[string]int)
	keys := make([]AttributionKeyWeight, 0, len(journey.Touches))
	for _, touch := range journey.Touches {
		weight := weights.TouchWeight(touch)
		if i, exists := index[touch.Channel]; exists {
			if weight > keys[i].Weight {
				keys[i].Weight = weight
			}
			continue
		}
		index[touch.Channel] = len(keys)
		keys = append(keys, AttributionKeyWeight{Key: touch.Channel, Weight: weight})
	}
	return keys
}

// getUShaped credits by position only. One touch takes everything, two touches
// split First and Last renormalised to a whole, longer journeys give First and
// Last to the ends and spread Middle across the positions in between.
func getUShaped(journey Journey, weights UShapeWeights, middleSplit string) []AttributionKeyWeight {
	n := len(journey.Touches)
	switch n {
	case 0:
		return nil
	case 1:
		return []AttributionKeyWeight{{Key: journey.Touches[0].Channel, Weight: 1}}
	case 2:
		first, last := 0.5, 0.5
		if ends := weights.First + weights.Last; ends > 0 {
			first, last = weights.First/ends, weights.Last/ends
		}
		return []AttributionKeyWeight{
			{Key: journey.Touches[0].Channel, Weight: first},
			{Key: journey.Touches[1].Channel, Weight: last},
		}
	}

	keys := make([]AttributionKeyWeight, 0, n)
	keys = append(keys, AttributionKeyWeight{Key: journey.Touches[0].Channel, Weight: weights.First})

	middle := journey.Touches[1 : n-1]
	if middleSplit == MiddleSplitUniqueChannel {
		channels := U.UniqueStrings(Journey{Touches: middle}.Channels())
		for _, channel := range channels {
			keys = append(keys, AttributionKeyWeight{Key: channel,
				Weight: weights.Middle / float64(len(channels))})
		}
	} else {
		for _, touch := range middle {
			keys = append(keys, AttributionKeyWeight{Key: touch.Channel,
				Weight: weights.Middle / float64(len(middle))})
		}
	}

	keys = append(keys, AttributionKeyWeight{Key: journey.Touches[n-1].Channel, Weight: weights.Last})
	return keys
}

func getFirstTouch(journey Journey) []AttributionKeyWeight {
	if journey.IsOrganic() {
		return nil
	}
	return []AttributionKeyWeight{{Key: journey.Touches[0].Channel, Weight: 1}}
}

func getLastTouch(journey Journey) []AttributionKeyWeight {
	if journey.IsOrganic() {
		return nil
	}
	return []AttributionKeyWeight{{Key: journey.Touches[len(journey.Touches)-1].Channel, Weight: 1}}
}
