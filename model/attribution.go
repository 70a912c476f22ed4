package model

import (
	"math"
	"sort"

	U "attribution/util"

	log "github.com/sirupsen/logrus"
)

const (
	MiddleSplitPerPosition   = "per_position"
	MiddleSplitUniqueChannel = "unique_channel"

	ScoringPerTouch      = "per_touch"
	ScoringUniqueChannel = "unique_channel"

	// DefaultDiscrepancyThreshold is the share difference, in percentage
	// points, above which two models are said to disagree on a channel.
	DefaultDiscrepancyThreshold = 5.0
)

const weightSumTolerance = 1e-9

// UShapeWeights are the fractions of a conversion given to the first touch,
// the last touch and the touches in between.
type UShapeWeights struct {
	First  float64 `json:"first" yaml:"first"`
	Last   float64 `json:"last" yaml:"last"`
	Middle float64 `json:"middle" yaml:"middle"`
}

func DefaultUShapeWeights() UShapeWeights {
	return UShapeWeights{First: 0.4, Last: 0.4, Middle: 0.2}
}

func (w UShapeWeights) Validate() error {
	for _, weight := range []float64{w.First, w.Last, w.Middle} {
		if !isValidWeight(weight) {
			return ErrInvalidUShapeWeights
		}
	}
	if math.Abs(w.First+w.Last+w.Middle-1) > weightSumTolerance {
		return ErrInvalidUShapeWeights
	}
	return nil
}

type ModelOptions struct {
	UShape          UShapeWeights `json:"u_shape"`
	MiddleSplit     string        `json:"middle_split"`
	WeightedScoring string        `json:"weighted_scoring"`
	// UseConversionValue credits each journey with its conversion value
	// instead of one unit.
	UseConversionValue bool `json:"use_conversion_value"`
}

func DefaultModelOptions() ModelOptions {
	return ModelOptions{
		UShape:          DefaultUShapeWeights(),
		MiddleSplit:     MiddleSplitPerPosition,
		WeightedScoring: ScoringPerTouch,
	}
}

// WithDefaults fills the unset options. A zero UShape means the default one.
func (o ModelOptions) WithDefaults() ModelOptions {
	if o.UShape == (UShapeWeights{}) {
		o.UShape = DefaultUShapeWeights()
	}
	if o.MiddleSplit == "" {
		o.MiddleSplit = MiddleSplitPerPosition
	}
	if o.WeightedScoring == "" {
		o.WeightedScoring = ScoringPerTouch
	}
	return o
}

func (o ModelOptions) Validate() error {
	if err := o.UShape.Validate(); err != nil {
		return err
	}
	if o.MiddleSplit != MiddleSplitPerPosition && o.MiddleSplit != MiddleSplitUniqueChannel {
		return ErrInvalidModelOption
	}
	if o.WeightedScoring != ScoringPerTouch && o.WeightedScoring != ScoringUniqueChannel {
		return ErrInvalidModelOption
	}
	return nil
}

// ModelResult is one model's view of a population. Credits are absolute
// conversion units, Shares the same credits as percentages of the model total.
type ModelResult struct {
	Method  string             `json:"method"`
	Credits map[string]float64 `json:"credits"`
	Shares  map[string]float64 `json:"shares"`
	// channels in first-credited order.
	channels []string
}

func newModelResult(method string) *ModelResult {
	return &ModelResult{
		Method:   method,
		Credits:  make(map[string]float64),
		Shares:   make(map[string]float64),
		channels: make([]string, 0),
	}
}

func (r *ModelResult) add(keys []AttributionKeyWeight, unit float64) {
	for _, key := range keys {
		if _, exists := r.Credits[key.Key]; !exists {
			r.channels = append(r.channels, key.Key)
		}
		r.Credits[key.Key] += key.Weight * unit
	}
}

func (r *ModelResult) computeShares() {
	var total float64
	for _, channel := range r.channels {
		total += r.Credits[channel]
	}
	if total <= 0 {
		return
	}
	for _, channel := range r.channels {
		r.Shares[channel] = r.Credits[channel] / total * 100
	}
}

// Channels returns the credited channels ordered by share, highest first,
// ties in first-credited order.
func (r ModelResult) Channels() []string {
	channels := r.channels
	if channels == nil {
		channels = make([]string, 0, len(r.Shares))
		for channel := range r.Shares {
			channels = append(channels, channel)
		}
		sort.Strings(channels)
	}
	return U.SortOnPriority(channels, r.Shares, false)
}

func (r ModelResult) IsEmpty() bool {
	return len(r.Shares) == 0
}

// PopulationStats summarises the population behind a report.
type PopulationStats struct {
	Journeys           int     `json:"journeys"`
	Organic            int     `json:"organic"`
	Attributed         int     `json:"attributed"`
	ZeroWeightJourneys int     `json:"zero_weight_journeys"`
	Touches            int     `json:"touches"`
	Units              float64 `json:"units"`
}

// OrganicShare is the percentage of journeys without any touch.
func (s PopulationStats) OrganicShare() float64 {
	if s.Journeys == 0 {
		return 0
	}
	return float64(s.Organic) / float64(s.Journeys) * 100
}

func (s PopulationStats) AverageTouches() float64 {
	if s.Attributed == 0 {
		return 0
	}
	return float64(s.Touches) / float64(s.Attributed)
}

type AttributionReport struct {
	Weighted   ModelResult     `json:"weighted"`
	UShaped    ModelResult     `json:"u_shaped"`
	LastTouch  ModelResult     `json:"last_touch"`
	FirstTouch ModelResult     `json:"first_touch"`
	Stats      PopulationStats `json:"stats"`
}

// Result returns the report's result for an attribution method.
func (r AttributionReport) Result(method string) (ModelResult, error) {
	switch method {
	case AttributionMethodWeighted:
		return r.Weighted, nil
	case AttributionMethodUShaped:
		return r.UShaped, nil
	case AttributionMethodLastTouch:
		return r.LastTouch, nil
	case AttributionMethodFirstTouch:
		return r.FirstTouch, nil
	}
	return ModelResult{}, ErrUnknownAttributionMethod
}

// ComputeModels runs the four models over a population. Organic journeys are
// counted in the stats and excluded from every model. weights is read once per
// touch; pass a ChannelSnapshot so a concurrent weight change cannot split a
// computation. A nil weights uses the default weight for every channel.
func ComputeModels(journeys []Journey, weights TouchWeigher, options ModelOptions) (AttributionReport, error) {
	options = options.WithDefaults()
	if err := options.Validate(); err != nil {
		return AttributionReport{}, err
	}
	if weights == nil {
		weights = WeightMap(nil)
	}

	results := make(map[string]*ModelResult, len(AttributionMethods))
	for _, method := range AttributionMethods {
		results[method] = newModelResult(method)
	}

	var stats PopulationStats
	for _, journey := range journeys {
		stats.Journeys++
		if journey.IsOrganic() {
			stats.Organic++
			continue
		}
		stats.Attributed++
		stats.Touches += journey.Len()

		unit := journey.unit(options.UseConversionValue)
		stats.Units += unit
		for _, method := range AttributionMethods {
			keys, err := getAttributionKeys(method, journey, weights, options)
			if err != nil {
				return AttributionReport{}, err
			}
			if len(keys) == 0 && method == AttributionMethodWeighted {
				stats.ZeroWeightJourneys++
			}
			results[method].add(keys, unit)
		}
	}

	for _, result := range results {
		result.computeShares()
	}

	log.WithFields(log.Fields{"journeys": stats.Journeys, "organic": stats.Organic,
		"zero_weight": stats.ZeroWeightJourneys}).Debug("Computed attribution models.")

	return AttributionReport{
		Weighted:   *results[AttributionMethodWeighted],
		UShaped:    *results[AttributionMethodUShaped],
		LastTouch:  *results[AttributionMethodLastTouch],
		FirstTouch: *results[AttributionMethodFirstTouch],
		Stats:      stats,
	}, nil
}

// AttributeJourney returns a single journey's channel percentages under one
// model. Organic and zero-weight journeys give an empty map.
func AttributeJourney(method string, journey Journey, weights TouchWeigher,
	options ModelOptions) (map[string]float64, error) {

	options = options.WithDefaults()
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if weights == nil {
		weights = WeightMap(nil)
	}

	keys, err := getAttributionKeys(method, journey, weights, options)
	if err != nil {
		return nil, err
	}
	result := newModelResult(method)
	result.add(keys, 1)
	result.computeShares()
	return result.Shares, nil
}

// ShareDelta is one channel's share under two models.
type ShareDelta struct {
	Channel    string  `json:"channel"`
	ShareA     float64 `json:"share_a"`
	ShareB     float64 `json:"share_b"`
	Difference float64 `json:"difference"`
	// Significant is set when the absolute difference exceeds the threshold.
	Significant bool `json:"significant"`
}

// CompareModels lists the per-channel share differences b - a, largest absolute
// difference first. Channels credited by only one model count as 0 in the other.
func CompareModels(a, b ModelResult, threshold float64) []ShareDelta {
	channels := append(a.Channels(), b.Channels()...)
	deltas := make([]ShareDelta, 0, len(channels))
	seen := make(map[string]bool, len(channels))
	for _, channel := range channels {
		if seen[channel] {
			continue
		}
		seen[channel] = true
		difference := b.Shares[channel] - a.Shares[channel]
		deltas = append(deltas, ShareDelta{
			Channel:     channel,
			ShareA:      a.Shares[channel],
			ShareB:      b.Shares[channel],
			Difference:  difference,
			Significant: math.Abs(difference) > threshold,
		})
	}

	sort.SliceStable(deltas, func(i, j int) bool {
		return math.Abs(deltas[i].Difference) > math.Abs(deltas[j].Difference)
	})
	return deltas
}
