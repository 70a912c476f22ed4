package simulator

import (
	"io/ioutil"
	"math"
	"time"

	"attribution/model"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

var (
	ErrInvalidProbability = errors.New("scenario probability must be within [0, 1]")
	ErrProbabilitySum     = errors.New("scenario probabilities sum above 1")
	ErrNoFallbackChannels = errors.New("fallback channels required for residual probability")
	ErrInvalidTouchRange  = errors.New("invalid fallback touch range")
	ErrInvalidValueRange  = errors.New("invalid conversion value range")
	ErrInvalidCount       = errors.New("journey count must not be negative")
)

const probabilityTolerance = 1e-9

// Scenario is a journey shape drawn with the given probability. An empty path
// simulates an organic conversion.
type Scenario struct {
	Name        string   `json:"name" yaml:"name"`
	Path        []string `json:"path" yaml:"path"`
	Probability float64  `json:"probability" yaml:"probability"`
	// LastTouchLead is how long before the conversion the last touch happens.
	// Zero means one hour.
	LastTouchLead time.Duration `json:"last_touch_lead" yaml:"last_touch_lead"`
}

// Fallback draws a uniform random journey for the probability mass not
// covered by scenarios.
type Fallback struct {
	Channels   []string `json:"channels" yaml:"channels"`
	MinTouches int      `json:"min_touches" yaml:"min_touches"`
	MaxTouches int      `json:"max_touches" yaml:"max_touches"`
}

type ValueRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

type ScenarioMix struct {
	Scenarios []Scenario `json:"scenarios" yaml:"scenarios"`
	Fallback  Fallback   `json:"fallback" yaml:"fallback"`
	// ConversionValue is drawn uniformly per journey. A zero range gives
	// every journey a value of 1.
	ConversionValue ValueRange `json:"conversion_value" yaml:"conversion_value"`
}

// DefaultScenarioMix mirrors the loan funnel the tool was built for: strong
// telemarketing closes, stories used as navigation right before conversion,
// messaging-only paths and legitimate stories influence, plus noise.
func DefaultScenarioMix() ScenarioMix {
	return ScenarioMix{
		Scenarios: []Scenario{
			{Name: "digital_push_telemarketing", Probability: 0.35,
				Path: []string{model.ChannelDigital, model.ChannelPush, model.ChannelTelemarketing}},
			{Name: "digital_stories_navigation", Probability: 0.25, LastTouchLead: 40 * time.Second,
				Path: []string{model.ChannelDigital, model.ChannelStories}},
			{Name: "sms_push", Probability: 0.15,
				Path: []string{model.ChannelSMS, model.ChannelPush}},
			{Name: "digital_stories_telemarketing", Probability: 0.15,
				Path: []string{model.ChannelDigital, model.ChannelStories, model.ChannelTelemarketing}},
		},
		Fallback: Fallback{
			Channels: []string{model.ChannelDigital, model.ChannelStories, model.ChannelPush,
				model.ChannelSMS, model.ChannelTelemarketing, model.ChannelOffline},
			MinTouches: 1,
			MaxTouches: 4,
		},
		ConversionValue: ValueRange{Min: 5000, Max: 50000},
	}
}

// LoadScenarioMix parses a YAML scenario mix and validates it.
func LoadScenarioMix(contents []byte) (ScenarioMix, error) {
	var mix ScenarioMix
	if err := yaml.Unmarshal(contents, &mix); err != nil {
		return ScenarioMix{}, errors.Wrap(err, "failed to parse scenario mix")
	}
	mix = mix.normalized()
	if err := mix.Validate(); err != nil {
		return ScenarioMix{}, err
	}
	return mix, nil
}

func LoadScenarioMixFile(path string) (ScenarioMix, error) {
	contents, err := ioutil.ReadFile(path)
	if err != nil {
		return ScenarioMix{}, errors.Wrapf(err, "failed to read scenario mix %s", path)
	}
	return LoadScenarioMix(contents)
}

// ResolveChannels maps every channel of the mix onto registry channel ids, so
// display names and aliases can be used in scenario files.
func (m ScenarioMix) ResolveChannels(registry *model.ChannelRegistry) (ScenarioMix, error) {
	resolve := func(channels []string) ([]string, error) {
		resolved := make([]string, 0, len(channels))
		for _, channel := range channels {
			id, _, err := registry.Resolve(channel)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid scenario channel %q", channel)
			}
			resolved = append(resolved, id)
		}
		return resolved, nil
	}

	out := m.normalized()
	out.Scenarios = make([]Scenario, len(m.Scenarios))
	for i, scenario := range m.Scenarios {
		path, err := resolve(scenario.Path)
		if err != nil {
			return ScenarioMix{}, err
		}
		scenario.Path = path
		out.Scenarios[i] = scenario
	}
	channels, err := resolve(m.Fallback.Channels)
	if err != nil {
		return ScenarioMix{}, err
	}
	out.Fallback.Channels = channels
	return out, nil
}

// normalized fills the fallback touch range defaults.
func (m ScenarioMix) normalized() ScenarioMix {
	if m.Fallback.MinTouches == 0 && m.Fallback.MaxTouches == 0 {
		m.Fallback.MinTouches, m.Fallback.MaxTouches = 1, 4
	}
	return m
}

// Residual is the probability mass left to the fallback.
func (m ScenarioMix) Residual() float64 {
	residual := 1.0
	for _, scenario := range m.Scenarios {
		residual -= scenario.Probability
	}
	if residual < probabilityTolerance {
		return 0
	}
	return residual
}

func (m ScenarioMix) Validate() error {
	var total float64
	for _, scenario := range m.Scenarios {
		if math.IsNaN(scenario.Probability) || scenario.Probability < 0 || scenario.Probability > 1 {
			return errors.Wrapf(ErrInvalidProbability, "scenario %q", scenario.Name)
		}
		if scenario.LastTouchLead < 0 {
			return errors.Errorf("scenario %q: negative last touch lead", scenario.Name)
		}
		total += scenario.Probability
	}
	if total > 1+probabilityTolerance {
		return ErrProbabilitySum
	}

	if m.Fallback.MinTouches < 1 || m.Fallback.MaxTouches < m.Fallback.MinTouches {
		return ErrInvalidTouchRange
	}
	if m.Residual() > 0 && len(m.Fallback.Channels) == 0 {
		return ErrNoFallbackChannels
	}
	if m.ConversionValue.Min < 0 || m.ConversionValue.Max < m.ConversionValue.Min {
		return ErrInvalidValueRange
	}
	return nil
}

// rangeMap is the cumulative probability table of a mix, computed once per
// simulation run.
type rangeMap struct {
	upper     []float64
	scenarios []Scenario
}

func computeRangeMap(scenarios []Scenario) rangeMap {
	table := rangeMap{}
	var cumulative float64
	for _, scenario := range scenarios {
		if scenario.Probability == 0 {
			continue
		}
		cumulative += scenario.Probability
		table.upper = append(table.upper, cumulative)
		table.scenarios = append(table.scenarios, scenario)
	}
	return table
}

// get returns the scenario whose range holds r, false when r falls in the
// residual mass.
func (t rangeMap) get(r float64) (Scenario, bool) {
	for i, upper := range t.upper {
		if r < upper {
			return t.scenarios[i], true
		}
	}
	return Scenario{}, false
}
