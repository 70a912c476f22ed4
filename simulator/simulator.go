package simulator

import (
	"fmt"
	"math/rand"
	"time"

	"attribution/model"

	"github.com/jinzhu/now"
	log "github.com/sirupsen/logrus"
)

const (
	touchSpacing       = time.Hour
	conversionSpacing  = time.Minute
	syntheticClientFmt = "sim-%d"
)

// Simulator draws synthetic journeys. Runs are reproducible for a given
// random source; a Simulator must not be shared between goroutines.
type Simulator struct {
	random *rand.Rand
}

func New(src rand.Source) *Simulator {
	return &Simulator{random: rand.New(src)}
}

// NewSeeded is New with a math/rand source for the given seed.
func NewSeeded(seed int64) *Simulator {
	return New(rand.NewSource(seed))
}

// draft is one drawn journey before it is rendered as a journey or as events.
type draft struct {
	path     []string
	lastLead time.Duration
	value    float64
}

func (s *Simulator) draw(count int, mix ScenarioMix) ([]draft, error) {
	if count < 0 {
		return nil, ErrInvalidCount
	}
	mix = mix.normalized()
	if err := mix.Validate(); err != nil {
		return nil, err
	}

	table := computeRangeMap(mix.Scenarios)
	drafts := make([]draft, 0, count)
	for i := 0; i < count; i++ {
		d := draft{lastLead: touchSpacing, value: 1}
		if scenario, exists := table.get(s.random.Float64()); exists {
			d.path = model.DeduplicateConsecutive(scenario.Path)
			if scenario.LastTouchLead > 0 {
				d.lastLead = scenario.LastTouchLead
			}
		} else {
			d.path = s.randomPath(mix.Fallback)
		}
		if mix.ConversionValue.Max > 0 {
			spread := mix.ConversionValue.Max - mix.ConversionValue.Min + 1
			d.value = float64(mix.ConversionValue.Min + s.random.Intn(spread))
		}
		drafts = append(drafts, d)
	}

	log.WithFields(log.Fields{"count": count, "scenarios": len(table.scenarios)}).
		Debug("Drew synthetic journeys.")
	return drafts, nil
}

func (s *Simulator) randomPath(fallback Fallback) []string {
	length := fallback.MinTouches + s.random.Intn(fallback.MaxTouches-fallback.MinTouches+1)
	path := make([]string, 0, length)
	for i := 0; i < length; i++ {
		path = append(path, fallback.Channels[s.random.Intn(len(fallback.Channels))])
	}
	return model.DeduplicateConsecutive(path)
}

// lead is the time between the touch at position and the conversion: the last
// touch happens lastLead before it, every earlier one an hour before the next.
func (d draft) lead(position int) time.Duration {
	return d.lastLead + time.Duration(len(d.path)-1-position)*touchSpacing
}

// Simulate draws count journeys from the mix.
func (s *Simulator) Simulate(count int, mix ScenarioMix) ([]model.Journey, error) {
	drafts, err := s.draw(count, mix)
	if err != nil {
		return nil, err
	}

	journeys := make([]model.Journey, 0, len(drafts))
	for i, d := range drafts {
		touches := make([]model.Touch, 0, len(d.path))
		for position, channel := range d.path {
			touches = append(touches, model.Touch{Channel: channel, Lead: d.lead(position), HasLead: true})
		}
		journeys = append(journeys, model.Journey{
			ClientID: fmt.Sprintf(syntheticClientFmt, i),
			Value:    d.value,
			Touches:  touches,
		})
	}
	return journeys, nil
}

// SimulateEvents draws count journeys and renders them as raw touch events and
// conversions, one client per journey, with conversions a minute apart from
// the start of base's day. Building journeys from the output gives back what
// Simulate returns for the same random source.
func (s *Simulator) SimulateEvents(count int, mix ScenarioMix, base time.Time) ([]model.TouchEvent, []model.Conversion, error) {
	drafts, err := s.draw(count, mix)
	if err != nil {
		return nil, nil, err
	}

	day := now.New(base.UTC()).BeginningOfDay()
	events := make([]model.TouchEvent, 0)
	conversions := make([]model.Conversion, 0, len(drafts))
	for i, d := range drafts {
		clientID := fmt.Sprintf(syntheticClientFmt, i)
		convertedAt := day.Add(time.Duration(i) * conversionSpacing)
		for position, channel := range d.path {
			timestamp := convertedAt.Add(-d.lead(position))
			events = append(events, model.TouchEvent{
				ClientID:  clientID,
				Channel:   channel,
				Timestamp: &timestamp,
				Row:       len(events),
			})
		}
		conversions = append(conversions, model.Conversion{
			ClientID: clientID,
			At:       convertedAt,
			Value:    d.value,
			Row:      i,
		})
	}
	return events, conversions, nil
}
