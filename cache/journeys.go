package cache

import (
	"attribution/metrics"
	"attribution/model"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
)

// JourneyCache keeps simulated populations by request key. Journeys are
// cached, never attribution results: results depend on channel weights that
// may change between requests.
type JourneyCache struct {
	journeys *lru.Cache
}

// NewJourneyCache returns a cache holding up to size populations. A size of
// zero disables caching.
func NewJourneyCache(size int) (*JourneyCache, error) {
	if size <= 0 {
		return &JourneyCache{}, nil
	}
	journeys, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &JourneyCache{journeys: journeys}, nil
}

func (c *JourneyCache) Enabled() bool {
	return c != nil && c.journeys != nil
}

// Get returns a copy of the cached journeys so callers cannot alter the
// cached population.
func (c *JourneyCache) Get(key *Key) ([]model.Journey, bool) {
	if !c.Enabled() {
		return nil, false
	}
	cacheKey, err := key.Key()
	if err != nil {
		return nil, false
	}

	value, exists := c.journeys.Get(cacheKey)
	if !exists {
		metrics.Increment(metrics.IncrSimulationCacheMiss)
		return nil, false
	}
	metrics.Increment(metrics.IncrSimulationCacheHit)
	return copyJourneys(value.([]model.Journey)), true
}

func (c *JourneyCache) Set(key *Key, journeys []model.Journey) error {
	if !c.Enabled() {
		return nil
	}
	if journeys == nil {
		return ErrorInvalidValues
	}
	cacheKey, err := key.Key()
	if err != nil {
		return err
	}

	if evicted := c.journeys.Add(cacheKey, copyJourneys(journeys)); evicted {
		log.WithField("key", cacheKey).Debug("Evicted simulated population from cache.")
	}
	return nil
}

func (c *JourneyCache) Len() int {
	if !c.Enabled() {
		return 0
	}
	return c.journeys.Len()
}

func copyJourneys(journeys []model.Journey) []model.Journey {
	copied := make([]model.Journey, len(journeys))
	for i, journey := range journeys {
		copied[i] = journey
		copied[i].Touches = append([]model.Touch(nil), journey.Touches...)
	}
	return copied
}
