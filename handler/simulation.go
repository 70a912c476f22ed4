package handler

import (
	"net/http"
	"time"

	"attribution/cache"
	C "attribution/config"
	"attribution/metrics"
	"attribution/model"
	"attribution/simulator"
	U "attribution/util"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const simulationCachePrefix = "simulation"

type SimulationPayload struct {
	Count int `json:"count"`
	// Seed makes the run reproducible and cacheable. A time based seed is
	// used when absent.
	Seed *int64                `json:"seed"`
	Mix  *simulator.ScenarioMix `json:"mix"`
	ModelsPayload
}

type SimulationResponse struct {
	AttributionResponse
	Seed   int64 `json:"seed"`
	Cached bool  `json:"cached"`
}

// simulationCacheKey identifies a seeded population. Weights and model options
// are left out since only the journeys are cached.
type simulationCacheKey struct {
	Count int                   `json:"count"`
	Seed  int64                 `json:"seed"`
	Mix   simulator.ScenarioMix `json:"mix"`
}

func getSimulationCacheKey(count int, seed int64, mix simulator.ScenarioMix) (*cache.Key, error) {
	hash, err := U.GenerateHashStringForStruct(simulationCacheKey{Count: count, Seed: seed, Mix: mix})
	if err != nil {
		return nil, err
	}
	return cache.NewKey(simulationCachePrefix, hash)
}

// SimulationHandler draws a synthetic population from a scenario mix and
// attributes it under every model.
func SimulationHandler(services *C.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		logCtx := getLogContext(c)
		start := time.Now()

		precision, round, err := getPrecision(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var payload SimulationPayload
		if err := decodePayload(c, &payload); err != nil {
			logCtx.WithError(err).Error("Simulation failed. Json decode failed.")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Simulation failed. Invalid payload."})
			return
		}
		metrics.Increment(metrics.IncrSimulationRequest)

		if payload.Count < 0 || (services.MaxSimulationCount > 0 && payload.Count > services.MaxSimulationCount) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Simulation failed. Invalid journey count."})
			return
		}

		mix := services.ScenarioMix
		if payload.Mix != nil {
			mix, err = payload.Mix.ResolveChannels(services.Registry)
			if err == nil {
				err = mix.Validate()
			}
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		seed := time.Now().UnixNano()
		if payload.Seed != nil {
			seed = *payload.Seed
		}
		logCtx = logCtx.WithFields(log.Fields{"count": payload.Count, "seed": seed})

		var cacheKey *cache.Key
		if payload.Seed != nil && services.JourneyCache.Enabled() {
			cacheKey, err = getSimulationCacheKey(payload.Count, seed, mix)
			if err != nil {
				logCtx.WithError(err).Error("Failed to build simulation cache key.")
			}
		}

		var journeys []model.Journey
		cached := false
		if cacheKey != nil {
			journeys, cached = services.JourneyCache.Get(cacheKey)
		}
		if !cached {
			journeys, err = simulator.NewSeeded(seed).Simulate(payload.Count, mix)
			if err != nil {
				logCtx.WithError(err).Error("Simulation failed.")
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if cacheKey != nil {
				if err := services.JourneyCache.Set(cacheKey, journeys); err != nil {
					logCtx.WithError(err).Error("Failed to cache simulated journeys.")
				}
			}
		}

		response, err := computeAttribution(services, journeys, payload.ModelsPayload)
		if err != nil {
			logCtx.WithError(err).Error("Simulation failed.")
			c.AbortWithStatusJSON(getStatusForError(err), gin.H{"error": err.Error()})
			return
		}
		if round {
			roundResponse(&response, precision)
		}
		metrics.RecordLatencySince(metrics.LatencySimulation, start)
		logCtx.WithField("cached", cached).Info("Simulated journeys.")

		c.JSON(http.StatusOK, SimulationResponse{AttributionResponse: response, Seed: seed, Cached: cached})
	}
}
