package handler

import (
	"net/http"
	"time"

	C "attribution/config"
	"attribution/metrics"
	"attribution/model"
	U "attribution/util"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type BuildJourneysPayload struct {
	Rows         []model.Row           `json:"rows"`
	Conversions  []model.ConversionRow `json:"conversions"`
	WindowPolicy string                `json:"window_policy"`
	MaxTouches   *int                  `json:"max_touches"`
}

// ModelsPayload carries the per-request model settings.
type ModelsPayload struct {
	Options              *model.ModelOptions `json:"options"`
	Weights              model.WeightMap     `json:"weights"`
	TopPaths             int                 `json:"top_paths"`
	DiscrepancyThreshold *float64            `json:"discrepancy_threshold"`
}

type AttributionQueryPayload struct {
	BuildJourneysPayload
	ModelsPayload
}

type ComputeAttributionPayload struct {
	// Journeys are touch sequences given as raw channel values.
	Journeys [][]string `json:"journeys"`
	ModelsPayload
}

type AttributeJourneyPayload struct {
	Channels []string            `json:"channels"`
	Method   string              `json:"method"`
	Options  *model.ModelOptions `json:"options"`
	Weights  model.WeightMap     `json:"weights"`
}

type AttributeJourneyResponse struct {
	Method string             `json:"method"`
	Path   model.Path         `json:"path"`
	Shares map[string]float64 `json:"shares"`
}

type BuildJourneysResponse struct {
	Journeys    []model.Journey     `json:"journeys"`
	Diagnostics DiagnosticsResponse `json:"diagnostics"`
}

func buildJourneys(services *C.Services, payload BuildJourneysPayload) ([]model.Journey, model.Diagnostics, error) {
	options := services.BuilderOptions
	if payload.WindowPolicy != "" {
		options.Policy = model.WindowPolicy(payload.WindowPolicy)
	}
	if payload.MaxTouches != nil {
		options.MaxTouches = *payload.MaxTouches
	}
	builder, err := model.NewJourneyBuilder(options)
	if err != nil {
		return nil, model.Diagnostics{}, err
	}

	events, diagnostics := model.ParseRows(payload.Rows, services.Registry)
	conversions, conversionDiagnostics := model.ParseConversions(payload.Conversions)
	journeys, buildDiagnostics := builder.Build(events, conversions)
	diagnostics.Merge(conversionDiagnostics)
	diagnostics.Merge(buildDiagnostics)

	var unknownChannelRows int
	for _, count := range diagnostics.UnknownChannels {
		unknownChannelRows += count
	}
	metrics.CountInt(metrics.CountRowsReceived, int64(diagnostics.TotalRows))
	metrics.CountInt(metrics.CountRowsSkipped, int64(diagnostics.Skipped()))
	metrics.CountInt(metrics.CountUnknownChannelRows, int64(unknownChannelRows))
	metrics.CountInt(metrics.CountUnmatchedConversion, int64(diagnostics.UnmatchedConversions))
	metrics.CountInt(metrics.CountJourneysBuilt, int64(diagnostics.Journeys))
	metrics.CountInt(metrics.CountOrganicJourneys, int64(diagnostics.OrganicJourneys))
	return journeys, diagnostics, nil
}

func getDiagnosticsResponse(diagnostics model.Diagnostics) *DiagnosticsResponse {
	return &DiagnosticsResponse{Diagnostics: diagnostics, Messages: diagnostics.Messages()}
}

// getWeightSnapshot returns the registry's current configuration with the
// request's weight overrides applied.
func getWeightSnapshot(services *C.Services, weights model.WeightMap) (model.ChannelSnapshot, error) {
	snapshot := services.Registry.Snapshot()
	if len(weights) == 0 {
		return snapshot, nil
	}
	normalized, err := normalizeWeights(services.Registry, weights)
	if err != nil {
		return model.ChannelSnapshot{}, err
	}
	return snapshot.WithWeights(normalized), nil
}

// computeAttribution runs the four models with the registry's current
// configuration, overridden by the request weights.
func computeAttribution(services *C.Services, journeys []model.Journey,
	payload ModelsPayload) (AttributionResponse, error) {

	threshold := model.DefaultDiscrepancyThreshold
	if payload.DiscrepancyThreshold != nil {
		threshold = *payload.DiscrepancyThreshold
		if threshold < 0 {
			return AttributionResponse{}, errors.Wrap(model.ErrInvalidModelOption, "negative discrepancy threshold")
		}
	}

	options := model.DefaultModelOptions()
	if payload.Options != nil {
		options = *payload.Options
	}

	snapshot, err := getWeightSnapshot(services, payload.Weights)
	if err != nil {
		return AttributionResponse{}, err
	}

	start := time.Now()
	report, err := model.ComputeModels(journeys, snapshot, options)
	if err != nil {
		return AttributionResponse{}, err
	}
	metrics.RecordLatencySince(metrics.LatencyComputeModels, start)

	return AttributionResponse{
		Models:      report,
		Paths:       getPathShares(journeys, payload.TopPaths),
		Comparisons: getComparisons(report, threshold),
	}, nil
}

// BuildJourneysHandler turns loader rows into journeys with diagnostics.
func BuildJourneysHandler(services *C.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		logCtx := getLogContext(c)

		var payload BuildJourneysPayload
		if err := decodePayload(c, &payload); err != nil {
			logCtx.WithError(err).Error("Build journeys failed. Json decode failed.")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Build journeys failed. Invalid payload."})
			return
		}

		journeys, diagnostics, err := buildJourneys(services, payload)
		if err != nil {
			c.AbortWithStatusJSON(getStatusForError(err), gin.H{"error": err.Error()})
			return
		}
		logCtx.WithFields(log.Fields{"journeys": len(journeys),
			"skipped": diagnostics.Skipped()}).Info("Built journeys.")

		c.JSON(http.StatusOK, BuildJourneysResponse{
			Journeys:    journeys,
			Diagnostics: *getDiagnosticsResponse(diagnostics),
		})
	}
}

// AttributionQueryHandler builds journeys from loader rows and attributes them
// under every model.
func AttributionQueryHandler(services *C.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		logCtx := getLogContext(c)

		precision, round, err := getPrecision(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var payload AttributionQueryPayload
		if err := decodePayload(c, &payload); err != nil {
			logCtx.WithError(err).Error("Attribution query failed. Json decode failed.")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Attribution query failed. Invalid payload."})
			return
		}
		metrics.Increment(metrics.IncrAttributionQuery)

		journeys, diagnostics, err := buildJourneys(services, payload.BuildJourneysPayload)
		if err != nil {
			c.AbortWithStatusJSON(getStatusForError(err), gin.H{"error": err.Error()})
			return
		}

		response, err := computeAttribution(services, journeys, payload.ModelsPayload)
		if err != nil {
			logCtx.WithError(err).Error("Attribution query failed.")
			c.AbortWithStatusJSON(getStatusForError(err), gin.H{"error": err.Error()})
			return
		}
		response.Diagnostics = getDiagnosticsResponse(diagnostics)
		if round {
			roundResponse(&response, precision)
		}
		c.JSON(http.StatusOK, response)
	}
}

// ComputeAttributionHandler attributes manually entered journeys.
func ComputeAttributionHandler(services *C.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		logCtx := getLogContext(c)

		precision, round, err := getPrecision(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var payload ComputeAttributionPayload
		if err := decodePayload(c, &payload); err != nil {
			logCtx.WithError(err).Error("Compute attribution failed. Json decode failed.")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Compute attribution failed. Invalid payload."})
			return
		}
		metrics.Increment(metrics.IncrAttributionCompute)

		journeys := make([]model.Journey, 0, len(payload.Journeys))
		for _, channels := range payload.Journeys {
			channelIDs := make([]string, 0, len(channels))
			for _, channel := range channels {
				channelID, _, err := services.Registry.Resolve(channel)
				if err != nil {
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
				channelIDs = append(channelIDs, channelID)
			}
			journeys = append(journeys, model.NewJourney(channelIDs...))
		}

		response, err := computeAttribution(services, journeys, payload.ModelsPayload)
		if err != nil {
			logCtx.WithError(err).Error("Compute attribution failed.")
			c.AbortWithStatusJSON(getStatusForError(err), gin.H{"error": err.Error()})
			return
		}
		if round {
			roundResponse(&response, precision)
		}
		c.JSON(http.StatusOK, response)
	}
}

// AttributeJourneyHandler splits a single journey's conversion across its
// channels under one model.
func AttributeJourneyHandler(services *C.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		logCtx := getLogContext(c)

		precision, round, err := getPrecision(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var payload AttributeJourneyPayload
		if err := decodePayload(c, &payload); err != nil {
			logCtx.WithError(err).Error("Attribute journey failed. Json decode failed.")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Attribute journey failed. Invalid payload."})
			return
		}
		if !model.IsValidAttributionMethod(payload.Method) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": model.ErrUnknownAttributionMethod.Error()})
			return
		}

		channelIDs := make([]string, 0, len(payload.Channels))
		for _, channel := range payload.Channels {
			channelID, _, err := services.Registry.Resolve(channel)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			channelIDs = append(channelIDs, channelID)
		}
		journey := model.NewJourney(channelIDs...)

		snapshot, err := getWeightSnapshot(services, payload.Weights)
		if err != nil {
			c.AbortWithStatusJSON(getStatusForError(err), gin.H{"error": err.Error()})
			return
		}
		options := model.DefaultModelOptions()
		if payload.Options != nil {
			options = *payload.Options
		}

		shares, err := model.AttributeJourney(payload.Method, journey, snapshot, options)
		if err != nil {
			logCtx.WithError(err).Error("Attribute journey failed.")
			c.AbortWithStatusJSON(getStatusForError(err), gin.H{"error": err.Error()})
			return
		}
		if round {
			shares = U.RoundToTotal(shares, precision)
		}
		c.JSON(http.StatusOK, AttributeJourneyResponse{
			Method: payload.Method,
			Path:   model.PathOf(journey),
			Shares: shares,
		})
	}
}
