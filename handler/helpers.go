package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	mid "attribution/middleware"
	"attribution/model"
	U "attribution/util"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const maxPrecision = 10

var errInvalidPrecision = errors.New("invalid precision")

// PathShare is a ranked path with its share of the population in percent.
type PathShare struct {
	Path  model.Path `json:"path"`
	Count int        `json:"count"`
	Share float64    `json:"share"`
}

type DiagnosticsResponse struct {
	model.Diagnostics
	Messages []string `json:"messages"`
}

// AttributionResponse is the common response of every endpoint computing the
// four models. Comparisons hold each model against the Last Touch baseline.
type AttributionResponse struct {
	Models      model.AttributionReport       `json:"models"`
	Paths       []PathShare                   `json:"paths"`
	Comparisons map[string][]model.ShareDelta `json:"comparisons"`
	Diagnostics *DiagnosticsResponse          `json:"diagnostics,omitempty"`
}

func getLogContext(c *gin.Context) *log.Entry {
	return log.WithFields(log.Fields{
		"reqId": U.GetScopeByKeyAsString(c, mid.SCOPE_REQ_ID),
		"path":  c.Request.URL.Path,
	})
}

func decodePayload(c *gin.Context, payload interface{}) error {
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(payload)
}

// getPrecision reads the optional ?precision=N query param. Without it values
// are returned un-rounded.
func getPrecision(c *gin.Context) (int, bool, error) {
	value := c.Query("precision")
	if value == "" {
		return 0, false, nil
	}
	precision, err := strconv.Atoi(value)
	if err != nil || precision < 0 || precision > maxPrecision {
		return 0, false, errInvalidPrecision
	}
	return precision, true, nil
}

// normalizeWeights maps the keys of a request's weight overrides onto channel
// ids.
func normalizeWeights(registry *model.ChannelRegistry, weights model.WeightMap) (model.WeightMap, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	normalized := make(model.WeightMap, len(weights))
	for key, weight := range weights {
		channelID, _ := registry.Identify(key)
		if channelID == "" {
			return nil, model.ErrEmptyChannelID
		}
		normalized[channelID] = weight
	}
	return normalized, nil
}

func getPathShares(journeys []model.Journey, topPaths int) []PathShare {
	ranked := model.TopPaths(model.RankPaths(journeys), topPaths)
	shares := make([]PathShare, 0, len(ranked))
	for _, pathCount := range ranked {
		shares = append(shares, PathShare{
			Path:  pathCount.Path,
			Count: pathCount.Count,
			Share: float64(pathCount.Count) / float64(len(journeys)) * 100,
		})
	}
	return shares
}

func getComparisons(report model.AttributionReport, threshold float64) map[string][]model.ShareDelta {
	comparisons := make(map[string][]model.ShareDelta)
	for _, method := range model.AttributionMethods {
		if method == model.AttributionMethodLastTouch {
			continue
		}
		result, _ := report.Result(method)
		comparisons[method] = model.CompareModels(report.LastTouch, result, threshold)
	}
	return comparisons
}

func roundOff(value float64, precision int) float64 {
	rounded, err := U.FloatRoundOffWithPrecision(value, precision)
	if err != nil {
		return value
	}
	return rounded
}

func roundModelResult(result model.ModelResult, precision int) model.ModelResult {
	credits := make(map[string]float64, len(result.Credits))
	for channel, credit := range result.Credits {
		credits[channel] = roundOff(credit, precision)
	}
	result.Credits = credits
	result.Shares = U.RoundToTotal(result.Shares, precision)
	return result
}

// roundResponse rounds the response for display. The shares of each model
// keep summing to exactly 100.
func roundResponse(response *AttributionResponse, precision int) {
	response.Models.Weighted = roundModelResult(response.Models.Weighted, precision)
	response.Models.UShaped = roundModelResult(response.Models.UShaped, precision)
	response.Models.LastTouch = roundModelResult(response.Models.LastTouch, precision)
	response.Models.FirstTouch = roundModelResult(response.Models.FirstTouch, precision)

	pathShares := make(map[string]float64, len(response.Paths))
	for i, path := range response.Paths {
		pathShares[fmt.Sprintf("%06d", i)] = path.Share
	}
	pathShares = U.RoundToTotal(pathShares, precision)
	for i := range response.Paths {
		response.Paths[i].Share = pathShares[fmt.Sprintf("%06d", i)]
	}

	for method, deltas := range response.Comparisons {
		for i := range deltas {
			deltas[i].ShareA = roundOff(deltas[i].ShareA, precision)
			deltas[i].ShareB = roundOff(deltas[i].ShareB, precision)
			deltas[i].Difference = roundOff(deltas[i].Difference, precision)
		}
		response.Comparisons[method] = deltas
	}
}

// getStatusForError maps engine errors onto http status codes.
func getStatusForError(err error) int {
	if model.IsValidationError(errors.Cause(err)) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
