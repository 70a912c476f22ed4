package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats/view"
)

func countFor(t *testing.T, metricName string) int64 {
	rows, err := view.RetrieveData(countIntView.Name)
	require.Nil(t, err)
	for _, row := range rows {
		for _, tag := range row.Tags {
			if tag.Key == MetricNameTag && tag.Value == metricName {
				return int64(row.Data.(*view.SumData).Value)
			}
		}
	}
	return 0
}

func TestCountInt(t *testing.T) {
	require.Nil(t, RegisterViews())
	defer view.Unregister(latencyView, countIntView)

	Increment(IncrSimulationCacheHit)
	Increment(IncrSimulationCacheHit)
	CountInt(CountRowsSkipped, 5)
	CountInt(CountOrganicJourneys, 0)

	assert.Equal(t, int64(2), countFor(t, IncrSimulationCacheHit))
	assert.Equal(t, int64(5), countFor(t, CountRowsSkipped))
	assert.Equal(t, int64(0), countFor(t, CountOrganicJourneys))
}

func TestInitMetricsDisabledInDevelopment(t *testing.T) {
	assert.Nil(t, InitMetrics("development", "attribution_server", "project", "us-west1"))
	assert.Nil(t, InitMetrics("production", "attribution_server", "", "us-west1"))
}
