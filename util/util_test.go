package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	expected := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	for _, value := range []string{
		"2024-03-05T14:30:00Z",
		"2024-03-05 14:30:00",
		"2024-03-05 14:30",
		"2024-03-05T14:30",
		"05.03.2024 14:30",
		"20240305143000",
		"1709649000",
		"1709649000000",
		" 2024-03-05 14:30:00 ",
	} {
		parsed, err := ParseTimestamp(value)
		require.NoError(t, err, value)
		assert.True(t, expected.Equal(parsed), value)
	}

	parsed, err := ParseTimestamp("05.03.2024")
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), parsed)

	// compact dates are calendar days, never seconds after the epoch.
	parsed, err = ParseTimestamp("20240305")
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), parsed)

	for _, value := range []string{"", "yesterday", "2024-13-45", "12:30", "20241345", "1234567", "42"} {
		_, err := ParseTimestamp(value)
		assert.Equal(t, ErrInvalidTimestamp, err, value)
	}
}

func TestRoundToTotal(t *testing.T) {
	third := 100.0 / 3
	rounded := RoundToTotal(map[string]float64{"a": third, "b": third, "c": third}, 1)
	assert.Equal(t, map[string]float64{"a": 33.4, "b": 33.3, "c": 33.3}, rounded)

	rounded = RoundToTotal(map[string]float64{"push": 66.666, "sms": 33.334}, 0)
	assert.Equal(t, map[string]float64{"push": 67, "sms": 33}, rounded)

	rounded = RoundToTotal(map[string]float64{"a": 12.5, "b": 12.5, "c": 75}, 0)
	assert.InDelta(t, 100, rounded["a"]+rounded["b"]+rounded["c"], 1e-9)

	assert.Empty(t, RoundToTotal(nil, 2))
}

func TestSortOnPriority(t *testing.T) {
	keys := []string{"sms", "push", "digital", "offline"}
	priority := map[string]float64{"sms": 1, "push": 5, "digital": 1, "offline": 3}

	assert.Equal(t, []string{"push", "offline", "sms", "digital"}, SortOnPriority(keys, priority, false))
	assert.Equal(t, []string{"digital", "sms", "offline", "push"}, SortOnPriority(keys, priority, true))
}

func TestGenerateHashStringForStruct(t *testing.T) {
	type payload struct {
		Count int   `json:"count"`
		Seed  int64 `json:"seed"`
	}
	first, err := GenerateHashStringForStruct(payload{Count: 10, Seed: 1})
	assert.NoError(t, err)
	second, _ := GenerateHashStringForStruct(payload{Count: 10, Seed: 1})
	third, _ := GenerateHashStringForStruct(payload{Count: 10, Seed: 2})
	assert.Equal(t, first, second)
	assert.NotEqual(t, first, third)
}

func TestUniqueStrings(t *testing.T) {
	assert.Equal(t, []string{"push", "sms"}, UniqueStrings([]string{"push", "sms", "push"}))
	assert.True(t, IsValidUUID(GetUUID()))
	assert.False(t, IsValidUUID("not-a-uuid"))
}

func TestRequestBuilder(t *testing.T) {
	req, err := NewRequestBuilder(http.MethodPost, "/attribution/compute").
		WithPostParams(map[string]int{"count": 1}).
		WithQueryParams(map[string]string{"precision": "2"}).
		WithHeader("X-Req-Id", "abc").
		Build()
	require.NoError(t, err)
	assert.Equal(t, "/attribution/compute?precision=2", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "abc", req.Header.Get("X-Req-Id"))
}

func TestScopes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Equal(t, "", GetScopeByKeyAsString(c, "requestId"))
	SetScope(c, "requestId", "r1")
	SetScope(c, "count", 2)
	assert.Equal(t, "r1", GetScopeByKeyAsString(c, "requestId"))
	assert.Equal(t, "", GetScopeByKeyAsString(c, "count"))
}
