package util

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Layouts accepted by ParseTimestamp, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// Compact all-digit layouts, as in date partitioned exports (20240305).
var compactTimestampLayouts = map[int]string{
	len("20060102"):       "20060102",
	len("20060102150405"): "20060102150405",
}

// All-digit values shorter than unixSecondDigits are never Unix time. Values
// with at least unixMillisecondDigits digits are taken as milliseconds.
const (
	unixSecondDigits      = 9
	unixMillisecondDigits = 12
)

// ParseTimestamp parses the timestamp formats found in marketing exports.
// Values without a zone are read as UTC. All-digit values are compact dates
// (YYYYMMDD, YYYYMMDDhhmmss) or Unix seconds or milliseconds.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrInvalidTimestamp
	}

	if isDigits(value) {
		if layout, exists := compactTimestampLayouts[len(value)]; exists {
			parsed, err := time.Parse(layout, value)
			if err != nil {
				return time.Time{}, ErrInvalidTimestamp
			}
			return parsed, nil
		}
		if len(value) < unixSecondDigits {
			return time.Time{}, ErrInvalidTimestamp
		}
		unix, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, ErrInvalidTimestamp
		}
		if len(value) >= unixMillisecondDigits {
			return time.Unix(0, unix*int64(time.Millisecond)).UTC(), nil
		}
		return time.Unix(unix, 0).UTC(), nil
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
