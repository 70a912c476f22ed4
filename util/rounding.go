package util

import (
	"math"
	"sort"
)

// RoundToTotal rounds every value to the given number of decimals while keeping
// the rounded values summing to the rounded total of the inputs. Units lost to
// rounding go to the largest remainders, ties to the key that sorts first.
func RoundToTotal(values map[string]float64, precision int) map[string]float64 {
	rounded := make(map[string]float64, len(values))
	if len(values) == 0 {
		return rounded
	}
	if precision < 0 {
		precision = 0
	}
	scale := math.Pow(10, float64(precision))

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	type remainder struct {
		key   string
		value float64
	}
	units := make(map[string]int64, len(values))
	remainders := make([]remainder, 0, len(values))
	var total float64
	var assigned int64
	for _, key := range keys {
		scaled := values[key] * scale
		total += scaled
		floor := math.Floor(scaled)
		units[key] = int64(floor)
		assigned += int64(floor)
		remainders = append(remainders, remainder{key, scaled - floor})
	}

	sort.SliceStable(remainders, func(i, j int) bool {
		return remainders[i].value > remainders[j].value
	})
	missing := int64(math.Round(total)) - assigned
	for i := 0; missing > 0 && i < len(remainders); i++ {
		units[remainders[i].key]++
		missing--
	}

	for key, unit := range units {
		value, _ := FloatRoundOffWithPrecision(float64(unit)/scale, precision)
		rounded[key] = value
	}
	return rounded
}
