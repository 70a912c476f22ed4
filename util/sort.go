package util

import "sort"

type kv struct {
	Key   string
	Value float64
}

// SortOnPriority orders keys by their priority, highest first. Keys with equal
// priority keep their relative order in ll. descending reverses the result.
func SortOnPriority(ll []string, pq map[string]float64, descending bool) []string {
	ss := make([]kv, 0, len(ll))
	for _, k := range ll {
		ss = append(ss, kv{k, pq[k]})
	}

	sort.SliceStable(ss, func(i, j int) bool {
		return ss[i].Value > ss[j].Value
	})

	res := make([]string, 0, len(ss))
	if !descending {
		for _, kv := range ss {
			res = append(res, kv.Key)
		}
	} else {
		for i := len(ss) - 1; i >= 0; i-- {
			res = append(res, ss[i].Key)
		}
	}
	return res
}
