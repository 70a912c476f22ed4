package model

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Path is a journey shape: either organic or an ordered channel sequence.
// The zero value is organic.
type Path struct {
	touches []string
}

func OrganicPath() Path {
	return Path{}
}

// TouchPath builds a path from channel ids. An empty sequence is organic.
func TouchPath(channels ...string) Path {
	if len(channels) == 0 {
		return Path{}
	}
	return Path{touches: append([]string(nil), channels...)}
}

func PathOf(journey Journey) Path {
	return TouchPath(journey.Channels()...)
}

func (p Path) IsOrganic() bool {
	return len(p.touches) == 0
}

// Touches returns a copy of the channel sequence, nil for organic paths.
func (p Path) Touches() []string {
	if p.IsOrganic() {
		return nil
	}
	return append([]string(nil), p.touches...)
}

func (p Path) Equal(other Path) bool {
	if len(p.touches) != len(other.touches) {
		return false
	}
	for i := range p.touches {
		if p.touches[i] != other.touches[i] {
			return false
		}
	}
	return true
}

// String renders the path for display, "Organic" for organic paths.
func (p Path) String() string {
	if p.IsOrganic() {
		return "Organic"
	}
	return strings.Join(p.touches, " → ")
}

// key identifies a path inside this package. Every channel id is length
// prefixed so no id content can fake a boundary; organic paths key as "".
func (p Path) key() string {
	var builder strings.Builder
	for _, channel := range p.touches {
		builder.WriteString(strconv.Itoa(len(channel)))
		builder.WriteByte(':')
		builder.WriteString(channel)
	}
	return builder.String()
}

type pathJSON struct {
	Organic  bool     `json:"organic"`
	Channels []string `json:"channels"`
}

func (p Path) MarshalJSON() ([]byte, error) {
	channels := p.Touches()
	if channels == nil {
		channels = make([]string, 0)
	}
	return json.Marshal(pathJSON{Organic: p.IsOrganic(), Channels: channels})
}

func (p *Path) UnmarshalJSON(data []byte) error {
	var decoded pathJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = TouchPath(decoded.Channels...)
	return nil
}

type PathCount struct {
	Path  Path `json:"path"`
	Count int  `json:"count"`
}

// RankPaths counts the distinct paths of a population, most frequent first.
// Equal counts keep the order in which the paths were first seen.
func RankPaths(journeys []Journey) []PathCount {
	index := make(map[string]int)
	counts := make([]PathCount, 0)
	for _, journey := range journeys {
		path := PathOf(journey)
		key := path.key()
		if i, exists := index[key]; exists {
			counts[i].Count++
			continue
		}
		index[key] = len(counts)
		counts = append(counts, PathCount{Path: path, Count: 1})
	}

	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	return counts
}

// TopPaths returns at most k entries of a ranking. k <= 0 returns all of them.
func TopPaths(ranked []PathCount, k int) []PathCount {
	if k <= 0 || k >= len(ranked) {
		return ranked
	}
	return ranked[:k]
}
