package model

import (
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	log "github.com/sirupsen/logrus"
)

// Built-in channel ids.
const (
	ChannelDigital       = "digital"
	ChannelStories       = "stories"
	ChannelPush          = "push"
	ChannelSMS           = "sms"
	ChannelTelemarketing = "telemarketing"
	ChannelOffline       = "offline"
)

// DefaultWeight is used for channels found in data but never configured, and
// for weights configured as 0.
const DefaultWeight = 3.0

type ModifierKind string

const (
	// ModifierExclude zeroes the weight of a qualifying touch.
	ModifierExclude ModifierKind = "exclude"
	// ModifierDiscount substitutes Modifier.Weight for the channel weight.
	ModifierDiscount ModifierKind = "discount"
)

// Modifier is a per-channel behavioral toggle. It only ever changes the
// Weighted model's effective weight of a touch, never the touch's position.
type Modifier struct {
	Kind   ModifierKind `json:"kind" yaml:"kind"`
	Weight float64      `json:"weight" yaml:"weight"`
	// Within limits the modifier to touches at most this long before the
	// conversion. Zero applies it to every touch of the channel.
	Within time.Duration `json:"within" yaml:"within"`
	Active bool          `json:"active" yaml:"active"`
}

func (m *Modifier) validate() error {
	if m == nil {
		return nil
	}
	switch m.Kind {
	case ModifierExclude:
	case ModifierDiscount:
		if !isValidWeight(m.Weight) {
			return ErrInvalidModifier
		}
	default:
		return ErrInvalidModifier
	}
	if m.Within < 0 {
		return ErrInvalidModifier
	}
	return nil
}

// Applies reports whether the modifier changes the weight of the given touch.
func (m *Modifier) Applies(t Touch) bool {
	if m == nil || !m.Active {
		return false
	}
	if t.Flagged || m.Within == 0 {
		return true
	}
	return t.HasLead && t.Lead <= m.Within
}

func (m *Modifier) effectiveWeight() float64 {
	if m.Kind == ModifierExclude {
		return 0
	}
	return m.Weight
}

type Channel struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Weight   float64   `json:"weight" yaml:"weight"`
	Aliases  []string  `json:"aliases,omitempty" yaml:"aliases"`
	Modifier *Modifier `json:"modifier,omitempty" yaml:"modifier"`
	// Implicit channels were allocated for unknown tokens found in data.
	Implicit bool `json:"implicit" yaml:"-"`
}

func (c Channel) clone() Channel {
	out := c
	if c.Aliases != nil {
		out.Aliases = append([]string(nil), c.Aliases...)
	}
	if c.Modifier != nil {
		modifier := *c.Modifier
		out.Modifier = &modifier
	}
	return out
}

// DefaultChannels returns the built-in channel table.
func DefaultChannels() []Channel {
	return []Channel{
		{ID: ChannelDigital, Name: "Digital Ads", Weight: 2,
			Aliases: []string{"digital", "facebook", "instagram", "google", "yandex", "cpc", "ads"}},
		{ID: ChannelStories, Name: "Stories", Weight: 2,
			Aliases:  []string{"stories", "story", "instagram stories", "instagram story"},
			Modifier: &Modifier{Kind: ModifierExclude, Within: time.Hour}},
		{ID: ChannelPush, Name: "Push", Weight: 3,
			Aliases: []string{"push", "app push", "notification"}},
		{ID: ChannelSMS, Name: "SMS", Weight: 3,
			Aliases: []string{"sms", "message"}},
		{ID: ChannelTelemarketing, Name: "Telemarketing", Weight: 5,
			Aliases: []string{"telemarketing", "телемаркетинг", "call", "phone", "operator"}},
		{ID: ChannelOffline, Name: "Offline", Weight: 5,
			Aliases:  []string{"offline", "branch", "office", "store"},
			Modifier: &Modifier{Kind: ModifierDiscount, Weight: 2}},
	}
}

// NormalizeChannelToken lower-cases a raw channel value and collapses its
// whitespace. Control characters count as whitespace.
func NormalizeChannelToken(raw string) string {
	spaced := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, strings.ToLower(raw))
	return strings.Join(strings.Fields(spaced), " ")
}

func isValidWeight(weight float64) bool {
	return !math.IsNaN(weight) && !math.IsInf(weight, 0) && weight >= 0
}

func weightOrDefault(weight, defaultWeight float64) float64 {
	if weight == 0 || !isValidWeight(weight) {
		return defaultWeight
	}
	return weight
}

// ChannelRegistry holds the session's channel configuration. Weights are
// read at computation time through Snapshot, never stored on journeys.
// Safe for concurrent use: many readers, one exclusive writer.
type ChannelRegistry struct {
	mutex         sync.RWMutex
	order         []string
	channels      map[string]*Channel
	defaultWeight float64
}

func NewChannelRegistry(channels []Channel) *ChannelRegistry {
	registry := &ChannelRegistry{
		channels:      make(map[string]*Channel),
		defaultWeight: DefaultWeight,
	}
	for _, channel := range channels {
		registry.put(channel)
	}
	return registry
}

func NewDefaultChannelRegistry() *ChannelRegistry {
	return NewChannelRegistry(DefaultChannels())
}

// SetDefaultWeight changes the weight given to unconfigured channels.
func (r *ChannelRegistry) SetDefaultWeight(weight float64) error {
	if !isValidWeight(weight) || weight == 0 {
		return ErrInvalidWeight
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.defaultWeight = weight
	return nil
}

func (r *ChannelRegistry) put(channel Channel) {
	channel = channel.clone()
	channel.ID = NormalizeChannelToken(channel.ID)
	if channel.ID == "" {
		return
	}
	if channel.Name == "" {
		channel.Name = channel.ID
	}
	for i := range channel.Aliases {
		channel.Aliases[i] = NormalizeChannelToken(channel.Aliases[i])
	}
	if _, exists := r.channels[channel.ID]; !exists {
		r.order = append(r.order, channel.ID)
	}
	r.channels[channel.ID] = &channel
}

// GetWeight returns the configured weight of a channel. Unknown channels and
// channels configured with 0 resolve to the default weight.
func (r *ChannelRegistry) GetWeight(channelID string) float64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	channel, exists := r.channels[NormalizeChannelToken(channelID)]
	if !exists {
		return r.defaultWeight
	}
	return weightOrDefault(channel.Weight, r.defaultWeight)
}

// SetWeight validates and stores a channel weight. An invalid weight is
// rejected and the last valid weight retained. Setting a weight on an unknown
// or implicit channel makes it an explicitly configured one.
func (r *ChannelRegistry) SetWeight(channelID string, weight float64) error {
	id := NormalizeChannelToken(channelID)
	if id == "" {
		return ErrEmptyChannelID
	}
	if !isValidWeight(weight) {
		return ErrInvalidWeight
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	channel, exists := r.channels[id]
	if !exists {
		r.put(Channel{ID: id, Name: strings.TrimSpace(channelID), Weight: weight})
		return nil
	}
	channel.Weight = weight
	channel.Implicit = false
	return nil
}

// SetModifier replaces the behavioral modifier of a channel. A nil modifier removes it.
func (r *ChannelRegistry) SetModifier(channelID string, modifier *Modifier) error {
	if err := modifier.validate(); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	channel, exists := r.channels[NormalizeChannelToken(channelID)]
	if !exists {
		return ErrUnknownChannel
	}
	if modifier == nil {
		channel.Modifier = nil
		return nil
	}
	copied := *modifier
	channel.Modifier = &copied
	return nil
}

// SetModifierActive toggles a channel's behavioral modifier.
func (r *ChannelRegistry) SetModifierActive(channelID string, active bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	channel, exists := r.channels[NormalizeChannelToken(channelID)]
	if !exists {
		return ErrUnknownChannel
	}
	if channel.Modifier == nil {
		return ErrNoModifier
	}
	channel.Modifier.Active = active
	return nil
}

// ListChannels returns copies of all channels, configured ones first in table
// order, then implicit ones in allocation order.
func (r *ChannelRegistry) ListChannels() []Channel {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	channels := make([]Channel, 0, len(r.order))
	for _, id := range r.order {
		if !r.channels[id].Implicit {
			channels = append(channels, r.channels[id].clone())
		}
	}
	for _, id := range r.order {
		if r.channels[id].Implicit {
			channels = append(channels, r.channels[id].clone())
		}
	}
	return channels
}

// GetChannel returns a copy of a single channel.
func (r *ChannelRegistry) GetChannel(channelID string) (Channel, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	channel, exists := r.channels[NormalizeChannelToken(channelID)]
	if !exists {
		return Channel{}, false
	}
	return channel.clone(), true
}

// Identify maps a raw channel value from data onto a registry channel id: by
// id, then by display name, then by exact alias, then by alias substring. The
// normalized token is returned with false when nothing matches.
func (r *ChannelRegistry) Identify(raw string) (string, bool) {
	token := NormalizeChannelToken(raw)
	if token == "" {
		return "", false
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.identify(token)
}

func (r *ChannelRegistry) identify(token string) (string, bool) {
	if channel, exists := r.channels[token]; exists {
		return channel.ID, !channel.Implicit
	}
	for _, id := range r.order {
		if NormalizeChannelToken(r.channels[id].Name) == token {
			return id, !r.channels[id].Implicit
		}
	}
	for _, id := range r.order {
		for _, alias := range r.channels[id].Aliases {
			if alias == token {
				return id, true
			}
		}
	}
	// Longest contained alias wins so "instagram stories ads" is stories, not digital.
	matched, matchedLen := "", 0
	for _, id := range r.order {
		for _, alias := range r.channels[id].Aliases {
			if len(alias) > matchedLen && strings.Contains(token, alias) {
				matched, matchedLen = id, len(alias)
			}
		}
	}
	if matched != "" {
		return matched, true
	}
	return token, false
}

// Resolve identifies a raw channel value, allocating an implicit channel with
// the default weight when the value is unknown. known is false for implicit
// channels so callers can count them as diagnostics.
func (r *ChannelRegistry) Resolve(raw string) (id string, known bool, err error) {
	token := NormalizeChannelToken(raw)
	if token == "" {
		return "", false, ErrEmptyChannelID
	}

	r.mutex.RLock()
	id, known = r.identify(token)
	_, exists := r.channels[id]
	r.mutex.RUnlock()
	if known || exists {
		return id, known, nil
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, exists := r.channels[id]; !exists {
		log.WithField("channel", id).Debug("Allocating implicit channel.")
		r.put(Channel{ID: id, Name: strings.TrimSpace(raw), Implicit: true})
	}
	return id, false, nil
}

// Snapshot returns an immutable copy of the current configuration to be used
// by a single computation.
func (r *ChannelRegistry) Snapshot() ChannelSnapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	snapshot := ChannelSnapshot{
		channels:      make(map[string]Channel, len(r.channels)),
		defaultWeight: r.defaultWeight,
	}
	for id, channel := range r.channels {
		snapshot.channels[id] = channel.clone()
	}
	return snapshot
}

// TouchWeigher supplies the effective Weighted-model weight of a touch.
type TouchWeigher interface {
	TouchWeight(t Touch) float64
}

// ChannelSnapshot is a point-in-time view of a ChannelRegistry.
type ChannelSnapshot struct {
	channels      map[string]Channel
	defaultWeight float64
}

func (s ChannelSnapshot) TouchWeight(t Touch) float64 {
	channel, exists := s.channels[t.Channel]
	if !exists {
		if s.defaultWeight == 0 {
			return DefaultWeight
		}
		return s.defaultWeight
	}
	if channel.Modifier.Applies(t) {
		return channel.Modifier.effectiveWeight()
	}
	return weightOrDefault(channel.Weight, s.defaultWeight)
}

// WithWeights returns a copy of the snapshot with the given channel weights
// replaced. Modifiers are kept; channels missing from the snapshot are added.
func (s ChannelSnapshot) WithWeights(weights WeightMap) ChannelSnapshot {
	out := ChannelSnapshot{
		channels:      make(map[string]Channel, len(s.channels)+len(weights)),
		defaultWeight: s.defaultWeight,
	}
	for id, channel := range s.channels {
		out.channels[id] = channel
	}
	for key, weight := range weights {
		id := NormalizeChannelToken(key)
		if id == "" {
			continue
		}
		channel, exists := out.channels[id]
		if !exists {
			channel = Channel{ID: id, Name: id, Implicit: true}
		}
		channel.Weight = weight
		out.channels[id] = channel
	}
	return out
}

// WeightMap is the plain channel id to weight mapping accepted by the engine.
// Keys are matched after NormalizeChannelToken, so "SMS" weighs sms touches.
// Absent channels and zero weights resolve to DefaultWeight.
type WeightMap map[string]float64

func (m WeightMap) TouchWeight(t Touch) float64 {
	if weight, exists := m[t.Channel]; exists {
		return weightOrDefault(weight, DefaultWeight)
	}
	for key, weight := range m {
		if NormalizeChannelToken(key) == t.Channel {
			return weightOrDefault(weight, DefaultWeight)
		}
	}
	return DefaultWeight
}

// Normalize returns a copy keyed by normalized channel ids.
func (m WeightMap) Normalize() (WeightMap, error) {
	normalized := make(WeightMap, len(m))
	for key, weight := range m {
		id := NormalizeChannelToken(key)
		if id == "" {
			return nil, ErrEmptyChannelID
		}
		if _, exists := normalized[id]; exists {
			return nil, ErrDuplicateChannelWeight
		}
		normalized[id] = weight
	}
	return normalized, nil
}

// Validate rejects negative and non-finite weights, empty keys and keys
// naming the same channel twice.
func (m WeightMap) Validate() error {
	for _, weight := range m {
		if !isValidWeight(weight) {
			return ErrInvalidWeight
		}
	}
	_, err := m.Normalize()
	return err
}
