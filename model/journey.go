package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	U "attribution/util"

	log "github.com/sirupsen/logrus"
)

// Row is one touch record as handed over by the bulk data loader, with column
// identities already resolved. The row index is the position in the slice.
type Row struct {
	ClientID  string `json:"client_id"`
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
	// Flagged toggles the channel's modifier on for this touch, e.g. a
	// stories view that navigated straight to the application form.
	Flagged bool `json:"flagged,omitempty"`
}

// ConversionRow is one conversion record as handed over by the loader.
type ConversionRow struct {
	ClientID  string  `json:"client_id"`
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

// TouchEvent is an immutable raw touch. Timestamp is nil when absent.
type TouchEvent struct {
	ClientID  string     `json:"client_id"`
	Channel   string     `json:"channel"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Row       int        `json:"row"`
	Flagged   bool       `json:"flagged,omitempty"`
}

type Conversion struct {
	ClientID string    `json:"client_id"`
	At       time.Time `json:"at"`
	Value    float64   `json:"value"`
	Row      int       `json:"row"`
}

// Touch is one position of a journey.
type Touch struct {
	Channel string `json:"channel"`
	// Lead is the time between the touch and the conversion, set when both
	// instants are known.
	Lead    time.Duration `json:"lead,omitempty"`
	HasLead bool          `json:"has_lead,omitempty"`
	// Flagged marks a touch for its channel's modifier regardless of Lead.
	Flagged bool `json:"flagged,omitempty"`
}

// Journey is the ordered, de-duplicated touch sequence leading to one conversion.
type Journey struct {
	ClientID     string     `json:"client_id"`
	ConversionAt *time.Time `json:"conversion_at,omitempty"`
	Value        float64    `json:"value"`
	Touches      []Touch    `json:"touches"`
}

// NewJourney builds a journey from channel ids in order, collapsing
// consecutive repeats.
func NewJourney(channels ...string) Journey {
	touches := make([]Touch, 0, len(channels))
	for _, channel := range channels {
		touches = append(touches, Touch{Channel: channel})
	}
	return Journey{Value: 1, Touches: CollapseConsecutive(touches)}
}

// IsOrganic reports a conversion without any qualifying touch.
func (j Journey) IsOrganic() bool {
	return len(j.Touches) == 0
}

func (j Journey) Len() int {
	return len(j.Touches)
}

func (j Journey) Channels() []string {
	channels := make([]string, len(j.Touches))
	for i, touch := range j.Touches {
		channels[i] = touch.Channel
	}
	return channels
}

// unit is the amount of credit the journey hands out.
func (j Journey) unit(useValue bool) float64 {
	if useValue && j.Value > 0 {
		return j.Value
	}
	return 1
}

// CollapseConsecutive merges runs of the same channel into one touch. The
// merged touch keeps the lead of the run's last touch and is flagged when any
// touch of the run was.
func CollapseConsecutive(touches []Touch) []Touch {
	collapsed := make([]Touch, 0, len(touches))
	for _, touch := range touches {
		last := len(collapsed) - 1
		if last >= 0 && collapsed[last].Channel == touch.Channel {
			flagged := collapsed[last].Flagged || touch.Flagged
			collapsed[last] = touch
			collapsed[last].Flagged = flagged
			continue
		}
		collapsed = append(collapsed, touch)
	}
	return collapsed
}

// DeduplicateConsecutive collapses consecutive repeats in a channel sequence.
// [Push, Push, SMS, SMS, Push] -> [Push, SMS, Push]
func DeduplicateConsecutive(channels []string) []string {
	deduplicated := make([]string, 0, len(channels))
	for _, channel := range channels {
		if len(deduplicated) > 0 && deduplicated[len(deduplicated)-1] == channel {
			continue
		}
		deduplicated = append(deduplicated, channel)
	}
	return deduplicated
}

// Diagnostics counts every row the engine dropped, repaired or could not place.
type Diagnostics struct {
	TotalRows             int            `json:"total_rows"`
	MissingClient         int            `json:"missing_client"`
	MissingChannel        int            `json:"missing_channel"`
	UnparseableTimestamps int            `json:"unparseable_timestamps"`
	UnknownChannels       map[string]int `json:"unknown_channels"`
	ConversionRows        int            `json:"conversion_rows"`
	InvalidConversions    int            `json:"invalid_conversions"`
	UnmatchedConversions  int            `json:"unmatched_conversions"`
	UnconsumedEvents      int            `json:"unconsumed_events"`
	CollapsedTouches      int            `json:"collapsed_touches"`
	TruncatedJourneys     int            `json:"truncated_journeys"`
	Journeys              int            `json:"journeys"`
	OrganicJourneys       int            `json:"organic_journeys"`
}

func newDiagnostics() Diagnostics {
	return Diagnostics{UnknownChannels: make(map[string]int)}
}

// Skipped is the number of touch rows dropped.
func (d Diagnostics) Skipped() int {
	return d.MissingClient + d.MissingChannel
}

// Merge adds the counters of other into d.
func (d *Diagnostics) Merge(other Diagnostics) {
	d.TotalRows += other.TotalRows
	d.MissingClient += other.MissingClient
	d.MissingChannel += other.MissingChannel
	d.UnparseableTimestamps += other.UnparseableTimestamps
	d.ConversionRows += other.ConversionRows
	d.InvalidConversions += other.InvalidConversions
	d.UnmatchedConversions += other.UnmatchedConversions
	d.UnconsumedEvents += other.UnconsumedEvents
	d.CollapsedTouches += other.CollapsedTouches
	d.TruncatedJourneys += other.TruncatedJourneys
	d.Journeys += other.Journeys
	d.OrganicJourneys += other.OrganicJourneys
	if d.UnknownChannels == nil {
		d.UnknownChannels = make(map[string]int)
	}
	for channel, count := range other.UnknownChannels {
		d.UnknownChannels[channel] += count
	}
}

// Messages renders the non-zero counters for an analyst.
func (d Diagnostics) Messages() []string {
	messages := make([]string, 0)
	add := func(count int, format string) {
		if count > 0 {
			messages = append(messages, fmt.Sprintf(format, count))
		}
	}
	add(d.MissingClient, "%d rows skipped: missing client id")
	add(d.MissingChannel, "%d rows skipped: missing channel")
	add(d.UnparseableTimestamps, "%d rows with unparseable timestamp ordered by row")
	add(d.InvalidConversions, "%d conversion rows skipped: missing or unparseable instant")
	add(d.UnmatchedConversions, "%d conversion rows unmatched to a client")
	add(d.UnconsumedEvents, "%d touches outside every conversion window")
	add(d.TruncatedJourneys, "%d journeys truncated to the touch limit")

	unknown := make([]string, 0, len(d.UnknownChannels))
	for channel := range d.UnknownChannels {
		unknown = append(unknown, channel)
	}
	sort.Strings(unknown)
	for _, channel := range unknown {
		messages = append(messages, fmt.Sprintf("%d rows with unconfigured channel %q (default weight)",
			d.UnknownChannels[channel], channel))
	}
	return messages
}

// ParseRows converts loader rows into touch events. Rows without a client or
// channel are dropped and counted, unknown channels get an implicit registry
// entry, unparseable timestamps are kept as absent.
func ParseRows(rows []Row, registry *ChannelRegistry) ([]TouchEvent, Diagnostics) {
	diagnostics := newDiagnostics()
	diagnostics.TotalRows = len(rows)

	events := make([]TouchEvent, 0, len(rows))
	for index, row := range rows {
		clientID := strings.TrimSpace(row.ClientID)
		if clientID == "" {
			diagnostics.MissingClient++
			continue
		}

		channel, known, err := registry.Resolve(row.Channel)
		if err != nil {
			diagnostics.MissingChannel++
			continue
		}
		if !known {
			diagnostics.UnknownChannels[channel]++
		}

		event := TouchEvent{ClientID: clientID, Channel: channel, Row: index, Flagged: row.Flagged}
		if value := strings.TrimSpace(row.Timestamp); value != "" {
			timestamp, err := U.ParseTimestamp(value)
			if err != nil {
				diagnostics.UnparseableTimestamps++
			} else {
				event.Timestamp = &timestamp
			}
		}
		events = append(events, event)
	}
	return events, diagnostics
}

// ParseConversions converts loader conversion rows. A conversion needs an
// instant; rows without one are counted as invalid.
func ParseConversions(rows []ConversionRow) ([]Conversion, Diagnostics) {
	diagnostics := newDiagnostics()
	diagnostics.ConversionRows = len(rows)

	conversions := make([]Conversion, 0, len(rows))
	for index, row := range rows {
		at, err := U.ParseTimestamp(strings.TrimSpace(row.Timestamp))
		if err != nil {
			diagnostics.InvalidConversions++
			continue
		}
		conversions = append(conversions, Conversion{
			ClientID: strings.TrimSpace(row.ClientID),
			At:       at,
			Value:    row.Value,
			Row:      index,
		})
	}
	return conversions, diagnostics
}

// WindowPolicy decides which touches a client's second and later
// conversions receive.
type WindowPolicy string

const (
	// WindowPolicyWindowed gives each conversion the touches between the
	// previous conversion (inclusive) and itself (exclusive).
	WindowPolicyWindowed WindowPolicy = "windowed"
	// WindowPolicyFirstConversion gives every touch before the first
	// conversion to it; later conversions are organic.
	WindowPolicyFirstConversion WindowPolicy = "first_conversion"
)

type BuilderOptions struct {
	Policy WindowPolicy
	// MaxTouches caps journey length, keeping the touches closest to the
	// conversion. Zero means no cap.
	MaxTouches int
	// IdentityResolver maps a conversion's client key onto the client id used
	// by touch events. Nil uses the key as is.
	IdentityResolver func(string) (string, bool)
}

type JourneyBuilder struct {
	options BuilderOptions
}

func NewJourneyBuilder(options BuilderOptions) (*JourneyBuilder, error) {
	switch options.Policy {
	case "":
		options.Policy = WindowPolicyWindowed
	case WindowPolicyWindowed, WindowPolicyFirstConversion:
	default:
		return nil, ErrInvalidWindowPolicy
	}
	if options.MaxTouches < 0 {
		options.MaxTouches = 0
	}
	return &JourneyBuilder{options: options}, nil
}

// BuildJourneys builds journeys with the default options.
func BuildJourneys(events []TouchEvent, conversions []Conversion) ([]Journey, Diagnostics) {
	builder, _ := NewJourneyBuilder(BuilderOptions{})
	return builder.Build(events, conversions)
}

// Build groups events per client and cuts one journey per conversion. When no
// conversions are given every client yields a single journey over all of its
// events.
func (b *JourneyBuilder) Build(events []TouchEvent, conversions []Conversion) ([]Journey, Diagnostics) {
	diagnostics := newDiagnostics()

	clientOrder := make([]string, 0)
	eventsByClient := make(map[string][]TouchEvent)
	for _, event := range events {
		event.ClientID = strings.TrimSpace(event.ClientID)
		if event.ClientID == "" {
			diagnostics.MissingClient++
			continue
		}
		if strings.TrimSpace(event.Channel) == "" {
			diagnostics.MissingChannel++
			continue
		}
		if _, exists := eventsByClient[event.ClientID]; !exists {
			clientOrder = append(clientOrder, event.ClientID)
		}
		eventsByClient[event.ClientID] = append(eventsByClient[event.ClientID], event)
	}
	for _, clientEvents := range eventsByClient {
		sortEvents(clientEvents)
	}

	journeys := make([]Journey, 0)
	if len(conversions) == 0 {
		for _, clientID := range clientOrder {
			journey := Journey{ClientID: clientID, Value: 1,
				Touches: b.touches(eventsByClient[clientID], nil, &diagnostics)}
			journeys = append(journeys, journey)
		}
		diagnostics.countJourneys(journeys)
		return journeys, diagnostics
	}

	conversionOrder := make([]string, 0)
	conversionsByClient := make(map[string][]Conversion)
	for _, conversion := range conversions {
		clientID, ok := b.resolveIdentity(conversion.ClientID)
		if !ok {
			diagnostics.UnmatchedConversions++
			continue
		}
		if _, exists := conversionsByClient[clientID]; !exists {
			conversionOrder = append(conversionOrder, clientID)
		}
		conversionsByClient[clientID] = append(conversionsByClient[clientID], conversion)
	}

	for _, clientID := range conversionOrder {
		clientConversions := conversionsByClient[clientID]
		sort.SliceStable(clientConversions, func(i, j int) bool {
			if !clientConversions[i].At.Equal(clientConversions[j].At) {
				return clientConversions[i].At.Before(clientConversions[j].At)
			}
			return clientConversions[i].Row < clientConversions[j].Row
		})

		windows, unconsumed := b.windows(eventsByClient[clientID], clientConversions)
		diagnostics.UnconsumedEvents += unconsumed
		for i, conversion := range clientConversions {
			at := conversion.At
			value := conversion.Value
			if value <= 0 {
				value = 1
			}
			journeys = append(journeys, Journey{
				ClientID:     clientID,
				ConversionAt: &at,
				Value:        value,
				Touches:      b.touches(windows[i], &at, &diagnostics),
			})
		}
	}

	for _, clientID := range clientOrder {
		if _, exists := conversionsByClient[clientID]; !exists {
			diagnostics.UnconsumedEvents += len(eventsByClient[clientID])
		}
	}

	diagnostics.countJourneys(journeys)
	log.WithFields(log.Fields{"journeys": diagnostics.Journeys,
		"organic": diagnostics.OrganicJourneys}).Debug("Built journeys.")
	return journeys, diagnostics
}

func (d *Diagnostics) countJourneys(journeys []Journey) {
	d.Journeys += len(journeys)
	for _, journey := range journeys {
		if journey.IsOrganic() {
			d.OrganicJourneys++
		}
	}
}

func (b *JourneyBuilder) resolveIdentity(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if b.options.IdentityResolver != nil {
		clientID, ok := b.options.IdentityResolver(key)
		return clientID, ok && clientID != ""
	}
	return key, key != ""
}

// sortEvents orders a client's events chronologically. Events without a
// timestamp come first, in row order; ties on timestamp fall back to row order.
func sortEvents(events []TouchEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		switch {
		case a.Timestamp == nil && b.Timestamp == nil:
			return a.Row < b.Row
		case a.Timestamp == nil:
			return true
		case b.Timestamp == nil:
			return false
		case !a.Timestamp.Equal(*b.Timestamp):
			return a.Timestamp.Before(*b.Timestamp)
		}
		return a.Row < b.Row
	})
}

// windows splits sorted events over sorted conversions. Every event lands in
// at most one window; events without a timestamp belong to the first one.
func (b *JourneyBuilder) windows(events []TouchEvent, conversions []Conversion) ([][]TouchEvent, int) {
	windows := make([][]TouchEvent, len(conversions))
	consumed := 0
	for _, event := range events {
		if event.Timestamp == nil {
			windows[0] = append(windows[0], event)
			consumed++
			continue
		}
		for i, conversion := range conversions {
			if !event.Timestamp.Before(conversion.At) {
				continue
			}
			if i > 0 && b.options.Policy == WindowPolicyFirstConversion {
				break
			}
			if i > 0 && event.Timestamp.Before(conversions[i-1].At) {
				break
			}
			windows[i] = append(windows[i], event)
			consumed++
			break
		}
	}
	return windows, len(events) - consumed
}

func (b *JourneyBuilder) touches(events []TouchEvent, conversionAt *time.Time, diagnostics *Diagnostics) []Touch {
	touches := make([]Touch, 0, len(events))
	for _, event := range events {
		touch := Touch{Channel: event.Channel, Flagged: event.Flagged}
		if conversionAt != nil && event.Timestamp != nil {
			touch.Lead = conversionAt.Sub(*event.Timestamp)
			touch.HasLead = true
		}
		touches = append(touches, touch)
	}

	collapsed := CollapseConsecutive(touches)
	diagnostics.CollapsedTouches += len(touches) - len(collapsed)

	if b.options.MaxTouches > 0 && len(collapsed) > b.options.MaxTouches {
		collapsed = collapsed[len(collapsed)-b.options.MaxTouches:]
		diagnostics.TruncatedJourneys++
	}
	return collapsed
}
