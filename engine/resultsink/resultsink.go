// Package resultsink implements the plugin-facing result collector of
// §4.6: add_data/publish, the AutoPublish/AutoDecodeHtmlEntities/
// AutoRemoveCityFromStopNames feature flags, and the per-record hint
// flags. One mutex protects the buffer, features, and hints, mirroring
// the teacher's resources.Manager pattern of bundling related state
// behind a single lock (DESIGN.md, C6).
package resultsink

import (
	"strings"
	"sync"

	"github.com/publictransport/ptengine/engine/helper"
	"github.com/publictransport/ptengine/engine/timetable"
)

// Info is the canonical TimetableInformation key an add_data map entry
// is matched to, case-insensitively.
type Info string

const (
	InfoStopName             Info = "StopName"
	InfoTarget               Info = "Target"
	InfoTargetShortened      Info = "TargetShortened"
	InfoStartStopName        Info = "StartStopName"
	InfoStartStopID          Info = "StartStopID"
	InfoTargetStopName       Info = "TargetStopName"
	InfoTargetStopID         Info = "TargetStopID"
	InfoOperator             Info = "Operator"
	InfoTransportLine        Info = "TransportLine"
	InfoFlightNumber         Info = "FlightNumber" // alias for TransportLine
	InfoPlatform             Info = "Platform"
	InfoDelayReason          Info = "DelayReason"
	InfoStatus               Info = "Status"
	InfoPricing              Info = "Pricing"
	InfoRouteStops           Info = "RouteStops"
	InfoRouteStopsShortened  Info = "RouteStopsShortened"
	InfoRoutePlatformsDeparture Info = "RoutePlatformsDeparture"
	InfoRoutePlatformsArrival   Info = "RoutePlatformsArrival"
	InfoRouteTimes              Info = "RouteTimes"
	InfoRouteTimesDeparture     Info = "RouteTimesDeparture"
	InfoRouteTimesArrival       Info = "RouteTimesArrival"
	InfoRouteTimesDepartureDelay Info = "RouteTimesDepartureDelay"
	InfoRouteTimesArrivalDelay   Info = "RouteTimesArrivalDelay"
	InfoRouteExactStops          Info = "RouteExactStops"
	InfoRouteTypesOfVehicles     Info = "RouteTypesOfVehicles"
	InfoRouteTransportLines      Info = "RouteTransportLines"
	InfoTypeOfVehicle            Info = "TypeOfVehicle"
	InfoTypesOfVehicleInJourney  Info = "TypesOfVehicleInJourney"
	InfoDepartureDateTime    Info = "DepartureDateTime"
	InfoDepartureDate        Info = "DepartureDate"
	InfoDepartureTime        Info = "DepartureTime"
	InfoArrivalDateTime      Info = "ArrivalDateTime"
	InfoArrivalDate          Info = "ArrivalDate"
	InfoArrivalTime          Info = "ArrivalTime"
	InfoDelay                Info = "Delay"
	InfoDuration             Info = "Duration"
	InfoChanges              Info = "Changes"
	InfoJourneyNews          Info = "JourneyNews"
	InfoJourneyNewsOther     Info = "JourneyNewsOther"
	InfoJourneyNewsLink      Info = "JourneyNewsLink"
	InfoIsNightLine          Info = "IsNightLine"
	InfoStopID               Info = "StopID"
	InfoStopWeight           Info = "StopWeight"
	InfoStopCity             Info = "StopCity"
	InfoStopCountryCode      Info = "StopCountryCode"
)

// allKnownInfos lists every Info normalizeKey resolves against.
var allKnownInfos = []Info{
	InfoStopName, InfoTarget, InfoTargetShortened, InfoStartStopName, InfoStartStopID,
	InfoTargetStopName, InfoTargetStopID, InfoOperator, InfoTransportLine, InfoFlightNumber,
	InfoPlatform, InfoDelayReason, InfoStatus, InfoPricing, InfoRouteStops,
	InfoRouteStopsShortened, InfoRoutePlatformsDeparture, InfoRoutePlatformsArrival,
	InfoRouteTimes, InfoRouteTimesDeparture, InfoRouteTimesArrival,
	InfoRouteTimesDepartureDelay, InfoRouteTimesArrivalDelay, InfoRouteExactStops,
	InfoRouteTypesOfVehicles, InfoRouteTransportLines, InfoTypeOfVehicle,
	InfoTypesOfVehicleInJourney, InfoDepartureDateTime, InfoDepartureDate, InfoDepartureTime,
	InfoArrivalDateTime, InfoArrivalDate, InfoArrivalTime, InfoDelay, InfoDuration,
	InfoChanges, InfoJourneyNews, InfoJourneyNewsOther, InfoJourneyNewsLink, InfoIsNightLine,
	InfoStopID, InfoStopWeight, InfoStopCity, InfoStopCountryCode,
}

// htmlDecodedStringFields and htmlDecodedListFields name the add_data
// keys trimmed+entity-decoded when AutoDecodeHtmlEntities is on (§4.6).
var htmlDecodedStringFields = map[Info]bool{
	InfoStopName: true, InfoTarget: true, InfoStartStopName: true,
	InfoTargetStopName: true, InfoOperator: true, InfoTransportLine: true,
	InfoPlatform: true, InfoDelayReason: true, InfoStatus: true, InfoPricing: true,
}

var htmlDecodedListFields = map[Info]bool{
	InfoRouteStops: true, InfoRoutePlatformsDeparture: true, InfoRoutePlatformsArrival: true,
	InfoRouteTransportLines: true,
}

// Feature is one of the toggles of §4.6.
type Feature string

const (
	FeatureAutoPublish               Feature = "AutoPublish"
	FeatureAutoDecodeHtmlEntities    Feature = "AutoDecodeHtmlEntities"
	FeatureAutoRemoveCityFromStopNames Feature = "AutoRemoveCityFromStopNames"
)

// Hint is one of the per-batch hints of §4.6.
type Hint string

const (
	HintDatesNeedAdjustment Hint = "DatesNeedAdjustment"
	HintNoDelaysForStop     Hint = "NoDelaysForStop"
	HintCityNamesAreLeft    Hint = "CityNamesAreLeft"
	HintCityNamesAreRight   Hint = "CityNamesAreRight"
)

// Record is one plugin-supplied add_data map, keyed by canonical Info.
type Record map[Info]any

// EventSink receives the result sink's side-channel events.
type EventSink interface {
	OnInvalidDataReceived(key string)
	OnPublish()
}

// NopEventSink discards all events.
type NopEventSink struct{}

func (NopEventSink) OnInvalidDataReceived(string) {}
func (NopEventSink) OnPublish()                   {}

// Sink is the per-job result collector injected into the plugin.
type Sink struct {
	mu       sync.Mutex
	buffer   []Record
	features map[Feature]bool
	hints    map[Hint]bool
	sink     EventSink

	publishedAtTen bool
}

// New builds a Sink with AutoPublish and AutoDecodeHtmlEntities on by
// default, matching the original engine's defaults.
func New(sink EventSink) *Sink {
	if sink == nil {
		sink = NopEventSink{}
	}
	return &Sink{
		features: map[Feature]bool{
			FeatureAutoPublish:            true,
			FeatureAutoDecodeHtmlEntities: true,
		},
		hints: make(map[Hint]bool),
		sink:  sink,
	}
}

func normalizeKey(key string) (Info, bool) {
	if strings.EqualFold(string(InfoFlightNumber), key) {
		return InfoTransportLine, true // alias (§4.9's field table)
	}
	for _, known := range allKnownInfos {
		if strings.EqualFold(string(known), key) {
			return known, true
		}
	}
	return "", false
}

// AddData appends one record, matching each raw key to a canonical Info
// case-insensitively; unknown keys are dropped with an
// invalid_data_received event. String/list route fields are trimmed and
// HTML-decoded when AutoDecodeHtmlEntities is on. A string TypeOfVehicle
// that does not resolve to a known vehicle type also raises
// invalid_data_received (§4.6).
func (s *Sink) AddData(raw map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(Record, len(raw))
	autoDecode := s.features[FeatureAutoDecodeHtmlEntities]

	for rawKey, value := range raw {
		key, ok := normalizeKey(rawKey)
		if !ok {
			s.emitInvalid(rawKey)
			continue
		}
		if key == InfoTypeOfVehicle {
			if str, isStr := value.(string); isStr {
				if _, resolved := timetable.ParseVehicleType(str); !resolved {
					s.emitInvalid(rawKey)
				}
			}
		}
		if autoDecode && htmlDecodedStringFields[key] {
			if str, isStr := value.(string); isStr {
				value = helper.DecodeHTMLEntities(helper.Trim(str))
			}
		}
		if autoDecode && htmlDecodedListFields[key] {
			if list, isList := value.([]string); isList {
				decoded := make([]string, len(list))
				for i, item := range list {
					decoded[i] = helper.DecodeHTMLEntities(helper.Trim(item))
				}
				value = decoded
			} else if list, isList := value.([]any); isList {
				decoded := make([]any, len(list))
				for i, item := range list {
					if str, isStr := item.(string); isStr {
						item = helper.DecodeHTMLEntities(helper.Trim(str))
					}
					decoded[i] = item
				}
				value = decoded
			}
		}
		out[key] = value
	}

	s.buffer = append(s.buffer, out)

	if s.features[FeatureAutoPublish] && !s.publishedAtTen && len(s.buffer) == 10 {
		s.publishedAtTen = true
		s.sink.OnPublish()
	}
}

func (s *Sink) emitInvalid(key string) {
	s.sink.OnInvalidDataReceived(key)
}

// Publish emits a publish event; consumed by the job to flush the buffer
// (§4.11).
func (s *Sink) Publish() {
	s.sink.OnPublish()
}

// EnableFeature toggles f.
func (s *Sink) EnableFeature(f Feature, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features[f] = on
}

// IsFeatureEnabled reports f's current state.
func (s *Sink) IsFeatureEnabled(f Feature) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.features[f]
}

// GiveHint toggles h; setting CityNamesAreLeft clears CityNamesAreRight
// and vice versa (§4.6).
func (s *Sink) GiveHint(h Hint, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints[h] = on
	if on {
		switch h {
		case HintCityNamesAreLeft:
			s.hints[HintCityNamesAreRight] = false
		case HintCityNamesAreRight:
			s.hints[HintCityNamesAreLeft] = false
		}
	}
}

// IsHintGiven reports h's current state.
func (s *Sink) IsHintGiven(h Hint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hints[h]
}

// Features returns a snapshot of every feature's current state, for the
// scheduler's *_ready event payload (§4.8).
func (s *Sink) Features() map[Feature]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Feature]bool, len(s.features))
	for k, v := range s.features {
		out[k] = v
	}
	return out
}

// Hints returns a snapshot of every hint's current state, for the
// scheduler's *_ready event payload (§4.8).
func (s *Sink) Hints() map[Hint]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Hint]bool, len(s.hints))
	for k, v := range s.hints {
		out[k] = v
	}
	return out
}

// Count returns the number of buffered records.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Data returns a copy of the buffered records.
func (s *Sink) Data() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.buffer))
	copy(out, s.buffer)
	return out
}

// Clear empties the buffer.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = nil
	s.publishedAtTen = false
}
