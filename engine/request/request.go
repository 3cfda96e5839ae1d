// Package request defines the typed descriptors consumed by the job
// scheduler: one Request per timetable query, closed over a Kind tag
// instead of the inheritance hierarchy the source engine used (see
// DESIGN.md, C1).
package request

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects which plugin entry function a Request is routed to.
type Kind int

const (
	// KindDeparture requests scheduled departures at a stop.
	KindDeparture Kind = iota
	// KindArrival requests scheduled arrivals at a stop.
	KindArrival
	// KindStopSuggestion requests stop-name completions for a prefix.
	KindStopSuggestion
	// KindStopByGeoPosition requests stops near a coordinate (SPEC_FULL §C).
	KindStopByGeoPosition
	// KindJourney requests a multi-leg trip between two stops.
	KindJourney
	// KindAdditionalData requests a secondary fetch augmenting a record.
	KindAdditionalData
	// KindMoreItems wraps another request, asking for earlier/later items.
	KindMoreItems
)

func (k Kind) String() string {
	switch k {
	case KindDeparture:
		return "departure"
	case KindArrival:
		return "arrival"
	case KindStopSuggestion:
		return "stop-suggestion"
	case KindStopByGeoPosition:
		return "stop-by-geo-position"
	case KindJourney:
		return "journey"
	case KindAdditionalData:
		return "additional-data"
	case KindMoreItems:
		return "more-items"
	default:
		return "unknown"
	}
}

// Direction is the variant-specific field of a MoreItems request.
type Direction int

const (
	EarlierItems Direction = iota
	LaterItems
)

// StopRef names a stop either by display name or by provider-assigned id.
type StopRef struct {
	Name string
	ID   string
	ByID bool
}

// Request is the closed sum type consumed by exactly one scheduler job.
// Only the fields relevant to Kind are meaningful; see the per-kind
// constructors below for the supported combinations.
type Request struct {
	Kind Kind

	// Common fields (§3).
	SourceName string
	ParseMode  Kind // equals Kind, except for MoreItems wrapping and StopByGeoPosition (KindStopSuggestion)
	MaxCount   int
	City       string
	DateTime   time.Time

	// Departure / Arrival
	Stop     StopRef
	DataType string // "departures" | "arrivals"

	// StopSuggestion / StopByGeoPosition
	StopPrefix string

	Longitude float64
	Latitude  float64
	Distance  float64

	// Journey
	OriginStop StopRef
	TargetStop StopRef
	URLToUse   string
	RoundTrips int

	// AdditionalData
	TransportLine string
	Target        string
	RouteDataURL  string

	// MoreItems
	Wrapped   *Request
	Direction Direction
}

// NewDeparture builds a Departure request.
func NewDeparture(source string, stop StopRef, dt time.Time, maxCount int, city string) *Request {
	return &Request{Kind: KindDeparture, ParseMode: KindDeparture, SourceName: source, Stop: stop,
		DateTime: dt, MaxCount: maxCount, City: city, DataType: "departures"}
}

// NewArrival builds an Arrival request.
func NewArrival(source string, stop StopRef, dt time.Time, maxCount int, city string) *Request {
	return &Request{Kind: KindArrival, ParseMode: KindArrival, SourceName: source, Stop: stop,
		DateTime: dt, MaxCount: maxCount, City: city, DataType: "arrivals"}
}

// NewStopSuggestion builds a StopSuggestion request.
func NewStopSuggestion(source, prefix, city string, maxCount int) *Request {
	return &Request{Kind: KindStopSuggestion, ParseMode: KindStopSuggestion, SourceName: source,
		StopPrefix: prefix, City: city, MaxCount: maxCount}
}

// NewStopByGeoPosition builds a StopByGeoPosition request.
func NewStopByGeoPosition(source string, lon, lat, distance float64, maxCount int) *Request {
	return &Request{Kind: KindStopByGeoPosition, ParseMode: KindStopSuggestion, SourceName: source,
		Longitude: lon, Latitude: lat, Distance: distance, MaxCount: maxCount}
}

// NewJourney builds a Journey request.
func NewJourney(source string, origin, target StopRef, dt time.Time, maxCount int, urlToUse, city string) *Request {
	return &Request{Kind: KindJourney, ParseMode: KindJourney, SourceName: source,
		OriginStop: origin, TargetStop: target, DateTime: dt, MaxCount: maxCount,
		URLToUse: urlToUse, City: city, DataType: "journeys"}
}

// NewAdditionalData builds an AdditionalData request.
func NewAdditionalData(source, transportLine, target string, dt time.Time, routeDataURL string) *Request {
	return &Request{Kind: KindAdditionalData, ParseMode: KindAdditionalData, SourceName: source,
		TransportLine: transportLine, Target: target, DateTime: dt, RouteDataURL: routeDataURL}
}

// NewMoreItems wraps req, asking for items in the given direction.
func NewMoreItems(req *Request, dir Direction) *Request {
	return &Request{Kind: KindMoreItems, ParseMode: req.ParseMode, SourceName: req.SourceName,
		Wrapped: req, Direction: dir}
}

// Clone returns a deep-enough copy safe to hand to a concurrent reader;
// Wrapped is cloned recursively.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Wrapped = r.Wrapped.Clone()
	return &cp
}

// FunctionName returns the plugin entry point for this request (§4.1, §4.7).
func (r *Request) FunctionName() string {
	switch r.effectiveKind() {
	case KindDeparture, KindArrival:
		return "getTimetable"
	case KindJourney:
		return "getJourneys"
	case KindStopSuggestion, KindStopByGeoPosition:
		return "getStopSuggestions"
	case KindAdditionalData:
		return "getAdditionalData"
	default:
		return ""
	}
}

// EffectiveKind returns the request kind that determines the plugin
// entry point and the normalizer's record shape, unwrapping MoreItems.
func (r *Request) EffectiveKind() Kind { return r.effectiveKind() }

func (r *Request) effectiveKind() Kind {
	if r.Kind == KindMoreItems && r.Wrapped != nil {
		return r.Wrapped.effectiveKind()
	}
	return r.Kind
}

// ArgumentsString returns a canonical one-line textual form used in logs,
// format normative per original_source/engine/request.cpp.
func (r *Request) ArgumentsString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "source=%q kind=%s", r.SourceName, r.Kind)
	switch r.Kind {
	case KindDeparture, KindArrival:
		fmt.Fprintf(&b, " stop=%q dateTime=%s maxCount=%d city=%q dataType=%q",
			r.Stop.Name, r.DateTime.Format(time.RFC3339), r.MaxCount, r.City, r.DataType)
	case KindStopSuggestion:
		fmt.Fprintf(&b, " stop=%q city=%q maxCount=%d", r.StopPrefix, r.City, r.MaxCount)
	case KindStopByGeoPosition:
		fmt.Fprintf(&b, " lon=%f lat=%f distance=%f maxCount=%d", r.Longitude, r.Latitude, r.Distance, r.MaxCount)
	case KindJourney:
		fmt.Fprintf(&b, " origin=%q target=%q dateTime=%s maxCount=%d roundTrips=%d",
			r.OriginStop.Name, r.TargetStop.Name, r.DateTime.Format(time.RFC3339), r.MaxCount, r.RoundTrips)
	case KindAdditionalData:
		fmt.Fprintf(&b, " transportLine=%q target=%q dateTime=%s", r.TransportLine, r.Target, r.DateTime.Format(time.RFC3339))
	case KindMoreItems:
		dir := "earlier"
		if r.Direction == LaterItems {
			dir = "later"
		}
		fmt.Fprintf(&b, " direction=%s wrapped={%s}", dir, r.Wrapped.ArgumentsString())
	}
	return b.String()
}

// ScriptValue returns the map of properties the plugin receives as its
// single argument (§4.1, §6). Callers marshal this into the script
// engine's own value representation.
func (r *Request) ScriptValue() map[string]any {
	v := map[string]any{
		"maxCount":  r.MaxCount,
		"dataType":  r.DataType,
		"city":      r.City,
		"parseMode": r.ParseMode.String(),
	}
	if !r.DateTime.IsZero() {
		v["dateTime"] = r.DateTime
	}
	switch r.Kind {
	case KindDeparture, KindArrival:
		v["stop"] = r.Stop.Name
		if r.Stop.ByID {
			v["stopID"] = r.Stop.ID
		}
	case KindStopSuggestion:
		v["stop"] = r.StopPrefix
	case KindStopByGeoPosition:
		v["longitude"] = r.Longitude
		v["latitude"] = r.Latitude
		v["distance"] = r.Distance
	case KindJourney:
		v["stop"] = r.OriginStop.Name
		v["targetStop"] = r.TargetStop.Name
		if r.OriginStop.ByID {
			v["stopID"] = r.OriginStop.ID
		}
		if r.TargetStop.ByID {
			v["targetStopID"] = r.TargetStop.ID
		}
		v["urlToUse"] = r.URLToUse
		v["roundTrips"] = r.RoundTrips
	case KindAdditionalData:
		v["transportLine"] = r.TransportLine
		v["target"] = r.Target
		v["routeDataUrl"] = r.RouteDataURL
	case KindMoreItems:
		for k, val := range r.Wrapped.ScriptValue() {
			v[k] = val
		}
	}
	return v
}
