// Package timetable holds the canonical Departure/Arrival/Journey/Stop
// records produced by the normalizer (C9) and consumed by the filter
// engine (C10) and the publication pipeline (C11). Records are never
// constructed outside the normalizer; this package only exposes
// accessors, post-hoc mutators, and the invariants of §3.
package timetable

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"time"
)

// VehicleType is the closed enumeration of §6.
type VehicleType int

const (
	Unknown VehicleType = iota
	Tram
	Bus
	TrolleyBus
	Subway
	Metro
	TrainInterurban
	RegionalTrain
	RegionalExpressTrain
	InterregionalTrain
	IntercityTrain
	HighSpeedTrain
	Ferry
	Ship
	Plane
	Feet
)

var vehicleTypeNames = [...]string{
	"Unknown", "Tram", "Bus", "TrolleyBus", "Subway", "Metro",
	"TrainInterurban", "RegionalTrain", "RegionalExpressTrain",
	"InterregionalTrain", "IntercityTrain", "HighSpeedTrain",
	"Ferry", "Ship", "Plane", "Feet",
}

func (v VehicleType) String() string {
	if int(v) < 0 || int(v) >= len(vehicleTypeNames) {
		return "Unknown"
	}
	return vehicleTypeNames[v]
}

// ParseVehicleType resolves a provider-emitted string case-insensitively,
// also accepting "InterurbanTrain" for TrainInterurban; ok is false when
// the string does not resolve to a known type (§4.6).
func ParseVehicleType(s string) (VehicleType, bool) {
	if strings.EqualFold(s, "InterurbanTrain") {
		return TrainInterurban, true
	}
	for i, name := range vehicleTypeNames {
		if strings.EqualFold(name, s) {
			return VehicleType(i), true
		}
	}
	return Unknown, false
}

// LineServices is a bitset of §3's line_services.
type LineServices uint8

const (
	NightLine LineServices = 1 << iota
	ExpressLine
)

// JourneyNewsKind distinguishes the original source's JourneyNews sub-kinds
// (SPEC_FULL §C); empty string means a plain JourneyNews entry.
type JourneyNewsKind string

const (
	JourneyNewsPlain JourneyNewsKind = ""
	JourneyNewsOther JourneyNewsKind = "other"
	JourneyNewsLink  JourneyNewsKind = "link"
)

// Departure represents a single scheduled transit event at a stop
// (Arrival shares the same shape; IsArrival distinguishes them per
// SPEC_FULL §C).
type Departure struct {
	Operator        string
	LineString      string
	Target          string
	TargetShortened string
	DepartureAt     time.Time
	VehicleType     VehicleType
	LineServices    LineServices
	Platform        string
	DelayMinutes    int32 // -1 unknown, 0 on schedule, >0 delayed
	DelayReason     string
	JourneyNews     string
	JourneyNewsKind JourneyNewsKind
	RouteStops      []string
	RouteStopsShortened []string
	RouteTimes      []time.Time
	RouteExactStops uint32
	IsArrival       bool

	FilteredOut   bool
	MatchedAlarms []int
}

// LineNumber is the trailing contiguous digit run of LineString, 0 if absent
// (§3, Glossary).
func (d *Departure) LineNumber() int {
	return trailingDigitRun(d.LineString)
}

func trailingDigitRun(s string) int {
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return 0
	}
	return n
}

// PredictedDeparture is DepartureAt if DelayMinutes <= 0, else DepartureAt
// plus DelayMinutes minutes (§3, Glossary).
func (d *Departure) PredictedDeparture() time.Time {
	if d.DelayMinutes <= 0 {
		return d.DepartureAt
	}
	return d.DepartureAt.Add(time.Duration(d.DelayMinutes) * time.Minute)
}

// Hash is the 64-bit content hash used for deduplication (§3):
// h(departure_at/dMyyhhmm, vehicle_type, line_string, target.trim().lower()).
func (d *Departure) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(d.DepartureAt.Format("2Jan061504")))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(d.VehicleType.String()))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(d.LineString))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(d.Target))))
	return h.Sum64()
}

// Less orders by predicted departure, per §4.2.
func (d *Departure) Less(other *Departure) bool {
	return d.PredictedDeparture().Before(other.PredictedDeparture())
}

// Equal compares the content hash plus the scalar fields named in §3/§4.2.
func (d *Departure) Equal(other *Departure) bool {
	if other == nil {
		return false
	}
	return d.Hash() == other.Hash() &&
		d.Platform == other.Platform &&
		d.DelayMinutes == other.DelayMinutes &&
		d.Operator == other.Operator
}

// Journey represents a multi-leg trip from an origin to a destination stop.
type Journey struct {
	Operator    string
	Pricing     string
	StartStop   string
	TargetStop  string
	TargetStopShortened string
	DepartureAt time.Time
	ArrivalAt   time.Time
	DurationMin int32 // >=0 valid, -1 invalid
	Changes     uint32
	VehicleTypes map[VehicleType]struct{}
	JourneyNews string

	RouteStops               []string
	RouteStopsShortened      []string
	RouteTransportLines      []string
	RoutePlatformsDeparture  []string
	RoutePlatformsArrival    []string
	RouteVehicleTypes        []VehicleType
	RouteTimesDeparture      []time.Time
	RouteTimesArrival        []time.Time
	RouteDelaysDeparture     []int32
	RouteDelaysArrival       []int32
	RouteExactStops          uint32

	FilteredOut   bool
	MatchedAlarms []int
}

// VehicleTypeList returns the set of vehicle types in stable (numeric) order.
func (j *Journey) VehicleTypeList() []VehicleType {
	out := make([]VehicleType, 0, len(j.VehicleTypes))
	for vt := range j.VehicleTypes {
		out = append(out, vt)
	}
	sort.Slice(out, func(i, k int) bool { return out[i] < out[k] })
	return out
}

// Hash is the 64-bit content hash: h(departure_at/dMyyhhmm, duration_min,
// changes, concatenated vehicle_types) (§3).
func (j *Journey) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(j.DepartureAt.Format("2Jan061504")))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.Itoa(int(j.DurationMin))))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.Itoa(int(j.Changes))))
	_, _ = h.Write([]byte{0})
	for _, vt := range j.VehicleTypeList() {
		_, _ = h.Write([]byte(vt.String()))
	}
	return h.Sum64()
}

// Less orders by departure time, per §4.2.
func (j *Journey) Less(other *Journey) bool { return j.DepartureAt.Before(other.DepartureAt) }

// StopSuggestion is a candidate stop name returned for a user-typed prefix.
type StopSuggestion struct {
	StopName        string
	StopID          string
	StopWeight      int
	StopCity        string
	StopCountryCode string
}
