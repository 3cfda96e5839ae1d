// Package filter implements §4.10 and the constraint/filter/filter-list
// hierarchy of §3: conjunctive Constraints grouped into a Filter, Filters
// combined disjunctively into a FilterList, and a FilterSettings that
// turns a match into a keep/drop decision.
//
// Grounded on original_source/applet/filter.cpp's Filter::match and its
// matchString/matchInt/matchList/matchTime helpers; the type×variant
// admissibility table and the "invalid value only matches DoesntEqual"
// rule are reproduced verbatim from there.
package filter

import (
	"regexp"
	"strings"
	"time"

	"github.com/publictransport/ptengine/engine/timetable"
)

// Type is what a Constraint filters on (§3).
type Type int

const (
	ByTarget Type = iota
	ByVia
	ByTransportLine
	ByTransportLineNumber
	ByDelay
	ByVehicleType
	ByDeparture
	ByDayOfWeek
	ByNextStop
	ByPricing
)

// Variant is how a Constraint compares its value against the record (§3).
type Variant int

const (
	Equals Variant = iota
	DoesntEqual
	Contains
	DoesntContain
	MatchesRegExp
	DoesntMatchRegExp
	IsOneOf
	IsntOneOf
	GreaterThan
	LessThan
)

// Constraint is one AND-term of a Filter. Value's admissible dynamic type
// depends on Type: string for ByTarget/ByVia/ByTransportLine/ByNextStop/
// ByPricing, int for ByTransportLineNumber/ByDelay, time.Time (time-of-day
// only) for ByDeparture, []int for ByVehicleType/ByDayOfWeek.
type Constraint struct {
	Type    Type
	Variant Variant
	Value   any
}

// Filter is a non-empty ordered AND-sequence of Constraints (§3).
// Evaluation short-circuits on the first failing constraint.
type Filter []Constraint

// FilterList is an OR-sequence of Filters (§3).
type FilterList []Filter

// Action is what FilterSettings does with matching records.
type Action int

const (
	ShowMatching Action = iota
	HideMatching
)

// Settings is a named filter configuration (§3's FilterSettings). Identity
// and equality are by Name per §3.
type Settings struct {
	Name          string
	Action        Action
	Filters       FilterList
	AffectedStops map[int]struct{}
}

// Fields is the record-shape-agnostic view a Filter evaluates against.
// Departure/Arrival and Journey records are adapted to Fields by
// FieldsFromDeparture/FieldsFromJourney so Filter.Match needs only one
// code path; the original engine only ever filtered DepartureInfo, so
// fields with no journey equivalent (LineNumber, Delay) are given the
// "invalid" sentinel for journeys rather than a fabricated value.
type Fields struct {
	Target       string
	RouteStops   []string
	LineString   string
	LineNumber   int // 0 means absent/invalid (§3: ByTransportLineNumber matches only DoesntEqual)
	DelayMinutes int32 // -1 means unknown/invalid (§3: ByDelay matches only DoesntEqual)
	VehicleTypes []timetable.VehicleType
	DepartureAt  time.Time
	NextStop     string
	Pricing      string
}

// FieldsFromDeparture adapts a Departure/Arrival record.
func FieldsFromDeparture(d *timetable.Departure) Fields {
	var next string
	if len(d.RouteStops) > 0 {
		next = d.RouteStops[0]
	}
	return Fields{
		Target:       d.Target,
		RouteStops:   d.RouteStops,
		LineString:   d.LineString,
		LineNumber:   d.LineNumber(),
		DelayMinutes: d.DelayMinutes,
		VehicleTypes: []timetable.VehicleType{d.VehicleType},
		DepartureAt:  d.DepartureAt,
		NextStop:     next,
	}
}

// FieldsFromJourney adapts a Journey record. A Journey has no single line
// number or delay, so LineNumber is 0 and DelayMinutes is -1: both fall
// through to the "invalid value" rule, matching only DoesntEqual.
func FieldsFromJourney(j *timetable.Journey) Fields {
	var next string
	if len(j.RouteStops) > 0 {
		next = j.RouteStops[0]
	}
	return Fields{
		Target:       j.TargetStop,
		RouteStops:   j.RouteStops,
		LineString:   strings.Join(j.RouteTransportLines, " "),
		LineNumber:   0,
		DelayMinutes: -1,
		VehicleTypes: j.VehicleTypeList(),
		DepartureAt:  j.DepartureAt,
		NextStop:     next,
		Pricing:      j.Pricing,
	}
}

// Match reports whether every constraint in f matches fields (§3).
func (f Filter) Match(fields Fields) bool {
	for _, c := range f {
		if !c.match(fields) {
			return false
		}
	}
	return true
}

// Match reports whether any filter in the list matches (§3).
func (fl FilterList) Match(fields Fields) bool {
	for _, f := range fl {
		if f.Match(fields) {
			return true
		}
	}
	return false
}

// FilterOut applies this configuration's action to fields (§3, §4.10).
// An empty filter list never filters anything out.
func (s Settings) FilterOut(fields Fields) bool {
	if len(s.Filters) == 0 {
		return false
	}
	switch s.Action {
	case ShowMatching:
		return !s.Filters.Match(fields)
	case HideMatching:
		return s.Filters.Match(fields)
	default:
		return false
	}
}

func (c Constraint) match(fields Fields) bool {
	switch c.Type {
	case ByTarget:
		return matchString(c.Variant, toString(c.Value), fields.Target)

	case ByVia:
		for _, stop := range fields.RouteStops {
			if matchString(c.Variant, toString(c.Value), stop) {
				return true
			}
		}
		return false

	case ByTransportLine:
		return matchString(c.Variant, toString(c.Value), fields.LineString)

	case ByNextStop:
		return matchString(c.Variant, toString(c.Value), fields.NextStop)

	case ByPricing:
		return matchString(c.Variant, toString(c.Value), fields.Pricing)

	case ByTransportLineNumber:
		if fields.LineNumber <= 0 {
			return c.Variant == DoesntEqual
		}
		return matchInt(c.Variant, toInt(c.Value), fields.LineNumber)

	case ByDelay:
		if fields.DelayMinutes < 0 {
			return c.Variant == DoesntEqual
		}
		return matchInt(c.Variant, toInt(c.Value), int(fields.DelayMinutes))

	case ByVehicleType:
		return matchVehicleTypeList(c.Variant, toIntList(c.Value), fields.VehicleTypes)

	case ByDeparture:
		return matchTimeOfDay(c.Variant, toTime(c.Value), fields.DepartureAt)

	case ByDayOfWeek:
		return matchIntList(c.Variant, toIntList(c.Value), int(fields.DepartureAt.Weekday()))

	default:
		return false
	}
}

func matchString(variant Variant, filterString, testString string) bool {
	switch variant {
	case Contains:
		return strings.Contains(strings.ToLower(testString), strings.ToLower(filterString))
	case DoesntContain:
		return !strings.Contains(strings.ToLower(testString), strings.ToLower(filterString))
	case Equals:
		return strings.EqualFold(testString, filterString)
	case DoesntEqual:
		return !strings.EqualFold(testString, filterString)
	case MatchesRegExp:
		return regexpFind(filterString, testString)
	case DoesntMatchRegExp:
		return !regexpFind(filterString, testString)
	default:
		return false
	}
}

// regexpFind reports whether pattern is found anywhere in s. An invalid
// pattern never matches, rather than panicking a running job.
func regexpFind(pattern, s string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func matchInt(variant Variant, filterInt, testInt int) bool {
	switch variant {
	case Equals:
		return testInt == filterInt
	case DoesntEqual:
		return testInt != filterInt
	case GreaterThan:
		return testInt > filterInt
	case LessThan:
		return testInt < filterInt
	default:
		return false
	}
}

func matchIntList(variant Variant, filterValues []int, testValue int) bool {
	contains := false
	for _, v := range filterValues {
		if v == testValue {
			contains = true
			break
		}
	}
	switch variant {
	case IsOneOf:
		return contains
	case IsntOneOf:
		return !contains
	default:
		return false
	}
}

// matchVehicleTypeList extends matchIntList to a set of vehicle types
// (a Journey carries more than one): IsOneOf matches if any of the
// record's types is in the filter list, IsntOneOf matches only if none is.
func matchVehicleTypeList(variant Variant, filterValues []int, testValues []timetable.VehicleType) bool {
	inList := func(vt timetable.VehicleType) bool {
		for _, v := range filterValues {
			if v == int(vt) {
				return true
			}
		}
		return false
	}
	switch variant {
	case IsOneOf:
		for _, vt := range testValues {
			if inList(vt) {
				return true
			}
		}
		return false
	case IsntOneOf:
		for _, vt := range testValues {
			if inList(vt) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func matchTimeOfDay(variant Variant, filterTime, testTime time.Time) bool {
	fh, fm := filterTime.Hour(), filterTime.Minute()
	th, tm := testTime.Hour(), testTime.Minute()
	filterMinutes := fh*60 + fm
	testMinutes := th*60 + tm
	switch variant {
	case Equals:
		return testMinutes == filterMinutes
	case DoesntEqual:
		return testMinutes != filterMinutes
	case GreaterThan:
		return testMinutes > filterMinutes
	case LessThan:
		return testMinutes < filterMinutes
	default:
		return false
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	default:
		return 0
	}
}

func toIntList(v any) []int {
	switch l := v.(type) {
	case []int:
		return l
	case []timetable.VehicleType:
		out := make([]int, len(l))
		for i, vt := range l {
			out[i] = int(vt)
		}
		return out
	default:
		return nil
	}
}

func toTime(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}
