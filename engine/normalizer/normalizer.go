// Package normalizer implements §4.9: it turns a batch of plugin-
// supplied result-sink records into canonical engine/timetable values.
// Grounded on original_source/engine/script/scripting.cpp's
// decodeDepartureData/decodeJourneyData (date guessing, city-affix
// stripping via stripDateAndTimeValues/stripCityNameFromStop) and on
// engine/timetableaccessor_script.cpp's parseDateAndTime for the exact
// 21h/3h and 30/10 thresholds §8 already names (DESIGN.md, C9).
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/publictransport/ptengine/engine/provider"
	"github.com/publictransport/ptengine/engine/request"
	"github.com/publictransport/ptengine/engine/resultsink"
	"github.com/publictransport/ptengine/engine/timetable"
)

// Result holds the normalized output of one batch, split by record kind,
// plus the records rejected by step 4's validation.
type Result struct {
	Departures      []*timetable.Departure
	Journeys        []*timetable.Journey
	StopSuggestions []*timetable.StopSuggestion
	Rejected        int
}

// dateState carries cur_date/last_time across the records of one batch,
// per §4.9 step 2.
type dateState struct {
	curDate  time.Time
	lastTime time.Time
	hasState bool
}

// Normalize runs the five-step algorithm of §4.9 over records, which
// must all belong to the same batch and request kind. now is the wall
// clock used for "today"/"local hour" in the date-guessing heuristics,
// passed in rather than read directly so callers can test deterministically.
func Normalize(records []resultsink.Record, kind request.Kind, meta *provider.Metadata, features map[resultsink.Feature]bool, hints map[resultsink.Hint]bool, requestDate time.Time, now time.Time) Result {
	var res Result
	var ds dateState

	switch kind {
	case request.KindDeparture, request.KindArrival:
		isArrival := kind == request.KindArrival
		for _, rec := range records {
			d, ok := normalizeDeparture(rec, meta, &ds, hints, requestDate, now, isArrival)
			if !ok {
				res.Rejected++
				continue
			}
			res.Departures = append(res.Departures, d)
		}
		if features[resultsink.FeatureAutoRemoveCityFromStopNames] {
			stripCityAffixDepartures(res.Departures)
		}
	case request.KindJourney:
		for _, rec := range records {
			j, ok := normalizeJourney(rec, meta, &ds, hints, requestDate, now)
			if !ok {
				res.Rejected++
				continue
			}
			res.Journeys = append(res.Journeys, j)
		}
		if features[resultsink.FeatureAutoRemoveCityFromStopNames] {
			stripCityAffixJourneys(res.Journeys)
		}
	case request.KindStopSuggestion, request.KindStopByGeoPosition:
		for _, rec := range records {
			s, ok := normalizeStopSuggestion(rec)
			if !ok {
				res.Rejected++
				continue
			}
			res.StopSuggestions = append(res.StopSuggestions, s)
		}
	}
	return res
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	default:
		return time.Time{}, false
	}
}

// asStringList accepts both a native []string and the []interface{} a
// JS array argument exports as, since result.add_data's values cross
// the script boundary before reaching the normalizer.
func asStringList(v any) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return l, true
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// asTimeList accepts a native []time.Time or the []any a JS array
// exports, parsing each string element with parseTimeString ("15:04",
// "15:04:05", RFC 3339, or a "2006-01-02T15:04:05"/"2006-01-02 15:04:05"
// date-time).
func asTimeList(v any) ([]time.Time, bool) {
	switch l := v.(type) {
	case []time.Time:
		return l, true
	case []any:
		out := make([]time.Time, 0, len(l))
		for _, item := range l {
			switch t := item.(type) {
			case time.Time:
				out = append(out, t)
			case string:
				parsed, ok := parseTimeString(t)
				if !ok {
					return nil, false
				}
				out = append(out, parsed)
			default:
				return nil, false
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func parseTimeString(s string) (time.Time, bool) {
	for _, layout := range []string{"15:04", "15:04:05", time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// asIntList accepts a native []int/[]int32 or the []any a JS array of
// numbers exports, for the per-stop delay lists.
func asIntList(v any) ([]int32, bool) {
	switch l := v.(type) {
	case []int32:
		return l, true
	case []int:
		out := make([]int32, len(l))
		for i, n := range l {
			out[i] = int32(n)
		}
		return out, true
	case []any:
		out := make([]int32, 0, len(l))
		for _, item := range l {
			n, ok := item.(int)
			if !ok {
				return nil, false
			}
			out = append(out, int32(n))
		}
		return out, true
	default:
		return nil, false
	}
}

// asVehicleTypeList resolves RouteTypesOfVehicles into the ordered list
// paralleling RouteStops/RouteTimes, falling back to Unknown per-entry
// rather than rejecting the whole record.
func asVehicleTypeList(v any) ([]timetable.VehicleType, bool) {
	l, ok := asStringList(v)
	if !ok {
		return nil, false
	}
	out := make([]timetable.VehicleType, len(l))
	for i, s := range l {
		out[i], _ = timetable.ParseVehicleType(s)
	}
	return out, true
}

// vehicleTypeOf resolves step 1: default to meta.DefaultVehicleType when
// TypeOfVehicle is missing, empty, or unresolvable.
func vehicleTypeOf(rec resultsink.Record, meta *provider.Metadata) timetable.VehicleType {
	raw, ok := rec[resultsink.InfoTypeOfVehicle]
	if !ok {
		return meta.DefaultVehicleType
	}
	s, ok := asString(raw)
	if !ok || strings.TrimSpace(s) == "" {
		return meta.DefaultVehicleType
	}
	vt, ok := timetable.ParseVehicleType(s)
	if !ok {
		return meta.DefaultVehicleType
	}
	return vt
}

// guessDateTime implements §4.9 step 2. dateTimeKey/dateKey/timeKey name
// the record fields to consult (DepartureDateTime/DepartureDate/
// DepartureTime for departures/arrivals/journey-start, ArrivalDateTime/
// ArrivalDate/ArrivalTime for journey-end).
func guessDateTime(rec resultsink.Record, ds *dateState, hints map[resultsink.Hint]bool, requestDate, now time.Time, dateTimeKey, dateKey, timeKey resultsink.Info) (time.Time, bool) {
	if raw, ok := rec[dateTimeKey]; ok {
		if dt, ok := asTime(raw); ok && !dt.IsZero() {
			ds.curDate = dt.Truncate(24 * time.Hour)
			ds.lastTime = dt
			ds.hasState = true
			return dt, true
		}
	}

	departureTime, haveTime := parseClockField(rec, timeKey)
	if !haveTime {
		return time.Time{}, false
	}

	var date time.Time
	if raw, ok := rec[dateKey]; ok {
		if d, ok := asTime(raw); ok {
			date = d.Truncate(24 * time.Hour)
		}
	}
	if date.IsZero() {
		if !ds.hasState {
			localHour := now.Hour()
			today := now.Truncate(24 * time.Hour)
			switch {
			case localHour < 3 && departureTime.Hour() > 21:
				date = today.AddDate(0, 0, -1)
			case localHour > 21 && departureTime.Hour() < 3:
				date = today.AddDate(0, 0, 1)
			default:
				date = today
			}
		} else if secondsBetween(ds.lastTime, departureTime, ds.curDate) < -300 {
			date = ds.curDate.AddDate(0, 0, 1)
		} else {
			date = ds.curDate
		}
	}

	dt := clockOn(date, departureTime)
	if hints[resultsink.HintDatesNeedAdjustment] {
		today := now.Truncate(24 * time.Hour)
		days := int(requestDate.Truncate(24*time.Hour).Sub(today).Hours() / 24)
		dt = dt.AddDate(0, 0, days)
	}
	ds.curDate = dt.Truncate(24 * time.Hour)
	ds.lastTime = dt
	ds.hasState = true
	return dt, true
}

// secondsBetween is last_time.seconds_to(candidate), where candidate is
// departureTime projected onto curDate (§4.9 step 2, midnight-crossing rule).
func secondsBetween(lastTime, departureTime time.Time, curDate time.Time) int {
	candidate := clockOn(curDate, departureTime)
	return int(candidate.Sub(lastTime).Seconds())
}

// clockOn projects clock's hour/minute onto date's year/month/day.
func clockOn(date, clock time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, date.Location())
}

// parseClockField reads a bare time-of-day field (DepartureTime/ArrivalTime),
// which may be a time.Time (date part ignored) or an "HH:MM" string.
func parseClockField(rec resultsink.Record, key resultsink.Info) (time.Time, bool) {
	raw, ok := rec[key]
	if !ok {
		return time.Time{}, false
	}
	if t, ok := asTime(raw); ok {
		return t, true
	}
	if s, ok := asString(raw); ok {
		for _, layout := range []string{"15:04", "15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func normalizeDeparture(rec resultsink.Record, meta *provider.Metadata, ds *dateState, hints map[resultsink.Hint]bool, requestDate, now time.Time, isArrival bool) (*timetable.Departure, bool) {
	departureAt, haveDT := guessDateTime(rec, ds, hints, requestDate, now, resultsink.InfoDepartureDateTime, resultsink.InfoDepartureDate, resultsink.InfoDepartureTime)
	vt := vehicleTypeOf(rec, meta)
	line, haveLine := asString(rec[resultsink.InfoTransportLine])

	if !haveDT || !haveLine || strings.TrimSpace(line) == "" {
		return nil, false
	}

	d := &timetable.Departure{
		DepartureAt: departureAt,
		VehicleType: vt,
		LineString:  line,
		IsArrival:   isArrival,
	}
	if s, ok := asString(rec[resultsink.InfoOperator]); ok {
		d.Operator = s
	}
	if s, ok := asString(rec[resultsink.InfoTarget]); ok {
		d.Target = s
	}
	if s, ok := asString(rec[resultsink.InfoPlatform]); ok {
		d.Platform = s
	}
	if s, ok := asString(rec[resultsink.InfoDelayReason]); ok {
		d.DelayReason = s
	}
	if v, ok := rec[resultsink.InfoDelay]; ok {
		if n, ok := v.(int); ok {
			d.DelayMinutes = int32(n)
		} else {
			d.DelayMinutes = -1
		}
	} else {
		d.DelayMinutes = -1
	}
	if s, ok := asString(rec[resultsink.InfoJourneyNews]); ok {
		d.JourneyNews = s
	} else if s, ok := asString(rec[resultsink.InfoJourneyNewsOther]); ok {
		d.JourneyNews, d.JourneyNewsKind = s, timetable.JourneyNewsOther
	} else if s, ok := asString(rec[resultsink.InfoJourneyNewsLink]); ok {
		d.JourneyNews, d.JourneyNewsKind = s, timetable.JourneyNewsLink
	}
	if l, ok := asStringList(rec[resultsink.InfoRouteStops]); ok {
		d.RouteStops = l
	}
	if l, ok := asTimeList(rec[resultsink.InfoRouteTimes]); ok {
		d.RouteTimes = l
	}
	if n, ok := rec[resultsink.InfoRouteExactStops].(int); ok {
		d.RouteExactStops = uint32(n)
	}
	if b, ok := rec[resultsink.InfoIsNightLine].(bool); ok && b {
		d.LineServices |= timetable.NightLine
	}
	return d, true
}

func normalizeJourney(rec resultsink.Record, meta *provider.Metadata, ds *dateState, hints map[resultsink.Hint]bool, requestDate, now time.Time) (*timetable.Journey, bool) {
	departureAt, haveDep := guessDateTime(rec, ds, hints, requestDate, now, resultsink.InfoDepartureDateTime, resultsink.InfoDepartureDate, resultsink.InfoDepartureTime)
	arrivalAt, haveArr := guessDateTime(rec, ds, hints, requestDate, now, resultsink.InfoArrivalDateTime, resultsink.InfoArrivalDate, resultsink.InfoArrivalTime)
	startName, haveStart := asString(rec[resultsink.InfoStartStopName])
	targetName, haveTarget := asString(rec[resultsink.InfoTargetStopName])

	if !haveDep || !haveArr || !haveStart || !haveTarget {
		return nil, false
	}

	j := &timetable.Journey{
		DepartureAt: departureAt,
		ArrivalAt:   arrivalAt,
		StartStop:   startName,
		TargetStop:  targetName,
		DurationMin: -1,
	}
	if s, ok := asString(rec[resultsink.InfoOperator]); ok {
		j.Operator = s
	}
	if s, ok := asString(rec[resultsink.InfoPricing]); ok {
		j.Pricing = s
	}
	if n, ok := rec[resultsink.InfoDuration].(int); ok {
		j.DurationMin = int32(n)
	}
	if n, ok := rec[resultsink.InfoChanges].(int); ok {
		j.Changes = uint32(n)
	}
	if s, ok := asString(rec[resultsink.InfoJourneyNews]); ok {
		j.JourneyNews = s
	}
	if l, ok := asStringList(rec[resultsink.InfoRouteStops]); ok {
		j.RouteStops = l
	}
	if l, ok := asStringList(rec[resultsink.InfoRouteTransportLines]); ok {
		j.RouteTransportLines = l
	}
	if l, ok := asStringList(rec[resultsink.InfoRoutePlatformsDeparture]); ok {
		j.RoutePlatformsDeparture = l
	}
	if l, ok := asStringList(rec[resultsink.InfoRoutePlatformsArrival]); ok {
		j.RoutePlatformsArrival = l
	}
	if l, ok := asStringList(rec[resultsink.InfoTypesOfVehicleInJourney]); ok {
		j.VehicleTypes = make(map[timetable.VehicleType]struct{}, len(l))
		for _, s := range l {
			if vt, ok := timetable.ParseVehicleType(s); ok {
				j.VehicleTypes[vt] = struct{}{}
			}
		}
	}
	if l, ok := asTimeList(rec[resultsink.InfoRouteTimesDeparture]); ok {
		j.RouteTimesDeparture = l
	}
	if l, ok := asTimeList(rec[resultsink.InfoRouteTimesArrival]); ok {
		j.RouteTimesArrival = l
	}
	if l, ok := asIntList(rec[resultsink.InfoRouteTimesDepartureDelay]); ok {
		j.RouteDelaysDeparture = l
	}
	if l, ok := asIntList(rec[resultsink.InfoRouteTimesArrivalDelay]); ok {
		j.RouteDelaysArrival = l
	}
	if l, ok := asVehicleTypeList(rec[resultsink.InfoRouteTypesOfVehicles]); ok {
		j.RouteVehicleTypes = l
	}
	if n, ok := rec[resultsink.InfoRouteExactStops].(int); ok {
		j.RouteExactStops = uint32(n)
	}
	return j, true
}

func normalizeStopSuggestion(rec resultsink.Record) (*timetable.StopSuggestion, bool) {
	name, ok := asString(rec[resultsink.InfoStopName])
	if !ok || strings.TrimSpace(name) == "" {
		return nil, false
	}
	s := &timetable.StopSuggestion{StopName: name}
	if v, ok := asString(rec[resultsink.InfoStopID]); ok {
		s.StopID = v
	}
	if n, ok := rec[resultsink.InfoStopWeight].(int); ok {
		s.StopWeight = n
	}
	if v, ok := asString(rec[resultsink.InfoStopCity]); ok {
		s.StopCity = v
	}
	if v, ok := asString(rec[resultsink.InfoStopCountryCode]); ok {
		s.StopCountryCode = v
	}
	return s, true
}

// firstWord and lastWord implement §4.9 step 3's affix candidates:
// s.split(' ')[0] and the trailing `,?\s+\S+$` match.
func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func lastWord(s string) string {
	s = strings.TrimRight(s, " ")
	s = strings.TrimSuffix(s, ",")
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

const (
	affixHighThreshold = 30
	affixLowThreshold  = 10
)

// affixCounts tallies first-word/last-word occurrences across every
// Target/RouteStops string in the batch, per §4.9 step 3.
type affixCounts struct {
	first map[string]int
	last  map[string]int
}

func newAffixCounts() *affixCounts {
	return &affixCounts{first: make(map[string]int), last: make(map[string]int)}
}

func (a *affixCounts) add(s string) {
	if s == "" {
		return
	}
	if fw := firstWord(s); fw != "" {
		a.first[fw]++
	}
	if lw := lastWord(s); lw != "" {
		a.last[lw]++
	}
}

// elect picks the affix word per §4.9 step 3: first pass prefers any word
// whose count crosses the high threshold (last-word wins ties), second
// pass falls back to the overall max count if it clears the low
// threshold (again preferring last-word).
func (a *affixCounts) elect() (string, bool) {
	if w, ok := maxAtLeast(a.last, affixHighThreshold); ok {
		return w, true
	}
	if w, ok := maxAtLeast(a.first, affixHighThreshold); ok {
		return w, true
	}

	lastWord, lastCount := maxEntry(a.last)
	firstWord, firstCount := maxEntry(a.first)
	if lastCount >= affixLowThreshold && lastCount >= firstCount {
		return lastWord, true
	}
	if firstCount >= affixLowThreshold {
		return firstWord, true
	}
	return "", false
}

func maxAtLeast(counts map[string]int, threshold int) (string, bool) {
	word, count := maxEntry(counts)
	if count >= threshold {
		return word, true
	}
	return "", false
}

func maxEntry(counts map[string]int) (string, int) {
	var best string
	var bestCount int
	for w, c := range counts {
		if c > bestCount {
			best, bestCount = w, c
		}
	}
	return best, bestCount
}

func stripAffix(s, affix string) string {
	if affix == "" {
		return s
	}
	trimmed := s
	if strings.HasPrefix(trimmed, affix+" ") {
		return strings.TrimSpace(strings.TrimPrefix(trimmed, affix+" "))
	}
	trimmed = strings.TrimRight(trimmed, " ")
	withoutComma := strings.TrimSuffix(trimmed, ",")
	if strings.HasSuffix(withoutComma, " "+affix) {
		return strings.TrimSpace(strings.TrimSuffix(withoutComma, " "+affix))
	}
	return s
}

func stripCityAffixDepartures(departures []*timetable.Departure) {
	counts := newAffixCounts()
	for _, d := range departures {
		counts.add(d.Target)
		for _, stop := range d.RouteStops {
			counts.add(stop)
		}
	}
	affix, ok := counts.elect()
	if !ok {
		return
	}
	for _, d := range departures {
		d.TargetShortened = stripAffix(d.Target, affix)
		if len(d.RouteStops) > 0 {
			d.RouteStopsShortened = make([]string, len(d.RouteStops))
			for i, stop := range d.RouteStops {
				d.RouteStopsShortened[i] = stripAffix(stop, affix)
			}
		}
	}
}

func stripCityAffixJourneys(journeys []*timetable.Journey) {
	counts := newAffixCounts()
	for _, j := range journeys {
		counts.add(j.TargetStop)
		for _, stop := range j.RouteStops {
			counts.add(stop)
		}
	}
	affix, ok := counts.elect()
	if !ok {
		return
	}
	for _, j := range journeys {
		j.TargetStopShortened = stripAffix(j.TargetStop, affix)
		if len(j.RouteStops) > 0 {
			j.RouteStopsShortened = make([]string, len(j.RouteStops))
			for i, stop := range j.RouteStops {
				j.RouteStopsShortened[i] = stripAffix(stop, affix)
			}
		}
	}
}

// Error describes a batch-level normalization failure, used when the
// scheduler wants to surface why every record in a batch was rejected.
type Error struct {
	Kind    request.Kind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("normalizer: %s: %s", e.Kind, e.Message) }
