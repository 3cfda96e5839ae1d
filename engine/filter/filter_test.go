package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/publictransport/ptengine/engine/timetable"
)

// departure builds a test Departure; lineNumber is unused since LineNumber
// is derived from LineString, not stored (kept for call-site readability).
func departure(target, line string, lineNumber int, delay int32, vt timetable.VehicleType) *timetable.Departure {
	return &timetable.Departure{
		Target:       target,
		LineString:   line,
		DelayMinutes: delay,
		VehicleType:  vt,
		RouteStops:   []string{"Central", "Westgate"},
		DepartureAt:  time.Date(2024, 5, 1, 8, 5, 0, 0, time.UTC),
	}
}

func TestFilter_ByTargetEqualsCaseInsensitive(t *testing.T) {
	f := Filter{{Type: ByTarget, Variant: Equals, Value: "north"}}
	d := departure("North", "S1", 0, -1, timetable.Bus)
	assert.True(t, f.Match(FieldsFromDeparture(d)))

	d2 := departure("South", "S1", 0, -1, timetable.Bus)
	assert.False(t, f.Match(FieldsFromDeparture(d2)))
}

func TestFilter_ByViaMatchesAnyRouteStop(t *testing.T) {
	f := Filter{{Type: ByVia, Variant: Contains, Value: "west"}}
	d := departure("North", "S1", 0, -1, timetable.Bus)
	assert.True(t, f.Match(FieldsFromDeparture(d)))

	f2 := Filter{{Type: ByVia, Variant: Contains, Value: "harbor"}}
	assert.False(t, f2.Match(FieldsFromDeparture(d)))
}

func TestFilter_ByTransportLineNumber_InvalidOnlyMatchesDoesntEqual(t *testing.T) {
	d := departure("North", "Bus", 0, -1, timetable.Bus) // LineNumber() == 0

	eq := Filter{{Type: ByTransportLineNumber, Variant: Equals, Value: 5}}
	assert.False(t, eq.Match(FieldsFromDeparture(d)))

	ne := Filter{{Type: ByTransportLineNumber, Variant: DoesntEqual, Value: 5}}
	assert.True(t, ne.Match(FieldsFromDeparture(d)))
}

func TestFilter_ByTransportLineNumber_ValidNumber(t *testing.T) {
	d := departure("North", "S1", 0, -1, timetable.Bus) // LineNumber() == 1

	gt := Filter{{Type: ByTransportLineNumber, Variant: GreaterThan, Value: 0}}
	assert.True(t, gt.Match(FieldsFromDeparture(d)))

	eq := Filter{{Type: ByTransportLineNumber, Variant: Equals, Value: 1}}
	assert.True(t, eq.Match(FieldsFromDeparture(d)))
}

func TestFilter_ByDelay_UnknownOnlyMatchesDoesntEqual(t *testing.T) {
	d := departure("North", "S1", 0, -1, timetable.Bus) // delay unknown

	eq := Filter{{Type: ByDelay, Variant: Equals, Value: 0}}
	assert.False(t, eq.Match(FieldsFromDeparture(d)))

	ne := Filter{{Type: ByDelay, Variant: DoesntEqual, Value: 0}}
	assert.True(t, ne.Match(FieldsFromDeparture(d)))
}

func TestFilter_ByDelay_KnownValue(t *testing.T) {
	d := departure("North", "S1", 0, 7, timetable.Bus)

	gt := Filter{{Type: ByDelay, Variant: GreaterThan, Value: 5}}
	assert.True(t, gt.Match(FieldsFromDeparture(d)))

	lt := Filter{{Type: ByDelay, Variant: LessThan, Value: 5}}
	assert.False(t, lt.Match(FieldsFromDeparture(d)))
}

func TestFilter_ByVehicleType_IsOneOf(t *testing.T) {
	f := Filter{{Type: ByVehicleType, Variant: IsOneOf, Value: []int{int(timetable.Bus), int(timetable.Tram)}}}
	bus := departure("North", "S1", 0, -1, timetable.Bus)
	plane := departure("North", "S1", 0, -1, timetable.Plane)

	assert.True(t, f.Match(FieldsFromDeparture(bus)))
	assert.False(t, f.Match(FieldsFromDeparture(plane)))
}

func TestFilter_RegExpMatchesAndNegation(t *testing.T) {
	matches := Filter{{Type: ByTarget, Variant: MatchesRegExp, Value: "^No"}}
	doesnt := Filter{{Type: ByTarget, Variant: DoesntMatchRegExp, Value: "^No"}}

	north := departure("North", "S1", 0, -1, timetable.Bus)
	south := departure("South", "S1", 0, -1, timetable.Bus)

	assert.True(t, matches.Match(FieldsFromDeparture(north)))
	assert.False(t, matches.Match(FieldsFromDeparture(south)))
	assert.False(t, doesnt.Match(FieldsFromDeparture(north)))
	assert.True(t, doesnt.Match(FieldsFromDeparture(south)))
}

func TestFilter_ShortCircuitsOnFirstFailingConstraint(t *testing.T) {
	f := Filter{
		{Type: ByTarget, Variant: Equals, Value: "North"},
		{Type: ByTransportLineNumber, Variant: Equals, Value: 999}, // would fail
	}
	d := departure("South", "S1", 0, -1, timetable.Bus) // first constraint already fails
	assert.False(t, f.Match(FieldsFromDeparture(d)))
}

func TestFilterList_MatchesIfAnyFilterMatches(t *testing.T) {
	fl := FilterList{
		Filter{{Type: ByTarget, Variant: Equals, Value: "West"}},
		Filter{{Type: ByTarget, Variant: Equals, Value: "North"}},
	}
	d := departure("North", "S1", 0, -1, timetable.Bus)
	assert.True(t, fl.Match(FieldsFromDeparture(d)))
}

func TestFilterList_EmptyNeverMatches(t *testing.T) {
	var fl FilterList
	d := departure("North", "S1", 0, -1, timetable.Bus)
	assert.False(t, fl.Match(FieldsFromDeparture(d)))
}

func TestSettings_FilterOut_ShowMatching(t *testing.T) {
	s := Settings{
		Action:  ShowMatching,
		Filters: FilterList{Filter{{Type: ByTarget, Variant: Equals, Value: "North"}}},
	}
	north := departure("North", "S1", 0, -1, timetable.Bus)
	south := departure("South", "S1", 0, -1, timetable.Bus)

	assert.False(t, s.FilterOut(FieldsFromDeparture(north)))
	assert.True(t, s.FilterOut(FieldsFromDeparture(south)))
}

func TestSettings_FilterOut_HideMatching(t *testing.T) {
	s := Settings{
		Action:  HideMatching,
		Filters: FilterList{Filter{{Type: ByTarget, Variant: Equals, Value: "North"}}},
	}
	north := departure("North", "S1", 0, -1, timetable.Bus)
	south := departure("South", "S1", 0, -1, timetable.Bus)

	assert.True(t, s.FilterOut(FieldsFromDeparture(north)))
	assert.False(t, s.FilterOut(FieldsFromDeparture(south)))
}

func TestSettings_FilterOut_EmptyFilterListNeverFiltersOut(t *testing.T) {
	s := Settings{Action: ShowMatching}
	d := departure("North", "S1", 0, -1, timetable.Bus)
	assert.False(t, s.FilterOut(FieldsFromDeparture(d)))
}

func TestApplyToDeparture_AttachesMatchedAlarmIndices(t *testing.T) {
	alarms := []*Alarm{
		{Name: "a0", Enabled: true, Type: Recurring, Filter: Filter{{Type: ByTarget, Variant: Equals, Value: "North"}}},
		{Name: "a1", Enabled: false, Type: Recurring, Filter: Filter{{Type: ByTarget, Variant: Equals, Value: "North"}}},
		{Name: "a2", Enabled: true, Type: Recurring, Filter: Filter{{Type: ByTarget, Variant: Equals, Value: "South"}}},
	}
	d := departure("North", "S1", 0, -1, timetable.Bus)
	ApplyToDeparture(alarms, d, time.Now())

	require.Equal(t, []int{0}, d.MatchedAlarms)
	assert.True(t, alarms[0].Enabled)
	assert.NotNil(t, alarms[0].LastFired)
}

func TestApplyToDeparture_RemoveAfterFirstMatchDisables(t *testing.T) {
	alarms := []*Alarm{
		{Name: "once", Enabled: true, Type: RemoveAfterFirstMatch, Filter: Filter{{Type: ByTarget, Variant: Equals, Value: "North"}}},
	}
	first := departure("North", "S1", 0, -1, timetable.Bus)
	ApplyToDeparture(alarms, first, time.Now())
	require.Equal(t, []int{0}, first.MatchedAlarms)
	assert.False(t, alarms[0].Enabled)

	second := departure("North", "S1", 0, -1, timetable.Bus)
	ApplyToDeparture(alarms, second, time.Now())
	assert.Empty(t, second.MatchedAlarms)
}

func TestFirstDepartureConfig_AtCustomTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	cfg := FirstDepartureConfig{Mode: AtCustomTime, CustomTime: "08:00"}

	before := time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)
	assert.False(t, cfg.IsVisible(before, now))

	after := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	assert.True(t, cfg.IsVisible(after, now))
}

func TestFirstDepartureConfig_RelativeToCurrentTimeWithOffset(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	cfg := FirstDepartureConfig{Mode: RelativeToCurrentTime, OffsetMin: 10}

	justBefore := time.Date(2024, 5, 1, 8, 9, 30, 0, time.UTC) // 30s before effective cutoff
	assert.True(t, cfg.IsVisible(justBefore, now))

	wellBefore := time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)
	assert.False(t, cfg.IsVisible(wellBefore, now))
}

func TestFieldsFromJourney_UsesTargetStopAndNextStop(t *testing.T) {
	j := &timetable.Journey{
		TargetStop: "North",
		RouteStops: []string{"Central", "Westgate", "North"},
		Pricing:    "3.50 EUR",
		VehicleTypes: map[timetable.VehicleType]struct{}{
			timetable.Bus: {},
		},
	}
	fields := FieldsFromJourney(j)
	assert.Equal(t, "North", fields.Target)
	assert.Equal(t, "Central", fields.NextStop)
	assert.Equal(t, "3.50 EUR", fields.Pricing)
	assert.Equal(t, 0, fields.LineNumber)
	assert.Equal(t, int32(-1), fields.DelayMinutes)
}
