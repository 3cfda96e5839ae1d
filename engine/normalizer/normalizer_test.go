package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/publictransport/ptengine/engine/provider"
	"github.com/publictransport/ptengine/engine/request"
	"github.com/publictransport/ptengine/engine/resultsink"
	"github.com/publictransport/ptengine/engine/timetable"
)

func meta() *provider.Metadata {
	return &provider.Metadata{ID: "demo", DefaultVehicleType: timetable.Bus}
}

func TestVehicleTypeDefault(t *testing.T) {
	recs := []resultsink.Record{
		{resultsink.InfoDepartureDateTime: time.Date(2024, 5, 1, 8, 5, 0, 0, time.UTC), resultsink.InfoTransportLine: "S1"},
	}
	res := Normalize(recs, request.KindDeparture, meta(), nil, nil, time.Time{}, time.Now())
	require.Len(t, res.Departures, 1)
	assert.Equal(t, timetable.Bus, res.Departures[0].VehicleType)
}

func TestVehicleTypeDefault_UnresolvableStringFallsBack(t *testing.T) {
	recs := []resultsink.Record{
		{resultsink.InfoDepartureDateTime: time.Date(2024, 5, 1, 8, 5, 0, 0, time.UTC), resultsink.InfoTransportLine: "S1", resultsink.InfoTypeOfVehicle: "not-a-type"},
	}
	res := Normalize(recs, request.KindDeparture, meta(), nil, nil, time.Time{}, time.Now())
	require.Len(t, res.Departures, 1)
	assert.Equal(t, timetable.Bus, res.Departures[0].VehicleType)
}

func TestDateGuessing_ExplicitDateTime(t *testing.T) {
	dt := time.Date(2024, 5, 1, 8, 5, 0, 0, time.UTC)
	recs := []resultsink.Record{
		{resultsink.InfoDepartureDateTime: dt, resultsink.InfoTransportLine: "S1"},
	}
	res := Normalize(recs, request.KindDeparture, meta(), nil, nil, time.Time{}, time.Now())
	require.Len(t, res.Departures, 1)
	assert.True(t, dt.Equal(res.Departures[0].DepartureAt))
}

func TestDateGuessing_DepartureDatePlusTime(t *testing.T) {
	recs := []resultsink.Record{
		{
			resultsink.InfoDepartureDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			resultsink.InfoDepartureTime: time.Date(0, 1, 1, 8, 5, 0, 0, time.UTC),
			resultsink.InfoTransportLine: "S1",
		},
	}
	res := Normalize(recs, request.KindDeparture, meta(), nil, nil, time.Time{}, time.Now())
	require.Len(t, res.Departures, 1)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 5, 0, 0, time.UTC), res.Departures[0].DepartureAt)
}

func TestDateGuessing_FirstRecordLateNightRollsToTomorrow(t *testing.T) {
	now := time.Date(2024, 5, 1, 22, 30, 0, 0, time.UTC) // local hour > 21
	recs := []resultsink.Record{
		{resultsink.InfoDepartureTime: time.Date(0, 1, 1, 0, 30, 0, 0, time.UTC), resultsink.InfoTransportLine: "S1"}, // hour < 3
	}
	res := Normalize(recs, request.KindDeparture, meta(), nil, nil, time.Time{}, now)
	require.Len(t, res.Departures, 1)
	assert.Equal(t, 2024, res.Departures[0].DepartureAt.Year())
	assert.Equal(t, time.May, res.Departures[0].DepartureAt.Month())
	assert.Equal(t, 2, res.Departures[0].DepartureAt.Day())
}

func TestDateGuessing_FirstRecordEarlyMorningRollsToYesterday(t *testing.T) {
	now := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC) // local hour < 3
	recs := []resultsink.Record{
		{resultsink.InfoDepartureTime: time.Date(0, 1, 1, 23, 0, 0, 0, time.UTC), resultsink.InfoTransportLine: "S1"}, // hour > 21
	}
	res := Normalize(recs, request.KindDeparture, meta(), nil, nil, time.Time{}, now)
	require.Len(t, res.Departures, 1)
	assert.Equal(t, 30, res.Departures[0].DepartureAt.Day())
}

func TestDateGuessing_MidnightCrossingWithinBatch(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	recs := []resultsink.Record{
		{resultsink.InfoDepartureTime: time.Date(0, 1, 1, 23, 50, 0, 0, time.UTC), resultsink.InfoTransportLine: "S1"},
		{resultsink.InfoDepartureTime: time.Date(0, 1, 1, 0, 5, 0, 0, time.UTC), resultsink.InfoTransportLine: "S2"},
	}
	res := Normalize(recs, request.KindDeparture, meta(), nil, nil, time.Time{}, now)
	require.Len(t, res.Departures, 2)
	assert.Equal(t, res.Departures[0].DepartureAt.Day(), res.Departures[1].DepartureAt.Day()-1)
}

func TestDateGuessing_DatesNeedAdjustmentHintShiftsByRequestDate(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	requestDate := now.AddDate(0, 0, 3)
	recs := []resultsink.Record{
		{resultsink.InfoDepartureTime: time.Date(0, 1, 1, 8, 0, 0, 0, time.UTC), resultsink.InfoTransportLine: "S1"},
	}
	hints := map[resultsink.Hint]bool{resultsink.HintDatesNeedAdjustment: true}
	res := Normalize(recs, request.KindDeparture, meta(), nil, hints, requestDate, now)
	require.Len(t, res.Departures, 1)
	assert.Equal(t, 4, res.Departures[0].DepartureAt.Day())
}

func TestValidation_RejectsDepartureMissingTransportLine(t *testing.T) {
	recs := []resultsink.Record{
		{resultsink.InfoDepartureDateTime: time.Date(2024, 5, 1, 8, 5, 0, 0, time.UTC)},
	}
	res := Normalize(recs, request.KindDeparture, meta(), nil, nil, time.Time{}, time.Now())
	assert.Empty(t, res.Departures)
	assert.Equal(t, 1, res.Rejected)
}

func TestValidation_RejectsStopSuggestionMissingStopName(t *testing.T) {
	recs := []resultsink.Record{{resultsink.InfoStopID: "42"}}
	res := Normalize(recs, request.KindStopSuggestion, meta(), nil, nil, time.Time{}, time.Now())
	assert.Empty(t, res.StopSuggestions)
	assert.Equal(t, 1, res.Rejected)
}

func TestRouteTimes_PopulatedOnDeparture(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 8, 10, 0, 0, time.UTC)
	t2 := time.Date(2024, 5, 1, 8, 20, 0, 0, time.UTC)
	recs := []resultsink.Record{
		{
			resultsink.InfoDepartureDateTime: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
			resultsink.InfoTransportLine:      "S1",
			resultsink.InfoRouteTimes:         []any{t1, t2},
		},
	}
	res := Normalize(recs, request.KindDeparture, meta(), nil, nil, time.Time{}, time.Now())
	require.Len(t, res.Departures, 1)
	assert.Equal(t, []time.Time{t1, t2}, res.Departures[0].RouteTimes)
}

func TestRouteTimes_StringElementsParsedAsClockTimes(t *testing.T) {
	recs := []resultsink.Record{
		{
			resultsink.InfoDepartureDateTime: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
			resultsink.InfoTransportLine:      "S1",
			resultsink.InfoRouteTimes:         []any{"08:10", "08:20:30"},
		},
	}
	res := Normalize(recs, request.KindDeparture, meta(), nil, nil, time.Time{}, time.Now())
	require.Len(t, res.Departures, 1)
	require.Len(t, res.Departures[0].RouteTimes, 2)
	assert.Equal(t, 8, res.Departures[0].RouteTimes[0].Hour())
	assert.Equal(t, 10, res.Departures[0].RouteTimes[0].Minute())
	assert.Equal(t, 20, res.Departures[0].RouteTimes[1].Minute())
	assert.Equal(t, 30, res.Departures[0].RouteTimes[1].Second())
}

func TestJourneyNormalization_RequiresBothEndpoints(t *testing.T) {
	dep := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	arr := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	recs := []resultsink.Record{
		{
			resultsink.InfoDepartureDateTime: dep,
			resultsink.InfoArrivalDateTime:   arr,
			resultsink.InfoStartStopName:     "Main",
			resultsink.InfoTargetStopName:    "North",
		},
	}
	res := Normalize(recs, request.KindJourney, meta(), nil, nil, time.Time{}, time.Now())
	require.Len(t, res.Journeys, 1)
	assert.Equal(t, "Main", res.Journeys[0].StartStop)
	assert.Equal(t, "North", res.Journeys[0].TargetStop)
}

func TestJourneyNormalization_PopulatesRouteTimesAndVehicleTypes(t *testing.T) {
	dep := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	arr := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	depLeg1 := time.Date(2024, 5, 1, 8, 5, 0, 0, time.UTC)
	depLeg2 := time.Date(2024, 5, 1, 8, 35, 0, 0, time.UTC)
	arrLeg1 := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	arrLeg2 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	recs := []resultsink.Record{
		{
			resultsink.InfoDepartureDateTime:        dep,
			resultsink.InfoArrivalDateTime:           arr,
			resultsink.InfoStartStopName:             "Main",
			resultsink.InfoTargetStopName:            "North",
			resultsink.InfoRouteTimesDeparture:       []any{depLeg1, depLeg2},
			resultsink.InfoRouteTimesArrival:         []any{arrLeg1, arrLeg2},
			resultsink.InfoRouteTimesDepartureDelay:  []any{0, 2},
			resultsink.InfoRouteTimesArrivalDelay:    []any{1, 0},
			resultsink.InfoRouteTypesOfVehicles:      []any{"Bus", "Tram"},
		},
	}
	res := Normalize(recs, request.KindJourney, meta(), nil, nil, time.Time{}, time.Now())
	require.Len(t, res.Journeys, 1)
	j := res.Journeys[0]
	assert.Equal(t, []time.Time{depLeg1, depLeg2}, j.RouteTimesDeparture)
	assert.Equal(t, []time.Time{arrLeg1, arrLeg2}, j.RouteTimesArrival)
	assert.Equal(t, []int32{0, 2}, j.RouteDelaysDeparture)
	assert.Equal(t, []int32{1, 0}, j.RouteDelaysArrival)
	assert.Equal(t, []timetable.VehicleType{timetable.Bus, timetable.Tram}, j.RouteVehicleTypes)
}

func TestCityAffixRemoval_HighThresholdPrefersLastWord(t *testing.T) {
	recs := make([]resultsink.Record, 0, 31)
	for i := 0; i < 31; i++ {
		recs = append(recs, resultsink.Record{
			resultsink.InfoDepartureDateTime: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
			resultsink.InfoTransportLine:      "S1",
			resultsink.InfoTarget:              "North Munich",
		})
	}
	features := map[resultsink.Feature]bool{resultsink.FeatureAutoRemoveCityFromStopNames: true}
	res := Normalize(recs, request.KindDeparture, meta(), features, nil, time.Time{}, time.Now())
	require.Len(t, res.Departures, 31)
	assert.Equal(t, "North", res.Departures[0].TargetShortened)
}

func TestCityAffixRemoval_BelowLowThresholdLeavesTargetUnshortened(t *testing.T) {
	recs := []resultsink.Record{
		{
			resultsink.InfoDepartureDateTime: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
			resultsink.InfoTransportLine:      "S1",
			resultsink.InfoTarget:              "North Munich",
		},
	}
	features := map[resultsink.Feature]bool{resultsink.FeatureAutoRemoveCityFromStopNames: true}
	res := Normalize(recs, request.KindDeparture, meta(), features, nil, time.Time{}, time.Now())
	require.Len(t, res.Departures, 1)
	assert.Empty(t, res.Departures[0].TargetShortened)
}
