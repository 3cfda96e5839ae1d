package timetable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineNumber(t *testing.T) {
	cases := []struct {
		line string
		want int
	}{
		{"ICE 728", 728},
		{"S1", 1},
		{"N", 0},
		{"", 0},
	}
	for _, c := range cases {
		d := &Departure{LineString: c.line}
		assert.Equal(t, c.want, d.LineNumber(), "line=%q", c.line)
	}
}

func TestPredictedDeparture(t *testing.T) {
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	onTime := &Departure{DepartureAt: base, DelayMinutes: 0}
	assert.Equal(t, base, onTime.PredictedDeparture())

	unknown := &Departure{DepartureAt: base, DelayMinutes: -1}
	assert.Equal(t, base, unknown.PredictedDeparture())

	delayed := &Departure{DepartureAt: base, DelayMinutes: 12}
	assert.Equal(t, base.Add(12*time.Minute), delayed.PredictedDeparture())
	assert.True(t, delayed.PredictedDeparture().After(delayed.DepartureAt) || delayed.PredictedDeparture().Equal(delayed.DepartureAt))
}

func TestParseVehicleType(t *testing.T) {
	vt, ok := ParseVehicleType("interurbantrain")
	require.True(t, ok)
	assert.Equal(t, TrainInterurban, vt)

	_, ok = ParseVehicleType("spaceship")
	assert.False(t, ok)
}

func TestDepartureHashStable(t *testing.T) {
	base := time.Date(2024, 5, 1, 8, 5, 0, 0, time.UTC)
	a := &Departure{DepartureAt: base, VehicleType: Tram, LineString: "S1", Target: " North  "}
	b := &Departure{DepartureAt: base, VehicleType: Tram, LineString: "S1", Target: "north"}
	assert.Equal(t, a.Hash(), b.Hash())

	c := &Departure{DepartureAt: base, VehicleType: Bus, LineString: "S1", Target: "north"}
	assert.NotEqual(t, a.Hash(), c.Hash())
}
