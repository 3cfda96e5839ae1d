package resultsink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEvents struct {
	invalid  []string
	published int
}

func (r *recordingEvents) OnInvalidDataReceived(key string) { r.invalid = append(r.invalid, key) }
func (r *recordingEvents) OnPublish()                       { r.published++ }

func TestAddData_UnknownKeyDropped(t *testing.T) {
	ev := &recordingEvents{}
	s := New(ev)
	s.AddData(map[string]any{"NotARealField": "x"})
	// The record is still appended; only its unknown key is dropped.
	assert.Equal(t, 1, s.Count())
	require.Len(t, ev.invalid, 1)
	assert.Equal(t, "NotARealField", ev.invalid[0])
}

func TestAddData_CaseInsensitiveKeyMatch(t *testing.T) {
	ev := &recordingEvents{}
	s := New(ev)
	s.AddData(map[string]any{"stopname": "Hauptbahnhof"})
	require.Equal(t, 1, s.Count())
	rec := s.Data()[0]
	assert.Equal(t, "Hauptbahnhof", rec[InfoStopName])
}

func TestAddData_HTMLDecodeOnIngestion(t *testing.T) {
	ev := &recordingEvents{}
	s := New(ev)
	s.AddData(map[string]any{"Target": "  M&uuml;nchen Hbf  "})
	rec := s.Data()[0]
	assert.Equal(t, "München Hbf", rec[InfoTarget])
}

func TestAddData_HTMLDecodeDisabled(t *testing.T) {
	ev := &recordingEvents{}
	s := New(ev)
	s.EnableFeature(FeatureAutoDecodeHtmlEntities, false)
	s.AddData(map[string]any{"Target": "  M&uuml;nchen  "})
	rec := s.Data()[0]
	assert.Equal(t, "  M&uuml;nchen  ", rec[InfoTarget])
}

func TestAddData_InvalidVehicleType(t *testing.T) {
	ev := &recordingEvents{}
	s := New(ev)
	s.AddData(map[string]any{"TypeOfVehicle": "not-a-vehicle"})
	require.Len(t, ev.invalid, 1)
	assert.Equal(t, "TypeOfVehicle", ev.invalid[0])
}

func TestAddData_ValidVehicleTypeNoEvent(t *testing.T) {
	ev := &recordingEvents{}
	s := New(ev)
	s.AddData(map[string]any{"TypeOfVehicle": "Bus"})
	assert.Empty(t, ev.invalid)
}

func TestAddData_AutoPublishAtTen(t *testing.T) {
	ev := &recordingEvents{}
	s := New(ev)
	for i := 0; i < 9; i++ {
		s.AddData(map[string]any{"StopName": "x"})
	}
	assert.Equal(t, 0, ev.published)
	s.AddData(map[string]any{"StopName": "x"})
	assert.Equal(t, 1, ev.published)
	s.AddData(map[string]any{"StopName": "x"})
	assert.Equal(t, 1, ev.published, "publish fires only the first time the buffer reaches 10")
}

func TestGiveHint_CityNamesMutualExclusion(t *testing.T) {
	s := New(nil)
	s.GiveHint(HintCityNamesAreLeft, true)
	assert.True(t, s.IsHintGiven(HintCityNamesAreLeft))

	s.GiveHint(HintCityNamesAreRight, true)
	assert.True(t, s.IsHintGiven(HintCityNamesAreRight))
	assert.False(t, s.IsHintGiven(HintCityNamesAreLeft))
}

func TestClear(t *testing.T) {
	s := New(nil)
	s.AddData(map[string]any{"StopName": "x"})
	s.Clear()
	assert.Equal(t, 0, s.Count())
}
