package filter

import (
	"time"

	"github.com/publictransport/ptengine/engine/timetable"
)

// AlarmType selects what happens to an Alarm once it has fired (§3).
type AlarmType int

const (
	RemoveAfterFirstMatch AlarmType = iota
	Recurring
)

// Alarm is a named, filter-driven notification rule (§3). Identity is by
// Name, which must be non-empty and must not contain "*" or "&" (shared
// with FilterSettings.Name's naming rule, enforced by the settings loader
// rather than here).
type Alarm struct {
	Name          string
	Type          AlarmType
	Enabled       bool
	AffectedStops map[int]struct{}
	Filter        Filter
	LastFired     *time.Time
	AutoGenerated bool
}

// ApplyToDeparture evaluates every enabled alarm against d and appends the
// index of each match to d.MatchedAlarms, firing RemoveAfterFirstMatch
// alarms (disabling them and stamping LastFired) exactly once (§4.10:
// "iterates enabled alarms and appends their indices into matched_alarms").
func ApplyToDeparture(alarms []*Alarm, d *timetable.Departure, now time.Time) {
	fields := FieldsFromDeparture(d)
	d.MatchedAlarms = append(d.MatchedAlarms, matchAlarms(alarms, fields, now)...)
}

// ApplyToJourney is ApplyToDeparture's Journey counterpart.
func ApplyToJourney(alarms []*Alarm, j *timetable.Journey, now time.Time) {
	fields := FieldsFromJourney(j)
	j.MatchedAlarms = append(j.MatchedAlarms, matchAlarms(alarms, fields, now)...)
}

func matchAlarms(alarms []*Alarm, fields Fields, now time.Time) []int {
	var matched []int
	for i, a := range alarms {
		if a == nil || !a.Enabled || !a.Filter.Match(fields) {
			continue
		}
		matched = append(matched, i)
		fired := now
		a.LastFired = &fired
		if a.Type == RemoveAfterFirstMatch {
			a.Enabled = false
		}
	}
	return matched
}
