// Package publish implements §4.11: a background processor that turns a
// normalized, filtered record list into a stream of fixed-size batch
// events, with abort and settings-change requeue semantics per worker.
//
// Grounded on engine/_teacher_internal/pipeline/pipeline.go's worker loop
// shape (a goroutine draining a queue under a stage WaitGroup) and its
// scheduleRetry/enqueueExtraction re-submission pattern, generalized from
// a fixed four-stage crawl pipeline to the three job kinds of §4.11; the
// single current-job-in-flight model and its abort/requeue flags are new
// to this domain (the original engine keeps this state on the one
// ScriptJobThread running a ProcessDepartures job at a time).
package publish

import (
	"sync"

	"github.com/publictransport/ptengine/engine/filter"
	"github.com/publictransport/ptengine/engine/timetable"
)

// Kind selects what a Job does (§4.11).
type Kind int

const (
	ProcessDepartures Kind = iota
	ProcessJourneys
	FilterDepartures
)

// Job is one unit of publication work. Departures/Journeys/ShownDeparture
// are populated depending on Kind; AlreadyProcessed is the resume index
// set by a prior requeue.
type Job struct {
	Kind   Kind
	Source string
	URL    string
	// Updated carries through to each batch event unchanged; callers set
	// it from the scheduler's CouldNeedForcedUpdate (or false for a
	// settings-only reprocessing pass with no new network data).
	Updated bool

	Departures []*timetable.Departure // ProcessDepartures, FilterDepartures
	Journeys   []*timetable.Journey   // ProcessJourneys

	// ShownDepartures is the caller-supplied hash set of records the
	// subscriber currently considers visible, used by FilterDepartures
	// to compute newly_filtered/newly_not_filtered.
	ShownDepartures map[uint64]struct{}

	AlreadyProcessed int

	mu      sync.Mutex
	abort   bool
	requeue bool
}

func (j *Job) setAbort() {
	j.mu.Lock()
	j.abort = true
	j.mu.Unlock()
}

func (j *Job) setRequeue() {
	j.mu.Lock()
	j.requeue = true
	j.mu.Unlock()
}

func (j *Job) flags() (abort, requeue bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.abort, j.requeue
}

// Subscriber receives the batch events of §4.11.
type Subscriber interface {
	// OnDeparturesProcessed fires every 10 departures/arrivals produced
	// by a ProcessDepartures job (the distilled spec's
	// departures_processed(source, batch, url, updated) event).
	OnDeparturesProcessed(source string, batch []*timetable.Departure, url string, updated bool)
	// OnJourneysProcessed is departures_processed's Journey counterpart,
	// firing every 3 journeys produced by a ProcessJourneys job.
	OnJourneysProcessed(source string, batch []*timetable.Journey, url string, updated bool)
	// OnDeparturesFiltered fires once per FilterDepartures job.
	OnDeparturesFiltered(source string, all, newlyFiltered, newlyNotFiltered []*timetable.Departure)
}

// NopSubscriber discards every event.
type NopSubscriber struct{}

func (NopSubscriber) OnDeparturesProcessed(string, []*timetable.Departure, string, bool) {}
func (NopSubscriber) OnJourneysProcessed(string, []*timetable.Journey, string, bool)      {}
func (NopSubscriber) OnDeparturesFiltered(string, []*timetable.Departure, []*timetable.Departure, []*timetable.Departure) {
}

// settingsSnapshot is what a running job needs from the pipeline's
// filter/alarm configuration, copied out under lock once per job so the
// worker never holds the Processor's settings lock while iterating.
type settingsSnapshot struct {
	filters filter.Settings
	alarms  []*filter.Alarm
}
