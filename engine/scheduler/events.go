package scheduler

import (
	"time"

	"github.com/publictransport/ptengine/engine/request"
	"github.com/publictransport/ptengine/engine/resultsink"
	"github.com/publictransport/ptengine/engine/timetable"
)

// EventKind names the five completion events of §4.8; the failure event
// is delivered separately as an ErrorEvent.
type EventKind string

const (
	DeparturesReady      EventKind = "departures_ready"
	ArrivalsReady        EventKind = "arrivals_ready"
	JourneysReady        EventKind = "journeys_ready"
	StopSuggestionsReady EventKind = "stop_suggestions_ready"
	AdditionalDataReady  EventKind = "additional_data_ready"
)

// GlobalInfo is the per-job context the normalizer's date adjustment and
// the NoDelaysForStop hint consult, grounded on the original engine's
// GlobalTimetableInfo (original_source/engine/script_thread.cpp).
type GlobalInfo struct {
	RequestDate        time.Time
	DelayInfoAvailable bool
}

// ReadyEvent is the payload of a completion event: §4.8's
// (records, features, hints, final_url, global_info, request,
// could_need_forced_update) tuple, with records split by type since Go
// has no record union.
type ReadyEvent struct {
	Kind EventKind

	Departures      []*timetable.Departure
	Journeys        []*timetable.Journey
	StopSuggestions []*timetable.StopSuggestion

	Features   map[resultsink.Feature]bool
	Hints      map[resultsink.Hint]bool
	FinalURL   string
	GlobalInfo GlobalInfo
	Request    *request.Request

	// CouldNeedForcedUpdate is published > 0 ∧ more records arrived (§4.8).
	CouldNeedForcedUpdate bool
}

// ErrorEvent is error_parsing(kind, message, failing_url, request) (§4.8).
type ErrorEvent struct {
	Kind       request.Kind
	Message    string
	FailingURL string
	Request    *request.Request

	// ProviderID and Err let a subscriber build a typed §7 error; Err is
	// nil for failures the scheduler only has a plain message for.
	ProviderID string
	Err        error
}

// Subscriber receives a job's lifecycle events. JobID is the scheduler's
// internal identifier, used only for logs/traces/metrics correlation.
type Subscriber interface {
	OnJobStarted(sourceName, jobID string)
	OnReady(ev ReadyEvent)
	OnErrorParsing(ev ErrorEvent)
}

// NopSubscriber discards every event.
type NopSubscriber struct{}

func (NopSubscriber) OnJobStarted(string, string)  {}
func (NopSubscriber) OnReady(ReadyEvent)           {}
func (NopSubscriber) OnErrorParsing(ErrorEvent)    {}
