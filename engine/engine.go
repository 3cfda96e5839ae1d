// Package engine ties the subsystems together behind the top-level
// Engine facade: it loads provider plugins (§4.13/§6), runs queries
// through the job scheduler (§4.8), and republishes the scheduler's
// completion events through the filter/alarm pipeline (§4.10) and the
// batched publication processor (§4.11) to whatever external observers
// register.
//
// Grounded on the teacher's Engine facade (engine/_teacher_engine.go):
// the constructor wires every subsystem behind one struct, exposes
// Start/Stop/Snapshot, and notifies external callers through a
// RegisterEventObserver/dispatchEvent pair instead of requiring callers
// to poll. The teacher's crawl-pipeline stages (discovery/extraction/
// processing/output workers, rate limiter, resource manager, asset
// strategy) have no equivalent in this domain and are replaced by
// C1-C13's components (DESIGN.md, Ambient stack).
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/trace"

	"github.com/publictransport/ptengine/engine/capability"
	"github.com/publictransport/ptengine/engine/filter"
	"github.com/publictransport/ptengine/engine/metrics"
	"github.com/publictransport/ptengine/engine/network"
	"github.com/publictransport/ptengine/engine/provider"
	"github.com/publictransport/ptengine/engine/publish"
	"github.com/publictransport/ptengine/engine/request"
	"github.com/publictransport/ptengine/engine/resultsink"
	"github.com/publictransport/ptengine/engine/scheduler"
	"github.com/publictransport/ptengine/engine/scripthost"
	"github.com/publictransport/ptengine/engine/storage"
	"github.com/publictransport/ptengine/engine/telemetry/logging"
	"github.com/publictransport/ptengine/engine/telemetry/tracing"
	"github.com/publictransport/ptengine/engine/timetable"
)

// TelemetryEvent is the reduced, stable event shape external observers
// receive, mirroring the teacher's own TelemetryEvent (engine/_teacher_engine.go)
// but carrying this domain's payloads (batches of records) rather than
// crawl-result counters.
type TelemetryEvent struct {
	Time     time.Time
	Category string // "departures" | "arrivals" | "journeys" | "stop_suggestions" | "additional_data" | "departures_filtered" | "error"
	Source   string
	Message  string
	URL      string
	Updated  bool

	Departures      []*timetable.Departure
	Journeys        []*timetable.Journey
	StopSuggestions []*timetable.StopSuggestion
}

// EventObserver receives every TelemetryEvent synchronously, in
// dispatch order, the way the teacher's EventObserver does.
type EventObserver func(TelemetryEvent)

// sourceState tracks what a source's departures pipeline needs to
// re-filter on a settings change (§4.11's FilterDepartures job): the
// full accumulated record list plus a hash set of what is currently
// considered visible.
type sourceState struct {
	all   []*timetable.Departure
	shown map[uint64]struct{}
}

// Engine is the top-level facade wiring C1-C13 together.
type Engine struct {
	cfg Config

	providers map[string]*provider.Metadata
	scripts   map[string]string
	stores    map[string]*storage.Storage

	scheduler *scheduler.Scheduler
	capCache  *capability.Cache
	publisher *publish.Processor
	metrics   *metrics.Registry
	watcher   *fsnotify.Watcher

	tracer trace.Tracer
	logger logging.Logger

	settingsMu sync.RWMutex
	settings   filter.Settings
	alarms     []*filter.Alarm

	stateMu sync.Mutex
	states  map[string]*sourceState

	obsMu     sync.Mutex
	observers []EventObserver
}

// New builds an Engine from cfg: loads every provider under
// cfg.ProviderDir, then constructs the scheduler, capability cache and
// publication processor wired to this Engine as their subscriber.
func New(cfg Config) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		providers: make(map[string]*provider.Metadata),
		scripts:   make(map[string]string),
		stores:    make(map[string]*storage.Storage),
		states:    make(map[string]*sourceState),
		logger:    logging.New(nil),
	}
	e.tracer = tracing.New(cfg.ServiceName, cfg.TracingEnabled)

	if err := e.loadProviders(); err != nil {
		return nil, err
	}

	if cfg.MetricsEnabled {
		e.metrics = metrics.New()
	}

	schedOpts := []scheduler.Option{scheduler.WithTracer(e.tracer)}
	if cfg.Watchdog > 0 {
		schedOpts = append(schedOpts, scheduler.WithWatchdog(cfg.Watchdog))
	}
	if e.metrics != nil {
		schedOpts = append(schedOpts, scheduler.WithMetrics(e.metrics.Scheduler))
	}
	e.scheduler = scheduler.New(cfg.SchedulerWorkers, e, schedOpts...)

	var capOpts []capability.Option
	if cfg.WatchProviderFiles {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("engine: creating provider file watcher: %w", err)
		}
		e.watcher = w
		capOpts = append(capOpts, capability.WithWatcher(w))
	}
	e.capCache = capability.New(capOpts...)

	e.publisher = publish.NewProcessor(e)

	return e, nil
}

// loadProviders scans cfg.ProviderDir for one manifest (*.xml) per
// provider, parses it, reads its script file, and allocates a
// long-lived Storage instance (§4.3: storage is shared across every job
// of one provider, never recreated).
func (e *Engine) loadProviders() error {
	paths, err := filepath.Glob(filepath.Join(e.cfg.ProviderDir, "*.xml"))
	if err != nil {
		return fmt.Errorf("engine: scanning provider directory %q: %w", e.cfg.ProviderDir, err)
	}
	for _, path := range paths {
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		f, err := os.Open(path)
		if err != nil {
			return &LoadError{ProviderID: id, Err: err}
		}
		meta, err := provider.ParseManifest(f, id, filepath.Dir(path))
		f.Close()
		if err != nil {
			return &LoadError{ProviderID: id, Err: err}
		}

		script, err := os.ReadFile(meta.ScriptPath)
		if err != nil {
			return &LoadError{ProviderID: id, Err: err}
		}

		e.providers[id] = meta
		e.scripts[id] = string(script)
		e.stores[id] = storage.New()
	}
	return nil
}

// ProviderIDs returns every loaded provider's id.
func (e *Engine) ProviderIDs() []string {
	ids := make([]string, 0, len(e.providers))
	for id := range e.providers {
		ids = append(ids, id)
	}
	return ids
}

// Provider returns the metadata for id, if loaded.
func (e *Engine) Provider(id string) (*provider.Metadata, bool) {
	m, ok := e.providers[id]
	return m, ok
}

func (e *Engine) providerJob(id string) (scheduler.ProviderJob, error) {
	meta, ok := e.providers[id]
	if !ok {
		return scheduler.ProviderJob{}, &LoadError{ProviderID: id, Err: errors.New("unknown provider")}
	}
	return scheduler.ProviderJob{Meta: meta, Script: e.scripts[id], Store: e.stores[id]}, nil
}

func (e *Engine) submit(ctx context.Context, providerID string, req *request.Request) error {
	pj, err := e.providerJob(providerID)
	if err != nil {
		return err
	}
	_, err = e.scheduler.Submit(ctx, pj, req)
	return err
}

// GetDepartures submits a departures query (§4.1).
func (e *Engine) GetDepartures(ctx context.Context, providerID string, stop request.StopRef, dt time.Time, maxCount int, city string) error {
	return e.submit(ctx, providerID, request.NewDeparture(providerID, stop, dt, maxCount, city))
}

// GetArrivals submits an arrivals query (§4.1).
func (e *Engine) GetArrivals(ctx context.Context, providerID string, stop request.StopRef, dt time.Time, maxCount int, city string) error {
	return e.submit(ctx, providerID, request.NewArrival(providerID, stop, dt, maxCount, city))
}

// GetJourneys submits a journey search (§4.1).
func (e *Engine) GetJourneys(ctx context.Context, providerID string, origin, target request.StopRef, dt time.Time, maxCount int, urlToUse, city string) error {
	return e.submit(ctx, providerID, request.NewJourney(providerID, origin, target, dt, maxCount, urlToUse, city))
}

// GetStopSuggestions submits a stop-name autocompletion query (§4.1).
func (e *Engine) GetStopSuggestions(ctx context.Context, providerID, prefix, city string, maxCount int) error {
	return e.submit(ctx, providerID, request.NewStopSuggestion(providerID, prefix, city, maxCount))
}

// GetStopsByGeoPosition submits a nearby-stops query (SPEC_FULL §C).
func (e *Engine) GetStopsByGeoPosition(ctx context.Context, providerID string, lon, lat, distance float64, maxCount int) error {
	return e.submit(ctx, providerID, request.NewStopByGeoPosition(providerID, lon, lat, distance, maxCount))
}

// GetAdditionalData submits a secondary fetch augmenting an existing
// record (§4.1).
func (e *Engine) GetAdditionalData(ctx context.Context, providerID, transportLine, target string, dt time.Time, routeDataURL string) error {
	return e.submit(ctx, providerID, request.NewAdditionalData(providerID, transportLine, target, dt, routeDataURL))
}

// GetMoreItems re-submits req asking for items before/after what was
// already returned (§4.1).
func (e *Engine) GetMoreItems(ctx context.Context, providerID string, req *request.Request, dir request.Direction) error {
	return e.submit(ctx, providerID, request.NewMoreItems(req, dir))
}

// HasInFlightJob reports whether a job for source is currently running (§4.8).
func (e *Engine) HasInFlightJob(source string) bool { return e.scheduler.HasInFlightJob(source) }

// AbortPublishing drops queued publication jobs of the given kinds and
// aborts a currently running one after its in-flight batch (§4.11).
func (e *Engine) AbortPublishing(kinds ...publish.Kind) { e.publisher.AbortJobs(kinds...) }

// UpdateFilterSettings swaps the active filter/alarm configuration and
// re-filters every source's already-delivered departures against it
// (§4.10, §4.11, §5 "Shared resources").
func (e *Engine) UpdateFilterSettings(settings filter.Settings, alarms []*filter.Alarm) {
	e.settingsMu.Lock()
	e.settings = settings
	e.alarms = alarms
	e.settingsMu.Unlock()

	e.publisher.UpdateSettings(settings, alarms)

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	for source, st := range e.states {
		shown := make(map[uint64]struct{}, len(st.shown))
		for h := range st.shown {
			shown[h] = struct{}{}
		}
		e.publisher.Enqueue(&publish.Job{
			Kind:            publish.FilterDepartures,
			Source:          source,
			Departures:      st.all,
			ShownDepartures: shown,
		})
	}
}

// Capabilities returns id's feature-capability entry (§4.12), running
// discovery in a throwaway sandbox if the cached entry is stale or absent.
func (e *Engine) Capabilities(id string) (*capability.Entry, error) {
	meta, ok := e.providers[id]
	if !ok {
		return nil, &LoadError{ProviderID: id, Err: errors.New("unknown provider")}
	}
	if e.capCache.Valid(id, meta) {
		entry, _ := e.capCache.Get(id)
		return entry, nil
	}
	return e.capCache.Discover(id, meta, e.sandboxFor(id))
}

// DiscoverCapabilities refreshes every stale provider's capability entry
// concurrently (§4.12's bulk-reload fan-out).
func (e *Engine) DiscoverCapabilities() error {
	return e.capCache.DiscoverAll(e.providers, e.sandboxFor)
}

func (e *Engine) sandboxFor(id string) capability.Sandbox {
	return func() (*scripthost.Host, error) {
		meta := e.providers[id]
		host, err := scripthost.New(meta, storage.New(), network.NewClient(meta.FallbackCharset, network.NopEventSink{}), resultsink.New(nil), scripthost.WithTracer(e.tracer))
		if err != nil {
			return nil, err
		}
		if err := host.Load(e.scripts[id]); err != nil {
			host.Close()
			return nil, err
		}
		return host, nil
	}
}

// RegisterEventObserver adds obs to the set notified by every dispatched
// TelemetryEvent, in registration order.
func (e *Engine) RegisterEventObserver(obs EventObserver) {
	e.obsMu.Lock()
	e.observers = append(e.observers, obs)
	e.obsMu.Unlock()
}

func (e *Engine) dispatch(ev TelemetryEvent) {
	e.obsMu.Lock()
	obs := append([]EventObserver(nil), e.observers...)
	e.obsMu.Unlock()
	for _, o := range obs {
		o(ev)
	}
}

// OnJobStarted implements scheduler.Subscriber.
func (e *Engine) OnJobStarted(source, jobID string) {
	e.logger.InfoCtx(context.Background(), "job started", "source", source, "job_id", jobID)
}

// OnReady implements scheduler.Subscriber: departures/arrivals and
// journeys are routed into the publication pipeline (§4.10/§4.11);
// stop-suggestion and additional-data events have no filter/alarm or
// batching concept and go straight to observers.
func (e *Engine) OnReady(ev scheduler.ReadyEvent) {
	source := ev.Request.SourceName
	switch ev.Kind {
	case scheduler.DeparturesReady, scheduler.ArrivalsReady:
		e.publisher.Enqueue(&publish.Job{
			Kind:       publish.ProcessDepartures,
			Source:     source,
			URL:        ev.FinalURL,
			Updated:    ev.CouldNeedForcedUpdate,
			Departures: ev.Departures,
		})
	case scheduler.JourneysReady:
		e.publisher.Enqueue(&publish.Job{
			Kind:     publish.ProcessJourneys,
			Source:   source,
			URL:      ev.FinalURL,
			Updated:  ev.CouldNeedForcedUpdate,
			Journeys: ev.Journeys,
		})
	case scheduler.StopSuggestionsReady:
		e.dispatch(TelemetryEvent{Time: time.Now(), Category: "stop_suggestions", Source: source, StopSuggestions: ev.StopSuggestions, URL: ev.FinalURL})
	case scheduler.AdditionalDataReady:
		e.dispatch(TelemetryEvent{Time: time.Now(), Category: "additional_data", Source: source, URL: ev.FinalURL})
	}
}

// OnErrorParsing implements scheduler.Subscriber, translating the
// scheduler's taxonomy-agnostic ErrorEvent into the typed §7 error that
// applies, where one is identifiable.
func (e *Engine) OnErrorParsing(ev scheduler.ErrorEvent) {
	source := ""
	if ev.Request != nil {
		source = ev.Request.SourceName
	}
	msg := ev.Message
	if errors.Is(ev.Err, scheduler.ErrParseFailed) {
		msg = (&ParseFailedError{ProviderID: ev.ProviderID, Request: ev.Request, LastURL: ev.FailingURL}).Error()
	}
	e.dispatch(TelemetryEvent{Time: time.Now(), Category: "error", Source: source, Message: msg, URL: ev.FailingURL})
}

// OnDeparturesProcessed implements publish.Subscriber: it records the
// batch into the source's accumulated state (for a later
// UpdateFilterSettings re-filter pass) and notifies observers.
func (e *Engine) OnDeparturesProcessed(source string, batch []*timetable.Departure, url string, updated bool) {
	e.recordDepartures(source, batch)
	e.dispatch(TelemetryEvent{Time: time.Now(), Category: "departures", Source: source, Departures: batch, URL: url, Updated: updated})
}

// OnJourneysProcessed implements publish.Subscriber.
func (e *Engine) OnJourneysProcessed(source string, batch []*timetable.Journey, url string, updated bool) {
	e.dispatch(TelemetryEvent{Time: time.Now(), Category: "journeys", Source: source, Journeys: batch, URL: url, Updated: updated})
}

// OnDeparturesFiltered implements publish.Subscriber.
func (e *Engine) OnDeparturesFiltered(source string, all, newlyFiltered, newlyNotFiltered []*timetable.Departure) {
	e.dispatch(TelemetryEvent{Time: time.Now(), Category: "departures_filtered", Source: source, Departures: all})
}

func (e *Engine) recordDepartures(source string, batch []*timetable.Departure) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	st, ok := e.states[source]
	if !ok {
		st = &sourceState{shown: make(map[uint64]struct{})}
		e.states[source] = st
	}
	st.all = append(st.all, batch...)
	for _, d := range batch {
		h := d.Hash()
		if d.FilteredOut {
			delete(st.shown, h)
		} else {
			st.shown[h] = struct{}{}
		}
	}
}

// Snapshot is a point-in-time summary of engine state, mirroring the
// teacher's Snapshot (engine/_teacher_engine.go).
type Snapshot struct {
	Generated     time.Time
	ProviderCount int
	TrackedSources int
}

// Snapshot returns the current Snapshot.
func (e *Engine) Snapshot() Snapshot {
	e.stateMu.Lock()
	tracked := len(e.states)
	e.stateMu.Unlock()
	return Snapshot{Generated: time.Now(), ProviderCount: len(e.providers), TrackedSources: tracked}
}

// MetricsHandler returns the prometheus exposition handler, or nil if
// metrics are disabled.
func (e *Engine) MetricsHandler() http.Handler {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.Handler()
}

// Start runs an initial capability discovery pass across every loaded
// provider (§4.12) so the first query against any of them does not pay
// the sandbox cost inline.
func (e *Engine) Start(ctx context.Context) error {
	return e.DiscoverCapabilities()
}

// Stop drains the publication processor, waits for in-flight scheduler
// jobs, and closes the provider file watcher, if any.
func (e *Engine) Stop() error {
	e.publisher.Stop()
	e.scheduler.Wait()
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}
