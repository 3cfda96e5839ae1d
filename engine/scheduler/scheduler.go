// Package scheduler implements §4.8: a bounded worker pool that runs one
// ScriptJob per request, rejects a second live job on the same source
// name, and emits the five typed completion events (or a failure event)
// once a job's plugin invocation and its network quiescence wait finish.
//
// Grounded on engine/_teacher_internal/pipeline/pipeline.go's worker-pool
// shape — a fixed-size pool of goroutines draining a channel, a
// sync.WaitGroup for shutdown, one context.CancelFunc per run — collapsed
// from its four chained stages to the single bounded pool of plugin
// invocations §C8 calls for (DESIGN.md, C8).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/publictransport/ptengine/engine/network"
	"github.com/publictransport/ptengine/engine/normalizer"
	"github.com/publictransport/ptengine/engine/provider"
	"github.com/publictransport/ptengine/engine/request"
	"github.com/publictransport/ptengine/engine/resultsink"
	"github.com/publictransport/ptengine/engine/scripthost"
	"github.com/publictransport/ptengine/engine/storage"
)

// ErrJobAlreadyRunning is wrapped into Submit's error when a job for the
// same source name is already in flight (§4.8: "at-most-one in flight
// per source").
var ErrJobAlreadyRunning = errors.New("scheduler: job already running for this source")

// ErrParseFailed marks a job that invoked its plugin successfully but
// produced no usable departure/arrival/journey record, §7's ParseFailed
// taxonomy entry ("error_parsing(ParsingFailed, \"parse failed\", url, request)").
var ErrParseFailed = errors.New("scheduler: job produced no usable records")

// ProviderJob bundles what one job needs from its owning provider: the
// script text to load, the provider's long-lived (cross-job) storage,
// and its metadata. Store is shared across every job for the same
// provider; Script/Meta/ReadFile are read-only per job.
type ProviderJob struct {
	Meta     *provider.Metadata
	Script   string
	Store    *storage.Storage
	ReadFile func(string) ([]byte, error) // nil uses os.ReadFile
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithWatchdog overrides the quiescence wait's restart interval
// (default 30s, per §4.7 step 9).
func WithWatchdog(d time.Duration) Option {
	return func(s *Scheduler) { s.watchdog = d }
}

// WithTracer attaches an OpenTelemetry tracer; each job gets its own span.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// WithMetrics attaches a Metrics recorder (default: a recorder whose
// collectors are not registered on any registry).
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler is the bounded job pool of §4.8.
type Scheduler struct {
	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]bool
	published map[string]int

	sub      Subscriber
	watchdog time.Duration
	tracer   trace.Tracer
	metrics  *Metrics
}

// New creates a Scheduler with the given worker-pool size.
func New(workers int, sub Subscriber, opts ...Option) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if sub == nil {
		sub = NopSubscriber{}
	}
	s := &Scheduler{
		sem:       make(chan struct{}, workers),
		inFlight:  make(map[string]bool),
		published: make(map[string]int),
		sub:       sub,
		watchdog:  30 * time.Second,
		metrics:   newMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit enqueues one job for req against pj's provider. It blocks until
// a worker slot is free or ctx is done, but returns immediately (job_started)
// once the slot is claimed; the job itself runs asynchronously.
//
// At-most-one-in-flight is checked and claimed atomically with respect to
// other Submit calls for the same source name, per §4.8.
func (s *Scheduler) Submit(ctx context.Context, pj ProviderJob, req *request.Request) (string, error) {
	s.mu.Lock()
	if s.inFlight[req.SourceName] {
		s.mu.Unlock()
		return "", fmt.Errorf("scheduler: source %q: %w", req.SourceName, ErrJobAlreadyRunning)
	}
	s.inFlight[req.SourceName] = true
	s.mu.Unlock()

	jobID := uuid.NewString()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.clearInFlight(req.SourceName)
		return "", ctx.Err()
	}

	s.sub.OnJobStarted(req.SourceName, jobID)
	s.metrics.observeJobStarted()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		defer s.clearInFlight(req.SourceName)
		s.runJob(ctx, jobID, pj, req)
	}()
	return jobID, nil
}

func (s *Scheduler) clearInFlight(sourceName string) {
	s.mu.Lock()
	delete(s.inFlight, sourceName)
	s.mu.Unlock()
}

// HasInFlightJob reports whether a job for sourceName is currently running.
func (s *Scheduler) HasInFlightJob(sourceName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[sourceName]
}

// Wait blocks until every submitted job has finished; used by tests and
// by graceful-shutdown callers.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) runJob(ctx context.Context, jobID string, pj ProviderJob, req *request.Request) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "scheduler.job."+req.EffectiveKind().String())
		defer span.End()
	}
	start := time.Now()
	defer func() { s.metrics.observeJobDuration(time.Since(start)) }()

	quiesce := newQuiescenceSink()
	netClient := network.NewClient(pj.Meta.FallbackCharset, quiesce)
	sink := resultsink.New(nil)

	var hostOpts []scripthost.Option
	if pj.ReadFile != nil {
		hostOpts = append(hostOpts, scripthost.WithReadFile(pj.ReadFile))
	}

	host, err := scripthost.New(pj.Meta, pj.Store, netClient, sink, hostOpts...)
	if err != nil {
		s.emitError(req, pj.Meta.ID, "", err)
		return
	}
	defer host.Close()

	if err := host.Load(pj.Script); err != nil {
		s.emitError(req, pj.Meta.ID, "", err)
		return
	}

	if err := host.Invoke(ctx, req); err != nil {
		s.emitError(req, pj.Meta.ID, netClient.LastRequestedURL(), err)
		return
	}

	waitQuiescent(netClient, quiesce.wake, s.watchdog)

	s.emitReady(req, pj.Meta, sink, netClient.LastRequestedURL())
}

func (s *Scheduler) emitError(req *request.Request, providerID, failingURL string, err error) {
	s.metrics.observeJobFailed()
	s.sub.OnErrorParsing(ErrorEvent{
		Kind:       req.EffectiveKind(),
		Message:    err.Error(),
		FailingURL: failingURL,
		Request:    req,
		ProviderID: providerID,
		Err:        err,
	})
}

// emitReady implements §4.8's completion rule: "if data for the current
// job has already been published, do not emit completed with an empty
// resultset" — only the records beyond what was already published for
// this source are emitted, and only when there is something new (or
// this is the first emission for the source).
func (s *Scheduler) emitReady(req *request.Request, meta *provider.Metadata, sink *resultsink.Sink, finalURL string) {
	records := sink.Data()

	s.mu.Lock()
	published := s.published[req.SourceName]
	s.mu.Unlock()

	if published > 0 && len(records) <= published {
		return
	}
	newRecords := records[published:]

	now := time.Now()
	requestDate := req.DateTime
	if requestDate.IsZero() {
		requestDate = now
	}
	globalInfo := GlobalInfo{
		RequestDate:        requestDate,
		DelayInfoAvailable: !sink.IsHintGiven(resultsink.HintNoDelaysForStop),
	}

	kind := req.EffectiveKind()
	norm := normalizer.Normalize(newRecords, kind, meta, sink.Features(), sink.Hints(), requestDate, now)

	switch kind {
	case request.KindDeparture, request.KindArrival, request.KindJourney:
		if len(norm.Departures)+len(norm.Journeys) == 0 {
			s.emitError(req, meta.ID, finalURL, ErrParseFailed)
			return
		}
	}

	ev := ReadyEvent{
		Departures:            norm.Departures,
		Journeys:              norm.Journeys,
		StopSuggestions:       norm.StopSuggestions,
		Features:              sink.Features(),
		Hints:                 sink.Hints(),
		FinalURL:              finalURL,
		GlobalInfo:            globalInfo,
		Request:               req,
		CouldNeedForcedUpdate: published > 0,
	}

	switch kind {
	case request.KindDeparture:
		ev.Kind = DeparturesReady
	case request.KindArrival:
		ev.Kind = ArrivalsReady
	case request.KindJourney:
		ev.Kind = JourneysReady
	case request.KindStopSuggestion, request.KindStopByGeoPosition:
		ev.Kind = StopSuggestionsReady
	case request.KindAdditionalData:
		ev.Kind = AdditionalDataReady
	default:
		return
	}

	s.mu.Lock()
	s.published[req.SourceName] = len(records)
	s.mu.Unlock()

	s.metrics.observeJobSucceeded()
	s.sub.OnReady(ev)
}
