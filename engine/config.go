package engine

import "time"

// Config is the Engine facade's configuration surface: the worker-pool
// and watchdog knobs of §4.8/§4.7, the provider-plugin load location of
// §4.13/§6, and the ambient telemetry toggles the teacher's Config also
// carries (MetricsEnabled/TracingEnabled), narrowed to this domain's
// actual knobs in place of the teacher's crawl-pipeline worker counts
// and asset/rate-limit/resume fields (DESIGN.md, Ambient stack).
type Config struct {
	// ProviderDir is scanned for one manifest (*.xml) plus script file
	// per provider by New (§4.13, §6).
	ProviderDir string

	// SchedulerWorkers bounds the number of concurrent script jobs (§4.8).
	SchedulerWorkers int

	// Watchdog overrides the quiescence wait's restart interval (§4.7
	// step 9); scheduler.New's own default (30s) applies when zero.
	Watchdog time.Duration

	// WatchProviderFiles enables fsnotify-based proactive invalidation of
	// the feature-capability cache (§4.12) as provider scripts change on
	// disk, instead of only rediscovering lazily on next use.
	WatchProviderFiles bool

	// ServiceName labels the OpenTelemetry tracer and the correlated logger.
	ServiceName string
	// TracingEnabled selects a real tracer; false uses the no-op tracer.
	TracingEnabled bool
	// MetricsEnabled registers the scheduler's prometheus collectors.
	MetricsEnabled bool
}

// Defaults returns a Config with reasonable defaults, mirroring the
// teacher's Defaults() constructor.
func Defaults() Config {
	return Config{
		ProviderDir:        "providers",
		SchedulerWorkers:   4,
		Watchdog:           30 * time.Second,
		WatchProviderFiles: true,
		ServiceName:        "ptengine",
		TracingEnabled:     false,
		MetricsEnabled:     true,
	}
}
