// Package metrics assembles the module's prometheus collectors behind
// one shared registry, grounded on the teacher's selectMetricsProvider/
// MetricsHandler pair (engine/_teacher_engine.go) but pointed directly at
// prometheus/client_golang instead of the teacher's multi-backend
// Provider abstraction: every component here already speaks prometheus
// natively (C8's scheduler.Metrics), so the extra indirection buys
// nothing this module would use (DESIGN.md, Ambient stack).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/publictransport/ptengine/engine/scheduler"
)

// Registry is the shared prometheus registry plus the component
// collectors registered on it.
type Registry struct {
	reg       *prometheus.Registry
	Scheduler *scheduler.Metrics
}

// New builds a Registry with every ambient collector registered. A
// registration error is only possible on a duplicate metric name, which
// would be a bug in this package, so it panics rather than threading an
// error through every caller.
func New() *Registry {
	reg := prometheus.NewRegistry()
	sm := scheduler.NewMetrics()
	if err := sm.Register(reg); err != nil {
		panic(err)
	}
	return &Registry{reg: reg, Scheduler: sm}
}

// Handler exposes the registry over HTTP in the standard exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Registerer exposes the underlying prometheus.Registerer for components
// built outside this package (filter/publish/capability counters, if a
// future component adds its own).
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }
