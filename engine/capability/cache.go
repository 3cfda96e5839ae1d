// Package capability implements §4.12: a per-provider cache of the
// timetable-information features a provider script actually uses, kept
// valid by comparing the script's and its included files' mtimes, and
// rediscovered in a throwaway sandbox when stale.
//
// Grounded on engine/scripthost.Host's HasFunction/Call/IncludedFiles
// (already built for exactly this probe, per DESIGN.md C7/C12) and on
// the teacher's cache-invalidation instinct of watching source files for
// changes rather than polling; golang.org/x/sync/singleflight collapses
// concurrent discovery runs for the same provider id onto one sandbox
// evaluation, the way k3s-io-k3s's manager code dedupes concurrent
// reconciles of the same resource key.
package capability

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/publictransport/ptengine/engine/provider"
	"github.com/publictransport/ptengine/engine/scripthost"
)

// Feature is a capability a provider script exposes (§4.12).
type Feature string

const (
	FeatureArrivals      Feature = "Arrivals"
	FeatureDelay         Feature = "Delay"
	FeatureDelayReason   Feature = "DelayReason"
	FeaturePlatform      Feature = "Platform"
	FeatureJourneyNews   Feature = "JourneyNews"
	FeatureTypeOfVehicle Feature = "TypeOfVehicle"
	FeatureStatus        Feature = "Status"
	FeatureOperator      Feature = "Operator"
	FeatureStopID        Feature = "StopID"
	FeatureAutocompletion Feature = "Autocompletion"
	FeatureJourneySearch  Feature = "JourneySearch"
)

// usedInfoToFeature maps a usedTimetableInformations() string (matched
// case-insensitively) to its feature, per §4.12 step 1. JourneyNews's
// Other/Link sub-kinds both collapse to plain JourneyNews.
var usedInfoToFeature = map[string]Feature{
	"arrivals":         FeatureArrivals,
	"delay":            FeatureDelay,
	"delayreason":      FeatureDelayReason,
	"platform":         FeaturePlatform,
	"journeynews":      FeatureJourneyNews,
	"journeynewsother": FeatureJourneyNews,
	"journeynewslink":  FeatureJourneyNews,
	"typeofvehicle":    FeatureTypeOfVehicle,
	"status":           FeatureStatus,
	"operator":         FeatureOperator,
	"stopid":           FeatureStopID,
}

// IncludedFile pairs a script-relative include() name with the mtime
// observed when the entry was last discovered.
type IncludedFile struct {
	Name  string
	Mtime time.Time
}

// Entry is one provider's cached capability record (§4.12).
type Entry struct {
	ScriptMtime   time.Time
	IncludedFiles []IncludedFile
	Features      []Feature
	LastError     string
}

// HasFeature reports whether the entry lists f.
func (e *Entry) HasFeature(f Feature) bool {
	for _, got := range e.Features {
		if got == f {
			return true
		}
	}
	return false
}

// Sandbox builds a throwaway scripthost.Host for discovery. Callers
// supply a fresh, disposable Storage/Client/Sink each time: discovery
// never shares state with a real job.
type Sandbox func() (*scripthost.Host, error)

// Cache holds one Entry per provider id.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	stat func(path string) (time.Time, error)

	sf singleflight.Group

	watcher     *fsnotify.Watcher
	watchedMu   sync.Mutex
	pathOwners  map[string]map[string]bool // path -> set of provider ids
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithWatcher attaches an fsnotify watcher; discovered files are added to
// it, and write/remove/rename events invalidate the owning entries so
// the next Valid check rediscovers (§4.12: "cache is valid iff... mtime
// match"; the watcher makes that check proactive instead of lazy).
func WithWatcher(w *fsnotify.Watcher) Option {
	return func(c *Cache) {
		c.watcher = w
		go c.runWatchLoop()
	}
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*Entry),
		pathOwners: make(map[string]map[string]bool),
		stat: func(path string) (time.Time, error) {
			info, err := os.Stat(path)
			if err != nil {
				return time.Time{}, err
			}
			return info.ModTime(), nil
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Valid reports whether the cached entry for providerID exists and every
// mtime it recorded (script plus every included file) still matches disk
// (§4.12).
func (c *Cache) Valid(providerID string, meta *provider.Metadata) bool {
	c.mu.RLock()
	e, ok := c.entries[providerID]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	mtime, err := c.stat(meta.ScriptPath)
	if err != nil || !mtime.Equal(e.ScriptMtime) {
		return false
	}
	scriptDir := filepath.Dir(meta.ScriptPath)
	for _, inc := range e.IncludedFiles {
		mtime, err := c.stat(filepath.Join(scriptDir, inc.Name))
		if err != nil || !mtime.Equal(inc.Mtime) {
			return false
		}
	}
	return true
}

// Get returns the cached entry, if any, without discovery.
func (c *Cache) Get(providerID string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[providerID]
	return e, ok
}

// Discover runs sandbox() once (deduped across concurrent callers for
// the same providerID via singleflight) and stores the resulting Entry,
// per §4.12 steps 1-4. A sandbox construction/load error still produces
// an Entry, with LastError set and no features, so a permanently broken
// provider doesn't get re-discovered on every single lookup before its
// files change.
func (c *Cache) Discover(providerID string, meta *provider.Metadata, sandbox Sandbox) (*Entry, error) {
	v, err, _ := c.sf.Do(providerID, func() (any, error) {
		return c.discover(providerID, meta, sandbox), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// DiscoverAll refreshes every stale entry in providers concurrently — the
// genuine fan-out this cache has that the scheduler's quiescence wait
// does not: at startup (or after a bulk provider reload) many independent
// sandboxes need to run and the caller wants one combined error, which is
// exactly errgroup.Group's join point.
func (c *Cache) DiscoverAll(providers map[string]*provider.Metadata, sandboxFor func(id string) Sandbox) error {
	var g errgroup.Group
	for id, meta := range providers {
		id, meta := id, meta
		if c.Valid(id, meta) {
			continue
		}
		g.Go(func() error {
			_, err := c.Discover(id, meta, sandboxFor(id))
			return err
		})
	}
	return g.Wait()
}

func (c *Cache) discover(providerID string, meta *provider.Metadata, sandbox Sandbox) *Entry {
	entry := &Entry{}

	scriptMtime, err := c.stat(meta.ScriptPath)
	if err == nil {
		entry.ScriptMtime = scriptMtime
	}

	host, err := sandbox()
	if err != nil {
		entry.LastError = err.Error()
		c.store(providerID, entry)
		return entry
	}
	defer host.Close()

	var features []Feature
	if host.HasFunction("usedTimetableInformations") {
		result, callErr := host.Call("usedTimetableInformations", nil)
		if callErr != nil {
			entry.LastError = callErr.Error()
		} else {
			features = append(features, mapUsedInformations(result)...)
		}
	}
	if host.HasFunction("getStopSuggestions") {
		features = append(features, FeatureAutocompletion)
	}
	if host.HasFunction("getJourneys") {
		features = append(features, FeatureJourneySearch)
	}
	entry.Features = dedupeFeatures(features)

	scriptDir := filepath.Dir(meta.ScriptPath)
	for _, name := range host.IncludedFiles() {
		mtime, statErr := c.stat(filepath.Join(scriptDir, name))
		if statErr != nil {
			continue
		}
		entry.IncludedFiles = append(entry.IncludedFiles, IncludedFile{Name: name, Mtime: mtime})
	}

	c.store(providerID, entry)
	c.watch(providerID, meta, entry)
	return entry
}

func (c *Cache) store(providerID string, entry *Entry) {
	c.mu.Lock()
	c.entries[providerID] = entry
	c.mu.Unlock()
}

// mapUsedInformations converts usedTimetableInformations()'s return
// value (a JS array, exported by goja as []interface{} or []string
// depending on element type) to the deduplicated feature list.
func mapUsedInformations(v any) []Feature {
	var names []string
	switch l := v.(type) {
	case []string:
		names = l
	case []any:
		for _, item := range l {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	}

	var out []Feature
	for _, name := range names {
		if f, ok := usedInfoToFeature[strings.ToLower(name)]; ok {
			out = append(out, f)
		}
	}
	return out
}

func dedupeFeatures(in []Feature) []Feature {
	seen := make(map[Feature]bool, len(in))
	out := make([]Feature, 0, len(in))
	for _, f := range in {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func (c *Cache) watch(providerID string, meta *provider.Metadata, entry *Entry) {
	if c.watcher == nil {
		return
	}
	scriptDir := filepath.Dir(meta.ScriptPath)
	paths := []string{meta.ScriptPath}
	for _, inc := range entry.IncludedFiles {
		paths = append(paths, filepath.Join(scriptDir, inc.Name))
	}

	c.watchedMu.Lock()
	defer c.watchedMu.Unlock()
	for _, p := range paths {
		if c.pathOwners[p] == nil {
			c.pathOwners[p] = make(map[string]bool)
			_ = c.watcher.Add(p)
		}
		c.pathOwners[p][providerID] = true
	}
}

func (c *Cache) runWatchLoop() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 {
				c.invalidatePath(ev.Name)
			}
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (c *Cache) invalidatePath(path string) {
	c.watchedMu.Lock()
	owners := c.pathOwners[path]
	c.watchedMu.Unlock()

	if len(owners) == 0 {
		return
	}
	c.mu.Lock()
	for providerID := range owners {
		delete(c.entries, providerID)
	}
	c.mu.Unlock()
}
