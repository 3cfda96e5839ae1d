package capability

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/publictransport/ptengine/engine/network"
	"github.com/publictransport/ptengine/engine/provider"
	"github.com/publictransport/ptengine/engine/resultsink"
	"github.com/publictransport/ptengine/engine/scripthost"
	"github.com/publictransport/ptengine/engine/storage"
)

func demoMeta() *provider.Metadata {
	return &provider.Metadata{ID: "demo", ScriptPath: "/providers/demo/demo.js"}
}

func fixedStat(paths map[string]time.Time) func(string) (time.Time, error) {
	return func(p string) (time.Time, error) {
		if t, ok := paths[p]; ok {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("no such file %q", p)
	}
}

func newSandbox(t *testing.T, script string) Sandbox {
	return func() (*scripthost.Host, error) {
		meta := demoMeta()
		host, err := scripthost.New(meta, storage.New(), network.NewClient("utf-8", network.NopEventSink{}), resultsink.New(nil))
		require.NoError(t, err)
		require.NoError(t, host.Load(script))
		return host, nil
	}
}

func TestDiscover_MapsUsedTimetableInformations(t *testing.T) {
	script := `
		function usedTimetableInformations() {
			return ["Delay", "Platform", "JourneyNewsOther"];
		}
	`
	c := New()
	c.stat = fixedStat(map[string]time.Time{"/providers/demo/demo.js": time.Unix(1000, 0)})

	entry, err := c.Discover("demo", demoMeta(), newSandbox(t, script))
	require.NoError(t, err)
	assert.ElementsMatch(t, []Feature{FeatureDelay, FeaturePlatform, FeatureJourneyNews}, entry.Features)
	assert.Empty(t, entry.LastError)
}

func TestDiscover_DetectsAutocompletionAndJourneySearch(t *testing.T) {
	script := `
		function getStopSuggestions(req) {}
		function getJourneys(req) {}
	`
	c := New()
	c.stat = fixedStat(map[string]time.Time{"/providers/demo/demo.js": time.Unix(1000, 0)})

	entry, err := c.Discover("demo", demoMeta(), newSandbox(t, script))
	require.NoError(t, err)
	assert.ElementsMatch(t, []Feature{FeatureAutocompletion, FeatureJourneySearch}, entry.Features)
}

func TestValid_FalseWhenNoEntry(t *testing.T) {
	c := New()
	assert.False(t, c.Valid("demo", demoMeta()))
}

func TestValid_FalseAfterScriptMtimeChanges(t *testing.T) {
	c := New()
	paths := map[string]time.Time{"/providers/demo/demo.js": time.Unix(1000, 0)}
	c.stat = fixedStat(paths)

	_, err := c.Discover("demo", demoMeta(), newSandbox(t, `function usedTimetableInformations() { return []; }`))
	require.NoError(t, err)
	assert.True(t, c.Valid("demo", demoMeta()))

	paths["/providers/demo/demo.js"] = time.Unix(2000, 0)
	assert.False(t, c.Valid("demo", demoMeta()))
}

func TestDiscover_DedupesConcurrentCallsForSameProvider(t *testing.T) {
	var calls int32
	c := New()
	c.stat = fixedStat(map[string]time.Time{"/providers/demo/demo.js": time.Unix(1000, 0)})

	sandbox := func() (*scripthost.Host, error) {
		atomic.AddInt32(&calls, 1)
		meta := demoMeta()
		return scripthost.New(meta, storage.New(), network.NewClient("utf-8", network.NopEventSink{}), resultsink.New(nil))
	}

	done := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, _ = c.Discover("demo", demoMeta(), sandbox)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(8))
}

func TestDiscoverAll_RefreshesEveryStaleProviderConcurrently(t *testing.T) {
	c := New()
	metas := map[string]*provider.Metadata{
		"demo-a": {ID: "demo-a", ScriptPath: "/providers/demo-a/demo.js"},
		"demo-b": {ID: "demo-b", ScriptPath: "/providers/demo-b/demo.js"},
	}
	c.stat = fixedStat(map[string]time.Time{
		"/providers/demo-a/demo.js": time.Unix(1000, 0),
		"/providers/demo-b/demo.js": time.Unix(2000, 0),
	})

	err := c.DiscoverAll(metas, func(id string) Sandbox {
		return func() (*scripthost.Host, error) {
			meta := metas[id]
			return scripthost.New(meta, storage.New(), network.NewClient("utf-8", network.NopEventSink{}), resultsink.New(nil))
		}
	})
	require.NoError(t, err)

	_, ok := c.Get("demo-a")
	assert.True(t, ok)
	_, ok = c.Get("demo-b")
	assert.True(t, ok)
}

func TestDiscover_RecordsErrorWithoutPanicking(t *testing.T) {
	c := New()
	c.stat = fixedStat(map[string]time.Time{"/providers/demo/demo.js": time.Unix(1000, 0)})

	failingSandbox := func() (*scripthost.Host, error) {
		return nil, fmt.Errorf("boom")
	}
	entry, err := c.Discover("demo", demoMeta(), failingSandbox)
	require.NoError(t, err)
	assert.Equal(t, "boom", entry.LastError)
	assert.Empty(t, entry.Features)
}
