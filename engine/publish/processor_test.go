package publish

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/publictransport/ptengine/engine/filter"
	"github.com/publictransport/ptengine/engine/timetable"
)

type recordingSubscriber struct {
	mu             sync.Mutex
	depBatches     [][]*timetable.Departure
	jrnBatches     [][]*timetable.Journey
	filteredCalls  int
	newlyFiltered  []*timetable.Departure
	newlyUnfiltered []*timetable.Departure

	// afterBatch, when set, runs on the worker goroutine right after the
	// n-th departure batch is recorded, before the job checks its flags.
	afterBatch func(n int)
}

func (r *recordingSubscriber) OnDeparturesProcessed(source string, batch []*timetable.Departure, url string, updated bool) {
	r.mu.Lock()
	r.depBatches = append(r.depBatches, batch)
	n, hook := len(r.depBatches), r.afterBatch
	r.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

func (r *recordingSubscriber) OnJourneysProcessed(source string, batch []*timetable.Journey, url string, updated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jrnBatches = append(r.jrnBatches, batch)
}

func (r *recordingSubscriber) OnDeparturesFiltered(source string, all, newlyFiltered, newlyNotFiltered []*timetable.Departure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filteredCalls++
	r.newlyFiltered = newlyFiltered
	r.newlyUnfiltered = newlyNotFiltered
}

func (r *recordingSubscriber) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.depBatches)
}

func (r *recordingSubscriber) totalDepartures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.depBatches {
		n += len(b)
	}
	return n
}

func makeDepartures(n int, target string) []*timetable.Departure {
	out := make([]*timetable.Departure, n)
	for i := range out {
		out[i] = &timetable.Departure{
			Target:      target,
			LineString:  "S1",
			DepartureAt: time.Date(2024, 5, 1, 8, i, 0, 0, time.UTC),
		}
	}
	return out
}

func TestProcessDepartures_BatchesEveryTen(t *testing.T) {
	sub := &recordingSubscriber{}
	p := NewProcessor(sub)
	defer p.Stop()

	job := &Job{Kind: ProcessDepartures, Source: "A", Departures: makeDepartures(25, "North"), Updated: true}
	p.Enqueue(job)

	require.Eventually(t, func() bool { return sub.totalDepartures() == 25 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 3, sub.batchCount()) // 10 + 10 + 5
}

func TestProcessDepartures_AppliesFilterAndAlarms(t *testing.T) {
	sub := &recordingSubscriber{}
	p := NewProcessor(sub)
	defer p.Stop()

	p.UpdateSettings(filter.Settings{
		Action:  filter.ShowMatching,
		Filters: filter.FilterList{filter.Filter{{Type: filter.ByTarget, Variant: filter.Equals, Value: "North"}}},
	}, []*filter.Alarm{
		{Name: "a", Enabled: true, Type: filter.Recurring, Filter: filter.Filter{{Type: filter.ByTarget, Variant: filter.Equals, Value: "South"}}},
	})

	departures := makeDepartures(1, "South")
	job := &Job{Kind: ProcessDepartures, Source: "A", Departures: departures}
	p.Enqueue(job)

	require.Eventually(t, func() bool { return sub.batchCount() == 1 }, time.Second, 2*time.Millisecond)
	assert.True(t, departures[0].FilteredOut) // action ShowMatching, target doesn't match "North"
	assert.Equal(t, []int{0}, departures[0].MatchedAlarms)
}

func TestAbortJobs_StopsRunningJobAfterCurrentBatch(t *testing.T) {
	sub := &recordingSubscriber{}
	p := NewProcessor(sub)
	defer p.Stop()

	// Abort from the first batch's callback so the abort lands while the
	// job is still running, before its second batch.
	sub.afterBatch = func(n int) {
		if n == 1 {
			p.AbortJobs(ProcessDepartures)
		}
	}

	job := &Job{Kind: ProcessDepartures, Source: "A", Departures: makeDepartures(100, "North")}
	p.Enqueue(job)

	require.Eventually(t, func() bool { return sub.batchCount() >= 1 }, time.Second, 2*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	finalCount := sub.batchCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, finalCount, sub.batchCount(), "no further batches emitted after abort")
	assert.Less(t, finalCount, 10)
}

func TestAbortJobs_DropsQueuedJobsOfMatchingKind(t *testing.T) {
	sub := &recordingSubscriber{}
	p := NewProcessor(sub)
	defer p.Stop()

	// Occupy the worker with a long-running job so the second job stays queued.
	occupying := &Job{Kind: ProcessDepartures, Source: "busy", Departures: makeDepartures(1000, "North")}
	p.Enqueue(occupying)
	require.Eventually(t, func() bool { return sub.batchCount() >= 1 }, time.Second, 2*time.Millisecond)

	queued := &Job{Kind: ProcessJourneys, Source: "A"}
	p.Enqueue(queued)

	p.AbortJobs(ProcessJourneys)

	p.mu.Lock()
	queueLen := len(p.queue)
	p.mu.Unlock()
	assert.Equal(t, 0, queueLen)

	occupying.setAbort()
}

func TestProcessDepartures_MidJobSettingsChangeAppliesToNextBatch(t *testing.T) {
	sub := &recordingSubscriber{}
	p := NewProcessor(sub)
	defer p.Stop()

	// Let the first batch (items 0-9) emit under the original no-op
	// settings, then change them from that batch's callback so the change
	// lands while the job is still running.
	sub.afterBatch = func(n int) {
		if n == 1 {
			p.UpdateSettings(filter.Settings{
				Action:  filter.ShowMatching,
				Filters: filter.FilterList{filter.Filter{{Type: filter.ByTarget, Variant: filter.Equals, Value: "South"}}},
			}, nil)
		}
	}

	job := &Job{Kind: ProcessDepartures, Source: "A", Departures: makeDepartures(20, "North")}
	p.Enqueue(job)

	require.Eventually(t, func() bool { return sub.totalDepartures() == 20 }, time.Second, 2*time.Millisecond)
	require.Equal(t, 2, sub.batchCount())

	sub.mu.Lock()
	firstBatch := sub.depBatches[0]
	secondBatch := sub.depBatches[1]
	sub.mu.Unlock()

	for _, d := range firstBatch {
		assert.False(t, d.FilteredOut, "first batch applied before the settings change must keep the original filter result")
	}
	for _, d := range secondBatch {
		assert.True(t, d.FilteredOut, "second batch must apply the settings change that landed mid-job, not just after the requeue")
	}
}

func TestFilterDepartures_PartitionsNewlyFilteredAndUnfiltered(t *testing.T) {
	sub := &recordingSubscriber{}
	p := NewProcessor(sub)
	defer p.Stop()

	p.UpdateSettings(filter.Settings{
		Action:  filter.ShowMatching,
		Filters: filter.FilterList{filter.Filter{{Type: filter.ByTarget, Variant: filter.Equals, Value: "North"}}},
	}, nil)

	north := makeDepartures(1, "North")[0]
	south := makeDepartures(1, "South")[0]
	shown := map[uint64]struct{}{south.Hash(): {}} // south was shown before, north was hidden

	job := &Job{
		Kind:            FilterDepartures,
		Source:          "A",
		Departures:      []*timetable.Departure{north, south},
		ShownDepartures: shown,
	}
	p.Enqueue(job)

	require.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return sub.filteredCalls == 1
	}, time.Second, 2*time.Millisecond)

	require.Len(t, sub.newlyUnfiltered, 1)
	assert.Equal(t, "North", sub.newlyUnfiltered[0].Target)
	require.Len(t, sub.newlyFiltered, 1)
	assert.Equal(t, "South", sub.newlyFiltered[0].Target)
}
