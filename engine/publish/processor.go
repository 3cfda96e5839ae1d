package publish

import (
	"sync"
	"time"

	"github.com/publictransport/ptengine/engine/filter"
	"github.com/publictransport/ptengine/engine/timetable"
)

const (
	departureBatchSize = 10
	journeyBatchSize   = 3
)

// Processor is the single background worker of §4.11. Jobs are consumed
// FIFO from an in-memory queue; AbortJobs and UpdateSettings reach into
// the currently running job (if any) to implement the Running→Idle and
// Running→Requeue transitions of the state machine in §4.11.
type Processor struct {
	sub Subscriber

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Job
	current *Job
	snap    settingsSnapshot
	stopped bool
	wg      sync.WaitGroup
}

// NewProcessor starts the worker goroutine immediately.
func NewProcessor(sub Subscriber) *Processor {
	if sub == nil {
		sub = NopSubscriber{}
	}
	p := &Processor{sub: sub}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(1)
	go p.run()
	return p
}

// Enqueue appends job to the tail of the queue.
func (p *Processor) Enqueue(job *Job) {
	p.mu.Lock()
	p.queue = append(p.queue, job)
	p.cond.Signal()
	p.mu.Unlock()
}

func (p *Processor) requeueToHead(job *Job) {
	p.mu.Lock()
	p.queue = append([]*Job{job}, p.queue...)
	p.cond.Signal()
	p.mu.Unlock()
}

// UpdateSettings swaps the filter/alarm configuration. Jobs read it per
// record, so a running job applies it from its next record on. If a
// ProcessDepartures job is currently running, its requeue flag is also
// set so it finishes the current batch and re-enqueues at the head with
// an advanced resume index (§4.11, §5 "Shared resources").
func (p *Processor) UpdateSettings(settings filter.Settings, alarms []*filter.Alarm) {
	p.mu.Lock()
	p.snap = settingsSnapshot{filters: settings, alarms: alarms}
	current := p.current
	p.mu.Unlock()

	if current != nil && current.Kind == ProcessDepartures {
		current.setRequeue()
	}
}

// AbortJobs drops every queued job whose Kind is in kinds and, if the
// currently running job's Kind is in kinds, sets its abort flag so it
// stops after the batch in flight (§4.11, §5's abort_jobs).
func (p *Processor) AbortJobs(kinds ...Kind) {
	mask := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		mask[k] = true
	}

	p.mu.Lock()
	kept := p.queue[:0:0]
	for _, j := range p.queue {
		if !mask[j.Kind] {
			kept = append(kept, j)
		}
	}
	p.queue = kept
	current := p.current
	p.mu.Unlock()

	if current != nil && mask[current.Kind] {
		current.setAbort()
	}
}

// Stop drains the worker after its current job finishes; queued jobs are
// dropped.
func (p *Processor) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Processor) run() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.stopped {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.current = job
		p.mu.Unlock()

		p.runJob(job)

		p.mu.Lock()
		p.current = nil
		p.mu.Unlock()
	}
}

func (p *Processor) runJob(job *Job) {
	switch job.Kind {
	case ProcessDepartures:
		p.processDepartures(job)
	case ProcessJourneys:
		p.processJourneys(job)
	case FilterDepartures:
		p.filterDepartures(job)
	}
}

func (p *Processor) settings() settingsSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// processDepartures applies the filter/alarm configuration to each
// record in order, starting from job.AlreadyProcessed, and emits a batch
// of departureBatchSize every time one fills (§4.11). The configuration
// is re-read per record rather than once per job so a settings change
// that lands mid-job is reflected from the very next record, not only
// after the requeue that follows it.
func (p *Processor) processDepartures(job *Job) {
	now := time.Now()
	var batch []*timetable.Departure
	records := job.Departures

	for i := job.AlreadyProcessed; i < len(records); i++ {
		snap := p.settings()
		d := records[i]
		d.FilteredOut = snap.filters.FilterOut(filter.FieldsFromDeparture(d))
		filter.ApplyToDeparture(snap.alarms, d, now)
		batch = append(batch, d)

		if len(batch) < departureBatchSize && i < len(records)-1 {
			continue
		}
		p.sub.OnDeparturesProcessed(job.Source, batch, job.URL, job.Updated)
		batch = nil

		abort, requeue := job.flags()
		if abort {
			return
		}
		if requeue {
			job.AlreadyProcessed = i + 1
			job.mu.Lock()
			job.requeue = false
			job.mu.Unlock()
			p.requeueToHead(job)
			return
		}
	}
}

// processJourneys mirrors processDepartures: the configuration is
// re-read per record so a mid-job settings change applies from the next
// record on, including the remaining records of the batch in flight.
func (p *Processor) processJourneys(job *Job) {
	now := time.Now()
	var batch []*timetable.Journey
	records := job.Journeys

	for i := job.AlreadyProcessed; i < len(records); i++ {
		snap := p.settings()
		j := records[i]
		j.FilteredOut = snap.filters.FilterOut(filter.FieldsFromJourney(j))
		filter.ApplyToJourney(snap.alarms, j, now)
		batch = append(batch, j)

		if len(batch) < journeyBatchSize && i < len(records)-1 {
			continue
		}
		p.sub.OnJourneysProcessed(job.Source, batch, job.URL, job.Updated)
		batch = nil

		abort, requeue := job.flags()
		if abort {
			return
		}
		if requeue {
			job.AlreadyProcessed = i + 1
			job.mu.Lock()
			job.requeue = false
			job.mu.Unlock()
			p.requeueToHead(job)
			return
		}
	}
}

// filterDepartures re-evaluates filter_out for every record against the
// current settings and partitions the change relative to job's caller-
// supplied ShownDepartures hash set (§4.11).
func (p *Processor) filterDepartures(job *Job) {
	snap := p.settings()

	var newlyFiltered, newlyNotFiltered []*timetable.Departure
	for _, d := range job.Departures {
		wasShown := true
		if job.ShownDepartures != nil {
			_, wasShown = job.ShownDepartures[d.Hash()]
		}
		d.FilteredOut = snap.filters.FilterOut(filter.FieldsFromDeparture(d))

		switch {
		case wasShown && d.FilteredOut:
			newlyFiltered = append(newlyFiltered, d)
		case !wasShown && !d.FilteredOut:
			newlyNotFiltered = append(newlyNotFiltered, d)
		}
	}

	p.sub.OnDeparturesFiltered(job.Source, job.Departures, newlyFiltered, newlyNotFiltered)
}
