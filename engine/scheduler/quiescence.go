package scheduler

import (
	"sync"
	"time"

	"github.com/publictransport/ptengine/engine/network"
)

// quiescenceSink observes a job's network.Client to wake waitQuiescent
// as soon as the in-flight set empties, without the client needing to
// know anything about the scheduler.
type quiescenceSink struct {
	network.NopEventSink

	mu   sync.Mutex
	wake chan struct{}
}

func newQuiescenceSink() *quiescenceSink {
	return &quiescenceSink{wake: make(chan struct{}, 1)}
}

func (q *quiescenceSink) OnAllRequestsFinished() {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// waitQuiescent implements §4.7 step 9: after Invoke returns (the engine
// is no longer evaluating, since goja calls are synchronous in this
// host), block until the job's network client has no running requests,
// restarting the wait every watchdog interval so a client bug that
// never signals can't wedge the job forever.
func waitQuiescent(client *network.Client, wake <-chan struct{}, watchdog time.Duration) {
	if watchdog <= 0 {
		watchdog = 30 * time.Second
	}
	for client.HasRunningRequests() {
		select {
		case <-wake:
		case <-time.After(watchdog):
		}
	}
}
