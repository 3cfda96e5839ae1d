// Package network implements the plugin-facing HTTP client of §4.5: a
// synchronous get_sync plus an asynchronous create_request/get/head/post
// surface with in-flight tracking and an all_requests_finished event.
//
// Grounded on the teacher's crawler.Fetcher interface shape (Fetch/
// Configure/Stats) and colly_fetcher.go's atomic-counter statistics
// pattern (DESIGN.md, C5), rewired from link-crawling onto a single-shot
// net/http client.
package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// EventSink receives the lifecycle events of §4.5's asynchronous API.
type EventSink interface {
	OnStarted(req *Request)
	OnFinished(req *Request, text string, rawSize int)
	OnAborted(req *Request)
	OnAllRequestsFinished()
}

// NopEventSink discards all events; useful for get_sync-only callers.
type NopEventSink struct{}

func (NopEventSink) OnStarted(*Request)                   {}
func (NopEventSink) OnFinished(*Request, string, int)     {}
func (NopEventSink) OnAborted(*Request)                   {}
func (NopEventSink) OnAllRequestsFinished()               {}

// Stats mirrors the teacher's FetcherStats shape, generalized to the
// request/response model of this client.
type Stats struct {
	RequestsCompleted int64
	RequestsFailed    int64
	BytesDownloaded   int64
}

type inFlightEntry struct {
	req    *Request
	cancel context.CancelFunc
}

// Client is the per-job network client (one per script host instance).
type Client struct {
	httpClient      *http.Client
	fallbackCharset string

	mu       sync.Mutex
	inFlight map[uint64]*inFlightEntry
	nextID   uint64
	lastURL  string

	sink EventSink

	completed int64
	failed    int64
	bytesDown int64
}

// NewClient builds a Client. fallbackCharset is the provider's
// fallback_charset, used when neither Content-Type nor chardet yields a
// charset. sink may be nil, in which case events are discarded.
func NewClient(fallbackCharset string, sink EventSink) *Client {
	if sink == nil {
		sink = NopEventSink{}
	}
	return &Client{
		httpClient:      &http.Client{},
		fallbackCharset: fallbackCharset,
		inFlight:        make(map[uint64]*inFlightEntry),
		sink:            sink,
	}
}

// LastRequestedURL returns the most recently dispatched URL, synchronous
// or asynchronous (§4.5: "the last requested URL is recorded").
func (c *Client) LastRequestedURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastURL
}

// GetSync performs a blocking GET, decodes the body per the charset
// resolution order of §4.5, and returns the decoded text. A zero-byte
// response or a timeout yields an empty string and a nil error, matching
// the script-facing contract (plugins check for an empty string, not an
// error value).
func (c *Client) GetSync(ctx context.Context, url string, timeoutMS int) (string, error) {
	if timeoutMS <= 0 {
		timeoutMS = 30_000
	}
	c.mu.Lock()
	c.lastURL = url
	c.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("network: building request for %q: %w", url, err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if reqCtx.Err() != nil {
			return "", nil // timeout/cancel: empty per §4.5
		}
		return "", fmt.Errorf("network: fetching %q: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("network: reading body of %q: %w", url, err)
	}
	if len(body) == 0 {
		return "", nil
	}
	return decodeBody(body, resp.Header.Get("Content-Type"), c.fallbackCharset), nil
}

// CreateRequest allocates a new mutable Request bound to this client.
func (c *Client) CreateRequest(url string) *Request {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()
	return newRequest(id, url)
}

// Get dispatches req as a GET. Non-blocking: the result is delivered
// through the EventSink's OnFinished/OnAborted callbacks.
func (c *Client) Get(ctx context.Context, req *Request) error {
	return c.dispatch(ctx, req, http.MethodGet)
}

// Head dispatches req as a HEAD.
func (c *Client) Head(ctx context.Context, req *Request) error {
	return c.dispatch(ctx, req, http.MethodHead)
}

// Post dispatches req as a POST, sending its body.
func (c *Client) Post(ctx context.Context, req *Request) error {
	return c.dispatch(ctx, req, http.MethodPost)
}

func (c *Client) dispatch(ctx context.Context, req *Request, method string) error {
	if err := req.markStarted(); err != nil {
		return err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.lastURL = req.URL
	c.inFlight[req.id] = &inFlightEntry{req: req, cancel: cancel}
	c.mu.Unlock()

	c.sink.OnStarted(req)

	go c.run(reqCtx, cancel, req, method)
	return nil
}

func (c *Client) run(ctx context.Context, cancel context.CancelFunc, req *Request, method string) {
	defer cancel()

	var bodyReader io.Reader
	if method == http.MethodPost {
		if b := req.snapshotBody(); b != nil {
			bodyReader = newByteReader(b)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		c.finishAborted(req)
		return
	}
	for name, value := range req.snapshotHeaders() {
		httpReq.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.finishAborted(req)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.finishAborted(req)
		return
	}

	text := decodeBody(body, resp.Header.Get("Content-Type"), c.fallbackCharset)
	atomic.AddInt64(&c.completed, 1)
	atomic.AddInt64(&c.bytesDown, int64(len(body)))

	c.removeInFlight(req.id)
	c.sink.OnFinished(req, text, len(body))
}

func (c *Client) finishAborted(req *Request) {
	atomic.AddInt64(&c.failed, 1)
	c.removeInFlight(req.id)
	c.sink.OnAborted(req)
}

// removeInFlight deletes id from the in-flight set under the client's
// mutex and emits all_requests_finished exactly once when it empties.
func (c *Client) removeInFlight(id uint64) {
	c.mu.Lock()
	_, existed := c.inFlight[id]
	delete(c.inFlight, id)
	empty := len(c.inFlight) == 0
	c.mu.Unlock()
	if existed && empty {
		c.sink.OnAllRequestsFinished()
	}
}

// AbortAllRequests cancels every in-flight request; each transitions to
// aborted without decoding its (possibly partial) body.
func (c *Client) AbortAllRequests() {
	c.mu.Lock()
	entries := make([]*inFlightEntry, 0, len(c.inFlight))
	for _, e := range c.inFlight {
		entries = append(entries, e)
	}
	c.mu.Unlock()
	for _, e := range entries {
		e.cancel()
	}
}

// HasRunningRequests reports whether any request is currently in flight.
func (c *Client) HasRunningRequests() bool {
	return c.RunningRequestCount() > 0
}

// RunningRequestCount returns the size of the in-flight set.
func (c *Client) RunningRequestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// StatsSnapshot returns a point-in-time copy of the client's counters.
func (c *Client) StatsSnapshot() Stats {
	return Stats{
		RequestsCompleted: atomic.LoadInt64(&c.completed),
		RequestsFailed:    atomic.LoadInt64(&c.failed),
		BytesDownloaded:   atomic.LoadInt64(&c.bytesDown),
	}
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
