// internal/netwatch/correlator.go
package netwatch

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// Options tune what the correlator keeps.
type Options struct {
	RecordResponses bool
	MaxPayloadBytes int
}

// DefaultOptions mirrors the network section defaults.
func DefaultOptions() Options {
	return Options{RecordResponses: true, MaxPayloadBytes: 256 * 1024}
}

// Filter narrows RecentEvents.
type Filter struct {
	APIOnly     bool
	SuccessOnly bool
	Method      string // Case-insensitive. Empty matches all.
}

// Summary aggregates the recorded traffic.
type Summary struct {
	TotalRequests        int     `json:"total_requests"`
	APIRequests          int     `json:"api_requests"`
	SuccessfulRequests   int     `json:"successful_requests"`
	FailedRequests       int     `json:"failed_requests"`
	AvgAPIResponseTimeMs float64 `json:"avg_api_response_time_ms"`
}

// Correlator pairs driver request and response callbacks into NetworkEvents.
// It implements schemas.NetworkListener and is safe for concurrent use.
type Correlator struct {
	logger *zap.Logger
	opts   Options
	now    func() time.Time

	mu     sync.Mutex
	events []schemas.NetworkEvent
	starts map[string]time.Time // "METHOD URL" -> most recent start
}

var _ schemas.NetworkListener = (*Correlator)(nil)

// New creates a correlator.
func New(logger *zap.Logger, opts Options) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		logger: logger.Named("netwatch"),
		opts:   opts,
		now:    time.Now,
		starts: make(map[string]time.Time),
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *Correlator) WithClock(now func() time.Time) *Correlator {
	c.now = now
	return c
}

func key(method, u string) string { return strings.ToUpper(method) + " " + u }

// IsAPIRequest reports whether a request looks like an API call.
func IsAPIRequest(rawURL, resourceType string) bool {
	switch strings.ToLower(resourceType) {
	case "xhr", "fetch":
		return true
	}
	if strings.Contains(rawURL, "/api/") || strings.Contains(rawURL, "/v1/") || strings.Contains(rawURL, "/v2/") {
		return true
	}
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	return strings.HasSuffix(path, ".json")
}

func capturesRequestBody(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

func (c *Correlator) truncate(b []byte) string {
	if c.opts.MaxPayloadBytes > 0 && len(b) > c.opts.MaxPayloadBytes {
		b = b[:c.opts.MaxPayloadBytes]
	}
	return string(b)
}

// OnRequest records a pending event.
func (c *Correlator) OnRequest(req schemas.RequestInfo) {
	now := c.now()
	ev := schemas.NetworkEvent{
		ID:           uuid.NewString(),
		Timestamp:    now,
		Method:       strings.ToUpper(req.Method),
		URL:          req.URL,
		ResourceType: req.ResourceType,
		API:          IsAPIRequest(req.URL, req.ResourceType),
	}
	if capturesRequestBody(req.Method) && req.PostData != "" {
		ev.RequestBody = c.truncate([]byte(req.PostData))
	}

	c.mu.Lock()
	c.events = append(c.events, ev)
	c.starts[key(req.Method, req.URL)] = now
	c.mu.Unlock()
}

// matchLocked returns the index of the newest unmatched event for k, or -1.
func (c *Correlator) matchLocked(k string) int {
	for i := len(c.events) - 1; i >= 0; i-- {
		ev := &c.events[i]
		if !ev.Matched() && key(ev.Method, ev.URL) == k {
			return i
		}
	}
	return -1
}

// OnResponse fills status and latency on the matching event. The body is
// fetched outside the lock.
func (c *Correlator) OnResponse(resp schemas.ResponseInfo) {
	now := c.now()
	k := key(resp.Method, resp.URL)

	c.mu.Lock()
	i := c.matchLocked(k)
	if i < 0 {
		c.mu.Unlock()
		c.logger.Debug("Response without matching request.", zap.String("url", resp.URL), zap.Int("status", resp.Status))
		return
	}
	ev := &c.events[i]
	start, ok := c.starts[k]
	if !ok {
		start = ev.Timestamp
	}
	latency := now.Sub(start)
	if latency < 0 {
		latency = 0
	}
	ev.Status = resp.Status
	ev.Latency = latency
	if resp.ResourceType != "" && ev.ResourceType == "" {
		ev.ResourceType = resp.ResourceType
		ev.API = ev.API || IsAPIRequest(ev.URL, resp.ResourceType)
	}
	delete(c.starts, k)
	id, wantBody := ev.ID, ev.API && c.opts.RecordResponses && resp.Body != nil
	c.mu.Unlock()

	if !wantBody {
		return
	}
	body, err := resp.Body()
	if err != nil {
		c.logger.Debug("Could not read response body.", zap.String("url", resp.URL), zap.Error(err))
		return
	}
	truncated := c.truncate(body)

	c.mu.Lock()
	defer c.mu.Unlock()
	for j := len(c.events) - 1; j >= 0; j-- {
		if c.events[j].ID == id {
			c.events[j].ResponseBody = truncated
			return
		}
	}
}

// OnRequestFailed records the failure reason on the matching event.
func (c *Correlator) OnRequestFailed(req schemas.RequestInfo, reason string) {
	k := key(req.Method, req.URL)
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.matchLocked(k); i >= 0 {
		if reason == "" {
			reason = "request failed"
		}
		c.events[i].FailureReason = reason
		delete(c.starts, k)
	}
}

// RecentEvents returns copies of events newer than window, oldest first.
func (c *Correlator) RecentEvents(window time.Duration, f Filter) []schemas.NetworkEvent {
	cutoff := c.now().Add(-window)
	method := strings.ToUpper(f.Method)

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schemas.NetworkEvent, 0)
	for _, ev := range c.events {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		if f.APIOnly && !ev.API {
			continue
		}
		if f.SuccessOnly && !ev.IsSuccess() {
			continue
		}
		if method != "" && ev.Method != method {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// CheckBackendSuccess reports whether a successful request whose URL contains
// urlSubstring and whose method matches was seen within window.
func (c *Correlator) CheckBackendSuccess(urlSubstring, method string, window time.Duration) bool {
	for _, ev := range c.RecentEvents(window, Filter{SuccessOnly: true, Method: method}) {
		if strings.Contains(ev.URL, urlSubstring) {
			return true
		}
	}
	return false
}

// Summary aggregates all retained events.
func (c *Correlator) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s Summary
	var apiLatency time.Duration
	var apiTimed int
	for _, ev := range c.events {
		s.TotalRequests++
		if ev.API {
			s.APIRequests++
			if ev.Status != 0 {
				apiLatency += ev.Latency
				apiTimed++
			}
		}
		switch {
		case ev.IsSuccess():
			s.SuccessfulRequests++
		case ev.FailureReason != "" || ev.Status >= 400:
			s.FailedRequests++
		}
	}
	if apiTimed > 0 {
		s.AvgAPIResponseTimeMs = float64(apiLatency.Milliseconds()) / float64(apiTimed)
	}
	return s
}

// Len returns the number of retained events.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Prune drops events and pending starts older than maxAge.
func (c *Correlator) Prune(maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.events[:0]
	for _, ev := range c.events {
		if !ev.Timestamp.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	dropped := len(c.events) - len(kept)
	// Clear the tail so dropped bodies can be collected.
	for i := len(kept); i < len(c.events); i++ {
		c.events[i] = schemas.NetworkEvent{}
	}
	c.events = kept
	for k, t := range c.starts {
		if t.Before(cutoff) {
			delete(c.starts, k)
		}
	}
	if dropped > 0 {
		c.logger.Debug("Pruned network events.", zap.Int("dropped", dropped), zap.Int("kept", len(kept)))
	}
	return dropped
}
