// internal/netwatch/correlator_test.go
package netwatch

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Test Helpers --

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 10, 26, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCorrelator(t *testing.T, opts Options) (*Correlator, *fakeClock) {
	clock := newFakeClock()
	return New(zaptest.NewLogger(t), opts).WithClock(clock.Now), clock
}

func body(s string) func() ([]byte, error) {
	return func() ([]byte, error) { return []byte(s), nil }
}

// -- Test Cases: Matching --

func TestCorrelator_LoginPostMatchesOnce(t *testing.T) {
	c, clock := newTestCorrelator(t, DefaultOptions())

	c.OnRequest(schemas.RequestInfo{Method: "POST", URL: "https://x/api/login", ResourceType: "fetch", PostData: `{"u":"a"}`})
	clock.Advance(120 * time.Millisecond)
	c.OnResponse(schemas.ResponseInfo{Method: "POST", URL: "https://x/api/login", Status: 200, Body: body(`{"ok":true}`)})

	events := c.RecentEvents(5*time.Second, Filter{APIOnly: true, SuccessOnly: true})
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, 200, ev.Status)
	assert.Equal(t, 120*time.Millisecond, ev.Latency)
	assert.GreaterOrEqual(t, ev.Latency, time.Duration(0))
	assert.Equal(t, `{"u":"a"}`, ev.RequestBody)
	assert.Equal(t, `{"ok":true}`, ev.ResponseBody)
}

func TestCorrelator_NewestUnmatchedWins(t *testing.T) {
	c, clock := newTestCorrelator(t, DefaultOptions())
	req := schemas.RequestInfo{Method: "GET", URL: "https://x/api/items"}

	c.OnRequest(req)
	clock.Advance(10 * time.Millisecond)
	c.OnRequest(req)
	clock.Advance(10 * time.Millisecond)
	c.OnResponse(schemas.ResponseInfo{Method: "GET", URL: req.URL, Status: 200})

	events := c.RecentEvents(time.Minute, Filter{})
	require.Len(t, events, 2)
	assert.Equal(t, 0, events[0].Status, "older request stays pending")
	assert.Equal(t, 200, events[1].Status)

	// A second response falls back to the older event's own timestamp.
	c.OnResponse(schemas.ResponseInfo{Method: "GET", URL: req.URL, Status: 304})
	events = c.RecentEvents(time.Minute, Filter{})
	assert.Equal(t, 304, events[0].Status)
	assert.Equal(t, 20*time.Millisecond, events[0].Latency)
}

func TestCorrelator_UnmatchedResponseIgnored(t *testing.T) {
	c, _ := newTestCorrelator(t, DefaultOptions())
	c.OnResponse(schemas.ResponseInfo{Method: "GET", URL: "https://x/none", Status: 200})
	assert.Equal(t, 0, c.Len())
}

func TestCorrelator_Failure(t *testing.T) {
	c, _ := newTestCorrelator(t, DefaultOptions())
	c.OnRequest(schemas.RequestInfo{Method: "POST", URL: "https://x/api/save"})
	c.OnRequestFailed(schemas.RequestInfo{Method: "POST", URL: "https://x/api/save"}, "net::ERR_CONNECTION_RESET")

	events := c.RecentEvents(time.Minute, Filter{})
	require.Len(t, events, 1)
	assert.Equal(t, "net::ERR_CONNECTION_RESET", events[0].FailureReason)
	assert.Equal(t, 1, c.Summary().FailedRequests)
}

// -- Test Cases: Bodies --

func TestCorrelator_BodyCaptureRules(t *testing.T) {
	t.Run("non-api responses skip body", func(t *testing.T) {
		c, _ := newTestCorrelator(t, DefaultOptions())
		c.OnRequest(schemas.RequestInfo{Method: "GET", URL: "https://x/style.css", ResourceType: "stylesheet"})
		c.OnResponse(schemas.ResponseInfo{Method: "GET", URL: "https://x/style.css", Status: 200, Body: body("body{}")})
		assert.Empty(t, c.RecentEvents(time.Minute, Filter{})[0].ResponseBody)
	})

	t.Run("payload is truncated", func(t *testing.T) {
		c, _ := newTestCorrelator(t, Options{RecordResponses: true, MaxPayloadBytes: 4})
		c.OnRequest(schemas.RequestInfo{Method: "PUT", URL: "https://x/v1/a", PostData: "abcdefgh"})
		c.OnResponse(schemas.ResponseInfo{Method: "PUT", URL: "https://x/v1/a", Status: 201, Body: body("123456")})
		ev := c.RecentEvents(time.Minute, Filter{})[0]
		assert.Equal(t, "abcd", ev.RequestBody)
		assert.Equal(t, "1234", ev.ResponseBody)
	})

	t.Run("GET request bodies are never stored", func(t *testing.T) {
		c, _ := newTestCorrelator(t, DefaultOptions())
		c.OnRequest(schemas.RequestInfo{Method: "GET", URL: "https://x/api/a", PostData: "ignored"})
		assert.Empty(t, c.RecentEvents(time.Minute, Filter{})[0].RequestBody)
	})

	t.Run("body error leaves status intact", func(t *testing.T) {
		c, _ := newTestCorrelator(t, DefaultOptions())
		c.OnRequest(schemas.RequestInfo{Method: "GET", URL: "https://x/api/a"})
		c.OnResponse(schemas.ResponseInfo{Method: "GET", URL: "https://x/api/a", Status: 302,
			Body: func() ([]byte, error) { return nil, errors.New("redirect has no body") }})
		ev := c.RecentEvents(time.Minute, Filter{})[0]
		assert.Equal(t, 302, ev.Status)
		assert.Empty(t, ev.ResponseBody)
	})

	t.Run("recording disabled", func(t *testing.T) {
		c, _ := newTestCorrelator(t, Options{RecordResponses: false})
		c.OnRequest(schemas.RequestInfo{Method: "GET", URL: "https://x/api/a"})
		c.OnResponse(schemas.ResponseInfo{Method: "GET", URL: "https://x/api/a", Status: 200, Body: body("x")})
		assert.Empty(t, c.RecentEvents(time.Minute, Filter{})[0].ResponseBody)
	})
}

func TestIsAPIRequest(t *testing.T) {
	testCases := []struct {
		url, rt string
		want    bool
	}{
		{"https://x/page", "xhr", true},
		{"https://x/page", "Fetch", true},
		{"https://x/api/users", "document", true},
		{"https://x/v2/users", "", true},
		{"https://x/data.json?x=1", "", true},
		{"https://x/index.html", "document", false},
		{"https://x/json", "script", false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, IsAPIRequest(tc.url, tc.rt), tc.url)
	}
}

// -- Test Cases: Queries --

func TestCorrelator_WindowAndFilters(t *testing.T) {
	c, clock := newTestCorrelator(t, DefaultOptions())
	c.OnRequest(schemas.RequestInfo{Method: "GET", URL: "https://x/api/old"})
	clock.Advance(10 * time.Second)
	c.OnRequest(schemas.RequestInfo{Method: "POST", URL: "https://x/api/form"})
	c.OnResponse(schemas.ResponseInfo{Method: "POST", URL: "https://x/api/form", Status: 200})
	c.OnRequest(schemas.RequestInfo{Method: "GET", URL: "https://x/logo.png", ResourceType: "image"})

	assert.Len(t, c.RecentEvents(5*time.Second, Filter{}), 2)
	assert.Len(t, c.RecentEvents(5*time.Second, Filter{APIOnly: true}), 1)
	assert.Len(t, c.RecentEvents(time.Minute, Filter{Method: "get"}), 2)

	assert.True(t, c.CheckBackendSuccess("/api/form", "POST", 2*time.Second))
	assert.False(t, c.CheckBackendSuccess("/api/form", "GET", 2*time.Second))
	clock.Advance(3 * time.Second)
	assert.False(t, c.CheckBackendSuccess("/api/form", "POST", 2*time.Second))
}

func TestCorrelator_Summary(t *testing.T) {
	c, clock := newTestCorrelator(t, DefaultOptions())
	for i, status := range []int{200, 201, 500} {
		u := fmt.Sprintf("https://x/api/%d", i)
		c.OnRequest(schemas.RequestInfo{Method: "GET", URL: u})
		clock.Advance(time.Duration(100*(i+1)) * time.Millisecond)
		c.OnResponse(schemas.ResponseInfo{Method: "GET", URL: u, Status: status})
	}
	c.OnRequest(schemas.RequestInfo{Method: "GET", URL: "https://x/page.html"})

	s := c.Summary()
	assert.Equal(t, 4, s.TotalRequests)
	assert.Equal(t, 3, s.APIRequests)
	assert.Equal(t, 2, s.SuccessfulRequests)
	assert.Equal(t, 1, s.FailedRequests)
	assert.InDelta(t, 200.0, s.AvgAPIResponseTimeMs, 0.001)
}

func TestCorrelator_Prune(t *testing.T) {
	c, clock := newTestCorrelator(t, DefaultOptions())
	c.OnRequest(schemas.RequestInfo{Method: "GET", URL: "https://x/api/stale"})
	clock.Advance(301 * time.Second)
	c.OnRequest(schemas.RequestInfo{Method: "GET", URL: "https://x/api/fresh"})

	assert.Equal(t, 1, c.Prune(300*time.Second))
	events := c.RecentEvents(time.Hour, Filter{})
	require.Len(t, events, 1)
	assert.Equal(t, "https://x/api/fresh", events[0].URL)

	// Responses to pruned requests are dropped quietly.
	c.OnResponse(schemas.ResponseInfo{Method: "GET", URL: "https://x/api/stale", Status: 200})
	assert.Equal(t, 1, c.Len())
}

func TestCorrelator_RecentEventsReturnsCopies(t *testing.T) {
	c, _ := newTestCorrelator(t, DefaultOptions())
	c.OnRequest(schemas.RequestInfo{Method: "GET", URL: "https://x/api/a"})
	events := c.RecentEvents(time.Minute, Filter{})
	events[0].URL = "mutated"
	assert.Equal(t, "https://x/api/a", c.RecentEvents(time.Minute, Filter{})[0].URL)
}

// -- Test Cases: Concurrency --

func TestCorrelator_ConcurrentCallbacks(t *testing.T) {
	c := New(zaptest.NewLogger(t), DefaultOptions())
	const workers, perWorker = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				u := fmt.Sprintf("https://x/api/%d/%d", w, i)
				c.OnRequest(schemas.RequestInfo{Method: "GET", URL: u})
				c.OnResponse(schemas.ResponseInfo{Method: "GET", URL: u, Status: 200, Body: body("{}")})
				_ = c.RecentEvents(time.Minute, Filter{APIOnly: true})
			}
		}(w)
	}
	wg.Wait()

	s := c.Summary()
	assert.Equal(t, workers*perWorker, s.TotalRequests)
	assert.Equal(t, workers*perWorker, s.SuccessfulRequests)
}

// -- Property Tests --

func TestCorrelator_EveryResponseMatchesAtMostOneRequest(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := New(nil, DefaultOptions())
		paths := rapid.SliceOfN(rapid.SampledFrom([]string{"/api/a", "/api/b", "/page"}), 1, 30).Draw(rt, "requests")
		for _, p := range paths {
			c.OnRequest(schemas.RequestInfo{Method: "GET", URL: "https://x" + p})
		}
		responses := rapid.SliceOfN(rapid.SampledFrom([]string{"/api/a", "/api/b", "/page", "/none"}), 0, 30).Draw(rt, "responses")
		for _, p := range responses {
			c.OnResponse(schemas.ResponseInfo{Method: "GET", URL: "https://x" + p, Status: 200})
		}

		sent, answered := map[string]int{}, map[string]int{}
		for _, p := range paths {
			sent[p]++
		}
		for _, p := range responses {
			answered[p]++
		}
		matched := map[string]int{}
		for _, ev := range c.RecentEvents(time.Hour, Filter{}) {
			if ev.Status == 200 {
				matched[strings.TrimPrefix(ev.URL, "https://x")]++
			}
			if ev.Latency < 0 {
				rt.Fatalf("negative latency on %s", ev.URL)
			}
		}
		for p, n := range sent {
			want := n
			if answered[p] < want {
				want = answered[p]
			}
			if matched[p] != want {
				rt.Fatalf("path %s: matched %d, want %d", p, matched[p], want)
			}
		}
	})
}
