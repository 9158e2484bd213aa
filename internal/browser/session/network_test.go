// internal/browser/session/network_test.go
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeExecutor) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type failedRequest struct {
	req    schemas.RequestInfo
	reason string
}

type tapRecorder struct {
	mu        sync.Mutex
	requests  []schemas.RequestInfo
	responses []schemas.ResponseInfo
	failures  []failedRequest
}

func (r *tapRecorder) OnRequest(req schemas.RequestInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

func (r *tapRecorder) OnResponse(resp schemas.ResponseInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
}

func (r *tapRecorder) OnRequestFailed(req schemas.RequestInfo, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failedRequest{req, reason})
}

func newTestTap(t *testing.T) (*networkTap, *tapRecorder, *fakeExecutor) {
	t.Helper()
	exec := &fakeExecutor{err: errors.New("no resource with given identifier found")}
	tap := newNetworkTap(zaptest.NewLogger(t), exec)
	rec := &tapRecorder{}
	tap.subscribe(rec)
	return tap, rec, exec
}

func requestEvent(id, method, url string, rt network.ResourceType) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		RequestID: network.RequestID(id),
		Request:   &network.Request{Method: method, URL: url},
		Type:      rt,
	}
}

// Verifies a request is reported on start and its response once loading finishes.
func TestNetworkTap_RequestResponse(t *testing.T) {
	tap, rec, exec := newTestTap(t)

	tap.handle(requestEvent("1", "GET", "https://example.com/api/me", network.ResourceTypeFetch))
	tap.handle(&network.EventResponseReceived{
		RequestID: "1",
		Type:      network.ResourceTypeFetch,
		Response:  &network.Response{Status: 200},
	})

	rec.mu.Lock()
	require.Len(t, rec.requests, 1)
	assert.Equal(t, schemas.RequestInfo{Method: "GET", URL: "https://example.com/api/me", ResourceType: "fetch"}, rec.requests[0])
	assert.Empty(t, rec.responses, "responses wait for loadingFinished")
	rec.mu.Unlock()

	tap.handle(&network.EventLoadingFinished{RequestID: "1"})
	tap.wait(t.Context())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.responses, 1)
	resp := rec.responses[0]
	assert.Equal(t, "GET", resp.Method)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "fetch", resp.ResourceType)

	require.NotNil(t, resp.Body)
	_, err := resp.Body()
	assert.Error(t, err)
	assert.Equal(t, 1, exec.calls)
}

func TestNetworkTap_PostDataAndDataURLs(t *testing.T) {
	tap, rec, _ := newTestTap(t)

	ev := requestEvent("1", "POST", "https://example.com/login", network.ResourceTypeXHR)
	ev.Request.HasPostData = true
	ev.Request.PostDataEntries = []*network.PostDataEntry{
		{Bytes: base64.StdEncoding.EncodeToString([]byte(`{"email":`))},
		{Bytes: base64.StdEncoding.EncodeToString([]byte(`"a@b.c"}`))},
	}
	tap.handle(ev)
	tap.handle(requestEvent("2", "GET", "data:image/png;base64,AAAA", network.ResourceTypeImage))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.requests, 1)
	assert.Equal(t, `{"email":"a@b.c"}`, rec.requests[0].PostData)
	assert.Equal(t, "xhr", rec.requests[0].ResourceType)
}

// Verifies a redirect reports the previous hop's response before the new request.
func TestNetworkTap_Redirect(t *testing.T) {
	tap, rec, _ := newTestTap(t)

	tap.handle(requestEvent("1", "GET", "https://example.com/old", network.ResourceTypeDocument))
	next := requestEvent("1", "GET", "https://example.com/new", network.ResourceTypeDocument)
	next.RedirectResponse = &network.Response{Status: 302}
	tap.handle(next)
	tap.wait(t.Context())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.requests, 2)
	assert.Equal(t, "https://example.com/new", rec.requests[1].URL)
	require.Len(t, rec.responses, 1)
	assert.Equal(t, "https://example.com/old", rec.responses[0].URL)
	assert.Equal(t, 302, rec.responses[0].Status)
	assert.Nil(t, rec.responses[0].Body)
}

func TestNetworkTap_Failures(t *testing.T) {
	tap, rec, _ := newTestTap(t)

	tap.handle(requestEvent("1", "GET", "https://example.com/a", network.ResourceTypeFetch))
	tap.handle(requestEvent("2", "GET", "https://example.com/b", network.ResourceTypeFetch))
	tap.handle(&network.EventLoadingFailed{RequestID: "1", ErrorText: "net::ERR_CONNECTION_REFUSED"})
	tap.handle(&network.EventLoadingFailed{RequestID: "2", ErrorText: "", Canceled: true})
	tap.handle(&network.EventLoadingFailed{RequestID: "unknown", ErrorText: "net::ERR_FAILED"})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.failures, 2)
	assert.Equal(t, "https://example.com/a", rec.failures[0].req.URL)
	assert.Equal(t, "net::ERR_CONNECTION_REFUSED", rec.failures[0].reason)
	assert.Equal(t, "net::ERR_ABORTED", rec.failures[1].reason)
}

func TestNetworkTap_DocumentStatus(t *testing.T) {
	tap, _, _ := newTestTap(t)
	tap.handle(&network.EventResponseReceived{
		RequestID: "1",
		LoaderID:  cdp.LoaderID("L1"),
		Type:      network.ResourceTypeDocument,
		Response:  &network.Response{Status: 404},
	})
	tap.handle(&network.EventResponseReceived{
		RequestID: "2",
		LoaderID:  cdp.LoaderID("L1"),
		Type:      network.ResourceTypeScript,
		Response:  &network.Response{Status: 200},
	})
	assert.Equal(t, 404, tap.documentStatus("L1"))
	assert.Zero(t, tap.documentStatus("L2"))
}
