// internal/browser/session/network.go
package session

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

const bodyFetchTimeout = 30 * time.Second

// requestState tracks one request between requestWillBeSent and
// loadingFinished/loadingFailed.
type requestState struct {
	info   schemas.RequestInfo
	status int
}

// networkTap turns CDP Network domain events into NetworkListener callbacks.
// Responses are reported on loadingFinished so the body is retrievable.
type networkTap struct {
	logger   *zap.Logger
	executor ActionExecutor

	mu        sync.Mutex
	requests  map[network.RequestID]*requestState
	docStatus map[cdp.LoaderID]int
	listeners []schemas.NetworkListener

	wg sync.WaitGroup // Response callbacks in flight.
}

func newNetworkTap(logger *zap.Logger, executor ActionExecutor) *networkTap {
	return &networkTap{
		logger:    logger.Named("network"),
		executor:  executor,
		requests:  make(map[network.RequestID]*requestState),
		docStatus: make(map[cdp.LoaderID]int),
	}
}

func (t *networkTap) subscribe(l schemas.NetworkListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

func (t *networkTap) snapshotLocked() []schemas.NetworkListener {
	return append([]schemas.NetworkListener(nil), t.listeners...)
}

// handle dispatches one CDP event. It must not block: it runs on the
// chromedp event goroutine.
func (t *networkTap) handle(ev any) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.handleRequestWillBeSent(ev)
	case *network.EventResponseReceived:
		t.handleResponseReceived(ev)
	case *network.EventLoadingFinished:
		t.handleLoadingFinished(ev)
	case *network.EventLoadingFailed:
		t.handleLoadingFailed(ev)
	}
}

func resourceType(rt network.ResourceType) string {
	return strings.ToLower(string(rt))
}

func postData(req *network.Request) string {
	if req == nil || !req.HasPostData {
		return ""
	}
	var b strings.Builder
	for _, entry := range req.PostDataEntries {
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			b.WriteString(entry.Bytes)
			continue
		}
		b.Write(decoded)
	}
	return b.String()
}

func (t *networkTap) handleRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	if ev.Request == nil || strings.HasPrefix(ev.Request.URL, "data:") {
		return
	}
	t.mu.Lock()
	// A redirect reuses the request ID; report the previous hop as answered.
	if prev, ok := t.requests[ev.RequestID]; ok && ev.RedirectResponse != nil {
		resp := schemas.ResponseInfo{
			Method:       prev.info.Method,
			URL:          prev.info.URL,
			Status:       int(ev.RedirectResponse.Status),
			ResourceType: prev.info.ResourceType,
		}
		t.emitResponseLocked(resp)
	}
	info := schemas.RequestInfo{
		Method:       ev.Request.Method,
		URL:          ev.Request.URL + ev.Request.URLFragment,
		ResourceType: resourceType(ev.Type),
		PostData:     postData(ev.Request),
	}
	t.requests[ev.RequestID] = &requestState{info: info}
	listeners := t.snapshotLocked()
	t.mu.Unlock()

	for _, l := range listeners {
		l.OnRequest(info)
	}
}

func (t *networkTap) handleResponseReceived(ev *network.EventResponseReceived) {
	if ev.Response == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.requests[ev.RequestID]; ok {
		st.status = int(ev.Response.Status)
	}
	if ev.Type == network.ResourceTypeDocument {
		t.docStatus[ev.LoaderID] = int(ev.Response.Status)
	}
}

func (t *networkTap) handleLoadingFinished(ev *network.EventLoadingFinished) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.requests[ev.RequestID]
	if !ok {
		return
	}
	delete(t.requests, ev.RequestID)
	t.emitResponseLocked(schemas.ResponseInfo{
		Method:       st.info.Method,
		URL:          st.info.URL,
		Status:       st.status,
		ResourceType: st.info.ResourceType,
		Body:         t.bodyFetcher(ev.RequestID),
	})
}

func (t *networkTap) handleLoadingFailed(ev *network.EventLoadingFailed) {
	t.mu.Lock()
	st, ok := t.requests[ev.RequestID]
	if ok {
		delete(t.requests, ev.RequestID)
	}
	listeners := t.snapshotLocked()
	t.mu.Unlock()
	if !ok {
		return
	}

	reason := ev.ErrorText
	if ev.Canceled {
		reason = "net::ERR_ABORTED"
	}
	for _, l := range listeners {
		l.OnRequestFailed(st.info, reason)
	}
}

// emitResponseLocked hands the response to listeners on a new goroutine so
// a listener reading the body does not stall the event loop.
func (t *networkTap) emitResponseLocked(resp schemas.ResponseInfo) {
	listeners := t.snapshotLocked()
	if len(listeners) == 0 {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for _, l := range listeners {
			l.OnResponse(resp)
		}
	}()
}

func (t *networkTap) bodyFetcher(id network.RequestID) func() ([]byte, error) {
	return func() ([]byte, error) {
		ctx, cancel := context.WithTimeout(context.Background(), bodyFetchTimeout)
		defer cancel()

		var body []byte
		err := t.executor.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(c)
			return err
		}))
		if err != nil {
			t.logger.Debug("Failed to fetch response body.", zap.String("request_id", string(id)), zap.Error(err))
			return nil, err
		}
		return body, nil
	}
}

// documentStatus returns the main-document status recorded for a loader.
func (t *networkTap) documentStatus(loader cdp.LoaderID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.docStatus[loader]
}

// wait blocks until in-flight response callbacks return or ctx is done.
func (t *networkTap) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.logger.Warn("Timed out waiting for network callbacks to drain.", zap.Error(ctx.Err()))
	}
}
