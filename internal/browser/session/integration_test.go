// internal/browser/session/integration_test.go
package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/config"
)

type pingListener struct {
	responses chan schemas.ResponseInfo
}

func (l *pingListener) OnRequest(schemas.RequestInfo) {}

func (l *pingListener) OnResponse(resp schemas.ResponseInfo) {
	if !strings.HasSuffix(resp.URL, "/api/ping") {
		return
	}
	select {
	case l.responses <- resp:
	default:
	}
}

func (l *pingListener) OnRequestFailed(schemas.RequestInfo, string) {}

// Drives a real Chromium over CDP. Set ATLAS_BROWSER_TESTS=1 to run.
func TestDriver_Integration(t *testing.T) {
	if os.Getenv("ATLAS_BROWSER_TESTS") == "" {
		t.Skip("set ATLAS_BROWSER_TESTS=1 to run browser integration tests")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/frame", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div class="g-recaptcha" data-sitekey="k1"></div></body></html>`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Fixture</title></head><body>
<label for="email">Email</label><input id="email" name="email">
<button id="go" onclick="fetch('/api/ping')">Sign in</button><button>Other</button>
<iframe src="/frame"></iframe>
</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := &config.Config{BrowserCfg: config.BrowserConfig{Headless: true, DefaultTimeout: 5 * time.Second}}
	d, err := NewDriver(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	defer func() { assert.NoError(t, d.Shutdown(context.Background())) }()

	page, err := d.NewPage(ctx)
	require.NoError(t, err)
	rec := &pingListener{responses: make(chan schemas.ResponseInfo, 1)}
	page.Subscribe(rec)

	nav, err := page.Goto(ctx, srv.URL, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 200, nav.Status)
	assert.Equal(t, srv.URL+"/", page.URL())

	title, err := page.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Fixture", title)

	err = page.Locate("button").Click(ctx, schemas.ClickOptions{})
	assert.ErrorIs(t, err, schemas.ErrMultipleMatches)
	require.NoError(t, page.Locate("button").First().WaitVisible(ctx, time.Second))

	require.NoError(t, page.Locate("label=Email").Type(ctx, "a@b.co", func() time.Duration { return time.Millisecond }))
	v, err := page.Evaluate(ctx, `() => document.querySelector('#email').value`)
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", v)

	// The iframe may still be loading after DOMContentLoaded.
	var key string
	require.Eventually(t, func() bool {
		frames, err := page.Frames(ctx)
		if err != nil || len(frames) != 1 {
			return false
		}
		val, ok, err := frames[0].Locate(".g-recaptcha").Attribute(ctx, "data-sitekey")
		key = val
		return err == nil && ok
	}, 10*time.Second, 100*time.Millisecond)
	assert.Equal(t, "k1", key)

	require.NoError(t, page.Locate("#go").Click(ctx, schemas.ClickOptions{Delay: 10 * time.Millisecond}))
	select {
	case resp := <-rec.responses:
		body, err := resp.Body()
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(body))
	case <-ctx.Done():
		t.Fatal("no response event for /api/ping")
	}

	require.NoError(t, page.Close(ctx))
	require.NoError(t, page.Close(ctx), "close is idempotent")
}
