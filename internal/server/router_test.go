package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/britannia/offline-hub/internal/cache"
	"github.com/britannia/offline-hub/internal/classify"
	"github.com/britannia/offline-hub/internal/config"
	"github.com/britannia/offline-hub/internal/lifecycle"
	"github.com/britannia/offline-hub/internal/strategy"
	"github.com/britannia/offline-hub/internal/upstream"
)

func testConfig(origin, mode string) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort:      5080,
			Mode:            mode,
			Origin:          origin,
			StorageBackend:  config.BackendMemory,
			UpstreamTimeout: config.Duration(5 * time.Second),
		},
		Cache: config.CacheConfig{
			CachePrefix:         "britannia",
			CacheVersion:        "v1",
			ModelPathSegment:    "/models/",
			MaxModelAge:         config.Duration(24 * time.Hour),
			RootDocument:        "./index.html",
			ShellAssets:         []string{"./", "./index.html"},
			PrecacheConcurrency: 2,
		},
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type recordingInterceptor struct {
	last    *http.Request
	outcome lifecycle.Outcome
}

func (r *recordingInterceptor) Handle(_ context.Context, req *http.Request) lifecycle.Outcome {
	r.last = req
	return r.outcome
}

func newApp(t *testing.T, cfg *config.Config, interceptor Interceptor, passthrough upstream.Fetcher) *fiber.App {
	t.Helper()
	app, err := NewApp(AppOptions{
		Logger:      quietLogger(),
		Config:      cfg,
		Interceptor: interceptor,
		Passthrough: passthrough,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return app
}

func TestNewAppRequiresDependencies(t *testing.T) {
	cfg := testConfig("https://britannia.example.com", config.ModeReverse)
	cases := []AppOptions{
		{Config: cfg, Interceptor: &recordingInterceptor{}, Passthrough: upstream.NewFetcher(nil)},
		{Logger: quietLogger(), Interceptor: &recordingInterceptor{}, Passthrough: upstream.NewFetcher(nil)},
		{Logger: quietLogger(), Config: cfg, Passthrough: upstream.NewFetcher(nil)},
		{Logger: quietLogger(), Config: cfg, Interceptor: &recordingInterceptor{}},
	}
	for i, opts := range cases {
		if _, err := NewApp(opts); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestInterceptedResponseIsWritten(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "text/html")
	header.Add("Set-Cookie", "a=1")
	header.Add("Set-Cookie", "b=2")
	header.Set("Connection", "close")
	interceptor := &recordingInterceptor{outcome: lifecycle.Outcome{
		Intercepted: true,
		Category:    classify.Shell,
		Result: strategy.Result{
			Response: &cache.Response{StatusCode: http.StatusOK, Header: header, Body: []byte("<html>cached</html>")},
			Source:   strategy.SourceCache,
		},
	}}
	app := newApp(t, testConfig("https://britannia.example.com/app/", config.ModeReverse), interceptor, upstream.NewFetcher(nil))

	req := httptest.NewRequest(http.MethodGet, "http://hub.local/app/index.html?lang=en", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "<html>cached</html>" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get(HeaderStrategy) != "shell" || resp.Header.Get(HeaderSource) != "cache" {
		t.Fatalf("missing strategy headers: %v", resp.Header)
	}
	if len(resp.Header.Values("Set-Cookie")) != 2 {
		t.Fatalf("multi-value header collapsed: %v", resp.Header.Values("Set-Cookie"))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	if got := interceptor.last.URL.String(); got != "https://britannia.example.com/app/index.html?lang=en" {
		t.Fatalf("unexpected upstream url %s", got)
	}
	if interceptor.last.Host != "britannia.example.com" {
		t.Fatalf("unexpected upstream host %s", interceptor.last.Host)
	}
}

type capturingInterceptor struct {
	mu       sync.Mutex
	requests []*http.Request
}

func (c *capturingInterceptor) Handle(_ context.Context, req *http.Request) lifecycle.Outcome {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	return lifecycle.Outcome{
		Intercepted: true,
		Category:    classify.Shell,
		Result:      strategy.Result{Response: &cache.Response{StatusCode: http.StatusOK, Header: http.Header{}}, Source: strategy.SourceCache},
	}
}

func (c *capturingInterceptor) first() *http.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[0]
}

// 后台刷新会在处理器返回后继续使用请求，后续请求复用 Ctx 不能改写它。
func TestRetainedRequestSurvivesContextReuse(t *testing.T) {
	interceptor := &capturingInterceptor{}
	app := newApp(t, testConfig("https://britannia.example.com", config.ModeReverse), interceptor, upstream.NewFetcher(nil))

	if _, err := app.Test(httptest.NewRequest(http.MethodGet, "http://aaaaaaaaaaaa.local/app.css", nil)); err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	retained := interceptor.first()
	if got := retained.Header.Get("X-Forwarded-Host"); got != "aaaaaaaaaaaa.local" {
		t.Fatalf("unexpected X-Forwarded-Host %q", got)
	}

	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "http://bbbbbbbbbbbb.local/lib.js", nil)
		if _, err := app.Test(req); err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
	}

	if got := retained.Header.Get("X-Forwarded-Host"); got != "aaaaaaaaaaaa.local" {
		t.Fatalf("retained request mutated after handler returned: %q", got)
	}
	if retained.Method != http.MethodGet || retained.URL.Path != "/app.css" {
		t.Fatalf("retained request target mutated: %s %s", retained.Method, retained.URL)
	}
}

func TestForwardModeUsesRequestHost(t *testing.T) {
	interceptor := &recordingInterceptor{outcome: lifecycle.Outcome{
		Intercepted: true,
		Category:    classify.Shell,
		Result:      strategy.Result{Response: strategy.Unavailable(strategy.ShellUnavailableBody), Source: strategy.SourceSynthetic},
	}}
	app := newApp(t, testConfig("http://britannia.local", config.ModeForward), interceptor, upstream.NewFetcher(nil))

	req := httptest.NewRequest(http.MethodGet, "http://cdn.local/lib.js", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if interceptor.last.URL.Host != "cdn.local" || interceptor.last.URL.Path != "/lib.js" {
		t.Fatalf("unexpected forward target %s", interceptor.last.URL)
	}
}

func TestPassthroughForwardsBody(t *testing.T) {
	var gotBody atomic.Value
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("saved"))
	}))
	defer origin.Close()

	interceptor := &recordingInterceptor{outcome: lifecycle.Outcome{Category: classify.Ignored}}
	app := newApp(t, testConfig(origin.URL, config.ModeReverse), interceptor, upstream.NewFetcher(origin.Client()))

	req := httptest.NewRequest(http.MethodPost, "http://hub.local/api/save", strings.NewReader(`{"x":1}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated || string(body) != "saved" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}
	if gotBody.Load() != `{"x":1}` {
		t.Fatalf("request body not forwarded: %v", gotBody.Load())
	}
	if resp.Header.Get(HeaderSource) != "" {
		t.Fatalf("pass-through responses should not carry interception headers")
	}
}

func TestPassthroughFailureReturns502(t *testing.T) {
	interceptor := &recordingInterceptor{outcome: lifecycle.Outcome{Category: classify.Ignored}}
	failing := upstream.FetcherFunc(func(context.Context, *http.Request) (*cache.Response, error) {
		return nil, errors.New("connection refused")
	})
	app := newApp(t, testConfig("https://britannia.example.com", config.ModeReverse), interceptor, failing)

	resp, err := app.Test(httptest.NewRequest(http.MethodPut, "http://hub.local/api", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusBadGateway || !strings.Contains(string(body), "upstream_failed") {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
}

func TestDiagnosticsPathSkipsInterception(t *testing.T) {
	interceptor := &recordingInterceptor{}
	app := newApp(t, testConfig("https://britannia.example.com", config.ModeReverse), interceptor, upstream.NewFetcher(nil))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "http://hub.local/-/unknown", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered diagnostics path, got %d", resp.StatusCode)
	}
	if interceptor.last != nil {
		t.Fatalf("diagnostics path reached the interceptor")
	}
}

func TestOfflineFlowThroughController(t *testing.T) {
	var offline atomic.Bool
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>shell</html>"))
	}))
	defer origin.Close()

	live := upstream.NewFetcher(origin.Client())
	fetcher := upstream.FetcherFunc(func(ctx context.Context, req *http.Request) (*cache.Response, error) {
		if offline.Load() {
			return nil, errors.New("network unreachable")
		}
		return live.Fetch(ctx, req)
	})
	cfg := testConfig(origin.URL, config.ModeReverse)
	ctrl, err := lifecycle.New(lifecycle.Options{Config: cfg, Store: cache.NewMemoryStore(), Fetcher: fetcher})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	ctrl.Install(context.Background())
	ctrl.Activate(context.Background())
	app := newApp(t, cfg, ctrl, fetcher)

	offline.Store(true)
	req := httptest.NewRequest(http.MethodGet, "http://hub.local/dashboard", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "<html>shell</html>" {
		t.Fatalf("expected offline shell, got %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get(HeaderSource) != string(strategy.SourceOfflineShell) {
		t.Fatalf("unexpected source %s", resp.Header.Get(HeaderSource))
	}
	ctrl.Wait()
}
