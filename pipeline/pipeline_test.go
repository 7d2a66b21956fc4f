package pipeline

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/neomody77/avalon-sub001/acmeclient"
	"github.com/neomody77/avalon-sub001/hooks"
	"github.com/neomody77/avalon-sub001/metrics"
	"github.com/neomody77/avalon-sub001/plugin"
	"github.com/neomody77/avalon-sub001/ratelimit"
	"github.com/neomody77/avalon-sub001/route"
	"github.com/neomody77/avalon-sub001/upstream"
)

func tableWith(t *testing.T, routes ...*route.Route) *route.Holder {
	t.Helper()
	tbl, err := route.NewTable(1, routes)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return route.NewHolder(tbl)
}

func newTestPipeline(t *testing.T, routes *route.Holder, pools map[string]*upstream.Pool) *Pipeline {
	t.Helper()
	return New(routes, pools, hooks.NewExecutor(), nil)
}

func TestServeHTTPRouteNotFound(t *testing.T) {
	p := newTestPipeline(t, tableWith(t), nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/nope", nil)
	p.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", w.Code)
	}
}

func TestServeHTTPStaticResponse(t *testing.T) {
	rt := &route.Route{
		Match:          route.Match{PathPrefix: "/hello"},
		Kind:           route.StaticResponseHandler,
		StaticResponse: &route.StaticResponseConfig{Status: http.StatusOK, Body: "hi there"},
	}
	p := newTestPipeline(t, tableWith(t, rt), nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/hello/world", nil)
	p.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	if w.Body.String() != "hi there" {
		t.Fatalf("got body %q", w.Body.String())
	}
}

func TestServeHTTPFileServer(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("file content"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	rt := &route.Route{
		Match:      route.Match{PathPrefix: "/static"},
		Kind:       route.FileServerHandler,
		FileServer: &route.FileServerConfig{Root: dir},
	}
	p := newTestPipeline(t, tableWith(t, rt), nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/static/index.html", nil)
	p.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	if w.Body.String() != "file content" {
		t.Fatalf("got body %q", w.Body.String())
	}
}

func TestServeHTTPReverseProxyDispatch(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("from upstream"))
	}))
	defer backend.Close()

	server := upstream.NewServer(backend.Listener.Addr().String(), false, 1)
	pool := upstream.NewPool("web", []*upstream.Server{server}, upstream.RoundRobin, upstream.ActiveCheck{})

	rt := &route.Route{
		Match:        route.Match{PathPrefix: "/"},
		Kind:         route.ReverseProxyHandler,
		ReverseProxy: &route.ReverseProxyConfig{PoolID: "web"},
	}
	p := newTestPipeline(t, tableWith(t, rt), map[string]*upstream.Pool{"web": pool})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/anything", nil)
	p.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	if w.Body.String() != "from upstream" {
		t.Fatalf("got body %q", w.Body.String())
	}
	if w.Header().Get("X-Backend") != "yes" {
		t.Fatalf("expected upstream response headers to be proxied through")
	}
}

func TestServeHTTPReverseProxyUnknownPool(t *testing.T) {
	rt := &route.Route{
		Match:        route.Match{PathPrefix: "/"},
		Kind:         route.ReverseProxyHandler,
		ReverseProxy: &route.ReverseProxyConfig{PoolID: "missing"},
	}
	p := newTestPipeline(t, tableWith(t, rt), map[string]*upstream.Pool{})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	p.ServeHTTP(w, r)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("got status %d, want 502 for an unknown pool reference", w.Code)
	}
}

func TestServeHTTPRateLimitDenied(t *testing.T) {
	p := newTestPipeline(t, tableWith(t), nil)
	p.Limiter = ratelimit.New(1, 0, 60)

	r1 := httptest.NewRequest(http.MethodGet, "/x", nil)
	r1.RemoteAddr = "10.0.0.5:1234"
	w1 := httptest.NewRecorder()
	p.ServeHTTP(w1, r1)
	if w1.Code == http.StatusTooManyRequests {
		t.Fatalf("the first request within capacity should not be rate-limited")
	}

	r2 := httptest.NewRequest(http.MethodGet, "/x", nil)
	r2.RemoteAddr = "10.0.0.5:1234"
	w2 := httptest.NewRecorder()
	p.ServeHTTP(w2, r2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("got status %d, want 429 once the capacity is exhausted", w2.Code)
	}
	if w2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected a Retry-After header on a rate-limited response")
	}
}

func TestServeHTTPACMEChallengeIntercept(t *testing.T) {
	p := newTestPipeline(t, tableWith(t), nil)
	p.Challenges = acmeclient.NewChallengeMap()
	p.Challenges.Put("tok123", "key-auth-value")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/tok123", nil)
	p.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	if w.Body.String() != "key-auth-value" {
		t.Fatalf("got body %q", w.Body.String())
	}
}

func TestServeHTTPACMEChallengeMissingToken(t *testing.T) {
	p := newTestPipeline(t, tableWith(t), nil)
	p.Challenges = acmeclient.NewChallengeMap()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/nope", nil)
	p.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404 for an unknown challenge token", w.Code)
	}
}

// TestServeHTTPHookShortCircuitHonorsResponseStatus guards against a
// short-circuit that chose a specific ctx.ResponseStatus (e.g. an
// ip_filter-style plugin) silently defaulting to 200.
func TestServeHTTPHookShortCircuitHonorsResponseStatus(t *testing.T) {
	exec := hooks.NewExecutor()
	exec.Register(hooks.Binding{
		Phase:    hooks.EarlyRequest,
		Priority: 10,
		PluginID: "test_denier",
		Fn: func(ctx *plugin.Context) (hooks.Action, error) {
			ctx.ResponseStatus = http.StatusForbidden
			return hooks.ShortCircuit, nil
		},
	})
	p := New(tableWith(t), nil, exec, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	p.ServeHTTP(w, r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403 (the hook's chosen ResponseStatus)", w.Code)
	}
}

func TestServeHTTPHookShortCircuitWithoutStatusDefaultsTo200(t *testing.T) {
	exec := hooks.NewExecutor()
	exec.Register(hooks.Binding{
		Phase:    hooks.EarlyRequest,
		Priority: 10,
		PluginID: "test_bare_shortcircuit",
		Fn: func(ctx *plugin.Context) (hooks.Action, error) {
			return hooks.ShortCircuit, nil
		},
	})
	p := New(tableWith(t), nil, exec, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	p.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200 as the no-opinion fallback", w.Code)
	}
}

func TestServeHTTPHookErrorSynthesizes500(t *testing.T) {
	exec := hooks.NewExecutor()
	exec.Register(hooks.Binding{
		Phase:    hooks.EarlyRequest,
		Priority: 10,
		PluginID: "test_erroring",
		Fn: func(ctx *plugin.Context) (hooks.Action, error) {
			return hooks.Continue, errHookFailure
		},
	})
	p := New(tableWith(t), nil, exec, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	p.ServeHTTP(w, r)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d, want 500 for a hook error", w.Code)
	}
}

func TestServeHTTPLoggingRunsEvenOnShortCircuit(t *testing.T) {
	exec := hooks.NewExecutor()
	exec.Register(hooks.Binding{
		Phase:    hooks.EarlyRequest,
		Priority: 10,
		PluginID: "test_denier",
		Fn: func(ctx *plugin.Context) (hooks.Action, error) {
			ctx.ResponseStatus = http.StatusForbidden
			return hooks.ShortCircuit, nil
		},
	})
	p := New(tableWith(t), nil, exec, nil)
	reg := prometheus.NewRegistry()
	p.Metrics = metrics.New(reg)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	p.ServeHTTP(w, r)

	count := testutilCounterSum(t, p.Metrics)
	if count != 1 {
		t.Fatalf("got %v requests recorded, want 1 even though the pipeline short-circuited", count)
	}
}

func testutilCounterSum(t *testing.T, m *metrics.Collectors) float64 {
	t.Helper()
	metricCh := make(chan prometheus.Metric, 16)
	m.RequestsTotal.Collect(metricCh)
	close(metricCh)
	var sum float64
	for metric := range metricCh {
		var d dto.Metric
		if err := metric.Write(&d); err != nil {
			t.Fatalf("Write: %v", err)
		}
		sum += d.GetCounter().GetValue()
	}
	return sum
}

var errHookFailure = httptestErr("hook exploded")

type httptestErr string

func (e httptestErr) Error() string { return string(e) }
