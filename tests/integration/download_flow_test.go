package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/garrix/Calamari/internal/cache"
	"github.com/garrix/Calamari/internal/config"
	"github.com/garrix/Calamari/internal/download"
	"github.com/garrix/Calamari/internal/feed"
	"github.com/garrix/Calamari/internal/maven"
	"github.com/garrix/Calamari/internal/server"
	"github.com/garrix/Calamari/internal/server/routes"
)

// repoStub simulates a Maven-style repository that serves a single
// packaging variant and records every request it sees.
type repoStub struct {
	server *httptest.Server

	mu       sync.Mutex
	ext      string
	body     []byte
	heads    int
	gets     int
	lastAuth string
}

func newRepoStub(t *testing.T, ext string, body []byte) *repoStub {
	t.Helper()
	stub := &repoStub{ext: ext, body: body}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.lastAuth = r.Header.Get("Authorization")
		served := strings.HasSuffix(r.URL.Path, "."+stub.ext)
		if served {
			if r.Method == http.MethodHead {
				stub.heads++
			} else {
				stub.gets++
			}
		}
		payload := stub.body
		stub.mu.Unlock()

		if !served {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodGet {
			_, _ = w.Write(payload)
		}
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *repoStub) requestCounts() (heads, gets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heads, s.gets
}

func (s *repoStub) authHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth
}

// newStack wires the full application the way main does: config-shaped
// feeds, disk cache, resolver/fetcher and the Fiber surface on top.
func newStack(t *testing.T, feeds []config.FeedConfig, storage string) *fiber.App {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	registry, err := feed.NewRegistry(feeds)
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	roots, err := cache.NewRoots(storage)
	if err != nil {
		t.Fatalf("roots error: %v", err)
	}

	codec := maven.NewCodec()
	client := feed.NewUpstreamClient(nil)
	downloader, err := download.New(download.Options{
		Roots:       roots,
		Scanner:     cache.NewScanner(codec, logger),
		Resolver:    feed.NewResolver(client, codec, logger),
		Fetcher:     feed.NewFetcher(client, codec, logger),
		Feeds:       registry,
		Logger:      logger,
		MaxAttempts: 2,
	})
	if err != nil {
		t.Fatalf("downloader error: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Downloader: downloader,
		Feeds:      registry,
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	routes.RegisterDiagnostics(app, registry)
	return app
}

func postJSON(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/packages/download", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func decodeResult(t *testing.T, resp *http.Response) download.Result {
	t.Helper()
	defer resp.Body.Close()
	var result download.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return result
}

func TestDownloadFlowEndToEnd(t *testing.T) {
	payload := []byte("end-to-end artifact")
	stub := newRepoStub(t, "war", payload)
	app := newStack(t, []config.FeedConfig{
		{Name: "central", Uri: stub.server.URL},
	}, t.TempDir())

	body := `{"package_id":"com.example:webapp","version":"2.1.0","feed":"central"}`

	// Miss -> probe + fetch from upstream.
	resp := postJSON(t, app, body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	first := decodeResult(t, resp)
	if first.CacheHit {
		t.Fatalf("first request must not hit the cache")
	}
	if first.Size != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", first.Size)
	}
	if !strings.HasSuffix(first.Path, ".war") {
		t.Fatalf("expected resolved .war packaging, got %s", first.Path)
	}
	got, err := os.ReadFile(first.Path)
	if err != nil || string(got) != string(payload) {
		t.Fatalf("cached file mismatch: %v", err)
	}

	_, getsAfterFirst := stub.requestCounts()
	if getsAfterFirst != 1 {
		t.Fatalf("expected single upstream GET, got %d", getsAfterFirst)
	}

	// Second request is served from disk without touching upstream.
	resp2 := postJSON(t, app, body)
	second := decodeResult(t, resp2)
	if !second.CacheHit {
		t.Fatalf("expected cache hit on second request")
	}
	if second.Path != first.Path || second.Hash != first.Hash {
		t.Fatalf("cache hit should return the same file: %+v", second)
	}
	if _, gets := stub.requestCounts(); gets != 1 {
		t.Fatalf("cache hit must not fetch again, got %d GETs", gets)
	}

	// Force re-download lands in a fresh file.
	resp3 := postJSON(t, app, `{"package_id":"com.example:webapp","version":"2.1.0","feed":"central","force":true}`)
	third := decodeResult(t, resp3)
	if third.CacheHit {
		t.Fatalf("forced request must not report cache hit")
	}
	if third.Path == first.Path {
		t.Fatalf("forced request must use a fresh destination")
	}
	if _, gets := stub.requestCounts(); gets != 2 {
		t.Fatalf("expected second upstream GET after force, got %d", gets)
	}
}

func TestDownloadFlowNotFound(t *testing.T) {
	stub := newRepoStub(t, "jar", []byte("x"))
	stub.server.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	app := newStack(t, []config.FeedConfig{
		{Name: "central", Uri: stub.server.URL},
	}, t.TempDir())

	resp := postJSON(t, app, `{"package_id":"com.example:ghost","version":"0.0.1","feed":"central"}`)
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 when no packaging exists, got %d", resp.StatusCode)
	}
}

func TestDownloadFlowCredentialForwarding(t *testing.T) {
	stub := newRepoStub(t, "jar", []byte("secret artifact"))
	app := newStack(t, []config.FeedConfig{
		{Name: "internal", Uri: stub.server.URL, Username: "ci", Password: "s3cret"},
	}, t.TempDir())

	resp := postJSON(t, app, `{"package_id":"com.corp:lib","version":"1.0.0","feed":"internal"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	decodeResult(t, resp)

	auth := stub.authHeader()
	if !strings.HasPrefix(auth, "Basic ") {
		t.Fatalf("expected Basic auth forwarded upstream, got %q", auth)
	}
}

func TestDiagnosticsEndpoints(t *testing.T) {
	stub := newRepoStub(t, "jar", []byte("x"))
	app := newStack(t, []config.FeedConfig{
		{Name: "central", Uri: stub.server.URL},
	}, t.TempDir())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/-/health", nil))
	if err != nil {
		t.Fatalf("health request error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 from health, got %d", resp.StatusCode)
	}

	resp2, err := app.Test(httptest.NewRequest(http.MethodGet, "/-/feeds", nil))
	if err != nil {
		t.Fatalf("feeds request error: %v", err)
	}
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	if !strings.Contains(string(body), "central") {
		t.Fatalf("feeds listing should include configured feed: %s", string(body))
	}
}
