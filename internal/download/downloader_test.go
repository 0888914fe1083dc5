package download

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/garrix/Calamari/internal/cache"
	"github.com/garrix/Calamari/internal/config"
	"github.com/garrix/Calamari/internal/feed"
	"github.com/garrix/Calamari/internal/maven"
)

// upstreamStub 模拟只提供 .jar 变体的 Maven 仓库，并统计请求次数。
type upstreamStub struct {
	server   *httptest.Server
	payload  []byte
	headHits atomic.Int32
	getHits  atomic.Int32
	failGets atomic.Int32 // 前 N 次 GET 返回 500
}

func newUpstreamStub(t *testing.T, payload []byte) *upstreamStub {
	t.Helper()
	stub := &upstreamStub{payload: payload}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ".jar") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodHead:
			stub.headHits.Add(1)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			stub.getHits.Add(1)
			if stub.failGets.Load() > 0 {
				stub.failGets.Add(-1)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write(stub.payload)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *upstreamStub) networkCalls() int32 {
	return s.headHits.Load() + s.getHits.Load()
}

func newTestDownloader(t *testing.T, stub *upstreamStub, storage string, attempts int, backoff time.Duration) *Downloader {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	roots, err := cache.NewRoots(storage)
	if err != nil {
		t.Fatalf("roots error: %v", err)
	}
	registry, err := feed.NewRegistry([]config.FeedConfig{
		{Name: "central", Uri: stub.server.URL},
	})
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}

	codec := maven.NewCodec()
	client := stub.server.Client()
	downloader, err := New(Options{
		Roots:       roots,
		Scanner:     cache.NewScanner(codec, logger),
		Resolver:    feed.NewResolver(client, codec, logger),
		Fetcher:     feed.NewFetcher(client, codec, logger),
		Feeds:       registry,
		Logger:      logger,
		MaxAttempts: attempts,
		Backoff:     backoff,
	})
	if err != nil {
		t.Fatalf("downloader error: %v", err)
	}
	downloader.sleep = func(time.Duration) {}
	return downloader
}

func TestDownloadFetchesAndHashes(t *testing.T) {
	payload := []byte("served-artifact-bytes")
	stub := newUpstreamStub(t, payload)
	downloader := newTestDownloader(t, stub, t.TempDir(), 1, 0)

	result, err := downloader.Download(context.Background(), Request{
		PackageID: "com.example:foo",
		Version:   "1.2.3",
		FeedID:    "central",
	})
	if err != nil {
		t.Fatalf("download error: %v", err)
	}

	if result.CacheHit {
		t.Fatalf("first download should not be a cache hit")
	}
	if result.Size != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Size)
	}
	sum := sha1.Sum(payload)
	if result.Hash != hex.EncodeToString(sum[:]) {
		t.Fatalf("hash mismatch: %s", result.Hash)
	}
	body, err := os.ReadFile(result.Path)
	if err != nil || string(body) != string(payload) {
		t.Fatalf("downloaded file mismatch: %v", err)
	}
}

func TestDownloadCacheHitSkipsNetwork(t *testing.T) {
	stub := newUpstreamStub(t, []byte("payload"))
	storage := t.TempDir()
	downloader := newTestDownloader(t, stub, storage, 1, 0)

	first, err := downloader.Download(context.Background(), Request{
		PackageID: "com.example:foo", Version: "1.2.3", FeedID: "central",
	})
	if err != nil {
		t.Fatalf("first download error: %v", err)
	}
	callsAfterFirst := stub.networkCalls()

	second, err := downloader.Download(context.Background(), Request{
		PackageID: "com.example:foo", Version: "1.2.3", FeedID: "central",
	})
	if err != nil {
		t.Fatalf("second download error: %v", err)
	}

	if !second.CacheHit {
		t.Fatalf("expected cache hit")
	}
	if second.Path != first.Path {
		t.Fatalf("cache hit should reuse existing file")
	}
	if stub.networkCalls() != callsAfterFirst {
		t.Fatalf("cache hit must not touch the network")
	}
}

func TestDownloadForceBypassesCache(t *testing.T) {
	stub := newUpstreamStub(t, []byte("payload"))
	storage := t.TempDir()
	downloader := newTestDownloader(t, stub, storage, 1, 0)

	first, err := downloader.Download(context.Background(), Request{
		PackageID: "com.example:foo", Version: "1.2.3", FeedID: "central",
	})
	if err != nil {
		t.Fatalf("first download error: %v", err)
	}

	forced, err := downloader.Download(context.Background(), Request{
		PackageID: "com.example:foo", Version: "1.2.3", FeedID: "central", Force: true,
	})
	if err != nil {
		t.Fatalf("forced download error: %v", err)
	}

	if forced.CacheHit {
		t.Fatalf("forced download must not report cache hit")
	}
	if forced.Path == first.Path {
		t.Fatalf("forced download must use a fresh destination")
	}
}

func TestDownloadNotFound(t *testing.T) {
	stub := newUpstreamStub(t, nil)
	// 所有候选都 404：把 stub 的 .jar 分支也关掉。
	stub.server.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	storage := t.TempDir()
	downloader := newTestDownloader(t, stub, storage, 1, 0)

	_, err := downloader.Download(context.Background(), Request{
		PackageID: "com.example:foo", Version: "1.2.3", FeedID: "central",
	})
	if !errors.Is(err, feed.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}

	// 失败后缓存目录不应留下任何指向不存在下载的文件。
	entries, _ := os.ReadDir(filepath.Join(storage, "central"))
	if len(entries) != 0 {
		t.Fatalf("expected no cache files after not-found, got %d", len(entries))
	}
}

func TestDownloadRetriesFetch(t *testing.T) {
	stub := newUpstreamStub(t, []byte("payload"))
	stub.failGets.Store(1)
	downloader := newTestDownloader(t, stub, t.TempDir(), 2, time.Millisecond)

	result, err := downloader.Download(context.Background(), Request{
		PackageID: "com.example:foo", Version: "1.2.3", FeedID: "central",
	})
	if err != nil {
		t.Fatalf("download should succeed on retry: %v", err)
	}
	if stub.getHits.Load() != 2 {
		t.Fatalf("expected 2 GET attempts, got %d", stub.getHits.Load())
	}
	if result.Size != int64(len("payload")) {
		t.Fatalf("size mismatch after retry: %d", result.Size)
	}
}

func TestDownloadRetryExhaustion(t *testing.T) {
	stub := newUpstreamStub(t, []byte("payload"))
	stub.failGets.Store(10)
	downloader := newTestDownloader(t, stub, t.TempDir(), 2, time.Millisecond)

	_, err := downloader.Download(context.Background(), Request{
		PackageID: "com.example:foo", Version: "1.2.3", FeedID: "central",
	})
	var downloadErr *feed.DownloadError
	if !errors.As(err, &downloadErr) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if stub.getHits.Load() != 2 {
		t.Fatalf("expected exactly MaxAttempts GETs, got %d", stub.getHits.Load())
	}
}

func TestDownloadEmptyArtifact(t *testing.T) {
	stub := newUpstreamStub(t, []byte{})
	downloader := newTestDownloader(t, stub, t.TempDir(), 1, 0)

	result, err := downloader.Download(context.Background(), Request{
		PackageID: "com.example:foo", Version: "1.2.3", FeedID: "central",
	})
	if err != nil {
		t.Fatalf("download error: %v", err)
	}
	if result.Size != 0 {
		t.Fatalf("expected empty artifact, got %d bytes", result.Size)
	}
	sum := sha1.Sum(nil)
	if result.Hash != hex.EncodeToString(sum[:]) {
		t.Fatalf("hash of empty file mismatch: %s", result.Hash)
	}
}

func TestDownloadValidation(t *testing.T) {
	stub := newUpstreamStub(t, []byte("payload"))
	downloader := newTestDownloader(t, stub, t.TempDir(), 1, 0)

	cases := []Request{
		{Version: "1.0", FeedID: "central"},
		{PackageID: "com.example:foo", FeedID: "central"},
		{PackageID: "com.example:foo", Version: "1.0"},
		{PackageID: "not-a-coordinate", Version: "1.0", FeedID: "central"},
		{PackageID: "com.example:foo", Version: "not.a.version!", FeedID: "central"},
		{PackageID: "com.example:foo", Version: "1.0", FeedID: "unknown"},
	}
	for i, req := range cases {
		_, err := downloader.Download(context.Background(), req)
		var validationErr ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("case %d: expected ValidationError, got %v", i, err)
		}
	}
	if stub.networkCalls() != 0 {
		t.Fatalf("validation failures must not reach the network")
	}
}

func TestDownloadStructuralVersionCacheHit(t *testing.T) {
	stub := newUpstreamStub(t, []byte("payload"))
	storage := t.TempDir()
	downloader := newTestDownloader(t, stub, storage, 1, 0)

	if _, err := downloader.Download(context.Background(), Request{
		PackageID: "com.example:foo", Version: "1.0.0", FeedID: "central",
	}); err != nil {
		t.Fatalf("seed download error: %v", err)
	}
	calls := stub.networkCalls()

	// 请求 1.0：与缓存的 1.0.0 文本不同但结构化相等，应命中。
	result, err := downloader.Download(context.Background(), Request{
		PackageID: "com.example:foo", Version: "1.0", FeedID: "central",
	})
	if err != nil {
		t.Fatalf("download error: %v", err)
	}
	if !result.CacheHit {
		t.Fatalf("expected structural version cache hit")
	}
	if stub.networkCalls() != calls {
		t.Fatalf("cache hit must not touch the network")
	}
}
