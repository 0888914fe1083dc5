package download

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/garrix/Calamari/internal/cache"
	"github.com/garrix/Calamari/internal/feed"
	"github.com/garrix/Calamari/internal/logging"
	"github.com/garrix/Calamari/internal/maven"
)

// ValidationError 表示请求参数在发起任何 I/O 之前就被判定非法。
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return e.Reason
}

// Request 描述一次下载请求。Force 为 true 时跳过缓存查找，始终回源。
type Request struct {
	PackageID string `json:"package_id"`
	Version   string `json:"version"`
	FeedID    string `json:"feed"`
	Force     bool   `json:"force"`
}

// Result 在文件最终落盘后计算，不会基于传输中的数据。
type Result struct {
	Path     string `json:"downloaded_to"`
	Hash     string `json:"hash"`
	Size     int64  `json:"size_bytes"`
	CacheHit bool   `json:"cache_hit"`
}

// Options 汇总 Downloader 的全部协作者与调参，均由调用方注入。
type Options struct {
	Roots    *cache.Roots
	Scanner  *cache.Scanner
	Resolver *feed.Resolver
	Fetcher  *feed.Fetcher
	Feeds    *feed.Registry
	Logger   *logrus.Logger

	// MaxAttempts/Backoff 控制回源取正文阶段的重试；打包探测不重试。
	MaxAttempts int
	Backoff     time.Duration
	// MinFreeSpace 为 0 时使用 cache.DefaultFreeSpaceFloor。
	MinFreeSpace int64
}

// Downloader 编排"查缓存 → 解析打包 → 回源下载 → 计算散列"的完整流程。
// 所有协作者显式注入，进程内不依赖任何全局单例。
type Downloader struct {
	roots    *cache.Roots
	scanner  *cache.Scanner
	resolver *feed.Resolver
	fetcher  *feed.Fetcher
	feeds    *feed.Registry
	logger   *logrus.Logger

	maxAttempts int
	backoff     time.Duration
	minFree     int64
	sleep       func(time.Duration)
}

// New 校验协作者齐备后构造 Downloader。
func New(opts Options) (*Downloader, error) {
	if opts.Roots == nil {
		return nil, errors.New("cache roots are required")
	}
	if opts.Scanner == nil {
		return nil, errors.New("cache scanner is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("packaging resolver is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("artifact fetcher is required")
	}
	if opts.Feeds == nil {
		return nil, errors.New("feed registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Downloader{
		roots:       opts.Roots,
		scanner:     opts.Scanner,
		resolver:    opts.Resolver,
		fetcher:     opts.Fetcher,
		feeds:       opts.Feeds,
		logger:      logger,
		maxAttempts: attempts,
		backoff:     opts.Backoff,
		minFree:     opts.MinFreeSpace,
		sleep:       time.Sleep,
	}, nil
}

// Download 阻塞执行一次完整的解析-缓存-下载流程。
// 缓存扫描失败只记日志并按未命中处理；解析与下载失败原样上抛。
func (d *Downloader) Download(ctx context.Context, req Request) (Result, error) {
	started := time.Now()

	coord, loc, err := d.validate(req)
	if err != nil {
		return Result{}, err
	}

	root, err := d.roots.For(loc.Name)
	if err != nil {
		return Result{}, ValidationError{Reason: fmt.Sprintf("resolve cache root: %v", err)}
	}

	if !req.Force {
		if cached, ok := d.scanner.Find(coord, root); ok {
			return d.finalize(loc, coord, cached, true, started)
		}
	}

	if err := d.roots.Ensure(root, d.minFree); err != nil {
		return Result{}, err
	}

	resolved, err := d.resolver.Resolve(ctx, coord, loc)
	if err != nil {
		return Result{}, err
	}

	path, err := d.fetchWithRetry(ctx, resolved, loc, root)
	if err != nil {
		return Result{}, err
	}

	return d.finalize(loc, resolved, path, false, started)
}

// fetchWithRetry 围绕 Fetcher 执行有限次重试，间隔逐次翻倍（上限 30s）。
// 每次尝试都会生成全新的目标文件名，绝不复用上一次的目的地。
func (d *Downloader) fetchWithRetry(ctx context.Context, coord maven.Coordinate, loc feed.Location, root string) (string, error) {
	backoff := d.backoff
	const maxBackoff = 30 * time.Second

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		path, err := d.fetcher.Fetch(ctx, coord, loc, root)
		if err == nil {
			return path, nil
		}
		lastErr = err

		if attempt == d.maxAttempts || ctx.Err() != nil {
			break
		}
		d.logger.WithFields(logrus.Fields{
			"action":  "fetch_retry",
			"feed":    loc.Name,
			"package": coord.PackageID(),
			"attempt": attempt,
		}).Warn(err.Error())
		if backoff > 0 {
			d.sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
	return "", lastErr
}

// finalize 在路径确定之后（缓存命中或新下载）计算散列与大小。
func (d *Downloader) finalize(loc feed.Location, coord maven.Coordinate, path string, cacheHit bool, started time.Time) (Result, error) {
	hash, size, err := hashFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("hash downloaded file %s: %w", path, err)
	}

	fields := logging.DownloadFields(loc.Name, coord.PackageID(), coord.Version.Original(), loc.AuthMode(), cacheHit)
	fields["action"] = "download"
	fields["path"] = path
	fields["size_bytes"] = size
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	d.logger.WithFields(fields).Info("download_complete")

	return Result{Path: path, Hash: hash, Size: size, CacheHit: cacheHit}, nil
}

func (d *Downloader) validate(req Request) (maven.Coordinate, feed.Location, error) {
	if strings.TrimSpace(req.PackageID) == "" {
		return maven.Coordinate{}, feed.Location{}, ValidationError{Reason: "package id is required"}
	}
	if strings.TrimSpace(req.Version) == "" {
		return maven.Coordinate{}, feed.Location{}, ValidationError{Reason: "version is required"}
	}
	if strings.TrimSpace(req.FeedID) == "" {
		return maven.Coordinate{}, feed.Location{}, ValidationError{Reason: "feed id is required"}
	}

	coord, err := maven.NewCoordinate(req.PackageID, req.Version)
	if err != nil {
		return maven.Coordinate{}, feed.Location{}, ValidationError{Reason: err.Error()}
	}

	loc, ok := d.feeds.Lookup(req.FeedID)
	if !ok {
		return maven.Coordinate{}, feed.Location{}, ValidationError{Reason: fmt.Sprintf("unknown feed %q", req.FeedID)}
	}
	return coord, loc, nil
}

// hashFile 以只读方式重新打开文件并对全部内容求 SHA-1。
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	digest := sha1.New()
	size, err := io.Copy(digest, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(digest.Sum(nil)), size, nil
}
