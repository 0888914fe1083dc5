package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/garrix/Calamari/internal/maven"
)

// DownloadError 包装回源取正文阶段的失败，保留原始原因供上层判断。
type DownloadError struct {
	Coordinate maven.Coordinate
	URL        string
	Err        error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s from %s: %v", e.Coordinate, e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Fetcher 把解析完成的坐标流式下载到缓存目录中一个全新的唯一文件。
type Fetcher struct {
	client *http.Client
	codec  maven.Codec
	logger *logrus.Logger
}

// NewFetcher 构造下载器。
func NewFetcher(client *http.Client, codec maven.Codec, logger *logrus.Logger) *Fetcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Fetcher{client: client, codec: codec, logger: logger}
}

// Fetch 对 remotePath 发起 GET 并把正文写入 cacheDir 下的新文件。
// 写入先落临时文件、成功后 rename 到最终名字，失败时删除临时文件，
// 因此半截文件永远不会以可被扫描器命中的名字存在。
//
// 目标文件名每次调用都重新生成，重试方永远不会复用上一次的目的地。
func (f *Fetcher) Fetch(ctx context.Context, coord maven.Coordinate, loc Location, cacheDir string) (string, error) {
	target := loc.ResolveURL(f.codec.RemotePath(coord))
	destPath := filepath.Join(cacheDir, f.codec.EncodeFileName(coord))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return "", &DownloadError{Coordinate: coord, URL: target.String(), Err: err}
	}
	if auth := loc.AuthHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &DownloadError{Coordinate: coord, URL: target.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &DownloadError{
			Coordinate: coord,
			URL:        target.String(),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	tempFile, err := os.CreateTemp(cacheDir, ".part-*")
	if err != nil {
		return "", &DownloadError{Coordinate: coord, URL: target.String(), Err: err}
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, resp.Body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", &DownloadError{Coordinate: coord, URL: target.String(), Err: err}
	}

	if err := os.Rename(tempName, destPath); err != nil {
		os.Remove(tempName)
		return "", &DownloadError{Coordinate: coord, URL: target.String(), Err: err}
	}

	f.logger.WithFields(logrus.Fields{
		"action":     "fetch",
		"feed":       loc.Name,
		"package":    coord.PackageID(),
		"version":    coord.Version.Original(),
		"packaging":  coord.Packaging,
		"size_bytes": written,
	}).Info("artifact_downloaded")

	return destPath, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
