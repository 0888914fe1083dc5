package cache

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultFreeSpaceFloor 是触发下载前要求的最低剩余磁盘空间。
const DefaultFreeSpaceFloor int64 = 500 * 1024 * 1024

// ErrInsufficientSpace 表示缓存目录所在磁盘剩余空间不足。
var ErrInsufficientSpace = errors.New("insufficient free disk space")

// Roots 将 feed 标识映射为缓存根目录，所有 feed 共用一个 StoragePath。
type Roots struct {
	basePath string
}

// NewRoots 以 basePath 为根构建目录解析器，整个进程复用一份实例。
func NewRoots(basePath string) (*Roots, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	return &Roots{basePath: abs}, nil
}

// For 返回指定 feed 的缓存根目录。目录此时可能尚不存在，
// 下载链路会在写入前调用 Ensure 惰性创建。
func (r *Roots) For(feedID string) (string, error) {
	if strings.TrimSpace(feedID) == "" {
		return "", errors.New("feed id required")
	}

	rel := path.Clean("/" + feedID)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." {
		return "", fmt.Errorf("invalid feed id %q", feedID)
	}

	dir := filepath.Join(r.basePath, filepath.FromSlash(rel))
	if !strings.HasPrefix(dir, r.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid feed cache path for %q", feedID)
	}
	return dir, nil
}

// Ensure 创建缓存目录并校验磁盘剩余空间不低于 minFree（<=0 时使用默认下限）。
func (r *Roots) Ensure(dir string, minFree int64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if minFree <= 0 {
		minFree = DefaultFreeSpaceFloor
	}
	free, err := freeBytes(dir)
	if err != nil {
		// 查询失败不阻塞下载，真正写不进去时会以 IO 错误暴露。
		return nil
	}
	if free < minFree {
		return fmt.Errorf("%w: %d bytes free in %s, need %d", ErrInsufficientSpace, free, dir, minFree)
	}
	return nil
}
