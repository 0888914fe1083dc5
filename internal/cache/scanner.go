package cache

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/garrix/Calamari/internal/maven"
)

// Scanner 在缓存根目录中寻找已经满足坐标的文件，避免重复回源下载。
type Scanner struct {
	codec  maven.Codec
	logger *logrus.Logger
}

// NewScanner 构造缓存扫描器。
func NewScanner(codec maven.Codec, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scanner{codec: codec, logger: logger}
}

// Find 递归枚举 root 下匹配坐标编码前缀的文件，解码后要求 group/artifact
// 相同且版本结构化相等。整个过程是 best effort：任何枚举或解析错误只记
// 日志并按未命中处理，调用方永远可以回退到网络下载。
//
// 多个文件同时命中时返回枚举顺序中的第一个；维护良好的缓存中至多一个。
func (s *Scanner) Find(coord maven.Coordinate, root string) (string, bool) {
	if _, err := os.Stat(root); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logScanFailure(coord, root, err)
		}
		return "", false
	}

	patterns := make(map[string]string, len(maven.DefaultPackagings))
	for _, ext := range maven.DefaultPackagings {
		patterns[ext] = s.codec.SearchPattern(coord, ext)
	}

	var found string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.logScanFailure(coord, p, walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		for _, pattern := range patterns {
			matched, matchErr := path.Match(pattern, name)
			if matchErr != nil || !matched {
				continue
			}
			decoded, decodeErr := s.codec.DecodeFileName(name, maven.DefaultPackagings)
			if decodeErr != nil {
				s.logger.WithFields(logrus.Fields{
					"action": "cache_scan",
					"file":   name,
				}).Debug(decodeErr.Error())
				continue
			}
			if decoded.SamePackage(coord) {
				found = p
				return fs.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		s.logScanFailure(coord, root, err)
		return "", false
	}

	return found, found != ""
}

func (s *Scanner) logScanFailure(coord maven.Coordinate, location string, err error) {
	s.logger.WithFields(logrus.Fields{
		"action":  "cache_scan",
		"package": coord.PackageID(),
		"path":    location,
	}).Warn(err.Error())
}
