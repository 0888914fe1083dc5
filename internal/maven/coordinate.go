package maven

import (
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// DefaultPackagings 列出本系统能够处理的打包后缀，按探测优先级排序。
// 远端仓库实际提供哪一种需要通过 HEAD 探测确认。
var DefaultPackagings = []string{"jar", "war", "ear", "zip"}

// Coordinate 唯一标识一个 Maven 构件：group:artifact + 结构化版本 + 打包后缀。
// Packaging 在解析阶段之前可能为空，由 PackagingResolver 填充。
type Coordinate struct {
	GroupID    string
	ArtifactID string
	Version    *goversion.Version
	Packaging  string
}

// ParsePackageID 拆分 "group:artifact" 形式的包标识。
func ParsePackageID(id string) (group, artifact string, err error) {
	parts := strings.Split(id, ":")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("invalid package id %q: expected group:artifact", id)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// ParseVersion 将版本字符串解析为可结构化比较的值。
// 比较必须走结构化语义："1.0" 与 "1.0.0" 文本不同但语义相等。
func ParseVersion(raw string) (*goversion.Version, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("version is required")
	}
	v, err := goversion.NewVersion(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", raw, err)
	}
	return v, nil
}

// NewCoordinate 根据包标识与版本字符串构造坐标，Packaging 留空待解析。
func NewCoordinate(packageID, rawVersion string) (Coordinate, error) {
	group, artifact, err := ParsePackageID(packageID)
	if err != nil {
		return Coordinate{}, err
	}
	v, err := ParseVersion(rawVersion)
	if err != nil {
		return Coordinate{}, err
	}
	return Coordinate{GroupID: group, ArtifactID: artifact, Version: v}, nil
}

// PackageID 还原 "group:artifact" 标识。
func (c Coordinate) PackageID() string {
	return c.GroupID + ":" + c.ArtifactID
}

// WithPackaging 返回填充了打包后缀的坐标副本。
func (c Coordinate) WithPackaging(packaging string) Coordinate {
	c.Packaging = packaging
	return c
}

// SamePackage 判断两个坐标是否指向同一 group:artifact 且版本结构化相等。
// 打包后缀不参与比较，缓存扫描时它来自文件名本身。
func (c Coordinate) SamePackage(other Coordinate) bool {
	if c.GroupID != other.GroupID || c.ArtifactID != other.ArtifactID {
		return false
	}
	if c.Version == nil || other.Version == nil {
		return false
	}
	return c.Version.Equal(other.Version)
}

// String 输出便于日志展示的坐标形式。
func (c Coordinate) String() string {
	raw := ""
	if c.Version != nil {
		raw = c.Version.Original()
	}
	base := fmt.Sprintf("%s:%s", c.PackageID(), raw)
	if c.Packaging != "" {
		return base + ":" + c.Packaging
	}
	return base
}
