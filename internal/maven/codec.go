package maven

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// 缓存文件名格式：<escaped-id>#<escaped-version>@<token>.<packaging>。
// '#' 与 '@' 经过转义后不会出现在 id/version 段中，因此解码无歧义；
// 随机 token 保证同一坐标的多次下载（包括跨进程并发）不会撞名。
const (
	versionDelimiter = "#"
	tokenDelimiter   = "@"
)

// Codec 负责坐标与缓存文件名、远端仓库路径之间的互转。
// Token 可注入以便测试固定随机段，默认使用 uuid。
type Codec struct {
	Token func() string
}

// NewCodec 返回使用 uuid 作为唯一 token 的编解码器。
func NewCodec() Codec {
	return Codec{Token: uuid.NewString}
}

// EncodeFileName 生成一个新的缓存文件名。group/artifact/version/packaging
// 部分确定，token 部分每次调用都不同。
func (cd Codec) EncodeFileName(c Coordinate) string {
	token := cd.token()
	return url.QueryEscape(c.PackageID()) +
		versionDelimiter + url.QueryEscape(c.Version.Original()) +
		tokenDelimiter + token +
		"." + c.Packaging
}

// SearchPattern 返回扫描缓存目录用的 glob：同一坐标的任何 token 都能命中。
// 版本段不参与模式匹配，留给结构化比较器判断相等。
func (cd Codec) SearchPattern(c Coordinate, packaging string) string {
	return url.QueryEscape(c.PackageID()) + versionDelimiter + "*." + packaging
}

// DecodeFileName 从缓存文件名还原坐标。文件名不符合编码语法时返回错误，
// 调用方应把这类文件当作与请求无关的杂项忽略。
func (cd Codec) DecodeFileName(name string, candidateExts []string) (Coordinate, error) {
	base := filepath.Base(name)

	packaging := ""
	for _, ext := range candidateExts {
		if strings.HasSuffix(base, "."+ext) {
			packaging = ext
			base = strings.TrimSuffix(base, "."+ext)
			break
		}
	}
	if packaging == "" {
		return Coordinate{}, fmt.Errorf("file %q has no known packaging extension", name)
	}

	idPart, rest, ok := strings.Cut(base, versionDelimiter)
	if !ok {
		return Coordinate{}, fmt.Errorf("file %q missing version delimiter", name)
	}
	versionPart, token, ok := strings.Cut(rest, tokenDelimiter)
	if !ok || token == "" {
		return Coordinate{}, fmt.Errorf("file %q missing unique token", name)
	}

	packageID, err := url.QueryUnescape(idPart)
	if err != nil {
		return Coordinate{}, fmt.Errorf("file %q: unescape package id: %w", name, err)
	}
	rawVersion, err := url.QueryUnescape(versionPart)
	if err != nil {
		return Coordinate{}, fmt.Errorf("file %q: unescape version: %w", name, err)
	}

	coord, err := NewCoordinate(packageID, rawVersion)
	if err != nil {
		return Coordinate{}, fmt.Errorf("file %q: %w", name, err)
	}
	return coord.WithPackaging(packaging), nil
}

// RemotePath 按标准 Maven 仓库布局生成追加在 feed base URI 后的路径段：
//
//	<group-with-slashes>/<artifact>/<version>/<artifact>-<version>.<packaging>
func (cd Codec) RemotePath(c Coordinate) string {
	ver := c.Version.Original()
	return strings.ReplaceAll(c.GroupID, ".", "/") +
		"/" + c.ArtifactID +
		"/" + ver +
		"/" + c.ArtifactID + "-" + ver + "." + c.Packaging
}

func (cd Codec) token() string {
	if cd.Token != nil {
		return cd.Token()
	}
	return uuid.NewString()
}
