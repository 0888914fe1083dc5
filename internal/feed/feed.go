package feed

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/garrix/Calamari/internal/config"
)

// Location 描述一个远端构件仓库端点及其访问凭证。凭证是不透明的
// 用户名/密码对，只在构造请求头时使用。
type Location struct {
	Name     string
	BaseURL  *url.URL
	Username string
	Password string
}

// HasCredentials 表示该 feed 是否配置了完整凭证。
func (l Location) HasCredentials() bool {
	return l.Username != "" && l.Password != ""
}

// AuthMode 输出 credentialed/anonymous，供日志字段使用。
func (l Location) AuthMode() string {
	if l.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// AuthHeader 返回 Basic 认证头；未配置凭证时返回空串。
func (l Location) AuthHeader() string {
	if !l.HasCredentials() {
		return ""
	}
	token := l.Username + ":" + l.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}

// ResolveURL 把仓库相对路径拼接到 base URI 之后。
func (l Location) ResolveURL(remotePath string) *url.URL {
	resolved := *l.BaseURL
	resolved.Path = strings.TrimSuffix(resolved.Path, "/") + "/" + strings.TrimPrefix(remotePath, "/")
	return &resolved
}

// Registry 提供 feed 名称到 Location 的查询，启动阶段从配置构建一次后复用。
type Registry struct {
	feeds map[string]Location
}

// NewRegistry 解析所有 feed 配置。任何一条 URI 不合法都视为启动错误。
func NewRegistry(cfgs []config.FeedConfig) (*Registry, error) {
	registry := &Registry{feeds: make(map[string]Location, len(cfgs))}
	for _, cfg := range cfgs {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			return nil, errors.New("feed name required")
		}
		if _, exists := registry.feeds[name]; exists {
			return nil, fmt.Errorf("duplicate feed %q", name)
		}
		parsed, err := url.Parse(cfg.Uri)
		if err != nil {
			return nil, fmt.Errorf("feed %q: invalid uri: %w", name, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("feed %q: unsupported scheme %q", name, parsed.Scheme)
		}
		registry.feeds[name] = Location{
			Name:     name,
			BaseURL:  parsed,
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	return registry, nil
}

// Lookup 按名称查找 feed。
func (r *Registry) Lookup(name string) (Location, bool) {
	loc, ok := r.feeds[strings.TrimSpace(name)]
	return loc, ok
}

// List 返回按名称排序的全部 feed，供诊断接口输出。
func (r *Registry) List() []Location {
	result := make([]Location, 0, len(r.feeds))
	for _, loc := range r.feeds {
		result = append(result, loc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
