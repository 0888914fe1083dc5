package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MinFreeSpace < 0 {
		return newFieldError("Global.MinFreeSpace", "不能为负数")
	}
	if g.MaxDownloadAttempts <= 0 {
		return newFieldError("Global.MaxDownloadAttempts", "必须大于 0")
	}
	if g.DownloadBackoff.DurationValue() <= 0 {
		return newFieldError("Global.DownloadBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if len(c.Feeds) == 0 {
		return errors.New("至少需要配置一个 Feed")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Feeds {
		f := &c.Feeds[i]
		if f.Name == "" {
			return newFieldError("Feed[].Name", "不能为空")
		}
		if _, exists := seenNames[f.Name]; exists {
			return newFieldError(feedField(f.Name, "Name"), "重复")
		}
		seenNames[f.Name] = struct{}{}

		if (f.Username == "") != (f.Password == "") {
			return newFieldError(feedField(f.Name, "Username/Password"), "必须同时提供或同时留空")
		}
		if err := validateFeedURI(f.Uri); err != nil {
			return fmt.Errorf("%s: %w", feedField(f.Name, "Uri"), err)
		}
	}

	return nil
}

func validateFeedURI(raw string) error {
	if raw == "" {
		return errors.New("缺少仓库地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，仓库: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("仓库缺少 Host: %s", raw)
	}
	return nil
}
