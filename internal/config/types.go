package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有 feed 共享同一份参数。
type GlobalConfig struct {
	ListenPort          int      `mapstructure:"ListenPort"`
	LogLevel            string   `mapstructure:"LogLevel"`
	LogFilePath         string   `mapstructure:"LogFilePath"`
	LogMaxSize          int      `mapstructure:"LogMaxSize"`
	LogMaxBackups       int      `mapstructure:"LogMaxBackups"`
	LogCompress         bool     `mapstructure:"LogCompress"`
	StoragePath         string   `mapstructure:"StoragePath"`
	MinFreeSpace        int64    `mapstructure:"MinFreeSpace"`
	MaxDownloadAttempts int      `mapstructure:"MaxDownloadAttempts"`
	DownloadBackoff     Duration `mapstructure:"DownloadBackoff"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`
}

// FeedConfig 描述单个远端构件仓库端点。凭证对本系统是不透明值，
// 只会原样附到上游请求头。
type FeedConfig struct {
	Name     string `mapstructure:"Name"`
	Uri      string `mapstructure:"Uri"`
	Username string `mapstructure:"Username"`
	Password string `mapstructure:"Password"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Feeds  []FeedConfig `mapstructure:"Feed"`
}

// HasCredentials 表示当前 feed 是否配置了完整的上游凭证。
func (f FeedConfig) HasCredentials() bool {
	return f.Username != "" && f.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (f FeedConfig) AuthMode() string {
	if f.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// CredentialModes 返回所有 feed 的鉴权模式摘要，例如 central:anonymous。
func CredentialModes(feeds []FeedConfig) []string {
	if len(feeds) == 0 {
		return nil
	}
	result := make([]string, len(feeds))
	for i, f := range feeds {
		result[i] = fmt.Sprintf("%s:%s", f.Name, f.AuthMode())
	}
	return result
}
