package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// DownloadFields 提供 feed/坐标/命中状态字段，供下载日志复用。
func DownloadFields(feed, packageID, version, authMode string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"feed":      feed,
		"package":   packageID,
		"version":   version,
		"auth_mode": authMode,
		"cache_hit": cacheHit,
	}
}
