package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供缓存层/键/来源字段，供协调器与 HTTP 层的请求日志复用。
func FetchFields(tier, key, source string) logrus.Fields {
	return logrus.Fields{
		"tier":   tier,
		"key":    key,
		"source": source,
	}
}
