package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求分类/策略来源字段，供拦截日志复用。
func RequestFields(method, url, category, source string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"method":    method,
		"url":       url,
		"category":  category,
		"source":    source,
		"cache_hit": cacheHit,
	}
}

// NamespaceFields 描述一次缓存分区操作。
func NamespaceFields(action, namespace string) logrus.Fields {
	return logrus.Fields{
		"action":    action,
		"namespace": namespace,
	}
}
