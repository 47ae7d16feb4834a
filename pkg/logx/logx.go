// 文件: pkg/logx/logx.go
// 日志初始化 (logrus)

package logx

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config 日志配置
type Config struct {
	Level  string    // debug / info / warn / error
	Format string    // text / json
	Output io.Writer // 默认 stdout
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "text",
	}
}

// New 创建 logger
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	if cfg.Output != nil {
		logger.SetOutput(cfg.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// Discard 丢弃所有输出 (测试用)
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// Component 带组件名的 entry
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// OrDiscard nil 时返回 Discard()
func OrDiscard(e *logrus.Entry) *logrus.Entry {
	if e == nil {
		return Discard()
	}
	return e
}
