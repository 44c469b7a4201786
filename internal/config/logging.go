package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger 按配置构建日志器：控制台输出文本，配置了 LOG_FILE 时额外写入 JSON 文件。
// 返回的 cleanup 用于关闭日志文件。
func SetupLogger(c LogConfig) (*slog.Logger, func() error) {
	level := c.SlogLevel()
	console := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if c.File == "" {
		return slog.New(console), func() error { return nil }
	}

	file, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Error("打开日志文件失败，仅输出到控制台", "error", err, "file", c.File)
		return slog.New(console), func() error { return nil }
	}

	logger := slog.New(slogmulti.Fanout(
		console,
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}),
	))
	return logger, file.Close
}

// SetupLoggerWithWriters 使用自定义输出构建日志器，测试时使用。
func SetupLoggerWithWriters(console, file io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}),
	))
}
