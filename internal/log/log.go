// Package log はslogをラップしたアプリケーション共通のロガーを提供する
package log

import (
	"log/slog"
	"os"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// Init は指定されたレベルでグローバルロガーを初期化する
// 有効なレベル: "debug", "info", "warn", "error"
func Init(level string) {
	once.Do(func() {
		opts := &slog.HandlerOptions{
			Level: ParseLevel(level),
		}

		// 本番環境ではJSON、それ以外はテキスト形式
		if os.Getenv("GO_ENV") == "production" {
			logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
		} else {
			logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
		}

		slog.SetDefault(logger)
	})
}

// ParseLevel はレベル文字列をslog.Levelに変換する
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L はグローバルロガーを返す
// Init前に呼ばれた場合はinfoレベルで初期化する
func L() *slog.Logger {
	Init("info")
	return logger
}

// Debug はdebugレベルで出力する
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info はinfoレベルで出力する
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn はwarnレベルで出力する
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error はerrorレベルで出力する
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With は属性付きのロガーを返す
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
