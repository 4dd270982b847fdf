package applog

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 日志配置。Service 非空时作为 service 字段附加到每条日志
type Config struct {
	Level     string
	Format    string // text | json
	Service   string
	AddSource bool
	Output    io.Writer
}

var (
	mu   sync.Mutex
	core *zap.Logger
)

// Init 构建 zap logger 并桥接为默认 slog，标准库 log 也写到同一输出
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	level := parseLevel(cfg.Level)

	logger := newZap(cfg, out, level)
	if cfg.Service != "" {
		logger = logger.With(zap.String("service", cfg.Service))
	}

	mu.Lock()
	core = logger
	mu.Unlock()
	zap.ReplaceGlobals(logger)

	slog.SetDefault(slog.New(slogzap.Option{
		Level:     slogLevel(level),
		Logger:    logger,
		AddSource: cfg.AddSource,
	}.NewZapHandler()))

	log.SetOutput(out)
	log.SetFlags(0)
}

// Sync 刷新缓冲日志，进程退出前调用
func Sync() {
	mu.Lock()
	logger := core
	mu.Unlock()
	if logger != nil {
		_ = logger.Sync()
	}
}

type fieldsKey struct{}

// WithFields 在 ctx 上累积日志字段（request_id、tenant_id 等）
func WithFields(ctx context.Context, args ...any) context.Context {
	if len(args) == 0 {
		return ctx
	}
	prev := Fields(ctx)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// Fields 返回 ctx 上累积的日志字段
func Fields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(fieldsKey{}).([]any)
	return fields
}

// Ctx 返回带 ctx 字段的 logger
func Ctx(ctx context.Context) *slog.Logger {
	if fields := Fields(ctx); len(fields) > 0 {
		return slog.Default().With(fields...)
	}
	return slog.Default()
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

func Infof(format string, args ...any)  { slog.Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { slog.Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { slog.Error(fmt.Sprintf(format, args...)) }

// Fatalf 记录错误并退出
func Fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	Sync()
	os.Exit(1)
}

func newZap(cfg Config, out io.Writer, level zapcore.Level) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "time"

	encoder := zapcore.NewConsoleEncoder(encoderCfg)
	if strings.EqualFold(cfg.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	options := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.AddSource {
		options = append(options, zap.AddCaller())
	}
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(out), level), options...)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// slogLevel zap 与 slog 级别间隔相差 4 倍（Debug -1/-4, Warn 1/4, Error 2/8）
func slogLevel(l zapcore.Level) slog.Level {
	return slog.Level(int(l) * 4)
}
