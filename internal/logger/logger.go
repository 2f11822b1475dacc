package logger

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/wfunc/story-game/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.RWMutex
	once    sync.Once
	root    *zap.Logger
	modules map[string]*zap.Logger
)

// Init 初始化日志系统
// 根据配置组装控制台与滚动文件输出，错误级别单独落error.log
func Init(cfg *config.LogConfig) error {
	var err error
	once.Do(func() {
		encoder := buildEncoder(cfg.Format)
		level := parseLevel(cfg.Level)

		var cores []zapcore.Core

		if cfg.Output == "console" || cfg.Output == "stdout" || cfg.Output == "both" {
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
		}

		if cfg.Output == "file" || cfg.Output == "both" {
			if err = os.MkdirAll(cfg.File.Path, 0755); err != nil {
				return
			}
			cores = append(cores,
				zapcore.NewCore(encoder, zapcore.AddSync(rollingWriter(cfg, cfg.File.Filename)), level),
				zapcore.NewCore(encoder, zapcore.AddSync(rollingWriter(cfg, "error.log")), zapcore.ErrorLevel),
			)
		}

		root = zap.New(
			zapcore.NewTee(cores...),
			zap.AddCaller(),
			zap.AddCallerSkip(1),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)

		// 模块日志器：共享输出，按模块名单独控制级别
		modules = make(map[string]*zap.Logger, len(cfg.Modules))
		for name, levelStr := range cfg.Modules {
			modules[name] = root.WithOptions(zap.IncreaseLevel(parseLevel(levelStr))).Named(name)
		}
	})

	return err
}

// rollingWriter 创建带轮转的文件写入器
func rollingWriter(cfg *config.LogConfig, filename string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.File.Path, filename),
		MaxSize:    cfg.File.MaxSize, // MB
		MaxAge:     cfg.File.MaxAge,  // 天
		MaxBackups: cfg.File.MaxBackups,
		Compress:   cfg.File.Compress,
	}
}

// buildEncoder 根据格式创建编码器
func buildEncoder(format string) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if format == "json" {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// parseLevel 解析日志级别，未知值回退到info
func parseLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogger 获取根日志器
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		// 未初始化时退回生产默认配置
		fallback, _ := zap.NewProduction()
		return fallback
	}
	return root
}

// GetModuleLogger 获取模块日志器，未配置的模块返回带名字的根日志器
func GetModuleLogger(module string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	if l, ok := modules[module]; ok {
		return l
	}
	if root != nil {
		return root.Named(module)
	}
	fallback, _ := zap.NewProduction()
	return fallback.Named(module)
}

// Sync 同步日志缓冲区
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()

	if root != nil {
		return root.Sync()
	}
	return nil
}

// Debug 输出调试日志
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Info 输出信息日志
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Warn 输出警告日志
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error 输出错误日志
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Fatal 输出致命错误日志并退出程序
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}
