package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/bias-game/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.RWMutex
	once    sync.Once
	root    *zap.Logger
	modules map[string]*zap.Logger
	closers []io.Closer

	// 全局级别，配置热更新时修改
	level = zap.NewAtomicLevel()
)

// outputs 一组输出目标，模块日志器与全局日志器共用
type outputs struct {
	encoder zapcore.Encoder
	stdout  bool
	file    zapcore.WriteSyncer
	errFile zapcore.WriteSyncer
}

// Init 初始化日志系统，重复调用无效
func Init(cfg *config.LogConfig) error {
	var err error
	once.Do(func() {
		level.SetLevel(ParseLevel(cfg.Level))

		var out *outputs
		out, err = newOutputs(cfg)
		if err != nil {
			return
		}

		l := zap.New(out.core(level),
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)

		m := make(map[string]*zap.Logger, len(cfg.Modules))
		for name, lv := range cfg.Modules {
			m[name] = zap.New(out.core(ParseLevel(lv)), zap.AddCaller()).Named(name)
		}

		mu.Lock()
		root, modules = l, m
		mu.Unlock()
	})
	return err
}

func newOutputs(cfg *config.LogConfig) (*outputs, error) {
	out := &outputs{encoder: newEncoder(cfg.Format)}
	switch cfg.Output {
	case "file", "both":
		if err := os.MkdirAll(cfg.File.Path, 0o755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		out.file = rotating(cfg.File, cfg.File.Filename)
		// 错误日志单独成文件
		out.errFile = rotating(cfg.File, "error.log")
		out.stdout = cfg.Output == "both"
	default:
		out.stdout = true
	}
	return out, nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.MillisDurationEncoder
	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func rotating(cfg config.LogFileConfig, name string) zapcore.WriteSyncer {
	w := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Path, name),
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	closers = append(closers, w)
	return zapcore.AddSync(w)
}

func (o *outputs) core(enab zapcore.LevelEnabler) zapcore.Core {
	var cores []zapcore.Core
	if o.stdout {
		cores = append(cores, zapcore.NewCore(o.encoder, zapcore.Lock(os.Stdout), enab))
	}
	if o.file != nil {
		cores = append(cores, zapcore.NewCore(o.encoder, o.file, enab))
	}
	if o.errFile != nil {
		cores = append(cores, zapcore.NewCore(o.encoder, o.errFile, zapcore.ErrorLevel))
	}
	return zapcore.NewTee(cores...)
}

// ParseLevel 解析日志级别，无法识别时为 info
func ParseLevel(s string) zapcore.Level {
	lv, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lv
}

// GetLogger 获取全局日志器，未初始化时（例如单元测试）不输出
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		return zap.NewNop()
	}
	return root
}

// Module 获取模块日志器。未单独配置级别的模块使用全局日志器并带 module 字段。
func Module(name string) *zap.Logger {
	mu.RLock()
	l, ok := modules[name]
	mu.RUnlock()
	if ok {
		return l
	}
	return GetLogger().With(zap.String("module", name))
}

// SetLevel 动态设置全局日志级别
func SetLevel(s string) {
	level.SetLevel(ParseLevel(s))
}

// Level 当前全局日志级别
func Level() zapcore.Level {
	return level.Level()
}

// Info 输出信息日志
func Info(msg string, fields ...zap.Field) {
	GetLogger().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

// Error 输出错误日志
func Error(msg string, fields ...zap.Field) {
	GetLogger().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

// LogRequest 记录请求日志
func LogRequest(method, path string, status int, latency time.Duration, clientIP string) {
	l := Module("api")
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("latency", latency),
		zap.String("client_ip", clientIP),
	}
	if status >= 500 {
		l.Warn("request", fields...)
		return
	}
	l.Info("request", fields...)
}

// LogPanic 记录panic日志
func LogPanic(recovered any, stack []byte) {
	GetLogger().Error("panic recovered",
		zap.Any("panic", recovered),
		zap.ByteString("stack", stack),
	)
}

// LogRoomEvent 记录房间事件
func LogRoomEvent(event, roomID string, fields ...zap.Field) {
	Module("game").Info("room_event", append([]zap.Field{
		zap.String("event", event),
		zap.String("room_id", roomID),
	}, fields...)...)
}

// LogWebSocketMessage 记录WebSocket消息，direction 为 send 或 receive
func LogWebSocketMessage(direction, messageType, roomID string) {
	Module("websocket").Debug("ws_message",
		zap.String("direction", direction),
		zap.String("type", messageType),
		zap.String("room_id", roomID),
	)
}

// Cleanup 刷新缓冲并关闭日志文件
func Cleanup() {
	mu.RLock()
	l := root
	mu.RUnlock()
	if l != nil {
		// stdout 不支持 fsync 时会返回错误，忽略
		_ = l.Sync()
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "关闭日志文件失败: %v\n", err)
		}
	}
}
