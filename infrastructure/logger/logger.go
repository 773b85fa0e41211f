package logger

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 封装zap日志器，提供结构化日志功能
type Logger struct {
	*zap.Logger
	config Config
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level"`       // debug, info, warn, error
	Outputs    []string `yaml:"outputs"`     // stdout, file
	OutputFile string   `yaml:"output_file"` // 日志文件路径
	ErrorFile  string   `yaml:"error_file"`  // 错误日志单独文件
	Format     string   `yaml:"format"`      // json 或 console
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Outputs: []string{"stdout"},
		Format:  "json",
	}
}

func (c Config) encoderConfig() zapcore.EncoderConfig {
	if c.Format == "console" {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return ec
	}
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return ec
}

func (c Config) hasOutput(name string) bool {
	for _, o := range c.Outputs {
		if o == name {
			return true
		}
	}
	return false
}

func appendFileCore(cores []zapcore.Core, ec zapcore.EncoderConfig, path string, level zapcore.LevelEnabler) ([]zapcore.Core, error) {
	w, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(ec), zapcore.AddSync(w), level)), nil
}

// New 创建新的Logger实例
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	ec := cfg.encoderConfig()

	var cores []zapcore.Core
	if cfg.hasOutput("stdout") {
		var enc zapcore.Encoder
		if cfg.Format == "console" {
			enc = zapcore.NewConsoleEncoder(ec)
		} else {
			enc = zapcore.NewJSONEncoder(ec)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level))
	}
	if cfg.hasOutput("file") && cfg.OutputFile != "" {
		if cores, err = appendFileCore(cores, ec, cfg.OutputFile, level); err != nil {
			return nil, err
		}
	}
	// 错误日志单独文件
	if cfg.ErrorFile != "" {
		if cores, err = appendFileCore(cores, ec, cfg.ErrorFile, zapcore.ErrorLevel); err != nil {
			return nil, err
		}
	}

	zl := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{Logger: zl, config: cfg}, nil
}

// NewNop 返回丢弃所有输出的Logger，供测试使用
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func stamped(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	return fields
}

// WithFields 添加字段返回新的logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(toZapFields(fields)...),
		config: l.config,
	}
}

// LogOrder 记录订单相关事件
func (l *Logger) LogOrder(event string, orderID string, fields map[string]interface{}) {
	fields = stamped(fields)
	fields["event"] = event
	fields["order_id"] = orderID
	l.Info("order_event", toZapFields(fields)...)
}

// LogCycle 记录再平衡周期事件
func (l *Logger) LogCycle(step string, fields map[string]interface{}) {
	fields = stamped(fields)
	fields["step"] = step
	l.Info("cycle_event", toZapFields(fields)...)
}

// LogError 记录错误并附带上下文
func (l *Logger) LogError(err error, context map[string]interface{}) {
	context = stamped(context)
	context["error"] = err.Error()
	l.Error("error_event", toZapFields(context)...)
}

// Close 关闭日志器
func (l *Logger) Close() error {
	return l.Sync()
}
