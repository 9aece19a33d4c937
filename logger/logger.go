package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Component names a part of the engine that logs on its own
type Component string

const (
	ComponentEncode  Component = "ENCODE"
	ComponentReduce  Component = "REDUCE"
	ComponentCatalog Component = "CATALOG"
	ComponentParquet Component = "PARQUET"
	ComponentQuery   Component = "QUERY"
	ComponentCLI     Component = "CLI"
)

// Config is the logging configuration
type Config struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Output: stdout, stderr, file
	Output string `mapstructure:"output" yaml:"output"`
	// FilePath is used when Output is file
	FilePath string `mapstructure:"file" yaml:"file"`
	// Components limits Named loggers to these components; empty or "ALL"
	// enables every component.
	Components []string `mapstructure:"components" yaml:"components,omitempty"`
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	components map[Component]bool // nil means all enabled
	logFile    *os.File           // set when Output is file
)

// Init builds the process logger from config and installs it as the zap
// global logger.
func Init(config Config) error {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return err
	}

	var (
		sink io.Writer
		file *os.File
	)
	switch config.Output {
	case "file":
		if config.FilePath == "" {
			return fmt.Errorf("log output file requires a file path")
		}
		file, err = os.OpenFile(config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		sink = file
	case "stderr":
		sink = os.Stderr
	default:
		sink = os.Stdout
	}

	SetLogger(New(sink, level))
	setComponents(config.Components)

	mu.Lock()
	previous := logFile
	logFile = file
	mu.Unlock()
	if previous != nil {
		return previous.Close()
	}
	return nil
}

// New builds a JSON logger writing to w
func New(w io.Writer, level zapcore.Level) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)
	return zap.New(core, zap.AddCaller())
}

// ParseLevel maps debug, info, warn and error to zap levels; empty is info.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// SetLogger replaces the process logger
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	zap.ReplaceGlobals(l)
}

func setComponents(names []string) {
	mu.Lock()
	defer mu.Unlock()

	components = nil
	for _, name := range names {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "ALL" {
			components = nil
			return
		}
		if components == nil {
			components = make(map[Component]bool)
		}
		components[Component(name)] = true
	}
}

// L returns the process logger
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Named returns a child logger tagged with the component, or a no-op logger
// when the component is disabled.
func Named(c Component) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if components != nil && !components[c] {
		return zap.NewNop()
	}
	return base.With(zap.String("component", string(c)))
}

// Sync flushes buffered log entries
func Sync() {
	_ = L().Sync()
}

// Close flushes the process logger, closes the log file opened by Init and
// falls back to a no-op logger.
func Close() error {
	Sync()

	mu.Lock()
	file := logFile
	logFile = nil
	base = zap.NewNop()
	zap.ReplaceGlobals(base)
	mu.Unlock()

	if file != nil {
		return file.Close()
	}
	return nil
}
