package logutil

import (
    "os"
    "sync"
    "sync/atomic"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
)

var (
    jsonMode atomic.Bool

    mu  sync.RWMutex
    def *zap.Logger
)

func init() {
    if os.Getenv("COORD_LOG_JSON") == "1" || os.Getenv("COORD_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
}

// Config holds logger settings. Zero values select info level, console
// encoding (json when COORD_LOG_FORMAT=json) and stderr.
type Config struct {
    Level  string // debug, info, warn, error
    Format string // console or json
    Output string // stdout, stderr or a file path
}

// New builds a zap logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
    enc := zapcore.EncoderConfig{
        TimeKey:        "ts",
        LevelKey:       "level",
        NameKey:        "logger",
        CallerKey:      "caller",
        FunctionKey:    zapcore.OmitKey,
        MessageKey:     "msg",
        StacktraceKey:  "stacktrace",
        LineEnding:     zapcore.DefaultLineEnding,
        EncodeLevel:    zapcore.LowercaseLevelEncoder,
        EncodeTime:     zapcore.ISO8601TimeEncoder,
        EncodeDuration: zapcore.StringDurationEncoder,
        EncodeCaller:   zapcore.ShortCallerEncoder,
    }
    format := cfg.Format
    if format == "" && jsonMode.Load() { format = "json" }
    var encoder zapcore.Encoder
    if format == "json" {
        encoder = zapcore.NewJSONEncoder(enc)
    } else {
        enc.EncodeLevel = zapcore.CapitalLevelEncoder
        encoder = zapcore.NewConsoleEncoder(enc)
    }

    var out zapcore.WriteSyncer
    switch cfg.Output {
    case "", "stderr":
        out = zapcore.Lock(os.Stderr)
    case "stdout":
        out = zapcore.Lock(os.Stdout)
    default:
        f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
        if err != nil { return nil, err }
        out = zapcore.AddSync(f)
    }
    return zap.New(zapcore.NewCore(encoder, out, ParseLevel(cfg.Level)), zap.AddCaller()), nil
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
    switch level {
    case "debug":
        return zapcore.DebugLevel
    case "warn":
        return zapcore.WarnLevel
    case "error":
        return zapcore.ErrorLevel
    default:
        return zapcore.InfoLevel
    }
}

// Default returns the process-wide logger, building one from the
// environment on first use.
func Default() *zap.Logger {
    mu.RLock()
    l := def
    mu.RUnlock()
    if l != nil { return l }
    mu.Lock()
    defer mu.Unlock()
    if def == nil {
        built, err := New(Config{})
        if err != nil { built = zap.NewNop() }
        def = built
    }
    return def
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *zap.Logger) {
    if l == nil { l = zap.NewNop() }
    mu.Lock()
    def = l
    mu.Unlock()
}

// SetJSON toggles json encoding for loggers built afterwards and rebuilds the default.
func SetJSON(enabled bool) {
    jsonMode.Store(enabled)
    if l, err := New(Config{}); err == nil { SetDefault(l) }
}

// Named returns l, or the default logger when l is nil, scoped to name.
func Named(l *zap.Logger, name string) *zap.Logger {
    if l == nil { l = Default() }
    return l.Named(name)
}

func Infof(l *zap.Logger, f string, args ...any)  { sugar(l).Infof(f, args...) }
func Warnf(l *zap.Logger, f string, args ...any)  { sugar(l).Warnf(f, args...) }
func Errorf(l *zap.Logger, f string, args ...any) { sugar(l).Errorf(f, args...) }

func sugar(l *zap.Logger) *zap.SugaredLogger {
    if l == nil { l = Default() }
    return l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}
