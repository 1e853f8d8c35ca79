package logger

import (
	"context"
	"os"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes one JSON object per entry with service, action and hostname
// always present.
type Logger struct {
	z       *zap.Logger
	service string
}

func New(service string) *Logger { return NewWithLevel(service, "info") }

func NewWithLevel(service, level string) *Logger {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.SetLevel(zapcore.InfoLevel)
	}
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.LevelKey = "level"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.CallerKey = ""
	enc.StacktraceKey = ""

	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(os.Stdout), lvl)
	z := zap.New(core).With(zap.String("service", service), zap.String("hostname", hostname()))
	return &Logger{z: z, service: service}
}

// FromZap wraps an existing zap logger, e.g. zaptest or zap.NewNop in tests.
func FromZap(z *zap.Logger, service string) *Logger {
	return &Logger{z: z.With(zap.String("service", service)), service: service}
}

func Nop() *Logger { return &Logger{z: zap.NewNop(), service: "nop"} }

func (l *Logger) Service() string { return l.service }

// Named derives a logger for another service name sharing the same sink.
func (l *Logger) Named(service string) *Logger {
	return &Logger{z: l.z.With(zap.String("component", service)), service: service}
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{z: l.z.With(toZap(fields)...), service: l.service}
}

func (l *Logger) Info(action string, fields map[string]any) {
	l.z.Info(action, append(toZap(fields), zap.String("action", action))...)
}

func (l *Logger) Debug(action string, fields map[string]any) {
	l.z.Debug(action, append(toZap(fields), zap.String("action", action))...)
}

func (l *Logger) Warn(action string, fields map[string]any) {
	l.z.Warn(action, append(toZap(fields), zap.String("action", action))...)
}

func (l *Logger) Error(action string, err error, fields map[string]any) {
	zf := append(toZap(fields), zap.String("action", action))
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	l.z.Error(action, zf...)
}

func (l *Logger) Sync() { _ = l.z.Sync() }

func toZap(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys)+1)
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

type ctxKey struct{}

// WithRequestID stores the request id picked up by FromContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// FromContext tags the logger with the request id carried by ctx, if any.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	if id := RequestID(ctx); id != "" {
		return l.With(map[string]any{"request_id": id})
	}
	return l
}

func hostname() string { h, _ := os.Hostname(); return h }
