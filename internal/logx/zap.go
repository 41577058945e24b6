package logx

import "go.uber.org/zap"

// zapLogger adapts *zap.Logger to Logger. Grounded on packetd/packetd's
// logger package, which wraps zap the same way for its own call sites.
type zapLogger struct {
	l *zap.Logger
}

// NewZap wraps an existing *zap.Logger.
func NewZap(l *zap.Logger) Logger {
	return zapLogger{l: l}
}

// NewZapProduction builds a production zap.Logger (JSON, Info level) and
// wraps it.
func NewZapProduction() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return zapLogger{l: l}, nil
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}

func (z zapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, toZapFields(fields)...) }
func (z zapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, toZapFields(fields)...) }
func (z zapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, toZapFields(fields)...) }
func (z zapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, toZapFields(fields)...) }

func (z zapLogger) With(fields ...Field) Logger {
	return zapLogger{l: z.l.With(toZapFields(fields)...)}
}
