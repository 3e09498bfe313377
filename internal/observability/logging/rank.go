package logging

import "context"

// rankZeroLogger forwards info and below only on the coordinating process.
// Warnings and errors are emitted on every rank.
type rankZeroLogger struct {
	inner Logger
	rank  int
}

// RankZero wraps logger so that Debug/Info output appears once per run
// instead of once per process.
func RankZero(logger Logger, rank int) Logger {
	return &rankZeroLogger{inner: logger.With(Int("rank", rank)), rank: rank}
}

func (l *rankZeroLogger) Debug(msg string, fields ...Field) {
	if l.rank == 0 {
		l.inner.Debug(msg, fields...)
	}
}

func (l *rankZeroLogger) Info(msg string, fields ...Field) {
	if l.rank == 0 {
		l.inner.Info(msg, fields...)
	}
}

func (l *rankZeroLogger) Warn(msg string, fields ...Field)  { l.inner.Warn(msg, fields...) }
func (l *rankZeroLogger) Error(msg string, fields ...Field) { l.inner.Error(msg, fields...) }
func (l *rankZeroLogger) Fatal(msg string, fields ...Field) { l.inner.Fatal(msg, fields...) }

func (l *rankZeroLogger) With(fields ...Field) Logger {
	return &rankZeroLogger{inner: l.inner.With(fields...), rank: l.rank}
}

func (l *rankZeroLogger) WithContext(ctx context.Context) Logger {
	return &rankZeroLogger{inner: l.inner.WithContext(ctx), rank: l.rank}
}

func (l *rankZeroLogger) Sync() error { return l.inner.Sync() }
