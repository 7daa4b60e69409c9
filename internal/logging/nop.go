package logging

import "context"

// NopLogger discards everything. Handy default for tests and for library
// constructors that accept an optional logger.
type NopLogger struct{}

// NewNop returns a logger that discards all output.
func NewNop() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Debug(ctx context.Context, msg string, args ...any) {}
func (n *NopLogger) Info(ctx context.Context, msg string, args ...any)  {}
func (n *NopLogger) Warn(ctx context.Context, msg string, args ...any)  {}
func (n *NopLogger) Error(ctx context.Context, msg string, args ...any) {}
func (n *NopLogger) With(args ...any) Logger                            { return n }
