// Package logx wraps zerolog behind a small structured-logging API.
//
// It provides:
//   - a Logger value type with With()-style derived loggers,
//   - a Service that owns the sinks (console, file, rate-limited Telegram)
//     and supports hot reconfiguration via Apply(),
//   - Field helpers mirroring the ergonomics of slog.Attr.
//
// The zero Logger is a safe no-op.
package logx
