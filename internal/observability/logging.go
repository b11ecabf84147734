// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// SetGlobalLogger replaces the logger used by repository and WebSocket loggers.
func SetGlobalLogger(l *slog.Logger) {
	if l != nil {
		GlobalLogger = &Logger{Logger: l}
	}
}

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableRepoLogging bool
	EnableWSLogging   bool
}

var (
	// Config holds the current logging configuration.
	Config = LoggingConfig{
		EnableRepoLogging: true,
		EnableWSLogging:   true,
	}
)

// RepoLogger provides structured logging for repository operations.
type RepoLogger struct {
	tableName string
}

// NewRepoLogger creates a new RepoLogger for the given table.
func NewRepoLogger(tableName string) *RepoLogger {
	return &RepoLogger{tableName: tableName}
}

// LogCreate logs a repository create operation.
func (l *RepoLogger) LogCreate(ctx context.Context, fields map[string]any) {
	l.log(ctx, "create", fields)
}

// LogUpdate logs a repository update operation.
func (l *RepoLogger) LogUpdate(ctx context.Context, fields map[string]any) {
	l.log(ctx, "update", fields)
}

func (l *RepoLogger) log(ctx context.Context, operation string, fields map[string]any) {
	if !Config.EnableRepoLogging {
		return
	}
	attrs := []any{
		slog.String("table", l.tableName),
		slog.String("operation", operation),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.DebugContext(ctx, "repository "+operation, attrs...)
}

// LogError logs a repository error.
func (l *RepoLogger) LogError(ctx context.Context, err error, operation string) {
	if !Config.EnableRepoLogging {
		return
	}
	GlobalLogger.ErrorContext(ctx, "repository error",
		slog.String("table", l.tableName),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	hubName string
}

// NewWSLogger creates a new WSLogger for the given hub.
func NewWSLogger(hubName string) *WSLogger {
	return &WSLogger{hubName: hubName}
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, userID uint, connID string) {
	if !Config.EnableWSLogging {
		return
	}
	GlobalLogger.InfoContext(ctx, "websocket connected",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("connection_id", connID),
	)
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, userID uint, connID string, reason string) {
	if !Config.EnableWSLogging {
		return
	}
	GlobalLogger.InfoContext(ctx, "websocket disconnected",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("connection_id", connID),
		slog.String("reason", reason),
	)
}

// LogError logs a WebSocket error event.
func (l *WSLogger) LogError(ctx context.Context, userID uint, connID string, err error, eventType string) {
	if !Config.EnableWSLogging {
		return
	}
	GlobalLogger.WarnContext(ctx, "websocket error",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("connection_id", connID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogMessage logs an incoming WebSocket intent.
func (l *WSLogger) LogMessage(ctx context.Context, userID uint, room string, messageType string) {
	if !Config.EnableWSLogging {
		return
	}
	GlobalLogger.DebugContext(ctx, "websocket message",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("room", room),
		slog.String("message_type", messageType),
	)
}

// LogLifecycle logs a WebSocket hub lifecycle event.
func (l *WSLogger) LogLifecycle(ctx context.Context, event string, fields map[string]any) {
	if !Config.EnableWSLogging {
		return
	}
	attrs := []any{
		slog.String("hub", l.hubName),
		slog.String("event", event),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.InfoContext(ctx, "websocket lifecycle", attrs...)
}
