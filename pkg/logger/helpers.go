package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// LogRateLimit logs rate limiting events
func LogRateLimit(endpoint string, retryAfter int) {
	GetLogger().WithFields(map[string]interface{}{
		"endpoint":    endpoint,
		"retry_after": retryAfter,
		"action":      "rate_limited",
	}).Warn("Rate limit reached, backing off")
}

// LogPass logs the totals of a finished sync pass
func LogPass(kind string, committed, skipped, failed int, err error) {
	logger := GetLogger().WithFields(map[string]interface{}{
		"kind":      kind,
		"committed": committed,
		"skipped":   skipped,
		"failed":    failed,
	})
	if err != nil {
		logger.WithError(err).Error("Pass ended early")
		return
	}
	logger.Info("Pass finished")
}

// LogComponentStart logs when a component starts
func LogComponentStart(component string, config map[string]interface{}) {
	logger := GetLogger().WithField("component", component)
	
	if len(config) > 0 {
		logger = logger.WithFields(config)
	}
	
	logger.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(component string, reason string) {
	GetLogger().WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing (useful for testing)
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                             {}
func (n *nopLogger) Info(msg string)                                              {}
func (n *nopLogger) Warn(msg string)                                              {}
func (n *nopLogger) Error(msg string)                                             {}
func (n *nopLogger) Fatal(msg string)                                             {}
func (n *nopLogger) WithField(key string, value interface{}) Logger               { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger              { return n }
func (n *nopLogger) WithError(err error) Logger                                   { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                       { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{})    {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})     {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})     {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{})    {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{})    {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                                  { return nil }