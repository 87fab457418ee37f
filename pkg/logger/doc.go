// Package logger provides the structured logging interface used across pixivsync.
//
// It wraps zerolog with a small Logger interface supporting levels, fields and
// errors. Console output is human readable; when a log file is configured the
// same events are also written as JSON lines to a lumberjack rotating file.
// A "{date}" placeholder in the file name expands to YYYY-MM-DD.
//
// Basic Usage:
//
//	err := logger.Initialize(&config.LoggingConfig{
//	    Level: "info",
//	    File:  "logs/{date}.log",
//	})
//	log := logger.GetLogger()
//	log.InfoWithFields("pass finished", map[string]interface{}{
//	    "kind":      "illust",
//	    "committed": 12,
//	})
//
// Tests use NewTestLogger to capture messages or NewNopLogger to discard them.
package logger
