// Package logger provides the structured logging interface used across
// instaclean.
//
// It wraps zerolog behind a small Logger interface so that components can
// attach fields without depending on zerolog directly, and so that tests
// can swap in a TestLogger that captures every message.
//
// Basic usage:
//
//	err := logger.Initialize(&cfg.Logging)
//
//	log := logger.GetLogger().WithField("task_id", id)
//	log.Info("Task started")
//	log.WithError(err).Warn("Item failed")
//
// Output is colourised console text by default. Set the format to "json"
// for one JSON object per line, and File to tee output into a log file.
package logger
