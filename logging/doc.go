// Package logging provides the minimal logging interface used throughout
// neurallink plus slog backed implementations.
//
// Components depend only on the Logger interface so deployments can plug in
// any structured logger. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping an existing *slog.Logger
//   - StructuredLogger with component scoping and domain helpers for
//     provider calls and plugin executions
//   - NoOpLogger for silent operation (tests, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	tracker := activity.NewTracker(func(o *activity.Options) { o.Logger = logger })
package logging
