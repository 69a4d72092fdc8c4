// Package logging provides structured logging using uber/zap.
//
// Production mode writes JSON for machine parsing; development mode writes
// colored console output. The level can be changed at runtime with SetLevel.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	hubLog := logger.Component("observer")
//	hubLog.Info("Observer registered", zap.Int32("observer_id", 1))
package logging
