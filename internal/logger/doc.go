// Package logger provides leveled, tagged logging on top of logrus.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each entry carries a timestamp, the level, an optional component tag
// (for example "pool/w3") and a printf-style message.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Application started")
//	logger.Info("pool/w1", "Worker started")
//	logger.Error("pool", "Failed: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("pool/w1", "Debug message")
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// # Thread Safety
//
// logrus serializes writes to the output, so all operations are safe for
// concurrent use.
package logger
