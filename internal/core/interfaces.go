package core

import "time"

// ILogger is the logging interface used throughout the engine.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// Timer schedules a callback at a fixed period. The implementation
// compensates for drift: targets are t0 + k*period and a late tick never
// triggers a catch-up burst.
type Timer interface {
	Every(period time.Duration, fn func())
}
