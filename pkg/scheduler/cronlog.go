package scheduler

import (
	"github.com/marmos91/nasscan/internal/logger"
)

// cronLogger adapts the cron library's logging interface onto the
// service logger. Routine messages go to debug, they are chatty.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	logger.Error("cron: "+msg, args...)
}
