package system

import (
	"time"
)

var StartTime = time.Now()

// InitStartTime resets the uptime origin to now.
func InitStartTime() {
	StartTime = time.Now()
}

// Uptime is whole seconds since InitStartTime (or process start).
func Uptime() int64 {
	return int64(time.Since(StartTime).Seconds())
}
