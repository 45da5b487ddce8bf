package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

type EventType string

const (
	EventCreate EventType = "create"
	EventWrite  EventType = "write"
	EventRemove EventType = "remove"
	EventRename EventType = "rename"
	EventChmod  EventType = "chmod"
)

type FileEvent struct {
	Type      EventType `json:"type"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// Batch is every change seen during one burst of activity, latest event per
// path, sorted by path.
type Batch struct {
	Changes []FileEvent `json:"changes"`
	At      time.Time   `json:"at"`
}

// FilterConfig configures which files to watch
type FilterConfig struct {
	// IgnoreHidden drops dot files, which includes in-progress uploads.
	IgnoreHidden   bool
	IgnorePatterns []string
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{IgnoreHidden: true}
}

// ShouldProcess checks if a file should be processed based on filter config
func (fc *FilterConfig) ShouldProcess(filePath string) bool {
	base := filepath.Base(filePath)
	if fc.IgnoreHidden && strings.HasPrefix(base, ".") {
		return false
	}
	for _, pattern := range fc.IgnorePatterns {
		if strings.HasSuffix(base, pattern) {
			return false
		}
	}
	return true
}
