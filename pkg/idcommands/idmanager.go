package idcommands

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// maxDraws bounds the collision loop; hitting it means the random source is broken.
const maxDraws = 16

// NewSessionID mints a transfer session id. inUse reports whether a candidate
// is already held by a live session; colliding candidates are redrawn.
func NewSessionID(inUse func(string) bool) (string, error) {
	for i := 0; i < maxDraws; i++ {
		id := uuid.NewString()
		if inUse == nil || !inUse(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not mint a unique session id after %d draws", maxDraws)
}

// InstanceID identifies this daemon process in monitor output.
func InstanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	combined := fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
	hash := sha256.Sum256([]byte(combined))
	return fmt.Sprintf("%x", hash[:8])
}
