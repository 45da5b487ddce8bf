package policy

import (
	"fmt"
	"runtime"

	kardianos "github.com/kardianos/service"
)

// ServicePolicy carries the per-platform restart and auto-start settings of
// the installed daemon.
type ServicePolicy interface {
	// Options are merged into the kardianos service config before install.
	Options() kardianos.KeyValue
	// Apply runs after install for anything kardianos does not cover.
	Apply() error
}

func NewServicePolicy(serviceName string) (ServicePolicy, error) {
	return forOS(runtime.GOOS, serviceName)
}

func forOS(goos, serviceName string) (ServicePolicy, error) {
	switch goos {
	case "windows":
		return NewWindowsPolicy(serviceName), nil
	case "linux":
		return NewLinuxPolicy(serviceName), nil
	case "darwin":
		return NewDarwinPolicy(serviceName), nil
	default:
		return nil, fmt.Errorf("unsupported OS: %s", goos)
	}
}
