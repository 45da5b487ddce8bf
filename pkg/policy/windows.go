package policy

import (
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
	"github.com/The-Promised-Neverland/transporter/pkg/utils"
	kardianos "github.com/kardianos/service"
)

type WindowsPolicy struct {
	serviceName string
}

func NewWindowsPolicy(serviceName string) *WindowsPolicy {
	return &WindowsPolicy{serviceName: serviceName}
}

func (p *WindowsPolicy) Options() kardianos.KeyValue {
	return kardianos.KeyValue{
		"StartType":              "automatic",
		"OnFailure":              "restart",
		"OnFailureDelayDuration": "5s",
	}
}

// Apply widens the failure counter reset window to a day.
func (p *WindowsPolicy) Apply() error {
	_, err := utils.RunCommand(
		"sc", "failure", p.serviceName,
		"actions=restart/5000/restart/5000/restart/5000",
		"reset=86400",
	)
	if err != nil {
		logger.Log.Warn("⚠️ Failed to configure Windows restart policy", "err", err)
		return err
	}
	logger.Log.Info("🔁 Windows restart policy configured")
	return nil
}
