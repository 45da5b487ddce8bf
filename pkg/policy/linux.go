package policy

import (
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
	"github.com/The-Promised-Neverland/transporter/pkg/utils"
	kardianos "github.com/kardianos/service"
)

type LinuxPolicy struct {
	serviceName string
}

func NewLinuxPolicy(serviceName string) *LinuxPolicy {
	return &LinuxPolicy{serviceName: serviceName}
}

func (p *LinuxPolicy) Options() kardianos.KeyValue {
	return kardianos.KeyValue{
		"Restart":     "always",
		"LimitNOFILE": 65536,
	}
}

func (p *LinuxPolicy) Apply() error {
	if _, err := utils.RunCommand("systemctl", "daemon-reload"); err != nil {
		logger.Log.Warn("⚠️ systemctl daemon-reload failed", "service", p.serviceName, "err", err)
		return err
	}
	logger.Log.Info("systemd restart policy enforced via unit", "service", p.serviceName)
	return nil
}
