package policy

import (
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
	kardianos "github.com/kardianos/service"
)

type DarwinPolicy struct {
	serviceName string
}

func NewDarwinPolicy(serviceName string) *DarwinPolicy {
	return &DarwinPolicy{serviceName: serviceName}
}

func (p *DarwinPolicy) Options() kardianos.KeyValue {
	return kardianos.KeyValue{
		"KeepAlive": true,
		"RunAtLoad": true,
	}
}

func (p *DarwinPolicy) Apply() error {
	logger.Log.Info("launchd restart policy enforced via KeepAlive", "service", p.serviceName)
	return nil
}
