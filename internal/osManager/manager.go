package osManager

import (
	"fmt"
	"runtime"

	"github.com/The-Promised-Neverland/transporter/internal/config"
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
	"github.com/The-Promised-Neverland/transporter/pkg/policy"
	kardianos "github.com/kardianos/service"
)

// Verbs accepted on the tpad command line.
const (
	VerbInstall   = "install"
	VerbUninstall = "uninstall"
	VerbStart     = "start"
	VerbStop      = "stop"
	VerbRestart   = "restart"
)

type TpadOSManager struct {
	daemon kardianos.Interface
	cfg    *config.Config
}

func NewManager(daemon kardianos.Interface, cfg *config.Config) *TpadOSManager {
	return &TpadOSManager{
		daemon: daemon,
		cfg:    cfg,
	}
}

// serviceConfig registers the service with the flags tpad was started
// with, so the installed daemon serves the same directory.
func (m *TpadOSManager) serviceConfig(p policy.ServicePolicy) *kardianos.Config {
	sc := &kardianos.Config{
		Name:        m.cfg.ServiceName(),
		DisplayName: m.cfg.ServiceDisplayName(),
		Description: m.cfg.ServiceDescription(),
		Arguments:   m.cfg.Args(),
	}
	if p != nil {
		sc.Option = p.Options()
	}
	return sc
}

func (m *TpadOSManager) newService() (kardianos.Service, error) {
	p, err := policy.NewServicePolicy(m.cfg.ServiceName())
	if err != nil {
		logger.Log.Warn("⚠️ No service policy for this platform", "err", err)
	}
	return kardianos.New(m.daemon, m.serviceConfig(p))
}

func (m *TpadOSManager) Install() error {
	p, err := policy.NewServicePolicy(m.cfg.ServiceName())
	if err != nil {
		return err
	}
	s, err := kardianos.New(m.daemon, m.serviceConfig(p))
	if err != nil {
		return err
	}
	if err := s.Install(); err != nil {
		if runtime.GOOS == "windows" {
			return fmt.Errorf("failed to install Windows service (requires administrator privileges): %w", err)
		}
		return fmt.Errorf("failed to install service: %w", err)
	}
	if err := p.Apply(); err != nil {
		logger.Log.Warn("⚠️ Restart policy not fully applied", "err", err)
	}
	if err := s.Start(); err != nil {
		logger.Log.Error("❌ Failed to start service after install:", "err", err)
		return err
	}
	return nil
}

func (m *TpadOSManager) Uninstall() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	_ = s.Stop()
	return s.Uninstall()
}

func (m *TpadOSManager) Start() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	return s.Start()
}

func (m *TpadOSManager) Restart() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	return s.Restart()
}

// Run serves in the foreground (or under the service manager) until
// interrupted.
func (m *TpadOSManager) Run() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	return s.Run()
}

func (m *TpadOSManager) Stop() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	return s.Stop()
}

// Control dispatches one of the service verbs.
func (m *TpadOSManager) Control(verb string) error {
	switch verb {
	case VerbInstall:
		return m.Install()
	case VerbUninstall:
		return m.Uninstall()
	case VerbStart:
		return m.Start()
	case VerbStop:
		return m.Stop()
	case VerbRestart:
		return m.Restart()
	default:
		return fmt.Errorf("unknown command %q", verb)
	}
}

// IsVerb reports whether arg names a service verb.
func IsVerb(arg string) bool {
	switch arg {
	case VerbInstall, VerbUninstall, VerbStart, VerbStop, VerbRestart:
		return true
	}
	return false
}
