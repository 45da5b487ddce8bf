package main

import (
	"fmt"
	"os"

	"github.com/The-Promised-Neverland/transporter/internal/config"
	"github.com/The-Promised-Neverland/transporter/internal/daemon"
	"github.com/The-Promised-Neverland/transporter/internal/osManager"
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tpad [install|uninstall|start|stop|restart] -Z <zmq address> -d <directory> [flags]")
	config.Usage(os.Stderr)
}

func main() {
	args := os.Args[1:]
	verb := ""
	if len(args) > 0 && osManager.IsVerb(args[0]) {
		verb, args = args[0], args[1:]
	}

	var (
		cfg *config.Config
		err error
	)
	if verb == "" || verb == osManager.VerbInstall {
		cfg, err = config.Load(args)
	} else {
		cfg, err = config.Parse(args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tpad: %v\n", err)
		usage()
		os.Exit(1)
	}
	logger.Init(cfg.LogFile(), cfg.Verbosity())

	app := daemon.NewApplication(cfg)
	manager := osManager.NewManager(daemon.NewDaemon(app), cfg)

	if verb != "" {
		if err := manager.Control(verb); err != nil {
			logger.Log.Error("❌ Service command failed", "command", verb, "err", err)
			os.Exit(1)
		}
		logger.Log.Info("✅ Service command done", "command", verb, "service", cfg.ServiceName())
		return
	}

	if err := manager.Run(); err != nil {
		logger.Log.Error("❌ Service failed", "err", err)
		os.Exit(1)
	}
}
