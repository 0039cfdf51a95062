// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command netevd watches network configuration state, keeps
// multi-homed routing symmetric via per-interface policy rules, and
// runs operator hooks on interface lifecycle events.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ssahani/netevd/internal/config"
	"github.com/ssahani/netevd/internal/daemon"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/system"
	"github.com/ssahani/netevd/internal/transport"
)

const version = "0.6.0"

func main() {
	configPath := flag.String("config", system.ConfigFile, "Path to YAML config file")
	userName := flag.String("user", system.DefaultUser, "Unprivileged account to run as")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("netevd", version)
		return
	}

	logger := logging.New(logging.DefaultConfig())
	logger.Info("starting netevd", "version", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.System.LogLevel)
	logger.Info("configuration loaded", "backend", cfg.System.Backend, "log_level", cfg.System.LogLevel)

	// Everything after this point runs as the unprivileged account
	// with CAP_NET_ADMIN only. Must happen before any goroutine
	// starts.
	ident, err := system.DropPrivileges(*userName, logger.WithComponent("system"))
	if err != nil {
		logger.Error("privilege bootstrap failed", "error", err)
		os.Exit(1)
	}

	kernel, err := transport.NewNetlink(logger.WithComponent("netlink"))
	if err != nil {
		logger.Error("failed to open kernel transport", "error", err)
		os.Exit(1)
	}
	defer kernel.Close()

	d, err := daemon.New(cfg, kernel, ident, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := d.Run(ctx); err != nil {
		logger.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}
