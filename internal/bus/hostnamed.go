// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bus

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/ssahani/netevd/internal/errors"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/validation"
)

const (
	hostnamedService   = "org.freedesktop.hostname1"
	hostnamedPath      = "/org/freedesktop/hostname1"
	hostnamedInterface = "org.freedesktop.hostname1"
)

// Hostnamed is a systemd-hostnamed client.
type Hostnamed struct {
	conn   *dbus.Conn
	logger *logging.Logger
}

// NewHostnamed connects to the system bus.
func NewHostnamed(logger *logging.Logger) (*Hostnamed, error) {
	if logger == nil {
		logger = logging.Default().WithComponent("hostnamed")
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to connect to system bus")
	}
	return &Hostnamed{conn: conn, logger: logger}, nil
}

// Close releases the bus connection.
func (h *Hostnamed) Close() {
	_ = h.conn.Close()
}

// SetStaticHostname sets the static hostname. The name is validated
// before it crosses the bus.
func (h *Hostnamed) SetStaticHostname(ctx context.Context, hostname string) error {
	if hostname == "" {
		return nil
	}
	if err := validation.ValidateHostname(hostname); err != nil {
		return err
	}

	obj := h.conn.Object(hostnamedService, hostnamedPath)
	call := obj.CallWithContext(ctx, hostnamedInterface+".SetStaticHostname", 0, hostname, false)
	if call.Err != nil {
		return errors.Wrapf(call.Err, errors.KindUnavailable, "SetStaticHostname %q failed", hostname)
	}

	h.logger.Info("set static hostname", "hostname", hostname)
	return nil
}
