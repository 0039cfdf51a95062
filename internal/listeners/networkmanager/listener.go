// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package networkmanager listens for NetworkManager device state
// changes on the system bus and turns them into normalized lifecycle
// events.
package networkmanager

import (
	"context"
	"net/netip"
	"strconv"

	"github.com/godbus/dbus/v5"

	"github.com/ssahani/netevd/internal/config"
	"github.com/ssahani/netevd/internal/errors"
	"github.com/ssahani/netevd/internal/event"
	"github.com/ssahani/netevd/internal/hooks"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/netstate"
	"github.com/ssahani/netevd/internal/transport"
	"github.com/ssahani/netevd/internal/validation"
)

const (
	nmService         = "org.freedesktop.NetworkManager"
	nmDeviceInterface = "org.freedesktop.NetworkManager.Device"
	stateChangedName  = nmDeviceInterface + ".StateChanged"
)

// NetworkManager device states (NMDeviceState).
const (
	deviceStateDisconnected = 30
	deviceStateActivated    = 100
	deviceStateDeactivating = 110
	deviceStateFailed       = 120
)

// mapDeviceState folds NetworkManager's device state enumeration onto
// the hook state tags.
func mapDeviceState(state uint32) event.State {
	switch state {
	case deviceStateActivated:
		return event.StateActivated
	case deviceStateDisconnected, deviceStateDeactivating, deviceStateFailed:
		return event.StateDisconnected
	default:
		return event.StateManager
	}
}

// Listener consumes NetworkManager device signals.
type Listener struct {
	monitored func(string) bool
	state     *netstate.State
	kernel    transport.Kernel
	disp      *hooks.Dispatcher
	logger    *logging.Logger
}

// New creates a NetworkManager listener.
func New(monitored func(string) bool, state *netstate.State, kernel transport.Kernel, disp *hooks.Dispatcher, logger *logging.Logger) *Listener {
	if logger == nil {
		logger = logging.Default().WithComponent("networkmanager")
	}
	return &Listener{
		monitored: monitored,
		state:     state,
		kernel:    kernel,
		disp:      disp,
		logger:    logger,
	}
}

// Run subscribes on the system bus until the context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to connect to system bus")
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchSender(nmService),
		dbus.WithMatchInterface(nmDeviceInterface),
		dbus.WithMatchMember("StateChanged"),
	); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to add NetworkManager signal match")
	}

	signals := make(chan *dbus.Signal, 64)
	conn.Signal(signals)
	l.logger.Info("NetworkManager listener started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return errors.New(errors.KindUnavailable, "system bus connection lost")
			}
			if sig.Name != stateChangedName {
				continue
			}
			l.handleStateChanged(ctx, conn, sig)
		}
	}
}

// handleStateChanged processes one StateChanged signal. The body is
// (new, old, reason) as unsigned integers; the device's interface name
// comes from a property read on the signal path.
func (l *Listener) handleStateChanged(ctx context.Context, conn *dbus.Conn, sig *dbus.Signal) {
	if len(sig.Body) < 1 {
		return
	}
	newState, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}

	name, err := deviceInterfaceName(conn, sig.Path)
	if err != nil {
		l.logger.Debug("failed to read device interface", "path", sig.Path, "error", err)
		return
	}
	if err := validation.ValidateInterfaceName(name); err != nil {
		l.logger.Warn("dropping signal with invalid device name", "error", err)
		return
	}
	if !l.monitored(name) {
		return
	}

	tag := mapDeviceState(newState)
	ifindex, _ := l.state.IndexOf(name)

	l.logger.Info("device state changed",
		"link", name,
		"state", tag,
		"device_state", newState)

	l.disp.Dispatch(ctx, event.Event{
		Link:      name,
		LinkIndex: ifindex,
		State:     tag,
		Backend:   config.BackendNetworkManager,
		Addresses: l.globalAddresses(ifindex),
		Payload: map[string]string{
			"NM_DEVICE_STATE": strconv.FormatUint(uint64(newState), 10),
		},
	})
}

func deviceInterfaceName(conn *dbus.Conn, path dbus.ObjectPath) (string, error) {
	variant, err := conn.Object(nmService, path).GetProperty(nmDeviceInterface + ".Interface")
	if err != nil {
		return "", err
	}
	name, ok := variant.Value().(string)
	if !ok {
		return "", errors.New(errors.KindInternal, "Interface property is not a string")
	}
	return name, nil
}

func (l *Listener) globalAddresses(ifindex int) []netip.Addr {
	if ifindex <= 0 {
		return nil
	}
	infos, err := l.kernel.ListAddresses(ifindex)
	if err != nil {
		return nil
	}
	var out []netip.Addr
	for _, info := range infos {
		if info.Scope == transport.ScopeGlobal {
			out = append(out, info.Addr)
		}
	}
	return out
}
