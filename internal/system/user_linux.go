// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package system

import (
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/ssahani/netevd/internal/errors"
	"github.com/ssahani/netevd/internal/logging"
)

// Identity is the credential pair hooks and bus calls run under after
// the bootstrap.
type Identity struct {
	UID uint32
	GID uint32
}

// Current returns the identity of the running process.
func Current() Identity {
	return Identity{UID: uint32(os.Getuid()), GID: uint32(os.Getgid())}
}

// IsRoot reports whether the effective user is the super-user.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// LookupUser resolves an account name to its uid/gid.
func LookupUser(username string) (Identity, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return Identity{}, errors.Wrapf(err, errors.KindNotFound, "user %q not found", username)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return Identity{}, errors.Wrapf(err, errors.KindInternal, "invalid uid for user %q", username)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return Identity{}, errors.Wrapf(err, errors.KindInternal, "invalid gid for user %q", username)
	}
	return Identity{UID: uint32(uid), GID: uint32(gid)}, nil
}

// DropPrivileges switches the process to the named unprivileged account
// while retaining CAP_NET_ADMIN, the one capability the daemon needs to
// program routes and rules. Performed once, synchronously, before any
// goroutine is spawned.
//
// Sequence: set PR_SET_KEEPCAPS, setgid, setuid, clear PR_SET_KEEPCAPS,
// then reduce the permitted and effective sets to CAP_NET_ADMIN alone.
// The inheritable set is left empty so hook children never receive the
// capability.
func DropPrivileges(username string, logger *logging.Logger) (Identity, error) {
	if logger == nil {
		logger = logging.Default().WithComponent("system")
	}

	if !IsRoot() {
		logger.Warn("not running as root, skipping privilege drop")
		return Current(), nil
	}

	ident, err := LookupUser(username)
	if err != nil {
		return Identity{}, err
	}

	if err := unix.Prctl(unix.PR_SET_KEEPCAPS, 1, 0, 0, 0); err != nil {
		return Identity{}, errors.Wrap(err, errors.KindPermission, "failed to set PR_SET_KEEPCAPS")
	}

	// Group first; setgid is no longer permitted once the uid changes.
	if err := unix.Setgid(int(ident.GID)); err != nil {
		return Identity{}, errors.Wrapf(err, errors.KindPermission, "failed to setgid to %d", ident.GID)
	}
	if err := unix.Setuid(int(ident.UID)); err != nil {
		return Identity{}, errors.Wrapf(err, errors.KindPermission, "failed to setuid to %d", ident.UID)
	}

	if err := unix.Prctl(unix.PR_SET_KEEPCAPS, 0, 0, 0, 0); err != nil {
		return Identity{}, errors.Wrap(err, errors.KindPermission, "failed to clear PR_SET_KEEPCAPS")
	}

	if err := applyCapabilities(); err != nil {
		return Identity{}, err
	}

	if IsRoot() {
		return Identity{}, errors.New(errors.KindPermission, "still running as root after privilege drop")
	}

	logger.Info("dropped privileges", "user", username, "uid", ident.UID, "gid", ident.GID)
	return ident, nil
}

// applyCapabilities reduces the permitted and effective capability sets
// to CAP_NET_ADMIN and drops everything else.
func applyCapabilities() error {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData

	// CAP_NET_ADMIN lives in the low 32-bit word.
	data[0].Permitted = 1 << unix.CAP_NET_ADMIN
	data[0].Effective = 1 << unix.CAP_NET_ADMIN
	data[0].Inheritable = 0

	if err := unix.Capset(&hdr, &data[0]); err != nil {
		return errors.Wrap(err, errors.KindPermission, "failed to reduce capabilities to CAP_NET_ADMIN")
	}
	return nil
}

// HasNetAdmin reports whether the effective set currently contains CAP_NET_ADMIN.
func HasNetAdmin() (bool, error) {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false, errors.Wrap(err, errors.KindInternal, "capget failed")
	}
	return data[0].Effective&(1<<unix.CAP_NET_ADMIN) != 0, nil
}
