// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package hooks executes operator-provided programs from the
// state-keyed hook directory tree. Hooks receive a cleared, validated
// environment and run as the daemon's unprivileged identity; one
// failing hook never stops its siblings.
package hooks

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/ssahani/netevd/internal/errors"
	"github.com/ssahani/netevd/internal/event"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/system"
	"github.com/ssahani/netevd/internal/validation"
)

// DefaultTimeout bounds a single hook's runtime.
const DefaultTimeout = 30 * time.Second

// Filter decides whether an event reaches the hook tree at all.
type Filter interface {
	ShouldExecute(ev event.Event) bool
}

// Dispatcher runs hook programs for normalized events.
type Dispatcher struct {
	root    string
	timeout time.Duration
	ident   system.Identity
	filter  Filter
	logger  *logging.Logger
}

// NewDispatcher creates a dispatcher rooted at the hook tree. The
// filter may be nil.
func NewDispatcher(root string, timeout time.Duration, ident system.Identity, filter Filter, logger *logging.Logger) *Dispatcher {
	if root == "" {
		root = system.ConfigDir
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.Default().WithComponent("hooks")
	}
	return &Dispatcher{
		root:    root,
		timeout: timeout,
		ident:   ident,
		filter:  filter,
		logger:  logger,
	}
}

// Dispatch runs every executable in <root>/<state>.d for the event, in
// lexicographic order. Hook failures are logged and do not abort
// sibling executions; a poisoned event (invalid state, link name or
// address list) or a filter rejection suppresses dispatch entirely.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) {
	env, err := d.environment(ev)
	if err != nil {
		d.logger.Warn("event rejected, hooks not dispatched",
			"link", ev.Link,
			"state", ev.State,
			"error", err)
		return
	}

	if d.filter != nil && !d.filter.ShouldExecute(ev) {
		d.logger.Debug("event filtered out", "link", ev.Link, "state", ev.State)
		return
	}

	dir := system.ScriptDir(d.root, string(ev.State))
	scripts, err := listScripts(dir)
	if err != nil {
		d.logger.Debug("no hooks to run", "dir", dir, "error", err)
		return
	}
	if len(scripts) == 0 {
		return
	}

	d.logger.Info("dispatching hooks", "dir", dir, "count", len(scripts), "link", ev.Link, "state", ev.State)
	for _, script := range scripts {
		if ctx.Err() != nil {
			return
		}
		d.runScript(ctx, script, env)
	}
}

// environment builds the validated child environment. The link name,
// state tag and address list are load-bearing (they pick the directory
// and identify the interface) and poison the event when invalid;
// payload entries are merely dropped.
func (d *Dispatcher) environment(ev event.Event) ([]string, error) {
	if !ev.State.Valid() {
		return nil, errors.Errorf(errors.KindValidation, "invalid state tag %q", ev.State)
	}
	// Manager-level events carry no interface; everything else must
	// name a valid one.
	if ev.Link != "" || ev.State != event.StateManager {
		if err := validation.ValidateInterfaceName(ev.Link); err != nil {
			return nil, err
		}
	}

	addresses := ev.AddressList()
	if err := validation.ValidateAddressList(addresses); err != nil {
		return nil, err
	}

	env := []string{
		"LINK=" + ev.Link,
		"LINKINDEX=" + strconv.Itoa(ev.LinkIndex),
		"STATE=" + string(ev.State),
		"BACKEND=" + ev.Backend,
		"ADDRESSES=" + addresses,
	}

	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := validation.ValidateEnvKey(k); err != nil {
			d.logger.Warn("dropping payload key", "key", k, "error", err)
			continue
		}
		if err := validation.ValidateEnvValue(ev.Payload[k]); err != nil {
			d.logger.Warn("dropping payload value", "key", k, "error", err)
			continue
		}
		env = append(env, k+"="+ev.Payload[k])
	}
	return env, nil
}

// listScripts returns the regular executable files in dir, sorted by
// basename.
func listScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var scripts []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Mode().Perm()&0o111 == 0 {
			continue
		}
		scripts = append(scripts, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(scripts)
	return scripts, nil
}

// runScript executes one hook with a bounded timeout. No shell is
// interposed; the environment is exactly what environment() built.
func (d *Dispatcher) runScript(ctx context.Context, path string, env []string) {
	name := filepath.Base(path)
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path)
	cmd.Env = env
	cmd.Stdin = nil
	cmd.Stdout = d.logger.Writer(logging.LevelDebug, "hook", name, "stream", "stdout")
	cmd.Stderr = d.logger.Writer(logging.LevelWarn, "hook", name, "stream", "stderr")

	attr := &syscall.SysProcAttr{Setsid: true}
	if d.ident.UID != 0 && d.ident.UID != uint32(os.Getuid()) {
		// Only reachable when the daemon kept root; normally the
		// bootstrap already switched the whole process.
		attr.Credential = &syscall.Credential{Uid: d.ident.UID, Gid: d.ident.GID}
	}
	cmd.SysProcAttr = attr
	// A killed hook can leave grandchildren holding the output pipes;
	// don't let them pin Wait past the grace period.
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		d.logger.Warn("hook timed out and was killed", "hook", name, "timeout", d.timeout)
	case err != nil:
		d.logger.Warn("hook failed", "hook", name, "error", err)
	default:
		d.logger.Debug("hook completed", "hook", name, "duration", time.Since(start))
	}
}
