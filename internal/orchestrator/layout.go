// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/staging"
	"github.com/aibor/vcontainer/internal/sys"
)

// File and directory names in the state directory.
const (
	PIDFileName         = "daemon.pid"
	ChannelFileName     = "daemon.channel"
	ActivityFileName    = "daemon.activity"
	LockFileName        = "daemon.lock"
	LogFileName         = "daemon.log"
	WatchdogPIDFileName = "watchdog.pid"
	ShareDirName        = "share"
	RunDirName          = "run"
)

const lockRetryInterval = 50 * time.Millisecond

// Layout is the daemon's view of a state directory. The state directory is
// the only record of a running daemon.
type Layout struct {
	Dir string
}

func (l Layout) path(name string) string {
	return filepath.Join(l.Dir, name)
}

// PIDFile contains the hypervisor process ID.
func (l Layout) PIDFile() string { return l.path(PIDFileName) }

// ChannelFile contains the JSON encoded [hypervisor.Instance].
func (l Layout) ChannelFile() string { return l.path(ChannelFileName) }

// ActivityFile contains the unix time of the last command.
func (l Layout) ActivityFile() string { return l.path(ActivityFileName) }

// LockFile serializes access to the command channel.
func (l Layout) LockFile() string { return l.path(LockFileName) }

// LogFile receives the daemon guest's console.
func (l Layout) LogFile() string { return l.path(LogFileName) }

// WatchdogPIDFile contains the idle watchdog's process ID.
func (l Layout) WatchdogPIDFile() string { return l.path(WatchdogPIDFileName) }

// ShareDir is shared with the guest.
func (l Layout) ShareDir() string { return l.path(ShareDirName) }

// RunDir holds hypervisor sockets and configuration.
func (l Layout) RunDir() string { return l.path(RunDirName) }

// Registry returns the port forward registry.
func (l Layout) Registry() staging.Registry {
	return staging.Registry{Path: l.path(staging.RegistryFileName)}
}

// Create creates the state directory with its share and run directories.
func (l Layout) Create() error {
	for _, dir := range []string{l.Dir, l.ShareDir(), l.RunDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}

	return nil
}

// ReadInstance reads the persisted instance. It returns
// [ErrDaemonNotRunning] if there is none.
func (l Layout) ReadInstance() (*hypervisor.Instance, error) {
	data, err := os.ReadFile(l.ChannelFile())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrDaemonNotRunning
	} else if err != nil {
		return nil, fmt.Errorf("read channel file: %w", err)
	}

	var inst hypervisor.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode channel file %s: %w", l.ChannelFile(), err)
	}

	return &inst, nil
}

// WriteInstance persists the instance and its process ID.
func (l Layout) WriteInstance(inst *hypervisor.Instance) error {
	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("encode instance: %w", err)
	}

	if err := sys.WriteFileAtomic(l.ChannelFile(), append(data, '\n'), 0o644); err != nil {
		return err //nolint:wrapcheck
	}

	if inst.PID > 0 {
		return sys.WritePIDFile(l.PIDFile(), inst.PID) //nolint:wrapcheck
	}

	return nil
}

// Touch records now as the time of the last activity.
func (l Layout) Touch() error {
	now := strconv.FormatInt(time.Now().Unix(), 10) + "\n"
	return sys.WriteFileAtomic(l.ActivityFile(), []byte(now), 0o644) //nolint:wrapcheck
}

// LastActivity returns the time of the last activity.
func (l Layout) LastActivity() (time.Time, error) {
	data, err := os.ReadFile(l.ActivityFile())
	if err != nil {
		return time.Time{}, fmt.Errorf("read activity: %w", err)
	}

	seconds, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse activity: %w", err)
	}

	return time.Unix(seconds, 0), nil
}

// Lock acquires the exclusive daemon lock. It retries until the context is
// done. The returned function releases the lock.
func (l Layout) Lock(ctx context.Context) (func(), error) {
	file, err := os.OpenFile(l.LockFile(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}

		if !errors.Is(err, unix.EWOULDBLOCK) {
			_ = file.Close()
			return nil, fmt.Errorf("lock %s: %w", l.LockFile(), err)
		}

		select {
		case <-ctx.Done():
			_ = file.Close()
			return nil, fmt.Errorf("%w: %w", ErrLocked, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
		_ = file.Close()
	}, nil
}

// Clear removes the identity files of the daemon. The state image and the
// log are kept.
func (l Layout) Clear() error {
	var errs []error

	for _, path := range []string{
		l.ChannelFile(),
		l.PIDFile(),
		l.ActivityFile(),
		l.WatchdogPIDFile(),
	} {
		errs = append(errs, sys.RemoveIfExists(path))
	}

	errs = append(errs, l.Registry().Clear())

	return errors.Join(errs...)
}
