// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aibor/vcontainer/internal/artifact"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/sys"
)

const shortHashLen = 8

// Volume is a bind mount of a host path into a container.
type Volume struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool

	// Options are additional mount options, like "z", passed on as is.
	Options []string

	// Staged is the host path of the copy in the shared directory. It is set
	// by [Share.Stage].
	Staged string
	// GuestPath is the path of the copy in the guest.
	GuestPath string
}

// IsBindMount reports whether the source part of a volume spec is a host
// path. Other sources are named volumes managed by the runtime.
func IsBindMount(source string) bool {
	return strings.HasPrefix(source, "/") ||
		strings.HasPrefix(source, ".") ||
		strings.HasPrefix(source, "~")
}

// ParseVolume parses a "host:container[:ro|rw]" volume spec. The host path is
// made absolute.
func ParseVolume(spec string) (Volume, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Volume{}, fmt.Errorf("%w: %q", ErrInvalidVolume, spec)
	}

	hostPath, err := sys.AbsolutePath(parts[0])
	if err != nil {
		return Volume{}, fmt.Errorf("%w: %q: %w", ErrInvalidVolume, spec, err)
	}

	volume := Volume{
		HostPath:      hostPath,
		ContainerPath: parts[1],
	}

	if len(parts) == 3 {
		for _, opt := range strings.Split(parts[2], ",") {
			switch opt {
			case "ro":
				volume.ReadOnly = true
			case "rw":
				volume.ReadOnly = false
			case "":
				return Volume{}, fmt.Errorf("%w: %q", ErrInvalidVolume, spec)
			default:
				volume.Options = append(volume.Options, opt)
			}
		}
	}

	return volume, nil
}

// ShortHash returns the staging directory name for the host path.
func ShortHash(hostPath string) string {
	sum := sha256.Sum256([]byte(hostPath))
	return hex.EncodeToString(sum[:])[:shortHashLen]
}

// Spec returns the volume spec for the guest runtime.
func (v Volume) Spec() string {
	opts := append([]string(nil), v.Options...)
	if v.ReadOnly {
		opts = append([]string{"ro"}, opts...)
	}

	spec := v.GuestPath + ":" + v.ContainerPath
	if len(opts) > 0 {
		spec += ":" + strings.Join(opts, ",")
	}

	return spec
}

// Share is the host side of the directory shared with the daemon guest.
type Share struct {
	// Dir is the shared directory on the host.
	Dir string

	// Exec runs rsync for syncing volumes back.
	Exec sys.Executor
}

func (s Share) volumesDir() string {
	return filepath.Join(s.Dir, protocol.VolumesDir)
}

// Stage copies the volume's host path into the share and sets its staged
// and guest paths. Existing staged content is replaced.
func (s Share) Stage(volume Volume) (Volume, error) {
	info, err := os.Stat(volume.HostPath)
	if err != nil {
		return volume, fmt.Errorf("volume source: %w", err)
	}

	hash := ShortHash(volume.HostPath)
	dir := filepath.Join(s.volumesDir(), hash)
	guestDir := path.Join(protocol.ShareMountPoint, protocol.VolumesDir, hash)

	if err := os.RemoveAll(dir); err != nil {
		return volume, fmt.Errorf("clear staged volume: %w", err)
	}

	if info.IsDir() {
		volume.Staged, volume.GuestPath = dir, guestDir
		err = artifact.CopyTree(volume.HostPath, dir)
	} else {
		name := filepath.Base(volume.HostPath)
		volume.Staged = filepath.Join(dir, name)
		volume.GuestPath = path.Join(guestDir, name)
		err = artifact.CopyFile(volume.HostPath, volume.Staged)
	}

	if err != nil {
		return volume, fmt.Errorf("stage volume %s: %w", volume.HostPath, err)
	}

	slog.Debug("Volume staged",
		slog.String("host", volume.HostPath),
		slog.String("guest", volume.GuestPath))

	return volume, nil
}

// StageRunArgs stages all bind mounted volumes of a run command line and
// returns the arguments with the volume specs rewritten to the guest paths.
// Other commands are returned unchanged. Bind mounts require daemon mode,
// since one shot guests have no share attached.
func (s Share) StageRunArgs(args []string, daemon bool) ([]string, []Volume, error) {
	start, isRun := IsRunCommand(args)
	if !isRun {
		return args, nil, nil
	}

	flags, _ := scanRunFlags(args, start)

	var (
		rewritten = make([]string, 0, len(args))
		volumes   []Volume
		next      int
	)

	for _, flag := range flags {
		if flag.name != "-v" && flag.name != "--volume" {
			continue
		}

		source, _, _ := strings.Cut(flag.value, ":")
		if !IsBindMount(source) {
			continue
		}

		if !daemon {
			return nil, nil, ErrVolumesRequireDaemon
		}

		volume, err := ParseVolume(flag.value)
		if err != nil {
			return nil, nil, err
		}

		volume, err = s.Stage(volume)
		if err != nil {
			return nil, nil, err
		}

		volumes = append(volumes, volume)
		rewritten = append(rewritten, args[next:flag.start]...)
		rewritten = append(rewritten, flag.rewrite(args, volume.Spec())...)
		next = flag.end
	}

	rewritten = append(rewritten, args[next:]...)

	return rewritten, volumes, nil
}

// SyncBack copies the content of writable staged volumes back to their host
// paths. Files removed in the guest are removed on the host as well, if
// rsync is available. Otherwise the staged content is copied over the host
// path.
func (s Share) SyncBack(ctx context.Context, volumes []Volume) error {
	var errs []error

	for _, volume := range volumes {
		if volume.ReadOnly || volume.Staged == "" {
			continue
		}

		if err := s.syncVolume(ctx, volume); err != nil {
			errs = append(errs, fmt.Errorf("sync volume %s: %w", volume.HostPath, err))
		}
	}

	return errors.Join(errs...)
}

func (s Share) syncVolume(ctx context.Context, volume Volume) error {
	info, err := os.Stat(volume.Staged)
	if err != nil {
		return fmt.Errorf("staged volume: %w", err)
	}

	if !info.IsDir() {
		return artifact.CopyFile(volume.Staged, volume.HostPath)
	}

	if _, err := s.Exec.LookPath("rsync"); err == nil {
		_, err := s.Exec.Run(ctx, "rsync", "-a", "--delete",
			volume.Staged+"/", volume.HostPath+"/")
		if err == nil {
			return nil
		}

		slog.Warn("Volume sync with rsync failed, fall back to copy",
			slog.String("volume", volume.HostPath),
			slog.Any("error", err))
	} else {
		slog.Warn("rsync not available, sync volume by copy",
			slog.String("volume", volume.HostPath))
	}

	return artifact.CopyTree(volume.Staged, volume.HostPath)
}

// Cleanup removes the staged copies of the volumes.
func (s Share) Cleanup(volumes []Volume) error {
	var errs []error

	for _, volume := range volumes {
		if volume.Staged == "" {
			continue
		}

		dir := filepath.Join(s.volumesDir(), ShortHash(volume.HostPath))
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// StageInput copies src into the share's input directory for input-needed
// daemon requests. The directory is cleared first.
func (s Share) StageInput(src string) error {
	dir := filepath.Join(s.Dir, protocol.ShareInputDir)

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear input: %w", err)
	}

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("input: %w", err)
	}

	if info.IsDir() {
		err = artifact.CopyTree(src, dir)
	} else {
		err = artifact.CopyFile(src, filepath.Join(dir, filepath.Base(src)))
	}

	if err != nil {
		return fmt.Errorf("stage input: %w", err)
	}

	return nil
}

// ContainersRunning reports whether the guest marked running containers.
func (s Share) ContainersRunning() bool {
	return sys.FileExists(filepath.Join(s.Dir, protocol.ContainersRunningMarker))
}
