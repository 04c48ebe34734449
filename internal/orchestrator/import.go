// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aibor/vcontainer/internal/artifact"
	"github.com/aibor/vcontainer/internal/config"
	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/sys"
)

// ErrInvalidImageName is returned for image references that can not be
// used as tag.
var ErrInvalidImageName = errors.New("invalid image name")

var imageNameRE = regexp.MustCompile(`^[a-z0-9][a-zA-Z0-9._/:@-]*$`)

// loadedImageFilter extracts the image reference from the output of
// "load", like "Loaded image: foo:latest" or "Loaded image ID: sha256:...".
const loadedImageFilter = `sed -n 's/^Loaded image[^:]*: //p' | tail -n 1`

// ImportCommand returns the guest command importing the input of the given
// type as image. The input is referenced by [protocol.InputPlaceholder].
// For tar input, name is the archive's file name in the input directory.
//
// OCI layouts are pulled with the oci transport by podman. Docker loads
// them as archive. The imported image is tagged as image.
func ImportCommand(
	runtime config.Runtime,
	inputType protocol.InputType,
	name string,
	image string,
) (protocol.Command, error) {
	if !imageNameRE.MatchString(image) {
		return protocol.Command{}, fmt.Errorf("%w: %q", ErrInvalidImageName, image)
	}

	rt := string(runtime)
	input := protocol.InputPlaceholder

	var load string

	switch inputType {
	case protocol.InputOCI:
		if runtime == config.RuntimePodman {
			load = fmt.Sprintf("%s pull -q oci:%s | tail -n 1", rt, input)
		} else {
			load = fmt.Sprintf("tar -C %s -cf - . | %s load | %s", input, rt, loadedImageFilter)
		}
	case protocol.InputTar:
		if strings.ContainsAny(name, "'\"$`\\ ") || name == "" {
			return protocol.Command{}, fmt.Errorf("%w: archive name %q", artifact.ErrUnsupportedInput, name)
		}

		load = fmt.Sprintf("%s load -i %s/%s | %s", rt, input, name, loadedImageFilter)
	default:
		return protocol.Command{}, fmt.Errorf("%w: %s input", artifact.ErrNotOCILayout, inputType)
	}

	script := fmt.Sprintf(`set -e; id=$(%s); test -n "$id"; %s tag "$id" '%s'`, load, rt, image)

	return protocol.Command{
		Args:       []string{"sh", "-c", script},
		NeedsInput: true,
	}, nil
}

// Import imports the OCI layout or image archive at src as image into the
// daemon. Multi architecture layouts are reduced to the manifest for arch
// before they are staged.
func (d *Daemon) Import(
	ctx context.Context,
	src, image string,
	arch sys.Arch,
) (*protocol.Response, error) {
	inputType, err := artifact.InputTypeOf(src)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	cmd, err := ImportCommand(d.runtime, inputType, filepath.Base(src), image)
	if err != nil {
		return nil, err
	}

	input := src

	if inputType == protocol.InputOCI {
		workDir, err := d.orch.workDir()
		if err != nil {
			return nil, err
		}

		defer func() {
			if err := os.RemoveAll(workDir); err != nil {
				slog.Warn("Failed to remove work directory", slog.Any("error", err))
			}
		}()

		preparer := artifact.Preparer{Exec: d.orch.Exec, WorkDir: workDir}

		input, err = preparer.StageOCI(src, arch)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", src, err)
		}
	}

	return d.SendWithInput(ctx, cmd, input)
}

// Import imports the OCI layout or image archive at src as image in a one
// shot guest. The session's state directory receives the image.
func (o *Orchestrator) Import(
	ctx context.Context,
	sess Session,
	src, image string,
) (*protocol.Result, error) {
	inputType, err := artifact.InputTypeOf(src)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	cmd, err := ImportCommand(sess.Runtime, inputType, filepath.Base(src), image)
	if err != nil {
		return nil, err
	}

	sess.Args = cmd.Args
	sess.Input = src
	sess.Output = protocol.OutputText
	sess.Interactive = false

	return o.RunOneShot(ctx, sess, hypervisor.IO{})
}
