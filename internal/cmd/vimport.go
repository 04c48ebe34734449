// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/sys"
)

// ErrImportArgs is returned if the import arguments are not path and image
// pairs.
var ErrImportArgs = errors.New("expected pairs of path and image")

// importPair is an image to import.
type importPair struct {
	path  string
	image string
}

func parseImportPairs(args []string) ([]importPair, error) {
	if len(args) == 0 || len(args)%2 != 0 {
		return nil, ErrImportArgs
	}

	pairs := make([]importPair, 0, len(args)/2)

	for idx := 0; idx < len(args); idx += 2 {
		path, err := sys.AbsolutePath(args[idx])
		if err != nil {
			return nil, fmt.Errorf("import path %s: %w", args[idx], err)
		}

		pairs = append(pairs, importPair{path: path, image: args[idx+1]})
	}

	return pairs, nil
}

func (a *app) vimportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vimport <oci-dir|tar> <image[:tag]> [<path> <image[:tag]>]...",
		Short: "Import OCI image layouts or image archives",
		Long: `Imports OCI image layouts or image archives as the given image. Multi
architecture layouts are reduced to the target architecture. Multiple
images are imported in one go.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := parseImportPairs(args)
			if err != nil {
				return err
			}

			return a.vimport(cmd.Context(), pairs)
		},
	}
}

func (a *app) vimport(ctx context.Context, pairs []importPair) error {
	orch := a.orchestrator()

	daemon, err := a.activeDaemon(ctx, orch)
	if err != nil {
		return err
	}

	for _, pair := range pairs {
		var (
			output []byte
			code   int
		)

		if daemon != nil {
			response, err := daemon.Import(ctx, pair.path, pair.image, a.cfg.Arch)
			if err != nil {
				return fmt.Errorf("import %s: %w", pair.path, err)
			}

			output, code = response.Output, response.ExitCode
		} else {
			result, err := orch.Import(ctx, a.session(nil), pair.path, pair.image)
			if err != nil {
				return fmt.Errorf("import %s: %w", pair.path, err)
			}

			output, code = result.Output, result.ExitCode
		}

		if code != 0 {
			fmt.Fprint(a.stdio.Stderr, string(output))
			return fmt.Errorf("import %s: %w", pair.path, protocol.ExitError(code))
		}

		if text := strings.TrimSpace(string(output)); text != "" {
			fmt.Fprintln(a.stdio.Stdout, text)
		}

		fmt.Fprintf(a.stdio.Stdout, "Imported %s as %s\n", pair.path, pair.image)
	}

	return nil
}
