// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"slices"

	"github.com/spf13/cobra"
)

type vrunOptions struct {
	volumes     []string
	env         []string
	interactive bool
	tty         bool
}

// runArgs returns the runtime arguments of the container run.
func (o vrunOptions) runArgs(args []string) []string {
	runArgs := []string{"run", "--rm"}

	if o.interactive {
		runArgs = append(runArgs, "-i")
	}

	if o.tty {
		runArgs = append(runArgs, "-t")
	}

	for _, volume := range o.volumes {
		runArgs = append(runArgs, "-v", volume)
	}

	for _, env := range o.env {
		runArgs = append(runArgs, "-e", env)
	}

	return slices.Concat(runArgs, args)
}

func (a *app) vrunCommand() *cobra.Command {
	var opts vrunOptions

	vrun := &cobra.Command{
		Use:   "vrun [flags] <image> [command...]",
		Short: "Run a command in a new container that is removed afterwards",
		Long: `Runs the command in a new container of the image, like "run --rm". Host
directories given as volume are synced into the container and back.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runtimeCommand(cmd.Context(), opts.runArgs(args))
		},
	}

	// Arguments after the image belong to the container command.
	vrun.Flags().SetInterspersed(false)
	vrun.Flags().StringArrayVarP(&opts.volumes, "volume", "v", nil,
		"bind mount host:container[:ro]. Flag may be used more than once.")
	vrun.Flags().StringArrayVarP(&opts.env, "env", "e", nil,
		"set environment variable. Flag may be used more than once.")
	vrun.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "keep stdin open")
	vrun.Flags().BoolVarP(&opts.tty, "tty", "t", false, "allocate a pseudo-terminal")

	return vrun
}
