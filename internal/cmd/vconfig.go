// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aibor/vcontainer/internal/config"
)

func (a *app) vconfigCommand() *cobra.Command {
	var reset bool

	vconfig := &cobra.Command{
		Use:   "vconfig [key [value]]",
		Short: "Show or change the persisted configuration",
		Long: `Without arguments, the stored values are printed. With a key only,
the effective value of the key is printed. With a key and a value, the value
is validated and stored. With --reset, the stored value of the key is removed.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := config.OpenStore(a.cfg.ConfigFile)
			if err != nil {
				return err //nolint:wrapcheck
			}

			switch {
			case reset:
				if len(args) != 1 {
					return ErrResetArgs
				}

				return store.Reset(args[0]) //nolint:wrapcheck
			case len(args) == 0:
				stored := map[string]string{}

				for _, key := range config.PersistedKeys() {
					if value, exists := store.Get(key); exists {
						stored[key] = value
					}
				}

				return config.Render(a.stdio.Stdout, stored) //nolint:wrapcheck
			case len(args) == 1:
				if !config.IsPersistedKey(args[0]) {
					return fmt.Errorf("%w: %s", config.ErrUnknownKey, args[0])
				}

				fmt.Fprintln(a.stdio.Stdout, a.cfg.Values()[args[0]])

				return nil
			default:
				if err := store.Set(args[0], args[1]); err != nil {
					return err //nolint:wrapcheck
				}

				fmt.Fprintf(a.stdio.Stdout, "%s = %s\n", args[0], args[1])

				return nil
			}
		},
	}

	vconfig.Flags().BoolVar(&reset, "reset", false, "remove the stored value of the key")

	vconfig.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return config.Render(a.stdio.Stdout, a.cfg.Values()) //nolint:wrapcheck
		},
	})

	return vconfig
}
