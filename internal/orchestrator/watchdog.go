// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

// Watch stops the daemon once no command was sent for idleTimeout. While
// the guest reports running containers, the activity is touched instead. It
// returns when the daemon is gone or the context is canceled.
func (d *Daemon) Watch(ctx context.Context, idleTimeout time.Duration) error {
	ticker := time.NewTicker(durationOr(d.orch.PollInterval, DefaultPollInterval))
	defer ticker.Stop()

	share := d.Share()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		inst, err := d.Status()
		if err != nil {
			slog.Debug("Watchdog exits, daemon is gone", slog.Any("error", err))
			return nil
		}

		if share.ContainersRunning() {
			if err := d.layout.Touch(); err != nil {
				slog.Warn("Failed to record activity", slog.Any("error", err))
			}

			continue
		}

		last, err := d.layout.LastActivity()
		if err != nil {
			slog.Warn("No activity record, assuming activity now", slog.Any("error", err))

			_ = d.layout.Touch()

			continue
		}

		idle := time.Since(last)
		if idle < idleTimeout {
			continue
		}

		slog.Info("Daemon idle, shutting down",
			slog.String("state_dir", d.layout.Dir),
			slog.Duration("idle", idle.Round(time.Second)))

		if err := d.orch.Backend.IdleShutdown(ctx, inst); err != nil {
			slog.Warn("Idle shutdown failed", slog.Any("error", err))
		}

		return d.Stop(context.WithoutCancel(ctx))
	}
}
