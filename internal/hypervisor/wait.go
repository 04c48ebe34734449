// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package hypervisor

import (
	"context"
	"time"
)

// PollUntil calls done every interval until it returns true, the timeout
// expires or the context is canceled. It returns the last result of done.
func PollUntil(
	ctx context.Context,
	interval, timeout time.Duration,
	done func() bool,
) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if done() {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return done()
		case <-ticker.C:
		}
	}
}
