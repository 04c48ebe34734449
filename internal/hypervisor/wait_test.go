// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package hypervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aibor/vcontainer/internal/hypervisor"
)

func TestPollUntil(t *testing.T) {
	t.Run("done after some calls", func(t *testing.T) {
		calls := 0
		done := hypervisor.PollUntil(t.Context(), time.Millisecond, time.Second, func() bool {
			calls++
			return calls == 3
		})

		assert.True(t, done)
		assert.Equal(t, 3, calls)
	})

	t.Run("timeout", func(t *testing.T) {
		done := hypervisor.PollUntil(t.Context(), time.Millisecond, 20*time.Millisecond, func() bool {
			return false
		})

		assert.False(t, done)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		done := hypervisor.PollUntil(ctx, time.Millisecond, time.Minute, func() bool {
			return false
		})

		assert.False(t, done)
	})
}
