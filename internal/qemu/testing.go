// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"github.com/stretchr/testify/assert"

	"github.com/aibor/vcontainer/internal/hypervisor"
)

// ArgumentValueAssertionFunc returns an [assert.ComparisonAssertionFunc] that
// can be used to assert the value of the Argument with the given name.
//
// The first argument may be a []Argument or [hypervisor.Options].
func ArgumentValueAssertionFunc(
	name string,
	assertion assert.ComparisonAssertionFunc,
) assert.ComparisonAssertionFunc {
	return func(t assert.TestingT, arg1, arg2 any, arg3 ...any) bool {
		var args []Argument

		switch value := arg1.(type) {
		case []Argument:
			args = value
		case hypervisor.Options:
			parsed, err := parseOptions(value)
			if !assert.NoError(t, err) {
				return false
			}

			args = parsed
		default:
			return assert.Fail(t, "first argument should be []Argument or Options")
		}

		for _, arg := range args {
			if name != arg.name {
				continue
			}

			return assertion(t, arg.value, arg2, arg3...)
		}

		return assert.Fail(t, "Argument not found")
	}
}
