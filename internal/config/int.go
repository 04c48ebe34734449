// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"
	"strconv"
)

// LimitedUintValue is a [pflag.Value] for unsigned integers within a range.
// Zero bounds are not checked.
type LimitedUintValue struct {
	Value *uint64
	Lower uint64
	Upper uint64
}

// String implements [pflag.Value].
func (u *LimitedUintValue) String() string {
	if u.Value == nil {
		return "0"
	}

	return strconv.FormatUint(*u.Value, 10)
}

// Set implements [pflag.Value].
func (u *LimitedUintValue) Set(s string) error {
	value, err := u.parse(s)
	if err != nil {
		return err
	}

	*u.Value = value

	return nil
}

// Type implements [pflag.Value].
func (*LimitedUintValue) Type() string {
	return "uint"
}

func (u *LimitedUintValue) parse(s string) (uint64, error) {
	value, err := strconv.ParseUint(s, 10, 0)
	if err != nil {
		return 0, fmt.Errorf("parse: %w", err)
	}

	if u.Lower > 0 && value < u.Lower {
		return 0, fmt.Errorf("%d < %d: %w", value, u.Lower, ErrValueOutOfRange)
	}

	if u.Upper > 0 && value > u.Upper {
		return 0, fmt.Errorf("%d > %d: %w", value, u.Upper, ErrValueOutOfRange)
	}

	return value, nil
}
