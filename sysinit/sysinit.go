// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sysinit

import (
	"fmt"
	"log"
)

// Func is a function run by [Run].
type Func func(*State) error

// Run is the entry point of the guest init.
//
// It runs the given functions in order and powers the guest off afterwards.
// It never returns. It must be run as PID 1, otherwise it panics
// immediately.
//
// The essential file systems /dev, /proc and /sys are mounted before the
// first function runs. The functions must not terminate the program, like
// with [os.Exit]. Panics are recovered from, so the cleanup functions
// registered with [State.Cleanup] run in any case.
//
// A typical guest init looks like:
//
//	Run(
//		[WithMountPoints]([SystemMountPoints]()),
//		[WithSymlinks]([DevSymlinks]()),
//		[WithInterfaceUp]("lo"),
//		[WithEnv]([EnvVars]{"PATH": "/usr/sbin:/usr/bin:/sbin:/bin"}),
//		func(state *State) error {
//			// Actual guest main code.
//		},
//	)
func Run(funcs ...Func) {
	if !IsPidOne() {
		panic(ErrNotPidOne)
	}

	allFns := []Func{
		WithMountPoints(essentialMountPoints()),
	}
	allFns = append(allFns, funcs...)

	run(logError, allFns)

	if err := Poweroff(); err != nil {
		logError(err)
	}
}

func run(errHandler func(error), funcs []Func) {
	state := new(State)
	defer state.doCleanup()

	if err := runFuncs(state, funcs); err != nil {
		errHandler(err)
	}
}

func runFuncs(state *State, funcs []Func) (err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}

		if recoveredErr, ok := rec.(error); ok {
			err = fmt.Errorf("%w: %w", ErrPanic, recoveredErr)
		} else {
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
		}
	}()

	for _, fn := range funcs {
		if err = fn(state); err != nil {
			return err
		}
	}

	return nil
}

func logError(err error) {
	if err != nil {
		log.Print("ERROR ", err.Error())
	}
}

// IsPidOne returns true if the running process has PID 1.
func IsPidOne() bool {
	return getpid() == 1
}

// Poweroff shuts down the system.
//
// It does not return, unless in case of error.
func Poweroff() error {
	// Silence the kernel so the shutdown does not clutter the console.
	_ = sysctl("kernel.printk", "0")

	// Use restart instead of poweroff for shutting down the system since it
	// does not require ACPI. The guest is started with "panic=-1" and
	// QEMU's -no-reboot or Xen's on_reboot=destroy.
	if err := reboot(); err != nil {
		return fmt.Errorf("poweroff failed: %w", err)
	}

	return nil
}

// Sysctl sets a kernel knob, like "net.ipv4.ip_forward".
func Sysctl(key, value string) error {
	return sysctl(key, value)
}
