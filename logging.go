// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package dwheel

import (
	"fmt"

	"github.com/intuitivelabs/slog"
)

// Log is the package logger. The level can be changed at runtime, e.g.
// slog.SetLevel(&dwheel.Log, slog.LDBG).
var Log slog.Log = slog.New(slog.LNOTICE,
	slog.LbackTraceS|slog.LlocInfoS, slog.LStdErr)

// DBGon returns true if debug messages are enabled.
func DBGon() bool {
	return Log.DBGon()
}

// WARNon returns true if warning messages are enabled.
func WARNon() bool {
	return Log.WARNon()
}

// ERRon returns true if error messages are enabled.
func ERRon() bool {
	return Log.ERRon()
}

// DBG logs a debug message.
func DBG(f string, a ...interface{}) {
	Log.LLog(slog.LDBG, 1, "DBG: "+NAME+": ", f, a...)
}

// WARN logs a warning message.
func WARN(f string, a ...interface{}) {
	Log.LLog(slog.LWARN, 1, "WARNING: "+NAME+": ", f, a...)
}

// ERR logs an error message.
func ERR(f string, a ...interface{}) {
	Log.LLog(slog.LERR, 1, "ERROR: "+NAME+": ", f, a...)
}

// BUG logs an internal inconsistency.
func BUG(f string, a ...interface{}) {
	Log.LLog(slog.LBUG, 1, "BUG: "+NAME+": ", f, a...)
}

// PANIC logs the message and panics.
func PANIC(f string, a ...interface{}) {
	Log.LLog(slog.LCRIT, 1, "PANIC: "+NAME+": ", f, a...)
	panic(fmt.Sprintf(f, a...))
}
