// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

// lustre-thumb is the command-line client for the thumbnail daemon.
// It is a thin wrapper over lib/thumbwire: one subcommand per daemon
// action, useful for scripting and for poking a daemon by hand.
package main
