// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers. The channel helpers
// wrap every receive and send in a timeout so a broken broker or
// port never hangs the test run.
package testutil
