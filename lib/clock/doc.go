// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Real() wraps the
// standard time package; Fake() provides a deterministic clock whose
// time only moves when a test calls Advance. The process supervisor's
// respawn delay is the main production consumer.
package clock
