// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package port

import "testing"

func TestStampNowMonotonic(t *testing.T) {
	a := Now()
	b := Now()
	if b.Before(a) {
		t.Errorf("Now went backwards: %d then %d", a, b)
	}
}

func TestStampOrdering(t *testing.T) {
	if !Stamp(1).Before(2) {
		t.Error("1 should be before 2")
	}
	if !Stamp(2).After(1) {
		t.Error("2 should be after 1")
	}
	if Stamp(2).Before(2) || Stamp(2).After(2) {
		t.Error("a stamp is neither before nor after itself")
	}
}
