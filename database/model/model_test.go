package model

import "testing"

func TestUserStatusValid(t *testing.T) {
	for _, status := range []UserStatus{UserActive, UserLimited, UserExpired, UserDisabled} {
		if !status.Valid() {
			t.Errorf("%s must be valid", status)
		}
	}
	for _, status := range []UserStatus{"", "active", "SUSPENDED"} {
		if status.Valid() {
			t.Errorf("%q must be invalid", status)
		}
	}
}

func TestNodeStatusValid(t *testing.T) {
	for _, status := range []NodeStatus{NodeConnected, NodeDisconnected, NodeDisabled} {
		if !status.Valid() {
			t.Errorf("%s must be valid", status)
		}
	}
	if NodeStatus("OFFLINE").Valid() {
		t.Error("OFFLINE must be invalid")
	}
}

func TestResetStrategySchedulable(t *testing.T) {
	tests := []struct {
		strategy    ResetStrategy
		valid       bool
		schedulable bool
	}{
		{ResetNever, true, false},
		{ResetDay, true, true},
		{ResetWeek, true, true},
		{ResetMonth, true, true},
		{"YEARLY", false, false},
	}
	for _, tt := range tests {
		if got := tt.strategy.Valid(); got != tt.valid {
			t.Errorf("%q.Valid() = %v, expected %v", tt.strategy, got, tt.valid)
		}
		if got := tt.strategy.Schedulable(); got != tt.schedulable {
			t.Errorf("%q.Schedulable() = %v, expected %v", tt.strategy, got, tt.schedulable)
		}
	}
}
