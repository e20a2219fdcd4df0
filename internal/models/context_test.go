package models

import (
	"testing"
	"time"
)

func TestClampScore(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-5, 0},
		{0, 0},
		{50, 50},
		{100, 100},
		{130, 100},
	}
	for _, tt := range tests {
		if got := ClampScore(tt.in); got != tt.want {
			t.Errorf("ClampScore(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestContextSnapshotValidate(t *testing.T) {
	snap := ContextSnapshot{UserID: "user1", Social: SocialAlone}
	if err := snap.Validate(); err != nil {
		t.Errorf("valid snapshot rejected: %v", err)
	}

	snap.UserID = ""
	if err := snap.Validate(); err != ErrEmptyUserID {
		t.Errorf("err = %v, want ErrEmptyUserID", err)
	}

	snap.UserID = "user1"
	snap.Social = "in_a_crowd"
	if err := snap.Validate(); err != ErrInvalidSocialContext {
		t.Errorf("err = %v, want ErrInvalidSocialContext", err)
	}

	// An unset social context is permitted.
	snap.Social = ""
	if err := snap.Validate(); err != nil {
		t.Errorf("empty social context rejected: %v", err)
	}
}

func TestHourOfDay(t *testing.T) {
	tenPM := time.Date(2025, 3, 4, 22, 0, 0, 0, time.UTC)

	snap := ContextSnapshot{Environment: EnvironmentalFactors{TimeOfDay: 14}, Timestamp: tenPM}
	if got := snap.HourOfDay(); got != 14 {
		t.Errorf("HourOfDay = %d, want environmental 14", got)
	}

	snap = ContextSnapshot{Timestamp: tenPM}
	if got := snap.HourOfDay(); got != 22 {
		t.Errorf("HourOfDay = %d, want timestamp hour 22", got)
	}

	snap = ContextSnapshot{}
	if got := snap.HourOfDay(); got != 0 {
		t.Errorf("HourOfDay = %d, want 0 for empty snapshot", got)
	}
}
