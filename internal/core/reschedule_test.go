package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"groupremind/internal/core"
)

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		interval    int
		repeatCount int
		maxRepeats  int
		wantRepeat  bool
		wantCount   int
	}{
		{"no interval completes", 0, 0, 1, false, 1},
		{"no interval ignores headroom", 0, 0, 5, false, 1},
		{"interval with headroom repeats", 30, 0, 3, true, 1},
		{"second send still repeats", 30, 1, 3, true, 2},
		{"last send completes", 30, 2, 3, false, 3},
		{"max one send completes", 30, 0, 1, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := core.NextOccurrence(tt.interval, tt.repeatCount, tt.maxRepeats, now)
			require.Equal(t, tt.wantRepeat, got.Repeat)
			require.Equal(t, tt.wantCount, got.RepeatCount)
			if tt.wantRepeat {
				require.Equal(t, now.Add(time.Duration(tt.interval)*time.Minute), got.NextDue)
			} else {
				require.True(t, got.NextDue.IsZero())
			}
		})
	}
}
