package viewport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldFollow(t *testing.T) {
	tests := []struct {
		name                             string
		top, height, viewport, threshold int
		want                             bool
	}{
		{"near bottom", 950, 1000, 40, 100, true},
		{"scrolled to top", 0, 1000, 40, 100, false},
		{"exactly at threshold", 860, 1000, 40, 100, false},
		{"one inside threshold", 861, 1000, 40, 100, true},
		{"content shorter than view", 0, 20, 40, 100, true},
		{"zero threshold never follows at bottom", 960, 1000, 40, 0, false},
		{"default threshold", 900, 1000, 40, DefaultThreshold, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ShouldFollow(tt.top, tt.height, tt.viewport, tt.threshold))
		})
	}
}
