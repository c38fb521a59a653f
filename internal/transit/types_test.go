package transit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		kind, id string
		endpoint string
		wantErr  bool
	}{
		{"line", "4546", "Line/4546/Arrivals", false},
		{"stop", "43000207301", "StopPoint/43000207301/Arrivals", false},
		{"line", "a b", "Line/a%20b/Arrivals", false},
		{"route", "1", "", true},
		{"line", "", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.kind+"/"+tc.id, func(t *testing.T) {
			target, err := ParseTarget(tc.kind, tc.id)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.endpoint, target.Endpoint())
		})
	}
}

func TestEmptySnapshot(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := EmptySnapshot(now)

	assert.Equal(t, LabelInbound, s.Inbound().Label)
	assert.Equal(t, LabelOutbound, s.Outbound().Label)
	assert.NotNil(t, s.Inbound().Journeys)
	assert.Zero(t, s.JourneyCount())
	assert.Zero(t, s.ArrivalCount())
	assert.Equal(t, now, s.CapturedAt)

	_, ok := s.Find("x")
	assert.False(t, ok)
}
