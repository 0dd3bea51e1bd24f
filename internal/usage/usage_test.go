package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotPrimary(t *testing.T) {
	s := &Snapshot{Windows: []Window{
		{Label: "seven_day", Utilization: 0.2},
		{Label: "five_hour", Utilization: 0.8},
		{Label: "opus", Utilization: 0.5},
	}}

	primary := s.Primary()
	require.NotNil(t, primary)
	assert.Equal(t, "five_hour", primary.Label)
}

func TestSnapshotPrimaryEmpty(t *testing.T) {
	assert.Nil(t, (&Snapshot{}).Primary())
}
