package ctdf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVehicleAssignmentActiveAt(t *testing.T) {
	from := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	bounded := &VehicleAssignment{ValidFrom: from, ValidUntil: from.Add(time.Hour)}
	assert.False(t, bounded.ActiveAt(from.Add(-time.Second)))
	assert.True(t, bounded.ActiveAt(from))
	assert.True(t, bounded.ActiveAt(from.Add(time.Hour)))
	assert.False(t, bounded.ActiveAt(from.Add(time.Hour+time.Second)))

	open := &VehicleAssignment{ValidFrom: from}
	assert.True(t, open.ActiveAt(from.Add(48*time.Hour)))
}
