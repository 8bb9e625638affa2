package elastic_client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeeklyIndexName(t *testing.T) {
	assert.Equal(t, "realtime-eta-events-2024-9", WeeklyIndexName("realtime-eta-events", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)))
	// ISO week belongs to the previous year
	assert.Equal(t, "realtime-eta-events-2020-53", WeeklyIndexName("realtime-eta-events", time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestIndexWithoutClientIsNoop(t *testing.T) {
	assert.NoError(t, IndexDocument("index", map[string]string{"a": "b"}))
	WaitUntilQueueEmpty()
}
