package vehicletracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eko/gocache/lib/v4/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/travigo-eta/pkg/ctdf"
	"go.mongodb.org/mongo-driver/mongo"
)

var errCacheMiss = errors.New("value not found")

type memoryCache struct {
	mu     sync.Mutex
	values map[any]string
}

func (c *memoryCache) Get(_ context.Context, key any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.values[key]
	if !ok {
		return "", errCacheMiss
	}
	return value, nil
}

func (c *memoryCache) Set(_ context.Context, key any, object string, _ ...store.Option) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[key] = object
	return nil
}

func newTestAssignmentStore(lookup func(ctx context.Context, vehicleRef string, at time.Time) (*ctdf.VehicleAssignment, error)) *CachedAssignmentStore {
	return &CachedAssignmentStore{
		cache:              &memoryCache{values: map[any]string{}},
		lookup:             lookup,
		negativeExpiration: time.Minute,
	}
}

func TestCachedAssignmentStore(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	lookups := 0

	assignmentStore := newTestAssignmentStore(func(_ context.Context, vehicleRef string, _ time.Time) (*ctdf.VehicleAssignment, error) {
		lookups++
		return &ctdf.VehicleAssignment{
			VehicleRef: vehicleRef,
			JourneyRef: "journey-1",
			ValidFrom:  start,
			ValidUntil: start.Add(time.Hour),
		}, nil
	})

	journeyRef, err := assignmentStore.JourneyRef(context.Background(), "vehicle-1", start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "journey-1", journeyRef)

	journeyRef, err = assignmentStore.JourneyRef(context.Background(), "vehicle-1", start.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "journey-1", journeyRef)
	assert.Equal(t, 1, lookups)

	// Cached assignment has expired so it is looked up again
	_, err = assignmentStore.JourneyRef(context.Background(), "vehicle-1", start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, lookups)
}

func TestCachedAssignmentStoreNegativeCache(t *testing.T) {
	lookups := 0

	assignmentStore := newTestAssignmentStore(func(context.Context, string, time.Time) (*ctdf.VehicleAssignment, error) {
		lookups++
		return nil, mongo.ErrNoDocuments
	})

	for i := 0; i < 3; i++ {
		_, err := assignmentStore.JourneyRef(context.Background(), "vehicle-1", time.Now())
		assert.ErrorIs(t, err, ErrNoActiveJourney)
	}
	assert.Equal(t, 1, lookups)
}

func TestCachedAssignmentStoreLookupFailure(t *testing.T) {
	failure := errors.New("connection refused")

	assignmentStore := newTestAssignmentStore(func(context.Context, string, time.Time) (*ctdf.VehicleAssignment, error) {
		return nil, failure
	})

	_, err := assignmentStore.JourneyRef(context.Background(), "vehicle-1", time.Now())
	assert.ErrorIs(t, err, failure)
	assert.NotErrorIs(t, err, ErrNoActiveJourney)

	// Failures are not cached
	cached, _ := assignmentStore.cache.Get(context.Background(), "vehicleassignment/vehicle-1")
	assert.Empty(t, cached)
}
