package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/travigo/travigo-eta/pkg/redis_client"
)

type flagCache interface {
	Get(ctx context.Context, key any) (string, error)
	Set(ctx context.Context, key any, object string, options ...store.Option) error
	Delete(ctx context.Context, key any) error
}

// FlagStore keeps the feed state that journey assignment & disruption flags are read from:
// active alarms, train id corrections & the latest disruption reason per train
type FlagStore struct {
	cache flagCache
}

func NewFlagStore(expiration time.Duration) *FlagStore {
	redisStore := redisstore.NewRedis(redis_client.Client, store.WithExpiration(expiration))

	return &FlagStore{
		cache: cache.New[string](redisStore),
	}
}

func alarmKey(id string) string {
	return fmt.Sprintf("railfeed/alarm/%s", id)
}

func trackingKey(trainID string) string {
	return fmt.Sprintf("railfeed/trackingid/%s", trainID)
}

func disruptionKey(rid string) string {
	return fmt.Sprintf("railfeed/disruption/%s", rid)
}

func (s *FlagStore) Apply(ctx context.Context, event Event) error {
	switch event := event.(type) {
	case AlarmEvent:
		if event.Cleared {
			return s.cache.Delete(ctx, alarmKey(event.ID))
		}
		return s.setJSON(ctx, alarmKey(event.ID), event)
	case TrackingIDEvent:
		return s.setJSON(ctx, trackingKey(event.IncorrectTrainID), event)
	case DisruptionReasonEvent:
		// Reasons without a train have nothing to be attached to
		if event.RID == "" {
			return nil
		}
		return s.setJSON(ctx, disruptionKey(event.RID), event)
	}

	return fmt.Errorf("unknown feed event %s", event.Kind())
}

func (s *FlagStore) setJSON(ctx context.Context, key string, value any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, key, string(valueJSON))
}

func (s *FlagStore) getJSON(ctx context.Context, key string, value any) bool {
	cachedValue, err := s.cache.Get(ctx, key)
	if err != nil || cachedValue == "" {
		return false
	}
	return json.Unmarshal([]byte(cachedValue), value) == nil
}

func (s *FlagStore) Alarm(ctx context.Context, id string) (AlarmEvent, bool) {
	var alarm AlarmEvent
	return alarm, s.getJSON(ctx, alarmKey(id), &alarm)
}

// CorrectTrainID returns the corrected id for a train id reported by a berth
func (s *FlagStore) CorrectTrainID(ctx context.Context, trainID string) (string, bool) {
	var correction TrackingIDEvent
	if !s.getJSON(ctx, trackingKey(trainID), &correction) {
		return trainID, false
	}
	return correction.CorrectTrainID, true
}

func (s *FlagStore) DisruptionReason(ctx context.Context, rid string) (DisruptionReasonEvent, bool) {
	var reason DisruptionReasonEvent
	return reason, s.getJSON(ctx, disruptionKey(rid), &reason)
}
