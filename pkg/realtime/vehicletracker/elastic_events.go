package vehicletracker

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/elastic_client"
)

type ConditionElasticEvent struct {
	Timestamp time.Time

	Condition string
	Detail    string

	Vehicle string
	Journey string
	Shape   string
}

// ElasticRecorder indexes every reported condition into a weekly Elasticsearch index
type ElasticRecorder struct {
	IndexPrefix string
}

func (r *ElasticRecorder) RecordCondition(condition Condition) {
	elasticEvent, err := json.Marshal(ConditionElasticEvent{
		Timestamp: condition.Timestamp,
		Condition: string(condition.Type),
		Detail:    condition.Detail,
		Vehicle:   condition.VehicleRef,
		Journey:   condition.JourneyRef,
		Shape:     condition.ShapeRef,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode condition event")
		return
	}

	elastic_client.IndexRequest(elastic_client.WeeklyIndexName(r.IndexPrefix, condition.Timestamp), bytes.NewReader(elasticEvent))
}
