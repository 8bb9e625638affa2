package vehicletracker

import (
	"time"
)

type ConditionType string

const (
	ConditionNoActiveJourney        ConditionType = "NoActiveJourney"
	ConditionMatchFailed            ConditionType = "MatchFailed"
	ConditionDuplicateOrStaleReport ConditionType = "DuplicateOrStaleReport"
	ConditionUnknownShape           ConditionType = "UnknownShape"
	ConditionInsufficientSpeedData  ConditionType = "InsufficientSpeedData"
)

// Condition is a non-fatal problem found while processing a report. The report is still
// consumed, only with reduced output.
type Condition struct {
	Type ConditionType

	VehicleRef string
	JourneyRef string
	ShapeRef   string

	Detail    string
	Timestamp time.Time
}

type ConditionRecorder interface {
	RecordCondition(condition Condition)
}

type Metrics interface {
	ReportProcessed(duration time.Duration, changes int)
	ConditionReported(conditionType string)
	StopTransition(status string, skipped bool, unobserved bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordCondition(Condition) {}

type noopMetrics struct{}

func (noopMetrics) ReportProcessed(time.Duration, int) {}
func (noopMetrics) ConditionReported(string) {}
func (noopMetrics) StopTransition(string, bool, bool) {}
