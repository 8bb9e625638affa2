package feed

// Event is a feed record mapped onto a version independent shape
type Event interface {
	Kind() EventKind
}

type EventKind string

const (
	EventKindAlarm            EventKind = "Alarm"
	EventKindDisruptionReason EventKind = "DisruptionReason"
	EventKindTrackingID       EventKind = "CorrectedTrackingID"
)

type AlarmType string

const (
	AlarmTypeTDAreaFailure     AlarmType = "TDAreaFailure"
	AlarmTypeTDFeedFailure     AlarmType = "TDFeedFailure"
	AlarmTypeTyrellFeedFailure AlarmType = "TyrellFeedFailure"
)

type AlarmEvent struct {
	ID string

	// Cleared alarms only carry their ID
	Cleared bool

	Type AlarmType
	// Train describer area for TDAreaFailure alarms
	Area string
}

func (AlarmEvent) Kind() EventKind { return EventKindAlarm }

type ReasonType string

const (
	ReasonTypeLate   ReasonType = "Late"
	ReasonTypeCancel ReasonType = "Cancel"
)

type DisruptionReasonEvent struct {
	// Darwin RID of the train the reason is attached to, empty when it came without one
	RID string

	Type     ReasonType
	Code     int
	Location string
	Near     bool
}

func (DisruptionReasonEvent) Kind() EventKind { return EventKindDisruptionReason }

type TrackingIDEvent struct {
	Area             string
	Berth            string
	IncorrectTrainID string
	CorrectTrainID   string
}

func (TrackingIDEvent) Kind() EventKind { return EventKindTrackingID }
