package feed

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Alarms v1
type alarmV1 struct {
	Set *struct {
		ID             string    `xml:"id,attr"`
		TDAreaFail     *string   `xml:"tdAreaFail"`
		TDFeedFail     *struct{} `xml:"tdFeedFail"`
		TyrellFeedFail *struct{} `xml:"tyrellFeedFail"`
	} `xml:"set"`
	Clear *string `xml:"clear"`
}

func (a *alarmV1) event() (Event, error) {
	if a.Clear != nil {
		id := strings.TrimSpace(*a.Clear)
		if id == "" {
			return nil, fmt.Errorf("alarm clear has no id")
		}
		return AlarmEvent{ID: id, Cleared: true}, nil
	}

	if a.Set == nil || a.Set.ID == "" {
		return nil, fmt.Errorf("alarm has neither a set nor a clear")
	}

	event := AlarmEvent{ID: a.Set.ID}
	switch {
	case a.Set.TDAreaFail != nil:
		event.Type = AlarmTypeTDAreaFailure
		event.Area = strings.TrimSpace(*a.Set.TDAreaFail)
	case a.Set.TDFeedFail != nil:
		event.Type = AlarmTypeTDFeedFailure
	case a.Set.TyrellFeedFail != nil:
		event.Type = AlarmTypeTyrellFeedFailure
	default:
		return nil, fmt.Errorf("alarm %s has no failure type", a.Set.ID)
	}

	return event, nil
}

// Common types v1 DisruptionReasonType
type disruptionReasonV1 struct {
	TIPLOC string `xml:"tiploc,attr"`
	Near   bool   `xml:"near,attr"`
	Code   string `xml:",chardata"`
}

func (r *disruptionReasonV1) event(reasonType ReasonType, rid string) (Event, error) {
	code, err := strconv.Atoi(strings.TrimSpace(r.Code))
	if err != nil {
		return nil, fmt.Errorf("disruption reason code %q: %w", r.Code, err)
	}

	return DisruptionReasonEvent{
		RID:      rid,
		Type:     reasonType,
		Code:     code,
		Location: r.TIPLOC,
		Near:     r.Near,
	}, nil
}

// TD data v1 TrackingID
type trackingIDV1 struct {
	Berth struct {
		Area  string `xml:"area,attr"`
		Value string `xml:",chardata"`
	} `xml:"berth"`
	IncorrectTrainID string `xml:"incorrectTrainID"`
	CorrectTrainID   string `xml:"correctTrainID"`
}

func validTrainID(trainID string) bool {
	return len(trainID) == 4
}

func (t *trackingIDV1) event() (Event, error) {
	incorrect := strings.TrimSpace(t.IncorrectTrainID)
	correct := strings.TrimSpace(t.CorrectTrainID)

	if !validTrainID(incorrect) || !validTrainID(correct) {
		return nil, fmt.Errorf("tracking id correction %q -> %q is not between 4 character train ids", incorrect, correct)
	}

	return TrackingIDEvent{
		Area:             t.Berth.Area,
		Berth:            strings.TrimSpace(t.Berth.Value),
		IncorrectTrainID: incorrect,
		CorrectTrainID:   correct,
	}, nil
}

type recordDecoder func(d *xml.Decoder, start *xml.StartElement, rid string) (Event, error)

func decodeAlarmV1(d *xml.Decoder, start *xml.StartElement, rid string) (Event, error) {
	var record alarmV1
	if err := d.DecodeElement(&record, start); err != nil {
		return nil, err
	}
	return record.event()
}

func decodeReasonV1(reasonType ReasonType) recordDecoder {
	return func(d *xml.Decoder, start *xml.StartElement, rid string) (Event, error) {
		var record disruptionReasonV1
		if err := d.DecodeElement(&record, start); err != nil {
			return nil, err
		}
		return record.event(reasonType, rid)
	}
}

func decodeTrackingIDV1(d *xml.Decoder, start *xml.StartElement, rid string) (Event, error) {
	var record trackingIDV1
	if err := d.DecodeElement(&record, start); err != nil {
		return nil, err
	}
	return record.event()
}

// adapters maps an element & its schema version onto the record that decodes it. The
// disruption reason shape is shared by every forecast & schedule schema version it appears in.
var adapters = map[string]map[int]recordDecoder{
	"alarm": {
		1: decodeAlarmV1,
	},
	"trackingID": {
		1: decodeTrackingIDV1,
	},
	"LateReason": {
		1: decodeReasonV1(ReasonTypeLate),
		2: decodeReasonV1(ReasonTypeLate),
		3: decodeReasonV1(ReasonTypeLate),
	},
	"cancelReason": {
		1: decodeReasonV1(ReasonTypeCancel),
		2: decodeReasonV1(ReasonTypeCancel),
		3: decodeReasonV1(ReasonTypeCancel),
	},
}
