package feed

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPushPort = `<?xml version="1.0" encoding="ISO-8859-1"?>
<Pport xmlns="http://www.thalesgroup.com/rtti/PushPort/v16" xmlns:fc="http://www.thalesgroup.com/rtti/PushPort/Forecasts/v3" xmlns:al="http://www.thalesgroup.com/rtti/PushPort/Alarms/v1" xmlns:td="http://www.thalesgroup.com/rtti/PushPort/TDData/v1" ts="2026-10-12T08:00:00.0000000+01:00" version="16.0">
  <uR updateOrigin="Darwin">
    <alarm xmlns="http://www.thalesgroup.com/rtti/PushPort/Alarms/v1"><al:set id="42"><al:tdAreaFail>Q1</al:tdAreaFail></al:set></alarm>
    <alarm xmlns="http://www.thalesgroup.com/rtti/PushPort/Alarms/v1"><al:set id="43"><al:tyrellFeedFail/></al:set></alarm>
    <alarm xmlns="http://www.thalesgroup.com/rtti/PushPort/Alarms/v1"><al:clear>41</al:clear></alarm>
    <TS rid="202610127654321" uid="C12345" ssd="2026-10-12">
      <fc:LateReason tiploc="EUSTON" near="true">104</fc:LateReason>
      <fc:Location tpl="WATFDJ"><fc:arr et="08:12"/></fc:Location>
    </TS>
    <TS rid="202610121111111">
      <fc:cancelReason>abc</fc:cancelReason>
    </TS>
    <trackingID xmlns="http://www.thalesgroup.com/rtti/PushPort/TDData/v1"><td:berth area="SX">0123</td:berth><td:incorrectTrainID>1A23</td:incorrectTrainID><td:correctTrainID>1A24</td:correctTrainID></trackingID>
    <alarm xmlns="http://www.thalesgroup.com/rtti/PushPort/Alarms/v9"><set id="99"><tdFeedFail/></set></alarm>
  </uR>
</Pport>`

func TestDecode(t *testing.T) {
	message, err := Decode(strings.NewReader(testPushPort))
	require.NoError(t, err)

	assert.Equal(t, 1, message.Unsupported)
	assert.Equal(t, 1, message.Invalid)
	require.Len(t, message.Events, 5)

	assert.Equal(t, AlarmEvent{ID: "42", Type: AlarmTypeTDAreaFailure, Area: "Q1"}, message.Events[0])
	assert.Equal(t, AlarmEvent{ID: "43", Type: AlarmTypeTyrellFeedFailure}, message.Events[1])
	assert.Equal(t, AlarmEvent{ID: "41", Cleared: true}, message.Events[2])

	assert.Equal(t, DisruptionReasonEvent{
		RID:      "202610127654321",
		Type:     ReasonTypeLate,
		Code:     104,
		Location: "EUSTON",
		Near:     true,
	}, message.Events[3])

	assert.Equal(t, TrackingIDEvent{
		Area:             "SX",
		Berth:            "0123",
		IncorrectTrainID: "1A23",
		CorrectTrainID:   "1A24",
	}, message.Events[4])
	assert.Equal(t, EventKindTrackingID, message.Events[4].Kind())
}

func TestDecodeRejectsInvalidTrackingID(t *testing.T) {
	message, err := Decode(strings.NewReader(`<uR><trackingID><berth area="SX">0123</berth><incorrectTrainID>1A2</incorrectTrainID><correctTrainID>1A24</correctTrainID></trackingID></uR>`))
	require.NoError(t, err)

	assert.Empty(t, message.Events)
	assert.Equal(t, 1, message.Invalid)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode(strings.NewReader(`<uR><alarm><set id="1">`))
	assert.Error(t, err)
}

func TestDecodeBodyGzip(t *testing.T) {
	buffer := &bytes.Buffer{}
	writer := gzip.NewWriter(buffer)
	_, err := writer.Write([]byte(testPushPort))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	compressed, err := DecodeBody(buffer.Bytes())
	require.NoError(t, err)

	plain, err := DecodeBody([]byte(testPushPort))
	require.NoError(t, err)

	assert.Equal(t, plain.Events, compressed.Events)
	assert.Len(t, compressed.Events, 5)
}

func TestSchemaVersion(t *testing.T) {
	assert.Equal(t, 1, schemaVersion(""))
	assert.Equal(t, 3, schemaVersion("http://www.thalesgroup.com/rtti/PushPort/Forecasts/v3"))
	assert.Equal(t, 16, schemaVersion("http://www.thalesgroup.com/rtti/PushPort/v16"))
	assert.Equal(t, 1, schemaVersion("urn:example"))
}
