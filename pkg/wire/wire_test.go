package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/cuemby/fabric/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTopic(t *testing.T) {
	topic := &model.TopicEntry{
		TopicID:   model.TopicID{HostName: "h1", ProcessID: "p1", HandleSerial: "s1"},
		TopicName: "greet",
		DataType:  model.DataTypeInfo{Name: "string"},
		Direction: model.DirectionPublisher,
	}

	raw, err := EncodeTopic(topic, false)
	require.NoError(t, err)

	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindTopicAnnounce, f.Kind)

	decoded, unregister, err := DecodeTopic(f)
	require.NoError(t, err)
	assert.False(t, unregister)
	assert.Equal(t, topic.TopicName, decoded.TopicName)
	assert.Equal(t, topic.TopicID, decoded.TopicID)
}

func TestEncodeDecodeTopicUnregister(t *testing.T) {
	topic := &model.TopicEntry{TopicID: model.TopicID{HostName: "h1", ProcessID: "p1", HandleSerial: "s1"}}

	raw, err := EncodeTopic(topic, true)
	require.NoError(t, err)

	f, err := Decode(raw)
	require.NoError(t, err)

	_, unregister, err := DecodeTopic(f)
	require.NoError(t, err)
	assert.True(t, unregister)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	raw := []byte{0, 0, 1, 1, 0, 0, 0, 0}
	_, err := Decode(raw)
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	_, err := Decode([]byte{0xE5, 0xCA})
	assert.Error(t, err)
}

func TestEncodeDecodeSample(t *testing.T) {
	sample := &model.SampleEnvelope{
		TopicID:       model.TopicID{HostName: "h1", ProcessID: "p1", HandleSerial: "s1"},
		Sequence:      42,
		SendClockNS:   1234567,
		Payload:       []byte("hello world"),
		PayloadHashID: 987654321,
	}

	raw := EncodeSample(sample)
	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindSample, f.Kind)

	decoded, err := DecodeSample(f)
	require.NoError(t, err)
	assert.Equal(t, sample.TopicID, decoded.TopicID)
	assert.Equal(t, sample.Sequence, decoded.Sequence)
	assert.Equal(t, sample.SendClockNS, decoded.SendClockNS)
	assert.Equal(t, sample.Payload, decoded.Payload)
	assert.Equal(t, sample.PayloadHashID, decoded.PayloadHashID)
}

func TestEncodeDecodeSampleEmptyPayload(t *testing.T) {
	sample := &model.SampleEnvelope{
		TopicID:  model.TopicID{HostName: "h1", ProcessID: "p1", HandleSerial: "s1"},
		Sequence: 1,
	}

	raw := EncodeSample(sample)
	f, err := Decode(raw)
	require.NoError(t, err)

	decoded, err := DecodeSample(f)
	require.NoError(t, err)
	assert.Empty(t, decoded.Payload)
}

func TestServiceFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	original := ServiceFrame{
		Version:    ServiceV1,
		RequestID:  "req-1",
		MethodName: "math/add",
		RetState:   RetOK,
		Payload:    []byte{1, 2, 3, 4},
	}

	require.NoError(t, WriteServiceFrame(&buf, original))

	got, err := ReadServiceFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestServiceFrameMethodNotFound(t *testing.T) {
	var buf bytes.Buffer

	original := ServiceFrame{
		Version:    ServiceV1,
		RequestID:  "req-2",
		MethodName: "missing",
		RetState:   RetMethodNotFound,
	}

	require.NoError(t, WriteServiceFrame(&buf, original))

	got, err := ReadServiceFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, RetMethodNotFound, got.RetState)
	assert.Empty(t, got.Payload)
}

func TestReadServiceFrameRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	_, err := ReadServiceFrame(bufio.NewReader(buf))
	assert.Error(t, err)
}
