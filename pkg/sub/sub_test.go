package sub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/cuemby/fabric/pkg/transport/tcpsvc"
)

func TestCreateRequiresATopicName(t *testing.T) {
	_, err := Create("h1", "p1", model.DataTypeInfo{}, "", config.Default(), nil, Transports{}, 0)
	assert.Error(t, err)
}

func TestReceiveDeliversSampleSentOverTCP(t *testing.T) {
	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false

	s, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, nil, Transports{}, 0)
	require.NoError(t, err)
	defer s.Destroy()

	addr := ""
	for _, l := range s.entry.TransportLayers {
		if l.Kind == model.TransportTCP {
			addr = l.Params["addr"]
		}
	}
	require.NotEmpty(t, addr)

	sender := tcpsvc.NewSender(addr, 0, 0)
	defer sender.Close()

	require.NoError(t, sender.Send(context.Background(), &model.SampleEnvelope{
		TopicID:  model.TopicID{HostName: "h2", ProcessID: "p2", HandleSerial: "s2"},
		Sequence: 1,
		Payload:  []byte("hello"),
	}))

	got, err := s.Receive(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got.Payload))
}

func TestReceiveTimesOutWithNoSample(t *testing.T) {
	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false

	s, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, nil, Transports{}, 0)
	require.NoError(t, err)
	defer s.Destroy()

	_, err = s.Receive(context.Background(), 50*time.Millisecond)
	assert.Error(t, err)
}

func TestSetCallbackThenReceiveIsAnError(t *testing.T) {
	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false

	s, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, nil, Transports{}, 0)
	require.NoError(t, err)
	defer s.Destroy()

	require.NoError(t, s.SetCallback(func(*model.SampleEnvelope) {}))

	_, err = s.Receive(context.Background(), 10*time.Millisecond)
	assert.Error(t, err)
}

func TestReceiveThenSetCallbackIsAnError(t *testing.T) {
	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false

	s, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, nil, Transports{}, 0)
	require.NoError(t, err)
	defer s.Destroy()

	_, _ = s.Receive(context.Background(), 10*time.Millisecond)

	err = s.SetCallback(func(*model.SampleEnvelope) {})
	assert.Error(t, err)
}

func TestOnSampleDropsOutOfOrderSamples(t *testing.T) {
	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false

	s, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, nil, Transports{}, 0)
	require.NoError(t, err)
	defer s.Destroy()

	publisher := model.TopicID{HostName: "h2", ProcessID: "p2", HandleSerial: "s2"}
	s.onSample(&model.SampleEnvelope{TopicID: publisher, Sequence: 5, Payload: []byte("a")})
	s.onSample(&model.SampleEnvelope{TopicID: publisher, Sequence: 3, Payload: []byte("stale")})
	s.onSample(&model.SampleEnvelope{TopicID: publisher, Sequence: 6, Payload: []byte("b")})

	first, err := s.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", string(first.Payload))

	second, err := s.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "b", string(second.Payload))

	_, err = s.Receive(context.Background(), 20*time.Millisecond)
	assert.Error(t, err)
}

func TestOnSampleDeliversOutOfOrderWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false
	cfg.Subscriber.DropOutOfOrder = false

	s, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, nil, Transports{}, 0)
	require.NoError(t, err)
	defer s.Destroy()

	publisher := model.TopicID{HostName: "h2", ProcessID: "p2", HandleSerial: "s2"}
	s.onSample(&model.SampleEnvelope{TopicID: publisher, Sequence: 5, Payload: []byte("a")})
	s.onSample(&model.SampleEnvelope{TopicID: publisher, Sequence: 3, Payload: []byte("stale")})

	first, err := s.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", string(first.Payload))

	second, err := s.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "stale", string(second.Payload))
}

func TestOnSampleDropsExpiredSamples(t *testing.T) {
	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false
	cfg.Subscriber.FilterExpiredSamples = 100 // ms

	s, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, nil, Transports{}, 0)
	require.NoError(t, err)
	defer s.Destroy()

	publisher := model.TopicID{HostName: "h2", ProcessID: "p2", HandleSerial: "s2"}
	stale := time.Now().Add(-time.Second).UnixNano()
	s.onSample(&model.SampleEnvelope{TopicID: publisher, Sequence: 1, SendClockNS: stale, Payload: []byte("old")})
	s.onSample(&model.SampleEnvelope{TopicID: publisher, Sequence: 2, SendClockNS: time.Now().UnixNano(), Payload: []byte("fresh")})

	got, err := s.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(got.Payload))

	_, err = s.Receive(context.Background(), 20*time.Millisecond)
	assert.Error(t, err)
}

func TestFullQueueDropsNewestSample(t *testing.T) {
	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false

	s, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, nil, Transports{}, 1)
	require.NoError(t, err)
	defer s.Destroy()

	publisher := model.TopicID{HostName: "h2", ProcessID: "p2", HandleSerial: "s2"}
	s.onSample(&model.SampleEnvelope{TopicID: publisher, Sequence: 1, Payload: []byte("first")})
	s.onSample(&model.SampleEnvelope{TopicID: publisher, Sequence: 2, Payload: []byte("second")})

	got, err := s.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got.Payload))

	_, err = s.Receive(context.Background(), 20*time.Millisecond)
	assert.Error(t, err)
}
