package pub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/cuemby/fabric/pkg/registry"
	"github.com/cuemby/fabric/pkg/transport/tcpsvc"
)

func TestCreateFailsWithNoTransportEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.TransportLayer.TCP.Enable = false
	cfg.Registration.LayerUDPEnable = false

	_, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, nil, Transports{}, 0)
	assert.Error(t, err)
}

func TestCreateRequiresATopicName(t *testing.T) {
	_, err := Create("h1", "p1", model.DataTypeInfo{}, "", config.Default(), nil, Transports{}, 0)
	assert.Error(t, err)
}

func TestSendDeliversOverTCPToMatchedSubscriber(t *testing.T) {
	received := make(chan *model.SampleEnvelope, 4)
	lis, err := tcpsvc.Listen("127.0.0.1:0", func(s *model.SampleEnvelope) {
		received <- s
	})
	require.NoError(t, err)
	defer lis.Close()

	reg := registry.New("h1", "p1", config.Default(), nil, nil)

	sub := model.TopicEntry{
		TopicID:   model.TopicID{HostName: "h2", ProcessID: "p2", HandleSerial: "s2"},
		TopicName: "topic",
		Direction: model.DirectionSubscriber,
		TransportLayers: []model.TransportLayer{
			{Kind: model.TransportTCP, Active: true, Params: map[string]string{"addr": lis.Addr().String()}},
		},
	}
	reg.RegisterTopic(&sub)

	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false

	p, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, reg, Transports{}, 0)
	require.NoError(t, err)
	defer p.Destroy()

	require.NoError(t, p.Send(context.Background(), []byte("hello")))

	select {
	case got := <-received:
		assert.Equal(t, "hello", string(got.Payload))
		assert.Equal(t, uint64(1), got.Sequence)
	case <-time.After(2 * time.Second):
		t.Fatal("sample never arrived over tcp")
	}
}

func TestSendWithoutMatchingSubscriberDoesNotError(t *testing.T) {
	reg := registry.New("h1", "p1", config.Default(), nil, nil)

	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false

	p, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, reg, Transports{}, 0)
	require.NoError(t, err)
	defer p.Destroy()

	assert.NoError(t, p.Send(context.Background(), []byte("nobody listening")))
}

func TestSendAfterDestroyFails(t *testing.T) {
	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false

	p, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, nil, Transports{}, 0)
	require.NoError(t, err)

	p.Destroy()

	err = p.Send(context.Background(), []byte("x"))
	assert.Error(t, err)
}

func TestSendWithoutMismatchedSubscriberSkipsUnreachablePeer(t *testing.T) {
	reg := registry.New("h1", "p1", config.Default(), nil, nil)

	sub := model.TopicEntry{
		TopicID:   model.TopicID{HostName: "h2", ProcessID: "p2", HandleSerial: "s2"},
		TopicName: "topic",
		Direction: model.DirectionSubscriber,
		TransportLayers: []model.TransportLayer{
			{Kind: model.TransportTCP, Active: true, Params: map[string]string{"addr": "127.0.0.1:1"}},
		},
	}
	reg.RegisterTopic(&sub)

	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false

	p, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, reg, Transports{}, 0)
	require.NoError(t, err)
	defer p.Destroy()

	require.NoError(t, p.Send(context.Background(), []byte("x")))
	assert.Equal(t, uint64(1), p.entry.DroppedMessages)
}

func TestCadenceUpdatesDataClockAndFrequency(t *testing.T) {
	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false

	p, err := Create("h1", "p1", model.DataTypeInfo{}, "topic", cfg, nil, Transports{}, 0)
	require.NoError(t, err)
	defer p.Destroy()

	require.NoError(t, p.Send(context.Background(), []byte("1")))
	require.NoError(t, p.Send(context.Background(), []byte("2")))

	assert.Equal(t, uint64(2), p.entry.DataClock)
	assert.Greater(t, p.entry.FrequencyMilliHz, uint64(0))
}
