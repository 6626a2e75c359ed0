package udp

import (
	"testing"
	"time"

	"github.com/cuemby/fabric/pkg/bus"
	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAnnouncementAndReceiveTopic(t *testing.T) {
	cfg := config.Default()
	cfg.TransportLayer.UDP.Port = 17100
	cfg.TransportLayer.UDP.Mask = "239.11.11.0/24"

	tx, err := Open(cfg.TransportLayer.UDP)
	require.NoError(t, err)
	defer tx.Close()

	rx, err := Open(cfg.TransportLayer.UDP)
	require.NoError(t, err)
	defer rx.Close()

	received := make(chan *model.TopicEntry, 1)
	rx.OnTopic(func(topic *model.TopicEntry, unregister bool) {
		if !unregister {
			received <- topic
		}
	})
	rx.Start()

	topic := &model.TopicEntry{
		TopicID:   model.TopicID{HostName: "h1", ProcessID: "p1", HandleSerial: "s1"},
		TopicName: "greet",
	}

	err = tx.SendAnnouncement(&bus.Announcement{Kind: bus.KindTopicUpdated, Topic: topic})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, topic.TopicName, got.TopicName)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive announcement over multicast")
	}
}

func TestSendSampleTooLargeIsRejected(t *testing.T) {
	cfg := config.Default()
	cfg.TransportLayer.UDP.Port = 17101
	cfg.TransportLayer.UDP.Mask = "239.11.12.0/24"

	tx, err := Open(cfg.TransportLayer.UDP)
	require.NoError(t, err)
	defer tx.Close()

	sample := &model.SampleEnvelope{
		TopicID: model.TopicID{HostName: "h1", ProcessID: "p1", HandleSerial: "s1"},
		Payload: make([]byte, maxDatagram*2),
	}

	err = tx.SendSample(sample)
	assert.Error(t, err)
}

func TestSendAnnouncementRejectsUnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.TransportLayer.UDP.Port = 17102
	cfg.TransportLayer.UDP.Mask = "239.11.13.0/24"

	tx, err := Open(cfg.TransportLayer.UDP)
	require.NoError(t, err)
	defer tx.Close()

	err = tx.SendAnnouncement(&bus.Announcement{Kind: "bogus.kind"})
	assert.Error(t, err)
}
