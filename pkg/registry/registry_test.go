package registry

import (
	"testing"
	"time"

	"github.com/cuemby/fabric/pkg/bus"
	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/ferr"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func topic(host, proc, handle, name, typeName string, dir model.Direction) *model.TopicEntry {
	return &model.TopicEntry{
		TopicID: model.TopicID{
			HostName:     host,
			ProcessID:    proc,
			HandleSerial: handle,
		},
		TopicName: name,
		DataType:  model.DataTypeInfo{Name: typeName},
		Direction: dir,
	}
}

func TestMatchTopics(t *testing.T) {
	tests := []struct {
		name string
		pub  *model.TopicEntry
		sub  *model.TopicEntry
		want bool
	}{
		{
			name: "same name and type matches",
			pub:  topic("h1", "p1", "1", "greet", "string", model.DirectionPublisher),
			sub:  topic("h2", "p2", "1", "greet", "string", model.DirectionSubscriber),
			want: true,
		},
		{
			name: "different name does not match",
			pub:  topic("h1", "p1", "1", "greet", "string", model.DirectionPublisher),
			sub:  topic("h2", "p2", "1", "hello", "string", model.DirectionSubscriber),
			want: false,
		},
		{
			name: "different type does not match",
			pub:  topic("h1", "p1", "1", "greet", "string", model.DirectionPublisher),
			sub:  topic("h2", "p2", "1", "greet", "int", model.DirectionSubscriber),
			want: false,
		},
		{
			name: "unspecified subscriber type matches any",
			pub:  topic("h1", "p1", "1", "greet", "string", model.DirectionPublisher),
			sub:  topic("h2", "p2", "1", "greet", "", model.DirectionSubscriber),
			want: true,
		},
		{
			name: "unspecified publisher type matches any",
			pub:  topic("h1", "p1", "1", "greet", "", model.DirectionPublisher),
			sub:  topic("h2", "p2", "1", "greet", "string", model.DirectionSubscriber),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopics(tt.pub, tt.sub))
		})
	}
}

func withLayer(e *model.TopicEntry, kind model.TransportKind, active bool) *model.TopicEntry {
	e.TransportLayers = append(e.TransportLayers, model.TransportLayer{Kind: kind, Active: active})
	return e
}

func TestChooseTransport(t *testing.T) {
	t.Run("prefers SHM when same host and both active", func(t *testing.T) {
		pub := topic("h1", "p1", "1", "t", "", model.DirectionPublisher)
		withLayer(pub, model.TransportSHM, true)
		withLayer(pub, model.TransportUDP, true)

		sub := topic("h1", "p2", "1", "t", "", model.DirectionSubscriber)
		withLayer(sub, model.TransportSHM, true)
		withLayer(sub, model.TransportUDP, true)

		kind, err := ChooseTransport(pub, sub)
		require.NoError(t, err)
		assert.Equal(t, model.TransportSHM, kind)
	})

	t.Run("falls back to UDP across hosts", func(t *testing.T) {
		pub := topic("h1", "p1", "1", "t", "", model.DirectionPublisher)
		withLayer(pub, model.TransportSHM, true)
		withLayer(pub, model.TransportUDP, true)

		sub := topic("h2", "p2", "1", "t", "", model.DirectionSubscriber)
		withLayer(sub, model.TransportSHM, true)
		withLayer(sub, model.TransportUDP, true)

		kind, err := ChooseTransport(pub, sub)
		require.NoError(t, err)
		assert.Equal(t, model.TransportUDP, kind)
	})

	t.Run("mismatched host group skips SHM even on same host", func(t *testing.T) {
		pub := topic("h1", "p1", "1", "t", "", model.DirectionPublisher)
		pub.HostGroupName = "groupA"
		withLayer(pub, model.TransportSHM, true)
		withLayer(pub, model.TransportTCP, true)

		sub := topic("h1", "p2", "1", "t", "", model.DirectionSubscriber)
		sub.HostGroupName = "groupB"
		withLayer(sub, model.TransportSHM, true)
		withLayer(sub, model.TransportTCP, true)

		kind, err := ChooseTransport(pub, sub)
		require.NoError(t, err)
		assert.Equal(t, model.TransportTCP, kind)
	})

	t.Run("falls back to TCP when UDP inactive on one side", func(t *testing.T) {
		pub := topic("h1", "p1", "1", "t", "", model.DirectionPublisher)
		withLayer(pub, model.TransportUDP, true)
		withLayer(pub, model.TransportTCP, true)

		sub := topic("h2", "p2", "1", "t", "", model.DirectionSubscriber)
		withLayer(sub, model.TransportUDP, false)
		withLayer(sub, model.TransportTCP, true)

		kind, err := ChooseTransport(pub, sub)
		require.NoError(t, err)
		assert.Equal(t, model.TransportTCP, kind)
	})

	t.Run("no active layer returns transport unavailable", func(t *testing.T) {
		pub := topic("h1", "p1", "1", "t", "", model.DirectionPublisher)
		sub := topic("h2", "p2", "1", "t", "", model.DirectionSubscriber)

		_, err := ChooseTransport(pub, sub)
		require.Error(t, err)
		assert.Equal(t, ferr.TransportUnavailable, ferr.CodeOf(err))
	})
}

func TestRegistry_LocalLifecycleAndSnapshot(t *testing.T) {
	cfg := config.Default()
	b := bus.New()
	b.Start()
	defer b.Stop()

	reg := New("h1", "p1", cfg, b, nil)

	pub := topic("h1", "p1", "1", "greet", "string", model.DirectionPublisher)
	reg.RegisterTopic(pub)

	snap := reg.Snapshot()
	assert.Len(t, snap.PublisherTopics, 1)
	assert.Equal(t, "greet", snap.PublisherTopics[0].TopicName)

	reg.UnregisterTopic(pub.TopicID)
	snap = reg.Snapshot()
	assert.Empty(t, snap.PublisherTopics)
}

func TestRegistry_MatchingSubscriberTopics(t *testing.T) {
	cfg := config.Default()
	reg := New("h1", "p1", cfg, nil, nil)

	sub := topic("h2", "p2", "1", "greet", "string", model.DirectionSubscriber)
	reg.ReceiveTopic(sub, false)

	other := topic("h2", "p2", "2", "unrelated", "string", model.DirectionSubscriber)
	reg.ReceiveTopic(other, false)

	pub := topic("h1", "p1", "1", "greet", "string", model.DirectionPublisher)
	matches := reg.MatchingSubscriberTopics(pub)

	require.Len(t, matches, 1)
	assert.Equal(t, "greet", matches[0].TopicName)
}

func TestRegistry_ReceiveTopicExplicitUnregisterPurgesImmediately(t *testing.T) {
	cfg := config.Default()
	reg := New("h1", "p1", cfg, nil, nil)

	sub := topic("h2", "p2", "1", "greet", "string", model.DirectionSubscriber)
	reg.ReceiveTopic(sub, false)
	require.Len(t, reg.Snapshot().SubscriberTopics, 1)

	reg.ReceiveTopic(sub, true)
	assert.Empty(t, reg.Snapshot().SubscriberTopics)
}

func TestRegistry_SweepExpiredPurgesStaleRemoteEntries(t *testing.T) {
	cfg := config.Default()
	cfg.Registration.TimeoutMS = 1

	b := bus.New()
	b.Start()
	defer b.Stop()
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	reg := New("h1", "p1", cfg, b, nil)

	entry := topic("h2", "p2", "1", "greet", "string", model.DirectionSubscriber)
	reg.ReceiveTopic(entry, false)
	require.Len(t, reg.Snapshot().SubscriberTopics, 1)

	time.Sleep(5 * time.Millisecond)
	reg.sweepExpired()

	assert.Empty(t, reg.Snapshot().SubscriberTopics)

	select {
	case a := <-sub:
		assert.Equal(t, bus.KindTopicUpdated, a.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected update announcement from ReceiveTopic")
	}

	select {
	case a := <-sub:
		assert.Equal(t, bus.KindTopicExpired, a.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected expiry announcement")
	}
}

func TestRegistry_MatchingServersFiltersClientEntriesAndHost(t *testing.T) {
	cfg := config.Default()
	reg := New("h1", "p1", cfg, nil, nil)

	server := &model.ServiceEntry{
		HostName:    "h2",
		ProcessID:   "p2",
		ServiceName: "math",
		TCPPortV1:   9100,
	}
	client := &model.ServiceEntry{
		HostName:    "h3",
		ProcessID:   "p3",
		ServiceName: "math",
	}
	reg.ReceiveService(server, false)
	reg.ReceiveService(client, false)

	matches := reg.MatchingServers("math", "")
	require.Len(t, matches, 1)
	assert.Equal(t, "h2", matches[0].HostName)

	none := reg.MatchingServers("math", "nowhere")
	assert.Empty(t, none)
}

func TestRegistry_ServerIDsAndClientIDs(t *testing.T) {
	cfg := config.Default()
	reg := New("h1", "p1", cfg, nil, nil)

	server := &model.ServiceEntry{
		HostName:          "h2",
		ProcessID:         "p2",
		ServiceName:       "math",
		ServiceInstanceID: "srv-1",
		TCPPortV1:         9100,
	}
	client := &model.ServiceEntry{
		HostName:          "h3",
		ProcessID:         "p3",
		ServiceName:       "math",
		ServiceInstanceID: "cli-1",
	}
	reg.ReceiveService(server, false)
	reg.ReceiveService(client, false)

	assert.Equal(t, []string{"srv-1"}, reg.ServerIDs())
	assert.Equal(t, []string{"cli-1"}, reg.ClientIDs())
}

func TestRegistry_MatchingPublisherTopics(t *testing.T) {
	cfg := config.Default()
	reg := New("h1", "p1", cfg, nil, nil)

	pub := &model.TopicEntry{
		TopicID:   model.TopicID{HostName: "h1", ProcessID: "p1", HandleSerial: "s1"},
		TopicName: "temp",
		Direction: model.DirectionPublisher,
	}
	sub := &model.TopicEntry{
		TopicID:   model.TopicID{HostName: "h2", ProcessID: "p2", HandleSerial: "s2"},
		TopicName: "temp",
		Direction: model.DirectionSubscriber,
	}
	reg.ReceiveTopic(pub, false)

	matches := reg.MatchingPublisherTopics(sub)
	require.Len(t, matches, 1)
	assert.Equal(t, "h1", matches[0].TopicID.HostName)
}
