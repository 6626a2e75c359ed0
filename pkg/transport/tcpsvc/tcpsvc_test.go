package tcpsvc

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fabric/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndReceiveSample(t *testing.T) {
	received := make(chan *model.SampleEnvelope, 1)

	lis, err := Listen("127.0.0.1:0", func(s *model.SampleEnvelope) {
		received <- s
	})
	require.NoError(t, err)
	defer lis.Close()

	sender := NewSender(lis.Addr().String(), 0, 0)
	defer sender.Close()

	sample := &model.SampleEnvelope{
		TopicID:  model.TopicID{HostName: "h1", ProcessID: "p1", HandleSerial: "s1"},
		Sequence: 1,
		Payload:  []byte("payload"),
	}

	require.NoError(t, sender.Send(context.Background(), sample))

	select {
	case got := <-received:
		assert.Equal(t, sample.Payload, got.Payload)
		assert.Equal(t, sample.TopicID, got.TopicID)
	case <-time.After(2 * time.Second):
		t.Fatal("sample never arrived")
	}
}

func TestSendFailsWhenNothingListens(t *testing.T) {
	sender := NewSender("127.0.0.1:1", 0, 0)
	defer sender.Close()

	err := sender.Send(context.Background(), &model.SampleEnvelope{})
	assert.Error(t, err)
}

func TestSendRespectsCancelledContext(t *testing.T) {
	sender := NewSender("127.0.0.1:0", 1, 1)
	defer sender.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// a burst-of-1 limiter lets the first call proceed with no wait; a
	// second call on a cancelled context must fail in WaitN.
	_ = sender.limiter.AllowN(time.Now(), 1)
	err := sender.Send(ctx, &model.SampleEnvelope{Payload: []byte("x")})
	assert.Error(t, err)
}
