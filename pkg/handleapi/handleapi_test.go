package handleapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/ferr"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/cuemby/fabric/pkg/pub"
	"github.com/cuemby/fabric/pkg/registry"
	"github.com/cuemby/fabric/pkg/sub"
	"github.com/cuemby/fabric/pkg/wire"
)

func newTestAPI() *API {
	cfg := config.Default()
	cfg.Registration.LayerUDPEnable = false
	reg := registry.New("127.0.0.1", "p1", cfg, nil, nil)
	return New(context.Background(), "127.0.0.1", "p1", cfg, reg, pub.Transports{}, sub.Transports{})
}

func TestPubSubRoundTripOverFlatAPI(t *testing.T) {
	a := newTestAPI()

	subH, rc := a.SubCreate("topic", model.DataTypeInfo{})
	require.Equal(t, 0, rc)
	defer a.SubDestroy(subH)

	pubH, rc := a.PubCreate("topic", model.DataTypeInfo{})
	require.Equal(t, 0, rc)
	defer a.PubDestroy(pubH)

	rc = a.PubSend(pubH, []byte("hello"))
	require.Equal(t, 0, rc)

	sample, rc := a.SubReceive(subH, 2*time.Second)
	require.Equal(t, 0, rc)
	assert.Equal(t, "hello", string(sample.Payload))
}

func TestPubCreateUnknownHandleOperationsReportNotFound(t *testing.T) {
	a := newTestAPI()

	rc := a.PubSend(Handle(999), []byte("x"))
	assert.Equal(t, int(ferr.NotFound), rc)

	rc = a.PubDestroy(Handle(999))
	assert.Equal(t, int(ferr.NotFound), rc)
}

func TestSubDestroyThenReceiveIsNotFound(t *testing.T) {
	a := newTestAPI()

	subH, rc := a.SubCreate("topic", model.DataTypeInfo{})
	require.Equal(t, 0, rc)

	rc = a.SubDestroy(subH)
	require.Equal(t, 0, rc)

	_, rc = a.SubReceive(subH, 10*time.Millisecond)
	assert.Equal(t, int(ferr.NotFound), rc)
}

func TestSubCallbackModeDeliversSamples(t *testing.T) {
	a := newTestAPI()

	subH, rc := a.SubCreate("topic", model.DataTypeInfo{})
	require.Equal(t, 0, rc)
	defer a.SubDestroy(subH)

	received := make(chan *model.SampleEnvelope, 1)
	rc = a.SubSetCallback(subH, func(s *model.SampleEnvelope) { received <- s })
	require.Equal(t, 0, rc)

	pubH, rc := a.PubCreate("topic", model.DataTypeInfo{})
	require.Equal(t, 0, rc)
	defer a.PubDestroy(pubH)

	require.Equal(t, 0, a.PubSend(pubH, []byte("pushed")))

	select {
	case s := <-received:
		assert.Equal(t, "pushed", string(s.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("callback never invoked")
	}
}

func TestServiceServerClientRoundTripOverFlatAPI(t *testing.T) {
	a := newTestAPI()

	srvH, rc := a.ServerCreate("math", "proc")
	require.Equal(t, 0, rc)
	defer a.ServerDestroy(srvH)

	rc = a.ServerAddMethodCallback(srvH, "add", "Req", "Resp", func(ctx context.Context, methodName, reqType, respType string, request []byte) (wire.RetState, []byte) {
		return wire.RetOK, []byte("ok")
	})
	require.Equal(t, 0, rc)

	clientH := a.ClientCreate("math")
	defer a.ClientDestroy(clientH)

	require.Eventually(t, func() bool {
		responses, rc := a.ClientCallMethod(clientH, "add", []byte("x"), 500*time.Millisecond)
		return rc == 0 && len(responses) == 1 && responses[0].RetState == wire.RetOK
	}, 3*time.Second, 50*time.Millisecond)
}

func TestClientCreateUnknownServiceReturnsEmptyResponses(t *testing.T) {
	a := newTestAPI()

	clientH := a.ClientCreate("ghost")
	defer a.ClientDestroy(clientH)

	responses, rc := a.ClientCallMethod(clientH, "add", []byte("x"), 100*time.Millisecond)
	require.Equal(t, 0, rc)
	assert.Empty(t, responses)
}
