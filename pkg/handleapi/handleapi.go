// Package handleapi implements the flat, language-binding-facing handle
// API: every component (publisher, subscriber, service server, service
// client) is addressed by an opaque Handle rather than a pointer, so a
// binding in another language never holds a reference it could outlive
// or corrupt.
package handleapi

import (
	"context"
	"time"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/ferr"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/cuemby/fabric/pkg/pub"
	"github.com/cuemby/fabric/pkg/registry"
	"github.com/cuemby/fabric/pkg/sub"
	"github.com/cuemby/fabric/pkg/svcclient"
	"github.com/cuemby/fabric/pkg/svcserver"
)

// API is the process-wide flat handle surface. It owns one arena per
// component kind; handles from one arena are never valid in another.
type API struct {
	hostName  string
	processID string
	cfg       config.Config
	reg       *registry.Registry

	// shutdownCtx is threaded through every blocking call this API
	// issues, so a process shutdown unblocks them within one tick rather
	// than leaving a binding call stuck past finalize.
	shutdownCtx context.Context

	pubTransports pub.Transports
	subTransports sub.Transports

	pubs    arena
	subs    arena
	servers arena
	clients arena
}

// New builds a flat API bound to reg and the given transports. Either
// transports value's SHMDir/UDP fields may be zero to disable that
// layer for every component this API creates. shutdownCtx should be the
// owning process's procctx.Context.ShutdownContext(); a nil shutdownCtx
// falls back to context.Background(), never observing cancellation.
func New(shutdownCtx context.Context, hostName, processID string, cfg config.Config, reg *registry.Registry, pubTransports pub.Transports, subTransports sub.Transports) *API {
	if shutdownCtx == nil {
		shutdownCtx = context.Background()
	}
	return &API{
		hostName:      hostName,
		processID:     processID,
		cfg:           cfg,
		reg:           reg,
		shutdownCtx:   shutdownCtx,
		pubTransports: pubTransports,
		subTransports: subTransports,
	}
}

func code(err error) int { return int(ferr.CodeOf(err)) }

// --- Publisher ---

// PubCreate allocates a publisher handle and registers its topic.
func (a *API) PubCreate(topicName string, dataType model.DataTypeInfo) (Handle, int) {
	p, err := pub.Create(a.hostName, a.processID, dataType, topicName, a.cfg, a.reg, a.pubTransports, 0)
	if err != nil {
		return InvalidHandle, code(err)
	}
	return a.pubs.alloc(p), code(nil)
}

// PubDestroy releases a publisher handle. A stale or unknown handle
// reports not_found rather than panicking.
func (a *API) PubDestroy(h Handle) int {
	v, ok := a.pubs.free(h)
	if !ok {
		return int(ferr.NotFound)
	}
	v.(*pub.Publisher).Destroy()
	return code(nil)
}

// PubSend sends payload through the publisher h.
func (a *API) PubSend(h Handle, payload []byte) int {
	v, ok := a.pubs.get(h)
	if !ok {
		return int(ferr.NotFound)
	}
	err := v.(*pub.Publisher).Send(a.shutdownCtx, payload)
	return code(err)
}

// --- Subscriber ---

// SubCreate allocates a subscriber handle and registers its topic.
func (a *API) SubCreate(topicName string, dataType model.DataTypeInfo) (Handle, int) {
	s, err := sub.Create(a.hostName, a.processID, dataType, topicName, a.cfg, a.reg, a.subTransports, 0)
	if err != nil {
		return InvalidHandle, code(err)
	}
	return a.subs.alloc(s), code(nil)
}

// SubDestroy releases a subscriber handle.
func (a *API) SubDestroy(h Handle) int {
	v, ok := a.subs.free(h)
	if !ok {
		return int(ferr.NotFound)
	}
	v.(*sub.Subscriber).Destroy()
	return code(nil)
}

// SubReceive blocks for up to timeout for one sample.
func (a *API) SubReceive(h Handle, timeout time.Duration) (*model.SampleEnvelope, int) {
	v, ok := a.subs.get(h)
	if !ok {
		return nil, int(ferr.NotFound)
	}
	sample, err := v.(*sub.Subscriber).Receive(a.shutdownCtx, timeout)
	return sample, code(err)
}

// SubSetCallback registers fn as the subscriber's push-mode callback.
func (a *API) SubSetCallback(h Handle, fn sub.Callback) int {
	v, ok := a.subs.get(h)
	if !ok {
		return int(ferr.NotFound)
	}
	return code(v.(*sub.Subscriber).SetCallback(fn))
}

// SubRemCallback clears a previously registered callback, returning the
// subscriber to pull mode.
func (a *API) SubRemCallback(h Handle) int {
	v, ok := a.subs.get(h)
	if !ok {
		return int(ferr.NotFound)
	}
	return code(v.(*sub.Subscriber).SetCallback(nil))
}

// --- Service server ---

// ServerCreate allocates a service server handle listening on whichever
// protocol versions cfg.Service enables.
func (a *API) ServerCreate(serviceName, processName string) (Handle, int) {
	srv, err := svcserver.Create(a.hostName, a.processID, processName, serviceName, a.cfg.Service, a.reg)
	if err != nil {
		return InvalidHandle, code(err)
	}
	return a.servers.alloc(srv), code(nil)
}

// ServerDestroy releases a service server handle. Destroy on the
// underlying Server already waits for in-flight connections to drain
// before returning, satisfying destroy's await-in-flight-invocations
// contract.
func (a *API) ServerDestroy(h Handle) int {
	v, ok := a.servers.free(h)
	if !ok {
		return int(ferr.NotFound)
	}
	v.(*svcserver.Server).Destroy()
	return code(nil)
}

// ServerAddMethodCallback registers handler for methodName on server h.
func (a *API) ServerAddMethodCallback(h Handle, methodName, reqType, respType string, handler svcserver.Handler) int {
	v, ok := a.servers.get(h)
	if !ok {
		return int(ferr.NotFound)
	}
	v.(*svcserver.Server).AddMethod(methodName, reqType, respType, handler)
	return code(nil)
}

// ServerRemMethodCallback unregisters methodName from server h; further
// calls to it get METHOD_NOT_FOUND.
func (a *API) ServerRemMethodCallback(h Handle, methodName string) int {
	v, ok := a.servers.get(h)
	if !ok {
		return int(ferr.NotFound)
	}
	v.(*svcserver.Server).RemoveMethod(methodName)
	return code(nil)
}

// --- Service client ---

// ClientCreate allocates a service client handle for serviceName.
func (a *API) ClientCreate(serviceName string) Handle {
	c := svcclient.New(serviceName, a.reg)
	return a.clients.alloc(c)
}

// ClientDestroy releases a service client handle and closes every
// instance connection it opened.
func (a *API) ClientDestroy(h Handle) int {
	v, ok := a.clients.free(h)
	if !ok {
		return int(ferr.NotFound)
	}
	v.(*svcclient.Client).Close()
	return code(nil)
}

// ClientSetHostname restricts client h to servers on the given host.
func (a *API) ClientSetHostname(h Handle, hostName string) int {
	v, ok := a.clients.get(h)
	if !ok {
		return int(ferr.NotFound)
	}
	v.(*svcclient.Client).SetHostFilter(hostName)
	return code(nil)
}

// ClientCallMethod blocks until every resolved instance responds or
// timeout elapses, fanning out to each one.
func (a *API) ClientCallMethod(h Handle, method string, request []byte, timeout time.Duration) ([]svcclient.Response, int) {
	v, ok := a.clients.get(h)
	if !ok {
		return nil, int(ferr.NotFound)
	}
	return v.(*svcclient.Client).Call(a.shutdownCtx, method, request, timeout), code(nil)
}

// ClientAddResponseCallback issues an async fan-out call, invoking cb
// once per resolved instance as it completes or times out.
func (a *API) ClientAddResponseCallback(h Handle, method string, request []byte, cb svcclient.ResponseCallback, timeout time.Duration) int {
	v, ok := a.clients.get(h)
	if !ok {
		return int(ferr.NotFound)
	}
	if !v.(*svcclient.Client).CallWithCallback(a.shutdownCtx, method, request, cb, timeout) {
		return int(ferr.TransportUnavailable)
	}
	return code(nil)
}

// ClientRemResponseCallback is a no-op placeholder: CallWithCallback's
// callback lifetime is scoped to one call, not stored on the Client, so
// there is nothing persistent to remove. Kept so binding code written
// against the flat API's set/rem symmetry still has something to call.
func (a *API) ClientRemResponseCallback(h Handle) int {
	if _, ok := a.clients.get(h); !ok {
		return int(ferr.NotFound)
	}
	return code(nil)
}
