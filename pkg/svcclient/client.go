// Package svcclient implements the service client side of the RPC layer:
// fan-out calls to every resolved server instance of a named service.
package svcclient

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/fabric/pkg/health"
	"github.com/cuemby/fabric/pkg/ids"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/cuemby/fabric/pkg/registry"
	"github.com/cuemby/fabric/pkg/wire"
)

// State is a service client instance's connection state, per instance
// state machine.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateReady
	StateCalling
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateCalling:
		return "calling"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CallState is the outcome of a single instance's attempt at a call.
type CallState int

const (
	CallNone CallState = iota
	CallExecuted
	CallFailed
)

// Response is one server instance's answer to a call.
type Response struct {
	HostName    string
	ServiceName string
	MethodName  string
	RetState    wire.RetState
	ErrorMsg    string
	CallState   CallState
	Bytes       []byte
}

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// Client resolves every server instance of a named service through the
// registration layer and keeps one instance struct, with its own
// connection and state machine, per resolved server.
type Client struct {
	serviceName string
	reg         *registry.Registry

	mu         sync.Mutex
	hostFilter string
	instances  map[string]*instance // keyed by host+instance id
	closed     bool
}

// New creates a service client for serviceName. Server instances are
// discovered lazily on each Call/CallWithCallback from the registration
// layer's current snapshot of matching servers.
func New(serviceName string, reg *registry.Registry) *Client {
	return &Client{
		serviceName: serviceName,
		reg:         reg,
		instances:   make(map[string]*instance),
	}
}

// SetHostFilter restricts subsequent calls to server instances on the
// named host. An empty filter (the default) targets every instance.
func (c *Client) SetHostFilter(hostName string) {
	c.mu.Lock()
	c.hostFilter = hostName
	c.mu.Unlock()
}

func (c *Client) resolve() []model.ServiceEntry {
	c.mu.Lock()
	filter := c.hostFilter
	c.mu.Unlock()
	return c.reg.MatchingServers(c.serviceName, filter)
}

func (c *Client) instanceFor(entry model.ServiceEntry) *instance {
	key := entry.HostName + "/" + entry.ServiceInstanceID

	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[key]
	if !ok {
		inst = newInstance(c.serviceName, entry)
		c.instances[key] = inst
	} else {
		inst.updateEntry(entry)
	}
	return inst
}

// Call fans a request out to every currently resolved server instance and
// blocks until each has either answered or timed out.
func (c *Client) Call(ctx context.Context, method string, request []byte, timeout time.Duration) []Response {
	entries := c.resolve()
	if len(entries) == 0 {
		return nil
	}

	results := make([]Response, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, e model.ServiceEntry) {
			defer wg.Done()
			inst := c.instanceFor(e)
			results[i] = inst.call(ctx, method, request, timeout)
		}(i, e)
	}
	wg.Wait()
	return results
}

// ResponseCallback receives one server instance's response as it completes.
type ResponseCallback func(Response)

// CallWithCallback is the asynchronous, raw-bytes form of Call: cb fires
// once per resolved instance as that instance's call completes or times
// out. It returns false if no server instance could be resolved.
func (c *Client) CallWithCallback(ctx context.Context, method string, request []byte, cb ResponseCallback, timeout time.Duration) bool {
	entries := c.resolve()
	if len(entries) == 0 {
		return false
	}

	for _, e := range entries {
		go func(e model.ServiceEntry) {
			inst := c.instanceFor(e)
			cb(inst.call(ctx, method, request, timeout))
		}(e)
	}
	return true
}

// Close tears down every instance's connection.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	instances := make([]*instance, 0, len(c.instances))
	for _, inst := range c.instances {
		instances = append(instances, inst)
	}
	c.mu.Unlock()

	for _, inst := range instances {
		inst.close()
	}
}

// instance is the per-resolved-server connection and state machine.
type instance struct {
	serviceName string

	mu      sync.Mutex
	entry   model.ServiceEntry
	state   State
	conn    net.Conn
	reader  *bufio.Reader
	backoff time.Duration
}

func newInstance(serviceName string, entry model.ServiceEntry) *instance {
	inst := &instance{
		serviceName: serviceName,
		entry:       entry,
		state:       StateUnconnected,
		backoff:     minBackoff,
	}
	metrics.ServiceClientState.WithLabelValues(serviceName, StateUnconnected.String()).Inc()
	return inst
}

func (inst *instance) updateEntry(entry model.ServiceEntry) {
	inst.mu.Lock()
	inst.entry = entry
	inst.mu.Unlock()
}

func (inst *instance) setState(s State) {
	inst.mu.Lock()
	host := inst.entry.HostName
	prev := inst.state
	inst.state = s
	inst.mu.Unlock()

	if prev != s {
		metrics.ServiceClientState.WithLabelValues(inst.serviceName, prev.String()).Dec()
	}
	metrics.ServiceClientState.WithLabelValues(inst.serviceName, s.String()).Inc()
	log.WithComponent("svcclient").Debug().Str("service", inst.serviceName).Str("host", host).Str("state", s.String()).Msg("instance state change")
}

func (inst *instance) ensureConnected() error {
	inst.mu.Lock()
	if inst.conn != nil {
		inst.mu.Unlock()
		return nil
	}
	entry := inst.entry
	inst.mu.Unlock()

	inst.setState(StateConnecting)

	port := entry.TCPPortV1
	if port == 0 {
		port = entry.TCPPortV0
	}
	if port == 0 {
		inst.setState(StateFailed)
		return fmt.Errorf("svcclient: %s has no service TCP port advertised", entry.HostName)
	}

	addr := fmt.Sprintf("%s:%d", entry.HostName, port)

	probe := health.NewTCPChecker(addr).WithTimeout(3 * time.Second)
	if result := probe.Check(context.Background()); !result.Healthy {
		inst.setState(StateFailed)
		inst.sleepBackoff()
		inst.setState(StateUnconnected)
		return fmt.Errorf("svcclient: %s: %s", addr, result.Message)
	}

	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		inst.setState(StateFailed)
		inst.sleepBackoff()
		inst.setState(StateUnconnected)
		return fmt.Errorf("svcclient: dial %s: %w", addr, err)
	}

	inst.mu.Lock()
	inst.conn = conn
	inst.reader = bufio.NewReader(conn)
	inst.backoff = minBackoff
	inst.mu.Unlock()

	inst.setState(StateReady)
	return nil
}

func (inst *instance) sleepBackoff() {
	inst.mu.Lock()
	wait := inst.backoff
	inst.backoff *= 2
	if inst.backoff > maxBackoff {
		inst.backoff = maxBackoff
	}
	inst.mu.Unlock()
	time.Sleep(wait)
}

func (inst *instance) call(ctx context.Context, method string, request []byte, timeout time.Duration) Response {
	resp := Response{HostName: inst.entry.HostName, ServiceName: inst.serviceName, MethodName: method}

	if ctx.Err() != nil {
		resp.CallState = CallFailed
		resp.ErrorMsg = "cancelled"
		return resp
	}

	if err := inst.ensureConnected(); err != nil {
		resp.CallState = CallFailed
		resp.ErrorMsg = err.Error()
		return resp
	}

	inst.setState(StateCalling)

	inst.mu.Lock()
	conn := inst.conn
	reader := inst.reader
	inst.mu.Unlock()

	_ = conn.SetDeadline(time.Now().Add(timeout))

	// A watcher forces the deadline to expire immediately on ctx
	// cancellation, so a blocked write/read returns within one tick
	// instead of riding out the full call timeout. stop unblocks the
	// watcher once the call has completed on its own.
	stop := make(chan struct{})
	cancelled := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetDeadline(time.Now())
			close(cancelled)
		case <-stop:
		}
	}()

	reqID := ids.NewRequestID()
	frame := wire.ServiceFrame{RequestID: reqID, MethodName: method, Payload: request}

	if err := wire.WriteServiceFrame(conn, frame); err != nil {
		close(stop)
		inst.fail(err)
		resp.CallState = CallFailed
		resp.ErrorMsg = cancelledOr(cancelled, err)
		return resp
	}

	respFrame, err := wire.ReadServiceFrame(reader)
	if err != nil {
		close(stop)
		inst.fail(err)
		resp.CallState = CallFailed
		resp.ErrorMsg = cancelledOr(cancelled, err)
		return resp
	}
	close(stop)

	inst.setState(StateReady)

	resp.RetState = respFrame.RetState
	resp.Bytes = respFrame.Payload
	resp.CallState = CallExecuted
	if respFrame.RetState != wire.RetOK {
		resp.CallState = CallFailed
	}
	return resp
}

// cancelledOr reports "cancelled" if the watcher goroutine fired before
// the I/O error was observed, and err.Error() otherwise, so a caller
// sees call_state=failed, error_msg="cancelled" per the shutdown
// contract rather than a generic "deadline exceeded" wrapped error.
func cancelledOr(cancelled chan struct{}, err error) string {
	select {
	case <-cancelled:
		return "cancelled"
	default:
		return err.Error()
	}
}

func (inst *instance) fail(err error) {
	inst.mu.Lock()
	if inst.conn != nil {
		_ = inst.conn.Close()
		inst.conn = nil
		inst.reader = nil
	}
	inst.mu.Unlock()
	inst.setState(StateFailed)
	log.WithComponent("svcclient").Warn().Str("service", inst.serviceName).Err(err).Msg("call failed, connection reset")
	inst.setState(StateUnconnected)
}

func (inst *instance) close() {
	inst.mu.Lock()
	if inst.conn != nil {
		_ = inst.conn.Close()
		inst.conn = nil
	}
	inst.mu.Unlock()
	inst.setState(StateUnconnected)
}
