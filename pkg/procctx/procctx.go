// Package procctx wires the registration layer, bus, and monitoring
// aggregator into one process-wide handle, mirroring the coarse
// initialize/finalize lifecycle every other operation in this module
// assumes is already running.
package procctx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/fabric/pkg/bus"
	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/ferr"
	"github.com/cuemby/fabric/pkg/ids"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/cuemby/fabric/pkg/monitor"
	"github.com/cuemby/fabric/pkg/monstore"
	"github.com/cuemby/fabric/pkg/registry"
)

// Version and BuildDate report the running build; set via -ldflags at
// build time, "dev"/"unknown" otherwise.
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// Context is the process-wide handle returned by Initialize. Every
// package in this module that needs a *registry.Registry or *bus.Bus
// gets it from here rather than constructing its own.
type Context struct {
	HostName    string
	ProcessID   string
	ProcessName string

	Bus      *bus.Bus
	Registry *registry.Registry
	Monitor  *monitor.Monitor

	collector *metrics.Collector
	cfg       config.Config
	startedAt time.Time

	mu        sync.Mutex
	unitName  string
	state     model.ProcessState
	onShutdown []func()

	// shutdownCtx is cancelled the instant Finalize begins tearing this
	// process down. Every blocking call threaded with it (pub.Send,
	// sub.Receive, svcclient.Client.Call/CallWithCallback) returns a
	// cancelled status within one tick instead of blocking past teardown.
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	refCount int32
}

var (
	globalMu sync.Mutex
	global   *Context
)

// Initialize brings up the process-wide handle on first call; every
// subsequent call before a matching Finalize just bumps a reference
// count and returns the same Context, matching the component's
// historical tolerance for repeated init calls from independent
// libraries in one process. store may be nil to run without durable
// monitoring persistence.
func Initialize(hostName, processName string, cfg config.Config, sender registry.Sender, store monstore.Store) (*Context, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global != nil {
		atomic.AddInt32(&global.refCount, 1)
		return global, nil
	}

	if processName == "" {
		return nil, ferr.New(ferr.InvalidArgument, "procctx: process name is required")
	}

	processID := ids.NewProcessID()

	b := bus.New()
	b.Start()

	reg := registry.New(hostName, processID, cfg, b, sender)
	reg.Start()
	metrics.RegisterComponent("registration", true, "registration layer started")

	mon, err := monitor.New(reg, b, store, cfg.Monitoring)
	if err != nil {
		reg.Stop()
		b.Stop()
		metrics.RegisterComponent("registration", false, err.Error())
		return nil, err
	}
	metrics.RegisterComponent("monitoring", true, "monitoring aggregator started")
	metrics.SetVersion(Version)

	collector := metrics.NewCollector(reg)
	collector.Start(5 * time.Second)

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	ctx := &Context{
		HostName:       hostName,
		ProcessID:      processID,
		ProcessName:    processName,
		Bus:            b,
		Registry:       reg,
		Monitor:        mon,
		collector:      collector,
		cfg:            cfg,
		startedAt:      time.Now(),
		state:          model.ProcessState{Severity: model.SeverityHealthy},
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
		refCount:       1,
	}

	reg.RegisterProcess(&model.ProcessEntry{
		HostName:      hostName,
		HostGroupName: cfg.Registration.HostGroupName,
		ProcessID:     ctx.ProcessID,
		ProcessName:   processName,
		State:         ctx.state,
		ComponentInit: model.ComponentInitState{State: 1, Info: "registration"},
		RuntimeVersion: Version,
	})

	global = ctx
	return ctx, nil
}

// IsInitialized reports whether Initialize has been called at least
// once and not yet finalized down to zero references.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global != nil
}

// SetUnitName records a display name for this process's unit, surfaced
// in every ProcessEntry re-announcement.
func (c *Context) SetUnitName(name string) {
	c.mu.Lock()
	c.unitName = name
	c.mu.Unlock()
	c.reannounceProcess()
}

// SetProcessState updates the severity/level/info triple a monitoring
// consumer sees for this process.
func (c *Context) SetProcessState(state model.ProcessState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.reannounceProcess()
}

func (c *Context) reannounceProcess() {
	c.mu.Lock()
	entry := model.ProcessEntry{
		HostName:      c.HostName,
		HostGroupName: c.cfg.Registration.HostGroupName,
		ProcessID:     c.ProcessID,
		ProcessName:   c.ProcessName,
		UnitName:      c.unitName,
		State:         c.state,
		ComponentInit: model.ComponentInitState{State: 1, Info: "registration"},
		RuntimeVersion: Version,
	}
	c.mu.Unlock()
	c.Registry.RegisterProcess(&entry)
}

// Ok reports whether this process's own last-set state is neither
// Critical nor Failed.
func (c *Context) Ok() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Severity != model.SeverityCritical && c.state.Severity != model.SeverityFailed
}

// ShutdownContext returns the context every blocking pub/sub/RPC call in
// this process should be threaded with. It is cancelled the instant
// Finalize begins releasing this process's last reference.
func (c *Context) ShutdownContext() context.Context {
	return c.shutdownCtx
}

// GetMicroseconds returns the current wall-clock time as microseconds
// since the Unix epoch, the resolution every *ClockNS timestamp in this
// module is ultimately derived from.
func (c *Context) GetMicroseconds() int64 {
	return time.Now().UnixMicro()
}

// OnShutdownRequested registers fn to run when this process is targeted
// by ShutdownProcessByID/ByName/All. A process wanting clean shutdown on
// request registers its own teardown here; multiple handlers all run.
func (c *Context) OnShutdownRequested(fn func()) {
	c.mu.Lock()
	c.onShutdown = append(c.onShutdown, fn)
	c.mu.Unlock()
}

// ShutdownProcessByID runs this process's registered shutdown handlers
// if its ProcessID matches, and reports whether it did. Requesting
// shutdown of a remote process is not implemented: that would need a
// control-plane RPC channel this module does not define, so only the
// local process can ever be a match.
func (c *Context) ShutdownProcessByID(processID string) bool {
	if processID != c.ProcessID {
		return false
	}
	c.runShutdownHandlers()
	return true
}

// ShutdownProcessByName is ShutdownProcessByID keyed by process name
// instead of ID, with the same local-only scope.
func (c *Context) ShutdownProcessByName(name string) bool {
	if name != c.ProcessName {
		return false
	}
	c.runShutdownHandlers()
	return true
}

// ShutdownAll runs this process's registered shutdown handlers
// unconditionally.
func (c *Context) ShutdownAll() {
	c.runShutdownHandlers()
}

func (c *Context) runShutdownHandlers() {
	c.mu.Lock()
	handlers := append([]func(){}, c.onShutdown...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// Finalize decrements the process-wide reference count; the underlying
// bus, registration layer, and monitoring aggregator are torn down only
// when the last reference is released.
func Finalize() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global == nil {
		return ferr.New(ferr.NotInitialized, "procctx: not initialized")
	}

	if atomic.AddInt32(&global.refCount, -1) > 0 {
		return nil
	}

	ctx := global
	global = nil

	ctx.shutdownCancel()
	ctx.collector.Stop()
	ctx.Registry.UnregisterProcess(ctx.ProcessID)
	ctx.Monitor.Close(ctx.Bus)
	ctx.Registry.Stop()
	ctx.Bus.Stop()
	metrics.RegisterComponent("registration", false, "finalized")
	metrics.RegisterComponent("monitoring", false, "finalized")

	return nil
}
