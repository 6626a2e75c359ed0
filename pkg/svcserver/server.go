// Package svcserver implements the service server: a named collection of
// RPC methods reachable over a long-lived TCP connection, per spec §4.8.
package svcserver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/ferr"
	"github.com/cuemby/fabric/pkg/ids"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/cuemby/fabric/pkg/registry"
	"github.com/cuemby/fabric/pkg/wire"
)

// Handler processes one method call and returns the outcome state plus the
// response payload.
type Handler func(ctx context.Context, methodName string, reqType, respType string, request []byte) (wire.RetState, []byte)

type method struct {
	reqType  string
	respType string
	handler  Handler
}

// Server is a single service server instance: a name, a set of methods, and
// one TCP listener per enabled protocol version.
type Server struct {
	hostName          string
	processID         string
	processName       string
	serviceName       string
	serviceInstanceID string
	cfg               config.Service

	reg *registry.Registry

	tcpPortV0 int
	tcpPortV1 int

	mu      sync.RWMutex
	methods map[string]*method

	listeners []net.Listener
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Create starts a service server listening on a TCP port per enabled
// protocol version, and registers it with the registration layer.
func Create(hostName, processID, processName, serviceName string, cfg config.Service, reg *registry.Registry) (*Server, error) {
	s := &Server{
		hostName:          hostName,
		processID:         processID,
		processName:       processName,
		serviceName:       serviceName,
		serviceInstanceID: ids.NewServiceInstanceID(),
		cfg:               cfg,
		reg:               reg,
		methods:           make(map[string]*method),
	}

	entry := &model.ServiceEntry{
		HostName:          hostName,
		ProcessID:         processID,
		ProcessName:       processName,
		ServiceName:       serviceName,
		ServiceInstanceID: s.serviceInstanceID,
	}

	if cfg.ProtocolV0Enable {
		lis, port, err := s.listen(wire.ServiceV0)
		if err != nil {
			return nil, err
		}
		s.listeners = append(s.listeners, lis)
		s.tcpPortV0 = port
		entry.TCPPortV0 = port
		s.wg.Add(1)
		go s.acceptLoop(lis, wire.ServiceV0)
	}

	if cfg.ProtocolV1Enable {
		lis, port, err := s.listen(wire.ServiceV1)
		if err != nil {
			s.Destroy()
			return nil, err
		}
		s.listeners = append(s.listeners, lis)
		s.tcpPortV1 = port
		entry.TCPPortV1 = port
		s.wg.Add(1)
		go s.acceptLoop(lis, wire.ServiceV1)
	}

	if len(s.listeners) == 0 {
		return nil, ferr.New(ferr.InvalidArgument, "no service protocol version enabled")
	}

	if reg != nil {
		reg.RegisterService(entry)
	}

	log.WithComponent("svcserver").Info().
		Str("service", serviceName).
		Str("instance", s.serviceInstanceID).
		Msg("service server created")

	return s, nil
}

func (s *Server) listen(version wire.ServiceVersion) (net.Listener, int, error) {
	lis, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return nil, 0, ferr.Wrap(ferr.TransportUnavailable, err, fmt.Sprintf("listen for service protocol v%d", version))
	}
	return lis, lis.Addr().(*net.TCPAddr).Port, nil
}

// AddMethod registers a method handler, replacing any existing handler of
// the same name.
func (s *Server) AddMethod(methodName, reqType, respType string, handler Handler) {
	s.mu.Lock()
	s.methods[methodName] = &method{reqType: reqType, respType: respType, handler: handler}
	s.mu.Unlock()

	if s.reg != nil {
		s.announceMethods()
	}
}

// RemoveMethod unregisters a method handler.
func (s *Server) RemoveMethod(methodName string) {
	s.mu.Lock()
	delete(s.methods, methodName)
	s.mu.Unlock()

	if s.reg != nil {
		s.announceMethods()
	}
}

func (s *Server) announceMethods() {
	s.mu.RLock()
	methods := make([]model.MethodEntry, 0, len(s.methods))
	for name, m := range s.methods {
		methods = append(methods, model.MethodEntry{MethodName: name, RequestType: m.reqType, ResponseType: m.respType})
	}
	s.mu.RUnlock()

	entry := &model.ServiceEntry{
		HostName:          s.hostName,
		ProcessID:         s.processID,
		ProcessName:       s.processName,
		ServiceName:       s.serviceName,
		ServiceInstanceID: s.serviceInstanceID,
		TCPPortV0:         s.tcpPortV0,
		TCPPortV1:         s.tcpPortV1,
		Methods:           methods,
	}
	s.reg.RegisterService(entry)
}

// Destroy stops accepting connections and unregisters the service.
func (s *Server) Destroy() {
	s.closeOnce.Do(func() {
		for _, lis := range s.listeners {
			_ = lis.Close()
		}
		s.wg.Wait()

		if s.reg != nil {
			s.reg.UnregisterService(&model.ServiceEntry{
				HostName:          s.hostName,
				ProcessID:         s.processID,
				ServiceName:       s.serviceName,
				ServiceInstanceID: s.serviceInstanceID,
			})
		}

		log.WithComponent("svcserver").Info().Str("service", s.serviceName).Msg("service server destroyed")
	})
}

func (s *Server) acceptLoop(lis net.Listener, version wire.ServiceVersion) {
	defer s.wg.Done()
	for {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serveConn(conn, version)
	}
}

// serveConn serialises requests on a single connection but runs
// independently of every other connection.
func (s *Server) serveConn(conn net.Conn, version wire.ServiceVersion) {
	defer s.wg.Done()
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		frame, err := wire.ReadServiceFrame(r)
		if err != nil {
			return
		}

		start := time.Now()
		retState, respBody := s.dispatch(frame.MethodName, frame.Payload)
		metrics.ServiceCallDuration.WithLabelValues(s.serviceName, frame.MethodName).Observe(time.Since(start).Seconds())
		metrics.ServiceCallsTotal.WithLabelValues(s.serviceName, frame.MethodName, retStateLabel(retState)).Inc()

		resp := wire.ServiceFrame{
			Version:    version,
			RequestID:  frame.RequestID,
			MethodName: frame.MethodName,
			RetState:   retState,
			Payload:    respBody,
		}
		if err := wire.WriteServiceFrame(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(methodName string, request []byte) (retState wire.RetState, body []byte) {
	s.mu.RLock()
	m, ok := s.methods[methodName]
	s.mu.RUnlock()

	if !ok {
		return wire.RetMethodNotFound, nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("svcserver").Warn().
				Interface("panic", r).
				Str("method", methodName).
				Msg("method handler panicked, recovered")
			retState, body = wire.RetFailed, nil
		}
	}()

	return m.handler(context.Background(), methodName, m.reqType, m.respType, request)
}

func retStateLabel(s wire.RetState) string {
	switch s {
	case wire.RetOK:
		return "ok"
	case wire.RetMethodNotFound:
		return "method_not_found"
	default:
		return "failed"
	}
}
