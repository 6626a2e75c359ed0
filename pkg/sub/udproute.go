package sub

import (
	"sync"

	"github.com/cuemby/fabric/pkg/model"
	"github.com/cuemby/fabric/pkg/registry"
	"github.com/cuemby/fabric/pkg/transport/udp"
)

// route ties one Subscriber's topic entry to the callback that should
// receive a udp sample once it is confirmed to come from one of that
// topic's currently matched publishers.
type route struct {
	reg     *registry.Registry
	entry   *model.TopicEntry
	handler func(*model.SampleEnvelope)
}

// udpMux fans the single OnSample callback a udp.Transport exposes out
// to every local Subscriber sharing that transport, matching each
// incoming sample's publisher TopicID against each route's currently
// resolved matching publishers.
type udpMux struct {
	mu     sync.Mutex
	routes map[model.TopicID]*route
}

var (
	muxesMu sync.Mutex
	muxes   = map[*udp.Transport]*udpMux{}
)

func muxFor(t *udp.Transport) *udpMux {
	muxesMu.Lock()
	defer muxesMu.Unlock()

	m, ok := muxes[t]
	if !ok {
		m = &udpMux{routes: make(map[model.TopicID]*route)}
		muxes[t] = m
		t.OnSample(m.dispatch)
	}
	return m
}

func (m *udpMux) dispatch(sample *model.SampleEnvelope) {
	m.mu.Lock()
	routes := make([]*route, 0, len(m.routes))
	for _, r := range m.routes {
		routes = append(routes, r)
	}
	m.mu.Unlock()

	for _, r := range routes {
		for _, pub := range r.reg.MatchingPublisherTopics(r.entry) {
			if pub.TopicID == sample.TopicID {
				r.handler(sample)
				break
			}
		}
	}
}

// registerUDPRoute wires a Subscriber into the shared mux for transport
// t. A Subscriber created without a registry never calls this: without
// one there is nothing to resolve a sample's publisher identity against.
func registerUDPRoute(t *udp.Transport, reg *registry.Registry, entry *model.TopicEntry, handler func(*model.SampleEnvelope)) {
	m := muxFor(t)
	m.mu.Lock()
	m.routes[entry.TopicID] = &route{reg: reg, entry: entry, handler: handler}
	m.mu.Unlock()
}

func unregisterUDPRoute(t *udp.Transport, id model.TopicID) {
	muxesMu.Lock()
	m := muxes[t]
	muxesMu.Unlock()
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.routes, id)
	m.mu.Unlock()
}
