// Package registry implements the registration layer: a local inventory of
// topics, processes, and service endpoints, periodically announced to the
// fleet and purged on timeout, plus the matching rules that wire a
// publisher to a subscriber or a service client to a server.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fabric/pkg/bus"
	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/ferr"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/model"
)

// Sender transmits a local announcement over the registration layer's
// out-of-band channel. *udp.Transport in pkg/transport/udp implements it;
// pkg/shm does not.
type Sender interface {
	SendAnnouncement(a *bus.Announcement) error
}

// entity wraps a table row with the bookkeeping needed for timeout expiry.
type entity struct {
	topic       *model.TopicEntry
	process     *model.ProcessEntry
	service     *model.ServiceEntry
	lastRefresh time.Time
}

// Registry is the per-process registration table: local entities owned by
// this process, and remote entities learned from announcements received
// over the network or shared memory.
type Registry struct {
	hostName  string
	processID string
	cfg       config.Config
	bus       *bus.Bus
	sender    Sender

	mu      sync.RWMutex
	local   map[string]*entity
	remote  map[string]*entity
	tick    uint64
	stopCh  chan struct{}
	started bool
}

// New creates a Registry for the given process identity.
func New(hostName, processID string, cfg config.Config, b *bus.Bus, sender Sender) *Registry {
	return &Registry{
		hostName:  hostName,
		processID: processID,
		cfg:       cfg,
		bus:       b,
		sender:    sender,
		local:     make(map[string]*entity),
		remote:    make(map[string]*entity),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic announce timer and the expiry sweep.
func (r *Registry) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.announceLoop()
	go r.expiryLoop()
}

// Stop halts the registration timers. Local entities are not implicitly
// unregistered; callers that want a clean departure should call
// UnregisterTopic/UnregisterProcess/UnregisterService first.
func (r *Registry) Stop() {
	close(r.stopCh)
}

func (r *Registry) announceLoop() {
	ticker := time.NewTicker(r.cfg.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.announceAll()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) expiryLoop() {
	interval := r.cfg.RefreshInterval()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweepExpired()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) announceAll() {
	r.mu.Lock()
	r.tick++
	tick := r.tick
	entries := make([]*entity, 0, len(r.local))
	for _, e := range r.local {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		ann := r.toAnnouncement(e, tick)
		if r.sender != nil {
			if err := r.sender.SendAnnouncement(ann); err != nil {
				log.WithComponent("registry").Warn().Err(err).Msg("failed to send registration announcement")
				metrics.RegistrationPurgesTotal.WithLabelValues("send_error").Inc()
				continue
			}
		}
		metrics.RegistrationSendsTotal.Inc()
	}
}

func (r *Registry) toAnnouncement(e *entity, tick uint64) *bus.Announcement {
	switch {
	case e.topic != nil:
		t := *e.topic
		t.RegistrationTick = tick
		return &bus.Announcement{Kind: bus.KindTopicUpdated, Topic: &t}
	case e.process != nil:
		p := *e.process
		p.RegistrationTick = tick
		return &bus.Announcement{Kind: bus.KindProcessUpdated, Process: &p}
	default:
		s := *e.service
		s.RegistrationTick = tick
		return &bus.Announcement{Kind: bus.KindServiceUpdated, Service: &s}
	}
}

func (r *Registry) sweepExpired() {
	deadline := time.Now().Add(-r.cfg.RegistrationTimeout())

	r.mu.Lock()
	var expired []*entity
	for key, e := range r.remote {
		if e.lastRefresh.Before(deadline) {
			expired = append(expired, e)
			delete(r.remote, key)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		metrics.RegistrationPurgesTotal.WithLabelValues("timeout").Inc()
		r.publishExpiry(e)
	}
}

func (r *Registry) publishExpiry(e *entity) {
	if r.bus == nil {
		return
	}
	switch {
	case e.topic != nil:
		t := *e.topic
		r.bus.Publish(&bus.Announcement{Kind: bus.KindTopicExpired, Topic: &t})
	case e.process != nil:
		p := *e.process
		r.bus.Publish(&bus.Announcement{Kind: bus.KindProcessExpired, Process: &p})
	case e.service != nil:
		s := *e.service
		r.bus.Publish(&bus.Announcement{Kind: bus.KindServiceExpired, Service: &s})
	}
}

// --- Local entity lifecycle ---

// RegisterTopic adds (or replaces) a local topic entry and publishes it on
// the local bus at once; peers receive it with the next refresh tick.
func (r *Registry) RegisterTopic(t *model.TopicEntry) {
	key := topicKey(t.TopicID)
	r.mu.Lock()
	r.local[key] = &entity{topic: t}
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(&bus.Announcement{Kind: bus.KindTopicUpdated, Topic: t})
	}
}

// UnregisterTopic removes a local topic entry and announces its departure.
func (r *Registry) UnregisterTopic(id model.TopicID) {
	key := topicKey(id)
	r.mu.Lock()
	e, ok := r.local[key]
	delete(r.local, key)
	r.mu.Unlock()

	if ok && r.bus != nil {
		r.bus.Publish(&bus.Announcement{Kind: bus.KindTopicExpired, Topic: e.topic})
	}
}

// RegisterProcess adds (or replaces) this process's own entry.
func (r *Registry) RegisterProcess(p *model.ProcessEntry) {
	r.mu.Lock()
	r.local[processKeyStr(p.ProcessID)] = &entity{process: p}
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(&bus.Announcement{Kind: bus.KindProcessUpdated, Process: p})
	}
}

// UnregisterProcess removes this process's own entry.
func (r *Registry) UnregisterProcess(processID string) {
	key := processKeyStr(processID)
	r.mu.Lock()
	e, ok := r.local[key]
	delete(r.local, key)
	r.mu.Unlock()

	if ok && r.bus != nil {
		r.bus.Publish(&bus.Announcement{Kind: bus.KindProcessExpired, Process: e.process})
	}
}

// RegisterService adds (or replaces) a local service server/client entry.
func (r *Registry) RegisterService(s *model.ServiceEntry) {
	key := serviceKey(s)
	r.mu.Lock()
	r.local[key] = &entity{service: s}
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(&bus.Announcement{Kind: bus.KindServiceUpdated, Service: s})
	}
}

// UnregisterService removes a local service server/client entry.
func (r *Registry) UnregisterService(s *model.ServiceEntry) {
	key := serviceKey(s)
	r.mu.Lock()
	e, ok := r.local[key]
	delete(r.local, key)
	r.mu.Unlock()

	if ok && r.bus != nil {
		r.bus.Publish(&bus.Announcement{Kind: bus.KindServiceExpired, Service: e.service})
	}
}

// --- Remote announcement intake ---

// ReceiveTopic records a remote (or, for a single-host deployment, a
// same-host) topic announcement. An explicit unregister is signalled by
// unregister=true and purges the entry immediately instead of waiting for
// timeout_ms.
func (r *Registry) ReceiveTopic(t *model.TopicEntry, unregister bool) {
	key := topicKey(t.TopicID)
	r.mu.Lock()
	if unregister {
		delete(r.remote, key)
	} else {
		r.remote[key] = &entity{topic: t, lastRefresh: time.Now()}
	}
	r.mu.Unlock()

	if r.bus == nil {
		return
	}
	if unregister {
		r.bus.Publish(&bus.Announcement{Kind: bus.KindTopicExpired, Topic: t})
	} else {
		r.bus.Publish(&bus.Announcement{Kind: bus.KindTopicUpdated, Topic: t})
	}
}

// ReceiveProcess records a remote process announcement.
func (r *Registry) ReceiveProcess(p *model.ProcessEntry, unregister bool) {
	key := processKeyStr(p.ProcessID)
	r.mu.Lock()
	if unregister {
		delete(r.remote, key)
	} else {
		r.remote[key] = &entity{process: p, lastRefresh: time.Now()}
	}
	r.mu.Unlock()

	if r.bus == nil {
		return
	}
	if unregister {
		r.bus.Publish(&bus.Announcement{Kind: bus.KindProcessExpired, Process: p})
	} else {
		r.bus.Publish(&bus.Announcement{Kind: bus.KindProcessUpdated, Process: p})
	}
}

// ReceiveService records a remote service server/client announcement.
func (r *Registry) ReceiveService(s *model.ServiceEntry, unregister bool) {
	key := serviceKey(s)
	r.mu.Lock()
	if unregister {
		delete(r.remote, key)
	} else {
		r.remote[key] = &entity{service: s, lastRefresh: time.Now()}
	}
	r.mu.Unlock()

	if r.bus == nil {
		return
	}
	if unregister {
		r.bus.Publish(&bus.Announcement{Kind: bus.KindServiceExpired, Service: s})
	} else {
		r.bus.Publish(&bus.Announcement{Kind: bus.KindServiceUpdated, Service: s})
	}
}

// --- Queries ---

// MatchingSubscriberTopics returns every known subscriber topic entry
// (local and remote) compatible with the given publisher topic, per the
// §4.5 matching rule: same topic name, and either side's data type name
// empty or both equal.
func (r *Registry) MatchingSubscriberTopics(pub *model.TopicEntry) []model.TopicEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []model.TopicEntry
	for _, e := range r.allTopics() {
		if e.Direction != model.DirectionSubscriber {
			continue
		}
		if MatchTopics(pub, &e) {
			matches = append(matches, e)
		}
	}
	return matches
}

// MatchingPublisherTopics returns every known publisher topic entry
// (local and remote) compatible with the given subscriber topic, the
// mirror image of MatchingSubscriberTopics used by a subscriber to find
// what it should connect to.
func (r *Registry) MatchingPublisherTopics(sub *model.TopicEntry) []model.TopicEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []model.TopicEntry
	for _, e := range r.allTopics() {
		if e.Direction != model.DirectionPublisher {
			continue
		}
		if MatchTopics(&e, sub) {
			matches = append(matches, e)
		}
	}
	return matches
}

// Epoch is the registration generation counter carried on every announced
// entity as RegistrationTick: it resets whenever a process's own counter
// restarts, letting a receiver detect "this is a fresh instance of the same
// (host, pid) pair" rather than a stale duplicate.
type Epoch = uint64

// ServerIDs returns the ServiceInstanceID of every known service server
// entry (local or remote), a lighter query than Snapshot for callers that
// only need presence/identity, mirroring eCAL's GetServiceIDs().
func (r *Registry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, e := range r.allServices() {
		if e.TCPPortV0 != 0 || e.TCPPortV1 != 0 {
			ids = append(ids, e.ServiceInstanceID)
		}
	}
	return ids
}

// ClientIDs returns the ServiceInstanceID of every known service client
// entry (local or remote), mirroring eCAL's GetClientIDs().
func (r *Registry) ClientIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, e := range r.allServices() {
		if e.TCPPortV0 == 0 && e.TCPPortV1 == 0 {
			ids = append(ids, e.ServiceInstanceID)
		}
	}
	return ids
}

// MatchingServers returns every known service server entry for the given
// service name, optionally restricted to a single host.
func (r *Registry) MatchingServers(serviceName, hostFilter string) []model.ServiceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []model.ServiceEntry
	for _, e := range r.allServices() {
		if e.ServiceName != serviceName {
			continue
		}
		if e.TCPPortV0 == 0 && e.TCPPortV1 == 0 {
			continue // client-side entry, not a server
		}
		if hostFilter != "" && e.HostName != hostFilter {
			continue
		}
		matches = append(matches, e)
	}
	return matches
}

func (r *Registry) allTopics() []model.TopicEntry {
	var out []model.TopicEntry
	for _, e := range r.local {
		if e.topic != nil {
			out = append(out, *e.topic)
		}
	}
	for _, e := range r.remote {
		if e.topic != nil {
			out = append(out, *e.topic)
		}
	}
	return out
}

func (r *Registry) allServices() []model.ServiceEntry {
	var out []model.ServiceEntry
	for _, e := range r.local {
		if e.service != nil {
			out = append(out, *e.service)
		}
	}
	for _, e := range r.remote {
		if e.service != nil {
			out = append(out, *e.service)
		}
	}
	return out
}

// Snapshot returns a deep copy of the full entity table, satisfying
// metrics.Source and serving as the basis for pkg/monitor's get_monitoring.
func (r *Registry) Snapshot() model.Snapshot {
	return r.snapshot(0)
}

// FreshSnapshot is Snapshot restricted to entities refreshed within
// maxAge, the config.Monitoring.TimeoutMS-driven staleness window
// pkg/monitor applies to get_monitoring independently of sweepExpired's
// own config.Registration.TimeoutMS-driven purge: an entity can still be
// sitting in the table, not yet swept, while already too stale for a
// monitoring consumer to treat as alive. maxAge <= 0 disables filtering.
func (r *Registry) FreshSnapshot(maxAge time.Duration) model.Snapshot {
	return r.snapshot(maxAge)
}

func (r *Registry) snapshot(maxAge time.Duration) model.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var snap model.Snapshot
	snap.CapturedAt = time.Now()

	var deadline time.Time
	if maxAge > 0 {
		deadline = time.Now().Add(-maxAge)
	}

	// Staleness only applies to remote entities, mirroring sweepExpired:
	// a local entity's lastRefresh is never set (it is announced, not
	// received), so filtering it on that zero value would drop every
	// local entry the instant a staleness window is configured.
	for _, e := range r.local {
		appendEntity(&snap, e)
	}
	for _, e := range r.remote {
		if maxAge > 0 && e.lastRefresh.Before(deadline) {
			continue
		}
		appendEntity(&snap, e)
	}
	return snap
}

func appendEntity(snap *model.Snapshot, e *entity) {
	switch {
	case e.topic != nil:
		t := *e.topic
		if t.Direction == model.DirectionPublisher {
			snap.PublisherTopics = append(snap.PublisherTopics, t)
		} else {
			snap.SubscriberTopics = append(snap.SubscriberTopics, t)
		}
	case e.process != nil:
		snap.Processes = append(snap.Processes, *e.process)
	case e.service != nil:
		s := *e.service
		if s.TCPPortV0 != 0 || s.TCPPortV1 != 0 {
			snap.Servers = append(snap.Servers, s)
		} else {
			snap.Clients = append(snap.Clients, s)
		}
	}
}

func topicKey(id model.TopicID) string {
	return id.HostName + "/" + id.ProcessID + "/" + id.HandleSerial
}

func processKeyStr(processID string) string {
	return "process/" + processID
}

func serviceKey(s *model.ServiceEntry) string {
	return s.HostName + "/" + s.ProcessID + "/" + s.ServiceName + "/" + s.ServiceInstanceID
}

// MatchTopics reports whether a publisher and subscriber topic entry are
// eligible to be wired together: same topic name, and data-type-compatible
// (equal type name, or unspecified on either side).
func MatchTopics(pub, sub *model.TopicEntry) bool {
	if pub.TopicName != sub.TopicName {
		return false
	}
	if pub.DataType.Name == "" || sub.DataType.Name == "" {
		return true
	}
	return pub.DataType.Name == sub.DataType.Name
}

// ChooseTransport implements the §4.5 transport-selection rule for a
// matched publisher/subscriber pair: SHM when co-located and host-group
// compatible, else UDP, else TCP, else no usable transport.
func ChooseTransport(pub, sub *model.TopicEntry) (model.TransportKind, error) {
	sameHost := pub.TopicID.HostName == sub.TopicID.HostName
	groupsCompatible := pub.HostGroupName == "" || sub.HostGroupName == "" || pub.HostGroupName == sub.HostGroupName

	if sameHost && groupsCompatible && hasActive(pub, model.TransportSHM) && hasActive(sub, model.TransportSHM) {
		return model.TransportSHM, nil
	}
	if hasActive(pub, model.TransportUDP) && hasActive(sub, model.TransportUDP) {
		return model.TransportUDP, nil
	}
	if hasActive(pub, model.TransportTCP) && hasActive(sub, model.TransportTCP) {
		return model.TransportTCP, nil
	}
	return "", ferr.New(ferr.TransportUnavailable, fmt.Sprintf("no usable transport for topic %q", pub.TopicName))
}

func hasActive(t *model.TopicEntry, kind model.TransportKind) bool {
	for _, l := range t.TransportLayers {
		if l.Kind == kind && l.Active {
			return true
		}
	}
	return false
}
