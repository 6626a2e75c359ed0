// Package monitor implements the monitoring aggregator: a Bus subscriber
// that mirrors every announcement into a durable monstore.Store and
// answers get_monitoring/get_logging queries against the registration
// layer's own in-memory table.
package monitor

import (
	"regexp"
	"sync"

	"github.com/cuemby/fabric/pkg/bus"
	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/ferr"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/cuemby/fabric/pkg/monstore"
	"github.com/cuemby/fabric/pkg/registry"
)

// Monitor aggregates the registration layer's entity table for
// monitoring consumers, persisting every change through store and
// applying config.Monitoring's include/exclude filter to snapshot reads.
type Monitor struct {
	reg   *registry.Registry
	store monstore.Store
	cfg   config.Monitoring

	incl *regexp.Regexp
	excl *regexp.Regexp

	sub    bus.Subscriber
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New starts an aggregator over b, mirroring announcements into store
// (which may be nil, disabling persistence) and filtering
// GetMonitoring results per cfg.
func New(reg *registry.Registry, b *bus.Bus, store monstore.Store, cfg config.Monitoring) (*Monitor, error) {
	m := &Monitor{
		reg:    reg,
		store:  store,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	if cfg.FilterEnabled {
		if cfg.FilterIncl != "" {
			re, err := regexp.Compile(cfg.FilterIncl)
			if err != nil {
				return nil, ferr.Wrap(ferr.InvalidArgument, err, "monitor: compile filter_incl")
			}
			m.incl = re
		}
		if cfg.FilterExcl != "" {
			re, err := regexp.Compile(cfg.FilterExcl)
			if err != nil {
				return nil, ferr.Wrap(ferr.InvalidArgument, err, "monitor: compile filter_excl")
			}
			m.excl = re
		}
	}

	if b != nil {
		m.sub = b.Subscribe()
		m.wg.Add(1)
		go m.persistLoop()
	}

	return m, nil
}

func (m *Monitor) persistLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case a, ok := <-m.sub:
			if !ok {
				return
			}
			if m.store == nil {
				continue
			}
			if err := m.persist(a); err != nil {
				log.WithComponent("monitor").Warn().Err(err).Str("kind", string(a.Kind)).Msg("persist announcement")
			}
		}
	}
}

func (m *Monitor) persist(a *bus.Announcement) error {
	switch a.Kind {
	case bus.KindTopicUpdated:
		return m.store.SaveTopic(a.Topic)
	case bus.KindTopicExpired:
		return m.store.DeleteTopic(monstore.TopicKey(a.Topic.TopicID))
	case bus.KindProcessUpdated:
		return m.store.SaveProcess(a.Process)
	case bus.KindProcessExpired:
		return m.store.DeleteProcess(a.Process.ProcessID)
	case bus.KindServiceUpdated:
		return m.store.SaveService(a.Service)
	case bus.KindServiceExpired:
		return m.store.DeleteService(monstore.ServiceKey(a.Service))
	}
	return nil
}

// GetMonitoring returns the registration layer's current snapshot,
// restricted to entries whose identifying name passes config.Monitoring's
// include/exclude regex filter and that have refreshed within
// config.Monitoring.TimeoutMS of now.
func (m *Monitor) GetMonitoring() model.Snapshot {
	snap := m.reg.FreshSnapshot(m.cfg.Timeout())
	if !m.cfg.FilterEnabled || (m.incl == nil && m.excl == nil) {
		return snap
	}

	filtered := model.Snapshot{CapturedAt: snap.CapturedAt}
	for _, p := range snap.Processes {
		if m.allowed(p.ProcessName) {
			filtered.Processes = append(filtered.Processes, p)
		}
	}
	for _, t := range snap.PublisherTopics {
		if m.allowed(t.TopicName) {
			filtered.PublisherTopics = append(filtered.PublisherTopics, t)
		}
	}
	for _, t := range snap.SubscriberTopics {
		if m.allowed(t.TopicName) {
			filtered.SubscriberTopics = append(filtered.SubscriberTopics, t)
		}
	}
	for _, s := range snap.Servers {
		if m.allowed(s.ServiceName) {
			filtered.Servers = append(filtered.Servers, s)
		}
	}
	for _, c := range snap.Clients {
		if m.allowed(c.ServiceName) {
			filtered.Clients = append(filtered.Clients, c)
		}
	}
	return filtered
}

func (m *Monitor) allowed(name string) bool {
	if m.incl != nil && !m.incl.MatchString(name) {
		return false
	}
	if m.excl != nil && m.excl.MatchString(name) {
		return false
	}
	return true
}

// GetLogging returns every buffered log entry and clears the buffer. It
// returns an empty slice, not an error, when persistence is disabled.
func (m *Monitor) GetLogging() ([]model.LogEntry, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.DrainLogEntries()
}

// RecordLog buffers one log entry for a later GetLogging call.
func (m *Monitor) RecordLog(e model.LogEntry) error {
	if m.store == nil {
		return nil
	}
	return m.store.AppendLogEntry(e)
}

// Close stops the persistence loop and unsubscribes from the bus. The
// underlying store is left open: its lifetime belongs to whoever passed
// it to New.
func (m *Monitor) Close(b *bus.Bus) {
	select {
	case <-m.stopCh:
		return
	default:
		close(m.stopCh)
	}
	if b != nil && m.sub != nil {
		b.Unsubscribe(m.sub)
	}
	m.wg.Wait()
}
