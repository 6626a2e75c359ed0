// Package pub implements the Publisher side of the data plane: sending
// successive payloads of one topic to every currently matched subscriber
// over whichever transport registry.ChooseTransport selects for that pair.
package pub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/ferr"
	"github.com/cuemby/fabric/pkg/ids"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/cuemby/fabric/pkg/registry"
	"github.com/cuemby/fabric/pkg/shm"
	"github.com/cuemby/fabric/pkg/transport/tcpsvc"
	"github.com/cuemby/fabric/pkg/transport/udp"
)

// ewmaAlpha weights how quickly FrequencyMilliHz reacts to a change in
// send cadence; smaller is slower to react, larger follows bursts more
// closely.
const ewmaAlpha = 0.2

// Transports bundles the shared, process-wide transport handles a
// Publisher dispatches samples through. A zero-value field (an empty
// SHMDir or a nil handle) disables that transport for every topic in
// this process.
type Transports struct {
	SHMDir string
	UDP    *udp.Transport
}

// Publisher owns one topic's publisher-side handle: its own TopicEntry in
// the registration layer, a monotonic per-publisher sequence, and the
// transport fan-out to every matched subscriber.
type Publisher struct {
	reg        *registry.Registry
	transports Transports

	entry model.TopicEntry

	mu          sync.Mutex
	sequence    uint64
	lastSendAt  time.Time
	freqMilliHz float64

	shmSeg    *shm.Segment
	tcpSenders map[string]*tcpsvc.Sender

	paceLimiter *rate.Limiter

	destroyed bool
}

// Create registers a new publisher topic and prepares its transports.
// maxSendHz, when positive, caps the publish rate with a token bucket
// instead of silently letting a caller flood the matched subscribers.
func Create(hostName, processID string, dataType model.DataTypeInfo, topicName string, cfg config.Config, reg *registry.Registry, transports Transports, maxSendHz float64) (*Publisher, error) {
	if topicName == "" {
		return nil, ferr.New(ferr.InvalidArgument, "pub: topic name is required")
	}

	layers := activeLayers(cfg, transports)
	if len(layers) == 0 {
		return nil, ferr.New(ferr.TransportUnavailable, "pub: no transport layer is enabled")
	}

	entry := model.TopicEntry{
		TopicID:         model.TopicID{HostName: hostName, ProcessID: processID, HandleSerial: ids.NewHandleSerial()},
		TopicName:       topicName,
		DataType:        dataType,
		Direction:       model.DirectionPublisher,
		TransportLayers: layers,
		HostGroupName:   cfg.Registration.HostGroupName,
	}

	p := &Publisher{
		reg:        reg,
		transports: transports,
		entry:      entry,
		tcpSenders: make(map[string]*tcpsvc.Sender),
	}

	if transports.SHMDir != "" {
		seg, err := shm.Create(transports.SHMDir, topicName, 1<<16)
		if err != nil {
			log.WithComponent("pub").Warn().Err(err).Str("topic", topicName).Msg("shm segment unavailable, continuing without it")
		} else {
			p.shmSeg = seg
		}
	}

	if maxSendHz > 0 {
		p.paceLimiter = rate.NewLimiter(rate.Limit(maxSendHz), 1)
	}

	if reg != nil {
		reg.RegisterTopic(&p.entry)
	}

	return p, nil
}

func activeLayers(cfg config.Config, transports Transports) []model.TransportLayer {
	var layers []model.TransportLayer
	if transports.SHMDir != "" && cfg.TransportLayer.SHM.Enable {
		layers = append(layers, model.TransportLayer{Kind: model.TransportSHM, Active: true})
	}
	if transports.UDP != nil && cfg.Registration.LayerUDPEnable {
		layers = append(layers, model.TransportLayer{Kind: model.TransportUDP, Active: true})
	}
	if cfg.TransportLayer.TCP.Enable {
		layers = append(layers, model.TransportLayer{Kind: model.TransportTCP, Active: true})
	}
	return layers
}

// Send dispatches payload to every subscriber currently matched to this
// topic. A per-subscriber transport failure increments the topic's single
// dropped_messages total (drops are not counted per subscriber) and is
// logged, but does not fail the call: a non-nil error is returned only for
// structural errors such as Send after Destroy or a cancelled pacing wait,
// not for a single peer's transient drop.
func (p *Publisher) Send(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ferr.New(ferr.NotInitialized, "pub: publisher already destroyed")
	}
	if p.paceLimiter != nil {
		p.mu.Unlock()
		if err := p.paceLimiter.Wait(ctx); err != nil {
			return ferr.Wrap(ferr.Cancelled, err, "pub: send pacing wait")
		}
		p.mu.Lock()
	}

	p.sequence++
	seq := p.sequence
	p.observeCadence()
	p.mu.Unlock()

	sample := &model.SampleEnvelope{
		TopicID:     p.entry.TopicID,
		Sequence:    seq,
		SendClockNS: time.Now().UnixNano(),
		Payload:     payload,
	}

	if p.reg == nil {
		return nil
	}

	subs := p.reg.MatchingSubscriberTopics(&p.entry)

	// Group matched subscribers by their chosen transport kind before
	// dispatching: a point-to-point kind (shm, tcp) still needs one
	// dispatch per subscriber, but udp is one multicast datagram that
	// already reaches every subscriber on the segment, so it must be
	// written once per Send call, not once per matched subscriber.
	byKind := make(map[model.TransportKind][]model.TopicEntry)
	for i := range subs {
		sub := subs[i]
		kind, err := registry.ChooseTransport(&p.entry, &sub)
		if err != nil {
			p.countDropped()
			continue
		}
		byKind[kind] = append(byKind[kind], sub)
	}

	for kind, kindSubs := range byKind {
		if kind == model.TransportUDP {
			start := time.Now()
			if err := p.dispatch(ctx, kind, &kindSubs[0], sample); err != nil {
				p.countDropped()
				log.WithComponent("pub").Warn().Err(err).Str("topic", p.entry.TopicName).Str("transport", string(kind)).Msg("sample delivery failed")
				continue
			}
			metrics.SampleSendDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
			continue
		}

		for i := range kindSubs {
			sub := kindSubs[i]
			start := time.Now()
			if err := p.dispatch(ctx, kind, &sub, sample); err != nil {
				p.countDropped()
				log.WithComponent("pub").Warn().Err(err).Str("topic", p.entry.TopicName).Str("transport", string(kind)).Msg("sample delivery failed")
				continue
			}
			metrics.SampleSendDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
		}
	}

	return nil
}

func (p *Publisher) dispatch(ctx context.Context, kind model.TransportKind, sub *model.TopicEntry, sample *model.SampleEnvelope) error {
	switch kind {
	case model.TransportSHM:
		if p.shmSeg == nil {
			return ferr.New(ferr.TransportUnavailable, "pub: shm segment not open")
		}
		return p.shmSeg.Write(sample.Sequence, sample.Payload)
	case model.TransportUDP:
		if p.transports.UDP == nil {
			return ferr.New(ferr.TransportUnavailable, "pub: udp transport not open")
		}
		return p.transports.UDP.SendSample(sample)
	case model.TransportTCP:
		addr := tcpAddr(sub)
		if addr == "" {
			return ferr.New(ferr.TransportUnavailable, "pub: subscriber did not advertise a tcp address")
		}
		sender := p.tcpSenderFor(addr)
		return sender.Send(ctx, sample)
	default:
		return ferr.Newf(ferr.TransportUnavailable, "pub: unsupported transport %q", kind)
	}
}

// tcpAddr reads the dial address a subscriber advertised in its tcp
// transport layer's params (set by pkg/sub when it opens its tcpsvc
// listener). An entry with no such param cannot be reached over tcp.
func tcpAddr(sub *model.TopicEntry) string {
	for _, l := range sub.TransportLayers {
		if l.Kind == model.TransportTCP && l.Active {
			return l.Params["addr"]
		}
	}
	return ""
}

func (p *Publisher) tcpSenderFor(addr string) *tcpsvc.Sender {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.tcpSenders[addr]; ok {
		return s
	}
	s := tcpsvc.NewSender(addr, 0, 0)
	p.tcpSenders[addr] = s
	return s
}

func (p *Publisher) observeCadence() {
	now := time.Now()
	if !p.lastSendAt.IsZero() {
		interval := now.Sub(p.lastSendAt).Seconds()
		if interval > 0 {
			instantHz := 1.0 / interval
			p.freqMilliHz = ewmaAlpha*(instantHz*1000) + (1-ewmaAlpha)*p.freqMilliHz
		}
	}
	p.lastSendAt = now
	atomic.AddUint64(&p.entry.DataClock, 1)
	p.entry.FrequencyMilliHz = uint64(p.freqMilliHz)
}

func (p *Publisher) countDropped() {
	p.mu.Lock()
	p.entry.DroppedMessages++
	p.mu.Unlock()
	metrics.SamplesDroppedTotal.WithLabelValues("unresolved", "no_transport").Inc()
}

// Destroy unregisters the topic and releases its transports.
func (p *Publisher) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	seg := p.shmSeg
	senders := make([]*tcpsvc.Sender, 0, len(p.tcpSenders))
	for _, s := range p.tcpSenders {
		senders = append(senders, s)
	}
	p.mu.Unlock()

	if seg != nil {
		_ = seg.Close()
		_ = seg.Remove()
	}
	for _, s := range senders {
		_ = s.Close()
	}

	if p.reg != nil {
		p.reg.UnregisterTopic(p.entry.TopicID)
	}
}
