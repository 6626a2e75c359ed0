// Package sub implements the subscriber side of the data plane: receiving
// samples from every matched publisher over shm, udp, or tcp and handing
// them to a caller either by polling Receive or by a registered callback.
package sub

import (
	"context"
	"fmt"
	"sync"
	"time"

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

// defaultQueueCapacity bounds the pull-mode queue when the caller does
// not request a specific size.
const defaultQueueCapacity = 64

// Transports mirrors pub.Transports: the shared, process-wide transport
// handles a Subscriber receives samples through.
type Transports struct {
	SHMDir string
	UDP    *udp.Transport
}

// Callback is invoked once per in-order sample when a Subscriber is in
// push mode.
type Callback func(*model.SampleEnvelope)

// Subscriber owns one topic's subscriber-side handle.
type Subscriber struct {
	reg   *registry.Registry
	cfg   config.Subscriber
	entry model.TopicEntry

	mu       sync.Mutex
	lastSeq  map[string]uint64
	callback Callback
	pullUsed bool
	closed   bool

	queue  chan *model.SampleEnvelope
	stopCh chan struct{}
	wg     sync.WaitGroup

	shmSeg   *shm.Segment
	tcpLis   *tcpsvc.Listener
	udpTrans *udp.Transport
}

// Create registers a new subscriber topic, opens whichever transports
// this process has enabled, and starts listening for samples. Exactly
// one of Receive or SetCallback may be used for the lifetime of the
// returned Subscriber, never both.
func Create(hostName, processID string, dataType model.DataTypeInfo, topicName string, cfg config.Config, reg *registry.Registry, transports Transports, queueCapacity int) (*Subscriber, error) {
	if topicName == "" {
		return nil, ferr.New(ferr.InvalidArgument, "sub: topic name is required")
	}
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}

	s := &Subscriber{
		reg:     reg,
		cfg:     cfg.Subscriber,
		lastSeq: make(map[string]uint64),
		queue:   make(chan *model.SampleEnvelope, queueCapacity),
		stopCh:  make(chan struct{}),
	}

	var layers []model.TransportLayer
	var shmSeg *shm.Segment
	var tcpLis *tcpsvc.Listener

	if transports.SHMDir != "" && cfg.TransportLayer.SHM.Enable {
		seg, err := shm.Create(transports.SHMDir, topicName, 1<<16)
		if err != nil {
			log.WithComponent("sub").Warn().Err(err).Str("topic", topicName).Msg("shm segment unavailable, continuing without it")
		} else {
			shmSeg = seg
			layers = append(layers, model.TransportLayer{Kind: model.TransportSHM, Active: true})
		}
	}

	if cfg.TransportLayer.TCP.Enable {
		lis, err := tcpsvc.Listen("0.0.0.0:0", s.onSample)
		if err != nil {
			log.WithComponent("sub").Warn().Err(err).Str("topic", topicName).Msg("tcp listener unavailable, continuing without it")
		} else {
			tcpLis = lis
			layers = append(layers, model.TransportLayer{
				Kind:   model.TransportTCP,
				Active: true,
				Params: map[string]string{"addr": lis.Addr().String()},
			})
		}
	}

	if transports.UDP != nil && cfg.Registration.LayerUDPEnable && reg != nil {
		s.udpTrans = transports.UDP
		layers = append(layers, model.TransportLayer{Kind: model.TransportUDP, Active: true})
	}

	if len(layers) == 0 {
		if tcpLis != nil {
			tcpLis.Close()
		}
		if shmSeg != nil {
			shmSeg.Close()
		}
		return nil, ferr.New(ferr.TransportUnavailable, "sub: no transport layer is enabled")
	}

	s.entry = model.TopicEntry{
		TopicID:         model.TopicID{HostName: hostName, ProcessID: processID, HandleSerial: ids.NewHandleSerial()},
		TopicName:       topicName,
		DataType:        dataType,
		Direction:       model.DirectionSubscriber,
		TransportLayers: layers,
		HostGroupName:   cfg.Registration.HostGroupName,
	}
	s.shmSeg = shmSeg
	s.tcpLis = tcpLis

	if s.shmSeg != nil {
		s.wg.Add(1)
		go s.pollSHM()
	}

	if s.udpTrans != nil {
		registerUDPRoute(s.udpTrans, reg, &s.entry, s.onSample)
	}

	if reg != nil {
		reg.RegisterTopic(&s.entry)
	}

	return s, nil
}

// SetCallback switches this Subscriber into push mode: fn is invoked
// once per accepted sample. It must be called before Receive ever is;
// calling it afterward is an error. A later call replaces fn.
func (s *Subscriber) SetCallback(fn Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pullUsed {
		return ferr.New(ferr.InvalidArgument, "sub: cannot register a callback after Receive has been used")
	}
	s.callback = fn
	return nil
}

// Receive blocks until a sample arrives, ctx is cancelled, or timeout
// elapses (when timeout is positive). It is an error to call Receive on
// a Subscriber that has a callback registered.
func (s *Subscriber) Receive(ctx context.Context, timeout time.Duration) (*model.SampleEnvelope, error) {
	s.mu.Lock()
	if s.callback != nil {
		s.mu.Unlock()
		return nil, ferr.New(ferr.InvalidArgument, "sub: cannot call Receive once a callback is registered")
	}
	s.pullUsed = true
	s.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case sample := <-s.queue:
		return sample, nil
	case <-timeoutCh:
		return nil, ferr.New(ferr.Timeout, "sub: receive timed out")
	case <-ctx.Done():
		return nil, ferr.Wrap(ferr.Cancelled, ctx.Err(), "sub: receive cancelled")
	case <-s.stopCh:
		return nil, ferr.New(ferr.NotInitialized, "sub: subscriber destroyed")
	}
}

// onSample is the single funnel every transport feeds into: ordering and
// duplicate-sequence filtering happens here before a sample reaches the
// caller by either delivery mode.
func (s *Subscriber) onSample(sample *model.SampleEnvelope) {
	key := publisherKey(sample.TopicID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.cfg.FilterExpiredSamples > 0 {
		ageMS := (time.Now().UnixNano() - sample.SendClockNS) / int64(time.Millisecond)
		if ageMS > s.cfg.FilterExpiredSamples {
			s.mu.Unlock()
			metrics.SamplesDroppedTotal.WithLabelValues("any", "expired").Inc()
			return
		}
	}
	if s.cfg.DropOutOfOrder {
		last, seen := s.lastSeq[key]
		if seen && sample.Sequence <= last {
			s.mu.Unlock()
			metrics.SamplesDroppedTotal.WithLabelValues("any", "out_of_order").Inc()
			return
		}
	}
	s.lastSeq[key] = sample.Sequence
	cb := s.callback
	s.mu.Unlock()

	metrics.SamplesReceivedTotal.WithLabelValues("any").Inc()

	if cb != nil {
		cb(sample)
		return
	}

	select {
	case s.queue <- sample:
	default:
		metrics.SamplesDroppedTotal.WithLabelValues("any", "queue_full").Inc()
	}
}

func (s *Subscriber) pollSHM() {
	defer s.wg.Done()

	var lastSeq uint64
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			seq, payload := s.shmSeg.Read()
			if seq == 0 || seq == lastSeq {
				continue
			}
			lastSeq = seq
			s.onSample(&model.SampleEnvelope{
				TopicID:     s.resolveSHMPublisher(),
				Sequence:    seq,
				SendClockNS: time.Now().UnixNano(),
				Payload:     payload,
			})
		}
	}
}

// resolveSHMPublisher looks up the registration layer for the publisher
// topic that actually owns this subscriber's shm segment, instead of
// reporting the subscriber's own identity as the sample's source. The
// shm wire format (pkg/shm) carries no publisher identity of its own, so
// this can only disambiguate when exactly one matching publisher
// currently advertises shm on this topic name; with zero or more than
// one, it falls back to the subscriber's own id, the pre-existing
// behavior, rather than guess wrong.
func (s *Subscriber) resolveSHMPublisher() model.TopicID {
	if s.reg == nil {
		return s.entry.TopicID
	}

	var shmPublishers []model.TopicEntry
	for _, p := range s.reg.MatchingPublisherTopics(&s.entry) {
		for _, l := range p.TransportLayers {
			if l.Kind == model.TransportSHM && l.Active {
				shmPublishers = append(shmPublishers, p)
				break
			}
		}
	}

	if len(shmPublishers) == 1 {
		return shmPublishers[0].TopicID
	}
	return s.entry.TopicID
}

func publisherKey(id model.TopicID) string {
	return fmt.Sprintf("%s/%s/%s", id.HostName, id.ProcessID, id.HandleSerial)
}

// Destroy stops listening on every transport and unregisters the topic.
func (s *Subscriber) Destroy() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	if s.udpTrans != nil {
		unregisterUDPRoute(s.udpTrans, s.entry.TopicID)
	}
	if s.tcpLis != nil {
		_ = s.tcpLis.Close()
	}
	if s.shmSeg != nil {
		_ = s.shmSeg.Close()
	}

	if s.reg != nil {
		s.reg.UnregisterTopic(s.entry.TopicID)
	}
}
