// Package udp implements the UDP multicast registration and sample
// transport described in spec.md §4.4: one multicast group shared by every
// process in a registration domain, carrying both registration
// announcements and, when SHM is unavailable, data-plane samples.
package udp

import (
	"fmt"
	"net"

	"github.com/cuemby/fabric/pkg/bus"
	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/ferr"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/cuemby/fabric/pkg/wire"
)

// maxDatagram is the UDP payload ceiling this transport targets; it stays
// well under the common path MTU so registration/sample frames travel
// unfragmented on typical LANs.
const maxDatagram = 1400

// SampleHandler is invoked for every decoded sample datagram received.
type SampleHandler func(*model.SampleEnvelope)

// Transport is a single multicast socket shared for sending and
// receiving registration announcements and samples.
type Transport struct {
	conn      *net.UDPConn
	groupAddr *net.UDPAddr

	onTopic     func(*model.TopicEntry, bool)
	onProcess   func(*model.ProcessEntry, bool)
	onService   func(*model.ServiceEntry, bool)
	onSample    SampleHandler
	stopCh      chan struct{}
}

// Open joins the configured multicast group and starts listening.
func Open(cfg config.UDPLayer) (*Transport, error) {
	group := &net.UDPAddr{IP: groupIP(cfg), Port: cfg.Port}

	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, ferr.Wrap(ferr.TransportUnavailable, err, "join udp multicast group")
	}
	_ = conn.SetReadBuffer(1 << 20)

	t := &Transport{
		conn:      conn,
		groupAddr: group,
		stopCh:    make(chan struct{}),
	}
	return t, nil
}

// groupIP derives a multicast group address from the configured mask; for
// a simple local deployment this is the network address of cfg.Mask.
func groupIP(cfg config.UDPLayer) net.IP {
	_, ipNet, err := net.ParseCIDR(cfg.Mask)
	if err != nil {
		return net.IPv4(239, 0, 0, 1)
	}
	return ipNet.IP
}

// OnTopic/OnProcess/OnService/OnSample register the callbacks invoked as
// matching datagrams are decoded. Call before Start.
func (t *Transport) OnTopic(fn func(*model.TopicEntry, bool))     { t.onTopic = fn }
func (t *Transport) OnProcess(fn func(*model.ProcessEntry, bool)) { t.onProcess = fn }
func (t *Transport) OnService(fn func(*model.ServiceEntry, bool)) { t.onService = fn }
func (t *Transport) OnSample(fn SampleHandler)                    { t.onSample = fn }

// Start begins the receive loop in a new goroutine.
func (t *Transport) Start() {
	go t.receiveLoop()
}

// Close stops the receive loop and leaves the multicast group.
func (t *Transport) Close() error {
	close(t.stopCh)
	return t.conn.Close()
}

func (t *Transport) receiveLoop() {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
				log.WithComponent("transport.udp").Warn().Err(err).Msg("read failed")
				continue
			}
		}

		t.handleDatagram(buf[:n])
	}
}

func (t *Transport) handleDatagram(b []byte) {
	f, err := wire.Decode(b)
	if err != nil {
		metrics.SamplesDroppedTotal.WithLabelValues("udp", "decode_error").Inc()
		return
	}

	switch f.Kind {
	case wire.KindTopicAnnounce, wire.KindTopicUnregister:
		topic, unregister, err := wire.DecodeTopic(f)
		if err == nil && t.onTopic != nil {
			t.onTopic(topic, unregister)
		}
	case wire.KindProcessAnnounce, wire.KindProcessUnregister:
		proc, unregister, err := wire.DecodeProcess(f)
		if err == nil && t.onProcess != nil {
			t.onProcess(proc, unregister)
		}
	case wire.KindServiceAnnounce, wire.KindServiceUnregister:
		svc, unregister, err := wire.DecodeService(f)
		if err == nil && t.onService != nil {
			t.onService(svc, unregister)
		}
	case wire.KindSample:
		sample, err := wire.DecodeSample(f)
		if err == nil && t.onSample != nil {
			metrics.SamplesReceivedTotal.WithLabelValues("udp").Inc()
			t.onSample(sample)
		}
	}
}

// SendAnnouncement implements registry.Sender: it re-encodes the
// announcement's payload and multicasts it to the group.
func (t *Transport) SendAnnouncement(a *bus.Announcement) error {
	var raw []byte
	var err error

	switch a.Kind {
	case bus.KindTopicUpdated:
		raw, err = wire.EncodeTopic(a.Topic, false)
	case bus.KindTopicExpired:
		raw, err = wire.EncodeTopic(a.Topic, true)
	case bus.KindProcessUpdated:
		raw, err = wire.EncodeProcess(a.Process, false)
	case bus.KindProcessExpired:
		raw, err = wire.EncodeProcess(a.Process, true)
	case bus.KindServiceUpdated:
		raw, err = wire.EncodeService(a.Service, false)
	case bus.KindServiceExpired:
		raw, err = wire.EncodeService(a.Service, true)
	default:
		return ferr.Newf(ferr.InvalidArgument, "udp transport: unknown announcement kind %q", a.Kind)
	}
	if err != nil {
		return ferr.Wrap(ferr.Serialization, err, "encode announcement")
	}

	return t.send(raw)
}

// SendSample multicasts a sample envelope. It is the fallback transport
// when SHM is unavailable or the publisher/subscriber are on different
// hosts.
func (t *Transport) SendSample(s *model.SampleEnvelope) error {
	raw := wire.EncodeSample(s)
	if len(raw) > maxDatagram {
		metrics.SamplesDroppedTotal.WithLabelValues("udp", "too_large").Inc()
		return ferr.Newf(ferr.InvalidArgument, "sample %d bytes exceeds %d byte datagram ceiling", len(raw), maxDatagram)
	}
	if err := t.send(raw); err != nil {
		return err
	}
	metrics.SamplesSentTotal.WithLabelValues("udp").Inc()
	return nil
}

func (t *Transport) send(raw []byte) error {
	if _, err := t.conn.WriteToUDP(raw, t.groupAddr); err != nil {
		return ferr.Wrap(ferr.TransportUnavailable, err, fmt.Sprintf("multicast send to %s", t.groupAddr))
	}
	return nil
}
