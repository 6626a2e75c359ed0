// Package tcpsvc implements the length-prefixed framed-stream TCP
// transport used as the data-plane fallback when two endpoints share
// neither a host (ruling out pkg/shm) nor a usable multicast path, per
// spec.md §4.4. One connection is held per publisher→subscriber pair;
// it reconnects with exponential backoff capped at 5s, and its send side
// is rate-limited so a slow reader applies real backpressure instead of
// an unbounded in-memory queue.
package tcpsvc

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/fabric/pkg/ferr"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/cuemby/fabric/pkg/wire"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// SampleHandler is invoked for every sample decoded off an inbound
// connection.
type SampleHandler func(*model.SampleEnvelope)

// Listener accepts inbound publisher connections and decodes samples off
// each one.
type Listener struct {
	lis     net.Listener
	handler SampleHandler
	wg      sync.WaitGroup
}

// Listen starts accepting TCP connections on addr ("host:0" for an
// ephemeral port).
func Listen(addr string, handler SampleHandler) (*Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ferr.Wrap(ferr.TransportUnavailable, err, "listen tcp data plane")
	}
	l := &Listener{lis: lis, handler: handler}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

// Addr returns the bound address, so the topic's advertised TransportLayer
// parameters can be filled in after Listen.
func (l *Listener) Addr() net.Addr { return l.lis.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error {
	err := l.lis.Close()
	l.wg.Wait()
	return err
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.lis.Accept()
		if err != nil {
			return
		}
		l.wg.Add(1)
		go l.serve(conn)
	}
}

func (l *Listener) serve(conn net.Conn) {
	defer l.wg.Done()
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		frame, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				log.WithComponent("transport.tcp").Warn().Err(err).Msg("frame read failed, closing connection")
			}
			return
		}
		sample, err := wire.DecodeSample(frame)
		if err != nil {
			metrics.SamplesDroppedTotal.WithLabelValues("tcp", "decode_error").Inc()
			continue
		}
		metrics.SamplesReceivedTotal.WithLabelValues("tcp").Inc()
		if l.handler != nil {
			l.handler(sample)
		}
	}
}

// Sender holds one outbound, auto-reconnecting connection to a single
// subscriber endpoint.
type Sender struct {
	addr    string
	limiter *rate.Limiter

	mu      sync.Mutex
	conn    net.Conn
	backoff time.Duration
	closed  bool
}

// NewSender creates a sender targeting addr. sendRateBytesPerSec bounds
// sustained throughput on this connection; burst allows a short spike up
// to one full sample before limiting kicks in.
func NewSender(addr string, sendRateBytesPerSec int, burst int) *Sender {
	if sendRateBytesPerSec <= 0 {
		sendRateBytesPerSec = 10 << 20 // 10MiB/s default ceiling
	}
	if burst <= 0 {
		burst = 64 << 10
	}
	return &Sender{
		addr:    addr,
		limiter: rate.NewLimiter(rate.Limit(sendRateBytesPerSec), burst),
		backoff: minBackoff,
	}
}

// Send encodes and writes one sample. It reconnects lazily and applies
// the send-rate limiter before writing, which is where backpressure shows
// up as added latency to the caller rather than an unbounded buffer.
func (s *Sender) Send(ctx context.Context, sample *model.SampleEnvelope) error {
	raw := wire.EncodeSample(sample)

	if err := s.limiter.WaitN(ctx, len(raw)); err != nil {
		return ferr.Wrap(ferr.Cancelled, err, "rate limiter wait")
	}

	conn, err := s.ensureConnected()
	if err != nil {
		metrics.SamplesDroppedTotal.WithLabelValues("tcp", "connect_failed").Inc()
		return err
	}

	if err := writeFrame(conn, raw); err != nil {
		s.reset()
		metrics.SamplesDroppedTotal.WithLabelValues("tcp", "write_failed").Inc()
		return ferr.Wrap(ferr.TransportUnavailable, err, "write sample frame")
	}

	metrics.SamplesSentTotal.WithLabelValues("tcp").Inc()
	return nil
}

func (s *Sender) ensureConnected() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ferr.New(ferr.TransportUnavailable, "tcp sender closed")
	}
	if s.conn != nil {
		return s.conn, nil
	}

	conn, err := net.DialTimeout("tcp", s.addr, 3*time.Second)
	if err != nil {
		wait := s.backoff
		s.backoff *= 2
		if s.backoff > maxBackoff {
			s.backoff = maxBackoff
		}
		time.Sleep(wait)
		return nil, ferr.Wrap(ferr.TransportUnavailable, err, "dial tcp data plane")
	}

	s.conn = conn
	s.backoff = minBackoff
	return conn, nil
}

func (s *Sender) reset() {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

// Close tears down the connection permanently.
func (s *Sender) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// writeFrame/readFrame frame a sample payload with a 4-byte big-endian
// length prefix, independent of pkg/wire's own envelope length (samples
// are varying-size binary blobs on a persistent stream, so an outer
// length prefix is required to locate frame boundaries).
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r *bufio.Reader) (wire.Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return wire.Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return wire.Frame{}, err
	}
	return wire.Decode(body)
}
