// Package shm implements the same-host shared-memory transport: a
// memory-mapped single-slot segment written by one publisher and read by every
// local subscriber on the same host, used whenever registry.ChooseTransport
// picks model.TransportSHM. A flock-guarded writer mutex serialises
// concurrent writers (normally just one, the topic's publisher) and an
// eventfd-based event object wakes blocked readers without polling.
package shm

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/cuemby/fabric/pkg/ferr"
)

// headerSize is {sequence uint64, payload_len uint32} preceding the
// payload region of the mapped file.
const headerSize = 8 + 4

// Segment is a memory-mapped file backing one topic's latest sample: a
// single fixed-size slot whose payload capacity is set by Create. Write
// rejects a payload larger than that capacity; the segment is never
// resized.
type Segment struct {
	path string
	size int

	mu     sync.Mutex
	file   *os.File
	data   []byte
	event  int // eventfd
}

// Create opens (creating if needed) the backing file for topicName under
// dir, sized to capacity bytes of payload plus the header.
func Create(dir, topicName string, capacity int64) (*Segment, error) {
	if capacity <= 0 {
		capacity = 4096
	}
	total := int(capacity) + headerSize

	path := fmt.Sprintf("%s/%s.shm", dir, sanitize(topicName))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, ferr.Wrap(ferr.TransportUnavailable, err, "open shm backing file")
	}

	if err := f.Truncate(int64(total)); err != nil {
		f.Close()
		return nil, ferr.Wrap(ferr.TransportUnavailable, err, "size shm backing file")
	}

	data, err := unix.Mmap(int(f.Fd()), 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, ferr.Wrap(ferr.TransportUnavailable, err, "mmap shm backing file")
	}

	evfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, ferr.Wrap(ferr.TransportUnavailable, err, "create event object")
	}

	return &Segment{path: path, size: total, file: f, data: data, event: evfd}, nil
}

func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}

// Write takes the writer-side flock, copies payload into the segment, and
// signals the event object. An oversized payload is rejected rather than
// silently truncated.
func (s *Segment) Write(sequence uint64, payload []byte) error {
	if headerSize+len(payload) > s.size {
		return ferr.Newf(ferr.InvalidArgument, "payload %d bytes exceeds segment capacity %d", len(payload), s.size-headerSize)
	}

	if err := unix.Flock(int(s.file.Fd()), unix.LOCK_EX); err != nil {
		return ferr.Wrap(ferr.TransportUnavailable, err, "acquire shm writer lock")
	}
	defer unix.Flock(int(s.file.Fd()), unix.LOCK_UN)

	s.mu.Lock()
	binary.LittleEndian.PutUint64(s.data[0:8], sequence)
	binary.LittleEndian.PutUint32(s.data[8:12], uint32(len(payload)))
	copy(s.data[headerSize:], payload)
	s.mu.Unlock()

	return s.signal()
}

func (s *Segment) signal() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(s.event, buf[:])
	if err != nil && err != unix.EAGAIN {
		return ferr.Wrap(ferr.TransportUnavailable, err, "signal event object")
	}
	return nil
}

// Read returns the most recently written sequence and payload without
// blocking.
func (s *Segment) Read() (uint64, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := binary.LittleEndian.Uint64(s.data[0:8])
	n := binary.LittleEndian.Uint32(s.data[8:12])
	payload := make([]byte, n)
	copy(payload, s.data[headerSize:headerSize+int(n)])
	return seq, payload
}

// EventFD exposes the underlying eventfd descriptor so a reader can park
// it in an epoll/select set alongside other wakeups instead of spinning.
func (s *Segment) EventFD() int { return s.event }

// Close unmaps and closes the segment. The backing file is left on disk;
// callers that own the topic's lifetime are responsible for Remove.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if err := unix.Munmap(s.data); err != nil {
		firstErr = err
	}
	if err := syscall.Close(s.event); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Remove deletes the backing file.
func (s *Segment) Remove() error {
	return os.Remove(s.path)
}
