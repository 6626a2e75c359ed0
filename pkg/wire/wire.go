// Package wire implements the on-the-wire framing shared by the
// registration layer and the data plane: a small versioned envelope
// `{magic, version, kind, body_len, body}` per spec §6, plus the binary
// encoding of a sample envelope (topic id, sequence, send clock, payload).
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/fabric/pkg/model"
)

// Magic identifies a fabric registration/sample frame on the wire.
const Magic uint16 = 0xE5CA

// Version is the current frame version. Version bumps are additive only:
// a decoder must ignore unknown trailing bytes in body.
const Version uint8 = 1

// Kind discriminates the body of a Frame.
type Kind uint8

const (
	KindTopicAnnounce Kind = iota + 1
	KindTopicUnregister
	KindProcessAnnounce
	KindProcessUnregister
	KindServiceAnnounce
	KindServiceUnregister
	KindSample
	KindLogEntry
)

// Frame is the decoded form of a registration/sample wire record.
type Frame struct {
	Version uint8
	Kind    Kind
	Body    []byte
}

// Encode serialises a Frame as {magic, version, kind, body_len, body}, all
// multi-byte integers big-endian.
func Encode(f Frame) []byte {
	buf := make([]byte, 2+1+1+4+len(f.Body))
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = f.Version
	buf[3] = byte(f.Kind)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(f.Body)))
	copy(buf[8:], f.Body)
	return buf
}

// Decode parses a Frame from a byte slice, validating the magic number and
// that the declared body length fits within the buffer. Trailing bytes
// beyond body_len are ignored, per the additive-version rule.
func Decode(b []byte) (Frame, error) {
	if len(b) < 8 {
		return Frame{}, fmt.Errorf("wire: frame too short: %d bytes", len(b))
	}
	magic := binary.BigEndian.Uint16(b[0:2])
	if magic != Magic {
		return Frame{}, fmt.Errorf("wire: bad magic %#x", magic)
	}
	version := b[2]
	kind := Kind(b[3])
	bodyLen := binary.BigEndian.Uint32(b[4:8])
	if int(bodyLen) > len(b)-8 {
		return Frame{}, fmt.Errorf("wire: body_len %d exceeds available %d", bodyLen, len(b)-8)
	}
	return Frame{
		Version: version,
		Kind:    kind,
		Body:    b[8 : 8+int(bodyLen)],
	}, nil
}

// EncodeTopic wraps a topic entry announcement or unregister into a Frame.
func EncodeTopic(t *model.TopicEntry, unregister bool) ([]byte, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal topic: %w", err)
	}
	kind := KindTopicAnnounce
	if unregister {
		kind = KindTopicUnregister
	}
	return Encode(Frame{Version: Version, Kind: kind, Body: body}), nil
}

// DecodeTopic parses a topic entry from a Frame's body.
func DecodeTopic(f Frame) (*model.TopicEntry, bool, error) {
	var t model.TopicEntry
	if err := json.Unmarshal(f.Body, &t); err != nil {
		return nil, false, fmt.Errorf("wire: unmarshal topic: %w", err)
	}
	return &t, f.Kind == KindTopicUnregister, nil
}

// EncodeProcess wraps a process entry announcement or unregister into a Frame.
func EncodeProcess(p *model.ProcessEntry, unregister bool) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal process: %w", err)
	}
	kind := KindProcessAnnounce
	if unregister {
		kind = KindProcessUnregister
	}
	return Encode(Frame{Version: Version, Kind: kind, Body: body}), nil
}

// DecodeProcess parses a process entry from a Frame's body.
func DecodeProcess(f Frame) (*model.ProcessEntry, bool, error) {
	var p model.ProcessEntry
	if err := json.Unmarshal(f.Body, &p); err != nil {
		return nil, false, fmt.Errorf("wire: unmarshal process: %w", err)
	}
	return &p, f.Kind == KindProcessUnregister, nil
}

// EncodeService wraps a service entry announcement or unregister into a Frame.
func EncodeService(s *model.ServiceEntry, unregister bool) ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal service: %w", err)
	}
	kind := KindServiceAnnounce
	if unregister {
		kind = KindServiceUnregister
	}
	return Encode(Frame{Version: Version, Kind: kind, Body: body}), nil
}

// DecodeService parses a service entry from a Frame's body.
func DecodeService(f Frame) (*model.ServiceEntry, bool, error) {
	var s model.ServiceEntry
	if err := json.Unmarshal(f.Body, &s); err != nil {
		return nil, false, fmt.Errorf("wire: unmarshal service: %w", err)
	}
	return &s, f.Kind == KindServiceUnregister, nil
}

// EncodeSample serialises a sample envelope in a compact binary layout:
// topic id (three length-prefixed strings), sequence, send_clock_ns,
// payload, then the payload hash/id.
func EncodeSample(s *model.SampleEnvelope) []byte {
	var buf bytes.Buffer
	writeString(&buf, s.TopicID.HostName)
	writeString(&buf, s.TopicID.ProcessID)
	writeString(&buf, s.TopicID.HandleSerial)
	writeUint64(&buf, s.Sequence)
	writeUint64(&buf, uint64(s.SendClockNS))
	writeUint32(&buf, uint32(len(s.Payload)))
	buf.Write(s.Payload)
	writeUint64(&buf, s.PayloadHashID)
	return Encode(Frame{Version: Version, Kind: KindSample, Body: buf.Bytes()})
}

// DecodeSample parses a sample envelope from a Frame's body.
func DecodeSample(f Frame) (*model.SampleEnvelope, error) {
	r := bytes.NewReader(f.Body)

	host, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read host: %w", err)
	}
	proc, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read process: %w", err)
	}
	handle, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read handle: %w", err)
	}
	seq, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read sequence: %w", err)
	}
	clock, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read send clock: %w", err)
	}
	payloadLen, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read payload len: %w", err)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := readFull(r, payload); err != nil {
			return nil, fmt.Errorf("wire: read payload: %w", err)
		}
	}
	hashID, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read hash id: %w", err)
	}

	return &model.SampleEnvelope{
		TopicID: model.TopicID{
			HostName:     host,
			ProcessID:    proc,
			HandleSerial: handle,
		},
		Sequence:      seq,
		SendClockNS:   int64(clock),
		Payload:       payload,
		PayloadHashID: hashID,
	}, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	return io.ReadFull(r, b)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := readFull(r, b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}
