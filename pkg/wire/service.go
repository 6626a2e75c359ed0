package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// ServiceVersion selects which service protocol a frame belongs to. Servers
// and clients negotiate this at connection time by dialing the port
// published for that version (§4.2 Service.ProtocolV0Enable/V1Enable).
type ServiceVersion uint8

const (
	ServiceV0 ServiceVersion = 0
	ServiceV1 ServiceVersion = 1
)

// RetState is the outcome a service server returns alongside a response
// frame's payload.
type RetState uint8

const (
	RetOK RetState = iota
	RetMethodNotFound
	RetFailed
)

// ServiceFrame is a single request or response on a service connection:
// {magic, version, ret_state, request_id_len, request_id, method_name_len,
// method_name, payload_len}, then payload. The server echoes RequestID in
// the response to the request it answers.
type ServiceFrame struct {
	Version    ServiceVersion
	RequestID  string
	MethodName string
	RetState   RetState
	Payload    []byte
}

// WriteServiceFrame writes one frame to w: magic, version, ret_state,
// request_id, method_name, then a length-prefixed payload.
func WriteServiceFrame(w io.Writer, f ServiceFrame) error {
	var header [2 + 1 + 1]byte
	binary.BigEndian.PutUint16(header[0:2], Magic)
	header[2] = byte(f.Version)
	header[3] = byte(f.RetState)
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write service header: %w", err)
	}

	if err := writeFramedString(w, f.RequestID); err != nil {
		return fmt.Errorf("wire: write request id: %w", err)
	}
	if err := writeFramedString(w, f.MethodName); err != nil {
		return fmt.Errorf("wire: write method name: %w", err)
	}

	var payloadLen [4]byte
	binary.BigEndian.PutUint32(payloadLen[:], uint32(len(f.Payload)))
	if _, err := w.Write(payloadLen[:]); err != nil {
		return fmt.Errorf("wire: write payload len: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// ReadServiceFrame reads one frame from r, validating the magic number.
func ReadServiceFrame(r *bufio.Reader) (ServiceFrame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return ServiceFrame{}, err
	}
	magic := binary.BigEndian.Uint16(header[0:2])
	if magic != Magic {
		return ServiceFrame{}, fmt.Errorf("wire: bad service frame magic %#x", magic)
	}

	requestID, err := readFramedString(r)
	if err != nil {
		return ServiceFrame{}, fmt.Errorf("wire: read request id: %w", err)
	}
	methodName, err := readFramedString(r)
	if err != nil {
		return ServiceFrame{}, fmt.Errorf("wire: read method name: %w", err)
	}

	var payloadLenBuf [4]byte
	if _, err := io.ReadFull(r, payloadLenBuf[:]); err != nil {
		return ServiceFrame{}, fmt.Errorf("wire: read payload len: %w", err)
	}
	payloadLen := binary.BigEndian.Uint32(payloadLenBuf[:])
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return ServiceFrame{}, fmt.Errorf("wire: read payload: %w", err)
		}
	}

	return ServiceFrame{
		Version:    ServiceVersion(header[2]),
		RetState:   RetState(header[3]),
		RequestID:  requestID,
		MethodName: methodName,
		Payload:    payload,
	}, nil
}

func writeFramedString(w io.Writer, s string) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(s) > 0 {
		if _, err := io.WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readFramedString(r *bufio.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}
