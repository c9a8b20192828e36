// Package procbridge speaks the procbridge 1.1 request/response protocol
// used by the privadome core.
//
// Every message is a 12 byte header followed by a UTF-8 JSON body:
//
//	"pbrg" | major 1 | minor 1 | status | 2 reserved | uint32 little-endian body length
package procbridge

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Status classifies a frame.
type Status byte

// Frame statuses.
const (
	StatusRequest      Status = 0
	StatusGoodResponse Status = 1
	StatusBadResponse  Status = 2
)

const headerLength = 12

// maxBodyLength bounds frames read from the peer.
const maxBodyLength = 32 * 1024 * 1024

var (
	magic   = [4]byte{'p', 'b', 'r', 'g'}
	version = [2]byte{1, 1}
)

var (
	// ErrBadMagic indicates the peer does not speak procbridge.
	ErrBadMagic = errors.New("procbridge: bad magic")
	// ErrUnsupportedVersion indicates a protocol version other than 1.1.
	ErrUnsupportedVersion = errors.New("procbridge: unsupported protocol version")
)

// Frame is a decoded procbridge message.
type Frame struct {
	Status Status
	Body   []byte
}

// WriteFrame writes a single frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	var header [headerLength]byte
	copy(header[0:4], magic[:])
	copy(header[4:6], version[:])
	header[6] = byte(f.Status)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(f.Body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("procbridge: write header: %w", err)
	}
	if len(f.Body) > 0 {
		if _, err := w.Write(f.Body); err != nil {
			return fmt.Errorf("procbridge: write body: %w", err)
		}
	}
	return nil
}

// ReadFrame reads a single frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [headerLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, fmt.Errorf("procbridge: read header: %w", err)
	}
	if !bytes.Equal(header[0:4], magic[:]) {
		return Frame{}, ErrBadMagic
	}
	if !bytes.Equal(header[4:6], version[:]) {
		return Frame{}, fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, header[4], header[5])
	}
	length := binary.LittleEndian.Uint32(header[8:12])
	if length > maxBodyLength {
		return Frame{}, fmt.Errorf("procbridge: body length %d exceeds maximum %d", length, maxBodyLength)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("procbridge: read body: %w", err)
	}
	return Frame{Status: Status(header[6]), Body: body}, nil
}

// request is the body of a StatusRequest frame. Payload is omitted for
// zero-argument calls.
type request struct {
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type goodResponse struct {
	Payload json.RawMessage `json:"payload"`
}

type badResponse struct {
	Message string `json:"message"`
}

// EncodeRequest builds a request frame for method. A nil payload sends
// no argument.
func EncodeRequest(method string, payload json.RawMessage) (Frame, error) {
	body, err := json.Marshal(request{Method: method, Payload: payload})
	if err != nil {
		return Frame{}, fmt.Errorf("procbridge: encode request: %w", err)
	}
	return Frame{Status: StatusRequest, Body: body}, nil
}

// DecodeResponse extracts the payload of a response frame. Bad responses
// come back as *RemoteError.
func DecodeResponse(f Frame) (json.RawMessage, error) {
	switch f.Status {
	case StatusGoodResponse:
		var resp goodResponse
		if err := json.Unmarshal(f.Body, &resp); err != nil {
			return nil, fmt.Errorf("procbridge: decode response: %w", err)
		}
		if len(resp.Payload) == 0 {
			return json.RawMessage("null"), nil
		}
		return resp.Payload, nil
	case StatusBadResponse:
		var resp badResponse
		if err := json.Unmarshal(f.Body, &resp); err != nil {
			return nil, fmt.Errorf("procbridge: decode error response: %w", err)
		}
		return nil, &RemoteError{Message: resp.Message}
	default:
		return nil, fmt.Errorf("procbridge: unexpected status %d in response", f.Status)
	}
}

// RemoteError is an error reported by the peer.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "procbridge: remote error: " + e.Message
}
