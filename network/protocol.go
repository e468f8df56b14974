package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	// MaxFrameSize is the maximum accepted frame payload size (1 MB).
	MaxFrameSize = 1024 * 1024
	// DefaultConnectionTimeout bounds the auth handshake.
	DefaultConnectionTimeout = 10 * time.Second
	// DefaultKeepAliveInterval sends ping on idle connections.
	DefaultKeepAliveInterval = 60 * time.Second
	// DefaultKeepAliveTimeout waits this long for pong after ping.
	DefaultKeepAliveTimeout = 15 * time.Second
	// DefaultFrameReadTimeout bounds each frame read.
	DefaultFrameReadTimeout = 30 * time.Second
)

// Control frame types. Chat frames pass through untouched.
const (
	TypeAuth   = "auth"
	TypeAuthOK = "auth_ok"
	TypePing   = "ping"
	TypePong   = "pong"
	TypeError  = "error"
)

var (
	// ErrFrameTooLarge indicates payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("network: frame exceeds max size")
	// ErrPartialFrame indicates a read deadline fired in the middle of a frame.
	ErrPartialFrame = errors.New("network: read timed out mid-frame")
	// ErrInvalidMessageType indicates the message type is missing.
	ErrInvalidMessageType = errors.New("network: invalid message type")
)

// Envelope identifies the protocol message type.
type Envelope struct {
	Type string `json:"type"`
}

// AuthRequest is the first frame a client sends.
type AuthRequest struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// AuthOK confirms the verified identity.
type AuthOK struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

// ErrorMessage reports a handshake failure before the server closes.
type ErrorMessage struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// PingMessage is a keep-alive ping.
type PingMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// PongMessage is a keep-alive pong response.
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// EncodeJSON marshals one protocol message.
func EncodeJSON(message any) ([]byte, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encode protocol message: %w", err)
	}
	return payload, nil
}

// DecodeMessageType extracts the "type" field from a frame.
func DecodeMessageType(payload []byte) (string, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Type == "" {
		return "", ErrInvalidMessageType
	}
	return envelope.Type, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	payload, _, err := readFrame(r)
	return payload, err
}

// readFrame also reports whether any byte of the frame was consumed.
func readFrame(r io.Reader) ([]byte, bool, error) {
	header := make([]byte, 4)
	if n, err := io.ReadFull(r, header); err != nil {
		return nil, n > 0, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, true, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, true, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, true, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, true, nil
}

// ReadFrameWithTimeout reads a frame with an optional read deadline. A
// deadline that fires before any byte arrives is returned as the plain
// timeout; one that fires mid-frame returns ErrPartialFrame, since the
// stream can no longer be realigned.
func ReadFrameWithTimeout(conn net.Conn, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
		defer func() {
			_ = conn.SetReadDeadline(time.Time{})
		}()
	}

	payload, started, err := readFrame(conn)
	if err != nil && started {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrPartialFrame, err)
		}
	}
	return payload, err
}
