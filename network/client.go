package network

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"chitchat/apperr"
)

// ClientOptions configures Dial.
type ClientOptions struct {
	ConnectionTimeout time.Duration
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	FrameReadTimeout  time.Duration
}

// Dial is the Go client for the TCP transport. It connects to a chat server,
// authenticates with token and returns a ready Conn bound to the identity the
// server verified.
func Dial(address, token string, options ClientOptions) (*Conn, error) {
	timeout := options.ConnectionTimeout
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}

	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", address, err)
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}

	payload, err := EncodeJSON(AuthRequest{Type: TypeAuth, Token: token})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := WriteFrame(conn, payload); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send auth: %w", err)
	}

	responsePayload, err := ReadFrameWithTimeout(conn, timeout)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read auth response: %w", err)
	}

	msgType, err := DecodeMessageType(responsePayload)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	switch msgType {
	case TypeAuthOK:
	case TypeError:
		_ = conn.Close()
		remoteErr := ErrorMessage{}
		if err := json.Unmarshal(responsePayload, &remoteErr); err != nil {
			return nil, fmt.Errorf("decode remote error response: %w", err)
		}
		return nil, apperr.New(apperr.Code(remoteErr.Code), remoteErr.Message)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("expected %q, got %q", TypeAuthOK, msgType)
	}

	var ok AuthOK
	if err := json.Unmarshal(responsePayload, &ok); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("decode auth response: %w", err)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}

	return newConn(conn, ConnectionOptions{
		Identity:          ok.Identity,
		KeepAliveInterval: options.KeepAliveInterval,
		KeepAliveTimeout:  options.KeepAliveTimeout,
		FrameReadTimeout:  options.FrameReadTimeout,
		AutoRespondPing:   true,
	}), nil
}
