package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrPongTimeout indicates keep-alive timed out waiting for pong.
	ErrPongTimeout = errors.New("network: pong timeout")
)

// ConnectionState represents the lifecycle state of one client connection.
type ConnectionState string

const (
	StateReady        ConnectionState = "READY"
	StateIdle         ConnectionState = "IDLE"
	StateDisconnected ConnectionState = "DISCONNECTED"
)

// ConnectionOptions controls runtime behavior of Conn.
type ConnectionOptions struct {
	Identity          string
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	FrameReadTimeout  time.Duration
	AutoRespondPing   bool
}

// Conn is an authenticated framed TCP session bound to one identity. Writes are
// serialized; reads are delivered through Frames or ReceiveMessage.
type Conn struct {
	conn     net.Conn
	identity string

	sendMu sync.Mutex

	stateMu sync.RWMutex
	state   ConnectionState

	waitMu       sync.Mutex
	waitingPong  bool
	pongDeadline time.Time

	lastActivity atomic.Int64

	keepAliveInterval time.Duration
	keepAliveTimeout  time.Duration
	frameReadTimeout  time.Duration
	autoRespondPing   bool

	inbound chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	errMu    sync.RWMutex
	closeErr error
}

func newConn(conn net.Conn, options ConnectionOptions) *Conn {
	interval := options.KeepAliveInterval
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}

	timeout := options.KeepAliveTimeout
	if timeout <= 0 {
		timeout = DefaultKeepAliveTimeout
	}

	readTimeout := options.FrameReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultFrameReadTimeout
	}

	c := &Conn{
		conn:              conn,
		identity:          options.Identity,
		keepAliveInterval: interval,
		keepAliveTimeout:  timeout,
		frameReadTimeout:  readTimeout,
		autoRespondPing:   options.AutoRespondPing,
		inbound:           make(chan []byte, 64),
		closed:            make(chan struct{}),
		state:             StateReady,
	}

	c.touchActivity()
	go c.readLoop()
	go c.keepAliveLoop()

	return c
}

// Identity returns the verified identity this connection authenticated as.
func (c *Conn) Identity() string {
	return c.identity
}

// RemoteAddr returns the peer network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// State returns the current connection state.
func (c *Conn) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Done is closed when the connection is fully disconnected.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// LastError returns the terminal connection error, if any.
func (c *Conn) LastError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.closeErr
}

// SendMessage marshals a protocol message and writes it as one frame.
func (c *Conn) SendMessage(message any) error {
	payload, err := EncodeJSON(message)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// Send writes a pre-marshaled payload as one frame.
func (c *Conn) Send(payload []byte) error {
	if c.State() == StateDisconnected {
		if err := c.LastError(); err != nil {
			return err
		}
		return io.EOF
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := WriteFrame(c.conn, payload); err != nil {
		c.closeWithError(fmt.Errorf("write frame: %w", err))
		return err
	}

	c.touchActivity()
	return nil
}

// ReceiveMessage waits for the next non-keepalive inbound frame.
func (c *Conn) ReceiveMessage(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-c.inbound:
		if ok {
			return payload, nil
		}
		if err := c.LastError(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Frames yields inbound frames until the connection closes. Frames read before
// the close are still yielded.
func (c *Conn) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for payload := range c.inbound {
			if !yield(payload) {
				return
			}
		}
	}
}

// Close terminates the connection.
func (c *Conn) Close() error {
	c.closeWithError(nil)
	return nil
}

// readLoop is the only sender on inbound and closes it on exit.
func (c *Conn) readLoop() {
	defer close(c.inbound)
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		payload, err := ReadFrameWithTimeout(c.conn, c.frameReadTimeout)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.closeWithError(nil)
				return
			}

			c.closeWithError(fmt.Errorf("read frame: %w", err))
			return
		}

		c.touchActivity()
		if len(payload) == 0 {
			continue
		}

		// Undecodable frames go up so the session can reject them.
		msgType, _ := DecodeMessageType(payload)
		switch msgType {
		case TypePing:
			c.setState(StateIdle)
			if c.autoRespondPing {
				_ = c.SendMessage(PongMessage{Type: TypePong, Timestamp: time.Now().UnixMilli()})
			}
		case TypePong:
			c.ackPong()
			c.setState(StateIdle)
		default:
			c.setState(StateReady)
			select {
			case c.inbound <- payload:
			case <-c.closed:
				return
			}
		}
	}
}

func (c *Conn) keepAliveLoop() {
	checkEvery := c.keepAliveInterval / 2
	if checkEvery <= 0 {
		checkEvery = c.keepAliveInterval
	}
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.State() == StateDisconnected {
				return
			}

			if c.waitingPongExpired() {
				c.closeWithError(ErrPongTimeout)
				return
			}

			idleFor := time.Since(time.Unix(0, c.lastActivity.Load()))
			if idleFor < c.keepAliveInterval {
				continue
			}

			if c.isWaitingPong() {
				continue
			}

			if err := c.SendMessage(PingMessage{Type: TypePing, Timestamp: time.Now().UnixMilli()}); err != nil {
				return
			}
			c.setWaitingPong(time.Now().Add(c.keepAliveTimeout))
			c.setState(StateIdle)
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) setState(state ConnectionState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = state
}

func (c *Conn) touchActivity() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Conn) setWaitingPong(deadline time.Time) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	c.waitingPong = true
	c.pongDeadline = deadline
}

func (c *Conn) ackPong() {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	c.waitingPong = false
	c.pongDeadline = time.Time{}
}

func (c *Conn) isWaitingPong() bool {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	return c.waitingPong
}

func (c *Conn) waitingPongExpired() bool {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	return c.waitingPong && time.Now().After(c.pongDeadline)
}

func (c *Conn) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.closeErr = err
		c.errMu.Unlock()

		c.setState(StateDisconnected)
		_ = c.conn.Close()
		close(c.closed)
	})
}
