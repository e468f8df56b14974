package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chitchat/apperr"
	"chitchat/auth"
	"chitchat/chat"
	"chitchat/storage"
)

// SecurityEventLogger records rejected connection attempts.
type SecurityEventLogger interface {
	RecordSecurityEvent(ctx context.Context, eventType, identity string, details map[string]string) error
}

// SessionRunner processes the frames of one authenticated connection.
type SessionRunner interface {
	Serve(ctx context.Context, identity string, channel chat.Channel, frames iter.Seq[[]byte]) error
}

// ServerOptions configures authentication and connection behavior.
type ServerOptions struct {
	Verifier auth.Verifier
	Events   SecurityEventLogger

	ConnectionTimeout time.Duration
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	FrameReadTimeout  time.Duration
}

func (o ServerOptions) withDefaults() ServerOptions {
	out := o
	if out.ConnectionTimeout <= 0 {
		out.ConnectionTimeout = DefaultConnectionTimeout
	}
	if out.KeepAliveInterval <= 0 {
		out.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if out.KeepAliveTimeout <= 0 {
		out.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	if out.FrameReadTimeout <= 0 {
		out.FrameReadTimeout = DefaultFrameReadTimeout
	}
	return out
}

// Server accepts inbound TCP sessions and authenticates them into Conns.
type Server struct {
	listener net.Listener
	options  ServerOptions
	log      *logrus.Entry

	incoming chan *Conn
	errs     chan error

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen starts a TCP listener and handshake accept loop.
func Listen(address string, options ServerOptions) (*Server, error) {
	opts := options.withDefaults()
	if opts.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}

	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	server := &Server{
		listener: listener,
		options:  opts,
		log:      logrus.WithField("component", "tcp"),
		incoming: make(chan *Conn, 16),
		errs:     make(chan error, 16),
		closed:   make(chan struct{}),
	}

	server.wg.Add(1)
	go server.acceptLoop()
	return server, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Incoming returns authenticated connections.
func (s *Server) Incoming() <-chan *Conn {
	return s.incoming
}

// Errors returns asynchronous server errors.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Close stops accepting and closes all server channels.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()
		s.wg.Wait()
		close(s.incoming)
		close(s.errs)
	})
	return closeErr
}

// Run hands every authenticated connection to runner until ctx is cancelled,
// then closes the server and waits for running sessions to finish.
func (s *Server) Run(ctx context.Context, runner SessionRunner) error {
	var sessions sync.WaitGroup
	defer sessions.Wait()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	errs := s.errs
	for {
		select {
		case conn, ok := <-s.incoming:
			if !ok {
				return nil
			}
			sessions.Add(1)
			go func() {
				defer sessions.Done()
				s.runSession(ctx, runner, conn)
			}()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.log.WithField("error", err).Warn("tcp server error")
		}
	}
}

func (s *Server) runSession(ctx context.Context, runner SessionRunner, conn *Conn) {
	defer conn.Close()

	err := runner.Serve(ctx, conn.Identity(), conn, conn.Frames())
	if errors.Is(err, chat.ErrProtocolViolation) {
		s.recordSecurityEvent(conn.Identity(), storage.SecurityEventProtocolViolation, conn.RemoteAddr().String(), err)
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}

			s.reportError(fmt.Errorf("accept connection: %w", err))
			continue
		}

		s.wg.Add(1)
		go s.handleInboundConn(conn)
	}
}

func (s *Server) handleInboundConn(conn net.Conn) {
	defer s.wg.Done()

	closeConn := true
	defer func() {
		if closeConn {
			_ = conn.Close()
		}
	}()

	if err := conn.SetDeadline(time.Now().Add(s.options.ConnectionTimeout)); err != nil {
		s.reportError(fmt.Errorf("set handshake deadline: %w", err))
		return
	}

	payload, err := ReadFrameWithTimeout(conn, s.options.ConnectionTimeout)
	if err != nil {
		s.reportError(fmt.Errorf("read auth frame: %w", err))
		return
	}

	msgType, err := DecodeMessageType(payload)
	if err != nil || msgType != TypeAuth {
		_ = s.sendError(conn, apperr.CodeInvalidArgument, fmt.Sprintf("expected %q frame", TypeAuth))
		return
	}

	var request AuthRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		_ = s.sendError(conn, apperr.CodeInvalidArgument, "malformed auth frame")
		return
	}

	identity, err := s.options.Verifier.Verify(request.Token)
	if err != nil {
		s.recordSecurityEvent("", storage.SecurityEventAuthFailed, conn.RemoteAddr().String(), err)
		_ = s.sendError(conn, apperr.CodeUnauthenticated, "invalid token")
		return
	}

	okPayload, err := EncodeJSON(AuthOK{Type: TypeAuthOK, Identity: identity})
	if err != nil {
		s.reportError(err)
		return
	}
	if err := WriteFrame(conn, okPayload); err != nil {
		s.reportError(fmt.Errorf("write auth response: %w", err))
		return
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		s.reportError(fmt.Errorf("clear handshake deadline: %w", err))
		return
	}

	authenticated := newConn(conn, ConnectionOptions{
		Identity:          identity,
		KeepAliveInterval: s.options.KeepAliveInterval,
		KeepAliveTimeout:  s.options.KeepAliveTimeout,
		FrameReadTimeout:  s.options.FrameReadTimeout,
		AutoRespondPing:   true,
	})

	closeConn = false
	select {
	case s.incoming <- authenticated:
	case <-s.closed:
		_ = authenticated.Close()
	}
}

func (s *Server) sendError(conn net.Conn, code apperr.Code, message string) error {
	payload, err := json.Marshal(ErrorMessage{
		Type:      TypeError,
		Code:      string(code),
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return WriteFrame(conn, payload)
}

func (s *Server) recordSecurityEvent(identity, eventType, remote string, cause error) {
	s.log.WithFields(logrus.Fields{
		"identity": identity,
		"remote":   remote,
		"error":    cause,
	}).Warn(eventType)

	if s.options.Events == nil {
		return
	}
	details := map[string]string{
		"transport": "tcp",
		"remote":    remote,
		"reason":    cause.Error(),
	}
	if err := s.options.Events.RecordSecurityEvent(context.Background(), eventType, identity, details); err != nil {
		s.log.WithField("error", err).Error("record security event")
	}
}

func (s *Server) reportError(err error) {
	if err == nil {
		return
	}

	// Accept loop shutdown produces expected net.ErrClosed errors.
	if errors.Is(err, net.ErrClosed) {
		return
	}

	select {
	case s.errs <- err:
	default:
	}
}
