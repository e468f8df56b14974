package httpapi

import (
	"errors"
	"iter"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"chitchat/apperr"
	"chitchat/chat"
	"chitchat/storage"
)

var (
	errChannelClosed  = errors.New("httpapi: websocket closed")
	errSendBufferFull = errors.New("httpapi: send buffer full")
)

// wsConn is the part of *websocket.Conn the channel uses.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// wsChannel adapts a WebSocket to chat.Channel. A single write pump owns the
// socket's write side; Send only enqueues.
type wsChannel struct {
	conn wsConn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSChannel(conn wsConn, buffer int) *wsChannel {
	return &wsChannel{
		conn:   conn,
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
}

func (c *wsChannel) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errChannelClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return errChannelClosed
	default:
		return errSendBufferFull
	}
}

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
	return nil
}

func (c *wsChannel) writePump() {
	for {
		select {
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Frames yields inbound messages until the socket fails or closes.
func (c *wsChannel) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			_, payload, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			if !yield(payload) {
				return
			}
		}
	}
}

// upgradeWS authenticates before the upgrade: the token subject must equal the
// path identity, otherwise the connection is refused and nothing is admitted.
func (s *Server) upgradeWS(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	claimed := c.Params("identity")
	identity, err := s.verifier.Verify(c.Query("token"))
	if err == nil && identity != claimed {
		err = errors.New("token subject does not match path identity")
	}
	if err != nil {
		s.recordAuthFailure(claimed, c.IP(), err)
		return apperr.Unauthorized("invalid token")
	}

	c.Locals(localIdentity, identity)
	return c.Next()
}

func (s *Server) serveWS(conn *websocket.Conn) {
	identity, _ := conn.Locals(localIdentity).(string)
	channel := newWSChannel(conn, s.options.SendBuffer)
	go channel.writePump()
	defer channel.Close()

	err := s.chat.Serve(s.ctx, identity, channel, channel.Frames())
	if errors.Is(err, chat.ErrProtocolViolation) {
		s.log.WithFields(logrus.Fields{
			"identity": identity,
			"error":    err,
		}).Warn("closing websocket after protocol violation")
		s.logSecurityEvent(storage.SecurityEventProtocolViolation, identity, map[string]string{
			"transport": "ws",
			"reason":    err.Error(),
		})
	}
}

func (s *Server) recordAuthFailure(claimed, remote string, cause error) {
	s.log.WithFields(logrus.Fields{
		"identity": claimed,
		"remote":   remote,
		"error":    cause,
	}).Warn("websocket auth failed")
	s.logSecurityEvent(storage.SecurityEventAuthFailed, claimed, map[string]string{
		"transport": "ws",
		"remote":    remote,
		"reason":    cause.Error(),
	})
}

func (s *Server) logSecurityEvent(eventType, identity string, details map[string]string) {
	if err := s.store.RecordSecurityEvent(s.ctx, eventType, identity, details); err != nil {
		s.log.WithField("error", err).Error("record security event")
	}
}
