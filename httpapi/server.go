// Package httpapi exposes the WebSocket gateway and the REST query surface.
package httpapi

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"chitchat/auth"
	"chitchat/chat"
	"chitchat/storage"
)

const (
	DefaultHistoryLimit    = 50
	DefaultHistoryMaxLimit = 200
	DefaultSendBuffer      = 64
)

// Store is the slice of storage the HTTP surface reads and writes.
type Store interface {
	GetHistory(ctx context.Context, a, b string, limit int, beforeID string) ([]storage.Message, error)
	ConversationSnapshot(ctx context.Context, ownerID, friendID string) (storage.ConversationSnapshot, error)
	DeleteConversation(ctx context.Context, a, b string) (int64, error)
	UpsertUser(ctx context.Context, user storage.User) error
	EnsureUser(ctx context.Context, identity string) error
	GetUser(ctx context.Context, identity string) (*storage.User, error)
	AddFriendship(ctx context.Context, a, b string) error
	RemoveFriendship(ctx context.Context, a, b string) (bool, error)
	FriendsOf(ctx context.Context, identity string) ([]string, error)
	RecordSecurityEvent(ctx context.Context, eventType, identity string, details map[string]string) error
}

// Options tunes paging and connection buffering.
type Options struct {
	HistoryDefaultLimit int
	HistoryMaxLimit     int
	SendBuffer          int
}

func (o Options) withDefaults() Options {
	out := o
	if out.HistoryMaxLimit <= 0 {
		out.HistoryMaxLimit = DefaultHistoryMaxLimit
	}
	if out.HistoryDefaultLimit <= 0 {
		out.HistoryDefaultLimit = DefaultHistoryLimit
	}
	if out.HistoryDefaultLimit > out.HistoryMaxLimit {
		out.HistoryDefaultLimit = out.HistoryMaxLimit
	}
	if out.SendBuffer <= 0 {
		out.SendBuffer = DefaultSendBuffer
	}
	return out
}

// Server owns the fiber app.
type Server struct {
	app      *fiber.App
	chat     *chat.Service
	store    Store
	verifier auth.Verifier
	options  Options
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the fiber app with every route registered.
func New(service *chat.Service, store Store, verifier auth.Verifier, options Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		chat:     service,
		store:    store,
		verifier: verifier,
		options:  options.withDefaults(),
		log:      logrus.WithField("component", "http"),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "chitchat",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.healthHandler)

	s.app.Get("/ws/:identity", s.upgradeWS, websocket.New(s.serveWS))

	chatGroup := s.app.Group("/chat", s.requireAuth)
	chatGroup.Get("/summary", s.summaryHandler)
	chatGroup.Get("/history/:user/:friend", s.requireParticipant, s.historyHandler)
	chatGroup.Get("/last_message/:user/:friend", s.requireParticipant, s.lastMessageHandler)
	chatGroup.Post("/reset_unread/:user/:friend", s.requireParticipant, s.resetUnreadHandler)
	chatGroup.Delete("/delete_chat/:user/:friend", s.requireParticipant, s.deleteChatHandler)

	profile := s.app.Group("/profile", s.requireAuth)
	profile.Put("/me", s.updateProfileHandler)
	profile.Get("/me", s.getProfileHandler)
	profile.Get("/online_status/:user", s.onlineStatusHandler)

	friends := s.app.Group("/friends", s.requireAuth)
	friends.Get("/", s.listFriendsHandler)
	friends.Post("/:friend", s.addFriendHandler)
	friends.Delete("/:friend", s.removeFriendHandler)
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves HTTP on address until Shutdown.
func (s *Server) Listen(address string) error {
	s.log.WithField("address", address).Info("http listening")
	return s.app.Listen(address)
}

// Shutdown ends live WebSocket sessions and stops the listener.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.cancel()
	return s.app.ShutdownWithTimeout(timeout)
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"online": s.chat.Registry().Presence().Count(),
	})
}
