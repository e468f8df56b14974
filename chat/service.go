package chat

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Service wires the delivery engine, read-receipt processor, summary
// aggregator and typing relay around one Registry.
type Service struct {
	registry *Registry
	store    MessageStore
	graph    SocialGraph
	notifier Notifier
	now      func() time.Time
	log      *logrus.Entry
}

// NewService wires the delivery core to its registry and collaborators. A nil
// notifier disables push.
func NewService(registry *Registry, store MessageStore, graph SocialGraph, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		registry: registry,
		store:    store,
		graph:    graph,
		notifier: notifier,
		now:      time.Now,
		log:      logrus.WithField("component", "chat"),
	}
}

// Registry returns the registry sessions are admitted into.
func (s *Service) Registry() *Registry {
	return s.registry
}

// send encodes frame and writes it to identity if connected.
func (s *Service) send(identity string, frame any) bool {
	payload, err := EncodeFrame(frame)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"identity": identity,
			"error":    err,
		}).Error("encode outbound frame")
		return false
	}
	return s.registry.SendTo(identity, payload)
}

func (s *Service) nowMilli() int64 {
	return s.now().UnixMilli()
}
