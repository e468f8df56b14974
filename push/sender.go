// Package push delivers best-effort notifications to recipients who are not
// connected.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// Notification is one push addressed to a device token.
type Notification struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Sender hands a notification to a push provider.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMSender sends through Firebase Cloud Messaging.
type FCMSender struct {
	client messagingClient
	log    *logrus.Entry
}

// NewFCMSender initializes a Firebase app from a service-account file.
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	if strings.TrimSpace(credentialsFile) == "" {
		return nil, errors.New("firebase credentials file is required")
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return newFCMSender(client), nil
}

func newFCMSender(client messagingClient) *FCMSender {
	return &FCMSender{client: client, log: logrus.WithField("component", "push")}
}

func (s *FCMSender) Send(ctx context.Context, n Notification) error {
	if n.Token == "" {
		return errors.New("push token is required")
	}
	id, err := s.client.Send(ctx, &messaging.Message{
		Token: n.Token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: n.Data,
	})
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	s.log.WithField("fcm_id", id).Debug("push sent")
	return nil
}

// LogSender only logs. It is used when no push provider is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, n Notification) error {
	logrus.WithFields(logrus.Fields{
		"component": "push",
		"title":     n.Title,
	}).Info("push notification (no provider configured)")
	return nil
}
