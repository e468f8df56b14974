package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens map[string]string

func (f fakeTokens) PushToken(_ context.Context, identity string) (string, error) {
	if identity == "broken" {
		return "", errors.New("lookup failed")
	}
	return f[identity], nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (s *recordingSender) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestDispatcherSendsToRegisteredTokens(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, fakeTokens{"rita": "tok-rita"}, 1, 8, time.Second)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Notify(ctx, "nobody", "Sam", "skipped")
	d.Notify(ctx, "broken", "Sam", "skipped")
	d.Notify(ctx, "rita", "Sam", "hi")

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, Notification{
		Token: "tok-rita",
		Title: "New message from Sam",
		Body:  "hi",
		Data:  map[string]string{"sender": "Sam"},
	}, sender.sent[0])
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	d := NewDispatcher(&recordingSender{}, fakeTokens{}, 1, 2, time.Second)

	for range 5 {
		d.Notify(t.Context(), "rita", "Sam", "hi")
	}
	assert.Equal(t, int64(3), d.Dropped())
}

func TestDispatcherSurvivesSendFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("unavailable")}
	d := NewDispatcher(sender, fakeTokens{"rita": "tok"}, 2, 4, time.Second)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	d.Notify(ctx, "rita", "Sam", "one")
	d.Notify(ctx, "rita", "Sam", "two")
	require.Eventually(t, func() bool { return sender.count() == 2 }, time.Second, 5*time.Millisecond)
}

type fakeMessaging struct {
	got *messaging.Message
	err error
}

func (f *fakeMessaging) Send(_ context.Context, message *messaging.Message) (string, error) {
	f.got = message
	return "projects/x/messages/1", f.err
}

func TestFCMSenderBuildsMessage(t *testing.T) {
	client := &fakeMessaging{}
	sender := newFCMSender(client)

	require.NoError(t, sender.Send(t.Context(), Notification{Token: "tok", Title: "New message from Sam", Body: "hi"}))
	require.NotNil(t, client.got)
	assert.Equal(t, "tok", client.got.Token)
	assert.Equal(t, "New message from Sam", client.got.Notification.Title)
	assert.Equal(t, "hi", client.got.Notification.Body)

	require.Error(t, sender.Send(t.Context(), Notification{}))

	client.err = errors.New("quota")
	require.Error(t, sender.Send(t.Context(), Notification{Token: "tok"}))

	_, err := NewFCMSender(t.Context(), "")
	require.Error(t, err)
}
