package push

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 256
	DefaultTimeout   = 10 * time.Second
)

// TokenSource resolves the device token of an identity. An empty token means
// the identity has no device registered.
type TokenSource interface {
	PushToken(ctx context.Context, identity string) (string, error)
}

type job struct {
	recipient  string
	senderName string
	body       string
}

// Dispatcher queues notifications and sends them from a fixed worker pool.
// Notify never blocks: a full queue drops the notification.
type Dispatcher struct {
	sender  Sender
	tokens  TokenSource
	queue   chan job
	workers int
	timeout time.Duration
	log     *logrus.Entry

	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher; non-positive sizes and timeout fall back
// to the package defaults.
func NewDispatcher(sender Sender, tokens TokenSource, workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		sender:  sender,
		tokens:  tokens,
		queue:   make(chan job, queueSize),
		workers: workers,
		timeout: timeout,
		log:     logrus.WithField("component", "push"),
	}
}

// Notify enqueues a "new message" push for recipient.
func (d *Dispatcher) Notify(_ context.Context, recipient, senderName, body string) {
	select {
	case d.queue <- job{recipient: recipient, senderName: senderName, body: body}:
	default:
		d.dropped.Add(1)
		d.log.WithField("identity", recipient).Warn("push queue full, dropping notification")
	}
}

// Dropped returns how many notifications were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run sends queued notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-d.queue:
					d.deliver(ctx, j)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	log := d.log.WithField("identity", j.recipient)
	token, err := d.tokens.PushToken(ctx, j.recipient)
	if err != nil {
		log.WithField("error", err).Warn("push token lookup failed")
		return
	}
	if token == "" {
		log.Debug("no push token registered")
		return
	}

	err = d.sender.Send(ctx, Notification{
		Token: token,
		Title: "New message from " + j.senderName,
		Body:  j.body,
		Data:  map[string]string{"sender": j.senderName},
	})
	if err != nil {
		log.WithField("error", err).Warn("push send failed")
	}
}
