package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/reviewstack/search-pipeline/pkg/logger"
)

// Subscriber holds one long-lived LISTEN connection to Postgres and enqueues
// an indexing job for every valid change notification. Malformed payloads are
// logged and dropped: losing one bad notification is preferable to halting
// the pipeline, because the relational store stays authoritative and a
// backfill repairs any drift.
type Subscriber struct {
	dsn     string
	channel string
	queue   Queue
	logger  *slog.Logger

	mu       sync.Mutex
	listener *pq.Listener
	stop     chan struct{}
	done     chan struct{}
}

// NewSubscriber creates a Subscriber for the given notification channel.
func NewSubscriber(dsn, channel string, queue Queue) *Subscriber {
	return &Subscriber{
		dsn:     dsn,
		channel: channel,
		queue:   queue,
		logger:  logger.WithComponent("change-subscriber").With("channel", channel),
	}
}

// Start opens the listening connection and begins enqueueing notifications.
// Calling Start on a running subscriber is a no-op.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	listener := pq.NewListener(s.dsn, 10*time.Second, time.Minute, func(event pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.Error("listener connection event", "event", int(event), "error", err)
		}
	})
	if err := listener.Listen(s.channel); err != nil {
		listener.Close()
		return fmt.Errorf("listening on channel %s: %w", s.channel, err)
	}

	s.listener = listener
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(ctx, listener, s.stop, s.done)

	s.logger.Info("subscribed to change notifications")
	return nil
}

// Stop unsubscribes and releases the connection. Calling Stop on a stopped
// subscriber is a no-op.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}

	close(s.stop)
	if err := s.listener.Unlisten(s.channel); err != nil && err != pq.ErrChannelNotOpen {
		s.logger.Warn("unlisten failed", "error", err)
	}
	if err := s.listener.Close(); err != nil {
		s.logger.Warn("closing listener failed", "error", err)
	}
	<-s.done

	s.listener = nil
	s.logger.Info("unsubscribed from change notifications")
	return nil
}

func (s *Subscriber) run(ctx context.Context, listener *pq.Listener, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case notification, ok := <-listener.Notify:
			if !ok {
				return
			}
			// A nil notification signals a re-established connection.
			if notification == nil {
				s.logger.Warn("listener reconnected; notifications may have been missed")
				continue
			}
			s.handleNotification(ctx, notification)
		case <-time.After(90 * time.Second):
			go func() {
				if err := listener.Ping(); err != nil {
					s.logger.Error("listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (s *Subscriber) handleNotification(ctx context.Context, notification *pq.Notification) {
	if notification.Channel != s.channel {
		return
	}
	if notification.Extra == "" {
		s.logger.Warn("received change notification without payload")
		return
	}

	event, err := ParseChangeNotification([]byte(notification.Extra))
	if err != nil {
		s.logger.Warn("dropping invalid change notification", "error", err)
		return
	}

	if err := s.queue.Enqueue(ctx, event); err != nil {
		s.logger.Error("failed to enqueue indexing event",
			"event_id", event.ID,
			"entity_id", event.EntityID,
			"error", err,
		)
	}
}
