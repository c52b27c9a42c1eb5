package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
	"github.com/rcowellai/recording-app-sub000/internal/logger"
	"github.com/rcowellai/recording-app-sub000/internal/metrics"
)

// ChangeKind identifies the kind of out-of-band session change the watcher
// surfaces to the controller.
type ChangeKind string

const (
	ChangeRemoved              ChangeKind = "session-removed"
	ChangeExpired              ChangeKind = "session-expired"
	ChangeStatusExternalChange ChangeKind = "status-external-change"
)

// Change is one event delivered to a Watcher subscriber.
type Change struct {
	Kind   ChangeKind
	Status Status
}

// channelName derives the Redis pub/sub channel for a session. Publishers
// (the HTTP boundary, on every write) and this watcher must agree on it.
func channelName(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// Publisher is satisfied by *redis.Client; a minimal interface keeps the
// watcher and its publish-side caller independently testable.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// PublishChange notifies any subscribed watchers that sessionID changed.
// Callers invoke this after every successful write to the document store so
// other tabs' watchers see it without polling.
func PublishChange(ctx context.Context, pub Publisher, sessionID string) error {
	if err := pub.Publish(ctx, channelName(sessionID), "changed").Err(); err != nil {
		return apperror.Wrap(err, apperror.ErrInternal)
	}
	metrics.RecordWatcherEventPublished()
	return nil
}

// Watcher subscribes to a session's document and reacts to changes it did
// not itself write: removal, expiry, or a status flip written by another
// tab or the external platform.
type Watcher struct {
	redis      *redis.Client
	client     *Client
	pollPeriod time.Duration
}

// NewWatcher constructs a Watcher. pollPeriod governs the fallback poll
// loop that runs alongside pub/sub in case a notification is missed.
func NewWatcher(redisClient *redis.Client, client *Client, pollPeriod time.Duration) *Watcher {
	if pollPeriod <= 0 {
		pollPeriod = 5 * time.Second
	}
	return &Watcher{redis: redisClient, client: client, pollPeriod: pollPeriod}
}

// Watch subscribes to sessionID and emits a Change on out to the caller
// whenever it observes a removal, expiry, or an external status change
// relative to knownStatus. It runs until ctx is cancelled, the
// subscription closes, or it has delivered a removal, an expiry, or a
// change to a terminal status; the returned channel is closed then.
//
// The known-status baseline is supplied by the caller because only the
// controller knows which status it last wrote itself; any other observed
// status is "external" by definition.
func (w *Watcher) Watch(ctx context.Context, sessionID string, knownStatus Status) <-chan Change {
	out := make(chan Change, 1)
	log := logger.FromContext(ctx)

	go func() {
		defer close(out)

		sub := w.redis.Subscribe(ctx, channelName(sessionID))
		defer sub.Close()
		metrics.SetWatcherSubscribersActive(1)
		defer metrics.SetWatcherSubscribersActive(0)

		notify := sub.Channel()
		ticker := time.NewTicker(w.pollPeriod)
		defer ticker.Stop()

		current := knownStatus
		check := func() bool {
			sess, err := w.client.Load(ctx, sessionID)
			if err != nil {
				if apperror.Is(err, apperror.ErrSessionNotFound) {
					select {
					case out <- Change{Kind: ChangeRemoved}:
					case <-ctx.Done():
					}
					return true
				}
				log.Warn("watcher load failed", "session_id", sessionID, "error", err)
				return false
			}
			now := time.Now().UTC()
			if now.After(sess.ExpiresAt) {
				select {
				case out <- Change{Kind: ChangeExpired}:
				case <-ctx.Done():
				}
				return true
			}
			if sess.Status != current {
				select {
				case out <- Change{Kind: ChangeStatusExternalChange, Status: sess.Status}:
				case <-ctx.Done():
				}
				if sess.Status.Terminal() {
					return true
				}
				current = sess.Status
			}
			return false
		}

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notify:
				if !ok {
					return
				}
				if check() {
					return
				}
			case <-ticker.C:
				metrics.RecordWatcherFallbackPoll()
				if check() {
					return
				}
			}
		}
	}()

	return out
}
