// ABOUTME: In-memory fan-out of turn progress and chat changes to subscribers
// ABOUTME: Publishes notifications to every subscriber of a chat ID without blocking

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/client"
	"github.com/2389/coven-chat/internal/turn"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// NotificationKind says which field of a Notification is set.
type NotificationKind int

const (
	// NotifyStarted carries the IDs assigned when a reply stream starts.
	NotifyStarted NotificationKind = iota
	// NotifySnapshot carries a batched view of the assistant message.
	NotifySnapshot
	// NotifyTitleChanged carries a newly generated chat title.
	NotifyTitleChanged
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyStarted:
		return "started"
	case NotifySnapshot:
		return "snapshot"
	case NotifyTitleChanged:
		return "title_changed"
	default:
		return "unknown"
	}
}

// Notification is one change to a chat.
type Notification struct {
	Kind      NotificationKind
	ChatID    string
	Start     client.StartInfo
	Moderated bool
	Snapshot  turn.Snapshot
	Title     string
}

// Broadcaster provides in-memory pub/sub of notifications keyed by chat ID.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Notification // chatID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Notification),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for notifications on chatID. It returns the channel
// and a subscription ID for Unsubscribe. The subscription is removed when
// ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, chatID string) (<-chan Notification, string) {
	subID := uuid.New().String()
	ch := make(chan Notification, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[chatID]; !ok {
		b.subscribers[chatID] = make(map[string]chan Notification)
	}
	b.subscribers[chatID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "chat_id", chatID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(chatID, subID)
	}()

	return ch, subID
}

// Publish sends n to every subscriber of chatID except excludeSubID.
// Notifications are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(chatID string, n Notification, excludeSubID string) {
	n.ChatID = chatID

	// sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; they never block
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers[chatID] {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		select {
		case ch <- n:
		default:
			b.logger.Debug("dropped notification for slow subscriber",
				"chat_id", chatID,
				"sub_id", id,
				"kind", n.Kind.String())
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(chatID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[chatID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, chatID)
	}

	b.logger.Debug("subscriber removed", "chat_id", chatID, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions on chatID.
func (b *Broadcaster) SubscriberCount(chatID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[chatID])
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for chatID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, chatID)
	}

	b.logger.Debug("broadcaster closed")
}
