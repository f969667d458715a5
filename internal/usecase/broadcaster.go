package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is an invalidation signal pushed to subscribers on a ledger
// transition. Subscribers re-fetch the ledger on receipt; the payload is a
// hint, not authoritative state.
type Event struct {
	Type    string    `json:"type"` // received, placed, closed, rejected, error, ignored
	TradeID string    `json:"id"`
	Symbol  string    `json:"symbol,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

const defaultSubscriberBuffer = 16

// Broadcaster fans ledger events out to subscribers. Delivery is
// fire-and-forget with a bounded buffer per subscriber; under backpressure
// the oldest buffered event is dropped, since a newer hint supersedes it.
type Broadcaster struct {
	logger *zap.Logger
	buffer int

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

type Subscription struct {
	ch chan Event
}

// Events is the receive side of the subscription. Closed on Unsubscribe.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		logger: logger,
		buffer: defaultSubscriberBuffer,
		subs:   make(map[*Subscription]struct{}),
	}
}

func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// SubscriberCount reports the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Close drops all subscribers and closes their channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			// Buffer full: make room by dropping the oldest hint.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
			b.logger.Debug("subscriber lagging, dropped oldest event",
				zap.String("type", evt.Type), zap.String("trade_id", evt.TradeID))
		}
	}
}
