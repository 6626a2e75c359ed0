// Package bus distributes registration-layer announcements to every
// interested local consumer: the monitoring aggregator, the local
// publisher/subscriber matcher, and the local service client/server
// matcher (spec.md §4.5(a)(b)(c)).
package bus

import (
	"sync"
	"time"

	"github.com/cuemby/fabric/pkg/model"
)

// Kind distinguishes what an Announcement carries and whether it is a
// fresh/refreshed entry or an expiry.
type Kind string

const (
	KindTopicUpdated   Kind = "topic.updated"
	KindTopicExpired   Kind = "topic.expired"
	KindProcessUpdated Kind = "process.updated"
	KindProcessExpired Kind = "process.expired"
	KindServiceUpdated Kind = "service.updated"
	KindServiceExpired Kind = "service.expired"
)

// Announcement carries a single registration-layer event. Exactly one of
// Topic, Process, or Service is set, matching Kind.
type Announcement struct {
	Kind      Kind
	Topic     *model.TopicEntry
	Process   *model.ProcessEntry
	Service   *model.ServiceEntry
	Timestamp time.Time
}

// Subscriber is a channel that receives announcements.
type Subscriber chan *Announcement

// Bus manages announcement subscriptions and distribution. Publish never
// blocks the registration receiver's hot path: a full subscriber buffer
// silently drops the announcement rather than stalling delivery to the
// others, matching the at-least-one-refresh-interval tolerance the
// registration layer already builds into expiry.
type Bus struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	announceCh  chan *Announcement
	stopCh      chan struct{}
}

// New creates a new announcement bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[Subscriber]bool),
		announceCh:  make(chan *Announcement, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the bus's distribution loop.
func (b *Bus) Start() {
	go b.run()
}

// Stop stops the bus.
func (b *Bus) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns its channel.
func (b *Bus) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish distributes an announcement to all subscribers.
func (b *Bus) Publish(a *Announcement) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	select {
	case b.announceCh <- a:
	case <-b.stopCh:
	}
}

func (b *Bus) run() {
	for {
		select {
		case a := <-b.announceCh:
			b.broadcast(a)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) broadcast(a *Announcement) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- a:
		default:
			// subscriber buffer full, drop for this subscriber only
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
