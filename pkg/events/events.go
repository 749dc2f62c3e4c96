package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ram-shortage/BRindeX/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventVolumeMounted     EventType = "volume.mounted"
	EventVolumeUnmounted   EventType = "volume.unmounted"
	EventVolumeState       EventType = "volume.state"
	EventVolumeSwapped     EventType = "volume.swapped"
	EventVolumeDemoted     EventType = "volume.demoted"
	EventJournalWrap       EventType = "journal.wrap"
	EventJournalRecreate   EventType = "journal.recreate"
	EventBuildCompleted    EventType = "build.completed"
	EventReconcileComplete EventType = "reconcile.completed"
)

// Event represents a volume lifecycle event
type Event struct {
	Type      EventType
	Timestamp time.Time
	VolumeID  string
	Mount     string
	State     types.VolumeState
	Message   string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// subscription scopes what a subscriber observes: all volumes, or one
type subscription struct {
	// volumeID filters delivery when non-empty
	volumeID string
}

// Broker distributes volume lifecycle events. Delivery is best-effort:
// every consumer can re-read authoritative state from the store, so a
// slow subscriber loses events rather than stalling state transitions.
// Losses are counted, not silent.
type Broker struct {
	subscribers map[Subscriber]subscription
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	dropped     atomic.Int64
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]subscription),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe returns a channel receiving every volume's events
func (b *Broker) Subscribe() Subscriber {
	return b.subscribe(subscription{})
}

// SubscribeVolume returns a channel receiving only one volume's events,
// for consumers following a single mount (a status pane, a test)
func (b *Broker) SubscribeVolume(volumeID string) Subscriber {
	return b.subscribe(subscription{volumeID: volumeID})
}

func (b *Broker) subscribe(scope subscription) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = scope
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to matching subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		// Distribution loop saturated; state is recoverable from the
		// store
		b.dropped.Add(1)
	}
}

// Dropped reports how many events were lost to full buffers since the
// broker started
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, scope := range b.subscribers {
		if scope.volumeID != "" && scope.volumeID != event.VolumeID {
			continue
		}
		select {
		case sub <- event:
		default:
			// Subscriber buffer full
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
