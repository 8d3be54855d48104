package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firewatch/dashboard/internal/logger"
	"github.com/firewatch/dashboard/internal/metrics"
	"github.com/firewatch/dashboard/internal/models"
)

// ChangeType is the kind of row change carried by the feed
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
)

// ChangeEvent is one alert row change
type ChangeEvent struct {
	Type      ChangeType          `json:"eventType"`
	Record    *models.AlertRecord `json:"record"`
	Timestamp time.Time           `json:"timestamp"`
	Origin    Origin              `json:"-"`
}

// ChangeObserver receives change events in publish order
type ChangeObserver interface {
	OnChange(ctx context.Context, event *ChangeEvent) error
}

// ObserverFunc adapts a function to ChangeObserver
type ObserverFunc func(ctx context.Context, event *ChangeEvent) error

func (f ObserverFunc) OnChange(ctx context.Context, event *ChangeEvent) error {
	return f(ctx, event)
}

// Resyncer is implemented by observers that can rebuild their state from
// the store after the bus dropped events for them
type Resyncer interface {
	Resync(ctx context.Context) error
}

// Origin tells where a change event was observed
type Origin string

const (
	OriginLocal    Origin = ""
	OriginListener Origin = "listener"
)

const (
	subscriptionBuffer = 256
	observerTimeout    = 5 * time.Second
)

// Subscription is a live registration on the bus
type Subscription struct {
	bus      *EventBus
	id       uint64
	observer ChangeObserver
	events   chan *ChangeEvent
	wake     chan struct{}
	stale    atomic.Bool
	done     chan struct{}
	once     sync.Once
}

// Cancel stops delivery. Events still buffered are discarded.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s.id)
		close(s.done)
	})
}

// Done is closed once the subscription is cancelled
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) run(ctx context.Context) {
	defer s.bus.wg.Done()
	for {
		select {
		case event := <-s.events:
			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(ctx, event)
			s.resyncIfDrained(ctx)
		case <-s.wake:
			s.resyncIfDrained(ctx)
		case <-s.done:
			return
		}
	}
}

// markStale records that an event was dropped for this subscription
func (s *Subscription) markStale() {
	s.stale.Store(true)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// resyncIfDrained lets a stale observer rebuild once its queue is empty,
// so no older queued event lands on top of the rebuilt state
func (s *Subscription) resyncIfDrained(ctx context.Context) {
	if len(s.events) > 0 || !s.stale.CompareAndSwap(true, false) {
		return
	}
	resyncer, ok := s.observer.(Resyncer)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, observerTimeout)
	defer cancel()

	logger.Warn().Uint64("subscription", s.id).Msg("Subscriber missed change events, resyncing")
	if err := resyncer.Resync(ctx); err != nil {
		logger.Error().Err(err).Uint64("subscription", s.id).Msg("Observer resync failed")
		// retried after the next delivered event
		s.stale.Store(true)
	}
}

func (s *Subscription) deliver(ctx context.Context, event *ChangeEvent) {
	ctx, cancel := context.WithTimeout(ctx, observerTimeout)
	defer cancel()

	if err := s.observer.OnChange(ctx, event); err != nil {
		logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("Observer notification failed")
	}
}

// EventBus fans alert change events out to subscribers. Each subscription
// has its own buffered queue and goroutine, so one slow observer does not
// hold up the others and every observer sees events in publish order.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	ctx     context.Context
	stopped bool
	wg      sync.WaitGroup
}

func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[uint64]*Subscription),
		ctx:  context.Background(),
	}
}

// Start binds observer calls to ctx and stops the bus when ctx ends
func (eb *EventBus) Start(ctx context.Context) {
	logger.Info().Msg("Starting alert change feed")

	eb.mu.Lock()
	eb.ctx = ctx
	eb.mu.Unlock()

	go func() {
		<-ctx.Done()
		eb.Stop()
	}()
}

// Subscribe registers an observer. Delivery starts immediately.
func (eb *EventBus) Subscribe(observer ChangeObserver) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	sub := &Subscription{
		bus:      eb,
		id:       eb.nextID,
		observer: observer,
		events:   make(chan *ChangeEvent, subscriptionBuffer),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if eb.stopped {
		close(sub.done)
		sub.once.Do(func() {})
		return sub
	}

	eb.subs[sub.id] = sub
	eb.wg.Add(1)
	go sub.run(eb.ctx)

	logger.Debug().Uint64("subscription", sub.id).Msg("Observer subscribed to change feed")
	return sub
}

// Publish queues the event for every subscriber. A subscriber whose queue
// is full misses the event and is marked stale; observers implementing
// Resyncer rebuild from the store once they catch up.
func (eb *EventBus) Publish(event *ChangeEvent) {
	if event == nil || event.Record == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, sub := range eb.subs {
		select {
		case sub.events <- event:
		default:
			sub.markStale()
			metrics.IncDroppedEvent()
			logger.Warn().Uint64("subscription", id).Msg("Subscriber queue full, dropping change event")
		}
	}
}

// SubscriberCount returns the number of live subscriptions
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}

func (eb *EventBus) remove(id uint64) {
	eb.mu.Lock()
	delete(eb.subs, id)
	eb.mu.Unlock()
}

// Stop cancels every subscription and waits for in-flight deliveries
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	subs := make([]*Subscription, 0, len(eb.subs))
	for _, sub := range eb.subs {
		subs = append(subs, sub)
	}
	eb.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	eb.wg.Wait()
}
