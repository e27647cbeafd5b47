package identity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Unsubscribe detaches a subscriber. Calling it more than once is a no-op.
type Unsubscribe func()

// ObserverOption configures an Observer.
type ObserverOption func(*Observer)

// WithObserverLogger sets the logger used for subscriber failures.
func WithObserverLogger(logger Logger) ObserverOption {
	return func(o *Observer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserverActivitySink publishes a session change event for every
// provider callback.
func WithObserverActivitySink(sink ActivitySink) ObserverOption {
	return func(o *Observer) {
		o.activitySink = normalizeActivitySink(sink)
	}
}

// WithObserverClock injects a custom clock (useful for tests).
func WithObserverClock(clock func() time.Time) ObserverOption {
	return func(o *Observer) {
		if clock != nil {
			o.now = clock
		}
	}
}

type subscriber struct {
	id     uuid.UUID
	fn     func(Session)
	active atomic.Bool
}

// Observer turns the provider session subscription into one session stream.
// It registers with the provider at most once and fans every callback out
// to its subscribers, in provider order.
//
// Subscriber callbacks run synchronously, one delivery at a time. They may
// call Snapshot, Subscribe, an Unsubscribe func or any Gateway operation.
// Changes caused from inside a callback are queued and delivered after the
// current delivery completes, in the order they happened.
type Observer struct {
	client       ProviderClient
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time

	mu         sync.Mutex
	current    Session
	subs       []*subscriber
	queue      []delivery
	delivering bool
	attached   bool
	closed     bool
	detach     func()
}

// delivery is a queued session, with its targets fixed at enqueue time.
type delivery struct {
	session  Session
	previous Session
	targets  []*subscriber
	change   bool
}

// NewObserver returns an Observer in the Unknown state. The provider
// subscription is attached by Start or by the first Subscribe.
func NewObserver(client ProviderClient, opts ...ObserverOption) (*Observer, error) {
	if client == nil {
		return nil, ErrClientUnavailable
	}

	o := &Observer{
		client:       client,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
		current:      UnknownSession(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	return o, nil
}

// Start attaches the provider subscription if it is not attached yet.
func (o *Observer) Start() {
	o.attach()
}

// Snapshot returns the latest session reported by the provider. Once the
// queue is drained it equals the last delivered session.
func (o *Observer) Snapshot() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Subscribe registers fn. fn receives the current snapshot before any later
// change, then every change until the returned Unsubscribe is called. When
// called from inside a callback the first snapshot is queued behind the
// delivery in progress.
func (o *Observer) Subscribe(fn func(Session)) Unsubscribe {
	if fn == nil {
		return func() {}
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.logger.Warn("session observer closed, ignoring subscription")
		return func() {}
	}
	sub := &subscriber{id: uuid.New(), fn: fn}
	sub.active.Store(true)
	o.subs = append(o.subs, sub)
	o.queue = append(o.queue, delivery{session: o.current, targets: []*subscriber{sub}})
	o.drainLocked()

	// providers may call back synchronously from attach
	o.attach()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			o.remove(sub.id)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (o *Observer) Subscribers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}

// Close detaches the provider subscription and drops every subscriber. It
// is idempotent.
func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.queue = nil
	detach := o.detach
	o.detach = nil
	for _, s := range o.subs {
		s.active.Store(false)
	}
	o.subs = nil
	o.mu.Unlock()

	if detach != nil {
		detach()
	}
}

func (o *Observer) attach() {
	o.mu.Lock()
	if o.attached || o.closed {
		o.mu.Unlock()
		return
	}
	o.attached = true
	o.mu.Unlock()

	detach := o.client.SubscribeSessionChanges(o.handle)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		if detach != nil {
			detach()
		}
		return
	}
	o.detach = detach
	o.mu.Unlock()
}

func (o *Observer) handle(user *User) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	previous := o.current
	next := sessionFromUser(user)
	o.current = next
	targets := make([]*subscriber, len(o.subs))
	copy(targets, o.subs)
	o.queue = append(o.queue, delivery{
		session:  next,
		previous: previous,
		targets:  targets,
		change:   true,
	})
	o.drainLocked()
}

// drainLocked delivers queued sessions until the queue is empty. It must be
// called with mu held and releases it. If a delivery is already running, on
// this goroutine or another, the queued item is left for that drainer.
func (o *Observer) drainLocked() {
	if o.delivering {
		o.mu.Unlock()
		return
	}
	o.delivering = true

	for len(o.queue) > 0 {
		next := o.queue[0]
		o.queue = o.queue[1:]
		o.mu.Unlock()

		for _, s := range next.targets {
			o.deliver(s, next.session)
		}
		if next.change {
			o.recordChange(next.previous, next.session)
		}

		o.mu.Lock()
	}

	o.delivering = false
	o.mu.Unlock()
}

func (o *Observer) deliver(s *subscriber, session Session) {
	if !s.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("session subscriber panicked",
				"subscriber", s.id.String(),
				"session", session.String(),
				"panic", fmt.Sprint(r),
			)
		}
	}()
	s.fn(session)
}

func (o *Observer) remove(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, s := range o.subs {
		if s.id == id {
			o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
			return
		}
	}
}

func (o *Observer) recordChange(previous, next Session) {
	event := ActivityEvent{
		EventType:  ActivityEventSessionChanged,
		UserID:     next.UserID(),
		OccurredAt: o.now(),
		Metadata: map[string]any{
			"from": previous.Kind().String(),
			"to":   next.Kind().String(),
		},
	}
	if previous.UserID() != "" {
		event.Metadata["previous_user_id"] = previous.UserID()
	}

	sink := normalizeActivitySink(o.activitySink)
	if err := sink.Record(context.Background(), event); err != nil {
		o.logger.Warn("session observer activity sink error", "error", err)
	}
}
