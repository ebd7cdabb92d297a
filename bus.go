package tandem

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// defaultMaxPending caps queued observability events per subscriber.
const defaultMaxPending = 1024

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// BusLogger sets the structured logger for dropped-event warnings.
func BusLogger(l *slog.Logger) BusOption {
	return func(b *EventBus) { b.logger = l }
}

// BusMaxPending sets how many observability events (status and tool
// activity) may queue per subscriber before new ones are dropped.
// Terminal events are not counted and never dropped.
func BusMaxPending(n int) BusOption {
	return func(b *EventBus) { b.maxPending = n }
}

// EventBus is a broadcast topic for ProcessEvents. Every subscriber receives
// every event published after it subscribed, in publish order. Publish never
// blocks: each subscriber owns a queue drained by its own goroutine.
// All methods are safe for concurrent use.
type EventBus struct {
	mu         sync.Mutex
	subs       map[*Subscription]struct{}
	closed     bool
	maxPending int
	logger     *slog.Logger
}

// NewEventBus creates an empty bus.
func NewEventBus(opts ...BusOption) *EventBus {
	b := &EventBus{
		subs:       make(map[*Subscription]struct{}),
		maxPending: defaultMaxPending,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = nopLogger
	}
	if b.maxPending <= 0 {
		b.maxPending = defaultMaxPending
	}
	return b
}

// Publish delivers ev to all current subscribers. Publishing on a closed bus
// is a no-op.
func (b *EventBus) Publish(ev ProcessEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if !s.push(ev) {
			b.logger.Warn("event dropped for slow subscriber",
				"kind", eventKind(ev),
				"dropped_total", s.dropped.Load())
		}
	}
}

// Subscribe registers a new subscriber. On a closed bus the returned
// subscription's Events channel is already closed.
func (b *EventBus) Subscribe() *Subscription {
	s := &Subscription{
		bus:        b,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		out:        make(chan ProcessEvent),
		maxPending: b.maxPending,
	}
	b.mu.Lock()
	if b.closed {
		s.ending = true
	} else {
		b.subs[s] = struct{}{}
	}
	b.mu.Unlock()
	go s.pump()
	return s
}

// Subscribers returns the number of attached subscriptions.
func (b *EventBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops accepting events. Each subscription delivers what it already
// queued and then closes its Events channel.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.finish()
	}
	b.subs = nil
}

func (b *EventBus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Subscription is one subscriber's view of an EventBus.
type Subscription struct {
	bus *EventBus

	mu         sync.Mutex
	queue      []ProcessEvent
	pending    int // queued observability events
	maxPending int
	ending     bool // bus closed: drain then close out

	wake      chan struct{}
	done      chan struct{}
	out       chan ProcessEvent
	closeOnce sync.Once
	dropped   atomic.Int64
}

// Events returns the channel of delivered events. It is closed after the bus
// is closed and the queue is drained, or after Close.
func (s *Subscription) Events() <-chan ProcessEvent { return s.out }

// Dropped returns how many observability events were discarded because this
// subscriber fell behind.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close detaches the subscription and discards anything still queued.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.bus.remove(s)
	})
}

// push enqueues ev. It reports false when ev was dropped.
func (s *Subscription) push(ev ProcessEvent) bool {
	terminal := isTerminalEvent(ev)
	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return true
	}
	if !terminal && s.pending >= s.maxPending {
		s.mu.Unlock()
		s.dropped.Add(1)
		return false
	}
	if !terminal {
		s.pending++
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *Subscription) finish() {
	s.mu.Lock()
	s.ending = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			ending := s.ending
			s.mu.Unlock()
			if ending {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		if !isTerminalEvent(ev) {
			s.pending--
		}
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
