// Package channel implements the Event Channel (§4.1): an in-process
// pub/sub bus over the event.Event union with filtered subscriptions by
// process id, node id, and/or event kind.
//
// Each subscriber owns a bounded, buffered channel; Publish never blocks on
// a slow subscriber, instead dropping the oldest queued event to make room
// for the newest one. Subscriptions filter by (process id, node id, kind),
// each left zero to match any value, with convenience wrappers for the
// common single-kind cases (OnComplete/OnError/OnLog/OnEvent).
package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/actflow/actflow/model/event"
)

// Filter selects which published events a Subscription receives. An empty
// ProcessID/NodeID or a nil/empty Kinds matches anything on that axis.
type Filter struct {
	ProcessID string
	NodeID    string
	Kinds     []event.Kind
}

func (f Filter) matches(e *event.Event) bool {
	if f.ProcessID != "" && f.ProcessID != "*" && f.ProcessID != e.ProcessID {
		return false
	}
	if f.NodeID != "" && f.NodeID != "*" && f.NodeID != e.NodeID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == e.Kind {
			return true
		}
	}
	return false
}

// Config configures the Service. QueueSize is the bound on each
// Subscription's internal queue (default 1024 per §4.1).
type Config struct {
	QueueSize int
}

// DefaultConfig returns the default per-subscriber queue size.
func DefaultConfig() Config {
	return Config{QueueSize: 1024}
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithConfig overrides the default Config.
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// Subscription is a single registered filter plus its delivery queue.
type Subscription struct {
	id     uint64
	filter Filter
	ch     chan *event.Event

	mu      sync.Mutex
	dropped uint64
	closed  bool
}

// Events returns the channel events matching this subscription's Filter are
// delivered on. It is closed when the Subscription is cancelled or the
// owning Service is shut down.
func (s *Subscription) Events() <-chan *event.Event { return s.ch }

// Dropped returns how many events were evicted from this subscription's
// queue because it fell behind (§4.1 dropped-subscriber policy).
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) deliver(e *event.Event) (dropped bool, count uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, 0
	}
	select {
	case s.ch <- e:
		return false, 0
	default:
	}
	// Queue full: drop the oldest entry to make room, per §4.1.
	select {
	case <-s.ch:
		s.dropped++
	default:
	}
	select {
	case s.ch <- e:
	default:
	}
	return true, s.dropped
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Service is the Event Channel: a many-producer, many-consumer bus that
// fans published events out to every matching Subscription.
type Service struct {
	cfg Config

	mu        sync.RWMutex
	subs      map[uint64]*Subscription
	nextSubID uint64
	closed    bool

	seqMu sync.Mutex
	seq   map[string]*uint64

	wg sync.WaitGroup
}

// New constructs a Service. It is created alongside the Engine and started
// by Engine.Launch per §4.1 lifecycle; there is no separate Start step
// because a Service has no background loop of its own until a convenience
// wrapper or explicit Subscribe call registers one.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:  DefaultConfig(),
		subs: make(map[uint64]*Subscription),
		seq:  make(map[string]*uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.QueueSize <= 0 {
		s.cfg.QueueSize = DefaultConfig().QueueSize
	}
	return s
}

// Subscribe registers filter and returns the Subscription to read events
// from. Callers must eventually call Unsubscribe or drain until the Service
// is shut down.
func (s *Service) Subscribe(filter Filter) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	sub := &Subscription{
		id:     s.nextSubID,
		filter: filter,
		ch:     make(chan *event.Event, s.cfg.QueueSize),
	}
	s.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes and closes sub's delivery queue.
func (s *Service) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
	sub.close()
}

// Publish assigns the next per-process sequence number to e and fans it out
// to every matching subscription without blocking on slow subscribers. It
// returns an error once the Service has been shut down, per §4.1 "new
// publishes rejected with an error".
func (s *Service) Publish(ctx context.Context, e *event.Event) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return fmt.Errorf("channel: publish rejected, service is shut down")
	}

	e.Seq = s.nextSeq(e.ProcessID)

	s.mu.RLock()
	matching := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.filter.matches(e) {
			matching = append(matching, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range matching {
		if dropped, count := sub.deliver(e); dropped {
			s.logDropWarning(sub, count)
		}
	}
	return nil
}

func (s *Service) nextSeq(processID string) uint64 {
	s.seqMu.Lock()
	counter, ok := s.seq[processID]
	if !ok {
		var zero uint64
		counter = &zero
		s.seq[processID] = counter
	}
	s.seqMu.Unlock()
	return atomic.AddUint64(counter, 1)
}

// logDropWarning emits a Log{level=warn} event noting the drop, delivered
// to every OTHER matching subscriber (best-effort — if this too cannot be
// delivered it is simply dropped rather than recursing further).
func (s *Service) logDropWarning(sub *Subscription, count uint64) {
	warn := event.New(event.KindLog, sub.filter.ProcessID, sub.filter.NodeID)
	warn.Level = event.LevelWarn
	warn.Message = fmt.Sprintf("subscriber fell behind, dropped %d event(s)", count)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	warn.Seq = s.nextSeq(warn.ProcessID)
	for _, other := range s.subs {
		if other == sub {
			continue
		}
		if other.filter.matches(warn) {
			other.deliver(warn)
		}
	}
}

// OnComplete registers a callback invoked once per matching process that
// reaches ProcessCompleted. The callback runs on a channel-owned goroutine;
// per §4.1 it must not block indefinitely.
func (s *Service) OnComplete(filter Filter, cb func(processID string)) *Subscription {
	filter.Kinds = []event.Kind{event.KindProcessCompleted}
	return s.listen(filter, func(e *event.Event) { cb(e.ProcessID) })
}

// OnError registers a callback invoked for every ProcessFailed/NodeFailed
// event matching filter.
func (s *Service) OnError(filter Filter, cb func(e *event.Event)) *Subscription {
	filter.Kinds = []event.Kind{event.KindProcessFailed, event.KindNodeFailed}
	return s.listen(filter, cb)
}

// OnLog registers a callback invoked for every Log event matching filter.
func (s *Service) OnLog(filter Filter, cb func(e *event.Event)) *Subscription {
	filter.Kinds = []event.Kind{event.KindLog}
	return s.listen(filter, cb)
}

// OnEvent registers a callback invoked for every event matching filter,
// regardless of kind.
func (s *Service) OnEvent(filter Filter, cb func(e *event.Event)) *Subscription {
	return s.listen(filter, cb)
}

// listen subscribes and spawns the goroutine that drains the subscription
// into cb, isolating panics per §7 ("Channel subscriber callback panics are
// isolated: the callback's subscription is terminated and a
// Log{level=error} emitted; other subscribers are unaffected").
func (s *Service) listen(filter Filter, cb func(e *event.Event)) *Subscription {
	sub := s.Subscribe(filter)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for e := range sub.Events() {
			s.runCallback(sub, cb, e)
		}
	}()
	return sub
}

func (s *Service) runCallback(sub *Subscription, cb func(*event.Event), e *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.Unsubscribe(sub)
			errEvt := event.New(event.KindLog, e.ProcessID, e.NodeID)
			errEvt.Level = event.LevelError
			errEvt.Message = fmt.Sprintf("channel subscriber panicked: %v", r)
			_ = s.Publish(context.Background(), errEvt)
		}
	}()
	cb(e)
}

// Shutdown drains pending events to every subscription, rejects further
// publishes, and closes all subscription queues. It returns once every
// listener goroutine has exited or ctx expires.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = map[uint64]*Subscription{}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
