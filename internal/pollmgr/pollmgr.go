// Package pollmgr implements C4: the long-poll pull delivery path
// described in SPEC_FULL §4.4, including the register-before-catchup
// fix for the lost-update window present in the original polling
// manager's create-waiter-after-catchup ordering.
package pollmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mvdbeek/pulsar-relay/internal/authz"
	"github.com/mvdbeek/pulsar-relay/internal/identity"
	"github.com/mvdbeek/pulsar-relay/internal/message"
	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

const (
	// defaultWaiterBufferCapacity bounds a waiter's private delivery
	// buffer, per SPEC_FULL §4.4's "default capacity 128". Overridable
	// via WithWaiterBufferCapacity.
	defaultWaiterBufferCapacity = 128

	// defaultTimeout/defaultMinTimeout/defaultMaxTimeout bound the poll
	// wait, per SPEC_FULL §4.4's "[1s, 60s]; default 30s". Overridable
	// via WithTimeouts.
	defaultTimeout    = 30 * time.Second
	defaultMinTimeout = 1 * time.Second
	defaultMaxTimeout = 60 * time.Second

	// defaultMaxWaiters is SPEC_FULL §5's "Maximum concurrent poll
	// waiters per instance" default. Overridable via WithMaxWaiters; 0
	// or negative means unlimited.
	defaultMaxWaiters = 10_000

	// catchupPageSize is the max_count passed to storage.ReadSince during
	// catch-up.
	catchupPageSize = 100

	// staleWaiterMultiple computes the default safety-sweep age
	// threshold: 5x the max timeout, per SPEC_FULL §4.4. Overridable via
	// WithSweep.
	staleWaiterMultiple  = 5
	defaultSweepInterval = 30 * time.Second
)

// waiter is a single long-poll request's registration: a per-topic
// cursor set, a bounded buffer, and a completion signal.
type waiter struct {
	id        string
	topics    []string
	cursors   map[string]string // topic -> last-seen cursor (sentinel "" means "only after now")
	buffer    chan message.Message
	createdAt time.Time

	mu     sync.Mutex
	signal chan struct{}
	fired  bool
}

func (w *waiter) fire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.fired {
		w.fired = true
		close(w.signal)
	}
}

// Option configures a Manager's capacity limits and timeout bounds.
type Option func(*managerOptions)

type managerOptions struct {
	maxWaiters           int
	waiterBufferCapacity int
	defaultTimeout       time.Duration
	minTimeout           time.Duration
	maxTimeout           time.Duration
	sweepInterval        time.Duration
	staleAge             time.Duration
}

// WithMaxWaiters overrides the default 10,000 concurrent-waiter cap per
// SPEC_FULL §5; n <= 0 means unlimited.
func WithMaxWaiters(n int) Option {
	return func(o *managerOptions) { o.maxWaiters = n }
}

// WithWaiterBufferCapacity overrides the default 128-message per-waiter
// delivery buffer.
func WithWaiterBufferCapacity(n int) Option {
	return func(o *managerOptions) {
		if n > 0 {
			o.waiterBufferCapacity = n
		}
	}
}

// WithTimeouts overrides the default/min/max poll wait bounds. A zero
// value leaves the corresponding default unchanged.
func WithTimeouts(def, min, max time.Duration) Option {
	return func(o *managerOptions) {
		if def > 0 {
			o.defaultTimeout = def
		}
		if min > 0 {
			o.minTimeout = min
		}
		if max > 0 {
			o.maxTimeout = max
		}
	}
}

// WithSweep overrides the safety-sweep ticker interval and the stale-
// waiter age threshold. A zero value leaves the corresponding default
// unchanged.
func WithSweep(interval, staleAge time.Duration) Option {
	return func(o *managerOptions) {
		if interval > 0 {
			o.sweepInterval = interval
		}
		if staleAge > 0 {
			o.staleAge = staleAge
		}
	}
}

// Manager holds the waiter registry (primary: id -> waiter; secondary:
// topic -> set of ids), both guarded by a single mutex per SPEC_FULL
// §4.4's stated shared-resource policy.
type Manager struct {
	mu      sync.Mutex
	waiters map[string]*waiter
	byTopic map[string]map[string]struct{}

	maxWaiters           int
	waiterBufferCapacity int
	defaultTimeout       time.Duration
	minTimeout           time.Duration
	maxTimeout           time.Duration
	sweepInterval        time.Duration
	staleAge             time.Duration

	rejectedWaiters atomic.Int64

	storage storage.Backend
	oracle  *authz.Oracle
}

func NewManager(backend storage.Backend, oracle *authz.Oracle, opts ...Option) *Manager {
	o := managerOptions{
		maxWaiters:           defaultMaxWaiters,
		waiterBufferCapacity: defaultWaiterBufferCapacity,
		defaultTimeout:       defaultTimeout,
		minTimeout:           defaultMinTimeout,
		maxTimeout:           defaultMaxTimeout,
		sweepInterval:        defaultSweepInterval,
		staleAge:             staleWaiterMultiple * defaultMaxTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Manager{
		waiters:              make(map[string]*waiter),
		byTopic:              make(map[string]map[string]struct{}),
		maxWaiters:           o.maxWaiters,
		waiterBufferCapacity: o.waiterBufferCapacity,
		defaultTimeout:       o.defaultTimeout,
		minTimeout:           o.minTimeout,
		maxTimeout:           o.maxTimeout,
		sweepInterval:        o.sweepInterval,
		staleAge:             o.staleAge,
		storage:              backend,
		oracle:               oracle,
	}
}

// RejectedWaiterCount reports how many Poll calls were rejected because
// the instance was already at its MaxWaiters cap.
func (m *Manager) RejectedWaiterCount() int64 {
	return m.rejectedWaiters.Load()
}

// PollResult is the response shape C6's pull handler serializes.
type PollResult struct {
	Messages []message.Message
	HasMore  bool
}

// Poll implements SPEC_FULL §4.4's poll operation: authorize, register
// before catch-up, catch up, then either return the catch-up page or
// suspend until delivery, timeout, or ctx cancellation.
//
// timeout is nil when the caller omitted the field entirely, in which
// case the configured default applies; a non-nil value of zero or less
// requests a non-blocking poll that returns immediately with whatever
// catch-up produces, per SPEC_FULL §8 - these two cases are distinct
// and must not both collapse onto the default wait.
func (m *Manager) Poll(ctx context.Context, id identity.Identity, topics []string, since map[string]string, timeout *time.Duration) (PollResult, error) {
	if len(topics) == 0 {
		return PollResult{}, pulsarerr.New(pulsarerr.InvalidRequest, "at least one topic required")
	}
	for _, topic := range topics {
		decision, err := m.oracle.Authorize(ctx, id, topic, authz.ActionRead)
		if err != nil {
			return PollResult{}, err
		}
		switch decision {
		case authz.TopicNotFound:
			return PollResult{}, pulsarerr.New(pulsarerr.TopicNotFound, "topic not found: "+topic)
		case authz.DenyNoScope:
			return PollResult{}, pulsarerr.New(pulsarerr.Forbidden, "missing required scope for topic "+topic)
		case authz.DenyNoAccess:
			return PollResult{}, pulsarerr.New(pulsarerr.Forbidden, "not authorized for topic "+topic)
		}
	}

	nonBlocking := false
	effTimeout := m.defaultTimeout
	if timeout != nil {
		if *timeout <= 0 {
			nonBlocking = true
		} else {
			effTimeout = *timeout
			if effTimeout < m.minTimeout {
				effTimeout = m.minTimeout
			}
			if effTimeout > m.maxTimeout {
				effTimeout = m.maxTimeout
			}
		}
	}

	w, ok := m.register(topics, since)
	if !ok {
		m.rejectedWaiters.Add(1)
		return PollResult{}, pulsarerr.New(pulsarerr.ServiceUnavailable, "too many concurrent poll waiters")
	}

	catchUp, hasMore, err := m.catchUp(ctx, topics, since)
	if err != nil {
		m.unregister(w)
		return PollResult{}, err
	}

	if len(catchUp) > 0 {
		buffered := m.drainDedup(w, catchUp)
		m.unregister(w)
		return PollResult{Messages: append(catchUp, buffered...), HasMore: hasMore}, nil
	}

	if nonBlocking {
		m.unregister(w)
		return PollResult{Messages: nil, HasMore: false}, nil
	}

	timer := time.NewTimer(effTimeout)
	defer timer.Stop()

	select {
	case <-w.signal:
	case <-timer.C:
	case <-ctx.Done():
	}

	drained := m.drain(w)
	m.unregister(w)
	return PollResult{Messages: drained, HasMore: false}, nil
}

// register adds a waiter unless the instance is already at its
// MaxWaiters cap, in which case it returns ok=false.
func (m *Manager) register(topics []string, since map[string]string) (w *waiter, ok bool) {
	w = &waiter{
		id:        uuid.NewString(),
		topics:    append([]string(nil), topics...),
		cursors:   make(map[string]string, len(topics)),
		buffer:    make(chan message.Message, m.waiterBufferCapacity),
		createdAt: time.Now(),
		signal:    make(chan struct{}),
	}
	for _, topic := range topics {
		w.cursors[topic] = since[topic]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxWaiters > 0 && len(m.waiters) >= m.maxWaiters {
		return nil, false
	}
	m.waiters[w.id] = w
	for _, topic := range topics {
		if m.byTopic[topic] == nil {
			m.byTopic[topic] = make(map[string]struct{})
		}
		m.byTopic[topic][w.id] = struct{}{}
	}
	return w, true
}

func (m *Manager) unregister(w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unregisterLocked(w)
}

func (m *Manager) unregisterLocked(w *waiter) {
	if _, ok := m.waiters[w.id]; !ok {
		return
	}
	delete(m.waiters, w.id)
	for _, topic := range w.topics {
		set := m.byTopic[topic]
		delete(set, w.id)
		if len(set) == 0 {
			delete(m.byTopic, topic)
		}
	}
}

func (m *Manager) catchUp(ctx context.Context, topics []string, since map[string]string) ([]message.Message, bool, error) {
	var out []message.Message
	hasMore := false
	for _, topic := range topics {
		msgs, err := m.storage.ReadSince(ctx, topic, since[topic], catchupPageSize)
		if err != nil {
			return nil, false, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "read_since failed for "+topic, err)
		}
		if len(msgs) >= catchupPageSize {
			hasMore = true
		}
		out = append(out, msgs...)
	}
	return out, hasMore, nil
}

// drainDedup drains w's buffer and returns only the entries not already
// present (by message_id) in catchUp, per SPEC_FULL §4.4 EXPANSION: the
// register-before-catchup ordering can double-deliver a message into
// both the catch-up page and the waiter's buffer, and the caller must
// never observe the same message_id twice in one poll response.
func (m *Manager) drainDedup(w *waiter, catchUp []message.Message) []message.Message {
	seen := make(map[string]struct{}, len(catchUp))
	for _, msg := range catchUp {
		seen[msg.MessageID] = struct{}{}
	}

	var out []message.Message
	for {
		select {
		case msg := <-w.buffer:
			if _, ok := seen[msg.MessageID]; ok {
				continue
			}
			seen[msg.MessageID] = struct{}{}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func (m *Manager) drain(w *waiter) []message.Message {
	var out []message.Message
	for {
		select {
		case msg := <-w.buffer:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// Deliver implements SPEC_FULL §4.4's deliver operation, invoked by C5
// after persistence: snapshot the topic's waiter set under the mutex,
// release it, then attempt a non-blocking enqueue per waiter.
func (m *Manager) Deliver(topic string, msg message.Message) int {
	m.mu.Lock()
	ids := m.byTopic[topic]
	snapshot := make([]*waiter, 0, len(ids))
	for id := range ids {
		if w, ok := m.waiters[id]; ok {
			snapshot = append(snapshot, w)
		}
	}
	m.mu.Unlock()

	delivered := 0
	for _, w := range snapshot {
		select {
		case w.buffer <- msg:
			delivered++
			w.fire()
		default:
			// Buffer full: drop for this waiter, it will re-catch-up via
			// since on its next poll. The drop is not counted anywhere.
		}
	}
	return delivered
}

// WaiterCount reports the number of currently-registered waiters.
func (m *Manager) WaiterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
