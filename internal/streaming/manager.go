// Package streaming fans task progress events out to SSE and WebSocket
// subscribers, with a per-task ring buffer for reconnect replay and an
// optional Redis Streams mirror for external consumers.
package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types emitted over a task's lifetime.
const (
	TypeTaskStarted          = "task_started"
	TypeItemMatched          = "item_matched"
	TypeItemSkipped          = "item_skipped"
	TypeCommentPosted        = "comment_posted"
	TypeLikePerformed        = "like_performed"
	TypeVerificationRequired = "verification_required"
	TypeTaskCompleted        = "task_completed"
	TypeTaskError            = "task_error"
)

// Event is one task progress notification.
type Event struct {
	TaskID    string    `json:"task_id"`
	Type      string    `json:"type"`
	ItemID    string    `json:"item_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Marshal returns the event's JSON for SSE frames and stream mirrors.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Mirror receives every published event after its seq is assigned. Used by
// the Redis Streams forwarder; must not block.
type Mirror interface {
	Forward(evt Event)
}

// Manager is the in-memory pub/sub hub for task events.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	mirror      Mirror
}

// NewManager creates a hub whose per-task replay rings hold capacity
// events each.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// SetMirror attaches an event mirror. Call before publishing begins.
func (m *Manager) SetMirror(mirror Mirror) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirror = mirror
}

// Subscribe adds a subscriber channel for a task. The caller must drain
// the channel and call Unsubscribe when done.
func (m *Manager) Subscribe(taskID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[taskID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[taskID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the subscriber channel.
func (m *Manager) Unsubscribe(taskID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[taskID]; ok {
		if _, member := subs[ch]; member {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, taskID)
		}
	}
}

// Publish assigns the event its sequence number, records it for replay and
// delivers it to all of the task's subscribers. Slow subscribers have
// events dropped rather than blocking the publisher.
func (m *Manager) Publish(taskID string, evt Event) {
	evt.TaskID = taskID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	rg := m.history[taskID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[taskID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	subs := m.subscribers[taskID]
	mirror := m.mirror
	m.mu.Unlock()

	for ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
	if mirror != nil {
		mirror.Forward(evt)
	}
}

// ReplaySince returns the task's recorded events with Seq > since,
// best-effort within ring capacity.
func (m *Manager) ReplaySince(taskID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[taskID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops a finished task's replay history and closes any remaining
// subscribers.
func (m *Manager) Forget(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, taskID)
	for ch := range m.subscribers[taskID] {
		close(ch)
	}
	delete(m.subscribers, taskID)
}

type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
