package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tradegate/internal/command"
	"tradegate/internal/logging"
)

// Entry is one recorded command invocation. Every invocation is recorded,
// including rejected ones, so operators can reconstruct who did what.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Command    string    `json:"command"`
	Params     string    `json:"params,omitempty"`
	Role       string    `json:"role"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Store persists audit entries.
type Store interface {
	Record(ctx context.Context, entry *Entry) error
	Recent(ctx context.Context, limit int) ([]*Entry, error)
	Close() error
}

// MemoryStore keeps the most recent entries in a fixed-size ring. It is the
// default store when no database is configured.
type MemoryStore struct {
	mu       sync.Mutex
	entries  []*Entry
	capacity int
	next     int
	full     bool
}

// NewMemoryStore creates a ring store holding up to capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{
		entries:  make([]*Entry, capacity),
		capacity: capacity,
	}
}

// Record appends an entry, evicting the oldest when the ring is full.
func (s *MemoryStore) Record(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	s.entries[s.next] = entry
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}
	s.mu.Unlock()
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.full {
		size = s.capacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]*Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + s.capacity) % s.capacity
		out = append(out, s.entries[idx])
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

// Recorder adapts a Store to the executor's audit hook. Writes happen on a
// background worker so a slow store never delays command responses.
type Recorder struct {
	store Store

	ch   chan *Entry
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewRecorder starts the recording worker.
func NewRecorder(store Store) *Recorder {
	r := &Recorder{
		store: store,
		ch:    make(chan *Entry, 256),
		stop:  make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// RecordInvocation queues one invocation for persistence. Entries are dropped
// with a warning when the queue is saturated rather than blocking execution.
func (r *Recorder) RecordInvocation(_ context.Context, inv *command.Invocation, res *command.Result, took time.Duration) {
	entry := &Entry{
		ID:         inv.ID,
		Timestamp:  inv.RequestedAt,
		Command:    inv.Command,
		Role:       inv.CallerRole.String(),
		Source:     inv.Source,
		Status:     res.Status,
		Message:    res.Message,
		Code:       string(res.Code),
		DurationMS: took.Milliseconds(),
	}
	if len(inv.Params) > 0 {
		if data, err := json.Marshal(inv.Params); err == nil {
			entry.Params = string(data)
		}
	}

	select {
	case r.ch <- entry:
	default:
		logging.WithField("command", entry.Command).Warn("audit queue full, entry dropped")
	}
}

// Recent returns the newest entries from the underlying store.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	return r.store.Recent(ctx, limit)
}

// Close drains queued entries and closes the store.
func (r *Recorder) Close() error {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
	return r.store.Close()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case entry := <-r.ch:
			r.persist(entry)
		case <-r.stop:
			for {
				select {
				case entry := <-r.ch:
					r.persist(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Record(ctx, entry); err != nil {
		logging.WithError(err).WithField("command", entry.Command).Error("failed to record audit entry")
	}
}
