package store

import (
	"context"
	"sync"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/signal"
)

// MemoryStore is an in-process document store. Listeners run
// synchronously on the writing goroutine, outside the store lock.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[Key]contracts.RegistrationRecord
	listeners map[Key]map[uint64]Listener
	nextID    uint64

	// Writes counts successful Upsert and Delete calls.
	Writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[Key]contracts.RegistrationRecord),
		listeners: make(map[Key]map[uint64]Listener),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key Key) (contracts.RegistrationRecord, error) {
	if err := key.Validate(); err != nil {
		return contracts.RegistrationRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return contracts.RegistrationRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, key Key, rec contracts.RegistrationRecord) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.records[key] = rec
	s.Writes++
	fns := s.listenersLocked(key)
	s.mu.Unlock()

	for _, fn := range fns {
		r := rec
		fn(&r, nil)
	}
	return nil
}

// Delete is idempotent.
func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	_, existed := s.records[key]
	delete(s.records, key)
	s.Writes++
	fns := s.listenersLocked(key)
	s.mu.Unlock()

	if existed {
		for _, fn := range fns {
			fn(nil, nil)
		}
	}
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, key Key, fn Listener) (signal.Subscription, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.listeners[key] == nil {
		s.listeners[key] = make(map[uint64]Listener)
	}
	s.listeners[key][id] = fn
	rec, ok := s.records[key]
	s.mu.Unlock()

	if ok {
		fn(&rec, nil)
	} else {
		fn(nil, nil)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners[key], id)
			if len(s.listeners[key]) == 0 {
				delete(s.listeners, key)
			}
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return subscriptionFunc(func() {
		stop()
		cancel()
	}), nil
}

func (s *MemoryStore) listenersLocked(key Key) []Listener {
	out := make([]Listener, 0, len(s.listeners[key]))
	for _, fn := range s.listeners[key] {
		out = append(out, fn)
	}
	return out
}
