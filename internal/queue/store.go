package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"engagement-sdk/internal/observability"
	"engagement-sdk/internal/storage"
)

// Store persists the whole queue as one JSON array under storage.KeyOfflineQueue.
//
// All read-modify-write cycles go through Update, which holds mu, so a submit
// racing a flush cannot drop the other's write.
type Store struct {
	kv storage.KV
	mu sync.Mutex
}

func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

// Load returns the persisted queue. A missing or unparsable record yields an
// empty list; so does a failed read, which is logged.
func (s *Store) Load(ctx context.Context) []QueuedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs, err := s.load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("offline queue unreadable")
		return []QueuedRequest{}
	}
	return reqs
}

// Save overwrites the persisted queue.
func (s *Store) Save(ctx context.Context, reqs []QueuedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, reqs)
}

// Update applies fn to the current queue and persists its result atomically
// with respect to other Store calls. When the queue cannot be read nothing is
// written and the read error is returned.
func (s *Store) Update(ctx context.Context, fn func([]QueuedRequest) []QueuedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.load(ctx)
	if err != nil {
		return err
	}
	return s.save(ctx, fn(cur))
}

func (s *Store) Append(ctx context.Context, r QueuedRequest) error {
	return s.Update(ctx, func(cur []QueuedRequest) []QueuedRequest {
		return append(cur, r)
	})
}

// load reads the queue. Missing, undecryptable and unparsable records are
// an empty queue; any other read failure is returned.
func (s *Store) load(ctx context.Context) ([]QueuedRequest, error) {
	raw, ok, err := s.kv.Get(ctx, storage.KeyOfflineQueue)
	if errors.Is(err, storage.ErrInvalidCiphertext) {
		log.Warn().Err(err).Msg("offline queue corrupt; starting empty")
		return []QueuedRequest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read offline queue: %w", err)
	}
	if !ok || raw == "" {
		return []QueuedRequest{}, nil
	}
	var reqs []QueuedRequest
	if err := json.Unmarshal([]byte(raw), &reqs); err != nil {
		log.Warn().Err(err).Msg("offline queue corrupt; starting empty")
		return []QueuedRequest{}, nil
	}
	if reqs == nil {
		reqs = []QueuedRequest{}
	}
	return reqs, nil
}

func (s *Store) save(ctx context.Context, reqs []QueuedRequest) error {
	if reqs == nil {
		reqs = []QueuedRequest{}
	}
	b, err := json.Marshal(reqs)
	if err != nil {
		return fmt.Errorf("encode offline queue: %w", err)
	}
	if err := s.kv.Put(ctx, storage.KeyOfflineQueue, string(b)); err != nil {
		return fmt.Errorf("persist offline queue: %w", err)
	}
	observability.QueueDepth.Set(float64(len(reqs)))
	return nil
}
