// Package conversation keeps per-conversation history in memory and
// serializes work on each conversation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultShards   = 32
	DefaultMaxTurns = 100
)

var (
	ErrNotFound = errors.New("conversation: not found")
	ErrEmptyID  = errors.New("conversation: id must not be empty")
)

type Options struct {
	// Shards is the number of independently locked partitions of the id space.
	Shards int
	// MaxTurns caps the retained history per conversation. TurnCount keeps
	// counting past it.
	MaxTurns int
}

// Store owns every live conversation. Lookups for different ids only contend
// when they hash to the same shard, and then only for a map access.
type Store struct {
	shards   []*shard
	maxTurns int
}

type shard struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

func NewStore(opts Options) *Store {
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	s := &Store{
		shards:   make([]*shard, opts.Shards),
		maxTurns: opts.MaxTurns,
	}
	for i := range s.shards {
		s.shards[i] = &shard{convs: make(map[string]*Conversation)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	return s.shards[xxhash.Sum64String(id)%uint64(len(s.shards))]
}

// Acquire returns the conversation for id, creating it if needed, once the
// caller holds its in-flight slot. Callers for the same id queue behind each
// other; if ctx ends first, ctx.Err() is returned and nothing is held.
// release is safe to call more than once.
func (s *Store) Acquire(ctx context.Context, id string) (conv *Conversation, release func(), created bool, err error) {
	return s.acquire(ctx, id, true)
}

// AcquireExisting is Acquire without creation; it returns ErrNotFound for
// unknown ids.
func (s *Store) AcquireExisting(ctx context.Context, id string) (*Conversation, func(), error) {
	conv, release, _, err := s.acquire(ctx, id, false)
	return conv, release, err
}

func (s *Store) acquire(ctx context.Context, id string, create bool) (*Conversation, func(), bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil, false, ErrEmptyID
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, false, err
		}
		conv, created := s.lookup(id, create)
		if conv == nil {
			return nil, nil, false, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		select {
		case conv.gate <- struct{}{}:
		case <-ctx.Done():
			if created {
				s.dropAbandoned(conv)
			}
			return nil, nil, false, ctx.Err()
		}
		if conv.isEvicted() {
			// evicted while we were queued; look the id up again
			conv.unlock()
			continue
		}
		var once sync.Once
		return conv, func() { once.Do(conv.unlock) }, created, nil
	}
}

// dropAbandoned removes a conversation its creator never got to use, unless
// another caller holds it or it has recorded a turn meanwhile.
func (s *Store) dropAbandoned(conv *Conversation) {
	if !conv.tryLock() {
		return
	}
	defer conv.unlock()
	if !conv.Empty() {
		return
	}
	sh := s.shardFor(conv.id)
	sh.mu.Lock()
	if sh.convs[conv.id] == conv {
		delete(sh.convs, conv.id)
	}
	sh.mu.Unlock()
	conv.markEvicted()
}

func (s *Store) lookup(id string, create bool) (*Conversation, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	conv, ok := sh.convs[id]
	sh.mu.RUnlock()
	if ok || !create {
		return conv, false
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if conv, ok := sh.convs[id]; ok {
		return conv, false
	}
	conv = newConversation(id, s.maxTurns)
	sh.convs[id] = conv
	return conv, true
}

// Get returns the conversation for id without taking its in-flight slot.
// Use it for reads only.
func (s *Store) Get(id string) (*Conversation, bool) {
	sh := s.shardFor(strings.TrimSpace(id))
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	conv, ok := sh.convs[strings.TrimSpace(id)]
	return conv, ok
}

// Evict waits for any in-flight work on id to finish and then drops the
// conversation. It reports whether the dropped conversation had recorded a
// turn.
func (s *Store) Evict(ctx context.Context, id string) (bool, error) {
	conv, release, err := s.AcquireExisting(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer release()

	sh := s.shardFor(conv.id)
	sh.mu.Lock()
	if sh.convs[conv.id] == conv {
		delete(sh.convs, conv.id)
	}
	sh.mu.Unlock()
	conv.markEvicted()
	return !conv.Empty(), nil
}

// EvictIdle drops every conversation whose last activity is before cutoff and
// that has no call in flight. It returns the evicted ids.
func (s *Store) EvictIdle(cutoff time.Time) []string {
	var evicted []string
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, conv := range sh.convs {
			if !conv.tryLock() {
				continue
			}
			if conv.idleSince(cutoff) {
				delete(sh.convs, id)
				conv.markEvicted()
				evicted = append(evicted, id)
			}
			conv.unlock()
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.convs)
		sh.mu.RUnlock()
	}
	return n
}
