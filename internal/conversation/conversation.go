package conversation

import (
	"slices"
	"sync"
	"time"

	"support-agent/internal/domain"
)

// Conversation is the live state of one dialogue. Mutating methods must only
// be called by the holder of the in-flight slot obtained from Store.Acquire.
type Conversation struct {
	id string

	// gate holds a token while a caller owns the in-flight slot.
	gate chan struct{}

	mu           sync.Mutex
	turns        []domain.Turn
	turnCount    int
	escalated    bool
	reason       domain.EscalationReason
	startedAt    time.Time
	lastActivity time.Time
	maxTurns     int
	evicted      bool
	// hydrated is set once any archived state has been loaded, or there was
	// none to load.
	hydrated bool
}

func newConversation(id string, maxTurns int) *Conversation {
	return &Conversation{
		id:       id,
		gate:     make(chan struct{}, 1),
		maxTurns: maxTurns,
	}
}

func (c *Conversation) ID() string { return c.id }

// Snapshot copies the current state. The returned value shares nothing with
// the conversation.
func (c *Conversation) Snapshot() domain.ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Empty reports whether the conversation has never recorded a turn.
func (c *Conversation) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnCount == 0
}

// Hydrated reports whether archived state has been applied.
func (c *Conversation) Hydrated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hydrated
}

// MarkHydrated records that there is no archived state to load.
func (c *Conversation) MarkHydrated() {
	c.mu.Lock()
	c.hydrated = true
	c.mu.Unlock()
}

// Commit appends turn and updates the derived fields in one step. A triggered
// signal latches the escalated flag; it is never cleared here.
func (c *Conversation) Commit(turn domain.Turn, signal domain.EscalationSignal) domain.ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, turn)
	if c.maxTurns > 0 && len(c.turns) > c.maxTurns {
		c.turns = slices.Clone(c.turns[len(c.turns)-c.maxTurns:])
	}
	c.turnCount++
	if c.startedAt.IsZero() {
		c.startedAt = turn.Timestamp
	}
	c.lastActivity = turn.Timestamp
	if signal.Triggered && !c.escalated {
		c.escalated = true
		c.reason = signal.Reason
	}
	return c.stateLocked()
}

// Reopen clears the escalated flag and reports whether it was set.
func (c *Conversation) Reopen(at time.Time) (domain.ConversationState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.escalated
	c.escalated = false
	c.reason = ""
	if was {
		c.lastActivity = at
	}
	return c.stateLocked(), was
}

// Restore loads previously persisted state into an empty conversation and
// marks it hydrated. The state is ignored once any turn has been recorded.
func (c *Conversation) Restore(rec domain.ConversationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hydrated = true
	if c.turnCount > 0 {
		return
	}
	turns := rec.Turns
	if c.maxTurns > 0 && len(turns) > c.maxTurns {
		turns = turns[len(turns)-c.maxTurns:]
	}
	c.turns = slices.Clone(turns)
	c.turnCount = max(rec.Meta.TurnCount, len(rec.Turns))
	c.escalated = rec.Meta.Escalated
	c.reason = rec.Meta.EscalationReason
	c.startedAt = rec.Meta.StartedAt
	c.lastActivity = rec.Meta.LastActivity
}

func (c *Conversation) stateLocked() domain.ConversationState {
	return domain.ConversationState{
		ConversationID:   c.id,
		Turns:            slices.Clone(c.turns),
		TurnCount:        c.turnCount,
		Escalated:        c.escalated,
		EscalationReason: c.reason,
		StartedAt:        c.startedAt,
		LastActivity:     c.lastActivity,
	}
}

func (c *Conversation) idleSince(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity.Before(cutoff)
}

func (c *Conversation) markEvicted() {
	c.mu.Lock()
	c.evicted = true
	c.mu.Unlock()
}

func (c *Conversation) isEvicted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

func (c *Conversation) tryLock() bool {
	select {
	case c.gate <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Conversation) unlock() {
	<-c.gate
}
