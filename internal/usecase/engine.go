// Package usecase holds the conversation engine: it decides for every
// utterance whether to hand off to a human, answer from the knowledge base or
// ask the generative backend, and records the result.
package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"support-agent/internal/conversation"
	"support-agent/internal/domain"
	"support-agent/internal/generator"
	"support-agent/internal/intent"
	"support-agent/internal/textnorm"
	logx "support-agent/pkg/logger"
)

const (
	DefaultKnowledgeThreshold = 1
	defaultArchiveTimeout     = 3 * time.Second
)

type KnowledgeBase interface {
	BestMatch(query string, threshold int) (domain.ScoredEntry, bool)
}

type EscalationPolicy interface {
	Evaluate(utterance string, state domain.ConversationState) domain.EscalationSignal
}

type ResponseGenerator interface {
	Generate(ctx context.Context, req generator.Request) (string, error)
	Business() generator.BusinessInfo
}

// Archive persists conversations beyond the in-memory store. Every call is
// best-effort from the engine's point of view.
type Archive interface {
	Load(ctx context.Context, conversationID string) (domain.ConversationRecord, bool, error)
	AppendTurn(ctx context.Context, turn domain.Turn, meta domain.ConversationMeta) error
	SaveMeta(ctx context.Context, meta domain.ConversationMeta) error
	Delete(ctx context.Context, conversationID string) error
}

// MetricsSink receives one event per handled utterance or feedback. Emit must
// not block.
type MetricsSink interface {
	Emit(ev domain.Event)
}

type Options struct {
	// KnowledgeThreshold is the minimum keyword score for a knowledge-base answer.
	KnowledgeThreshold int
	// Archive is optional.
	Archive        Archive
	ArchiveTimeout time.Duration
	// Metrics is optional.
	Metrics MetricsSink
}

type Engine struct {
	store     *conversation.Store
	kb        KnowledgeBase
	policy    EscalationPolicy
	gen       ResponseGenerator
	archive   Archive
	metrics   MetricsSink
	threshold int
	archiveTO time.Duration
	now       func() time.Time
}

const maxFeedbackComment = 1000

type FeedbackInput struct {
	ConversationID string
	// Rating is between domain.MinRating and domain.MaxRating.
	Rating  int
	Comment string
}

type HandleInput struct {
	// ConversationID may be empty, in which case a new conversation is started.
	ConversationID string
	Utterance      string
}

func NewEngine(store *conversation.Store, kb KnowledgeBase, policy EscalationPolicy, gen ResponseGenerator, opts Options) (*Engine, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if kb == nil {
		return nil, errors.New("usecase: knowledge base must not be nil")
	}
	if policy == nil {
		return nil, errors.New("usecase: escalation policy must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: response generator must not be nil")
	}
	if opts.KnowledgeThreshold <= 0 {
		opts.KnowledgeThreshold = DefaultKnowledgeThreshold
	}
	if opts.ArchiveTimeout <= 0 {
		opts.ArchiveTimeout = defaultArchiveTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = discardSink{}
	}
	return &Engine{
		store:     store,
		kb:        kb,
		policy:    policy,
		gen:       gen,
		archive:   opts.Archive,
		metrics:   opts.Metrics,
		threshold: opts.KnowledgeThreshold,
		archiveTO: opts.ArchiveTimeout,
		now:       time.Now,
	}, nil
}

// Handle processes one utterance and appends exactly one turn to the
// conversation. Calls for the same conversation run one at a time; a caller
// whose ctx ends while waiting for its turn gets a CONFLICT error and nothing
// is recorded. Generation failures never surface as errors.
func (e *Engine) Handle(ctx context.Context, in HandleInput) (domain.Outcome, error) {
	start := e.now()

	utterance := textnorm.Sanitize(in.Utterance)
	if textnorm.Normalize(utterance) == "" {
		return domain.Outcome{}, newError(ErrorInvalidInput, "empty_utterance", nil)
	}
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}

	conv, release, _, err := e.store.Acquire(ctx, convID)
	if err != nil {
		return domain.Outcome{}, e.acquireError(ctx, err)
	}
	defer release()
	if err := e.hydrate(ctx, conv); err != nil {
		return domain.Outcome{}, err
	}

	state := conv.Snapshot()
	topic := intent.Classify(utterance)
	ev := domain.Event{ConversationID: convID, Intent: topic}

	var (
		reply  string
		source domain.Source
		signal domain.EscalationSignal
		faqID  string
	)
	switch {
	case state.Escalated:
		reply = generator.EscalationReply(e.gen.Business(), topic)
		source = domain.SourceEscalated
		signal = domain.Escalate(state.EscalationReason)
		ev.Type = domain.EventEscalatedFollowUp
		ev.Reason = state.EscalationReason

	default:
		signal = e.policy.Evaluate(utterance, state)
		if signal.Triggered {
			reply = generator.EscalationReply(e.gen.Business(), topic)
			source = domain.SourceEscalated
			ev.Type = domain.EventEscalation
			ev.Reason = signal.Reason
			break
		}

		if match, ok := e.kb.BestMatch(utterance, e.threshold); ok {
			reply = match.Entry.Answer
			source = domain.SourceKnowledgeBase
			faqID = match.Entry.ID
			ev.Type = domain.EventKnowledgeBaseHit
			ev.FAQEntryID = faqID
			break
		}

		source = domain.SourceGenerated
		reply, err = e.gen.Generate(ctx, generator.Request{
			Utterance: utterance,
			History:   state.Turns,
			Intent:    topic,
			Entities:  intent.ExtractEntities(utterance),
		})
		if err != nil {
			kind := generator.Classify(err)
			reply = generator.FallbackReply(kind)
			ev.Type = domain.EventGenerationFailed
			ev.ErrorKind = string(kind)
			logx.Warn().Err(err).
				Str("conversation_id", convID).
				Str("error_kind", string(kind)).
				Msg("Generation failed, using fallback reply")
		} else {
			ev.Type = domain.EventGenerated
		}
	}

	turn := domain.Turn{
		Utterance: utterance,
		Reply:     reply,
		Source:    source,
		Timestamp: e.now(),
	}
	next := conv.Commit(turn, signal)
	e.persistTurn(ctx, turn, next.Meta())

	ev.ID = newUUID()
	ev.At = turn.Timestamp
	ev.Latency = turn.Timestamp.Sub(start)
	e.metrics.Emit(ev)

	logx.Info().
		Str("conversation_id", convID).
		Str("source", string(source)).
		Str("reason", string(signal.Reason)).
		Str("intent", string(topic)).
		Int("turn_count", next.TurnCount).
		Dur("latency", ev.Latency).
		Msg("Handled utterance")
	logx.Debug().
		Str("conversation_id", convID).
		Str("utterance", textnorm.MaskSensitive(utterance)).
		Msg("Utterance text")

	return domain.Outcome{
		ConversationID: convID,
		ReplyText:      reply,
		Source:         source,
		Escalation:     signal,
		TurnCount:      next.TurnCount,
		Intent:         topic,
		FAQEntryID:     faqID,
	}, nil
}

// Reopen clears the escalated flag of a conversation after a human agent has
// resolved it. Reopening a conversation that is not escalated is a no-op.
func (e *Engine) Reopen(ctx context.Context, conversationID string) error {
	conv, release, err := e.acquireExisting(ctx, conversationID)
	if err != nil {
		return err
	}
	defer release()

	state, was := conv.Reopen(e.now())
	if !was {
		return nil
	}
	e.persistMeta(ctx, state.Meta())
	logx.Info().Str("conversation_id", state.ConversationID).Msg("Conversation reopened")
	return nil
}

// RecordFeedback stores a customer rating for an existing conversation as a
// metrics event. The comment is only logged, masked.
func (e *Engine) RecordFeedback(ctx context.Context, in FeedbackInput) error {
	if in.Rating < domain.MinRating || in.Rating > domain.MaxRating {
		return newError(ErrorInvalidInput, "invalid_rating", nil)
	}
	comment := strings.TrimSpace(in.Comment)
	if utf8.RuneCountInString(comment) > maxFeedbackComment {
		return newError(ErrorInvalidInput, "comment_too_long", nil)
	}
	state, err := e.state(ctx, in.ConversationID)
	if err != nil {
		return err
	}

	e.metrics.Emit(domain.Event{
		ID:             newUUID(),
		Type:           domain.EventFeedback,
		ConversationID: state.ConversationID,
		Rating:         in.Rating,
		At:             e.now(),
	})
	logx.Info().
		Str("conversation_id", state.ConversationID).
		Int("rating", in.Rating).
		Msg("Feedback recorded")
	if comment != "" {
		logx.Debug().
			Str("conversation_id", state.ConversationID).
			Str("comment", textnorm.MaskSensitive(comment)).
			Msg("Feedback comment")
	}
	return nil
}

// History returns the retained turns of a conversation, oldest first.
func (e *Engine) History(ctx context.Context, conversationID string) ([]domain.Turn, error) {
	state, err := e.state(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return state.Turns, nil
}

func (e *Engine) Summary(ctx context.Context, conversationID string) (domain.ConversationSummary, error) {
	state, err := e.state(ctx, conversationID)
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	return domain.ConversationSummary{
		ConversationID:   state.ConversationID,
		TurnCount:        state.TurnCount,
		Escalated:        state.Escalated,
		EscalationReason: state.EscalationReason,
		StartedAt:        state.StartedAt,
		LastActivity:     state.LastActivity,
		Duration:         state.LastActivity.Sub(state.StartedAt),
	}, nil
}

// Evict drops a conversation from memory once its in-flight call, if any,
// has finished. Archived data is kept and reloaded on the next utterance.
func (e *Engine) Evict(ctx context.Context, conversationID string) (bool, error) {
	ok, err := e.store.Evict(ctx, conversationID)
	if err != nil {
		return false, e.acquireError(ctx, err)
	}
	return ok, nil
}

// Clear evicts a conversation and deletes its archived data.
func (e *Engine) Clear(ctx context.Context, conversationID string) error {
	found, err := e.Evict(ctx, conversationID)
	if err != nil {
		return err
	}
	if e.archive == nil {
		if !found {
			return newError(ErrorNotFound, "conversation_not_found", nil)
		}
		return nil
	}

	actx, cancel := e.archiveContext(ctx)
	defer cancel()
	if !found {
		_, ok, err := e.archive.Load(actx, conversationID)
		if err != nil {
			return newError(ErrorInternal, "archive_load_error", err)
		}
		if !ok {
			return newError(ErrorNotFound, "conversation_not_found", nil)
		}
	}
	if err := e.archive.Delete(actx, conversationID); err != nil {
		return newError(ErrorInternal, "archive_delete_error", err)
	}
	return nil
}

// EvictIdle drops every idle conversation whose last activity is older than
// maxIdle and returns their ids.
func (e *Engine) EvictIdle(maxIdle time.Duration) []string {
	evicted := e.store.EvictIdle(e.now().Add(-maxIdle))
	if len(evicted) > 0 {
		logx.Info().Int("count", len(evicted)).Msg("Evicted idle conversations")
	}
	return evicted
}

// ActiveConversations returns the number of conversations held in memory.
func (e *Engine) ActiveConversations() int {
	return e.store.Len()
}

func (e *Engine) acquireExisting(ctx context.Context, conversationID string) (*conversation.Conversation, func(), error) {
	conv, release, err := e.store.AcquireExisting(ctx, conversationID)
	if err == nil {
		if err := e.hydrate(ctx, conv); err != nil {
			release()
			return nil, nil, err
		}
		if conv.Empty() {
			release()
			return nil, nil, newError(ErrorNotFound, "conversation_not_found", nil)
		}
		return conv, release, nil
	}
	if !errors.Is(err, conversation.ErrNotFound) || e.archive == nil {
		return nil, nil, e.acquireError(ctx, err)
	}

	rec, ok, err := e.loadRecord(ctx, conversationID)
	if err != nil {
		return nil, nil, newError(ErrorInternal, "archive_load_error", err)
	}
	if !ok {
		return nil, nil, newError(ErrorNotFound, "conversation_not_found", nil)
	}
	conv, release, _, err = e.store.Acquire(ctx, conversationID)
	if err != nil {
		return nil, nil, e.acquireError(ctx, err)
	}
	conv.Restore(rec)
	return conv, release, nil
}

// state returns a snapshot from memory, falling back to the archive without
// loading the conversation into the store.
func (e *Engine) state(ctx context.Context, conversationID string) (domain.ConversationState, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return domain.ConversationState{}, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	// a conversation that never loaded its archive or recorded a turn says
	// nothing about the id
	if conv, ok := e.store.Get(id); ok && conv.Hydrated() && !conv.Empty() {
		return conv.Snapshot(), nil
	}
	if e.archive != nil {
		rec, ok, err := e.loadRecord(ctx, id)
		if err != nil {
			return domain.ConversationState{}, newError(ErrorInternal, "archive_load_error", err)
		}
		if ok {
			return domain.ConversationState{
				ConversationID:   id,
				Turns:            rec.Turns,
				TurnCount:        max(rec.Meta.TurnCount, len(rec.Turns)),
				Escalated:        rec.Meta.Escalated,
				EscalationReason: rec.Meta.EscalationReason,
				StartedAt:        rec.Meta.StartedAt,
				LastActivity:     rec.Meta.LastActivity,
			}, nil
		}
	}
	return domain.ConversationState{}, newError(ErrorNotFound, "conversation_not_found", nil)
}

func (e *Engine) acquireError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, conversation.ErrEmptyID):
		return newError(ErrorInvalidInput, "empty_conversation_id", err)
	case errors.Is(err, conversation.ErrNotFound):
		return newError(ErrorNotFound, "conversation_not_found", err)
	case ctx.Err() != nil:
		return newError(ErrorConflict, "conversation_busy", err)
	default:
		return newError(ErrorInternal, "store_error", err)
	}
}

// hydrate applies the archived state of conv before its first use. The caller
// must hold the in-flight slot. A failed load leaves conv unhydrated so the
// next caller retries, and nothing may be committed over it meanwhile.
func (e *Engine) hydrate(ctx context.Context, conv *conversation.Conversation) error {
	if conv.Hydrated() {
		return nil
	}
	if e.archive == nil {
		conv.MarkHydrated()
		return nil
	}
	rec, ok, err := e.loadRecord(ctx, conv.ID())
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", conv.ID()).Msg("Failed to load archived conversation")
		return newError(ErrorInternal, "archive_load_error", err)
	}
	if ok {
		conv.Restore(rec)
	} else {
		conv.MarkHydrated()
	}
	return nil
}

func (e *Engine) loadRecord(ctx context.Context, conversationID string) (domain.ConversationRecord, bool, error) {
	actx, cancel := e.archiveContext(ctx)
	defer cancel()
	return e.archive.Load(actx, conversationID)
}

func (e *Engine) persistTurn(ctx context.Context, turn domain.Turn, meta domain.ConversationMeta) {
	if e.archive == nil {
		return
	}
	actx, cancel := e.archiveContext(ctx)
	defer cancel()
	if err := e.archive.AppendTurn(actx, turn, meta); err != nil {
		logx.Error().Err(err).
			Str("conversation_id", meta.ConversationID).
			Int("turn_count", meta.TurnCount).
			Msg("Failed to archive turn")
	}
}

func (e *Engine) persistMeta(ctx context.Context, meta domain.ConversationMeta) {
	if e.archive == nil {
		return
	}
	actx, cancel := e.archiveContext(ctx)
	defer cancel()
	if err := e.archive.SaveMeta(actx, meta); err != nil {
		logx.Error().Err(err).Str("conversation_id", meta.ConversationID).Msg("Failed to archive conversation meta")
	}
}

// archiveContext detaches archive writes from the caller so that a turn
// already committed in memory is still written after the caller goes away.
func (e *Engine) archiveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.archiveTO)
}

type discardSink struct{}

func (discardSink) Emit(domain.Event) {}

var newUUID = func() string {
	return uuid.NewString()
}
