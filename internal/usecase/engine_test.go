package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"support-agent/internal/conversation"
	"support-agent/internal/domain"
	"support-agent/internal/escalation"
	"support-agent/internal/generator"
	"support-agent/internal/knowledge"
)

// ---- fakes ----

type mockBackend struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	system  string
	started chan struct{}
	unblock chan struct{}
}

func (m *mockBackend) Complete(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	m.mu.Lock()
	m.calls++
	m.system = messages[0].Content
	m.mu.Unlock()
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.unblock != nil {
		select {
		case <-m.unblock:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.reply, m.err
}

func (m *mockBackend) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type statusErr int

func (s statusErr) Error() string       { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatusCode() int { return int(s) }

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSink) Emit(ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) last(t *testing.T) domain.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.events)
	return r.events[len(r.events)-1]
}

type memArchive struct {
	mu      sync.Mutex
	records map[string]domain.ConversationRecord
	loadErr error
	saveErr error
	appends int
	deletes int
}

func newMemArchive() *memArchive {
	return &memArchive{records: make(map[string]domain.ConversationRecord)}
}

func (a *memArchive) Load(_ context.Context, id string) (domain.ConversationRecord, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loadErr != nil {
		return domain.ConversationRecord{}, false, a.loadErr
	}
	rec, ok := a.records[id]
	return rec, ok, nil
}

func (a *memArchive) AppendTurn(_ context.Context, turn domain.Turn, meta domain.ConversationMeta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appends++
	if a.saveErr != nil {
		return a.saveErr
	}
	rec := a.records[meta.ConversationID]
	rec.Meta = meta
	rec.Turns = append(rec.Turns, turn)
	a.records[meta.ConversationID] = rec
	return nil
}

func (a *memArchive) SaveMeta(_ context.Context, meta domain.ConversationMeta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saveErr != nil {
		return a.saveErr
	}
	rec := a.records[meta.ConversationID]
	rec.Meta = meta
	a.records[meta.ConversationID] = rec
	return nil
}

func (a *memArchive) Delete(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletes++
	delete(a.records, id)
	return nil
}

func (a *memArchive) record(id string) (domain.ConversationRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[id]
	return rec, ok
}

// ---- helpers ----

var business = generator.BusinessInfo{
	CompanyName:  "Acme",
	SupportEmail: "support@acme.test",
	SupportPhone: "555-0100",
	SupportHours: "9-5",
}

type testEngine struct {
	*Engine
	backend *mockBackend
	sink    *recordingSink
	store   *conversation.Store
}

func newTestEngine(t *testing.T, backend *mockBackend, archive Archive) testEngine {
	t.Helper()
	kb, err := knowledge.New(domain.FAQEntry{
		ID:       "1",
		Keywords: []string{"refund", "return"},
		Answer:   "Refunds take 5 days.",
	})
	require.NoError(t, err)
	policy, err := escalation.New(escalation.DefaultConfig())
	require.NoError(t, err)
	gen, err := generator.New(backend, generator.Config{Timeout: 200 * time.Millisecond, Business: business})
	require.NoError(t, err)

	store := conversation.NewStore(conversation.Options{Shards: 4})
	sink := &recordingSink{}
	opts := Options{Metrics: sink}
	if archive != nil {
		opts.Archive = archive
	}
	e, err := NewEngine(store, kb, policy, gen, opts)
	require.NoError(t, err)
	return testEngine{Engine: e, backend: backend, sink: sink, store: store}
}

func handle(t *testing.T, e testEngine, id, utterance string) domain.Outcome {
	t.Helper()
	out, err := e.Handle(context.Background(), HandleInput{ConversationID: id, Utterance: utterance})
	require.NoError(t, err)
	require.Equal(t, out.Source == domain.SourceEscalated, out.Escalation.Triggered)
	return out
}

func expectCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var ue *Error
	require.True(t, errors.As(err, &ue), "expected *usecase.Error, got %T", err)
	require.Equal(t, code, ue.Code)
}

// ---- construction ----

func TestNewEngine_ValidatesDependencies(t *testing.T) {
	store := conversation.NewStore(conversation.Options{})
	kb, _ := knowledge.New()
	policy, _ := escalation.New(escalation.DefaultConfig())
	gen, _ := generator.New(&mockBackend{}, generator.Config{})

	_, err := NewEngine(nil, kb, policy, gen, Options{})
	require.Error(t, err)
	_, err = NewEngine(store, nil, policy, gen, Options{})
	require.Error(t, err)
	_, err = NewEngine(store, kb, nil, gen, Options{})
	require.Error(t, err)
	_, err = NewEngine(store, kb, policy, nil, Options{})
	require.Error(t, err)

	e, err := NewEngine(store, kb, policy, gen, Options{})
	require.NoError(t, err)
	require.Equal(t, DefaultKnowledgeThreshold, e.threshold)
}

// ---- Handle ----

func TestHandle_KnowledgeBaseAnswer(t *testing.T) {
	e := newTestEngine(t, &mockBackend{reply: "generated"}, nil)

	out := handle(t, e, "c1", "how do I get a refund")
	require.Equal(t, domain.SourceKnowledgeBase, out.Source)
	require.Equal(t, "Refunds take 5 days.", out.ReplyText)
	require.Equal(t, "1", out.FAQEntryID)
	require.Equal(t, 1, out.TurnCount)
	require.False(t, out.Escalation.Triggered)
	require.Zero(t, e.backend.callCount())

	ev := e.sink.last(t)
	require.Equal(t, domain.EventKnowledgeBaseHit, ev.Type)
	require.Equal(t, "c1", ev.ConversationID)
	require.Equal(t, "1", ev.FAQEntryID)
	require.NotEmpty(t, ev.ID)
}

func TestHandle_ExplicitRequestEscalatesAndLatches(t *testing.T) {
	e := newTestEngine(t, &mockBackend{reply: "generated"}, nil)

	out := handle(t, e, "c1", "I want to talk to a human right now")
	require.Equal(t, domain.SourceEscalated, out.Source)
	require.Equal(t, domain.ReasonExplicitRequest, out.Escalation.Reason)
	require.Contains(t, out.ReplyText, "human support specialists")
	require.Contains(t, out.ReplyText, "- Email: support@acme.test")
	require.Equal(t, domain.EventEscalation, e.sink.last(t).Type)

	for i, u := range []string{"how do I get a refund", "what is the weather", "thanks"} {
		out = handle(t, e, "c1", u)
		require.Equal(t, domain.SourceEscalated, out.Source)
		require.Equal(t, domain.ReasonExplicitRequest, out.Escalation.Reason)
		require.Equal(t, i+2, out.TurnCount)
		require.Empty(t, out.FAQEntryID)

		ev := e.sink.last(t)
		require.Equal(t, domain.EventEscalatedFollowUp, ev.Type)
		require.Equal(t, domain.ReasonExplicitRequest, ev.Reason)
	}
	require.Zero(t, e.backend.callCount())

	history, err := e.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	for _, turn := range history {
		require.Equal(t, domain.SourceEscalated, turn.Source)
	}
}

func TestHandle_ReopenRestoresNormalRouting(t *testing.T) {
	e := newTestEngine(t, &mockBackend{reply: "generated"}, nil)

	handle(t, e, "c1", "let me speak to a manager")
	require.NoError(t, e.Reopen(context.Background(), "c1"))

	out := handle(t, e, "c1", "how do I get a refund")
	require.Equal(t, domain.SourceKnowledgeBase, out.Source)
	require.Equal(t, 2, out.TurnCount)

	// reopening a conversation that is not escalated is fine
	require.NoError(t, e.Reopen(context.Background(), "c1"))
}

func TestHandle_GeneratedReply(t *testing.T) {
	e := newTestEngine(t, &mockBackend{reply: "  Your order ships tomorrow.  "}, nil)

	out := handle(t, e, "c1", "where is my order")
	require.Equal(t, domain.SourceGenerated, out.Source)
	require.Equal(t, "Your order ships tomorrow.", out.ReplyText)
	require.Equal(t, domain.IntentOrderStatus, out.Intent)

	ev := e.sink.last(t)
	require.Equal(t, domain.EventGenerated, ev.Type)
	require.Equal(t, domain.IntentOrderStatus, ev.Intent)
}

func TestHandle_PassesExtractedEntitiesToGenerator(t *testing.T) {
	backend := &mockBackend{reply: "ok"}
	e := newTestEngine(t, backend, nil)

	handle(t, e, "c1", "where is order ZX98765 for my laptop")

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Contains(t, backend.system, "- Order numbers: ZX98765")
	require.Contains(t, backend.system, "- Products: laptop")
}

func TestHandle_GenerationFailureFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  generator.Kind
		reply string
	}{
		{"backend unavailable", errors.New("connection refused"), generator.KindBackendUnavailable, generator.FallbackReply(generator.KindBackendUnavailable)},
		{"rate limited", statusErr(429), generator.KindRateLimited, "I'm experiencing high demand right now. Please try again in a moment."},
		{"invalid response", domain.ErrInvalidResponse, generator.KindInvalidResponse, generator.FallbackReply(generator.KindInvalidResponse)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t, &mockBackend{err: tc.err}, nil)

			out := handle(t, e, "c1", "my gadget makes a noise")
			require.Equal(t, domain.SourceGenerated, out.Source)
			require.Equal(t, tc.reply, out.ReplyText)
			require.Equal(t, 1, out.TurnCount)

			ev := e.sink.last(t)
			require.Equal(t, domain.EventGenerationFailed, ev.Type)
			require.Equal(t, string(tc.kind), ev.ErrorKind)
		})
	}
}

func TestHandle_GenerationTimeoutFallsBack(t *testing.T) {
	e := newTestEngine(t, &mockBackend{unblock: make(chan struct{})}, nil)

	out := handle(t, e, "c1", "my gadget makes a noise")
	require.Equal(t, domain.SourceGenerated, out.Source)
	require.Equal(t, generator.FallbackReply(generator.KindTimeout), out.ReplyText)
	require.Equal(t, string(generator.KindTimeout), e.sink.last(t).ErrorKind)
	require.Equal(t, 1, out.TurnCount)
}

func TestHandle_RepeatedFailureEscalates(t *testing.T) {
	e := newTestEngine(t, &mockBackend{err: errors.New("down")}, nil)

	for i := 1; i <= 3; i++ {
		out := handle(t, e, "c1", "how do I sync my widget with the app")
		require.Equal(t, domain.SourceGenerated, out.Source)
		require.Equal(t, i, out.TurnCount)
	}
	out := handle(t, e, "c1", "how do I sync my widget with the app?")
	require.Equal(t, domain.SourceEscalated, out.Source)
	require.Equal(t, domain.ReasonRepeatedFailure, out.Escalation.Reason)
	require.Equal(t, 3, e.backend.callCount())
}

func TestHandle_SanitizesUtterance(t *testing.T) {
	e := newTestEngine(t, &mockBackend{reply: "ok"}, nil)

	handle(t, e, "c1", "  <b>where</b>   is my    order ")
	history, err := e.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "bwhere/b is my order", history[0].Utterance)
}

func TestHandle_InvalidInput(t *testing.T) {
	e := newTestEngine(t, &mockBackend{reply: "ok"}, nil)

	for _, u := range []string{"", "   ", "?!...", "<>{}"} {
		_, err := e.Handle(context.Background(), HandleInput{ConversationID: "c1", Utterance: u})
		expectCode(t, err, ErrorInvalidInput)
		require.True(t, IsInvalidInput(err))
	}
	require.Zero(t, e.store.Len())
	require.Zero(t, e.backend.callCount())
}

func TestHandle_MintsConversationID(t *testing.T) {
	orig := newUUID
	t.Cleanup(func() { newUUID = orig })
	newUUID = func() string { return "fixed-id" }

	e := newTestEngine(t, &mockBackend{reply: "ok"}, nil)
	out := handle(t, e, "", "hello there")
	require.Equal(t, "fixed-id", out.ConversationID)
	require.Equal(t, domain.IntentGreeting, out.Intent)
}

func TestHandle_TurnCountIncrementsByOne(t *testing.T) {
	e := newTestEngine(t, &mockBackend{reply: "ok"}, nil)

	utterances := []string{"hello", "how do I get a refund", "my gadget makes a noise", "talk to a human", "ok"}
	for i, u := range utterances {
		out := handle(t, e, "c1", u)
		require.Equal(t, i+1, out.TurnCount)
	}
}

// ---- concurrency ----

func TestHandle_ConcurrentCallsSameConversationQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := &mockBackend{reply: "ok", started: make(chan struct{}, 2), unblock: make(chan struct{})}
	e := newTestEngine(t, backend, nil)

	var wg sync.WaitGroup
	outs := make([]domain.Outcome, 2)
	for i, u := range []string{"my gadget makes a noise", "my gadget is very warm"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Handle(context.Background(), HandleInput{ConversationID: "c1", Utterance: u})
			assert.NoError(t, err)
			outs[i] = out
		}()
	}

	<-backend.started
	// only one call may be generating at a time
	select {
	case <-backend.started:
		t.Fatal("second call reached the backend while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(backend.unblock)
	wg.Wait()

	require.ElementsMatch(t, []int{1, 2}, []int{outs[0].TurnCount, outs[1].TurnCount})
	sum, err := e.Summary(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 2, sum.TurnCount)
}

func TestHandle_ConflictWhenContextEndsWhileQueued(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := &mockBackend{reply: "ok", started: make(chan struct{}, 1), unblock: make(chan struct{})}
	e := newTestEngine(t, backend, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := e.Handle(context.Background(), HandleInput{ConversationID: "c1", Utterance: "my gadget makes a noise"})
		assert.NoError(t, err)
	}()
	<-backend.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Handle(ctx, HandleInput{ConversationID: "c1", Utterance: "hello?"})
	expectCode(t, err, ErrorConflict)
	require.True(t, IsConflict(err))

	close(backend.unblock)
	<-done

	sum, err := e.Summary(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 1, sum.TurnCount)
}

func TestHandle_DifferentConversationsRunConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := &mockBackend{reply: "ok", started: make(chan struct{}, 8), unblock: make(chan struct{})}
	e := newTestEngine(t, backend, nil)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Handle(context.Background(), HandleInput{
				ConversationID: fmt.Sprintf("c%d", i),
				Utterance:      "my gadget makes a noise",
			})
			assert.NoError(t, err)
		}()
	}
	for range 8 {
		select {
		case <-backend.started:
		case <-time.After(2 * time.Second):
			t.Fatal("conversations were serialized")
		}
	}
	close(backend.unblock)
	wg.Wait()
	require.Equal(t, 8, e.ActiveConversations())
}

// ---- reopen / history / summary ----

func TestReopen_NotFound(t *testing.T) {
	e := newTestEngine(t, &mockBackend{}, nil)

	err := e.Reopen(context.Background(), "missing")
	expectCode(t, err, ErrorNotFound)
	require.True(t, IsNotFound(err))

	expectCode(t, e.Reopen(context.Background(), " "), ErrorInvalidInput)
}

func TestSummary(t *testing.T) {
	e := newTestEngine(t, &mockBackend{reply: "ok"}, nil)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	e.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	handle(t, e, "c1", "hello")
	handle(t, e, "c1", "I am furious, this is unacceptable")

	sum, err := e.Summary(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "c1", sum.ConversationID)
	require.Equal(t, 2, sum.TurnCount)
	require.True(t, sum.Escalated)
	require.Equal(t, domain.ReasonNegativeSentiment, sum.EscalationReason)
	require.Equal(t, sum.LastActivity.Sub(sum.StartedAt), sum.Duration)
	require.Positive(t, sum.Duration)

	_, err = e.Summary(context.Background(), "missing")
	expectCode(t, err, ErrorNotFound)
	_, err = e.History(context.Background(), "missing")
	expectCode(t, err, ErrorNotFound)
}

// ---- feedback ----

func TestRecordFeedback(t *testing.T) {
	e := newTestEngine(t, &mockBackend{reply: "ok"}, nil)
	handle(t, e, "c1", "hello")

	require.NoError(t, e.RecordFeedback(context.Background(), FeedbackInput{ConversationID: "c1", Rating: 4, Comment: "mail me at a@b.test"}))

	ev := e.sink.last(t)
	require.Equal(t, domain.EventFeedback, ev.Type)
	require.Equal(t, "c1", ev.ConversationID)
	require.Equal(t, 4, ev.Rating)
	require.NotEmpty(t, ev.ID)
}

func TestRecordFeedback_Validation(t *testing.T) {
	e := newTestEngine(t, &mockBackend{reply: "ok"}, nil)
	handle(t, e, "c1", "hello")
	ctx := context.Background()

	cases := []struct {
		name   string
		in     FeedbackInput
		code   ErrorCode
		reason string
	}{
		{"rating too low", FeedbackInput{ConversationID: "c1", Rating: 0}, ErrorInvalidInput, "invalid_rating"},
		{"rating too high", FeedbackInput{ConversationID: "c1", Rating: 6}, ErrorInvalidInput, "invalid_rating"},
		{"comment too long", FeedbackInput{ConversationID: "c1", Rating: 3, Comment: strings.Repeat("é", 1001)}, ErrorInvalidInput, "comment_too_long"},
		{"empty id", FeedbackInput{Rating: 3}, ErrorInvalidInput, "empty_conversation_id"},
		{"unknown conversation", FeedbackInput{ConversationID: "missing", Rating: 3}, ErrorNotFound, "conversation_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.RecordFeedback(ctx, tc.in)
			expectCode(t, err, tc.code)
			require.Equal(t, tc.reason, ReasonOf(err))
		})
	}

	require.NoError(t, e.RecordFeedback(ctx, FeedbackInput{ConversationID: "c1", Rating: 5, Comment: strings.Repeat("é", 1000)}))
	require.Equal(t, domain.EventFeedback, e.sink.last(t).Type)
}

func TestRecordFeedback_ArchivedConversation(t *testing.T) {
	archive := newMemArchive()
	seedEscalated(archive, "old")
	e := newTestEngine(t, &mockBackend{}, archive)

	require.NoError(t, e.RecordFeedback(context.Background(), FeedbackInput{ConversationID: "old", Rating: 2}))
	require.Equal(t, 2, e.sink.last(t).Rating)
	require.Zero(t, e.ActiveConversations())
}

// ---- archive ----

func TestHandle_WritesArchive(t *testing.T) {
	archive := newMemArchive()
	e := newTestEngine(t, &mockBackend{reply: "ok"}, archive)

	handle(t, e, "c1", "how do I get a refund")
	handle(t, e, "c1", "talk to a human")

	rec, ok := archive.record("c1")
	require.True(t, ok)
	require.Len(t, rec.Turns, 2)
	require.Equal(t, 2, rec.Meta.TurnCount)
	require.True(t, rec.Meta.Escalated)
	require.Equal(t, domain.SourceKnowledgeBase, rec.Turns[0].Source)
}

func TestHandle_HydratesFromArchive(t *testing.T) {
	archive := newMemArchive()
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	archive.records["c1"] = domain.ConversationRecord{
		Meta: domain.ConversationMeta{
			ConversationID:   "c1",
			TurnCount:        5,
			Escalated:        true,
			EscalationReason: domain.ReasonKeywordMatch,
			StartedAt:        start,
			LastActivity:     start.Add(time.Hour),
		},
		Turns: []domain.Turn{{Utterance: "i will call my lawyer", Reply: "handoff", Source: domain.SourceEscalated, Timestamp: start}},
	}
	e := newTestEngine(t, &mockBackend{reply: "ok"}, archive)

	out := handle(t, e, "c1", "how do I get a refund")
	require.Equal(t, domain.SourceEscalated, out.Source)
	require.Equal(t, domain.ReasonKeywordMatch, out.Escalation.Reason)
	require.Equal(t, 6, out.TurnCount)

	sum, err := e.Summary(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, start, sum.StartedAt)
}

func seedEscalated(archive *memArchive, id string) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	archive.mu.Lock()
	defer archive.mu.Unlock()
	archive.records[id] = domain.ConversationRecord{
		Meta: domain.ConversationMeta{
			ConversationID:   id,
			TurnCount:        5,
			Escalated:        true,
			EscalationReason: domain.ReasonKeywordMatch,
			StartedAt:        start,
			LastActivity:     start.Add(time.Hour),
		},
		Turns: []domain.Turn{{Utterance: "i will call my lawyer", Reply: "handoff", Source: domain.SourceEscalated, Timestamp: start}},
	}
}

func TestHandle_ArchiveWriteFailuresAreNotSurfaced(t *testing.T) {
	archive := newMemArchive()
	archive.saveErr = errors.New("save down")
	e := newTestEngine(t, &mockBackend{reply: "ok"}, archive)

	out := handle(t, e, "c1", "how do I get a refund")
	require.Equal(t, domain.SourceKnowledgeBase, out.Source)
	require.Equal(t, 1, archive.appends)
}

func TestHandle_ArchiveLoadFailureIsRetried(t *testing.T) {
	archive := newMemArchive()
	seedEscalated(archive, "c1")
	archive.loadErr = errors.New("load down")
	e := newTestEngine(t, &mockBackend{reply: "ok"}, archive)

	_, err := e.Handle(context.Background(), HandleInput{ConversationID: "c1", Utterance: "how do I get a refund"})
	expectCode(t, err, ErrorInternal)
	require.Equal(t, "archive_load_error", ReasonOf(err))
	require.Zero(t, archive.appends)

	_, err = e.Summary(context.Background(), "c1")
	expectCode(t, err, ErrorInternal)

	archive.mu.Lock()
	archive.loadErr = nil
	archive.mu.Unlock()

	out := handle(t, e, "c1", "how do I get a refund")
	require.Equal(t, domain.SourceEscalated, out.Source)
	require.Equal(t, domain.ReasonKeywordMatch, out.Escalation.Reason)
	require.Equal(t, 6, out.TurnCount)

	rec, _ := archive.record("c1")
	require.True(t, rec.Meta.Escalated)
	require.Equal(t, 6, rec.Meta.TurnCount)
}

func TestHandle_ConflictDoesNotSkipHydration(t *testing.T) {
	archive := newMemArchive()
	seedEscalated(archive, "c1")
	e := newTestEngine(t, &mockBackend{reply: "ok"}, archive)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Handle(ctx, HandleInput{ConversationID: "c1", Utterance: "how do I get a refund"})
	expectCode(t, err, ErrorConflict)
	require.Zero(t, e.ActiveConversations())

	out := handle(t, e, "c1", "how do I get a refund")
	require.Equal(t, domain.SourceEscalated, out.Source)
	require.Equal(t, 6, out.TurnCount)

	rec, _ := archive.record("c1")
	require.True(t, rec.Meta.Escalated)
	require.Equal(t, 6, rec.Meta.TurnCount)
}

func TestUnknownConversationStaysNotFoundAfterFailedCalls(t *testing.T) {
	archive := newMemArchive()
	e := newTestEngine(t, &mockBackend{reply: "ok"}, archive)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Handle(ctx, HandleInput{ConversationID: "ghost", Utterance: "hello"})
	expectCode(t, err, ErrorConflict)

	// a load failure leaves an unhydrated conversation in memory
	archive.mu.Lock()
	archive.loadErr = errors.New("load down")
	archive.mu.Unlock()
	_, err = e.Handle(context.Background(), HandleInput{ConversationID: "ghost", Utterance: "hello"})
	expectCode(t, err, ErrorInternal)
	archive.mu.Lock()
	archive.loadErr = nil
	archive.mu.Unlock()

	expectCode(t, e.Reopen(context.Background(), "ghost"), ErrorNotFound)
	_, err = e.Summary(context.Background(), "ghost")
	expectCode(t, err, ErrorNotFound)
	_, err = e.History(context.Background(), "ghost")
	expectCode(t, err, ErrorNotFound)
	expectCode(t, e.Clear(context.Background(), "ghost"), ErrorNotFound)
}

func TestReopen_LoadsFromArchiveAfterEvict(t *testing.T) {
	archive := newMemArchive()
	e := newTestEngine(t, &mockBackend{reply: "ok"}, archive)

	handle(t, e, "c1", "talk to a human")
	ok, err := e.Evict(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, e.ActiveConversations())

	history, err := e.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Zero(t, e.ActiveConversations())

	require.NoError(t, e.Reopen(context.Background(), "c1"))
	rec, _ := archive.record("c1")
	require.False(t, rec.Meta.Escalated)

	out := handle(t, e, "c1", "how do I get a refund")
	require.Equal(t, domain.SourceKnowledgeBase, out.Source)
	require.Equal(t, 2, out.TurnCount)
}

// ---- evict / clear ----

func TestEvict(t *testing.T) {
	e := newTestEngine(t, &mockBackend{reply: "ok"}, nil)
	handle(t, e, "c1", "hello")

	ok, err := e.Evict(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Evict(context.Background(), "c1")
	require.NoError(t, err)
	require.False(t, ok)

	// a new utterance starts over
	out := handle(t, e, "c1", "hello")
	require.Equal(t, 1, out.TurnCount)
}

func TestClear(t *testing.T) {
	archive := newMemArchive()
	e := newTestEngine(t, &mockBackend{reply: "ok"}, archive)
	handle(t, e, "c1", "hello")

	require.NoError(t, e.Clear(context.Background(), "c1"))
	_, ok := archive.record("c1")
	require.False(t, ok)
	require.Zero(t, e.ActiveConversations())

	expectCode(t, e.Clear(context.Background(), "c1"), ErrorNotFound)
}

func TestClear_WithoutArchive(t *testing.T) {
	e := newTestEngine(t, &mockBackend{reply: "ok"}, nil)
	handle(t, e, "c1", "hello")

	require.NoError(t, e.Clear(context.Background(), "c1"))
	expectCode(t, e.Clear(context.Background(), "c1"), ErrorNotFound)
}

func TestEvictIdle(t *testing.T) {
	e := newTestEngine(t, &mockBackend{reply: "ok"}, nil)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	handle(t, e, "old", "hello")
	now = now.Add(time.Hour)
	handle(t, e, "new", "hello")

	evicted := e.EvictIdle(30 * time.Minute)
	require.Equal(t, []string{"old"}, evicted)
	require.Equal(t, 1, e.ActiveConversations())
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, ErrorConflict, CodeOf(fmt.Errorf("wrapped: %w", newError(ErrorConflict, "busy", nil))))
	require.Equal(t, ErrorInternal, CodeOf(errors.New("plain")))
	require.Equal(t, "usecase: NOT_FOUND (missing)", newError(ErrorNotFound, "missing", nil).Error())
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	require.Equal(t, 400, ErrorInvalidInput.HTTPStatus())
	require.Equal(t, 409, ErrorConflict.HTTPStatus())
	require.Equal(t, 404, ErrorNotFound.HTTPStatus())
	require.Equal(t, 500, ErrorInternal.HTTPStatus())
	require.Equal(t, "unexpected_error", ReasonOf(errors.New("boom")))
	require.Equal(t, "busy", ReasonOf(newError(ErrorConflict, "busy", nil)))
}
