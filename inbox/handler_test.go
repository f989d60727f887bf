package inbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpilot/db"
	"leadpilot/knowledge"
	"leadpilot/llm"
	"leadpilot/notify"
	"leadpilot/retrieval"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.New(db.DriverPure, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

type fakeInbox struct {
	mu         sync.Mutex
	unread     []Message
	replies    map[string]string
	consumed   []string
	replyErr   error
	consumeErr error
}

func newFakeInbox(msgs ...Message) *fakeInbox {
	return &fakeInbox{unread: msgs, replies: make(map[string]string)}
}

func (f *fakeInbox) FetchUnread(_ context.Context, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.unread {
		if !f.isConsumed(m.ExternalID) {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeInbox) isConsumed(id string) bool {
	for _, c := range f.consumed {
		if c == id {
			return true
		}
	}
	return false
}

func (f *fakeInbox) MarkConsumed(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return f.consumeErr
	}
	f.consumed = append(f.consumed, msg.ExternalID)
	return nil
}

func (f *fakeInbox) Reply(_ context.Context, msg Message, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return f.replyErr
	}
	f.replies[msg.ExternalID] = text
	return nil
}

type fakeRetriever struct {
	calls  atomic.Int32
	chunks []knowledge.Chunk
}

func (f *fakeRetriever) Retrieve(context.Context, string, int) []knowledge.Chunk {
	f.calls.Add(1)
	return f.chunks
}

type fakeGenerator struct {
	calls atomic.Int32
	reply string
	got   []string
}

func (f *fakeGenerator) Generate(_ context.Context, question string, chunks []string) string {
	f.calls.Add(1)
	f.got = chunks
	return f.reply
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []notify.Kind
	last  notify.Payload
}

func (r *recordingNotifier) Notify(_ context.Context, kind notify.Kind, p notify.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	r.last = p
}

func dm(id, sender, body string) Message {
	return Message{ExternalID: id, Sender: sender, Body: body, Direct: true}
}

type fixture struct {
	store *db.DB
	inbox *fakeInbox
	ret   *fakeRetriever
	gen   *fakeGenerator
	note  *recordingNotifier
	h     *Handler
}

func newFixture(t *testing.T, msgs ...Message) *fixture {
	f := &fixture{
		store: newTestDB(t),
		inbox: newFakeInbox(msgs...),
		ret:   &fakeRetriever{chunks: []knowledge.Chunk{{Text: "We pay 20% commission."}}},
		gen:   &fakeGenerator{reply: "Hi, I'm an automated assistant. We pay 20% commission."},
		note:  &recordingNotifier{},
	}
	f.h = NewHandler(f.inbox, f.store, f.ret, f.gen, f.note, Options{Identity: "operator"})
	return f
}

func (f *fixture) log(t *testing.T, handle string) []*db.Message {
	t.Helper()
	conv, err := f.store.GetConversation(context.Background(), handle)
	require.NoError(t, err)
	msgs, err := f.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	return msgs
}

func roles(msgs []*db.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestFooter(t *testing.T) {
	assert.Equal(t, "\n\n*(This is an automated message by /u/operator's AI assistant)*", Footer("operator"))
	assert.NotContains(t, Footer(""), "/u/")
}

func TestAutoReply(t *testing.T) {
	f := newFixture(t, dm("m1", "alice", "What is the commission?"))
	ctx := context.Background()

	n, err := f.h.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reply := f.inbox.replies["m1"]
	assert.True(t, strings.HasPrefix(reply, "Hi, I'm an automated assistant."))
	assert.True(t, strings.HasSuffix(reply, Footer("operator")))
	assert.Equal(t, []string{"We pay 20% commission."}, f.gen.got)
	assert.Equal(t, []string{"m1"}, f.inbox.consumed)

	msgs := f.log(t, "alice")
	assert.Empty(t, cmp.Diff([]string{db.RoleUser, db.RoleAssistant}, roles(msgs)))
	assert.Equal(t, "What is the commission?", msgs[0].Content)
	assert.Equal(t, reply, msgs[1].Content)

	conv, err := f.store.GetConversation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, db.StatusEngaged, conv.Status)

	assert.Equal(t, []notify.Kind{notify.KindExchange}, f.note.kinds)
	assert.Equal(t, reply, f.note.last.Reply)
}

func TestTakeoverSuppressesAutomation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.store.FindOrCreateConversation(ctx, "bob")
	require.NoError(t, err)
	_, err = f.h.SetTakeover(ctx, "bob", true)
	require.NoError(t, err)

	for _, id := range []string{"m2", "m3", "m4"} {
		outcome, err := f.h.Process(ctx, dm(id, "bob", "are you a bot?"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeTakeover, outcome)
	}

	assert.Zero(t, f.ret.calls.Load())
	assert.Zero(t, f.gen.calls.Load())
	assert.Empty(t, f.inbox.replies)
	assert.Equal(t, []string{"m2", "m3", "m4"}, f.inbox.consumed)

	msgs := f.log(t, "bob")
	assert.Equal(t, []string{db.RoleUser, db.RoleUser, db.RoleUser}, roles(msgs))

	after, err := f.store.GetConversation(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, db.StatusNew, after.Status)
	assert.True(t, after.HumanTakeover)
	assert.False(t, after.LastActivityAt.Before(conv.LastActivityAt))

	assert.Equal(t, []notify.Kind{notify.KindTakeover, notify.KindTakeover, notify.KindTakeover}, f.note.kinds)

	// automation resumes once the flag is cleared
	_, err = f.h.SetTakeover(ctx, "bob", false)
	require.NoError(t, err)
	outcome, err := f.h.Process(ctx, dm("m5", "bob", "hello again"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)
	assert.Contains(t, f.inbox.replies, "m5")
	assert.Equal(t, []string{db.RoleUser, db.RoleUser, db.RoleUser, db.RoleUser, db.RoleAssistant}, roles(f.log(t, "bob")))
}

// takeoverGenerator flips the takeover flag directly in the store while a
// reply is being generated, the way a second process would.
type takeoverGenerator struct {
	t     *testing.T
	store *db.DB
}

func (g *takeoverGenerator) Generate(ctx context.Context, _ string, _ []string) string {
	conv, err := g.store.GetConversation(ctx, "carol")
	require.NoError(g.t, err)
	require.NoError(g.t, g.store.SetTakeover(ctx, conv.ID, true))
	return "automated answer"
}

func TestTakeoverDuringGenerationSuppressesReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewHandler(f.inbox, f.store, f.ret, &takeoverGenerator{t: t, store: f.store}, f.note, Options{Identity: "operator"})

	outcome, err := h.Process(ctx, dm("m1", "carol", "hi"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTakeover, outcome)

	assert.Empty(t, f.inbox.replies)
	assert.Equal(t, []string{"m1"}, f.inbox.consumed)
	assert.Equal(t, []string{db.RoleUser}, roles(f.log(t, "carol")))
	assert.Equal(t, []notify.Kind{notify.KindTakeover}, f.note.kinds)
}

// takeoverInbox switches takeover on while the reply is being delivered
type takeoverInbox struct {
	*fakeInbox
	store *db.DB
}

func (i *takeoverInbox) Reply(ctx context.Context, msg Message, text string) error {
	conv, err := i.store.GetConversation(ctx, msg.Sender)
	if err != nil {
		return err
	}
	if err := i.store.SetTakeover(ctx, conv.ID, true); err != nil {
		return err
	}
	return i.fakeInbox.Reply(ctx, msg, text)
}

func TestTakeoverDuringDeliveryKeepsAssistantOutOfLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	box := &takeoverInbox{fakeInbox: f.inbox, store: f.store}
	h := NewHandler(box, f.store, f.ret, f.gen, f.note, Options{Identity: "operator"})

	outcome, err := h.Process(ctx, dm("m1", "dave", "hi"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTakeover, outcome)

	assert.Equal(t, []string{db.RoleUser}, roles(f.log(t, "dave")))
	assert.Equal(t, []string{"m1"}, f.inbox.consumed)

	conv, err := f.store.GetConversation(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, db.StatusNew, conv.Status)
}

func TestHandlesAreCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.h.Process(ctx, dm("m1", "Erin", "hello"))
	require.NoError(t, err)
	_, err = f.h.SetTakeover(ctx, "ERIN", true)
	require.NoError(t, err)

	outcome, err := f.h.Process(ctx, dm("m2", "erin", "still there?"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTakeover, outcome)

	convs, err := f.store.ListConversations(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "erin", convs[0].Handle)
	assert.Equal(t, []string{db.RoleUser, db.RoleAssistant, db.RoleUser}, roles(f.log(t, "Erin")))
}

func TestTakeoverUnknownHandle(t *testing.T) {
	f := newFixture(t)
	_, err := f.h.SetTakeover(context.Background(), "nobody", true)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestDeliveryFailureLeavesMessageUnconsumed(t *testing.T) {
	f := newFixture(t, dm("m3", "carol", "hello"))
	f.inbox.replyErr = errors.New("403 forbidden")
	ctx := context.Background()

	n, err := f.h.Poll(ctx)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Zero(t, n)
	assert.Empty(t, f.inbox.consumed)
	assert.Empty(t, f.log(t, "carol"))
	assert.Empty(t, f.note.kinds)

	// the next poll retries and succeeds
	f.inbox.replyErr = nil
	n, err = f.h.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{db.RoleUser, db.RoleAssistant}, roles(f.log(t, "carol")))
}

func TestNonDirectItemsAreConsumedAndSkipped(t *testing.T) {
	f := newFixture(t, Message{ExternalID: "c1", Sender: "dave", Body: "nice post", Direct: false})

	n, err := f.h.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"c1"}, f.inbox.consumed)
	assert.Zero(t, f.gen.calls.Load())

	_, err = f.store.GetConversation(context.Background(), "dave")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestMissingSenderIsSkipped(t *testing.T) {
	f := newFixture(t)
	outcome, err := f.h.Process(context.Background(), dm("m9", "", "hi"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Zero(t, f.gen.calls.Load())
}

func TestRedeliveredMessageIsNotAnsweredTwice(t *testing.T) {
	f := newFixture(t, dm("m4", "erin", "hi"))
	f.inbox.consumeErr = errors.New("timeout")
	ctx := context.Background()

	_, err := f.h.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, f.inbox.replies, 1)

	f.inbox.consumeErr = nil
	outcome, err := f.h.Process(ctx, dm("m4", "erin", "hi"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, int32(1), f.gen.calls.Load())
	assert.Equal(t, []string{"m4"}, f.inbox.consumed)
	assert.Len(t, f.log(t, "erin"), 2)
}

func TestLogOrderingWithClockSkew(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Hour), base.Add(time.Minute)}
	i := 0
	f.h.now = func() time.Time {
		ts := ticks[i]
		i++
		return ts
	}
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := f.h.Process(ctx, dm(id, "frank", "msg "+id))
		require.NoError(t, err)
	}

	msgs := f.log(t, "frank")
	require.Len(t, msgs, 6)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt), "entry %d goes back in time", i)
	}
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, db.RoleUser, msgs[i].Role)
		assert.Equal(t, db.RoleAssistant, msgs[i+1].Role)
	}
}

// blockingGenerator tracks how many generations run at once
type blockingGenerator struct {
	active  atomic.Int32
	max     atomic.Int32
	release chan struct{}
}

func (g *blockingGenerator) Generate(context.Context, string, []string) string {
	n := g.active.Add(1)
	for {
		m := g.max.Load()
		if n <= m || g.max.CompareAndSwap(m, n) {
			break
		}
	}
	<-g.release
	g.active.Add(-1)
	return "reply"
}

func TestProcessingIsSerializedPerHandle(t *testing.T) {
	store := newTestDB(t)
	gen := &blockingGenerator{release: make(chan struct{})}
	h := NewHandler(newFakeInbox(), store, &fakeRetriever{}, gen, nil, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"x1", "x2", "x3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.Process(ctx, dm(id, "grace", "hi"))
			assert.NoError(t, err)
		}(id)
	}

	for i := 0; i < 3; i++ {
		gen.release <- struct{}{}
	}
	wg.Wait()

	assert.Equal(t, int32(1), gen.max.Load())
	assert.Zero(t, h.locks.size())

	conv, err := store.GetConversation(ctx, "grace")
	require.NoError(t, err)
	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 6)
}

func TestDifferentHandlesRunConcurrently(t *testing.T) {
	gen := &blockingGenerator{release: make(chan struct{})}
	h := NewHandler(newFakeInbox(), newTestDB(t), &fakeRetriever{}, gen, nil, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, sender := range []string{"h1", "h2"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			_, err := h.Process(ctx, dm("id-"+sender, sender, "hi"))
			assert.NoError(t, err)
		}(sender)
	}

	require.Eventually(t, func() bool { return gen.active.Load() == 2 }, 5*time.Second, time.Millisecond)
	gen.release <- struct{}{}
	gen.release <- struct{}{}
	wg.Wait()
}

func TestPlaceholderReplyWithoutProviders(t *testing.T) {
	store := newTestDB(t)
	corpus := knowledge.NewStaticStore([]knowledge.Chunk{{Text: "We offer remote sales roles."}})
	engine := retrieval.NewEngine(retrieval.NewLexical(corpus), nil, nil, nil)
	chain := llm.NewChain(nil)
	in := newFakeInbox(dm("p1", "heidi", "any remote roles?"))
	h := NewHandler(in, store, engine, chain, notify.Nop{}, Options{Identity: "operator"})

	n, err := h.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, chain.Placeholder()+Footer("operator"), in.replies["p1"])
}
