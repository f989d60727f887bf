package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadpilot/db"
	"leadpilot/knowledge"
	"leadpilot/metrics"
	"leadpilot/notify"
	"leadpilot/utils"
)

// Options configures a Handler
type Options struct {
	// Identity is the operator handle named in the compliance footer
	Identity   string
	FetchLimit int
	TopK       int
	Logger     *utils.Logger
	Metrics    *metrics.Metrics
	// Now overrides the clock used for log timestamps
	Now func() time.Time
}

// Handler runs the per-participant conversation state machine
type Handler struct {
	inbox     Inbox
	store     Store
	retriever Retriever
	generator Generator
	notifier  notify.Notifier

	footer string
	limit  int
	topK   int
	now    func() time.Time
	locks  *handleLocks

	logger  *utils.Logger
	metrics *metrics.Metrics
}

// NewHandler creates a conversation handler
func NewHandler(inbox Inbox, store Store, retriever Retriever, generator Generator, notifier notify.Notifier, opts Options) *Handler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 25
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		inbox:     inbox,
		store:     store,
		retriever: retriever,
		generator: generator,
		notifier:  notifier,
		footer:    Footer(opts.Identity),
		limit:     opts.FetchLimit,
		topK:      opts.TopK,
		now:       opts.Now,
		locks:     newHandleLocks(),
		logger:    opts.Logger.Named("inbox"),
		metrics:   opts.Metrics,
	}
}

// Poll handles every unread message once. Messages are processed
// independently: one failure does not stop the rest, and the joined errors
// are returned with the number of messages handled.
func (h *Handler) Poll(ctx context.Context) (int, error) {
	msgs, err := h.inbox.FetchUnread(ctx, h.limit)
	if err != nil {
		return 0, fmt.Errorf("fetch unread: %w", err)
	}

	var (
		handled int
		errs    []error
	)
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		outcome, err := h.Process(ctx, msg)
		h.metrics.RecordInbound(string(outcome))
		if err != nil {
			errs = append(errs, fmt.Errorf("message %s from %s: %w", msg.ExternalID, msg.Sender, err))
			continue
		}
		if outcome == OutcomeReplied || outcome == OutcomeTakeover {
			handled++
		}
	}
	return handled, errors.Join(errs...)
}

// Process runs one inbound message through the state machine. Work for the
// same sender is serialized.
func (h *Handler) Process(ctx context.Context, msg Message) (Outcome, error) {
	if !msg.Direct {
		// comment replies and mentions are not conversations
		if err := h.inbox.MarkConsumed(ctx, msg); err != nil {
			h.logger.Warn("Failed to mark non-message item %s read: %v", msg.ExternalID, err)
		}
		return OutcomeSkipped, nil
	}
	msg.Sender = db.NormalizeHandle(msg.Sender)
	if msg.Sender == "" {
		h.logger.Debug("Skipping message %s without a sender", msg.ExternalID)
		return OutcomeSkipped, nil
	}

	unlock := h.locks.lock(msg.Sender)
	defer unlock()

	seen, err := h.store.HasInboundMessage(ctx, msg.ExternalID)
	if err != nil {
		return OutcomeFailed, err
	}
	if seen {
		// recorded on an earlier poll whose consume step did not stick
		h.consume(ctx, msg)
		return OutcomeDuplicate, nil
	}

	conv, err := h.store.FindOrCreateConversation(ctx, msg.Sender)
	if err != nil {
		return OutcomeFailed, err
	}

	if conv.HumanTakeover {
		return h.processTakeover(ctx, conv, msg)
	}
	return h.processAuto(ctx, conv, msg)
}

func (h *Handler) processTakeover(ctx context.Context, conv *db.Conversation, msg Message) (Outcome, error) {
	if _, err := h.store.AppendMessage(ctx, conv.ID, db.RoleUser, msg.Body, msg.ExternalID, h.now()); err != nil {
		return OutcomeFailed, err
	}
	h.consume(ctx, msg)

	h.logger.Info("Human takeover active for u/%s, no automated reply sent", msg.Sender)
	h.notifier.Notify(ctx, notify.KindTakeover, notify.Payload{Handle: msg.Sender, Message: msg.Body})
	return OutcomeTakeover, nil
}

func (h *Handler) processAuto(ctx context.Context, conv *db.Conversation, msg Message) (Outcome, error) {
	chunks := h.retriever.Retrieve(ctx, msg.Body, h.topK)
	reply := h.generator.Generate(ctx, msg.Body, knowledge.Texts(chunks)) + h.footer

	// takeover may have been switched on by another process while generating
	current, err := h.store.GetConversation(ctx, conv.Handle)
	if err != nil {
		return OutcomeFailed, err
	}
	if current.HumanTakeover {
		return h.processTakeover(ctx, current, msg)
	}

	if err := h.inbox.Reply(ctx, msg, reply); err != nil {
		h.logger.Warn("Failed to deliver reply to u/%s, will retry next poll: %v", msg.Sender, err)
		return OutcomeDeliveryFailed, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	_, err = h.store.AppendExchange(ctx, conv.ID, msg.ExternalID, msg.Body, reply, h.now())
	if errors.Is(err, db.ErrTakeoverActive) {
		h.logger.Warn("Takeover for u/%s began while replying, reply sent but not logged", msg.Sender)
		return h.processTakeover(ctx, conv, msg)
	}
	if err != nil {
		h.logger.Error("Reply to u/%s was sent but not recorded: %v", msg.Sender, err)
		return OutcomeFailed, err
	}
	h.consume(ctx, msg)

	h.logger.Info("Replied to u/%s using %d knowledge chunk(s)", msg.Sender, len(chunks))
	h.notifier.Notify(ctx, notify.KindExchange, notify.Payload{Handle: msg.Sender, Message: msg.Body, Reply: reply})
	return OutcomeReplied, nil
}

// consume marks msg read upstream. A failure only means the message comes
// back on the next poll, where it is recognized as already recorded.
func (h *Handler) consume(ctx context.Context, msg Message) {
	if err := h.inbox.MarkConsumed(ctx, msg); err != nil {
		h.logger.Warn("Failed to mark message %s read: %v", msg.ExternalID, err)
	}
}

// SetTakeover enables or disables human takeover for handle. It waits for any
// in-flight processing of the same handle.
func (h *Handler) SetTakeover(ctx context.Context, handle string, enabled bool) (*db.Conversation, error) {
	handle = db.NormalizeHandle(handle)
	unlock := h.locks.lock(handle)
	defer unlock()

	conv, err := h.store.GetConversation(ctx, handle)
	if err != nil {
		return nil, err
	}
	if err := h.store.SetTakeover(ctx, conv.ID, enabled); err != nil {
		return nil, err
	}
	conv.HumanTakeover = enabled
	h.logger.Info("Human takeover for u/%s set to %t", handle, enabled)
	return conv, nil
}
