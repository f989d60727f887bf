package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(DriverPure, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New("postgres", ":memory:")
	assert.Error(t, err)
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.migrate())
}

func TestUpsertLeadDedup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &Lead{ExternalID: "abc123", Title: "Hiring closers", Source: "sales", Score: 80}
	inserted, err := db.UpsertLead(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, first.ID)
	assert.Equal(t, LeadNew, first.Status)

	second := &Lead{ExternalID: "abc123", Title: "Something else", Score: 10}
	inserted, err = db.UpsertLead(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Zero(t, second.ID)

	leads, err := db.ListLeads(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "Hiring closers", leads[0].Title)
	assert.Equal(t, 80.0, leads[0].Score)
}

func TestUpsertLeadRequiresExternalID(t *testing.T) {
	db := newTestDB(t)
	_, err := db.UpsertLead(context.Background(), &Lead{Title: "x"})
	assert.Error(t, err)
}

func TestUpdateLeadStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, err := db.UpsertLead(ctx, &Lead{ExternalID: "p1"})
	require.NoError(t, err)

	require.NoError(t, db.UpdateLeadStatus(ctx, "p1", LeadBookmarked))
	lead, err := db.GetLead(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, LeadBookmarked, lead.Status)

	assert.Error(t, db.UpdateLeadStatus(ctx, "p1", "archived"))
	err = db.UpdateLeadStatus(ctx, "missing", LeadIgnored)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFindOrCreateConversation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	conv, err := db.FindOrCreateConversation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusNew, conv.Status)
	assert.False(t, conv.HumanTakeover)

	again, err := db.FindOrCreateConversation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	_, err = db.GetConversation(ctx, "bob")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSetTakeover(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv, err := db.FindOrCreateConversation(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, db.SetTakeover(ctx, conv.ID, true))
	got, err := db.GetConversation(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.HumanTakeover)

	require.NoError(t, db.SetTakeover(ctx, conv.ID, false))
	got, err = db.GetConversation(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, got.HumanTakeover)

	assert.True(t, errors.Is(db.SetTakeover(ctx, 999, true), ErrNotFound))
}

func TestAppendMessageKeepsOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return base.Add(-time.Hour) }
	conv, err := db.FindOrCreateConversation(ctx, "alice")
	require.NoError(t, err)

	_, err = db.AppendMessage(ctx, conv.ID, RoleUser, "first", "m1", base)
	require.NoError(t, err)
	// an earlier timestamp is clamped to the last entry
	late, err := db.AppendMessage(ctx, conv.ID, RoleUser, "second", "m2", base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, base, late.CreatedAt)

	msgs, err := db.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.False(t, msgs[1].CreatedAt.Before(msgs[0].CreatedAt))

	got, err := db.GetConversation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, base, got.LastActivityAt)
}

func TestAppendMessageNotBeforeConversation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return created }
	conv, err := db.FindOrCreateConversation(ctx, "alice")
	require.NoError(t, err)

	msg, err := db.AppendMessage(ctx, conv.ID, RoleUser, "hi", "m1", created.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, created, msg.CreatedAt)

	got, err := db.GetConversation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created, got.LastActivityAt)
}

func TestAppendMessageRejectsUnknownRole(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv, err := db.FindOrCreateConversation(ctx, "alice")
	require.NoError(t, err)
	_, err = db.AppendMessage(ctx, conv.ID, "system", "x", "", time.Now())
	assert.Error(t, err)
}

func TestAppendExchange(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv, err := db.FindOrCreateConversation(ctx, "alice")
	require.NoError(t, err)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs, err := db.AppendExchange(ctx, conv.ID, "t3_1", "hello?", "hi, I am an AI assistant", ts)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	log, err := db.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, RoleUser, log[0].Role)
	assert.Equal(t, "t3_1", log[0].ExternalID)
	assert.Equal(t, RoleAssistant, log[1].Role)

	got, err := db.GetConversation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusEngaged, got.Status)

	seen, err := db.HasInboundMessage(ctx, "t3_1")
	require.NoError(t, err)
	assert.True(t, seen)

	// the same inbound id can never be logged twice
	_, err = db.AppendExchange(ctx, conv.ID, "t3_1", "hello?", "again", ts)
	assert.Error(t, err)
	log, err = db.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, log, 2)
}

func TestAppendExchangeRefusedUnderTakeover(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv, err := db.FindOrCreateConversation(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, db.SetTakeover(ctx, conv.ID, true))

	_, err = db.AppendExchange(ctx, conv.ID, "t4_1", "hello?", "automated", time.Now())
	assert.ErrorIs(t, err, ErrTakeoverActive)

	log, err := db.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, log)
	got, err := db.GetConversation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusNew, got.Status)

	// the human may still log the message without a reply
	_, err = db.AppendMessage(ctx, conv.ID, RoleUser, "hello?", "t4_1", time.Now())
	require.NoError(t, err)

	_, err = db.AppendExchange(ctx, 999, "", "x", "y", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendExchangeKeepsQualifiedStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv, err := db.FindOrCreateConversation(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, db.UpdateConversationStatus(ctx, conv.ID, StatusEngaged))
	require.NoError(t, db.UpdateConversationStatus(ctx, conv.ID, StatusQualified))

	_, err = db.AppendExchange(ctx, conv.ID, "", "more", "reply", time.Now())
	require.NoError(t, err)
	got, err := db.GetConversation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusQualified, got.Status)
}

func TestUpdateConversationStatusTransitions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv, err := db.FindOrCreateConversation(ctx, "alice")
	require.NoError(t, err)

	assert.Error(t, db.UpdateConversationStatus(ctx, conv.ID, StatusQualified))
	require.NoError(t, db.UpdateConversationStatus(ctx, conv.ID, StatusEngaged))
	require.NoError(t, db.UpdateConversationStatus(ctx, conv.ID, StatusClosed))
	assert.Error(t, db.UpdateConversationStatus(ctx, conv.ID, StatusEngaged))
}

func TestSystemLogs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, db.AppendSystemLog("ERROR", "inbox", "delivery failed", now))
	require.NoError(t, db.AppendSystemLog("WARN", "monitor", "feed timeout", now.Add(time.Second)))

	all, err := db.ListSystemLogs(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "monitor", all[0].Component)

	inbox, err := db.ListSystemLogs(ctx, "inbox", 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "ERROR", inbox[0].Level)
	assert.NotEmpty(t, inbox[0].ID)
}

func TestGetStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, err := db.UpsertLead(ctx, &Lead{ExternalID: "a"})
	require.NoError(t, err)
	_, err = db.UpsertLead(ctx, &Lead{ExternalID: "b"})
	require.NoError(t, err)
	conv, err := db.FindOrCreateConversation(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, db.SetTakeover(ctx, conv.ID, true))
	_, err = db.AppendMessage(ctx, conv.ID, RoleUser, "hi", "", time.Now())
	require.NoError(t, err)

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalLeads())
	assert.Equal(t, int64(1), stats.ConversationsByStatus[StatusNew])
	assert.Equal(t, int64(1), stats.TakeoverCount)
	assert.Equal(t, int64(1), stats.MessageCount)
	assert.Positive(t, stats.DBSizeBytes)
}
