package reddit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpilot/inbox"
	"leadpilot/utils"
)

type fakeReddit struct {
	t         *testing.T
	mux       *http.ServeMux
	srv       *httptest.Server
	refreshes atomic.Int32
	forms     map[string][]string
}

func newFakeReddit(t *testing.T) *fakeReddit {
	f := &fakeReddit{t: t, mux: http.NewServeMux(), forms: make(map[string][]string)}
	f.mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "id", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, UserAgent("operator"), r.UserAgent())
		f.refreshes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	})
	f.srv = httptest.NewServer(f.mux)
	t.Cleanup(f.srv.Close)
	return f
}

// handle registers an authenticated API route
func (f *fakeReddit) handle(pattern string, fn http.HandlerFunc) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(f.t, UserAgent("operator"), r.UserAgent())
		if r.Method == http.MethodPost {
			require.NoError(f.t, r.ParseForm())
			for k, v := range r.PostForm {
				f.forms[r.URL.Path+" "+k] = v
			}
		}
		fn(w, r)
	})
}

func (f *fakeReddit) client(t *testing.T) *Client {
	c, err := New(utils.RedditConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		RefreshToken: "refresh",
		Username:     "operator",
		BaseURL:      f.srv.URL,
		TokenURL:     f.srv.URL + "/api/v1/access_token",
		Timeout:      5 * time.Second,
	}, nil, nil)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(utils.RedditConfig{ClientID: "id"}, nil, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "web:SalesAutomation:v1.0.0 (by /u/operator)", UserAgent("operator"))
}

func TestFetchNewItems(t *testing.T) {
	f := newFakeReddit(t)
	f.handle("GET /r/sales+forhire/new", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		writeJSON(w, map[string]any{"data": map[string]any{"children": []any{
			map[string]any{"kind": "t3", "data": map[string]any{
				"id": "abc123", "name": "t3_abc123", "title": "Hiring closers", "selftext": "commission only",
				"subreddit": "sales", "author": "bob", "url": "https://reddit.com/r/sales/abc123", "created_utc": 1700000000.0,
			}},
			map[string]any{"kind": "t3", "data": map[string]any{
				"id": "def456", "title": "Self post", "subreddit": "forhire", "permalink": "/r/forhire/comments/def456/",
			}},
			map[string]any{"kind": "more", "data": map[string]any{"id": "zzz"}},
		}}})
	})

	items, err := f.client(t).FetchNewItems(context.Background(), []string{"sales", "forhire"}, 20)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "abc123", items[0].ExternalID)
	assert.Equal(t, "Hiring closers", items[0].Title)
	assert.Equal(t, "commission only", items[0].Body)
	assert.Equal(t, "sales", items[0].Source)
	assert.Equal(t, "bob", items[0].Author)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), items[0].CreatedAt)

	assert.Equal(t, "https://www.reddit.com/r/forhire/comments/def456/", items[1].URL)
	assert.Equal(t, int32(1), f.refreshes.Load())
}

func TestFetchNewItemsWithoutSources(t *testing.T) {
	f := newFakeReddit(t)
	items, err := f.client(t).FetchNewItems(context.Background(), nil, 20)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, f.refreshes.Load())
}

func TestFetchNewItemsHTTPError(t *testing.T) {
	f := newFakeReddit(t)
	f.handle("GET /r/sales/new", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	})
	_, err := f.client(t).FetchNewItems(context.Background(), []string{"sales"}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestFetchUnread(t *testing.T) {
	f := newFakeReddit(t)
	f.handle("GET /message/unread", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		writeJSON(w, map[string]any{"data": map[string]any{"children": []any{
			map[string]any{"kind": "t4", "data": map[string]any{
				"id": "m1", "name": "t4_m1", "author": "Alice", "subject": "question", "body": "what's the pay?", "created_utc": 1700000100.0,
			}},
			map[string]any{"kind": "t1", "data": map[string]any{
				"id": "c1", "author": "dave", "body": "nice post",
			}},
		}}})
	})

	msgs, err := f.client(t).FetchUnread(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, inbox.Message{
		ExternalID: "t4_m1",
		Sender:     "alice",
		Subject:    "question",
		Body:       "what's the pay?",
		Direct:     true,
		ReceivedAt: time.Unix(1700000100, 0).UTC(),
	}, msgs[0])
	assert.Equal(t, "t1_c1", msgs[1].ExternalID)
	assert.False(t, msgs[1].Direct)
}

func TestMarkConsumed(t *testing.T) {
	f := newFakeReddit(t)
	f.handle("POST /api/read_message", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{})
	})

	err := f.client(t).MarkConsumed(context.Background(), inbox.Message{ExternalID: "t4_m1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t4_m1"}, f.forms["/api/read_message id"])
}

func TestReply(t *testing.T) {
	f := newFakeReddit(t)
	f.handle("POST /api/comment", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"json": map[string]any{"errors": []any{}}})
	})

	err := f.client(t).Reply(context.Background(), inbox.Message{ExternalID: "t4_m1", Sender: "alice"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"t4_m1"}, f.forms["/api/comment thing_id"])
	assert.Equal(t, []string{"hello"}, f.forms["/api/comment text"])
	assert.Equal(t, []string{"json"}, f.forms["/api/comment api_type"])
}

func TestReplyRejected(t *testing.T) {
	f := newFakeReddit(t)
	f.handle("POST /api/comment", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"json": map[string]any{"errors": []any{
			[]any{"USER_BLOCKED", "that user has blocked you", "thing_id"},
		}}})
	})

	err := f.client(t).Reply(context.Background(), inbox.Message{ExternalID: "t4_m1"}, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "USER_BLOCKED")
}

func TestTokenIsReused(t *testing.T) {
	f := newFakeReddit(t)
	f.handle("POST /api/read_message", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{})
	})
	c := f.client(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.MarkConsumed(context.Background(), inbox.Message{ExternalID: "t4_x"}))
	}
	assert.Equal(t, int32(1), f.refreshes.Load())
}
