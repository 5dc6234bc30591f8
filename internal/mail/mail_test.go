package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGmailLister_ListRecent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer AT1", r.Header.Get("Authorization"))

		if strings.HasSuffix(r.URL.Path, "/messages") {
			require.Equal(t, "2", r.URL.Query().Get("maxResults"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]string{{"id": "m1"}, {"id": "m2"}},
			})
			return
		}

		id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           id,
			"snippet":      "snippet of " + id,
			"internalDate": "1748779200000", // 2025-06-01T12:00:00Z
			"labelIds":     []string{"INBOX", "UNREAD"},
			"payload": map[string]any{
				"headers": []map[string]string{
					{"name": "Subject", "value": "hello " + id},
					{"name": "From", "value": "alice@example.com"},
				},
			},
		})
	}))
	defer srv.Close()

	l := NewGmailLister(GmailConfig{ListEndpoint: srv.URL + "/messages"})
	msgs, err := l.ListRecent(context.Background(), "AT1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "hello m1", msgs[0].Subject)
	require.Equal(t, "alice@example.com", msgs[0].From)
	require.True(t, msgs[0].Unread)
	require.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), msgs[0].ReceivedAt)
}

func TestGmailLister_TokenRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	l := NewGmailLister(GmailConfig{ListEndpoint: srv.URL + "/messages"})
	_, err := l.ListRecent(context.Background(), "expired", 5)
	require.ErrorIs(t, err, ErrTokenRejected)
}

func TestGraphLister_ListRecent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer AT1", r.Header.Get("Authorization"))
		require.Equal(t, "3", r.URL.Query().Get("$top"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{
					"id":               "g1",
					"subject":          "quarterly report",
					"bodyPreview":      "attached you will find",
					"receivedDateTime": "2025-06-01T12:00:00Z",
					"isRead":           false,
					"from": map[string]any{
						"emailAddress": map[string]string{
							"name":    "Bob",
							"address": "bob@contoso.com",
						},
					},
				},
			},
		})
	}))
	defer srv.Close()

	l := NewGraphLister(GraphConfig{MessagesEndpoint: srv.URL + "/me/messages"})
	msgs, err := l.ListRecent(context.Background(), "AT1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "g1", msgs[0].ID)
	require.Equal(t, "Bob <bob@contoso.com>", msgs[0].From)
	require.True(t, msgs[0].Unread)
}

func TestGraphLister_UpstreamFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	l := NewGraphLister(GraphConfig{MessagesEndpoint: srv.URL + "/me/messages"})
	_, err := l.ListRecent(context.Background(), "AT1", 3)
	require.ErrorIs(t, err, ErrUpstream)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("google", NewGmailLister(GmailConfig{}))

	_, err := r.For("google")
	require.NoError(t, err)
	_, err = r.For("microsoft")
	require.Error(t, err)
}
