package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	graphMessagesEndpoint = "https://graph.microsoft.com/v1.0/me/messages"
)

// GraphLister lists recent Outlook messages through Microsoft Graph.
// Unlike Gmail, one request returns everything we need.
type GraphLister struct {
	http        *http.Client
	messagesURL string
}

// GraphConfig configures the lister. MessagesEndpoint exists for tests.
type GraphConfig struct {
	HTTPClient       *http.Client
	MessagesEndpoint string
}

func NewGraphLister(cfg GraphConfig) *GraphLister {
	l := &GraphLister{
		http:        cfg.HTTPClient,
		messagesURL: cfg.MessagesEndpoint,
	}
	if l.http == nil {
		l.http = &http.Client{Timeout: 10 * time.Second}
	}
	if l.messagesURL == "" {
		l.messagesURL = graphMessagesEndpoint
	}
	return l
}

type graphPage struct {
	Value []graphMessage `json:"value"`
}

type graphMessage struct {
	ID               string `json:"id"`
	Subject          string `json:"subject"`
	BodyPreview      string `json:"bodyPreview"`
	ReceivedDateTime string `json:"receivedDateTime"`
	IsRead           bool   `json:"isRead"`
	From             struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
}

func (l *GraphLister) ListRecent(ctx context.Context, accessToken string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}

	q := url.Values{}
	q.Set("$top", strconv.Itoa(limit))
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$select", "id,subject,bodyPreview,receivedDateTime,isRead,from")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.messagesURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := l.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrTokenRejected
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var page graphPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: decode page: %v", ErrUpstream, err)
	}

	out := make([]Message, 0, len(page.Value))
	for _, gm := range page.Value {
		msg := Message{
			ID:      gm.ID,
			Subject: gm.Subject,
			Snippet: gm.BodyPreview,
			Unread:  !gm.IsRead,
		}
		if gm.From.EmailAddress.Address != "" {
			msg.From = gm.From.EmailAddress.Address
			if gm.From.EmailAddress.Name != "" {
				msg.From = gm.From.EmailAddress.Name + " <" + gm.From.EmailAddress.Address + ">"
			}
		}
		if ts, err := time.Parse(time.RFC3339, gm.ReceivedDateTime); err == nil {
			msg.ReceivedAt = ts.UTC()
		}
		out = append(out, msg)
	}
	return out, nil
}
