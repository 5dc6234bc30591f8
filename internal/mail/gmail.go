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
	gmailListEndpoint = "https://gmail.googleapis.com/gmail/v1/users/me/messages"
)

// GmailLister lists recent Gmail messages through the Gmail REST API.
// Listing is two-phase: an ID page, then a metadata fetch per message.
type GmailLister struct {
	http    *http.Client
	listURL string
}

// GmailConfig configures the lister. ListEndpoint exists for tests.
type GmailConfig struct {
	HTTPClient   *http.Client
	ListEndpoint string
}

func NewGmailLister(cfg GmailConfig) *GmailLister {
	l := &GmailLister{
		http:    cfg.HTTPClient,
		listURL: cfg.ListEndpoint,
	}
	if l.http == nil {
		l.http = &http.Client{Timeout: 10 * time.Second}
	}
	if l.listURL == "" {
		l.listURL = gmailListEndpoint
	}
	return l
}

type gmailIDPage struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type gmailMessage struct {
	ID           string `json:"id"`
	Snippet      string `json:"snippet"`
	InternalDate string `json:"internalDate"` // epoch millis as string
	LabelIDs     []string `json:"labelIds"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

func (l *GmailLister) ListRecent(ctx context.Context, accessToken string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}

	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(limit))
	page, err := l.getJSON(ctx, l.listURL+"?"+q.Encode(), accessToken)
	if err != nil {
		return nil, err
	}
	var ids gmailIDPage
	if err := json.Unmarshal(page, &ids); err != nil {
		return nil, fmt.Errorf("%w: decode list page: %v", ErrUpstream, err)
	}

	out := make([]Message, 0, len(ids.Messages))
	for _, m := range ids.Messages {
		raw, err := l.getJSON(ctx, l.listURL+"/"+m.ID+"?format=metadata&metadataHeaders=Subject&metadataHeaders=From", accessToken)
		if err != nil {
			return nil, err
		}
		var gm gmailMessage
		if err := json.Unmarshal(raw, &gm); err != nil {
			return nil, fmt.Errorf("%w: decode message %s: %v", ErrUpstream, m.ID, err)
		}
		out = append(out, gm.toMessage())
	}
	return out, nil
}

func (gm *gmailMessage) toMessage() Message {
	msg := Message{
		ID:      gm.ID,
		Snippet: gm.Snippet,
	}
	for _, h := range gm.Payload.Headers {
		switch h.Name {
		case "Subject":
			msg.Subject = h.Value
		case "From":
			msg.From = h.Value
		}
	}
	if ms, err := strconv.ParseInt(gm.InternalDate, 10, 64); err == nil {
		msg.ReceivedAt = time.UnixMilli(ms).UTC()
	}
	for _, label := range gm.LabelIDs {
		if label == "UNREAD" {
			msg.Unread = true
		}
	}
	return msg
}

func (l *GmailLister) getJSON(ctx context.Context, rawURL, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
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
	return body, nil
}
