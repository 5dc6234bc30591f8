// Package mail reads recent messages from a connected mailbox through the
// provider's REST API, using an access token supplied by the lifecycle
// engine. Tokens pass through; they are never stored here.
package mail

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTokenRejected means the provider answered 401: the access token
	// is no longer valid even though it looked fresh.
	ErrTokenRejected = errors.New("mail: provider rejected access token")

	// ErrUpstream covers any other provider-side failure.
	ErrUpstream = errors.New("mail: provider request failed")
)

// Message is the provider-neutral view of a mailbox message.
type Message struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	Snippet    string    `json:"snippet,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	Unread     bool      `json:"unread"`
}

// Lister fetches the most recent messages for the mailbox behind the token.
type Lister interface {
	ListRecent(ctx context.Context, accessToken string, limit int) ([]Message, error)
}

// Registry maps provider names to their Lister.
type Registry struct {
	listers map[string]Lister
}

func NewRegistry() *Registry {
	return &Registry{listers: make(map[string]Lister)}
}

func (r *Registry) Register(provider string, l Lister) {
	r.listers[provider] = l
}

// For returns the Lister for a provider.
func (r *Registry) For(provider string) (Lister, error) {
	l, ok := r.listers[provider]
	if !ok {
		return nil, fmt.Errorf("mail: no lister for provider %q", provider)
	}
	return l, nil
}
