// Package delivery hands issued codes to out-of-band channels. Channels are
// collaborators; the MFA service only sees Sender.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trustlayer/internal/mfa/domain"
)

// ErrNoChannel is returned when no sender is registered for a method.
var ErrNoChannel = errors.New("delivery: no channel for method")

// ErrNoDestination is returned when the user has no address for the method.
var ErrNoDestination = errors.New("delivery: no destination for user")

// Message is one code to deliver.
type Message struct {
	SessionID   string
	UserID      string
	Method      domain.Method
	Destination string
	Code        string
	ExpiresAt   time.Time
}

// Sender delivers a message. Implementations must not log Code.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, m Message) error

func (f SenderFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }

// Contact returns the address (phone, email) of a user for a method.
type Contact func(ctx context.Context, userID string, method domain.Method) (string, error)

// Router dispatches messages to a per-method Sender after resolving the destination.
type Router struct {
	senders map[domain.Method]Sender
	contact Contact
}

// NewRouter returns a Router. A nil contact leaves Message.Destination as given.
func NewRouter(contact Contact) *Router {
	return &Router{senders: make(map[domain.Method]Sender), contact: contact}
}

// Handle registers s for the given methods.
func (r *Router) Handle(s Sender, methods ...domain.Method) *Router {
	for _, m := range methods {
		r.senders[m] = s
	}
	return r
}

// Send resolves the destination and delivers m.
func (r *Router) Send(ctx context.Context, m Message) error {
	s, ok := r.senders[m.Method]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoChannel, m.Method)
	}
	if m.Destination == "" && r.contact != nil {
		dest, err := r.contact(ctx, m.UserID, m.Method)
		if err != nil {
			return err
		}
		m.Destination = dest
	}
	if m.Destination == "" {
		return fmt.Errorf("%w: %s via %s", ErrNoDestination, m.UserID, m.Method)
	}
	return s.Send(ctx, m)
}
