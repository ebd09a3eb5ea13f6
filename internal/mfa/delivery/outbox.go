package delivery

import (
	"context"
	"sync"

	"trustlayer/internal/clock"
)

// Outbox keeps the last message per session in memory. It is a development
// Sender: codes become readable through Latest instead of reaching a phone.
type Outbox struct {
	mu    sync.RWMutex
	m     map[string]Message
	clock clock.Clock
}

// NewOutbox returns an empty outbox. A nil clock uses the real clock.
func NewOutbox(c clock.Clock) *Outbox {
	if c == nil {
		c = clock.Real()
	}
	return &Outbox{m: make(map[string]Message), clock: c}
}

// Send stores m, replacing any earlier message for the session.
func (o *Outbox) Send(ctx context.Context, m Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.m[m.SessionID] = m
	return nil
}

// Latest returns the last message for sessionID if present and not expired.
func (o *Outbox) Latest(sessionID string) (Message, bool) {
	o.mu.RLock()
	m, ok := o.m[sessionID]
	o.mu.RUnlock()
	if !ok {
		return Message{}, false
	}
	if !m.ExpiresAt.After(o.clock.Now()) {
		o.mu.Lock()
		delete(o.m, sessionID)
		o.mu.Unlock()
		return Message{}, false
	}
	return m, true
}
