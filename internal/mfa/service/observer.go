package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"trustlayer/internal/mfa/domain"
)

// EventType names a session state change.
type EventType string

const (
	EventInitiated  EventType = "INITIATED"
	EventImplicit   EventType = "IMPLICIT"
	EventVerify     EventType = "VERIFY"
	EventCancelled  EventType = "CANCELLED"
	EventSuperseded EventType = "SUPERSEDED"
	EventResent     EventType = "RESENT"
)

// Event is delivered to observers after a change is stored. Session is a copy.
type Event struct {
	Type    EventType
	Outcome Outcome
	Session *domain.Session
}

// Observer receives session events. Observers must not block; an error is
// logged and does not affect the caller.
type Observer interface {
	ObserveMFA(ctx context.Context, e Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event) error

func (f ObserverFunc) ObserveMFA(ctx context.Context, e Event) error { return f(ctx, e) }

func (m *Manager) notify(ctx context.Context, t EventType, s *domain.Session, o Outcome) {
	for _, obs := range m.observers {
		if err := obs.ObserveMFA(ctx, Event{Type: t, Outcome: o, Session: s.Clone()}); err != nil {
			m.log.Warn("mfa observer failed", zap.String("event", string(t)), zap.String("session_id", s.ID), zap.Error(err))
		}
	}
}

func outcomeAttr(o string) attribute.KeyValue { return attribute.String("outcome", o) }
