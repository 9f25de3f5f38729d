package service

import (
	"context"
	"fmt"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/ws"
)

// MessageService appends messages and tracks their delivery acks
type MessageService struct {
	store  MessageStore
	notify Notifier
}

// Create appends m unless (m.ID, m.FromMe) is already stored, and returns the
// stored record. Only a new record is published.
func (s *MessageService) Create(ctx context.Context, m *domain.Message) (*domain.Message, bool, error) {
	created, err := s.store.Create(ctx, m)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create message: %w", err)
	}
	stored, err := s.store.Get(ctx, m.ID, m.FromMe)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load message: %w", err)
	}
	if stored == nil {
		stored = m
	}
	if stored.QuotedMsgID != nil {
		if quoted, err := s.store.FindByExternalID(ctx, *stored.QuotedMsgID); err == nil {
			stored.QuotedMsg = quoted
		}
	}

	if created {
		payload := map[string]interface{}{
			"action":  "create",
			"message": stored,
		}
		s.notify.Emit(stored.TicketID.String(), ws.EventAppMessage, payload)
		s.notify.Emit(ws.RoomNotification, ws.EventAppMessage, payload)
	}
	return stored, created, nil
}

// FindByExternalID looks a message up by its WhatsApp id; nil when unknown
func (s *MessageService) FindByExternalID(ctx context.Context, id string) (*domain.Message, error) {
	return s.store.FindByExternalID(ctx, id)
}

// UpdateAck records a delivery receipt for an outbound message
func (s *MessageService) UpdateAck(ctx context.Context, id string, ack int) (*domain.Message, error) {
	m, err := s.store.UpdateAck(ctx, id, ack)
	if err != nil {
		return nil, fmt.Errorf("failed to update ack: %w", err)
	}
	if m == nil {
		return nil, nil
	}
	s.notify.Emit(m.TicketID.String(), ws.EventAppMessage, map[string]interface{}{
		"action":  "update",
		"message": m,
	})
	return m, nil
}
