package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/ws"
	"github.com/google/uuid"
)

// TicketService finds, creates and mutates tickets
type TicketService struct {
	tickets  TicketStore
	contacts ContactStore
	queues   QueueStore
	notify   Notifier
}

// FindActive returns the open or pending ticket of a contact, or nil
func (s *TicketService) FindActive(ctx context.Context, contactID uuid.UUID) (*domain.Ticket, error) {
	t, err := s.tickets.FindActiveByContact(ctx, contactID)
	if err != nil || t == nil {
		return nil, err
	}
	return t, s.load(ctx, t)
}

// FindOrCreate returns the active ticket of contact on the channel, creating a
// pending one when none exists. An inbound message adds one to the unread
// counter; a message of ours clears it.
func (s *TicketService) FindOrCreate(ctx context.Context, contact *domain.Contact, channelID uuid.UUID, inbound bool) (*domain.Ticket, error) {
	t, err := s.tickets.FindActiveByContact(ctx, contact.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}

	unread := 0
	if inbound {
		unread = 1
	}
	if t != nil {
		upd := domain.TicketUpdate{AddUnread: unread}
		if !inbound {
			upd.UnreadMessages = &unread
		}
		t, err = s.tickets.Update(ctx, t.ID, upd)
		if err != nil {
			return nil, fmt.Errorf("failed to update ticket: %w", err)
		}
	} else {
		var created bool
		t, created, err = s.tickets.CreateActive(ctx, &domain.Ticket{
			ContactID:      contact.ID,
			ChannelID:      channelID,
			UnreadMessages: unread,
			IsGroup:        contact.IsGroup,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ticket: %w", err)
		}
		if created {
			defer s.publish(t, "")
		}
	}

	if err := s.load(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Show returns a ticket with its contact and queue
func (s *TicketService) Show(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	t, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.NewAppError(domain.ErrCodeNoTicketFound, http.StatusNotFound)
	}
	if err := s.load(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Update writes upd and publishes the change. Reopening a closed ticket
// turns automation back on for its contact.
func (s *TicketService) Update(ctx context.Context, id uuid.UUID, upd domain.TicketUpdate) (*domain.Ticket, error) {
	old, err := s.Show(ctx, id)
	if err != nil {
		return nil, err
	}

	t, err := s.tickets.Update(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("failed to update ticket: %w", err)
	}
	if t == nil {
		return nil, domain.NewAppError(domain.ErrCodeNoTicketFound, http.StatusNotFound)
	}

	if old.Status == domain.TicketStatusClosed && t.IsActive() {
		if _, err := s.contacts.SetUseAgent(ctx, t.ContactID, true); err != nil {
			return nil, fmt.Errorf("failed to re-enable automation: %w", err)
		}
	}

	if err := s.load(ctx, t); err != nil {
		return nil, err
	}
	s.publish(t, old.Status)
	return t, nil
}

// Transition applies a routing event to the ticket. The current state is
// derived from fresh records; an event with no edge from that state is
// rejected without writing anything.
func (s *TicketService) Transition(ctx context.Context, id uuid.UUID, queueCount int, ev domain.TicketEvent, upd domain.TicketUpdate) (*domain.Ticket, domain.TicketState, error) {
	t, err := s.Show(ctx, id)
	if err != nil {
		return nil, domain.StateClosed, err
	}
	current := domain.ResolveTicketState(t, t.Contact, queueCount)
	next, err := current.Transition(ev)
	if err != nil {
		return t, current, err
	}
	if upd == (domain.TicketUpdate{}) {
		return t, next, nil
	}
	t, err = s.Update(ctx, id, upd)
	if err != nil {
		return nil, current, err
	}
	return t, next, nil
}

// SetLastMessage updates the summary shown in ticket lists
func (s *TicketService) SetLastMessage(ctx context.Context, id uuid.UUID, body string) (*domain.Ticket, error) {
	t, err := s.tickets.Update(ctx, id, domain.TicketUpdate{LastMessage: &body})
	if err != nil {
		return nil, fmt.Errorf("failed to update last message: %w", err)
	}
	if t == nil {
		return nil, domain.NewAppError(domain.ErrCodeNoTicketFound, http.StatusNotFound)
	}
	return t, nil
}

func (s *TicketService) load(ctx context.Context, t *domain.Ticket) error {
	contact, err := s.contacts.GetByID(ctx, t.ContactID)
	if err != nil {
		return fmt.Errorf("failed to load ticket contact: %w", err)
	}
	t.Contact = contact
	t.Queue = nil
	if t.QueueID != nil {
		q, err := s.queues.GetByID(ctx, *t.QueueID)
		if err != nil {
			return fmt.Errorf("failed to load ticket queue: %w", err)
		}
		t.Queue = q
	}
	return nil
}

func (s *TicketService) publish(t *domain.Ticket, oldStatus string) {
	if oldStatus != "" && oldStatus != t.Status {
		s.notify.Emit(oldStatus, ws.EventTicket, map[string]interface{}{
			"action":   "delete",
			"ticketId": t.ID,
		})
	}
	payload := map[string]interface{}{
		"action": "update",
		"ticket": t,
	}
	s.notify.Emit(t.Status, ws.EventTicket, payload)
	s.notify.Emit(ws.RoomNotification, ws.EventTicket, payload)
	s.notify.Emit(t.ID.String(), ws.EventTicket, payload)
}
