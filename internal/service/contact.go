package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/ws"
	"github.com/google/uuid"
)

// ContactData is what the channel knows about a contact
type ContactData struct {
	Name          string
	Number        string
	ProfilePicURL string
	IsGroup       bool
}

// ContactService handles contacts and their automation flags
type ContactService struct {
	store  ContactStore
	notify Notifier
}

// NormalizeNumber keeps only the digits of a phone number
func NormalizeNumber(number string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, number)
}

// CreateOrUpdate upserts a contact by number
func (s *ContactService) CreateOrUpdate(ctx context.Context, data ContactData) (*domain.Contact, error) {
	number := data.Number
	if !data.IsGroup {
		number = NormalizeNumber(number)
	}
	if number == "" {
		return nil, domain.NewAppError(domain.ErrCodeCheckContact)
	}
	name := strings.TrimSpace(data.Name)
	if name == "" {
		existing, err := s.store.GetByNumber(ctx, number)
		if err != nil {
			return nil, fmt.Errorf("failed to find contact: %w", err)
		}
		name = number
		if existing != nil && existing.Name != "" {
			name = existing.Name
		}
	}

	contact, err := s.store.Upsert(ctx, &domain.Contact{
		Name:          name,
		Number:        number,
		ProfilePicURL: data.ProfilePicURL,
		IsGroup:       data.IsGroup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert contact: %w", err)
	}
	s.publish(contact)
	return contact, nil
}

// CreateIfAbsent adds a contact shared through a vCard; existing contacts are left as they are
func (s *ContactService) CreateIfAbsent(ctx context.Context, name, number string) (*domain.Contact, error) {
	number = NormalizeNumber(number)
	if number == "" {
		return nil, domain.NewAppError(domain.ErrCodeCheckContact)
	}
	if strings.TrimSpace(name) == "" {
		name = number
	}
	contact, err := s.store.CreateIfAbsent(ctx, name, number)
	if err != nil {
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}
	return contact, nil
}

// FindByNumber returns the contact with number, or nil
func (s *ContactService) FindByNumber(ctx context.Context, number string) (*domain.Contact, error) {
	return s.store.GetByNumber(ctx, NormalizeNumber(number))
}

func (s *ContactService) Show(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	contact, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, domain.NewAppError(domain.ErrCodeNoContactFound, http.StatusNotFound)
	}
	return contact, nil
}

// ToggleAutomation switches the conversational agent on or off for a contact
func (s *ContactService) ToggleAutomation(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Contact, error) {
	contact, err := s.store.SetUseAgent(ctx, id, enabled)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle automation: %w", err)
	}
	if contact == nil {
		return nil, domain.NewAppError(domain.ErrCodeNoContactFound, http.StatusNotFound)
	}
	s.publish(contact)
	return contact, nil
}

// ToggleAcceptAudio switches whether audio messages from the contact are accepted
func (s *ContactService) ToggleAcceptAudio(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Contact, error) {
	contact, err := s.store.SetAcceptAudio(ctx, id, enabled)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle audio: %w", err)
	}
	if contact == nil {
		return nil, domain.NewAppError(domain.ErrCodeNoContactFound, http.StatusNotFound)
	}
	s.publish(contact)
	return contact, nil
}

func (s *ContactService) publish(contact *domain.Contact) {
	s.notify.Broadcast(ws.EventContact, map[string]interface{}{
		"action":  "update",
		"contact": contact,
	})
}
