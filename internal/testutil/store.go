// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/service"
	"github.com/google/uuid"
)

type messageKey struct {
	id     string
	fromMe bool
}

// MemStore is an in-memory implementation of every service store. It keeps
// the same uniqueness rules as the SQL schema: one active ticket per contact
// and messages keyed by (id, fromMe).
type MemStore struct {
	mu            sync.Mutex
	channels      map[uuid.UUID]*domain.Channel
	channelQueues map[uuid.UUID][]uuid.UUID
	queues        map[uuid.UUID]*domain.Queue
	contacts      map[uuid.UUID]*domain.Contact
	tickets       map[uuid.UUID]*domain.Ticket
	messages      map[messageKey]*domain.Message
	settings      map[string]string

	ChannelReads int
}

func NewMemStore() *MemStore {
	return &MemStore{
		channels:      map[uuid.UUID]*domain.Channel{},
		channelQueues: map[uuid.UUID][]uuid.UUID{},
		queues:        map[uuid.UUID]*domain.Queue{},
		contacts:      map[uuid.UUID]*domain.Contact{},
		tickets:       map[uuid.UUID]*domain.Ticket{},
		messages:      map[messageKey]*domain.Message{},
		settings:      map[string]string{domain.SettingCallPolicy: "enabled"},
	}
}

// Stores exposes the fake through the service contracts
func (m *MemStore) Stores() service.Stores {
	return service.Stores{
		Channel: memChannels{m},
		Queue:   memQueues{m},
		Contact: memContacts{m},
		Ticket:  memTickets{m},
		Message: memMessages{m},
		Setting: memSettings{m},
	}
}

// AddChannel stores ch with the given queues in menu order
func (m *MemStore) AddChannel(ch *domain.Channel, queues ...*domain.Queue) *domain.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	cp := *ch
	cp.Queues = nil
	m.channels[ch.ID] = &cp
	ids := make([]uuid.UUID, 0, len(queues))
	for _, q := range queues {
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		if q.Agent != nil {
			if q.Agent.ID == uuid.Nil {
				q.Agent.ID = uuid.New()
			}
			q.AgentID = &q.Agent.ID
		}
		qc := *q
		m.queues[q.ID] = &qc
		ids = append(ids, q.ID)
	}
	m.channelQueues[ch.ID] = ids
	return ch
}

// AddContact stores c as given
func (m *MemStore) AddContact(c *domain.Contact) *domain.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	m.contacts[c.ID] = &cp
	return c
}

// AddTicket stores t as is
func (m *MemStore) AddTicket(t *domain.Ticket) *domain.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	cp := *t
	cp.Contact, cp.Queue = nil, nil
	m.tickets[t.ID] = &cp
	return t
}

// Contact returns a copy of the stored contact
func (m *MemStore) Contact(id uuid.UUID) *domain.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyContact(m.contacts[id])
}

// Ticket returns a copy of the stored ticket
func (m *MemStore) Ticket(id uuid.UUID) *domain.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyTicket(m.tickets[id])
}

// Tickets returns every ticket of a contact, oldest first
func (m *MemStore) Tickets(contactID uuid.UUID) []*domain.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Ticket
	for _, t := range m.tickets {
		if t.ContactID == contactID {
			out = append(out, copyTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Messages returns every message of a ticket ordered by timestamp
func (m *MemStore) Messages(ticketID uuid.UUID) []*domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Message
	for _, msg := range m.messages {
		if msg.TicketID == ticketID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ContactByNumber returns a copy of the contact with number, or nil
func (m *MemStore) ContactByNumber(number string) *domain.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.Number == number {
			return copyContact(c)
		}
	}
	return nil
}

func (m *MemStore) SetSetting(key, value string) {
	m.mu.Lock()
	m.settings[key] = value
	m.mu.Unlock()
}

func copyContact(c *domain.Contact) *domain.Contact {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func copyTicket(t *domain.Ticket) *domain.Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func copyQueue(q *domain.Queue) *domain.Queue {
	if q == nil {
		return nil
	}
	cp := *q
	if q.Agent != nil {
		a := *q.Agent
		cp.Agent = &a
	}
	return &cp
}

// monotonic timestamps keep ordering stable within one test
var (
	clockMu sync.Mutex
	last    time.Time
)

func now() time.Time {
	clockMu.Lock()
	defer clockMu.Unlock()
	t := time.Now()
	if !t.After(last) {
		t = last.Add(time.Microsecond)
	}
	last = t
	return t
}

type memChannels struct{ m *MemStore }

func (s memChannels) GetByID(ctx context.Context, id uuid.UUID) (*domain.Channel, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.ChannelReads++
	ch, ok := s.m.channels[id]
	if !ok {
		return nil, nil
	}
	cp := *ch
	cp.Queues = nil
	for _, qid := range s.m.channelQueues[id] {
		cp.Queues = append(cp.Queues, copyQueue(s.m.queues[qid]))
	}
	return &cp, nil
}

func (s memChannels) GetDefault(ctx context.Context) (*domain.Channel, error) {
	s.m.mu.Lock()
	var id uuid.UUID
	for _, ch := range s.m.channels {
		if ch.IsDefault {
			id = ch.ID
		}
	}
	s.m.mu.Unlock()
	if id == uuid.Nil {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

func (s memChannels) GetAll(ctx context.Context) ([]*domain.Channel, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make([]*domain.Channel, 0, len(s.m.channels))
	for _, ch := range s.m.channels {
		cp := *ch
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s memChannels) UpdateSession(ctx context.Context, id uuid.UUID, upd domain.ChannelSessionUpdate) (*domain.Channel, error) {
	s.m.mu.Lock()
	ch, ok := s.m.channels[id]
	if !ok {
		s.m.mu.Unlock()
		return nil, nil
	}
	if upd.Status != nil {
		ch.Status = *upd.Status
	}
	if upd.QRCode != nil {
		ch.QRCode = *upd.QRCode
	}
	if upd.PairingCode != nil {
		ch.PairingCode = *upd.PairingCode
	}
	if upd.Retries != nil {
		ch.Retries = *upd.Retries
	}
	if upd.Session != nil {
		ch.Session = *upd.Session
	}
	if upd.Number != nil {
		ch.Number = *upd.Number
	}
	ch.UpdatedAt = now()
	s.m.mu.Unlock()
	return s.GetByID(ctx, id)
}

type memQueues struct{ m *MemStore }

func (s memQueues) GetByID(ctx context.Context, id uuid.UUID) (*domain.Queue, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return copyQueue(s.m.queues[id]), nil
}

type memContacts struct{ m *MemStore }

func (s memContacts) GetByID(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return copyContact(s.m.contacts[id]), nil
}

func (s memContacts) GetByNumber(ctx context.Context, number string) (*domain.Contact, error) {
	return s.m.ContactByNumber(number), nil
}

func (s memContacts) Upsert(ctx context.Context, c *domain.Contact) (*domain.Contact, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.contacts {
		if existing.Number != c.Number {
			continue
		}
		if c.Name != "" {
			existing.Name = c.Name
		}
		if c.ProfilePicURL != "" {
			existing.ProfilePicURL = c.ProfilePicURL
		}
		existing.UpdatedAt = now()
		return copyContact(existing), nil
	}
	created := &domain.Contact{
		ID:                  uuid.New(),
		Name:                c.Name,
		Number:              c.Number,
		ProfilePicURL:       c.ProfilePicURL,
		IsGroup:             c.IsGroup,
		UseQueues:           true,
		UseAgent:            true,
		AcceptAudioMessages: true,
		CreatedAt:           now(),
	}
	created.UpdatedAt = created.CreatedAt
	s.m.contacts[created.ID] = created
	return copyContact(created), nil
}

func (s memContacts) CreateIfAbsent(ctx context.Context, name, number string) (*domain.Contact, error) {
	if c := s.m.ContactByNumber(number); c != nil {
		return c, nil
	}
	return s.Upsert(ctx, &domain.Contact{Name: name, Number: number})
}

func (s memContacts) update(id uuid.UUID, f func(c *domain.Contact)) (*domain.Contact, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.contacts[id]
	if !ok {
		return nil, nil
	}
	f(c)
	c.UpdatedAt = now()
	return copyContact(c), nil
}

func (s memContacts) SetUseAgent(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Contact, error) {
	return s.update(id, func(c *domain.Contact) { c.UseAgent = enabled })
}

func (s memContacts) SetAcceptAudio(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Contact, error) {
	return s.update(id, func(c *domain.Contact) { c.AcceptAudioMessages = enabled })
}

type memTickets struct{ m *MemStore }

func (s memTickets) GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return copyTicket(s.m.tickets[id]), nil
}

func (s memTickets) findActive(contactID uuid.UUID) *domain.Ticket {
	for _, t := range s.m.tickets {
		if t.ContactID == contactID && t.IsActive() {
			return t
		}
	}
	return nil
}

func (s memTickets) FindActiveByContact(ctx context.Context, contactID uuid.UUID) (*domain.Ticket, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return copyTicket(s.findActive(contactID)), nil
}

func (s memTickets) CreateActive(ctx context.Context, t *domain.Ticket) (*domain.Ticket, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if existing := s.findActive(t.ContactID); existing != nil {
		return copyTicket(existing), false, nil
	}
	created := *t
	created.ID = uuid.New()
	if created.Status == "" {
		created.Status = domain.TicketStatusPending
	}
	created.CreatedAt = now()
	created.UpdatedAt = created.CreatedAt
	created.Contact, created.Queue = nil, nil
	s.m.tickets[created.ID] = &created
	return copyTicket(&created), true, nil
}

func (s memTickets) Update(ctx context.Context, id uuid.UUID, upd domain.TicketUpdate) (*domain.Ticket, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tickets[id]
	if !ok {
		return nil, nil
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.QueueID != nil {
		q := *upd.QueueID
		t.QueueID = &q
	}
	if upd.UserID != nil {
		u := *upd.UserID
		t.UserID = &u
	}
	if upd.LastMessage != nil {
		t.LastMessage = *upd.LastMessage
	}
	if upd.UnreadMessages != nil {
		t.UnreadMessages = *upd.UnreadMessages
	}
	t.UnreadMessages += upd.AddUnread
	t.UpdatedAt = now()
	return copyTicket(t), nil
}

type memMessages struct{ m *MemStore }

func (s memMessages) Create(ctx context.Context, msg *domain.Message) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	key := messageKey{msg.ID, msg.FromMe}
	if _, ok := s.m.messages[key]; ok {
		return false, nil
	}
	cp := *msg
	cp.QuotedMsg = nil
	cp.CreatedAt = now()
	cp.UpdatedAt = cp.CreatedAt
	s.m.messages[key] = &cp
	return true, nil
}

func (s memMessages) Get(ctx context.Context, id string, fromMe bool) (*domain.Message, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	msg, ok := s.m.messages[messageKey{id, fromMe}]
	if !ok {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

func (s memMessages) FindByExternalID(ctx context.Context, id string) (*domain.Message, error) {
	for _, fromMe := range []bool{false, true} {
		if msg, _ := s.Get(ctx, id, fromMe); msg != nil {
			return msg, nil
		}
	}
	return nil, nil
}

func (s memMessages) UpdateAck(ctx context.Context, id string, ack int) (*domain.Message, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	msg, ok := s.m.messages[messageKey{id, true}]
	if !ok || msg.Ack >= ack {
		return nil, nil
	}
	msg.Ack = ack
	msg.UpdatedAt = now()
	cp := *msg
	return &cp, nil
}

type memSettings struct{ m *MemStore }

func (s memSettings) Get(ctx context.Context, key string) (string, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	v, ok := s.m.settings[key]
	return v, ok, nil
}

func (s memSettings) Set(ctx context.Context, key, value string) error {
	s.m.SetSetting(key, value)
	return nil
}
