package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/service"
	"github.com/dollyzn/whaticket-cero/internal/testutil"
	"github.com/dollyzn/whaticket-cero/internal/ws"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fixture struct {
	store  *testutil.MemStore
	notify *testutil.FakeNotifier
	cache  *testutil.FakeCache
	svc    *service.Services
}

func newFixture() *fixture {
	f := &fixture{
		store:  testutil.NewMemStore(),
		notify: &testutil.FakeNotifier{},
		cache:  testutil.NewFakeCache(),
	}
	f.svc = service.NewServices(f.store.Stores(), f.notify, service.Options{
		Cache:           f.cache,
		ChannelCacheTTL: time.Minute,
		JWTSecret:       "test-secret",
	}, zerolog.Nop())
	return f
}

func TestMessageCreateIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	contact, err := f.svc.Contact.CreateOrUpdate(ctx, service.ContactData{Name: "Maria", Number: "5511999990000"})
	if err != nil {
		t.Fatalf("contact: %v", err)
	}
	ticket, err := f.svc.Ticket.FindOrCreate(ctx, contact, f.store.AddChannel(&domain.Channel{Name: "main"}).ID, true)
	if err != nil {
		t.Fatalf("ticket: %v", err)
	}

	msg := &domain.Message{ID: "ABC", TicketID: ticket.ID, Body: "oi", ContactID: &contact.ID}
	if _, created, err := f.svc.Message.Create(ctx, msg); err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	if _, created, err := f.svc.Message.Create(ctx, msg); err != nil || created {
		t.Fatalf("second create: created=%v err=%v", created, err)
	}

	// the same id sent by us is a different record
	echo := &domain.Message{ID: "ABC", FromMe: true, TicketID: ticket.ID, Body: "oi"}
	if _, created, err := f.svc.Message.Create(ctx, echo); err != nil || !created {
		t.Fatalf("fromMe create: created=%v err=%v", created, err)
	}

	if got := len(f.store.Messages(ticket.ID)); got != 2 {
		t.Errorf("stored messages = %d, want 2", got)
	}
	if got := f.notify.Count(ticket.ID.String(), ws.EventAppMessage); got != 2 {
		t.Errorf("appMessage events = %d, want 2", got)
	}
}

func TestMessageCreateLoadsQuoted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	contact := f.store.AddContact(&domain.Contact{Name: "Ana", Number: "5511"})
	ticket := f.store.AddTicket(&domain.Ticket{ContactID: contact.ID, Status: domain.TicketStatusOpen})

	if _, _, err := f.svc.Message.Create(ctx, &domain.Message{ID: "Q1", TicketID: ticket.ID, Body: "original"}); err != nil {
		t.Fatal(err)
	}
	quoted := "Q1"
	stored, _, err := f.svc.Message.Create(ctx, &domain.Message{ID: "R1", TicketID: ticket.ID, Body: "reply", QuotedMsgID: &quoted})
	if err != nil {
		t.Fatal(err)
	}
	if stored.QuotedMsg == nil || stored.QuotedMsg.Body != "original" {
		t.Errorf("quoted message not loaded: %+v", stored.QuotedMsg)
	}
}

func TestUpdateAckOnlyMovesForward(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ticket := f.store.AddTicket(&domain.Ticket{Status: domain.TicketStatusOpen})
	if _, _, err := f.svc.Message.Create(ctx, &domain.Message{ID: "S1", FromMe: true, TicketID: ticket.ID, Ack: domain.AckServer}); err != nil {
		t.Fatal(err)
	}

	m, err := f.svc.Message.UpdateAck(ctx, "S1", domain.AckRead)
	if err != nil || m == nil || m.Ack != domain.AckRead {
		t.Fatalf("UpdateAck read: %+v, %v", m, err)
	}
	m, err = f.svc.Message.UpdateAck(ctx, "S1", domain.AckDelivered)
	if err != nil || m != nil {
		t.Fatalf("older ack should be ignored, got %+v, %v", m, err)
	}
}

func TestFindOrCreateKeepsOneActiveTicket(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ch := f.store.AddChannel(&domain.Channel{Name: "main"})
	contact, err := f.svc.Contact.CreateOrUpdate(ctx, service.ContactData{Name: "João", Number: "+55 (11) 98888-0000"})
	if err != nil {
		t.Fatal(err)
	}
	if contact.Number != "5511988880000" {
		t.Errorf("number = %q", contact.Number)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Ticket.FindOrCreate(ctx, contact, ch.ID, true); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := len(f.store.Tickets(contact.ID)); got != 1 {
		t.Fatalf("tickets = %d, want 1", got)
	}
}

func TestFindOrCreateAfterClose(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ch := f.store.AddChannel(&domain.Channel{Name: "main"})
	contact := f.store.AddContact(&domain.Contact{Name: "Ana", Number: "5511", UseQueues: true, UseAgent: true})

	first, err := f.svc.Ticket.FindOrCreate(ctx, contact, ch.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	closed := domain.TicketStatusClosed
	if _, err := f.svc.Ticket.Update(ctx, first.ID, domain.TicketUpdate{Status: &closed}); err != nil {
		t.Fatal(err)
	}

	second, err := f.svc.Ticket.FindOrCreate(ctx, contact, ch.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == first.ID {
		t.Fatal("closed ticket was reused")
	}
	if second.Status != domain.TicketStatusPending || second.UnreadMessages != 0 {
		t.Errorf("new ticket = %s/%d", second.Status, second.UnreadMessages)
	}
}

func TestReopenReenablesAutomation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	contact := f.store.AddContact(&domain.Contact{Name: "Ana", Number: "5511", UseAgent: false})
	ticket := f.store.AddTicket(&domain.Ticket{ContactID: contact.ID, Status: domain.TicketStatusClosed})

	open := domain.TicketStatusOpen
	got, err := f.svc.Ticket.Update(ctx, ticket.ID, domain.TicketUpdate{Status: &open})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Contact.UseAgent || !f.store.Contact(contact.ID).UseAgent {
		t.Error("automation not re-enabled on reopen")
	}
	if f.notify.Count(domain.TicketStatusClosed, ws.EventTicket) != 1 {
		t.Error("old status room should receive a delete")
	}
	if f.notify.Count(domain.TicketStatusOpen, ws.EventTicket) != 1 {
		t.Error("new status room should receive an update")
	}
}

func TestTransitionRejectsIllegalEvent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	contact := f.store.AddContact(&domain.Contact{Name: "Ana", Number: "5511", UseQueues: true})
	ticket := f.store.AddTicket(&domain.Ticket{ContactID: contact.ID, Status: domain.TicketStatusClosed})

	closed := domain.TicketStatusClosed
	_, state, err := f.svc.Ticket.Transition(ctx, ticket.ID, 2, domain.EventOutOfHoursClosed, domain.TicketUpdate{Status: &closed})
	if err == nil {
		t.Fatal("closing a closed ticket should fail")
	}
	if state != domain.StateClosed {
		t.Errorf("state = %s", state)
	}
	if len(f.notify.Events()) != 0 {
		t.Error("rejected transition must not publish")
	}
}

func TestTransitionToQueue(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	agent := &domain.Agent{Name: "Cero"}
	q := &domain.Queue{Name: "Pacientes", Agent: agent}
	f.store.AddChannel(&domain.Channel{Name: "main"}, q, &domain.Queue{Name: "Dentistas"})
	contact := f.store.AddContact(&domain.Contact{Name: "Ana", Number: "5511", UseQueues: true, UseAgent: true})
	ticket := f.store.AddTicket(&domain.Ticket{ContactID: contact.ID, Status: domain.TicketStatusPending})

	got, state, err := f.svc.Ticket.Transition(ctx, ticket.ID, 2, domain.QueueChosenEvent(q), domain.TicketUpdate{QueueID: &q.ID})
	if err != nil {
		t.Fatal(err)
	}
	if state != domain.StateAssignedAgent {
		t.Errorf("state = %s", state)
	}
	if got.Queue == nil || got.Queue.Agent == nil || got.Queue.Agent.Name != "Cero" {
		t.Errorf("queue not loaded: %+v", got.Queue)
	}
}

func TestChannelShowCachesAndInvalidates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	agent := &domain.Agent{Name: "Cero", JSONContent: `{"type":"service_account"}`}
	ch := f.store.AddChannel(&domain.Channel{Name: "main", Session: "5511:1@s.whatsapp.net"}, &domain.Queue{Name: "Pacientes", Agent: agent})

	for i := 0; i < 3; i++ {
		got, err := f.svc.Channel.Show(ctx, ch.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Session != "5511:1@s.whatsapp.net" {
			t.Errorf("session lost through cache: %q", got.Session)
		}
		if len(got.Queues) != 1 || got.Queues[0].Agent.JSONContent == "" {
			t.Errorf("agent credentials lost through cache")
		}
	}
	if f.store.ChannelReads != 1 {
		t.Errorf("store reads = %d, want 1", f.store.ChannelReads)
	}

	status := domain.ChannelStatusConnected
	if _, err := f.svc.Channel.UpdateSession(ctx, ch.ID, domain.ChannelSessionUpdate{Status: &status}); err != nil {
		t.Fatal(err)
	}
	if f.notify.Count("", ws.EventChannelSession) != 1 {
		t.Error("session update not broadcast")
	}
	got, err := f.svc.Channel.Show(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ChannelStatusConnected {
		t.Errorf("stale channel after update: %s", got.Status)
	}
}

func TestChannelShowMissing(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Channel.GetDefault(context.Background())
	if !domain.IsAppError(err, domain.ErrCodeNoDefaultWapp) {
		t.Errorf("err = %v", err)
	}
}

func TestContactToggles(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	contact, err := f.svc.Contact.CreateOrUpdate(ctx, service.ContactData{Name: "Ana", Number: "5511"})
	if err != nil {
		t.Fatal(err)
	}
	if !contact.UseAgent || !contact.AcceptAudioMessages {
		t.Fatalf("defaults: %+v", contact)
	}

	if c, err := f.svc.Contact.ToggleAutomation(ctx, contact.ID, false); err != nil || c.UseAgent {
		t.Fatalf("ToggleAutomation: %+v %v", c, err)
	}
	if c, err := f.svc.Contact.ToggleAcceptAudio(ctx, contact.ID, false); err != nil || c.AcceptAudioMessages {
		t.Fatalf("ToggleAcceptAudio: %+v %v", c, err)
	}
	if got := f.notify.Count("", ws.EventContact); got != 3 {
		t.Errorf("contact events = %d, want 3", got)
	}

	// an empty push name keeps the stored name
	again, err := f.svc.Contact.CreateOrUpdate(ctx, service.ContactData{Number: "5511"})
	if err != nil {
		t.Fatal(err)
	}
	if again.Name != "Ana" {
		t.Errorf("name = %q", again.Name)
	}
}

func TestCallsDisabled(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if off, err := f.svc.Setting.CallsDisabled(ctx); err != nil || off {
		t.Fatalf("default: %v %v", off, err)
	}
	f.store.SetSetting(domain.SettingCallPolicy, "disabled")
	if off, _ := f.svc.Setting.CallsDisabled(ctx); !off {
		t.Error("calls should be disabled")
	}
}

func TestAuthTokenRoundTrip(t *testing.T) {
	f := newFixture()
	token, err := f.svc.Auth.IssueToken(uuid.New(), "admin", "admin", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := f.svc.Auth.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Username != "admin" {
		t.Errorf("username = %q", claims.Username)
	}
	if _, err := f.svc.Auth.ValidateToken(token + "x"); err == nil {
		t.Error("tampered token accepted")
	}
}
