package listener

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/service"
	"github.com/dollyzn/whaticket-cero/internal/testutil"
	"github.com/dollyzn/whaticket-cero/internal/whatsapp"
	"github.com/rs/zerolog"
)

const remote = "5511999990000"

type replyCall struct {
	ticket *domain.Ticket
	msg    *whatsapp.IncomingMessage
}

type fakeReplier struct {
	calls []replyCall
	panic bool
}

func (f *fakeReplier) Reply(ctx context.Context, c whatsapp.Client, ticket *domain.Ticket, contact *domain.Contact, msg *whatsapp.IncomingMessage) {
	if f.panic {
		panic("agent exploded")
	}
	f.calls = append(f.calls, replyCall{ticket, msg})
}

type harness struct {
	store    *testutil.MemStore
	svc      *service.Services
	client   *testutil.FakeClient
	clock    *testutil.FakeClock
	debounce *testutil.Debouncer
	reporter *testutil.Reporter
	media    *testutil.FakeStorage
	agent    *fakeReplier
	handler  *Handler
	channel  *domain.Channel
}

func newHarness(t *testing.T, ch *domain.Channel, queues ...*domain.Queue) *harness {
	t.Helper()
	h := &harness{
		store:    testutil.NewMemStore(),
		client:   testutil.NewFakeClient(),
		clock:    testutil.NewFakeClock(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)),
		debounce: &testutil.Debouncer{},
		reporter: &testutil.Reporter{},
		media:    &testutil.FakeStorage{},
		agent:    &fakeReplier{},
	}
	h.svc = service.NewServices(h.store.Stores(), &testutil.FakeNotifier{}, service.Options{}, zerolog.Nop())
	if ch == nil {
		ch = &domain.Channel{}
	}
	ch.ID = h.client.ID
	if ch.Name == "" {
		ch.Name = "main"
	}
	if ch.GreetingMessage == "" {
		ch.GreetingMessage = "Olá {{firstName}}, escolha uma opção:"
	}
	if ch.OutOfServiceMessage == "" {
		ch.OutOfServiceMessage = "Estamos fechados, {{firstName}}."
	}
	if ch.OpeningHours == "" {
		ch.OpeningHours, ch.ClosingHours = "08:00:00", "18:00:00"
	}
	h.channel = h.store.AddChannel(ch, queues...)

	norm := NewNormalizer(h.svc, h.media, h.reporter, zerolog.Nop())
	h.handler = New(h.svc, norm, h.agent, h.debounce, h.clock, h.reporter, Config{
		Location:      time.UTC,
		QueueDebounce: 3 * time.Second,
		AgentDebounce: 8 * time.Second,
		CloseDelay:    time.Second,
	}, zerolog.Nop())
	return h
}

func inbound(id, body string) *whatsapp.IncomingMessage {
	return &whatsapp.IncomingMessage{
		ID:        id,
		Type:      whatsapp.MessageTypeChat,
		Body:      body,
		Chat:      remote + "@s.whatsapp.net",
		PushName:  "Maria Silva",
		Timestamp: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func (h *harness) send(msg *whatsapp.IncomingMessage) {
	h.handler.HandleMessage(context.Background(), h.client, msg)
}

func (h *harness) ticket(t *testing.T) *domain.Ticket {
	t.Helper()
	contact := h.store.ContactByNumber(remote)
	if contact == nil {
		t.Fatal("contact not created")
	}
	tickets := h.store.Tickets(contact.ID)
	if len(tickets) == 0 {
		t.Fatal("ticket not created")
	}
	return tickets[len(tickets)-1]
}

func threeQueues() []*domain.Queue {
	return []*domain.Queue{
		{Name: "Fila 1", MenuName: "Sou PACIENTE", GreetingMessage: "Quer iniciar o atendimento?"},
		{Name: "Fila 2", MenuName: "Sou DENTISTA", GreetingMessage: "Olá doutor(a)!"},
		{Name: "Fila 3", MenuName: "Comprovantes"},
	}
}

func TestSingleQueueInboundWithinHours(t *testing.T) {
	q := &domain.Queue{Name: "Atendimento"}
	h := newHarness(t, nil, q)

	h.send(inbound("M1", "Hello"))

	ticket := h.ticket(t)
	if ticket.Status != domain.TicketStatusPending {
		t.Errorf("status = %s", ticket.Status)
	}
	if ticket.QueueID == nil || *ticket.QueueID != q.ID {
		t.Errorf("queue = %v, want %s", ticket.QueueID, q.ID)
	}
	msgs := h.store.Messages(ticket.ID)
	if len(msgs) != 1 || msgs[0].FromMe || msgs[0].Body != "Hello" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].ContactID == nil {
		t.Error("inbound message without contact")
	}
	if sends := h.client.Sends(); len(sends) != 0 {
		t.Errorf("unexpected sends: %+v", sends)
	}
	if ticket.LastMessage != "Hello" {
		t.Errorf("lastMessage = %q", ticket.LastMessage)
	}
}

func TestDuplicateInboundStoredOnce(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})

	h.send(inbound("M1", "Hello"))
	h.send(inbound("M1", "Hello"))

	ticket := h.ticket(t)
	if got := len(h.store.Messages(ticket.ID)); got != 1 {
		t.Errorf("messages = %d, want 1", got)
	}
	if got := len(h.store.Tickets(ticket.ContactID)); got != 1 {
		t.Errorf("tickets = %d, want 1", got)
	}
}

func TestOutOfServiceClosesTicket(t *testing.T) {
	h := newHarness(t, &domain.Channel{UseOutOfServiceMessage: true}, &domain.Queue{Name: "Atendimento"})
	h.clock.Set(time.Date(2024, 3, 4, 21, 0, 0, 0, time.UTC))

	h.send(inbound("M1", "Hello"))

	sends := h.client.Sends("text")
	if len(sends) != 1 || sends[0].Body != Marker+"Estamos fechados, Maria." {
		t.Fatalf("sends = %+v", sends)
	}
	if delays := h.clock.Delays(); len(delays) != 1 || delays[0] != time.Second {
		t.Errorf("close delays = %v", delays)
	}
	if h.ticket(t).Status != domain.TicketStatusPending {
		t.Fatal("ticket closed before the delay")
	}

	h.clock.Fire()
	if got := h.ticket(t).Status; got != domain.TicketStatusClosed {
		t.Errorf("status after delay = %s", got)
	}
	if len(h.agent.calls) != 0 {
		t.Error("agent must not answer an out-of-service reply")
	}
}

func TestOutOfServiceDisabledStaysQuiet(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})
	h.clock.Set(time.Date(2024, 3, 4, 21, 0, 0, 0, time.UTC))

	h.send(inbound("M1", "Hello"))

	if sends := h.client.Sends(); len(sends) != 0 {
		t.Errorf("unexpected sends: %+v", sends)
	}
	if n := h.clock.Fire(); n != 0 {
		t.Errorf("close scheduled without out-of-service flag")
	}
}

func TestMenuIsSentForUnknownOption(t *testing.T) {
	h := newHarness(t, nil, threeQueues()...)

	h.send(inbound("M1", "9"))

	ticket := h.ticket(t)
	if ticket.QueueID != nil {
		t.Fatalf("out of range option assigned queue %v", ticket.QueueID)
	}
	sends := h.client.Sends("text")
	if len(sends) != 1 {
		t.Fatalf("sends = %+v", sends)
	}
	want := Marker + "Olá Maria, escolha uma opção:\n*1* - Sou PACIENTE\n*2* - Sou DENTISTA\n*3* - Comprovantes\n"
	if sends[0].Body != want {
		t.Errorf("menu = %q, want %q", sends[0].Body, want)
	}
	if keys := h.debounce.Keys(); len(keys) != 1 || keys[0] != ticket.ID.String() {
		t.Errorf("debounce keys = %v", keys)
	}
	if d := h.debounce.Delays(); d[0] != 3*time.Second {
		t.Errorf("debounce delay = %v", d[0])
	}
	// the menu itself is stored as an outbound message
	if got := len(h.store.Messages(ticket.ID)); got != 2 {
		t.Errorf("messages = %d, want 2", got)
	}
}

func TestMenuAliasAssignsQueue(t *testing.T) {
	queues := threeQueues()
	h := newHarness(t, nil, queues...)

	h.send(inbound("M1", "oi"))
	h.send(inbound("M2", "sou dentista"))

	ticket := h.ticket(t)
	if ticket.QueueID == nil || *ticket.QueueID != queues[1].ID {
		t.Fatalf("queue = %v, want %s", ticket.QueueID, queues[1].ID)
	}
	sends := h.client.Sends("text")
	if len(sends) != 2 || sends[1].Body != Marker+"Olá doutor(a)!" {
		t.Errorf("sends = %+v", sends)
	}
}

func TestListReplyAssignsQueueByText(t *testing.T) {
	queues := threeQueues()
	h := newHarness(t, nil, queues...)

	h.send(inbound("M1", "oi"))
	reply := inbound("M2", "2")
	reply.Type = whatsapp.MessageTypeListResponse
	reply.SelectedButtonID = "option1"
	h.send(reply)

	ticket := h.ticket(t)
	if ticket.QueueID == nil || *ticket.QueueID != queues[1].ID {
		t.Fatalf("queue = %v, want %s", ticket.QueueID, queues[1].ID)
	}
}

func TestFirstQueueGreetingUsesButtons(t *testing.T) {
	queues := threeQueues()
	h := newHarness(t, nil, queues...)

	h.send(inbound("M1", "1"))

	sends := h.client.Sends()
	if len(sends) != 1 || sends[0].Kind != "buttons" {
		t.Fatalf("sends = %+v", sends)
	}
	opts := sends[0].Buttons.Options
	if len(opts) != 2 || opts[0].ID != ButtonStartYes || opts[1].Text != "Não" {
		t.Errorf("buttons = %+v", opts)
	}
}

func TestFirstQueueGreetingFallsBackToText(t *testing.T) {
	queues := threeQueues()
	h := newHarness(t, nil, queues...)
	h.client.FailButtons = true

	h.send(inbound("M1", "1"))

	sends := h.client.Sends()
	if len(sends) != 1 || sends[0].Kind != "text" || sends[0].Body != Marker+"Quer iniciar o atendimento?" {
		t.Fatalf("sends = %+v", sends)
	}
}

func TestContactWithoutQueuesIsNotRouted(t *testing.T) {
	h := newHarness(t, nil, threeQueues()...)
	h.store.AddContact(&domain.Contact{Name: "Maria", Number: remote, UseQueues: false, UseAgent: true, AcceptAudioMessages: true})

	h.send(inbound("M1", "1"))

	if h.ticket(t).QueueID != nil {
		t.Error("ticket routed although the contact does not use queues")
	}
	if sends := h.client.Sends(); len(sends) != 0 {
		t.Errorf("unexpected sends: %+v", sends)
	}
}

func TestAgentQueueSchedulesReply(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento", Agent: &domain.Agent{Name: "Cero"}})

	h.send(inbound("M1", "Hello"))

	if len(h.agent.calls) != 1 {
		t.Fatalf("agent calls = %d, want 1", len(h.agent.calls))
	}
	call := h.agent.calls[0]
	if call.msg.ID != "M1" || call.ticket.Queue == nil || call.ticket.Queue.Agent == nil {
		t.Errorf("agent call = %+v", call)
	}
	if d := h.debounce.Delays(); len(d) != 1 || d[0] != 8*time.Second {
		t.Errorf("debounce delays = %v", d)
	}
}

func TestAgentSkippedWhenAutomationDisabled(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento", Agent: &domain.Agent{Name: "Cero"}})
	h.store.AddContact(&domain.Contact{Name: "Maria", Number: remote, UseQueues: true, UseAgent: false, AcceptAudioMessages: true})

	h.send(inbound("M1", "Hello"))

	if len(h.agent.calls) != 0 {
		t.Errorf("agent called for a contact with automation off")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento", Agent: &domain.Agent{Name: "Cero"}})
	h.agent.panic = true

	h.send(inbound("M1", "Hello"))

	if got := len(h.reporter.Recovered()); got != 1 {
		t.Fatalf("recovered = %d, want 1", got)
	}
	h.agent.panic = false
	h.send(inbound("M2", "Ainda aí?"))
	if len(h.agent.calls) != 1 {
		t.Error("handler stopped working after a panic")
	}
}

func TestSelfSentEchoIsIgnored(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})
	h.send(inbound("M1", "Hello"))
	ticket := h.ticket(t)

	echo := inbound("S1", Marker+"resposta automática")
	echo.FromMe = true
	h.send(echo)

	if got := len(h.store.Messages(ticket.ID)); got != 1 {
		t.Errorf("messages = %d, want 1", got)
	}
}

func TestSelfSentFromPhoneIsStored(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})
	h.send(inbound("M1", "Hello"))

	reply := inbound("S1", "respondi pelo celular")
	reply.FromMe = true
	reply.PushName = "Clínica"
	h.send(reply)

	ticket := h.ticket(t)
	msgs := h.store.Messages(ticket.ID)
	if len(msgs) != 2 || !msgs[1].FromMe || msgs[1].ContactID != nil {
		t.Fatalf("messages = %+v", msgs)
	}
	if ticket.UnreadMessages != 0 {
		t.Errorf("unread = %d", ticket.UnreadMessages)
	}
	if c := h.store.ContactByNumber(remote); c.Name != "Maria Silva" {
		t.Errorf("contact renamed to %q", c.Name)
	}
}

func TestUnreadCountAccumulates(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})

	h.send(inbound("M1", "oi"))
	h.send(inbound("M2", "tudo bem?"))
	h.send(inbound("M3", "alguém aí?"))

	if got := h.ticket(t).UnreadMessages; got != 3 {
		t.Fatalf("unread after three inbound messages = %d, want 3", got)
	}

	reply := inbound("S1", "estamos aqui")
	reply.FromMe = true
	h.send(reply)
	if got := h.ticket(t).UnreadMessages; got != 0 {
		t.Errorf("unread after our reply = %d, want 0", got)
	}

	h.send(inbound("M4", "ok"))
	if got := h.ticket(t).UnreadMessages; got != 1 {
		t.Errorf("unread after one more inbound = %d, want 1", got)
	}
}

func TestSelfSentWithoutTicketIsDiscarded(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})

	msg := inbound("S1", "oi")
	msg.FromMe = true
	h.send(msg)

	contact := h.store.ContactByNumber(remote)
	if contact != nil && len(h.store.Tickets(contact.ID)) != 0 {
		t.Error("ticket created for a self-sent message")
	}
}

func TestFarewellEchoIsIgnored(t *testing.T) {
	h := newHarness(t, &domain.Channel{FarewellMessage: "Até logo, {{firstName}}!"}, &domain.Queue{Name: "Atendimento"})
	h.send(inbound("M1", "Hello"))
	ticket := h.ticket(t)

	echo := inbound("S1", "Até logo, Maria!")
	echo.FromMe = true
	h.send(echo)

	if got := len(h.store.Messages(ticket.ID)); got != 1 {
		t.Errorf("messages = %d, want 1", got)
	}
}

func TestGroupAndStatusMessagesAreIgnored(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})

	group := inbound("G1", "oi")
	group.IsGroup = true
	status := inbound("B1", "status")
	status.Broadcast = true
	unknown := inbound("U1", "")
	unknown.Type = ""

	for _, m := range []*whatsapp.IncomingMessage{group, status, unknown} {
		h.send(m)
	}
	if h.store.ContactByNumber(remote) != nil {
		t.Error("ignored messages created a contact")
	}
}

func TestMediaIsUploadedAndLabelled(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})
	msg := inbound("A1", "")
	msg.Type = whatsapp.MessageTypePTT
	msg.HasMedia = true
	msg.Media = &whatsapp.Media{Data: []byte("OggS"), Mimetype: "audio/ogg; codecs=opus"}

	h.send(msg)

	ticket := h.ticket(t)
	uploads := h.media.Uploads()
	if len(uploads) != 1 {
		t.Fatalf("uploads = %+v", uploads)
	}
	wantName := "1709546400.ogg"
	if uploads[0].Filename != wantName || uploads[0].Folder != "tickets/"+ticket.ID.String() {
		t.Errorf("upload = %+v", uploads[0])
	}
	msgs := h.store.Messages(ticket.ID)
	if len(msgs) != 1 || msgs[0].MediaURL == nil || msgs[0].MediaType != "audio" {
		t.Fatalf("messages = %+v", msgs)
	}
	if !strings.HasSuffix(*msgs[0].MediaURL, wantName) {
		t.Errorf("media url = %s", *msgs[0].MediaURL)
	}
	if ticket.LastMessage != "🎤 Áudio" {
		t.Errorf("lastMessage = %q", ticket.LastMessage)
	}
}

func TestMediaDownloadFailureStillStores(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})
	h.client.DownloadErr = errors.New("media expired")
	msg := inbound("I1", "")
	msg.Type = whatsapp.MessageTypeImage
	msg.HasMedia = true

	h.send(msg)

	ticket := h.ticket(t)
	msgs := h.store.Messages(ticket.ID)
	if len(msgs) != 1 || msgs[0].MediaURL != nil || msgs[0].Body != UnknownMedia {
		t.Fatalf("messages = %+v", msgs)
	}
	if ticket.LastMessage != UnknownMedia {
		t.Errorf("lastMessage = %q", ticket.LastMessage)
	}
	if len(h.reporter.Errors()) != 1 {
		t.Errorf("reported errors = %v", h.reporter.Errors())
	}
}

func TestLocationMessage(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})
	msg := inbound("L1", "")
	msg.Type = whatsapp.MessageTypeLocation
	msg.Location = &whatsapp.Location{Latitude: -22.75, Longitude: -41.88, Description: "Clínica\nRua A, 10", Thumbnail: []byte{0xff}}

	h.send(msg)

	ticket := h.ticket(t)
	msgs := h.store.Messages(ticket.ID)
	want := "data:image/png;base64,/w==|https://maps.google.com/maps?q=-22.75%2C-41.88&z=17&hl=pt-BR|Clínica\nRua A, 10"
	if len(msgs) != 1 || msgs[0].Body != want {
		t.Fatalf("body = %q, want %q", msgs[0].Body, want)
	}
	if ticket.LastMessage != "Localization - Clínica" {
		t.Errorf("lastMessage = %q", ticket.LastMessage)
	}
}

func TestQuotedMessageIsLinked(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})
	h.send(inbound("M1", "primeira"))

	reply := inbound("M2", "respondendo")
	reply.QuotedID = "M1"
	h.send(reply)

	reply2 := inbound("M3", "citação perdida")
	reply2.QuotedID = "GONE"
	h.send(reply2)

	msgs := h.store.Messages(h.ticket(t).ID)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d", len(msgs))
	}
	if msgs[1].QuotedMsgID == nil || *msgs[1].QuotedMsgID != "M1" {
		t.Errorf("quoted = %v", msgs[1].QuotedMsgID)
	}
	if msgs[2].QuotedMsgID != nil {
		t.Errorf("unknown quote should be omitted, got %v", *msgs[2].QuotedMsgID)
	}
}

func TestAudioRefusedNotice(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})
	h.store.AddContact(&domain.Contact{Name: "Maria", Number: remote, UseQueues: true, AcceptAudioMessages: false})
	msg := inbound("A1", "")
	msg.Type = whatsapp.MessageTypeAudio
	msg.HasMedia = true
	msg.Media = &whatsapp.Media{Data: []byte("x"), Mimetype: "audio/mpeg"}

	h.send(msg)

	sends := h.client.Sends("text")
	if len(sends) != 1 || sends[0].Body != Marker+AudioNotice {
		t.Fatalf("sends = %+v", sends)
	}
	if got := len(h.store.Messages(h.ticket(t).ID)); got != 2 {
		t.Errorf("messages = %d, want 2", got)
	}
}

func TestVCardContactsAreImported(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})
	msg := inbound("V1", "")
	msg.Type = whatsapp.MessageTypeVCard
	msg.VCards = []string{"BEGIN:VCARD\nFN:Ana Souza\nTEL;type=CELL:+55 21 98888-7777\nEND:VCARD"}
	msg.Body = msg.VCards[0]

	h.send(msg)

	c := h.store.ContactByNumber("5521988887777")
	if c == nil || c.Name != "Ana Souza" {
		t.Errorf("imported contact = %+v", c)
	}
}

func TestHandleAck(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})
	h.send(inbound("M1", "oi"))
	ticket := h.ticket(t)
	if _, _, err := h.svc.Message.Create(context.Background(), &domain.Message{ID: "S1", FromMe: true, TicketID: ticket.ID, Ack: domain.AckServer}); err != nil {
		t.Fatal(err)
	}

	h.handler.HandleAck(context.Background(), h.client, []string{"S1", "UNKNOWN"}, domain.AckRead)

	for _, m := range h.store.Messages(ticket.ID) {
		if m.ID == "S1" && m.Ack != domain.AckRead {
			t.Errorf("ack = %d", m.Ack)
		}
	}
	if len(h.reporter.Errors()) != 0 {
		t.Errorf("errors = %v", h.reporter.Errors())
	}
}

func TestHandleCall(t *testing.T) {
	h := newHarness(t, nil, &domain.Queue{Name: "Atendimento"})
	ctx := context.Background()

	h.handler.HandleCall(ctx, h.client, remote+"@s.whatsapp.net", "CALL1")
	if len(h.client.Rejected()) != 0 {
		t.Fatal("call rejected while calls are enabled")
	}

	h.send(inbound("M1", "oi"))
	h.store.SetSetting(domain.SettingCallPolicy, "disabled")
	h.handler.HandleCall(ctx, h.client, remote+"@s.whatsapp.net", "CALL2")

	if got := h.client.Rejected(); len(got) != 1 || got[0] != "CALL2" {
		t.Errorf("rejected = %v", got)
	}
	sends := h.client.Sends("text")
	if len(sends) != 1 || sends[0].To != remote || sends[0].Body != Marker+CallRejectNotice {
		t.Fatalf("sends = %+v", sends)
	}
	if got := len(h.store.Messages(h.ticket(t).ID)); got != 2 {
		t.Errorf("messages = %d, want 2", got)
	}
}
