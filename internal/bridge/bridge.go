// Package bridge answers agent-handled tickets: it queries the queue's
// conversational agent and delivers the reply with the paced send sequence.
package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/agent"
	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/errtrack"
	"github.com/dollyzn/whaticket-cero/internal/listener"
	"github.com/dollyzn/whaticket-cero/internal/pacing"
	"github.com/dollyzn/whaticket-cero/internal/service"
	"github.com/dollyzn/whaticket-cero/internal/whatsapp"
	"github.com/rs/zerolog"
)

// Intent phrases substituted for special inputs
const (
	IntentImage      = "image"
	IntentStartYes   = "buttons_response_yes"
	IntentStartNo    = "buttons_response_no"
	NotUnderstood    = "🤔 Não consegui entender"
	listSectionTitle = "Opções"
	listButtonText   = "Clique aqui"
	imageSummary     = "📷 Foto"
	maxImageSize     = 16 << 20
)

// Recorder stores a sent message on the ticket
type Recorder interface {
	Record(ctx context.Context, c whatsapp.Client, msg *whatsapp.IncomingMessage, ticket *domain.Ticket, contact *domain.Contact) (*domain.Message, error)
}

// BookingDispatcher runs a booking step and answers the contact with its
// result
type BookingDispatcher interface {
	Dispatch(ctx context.Context, c whatsapp.Client, ticket *domain.Ticket, contact *domain.Contact, agentName string, in *agent.BookingIntent)
}

// Bridge implements listener.AgentReplier
type Bridge struct {
	detector agent.Detector
	recorder Recorder
	svc      *service.Services
	booking  BookingDispatcher
	pacer    *pacing.Pacer
	timings  pacing.Timings
	http     *http.Client
	reporter errtrack.Reporter
	log      zerolog.Logger

	// spawn runs work that must not hold up the reply sequence
	spawn func(func())
}

// New creates the bridge. booking may be nil when no booking API is configured.
func New(detector agent.Detector, recorder Recorder, svc *service.Services, booking BookingDispatcher, pacer *pacing.Pacer, timings pacing.Timings, reporter errtrack.Reporter, logger zerolog.Logger) *Bridge {
	return &Bridge{
		detector: detector,
		recorder: recorder,
		svc:      svc,
		booking:  booking,
		pacer:    pacer,
		timings:  timings,
		http:     &http.Client{Timeout: 30 * time.Second},
		reporter: reporter,
		log:      logger.With().Str("component", "bridge").Logger(),
		spawn:    func(f func()) { go f() },
	}
}

// QueryText maps an inbound message to the text sent to the agent
func QueryText(msg *whatsapp.IncomingMessage) string {
	switch msg.SelectedButtonID {
	case listener.ButtonStartYes:
		return IntentStartYes
	case listener.ButtonStartNo:
		return IntentStartNo
	}
	if msg.Type == whatsapp.MessageTypeDocument {
		return IntentImage
	}
	return msg.Body
}

// FarewellText is the farewell template as it appears inside agent replies
func FarewellText(template string) string {
	return strings.NewReplacer("_", "", "*", "").Replace(template)
}

// turn is one agent reply being delivered
type turn struct {
	b       *Bridge
	c       whatsapp.Client
	ticket  *domain.Ticket
	contact *domain.Contact
	msg     *whatsapp.IncomingMessage
	prefix  string
	tags    map[string]string
}

func (b *Bridge) Reply(ctx context.Context, c whatsapp.Client, ticket *domain.Ticket, contact *domain.Contact, msg *whatsapp.IncomingMessage) {
	tags := map[string]string{"ticket": ticket.ID.String(), "message": msg.ID}
	defer func() {
		if r := recover(); r != nil {
			b.reporter.Recover(r, tags)
		}
	}()

	if ticket.Queue == nil || ticket.Queue.Agent == nil {
		return
	}
	ag := ticket.Queue.Agent
	t := &turn{b: b, c: c, ticket: ticket, contact: contact, msg: msg, prefix: "*" + ag.Name + ":* ", tags: tags}

	if err := c.SendPresence(ctx, contact.Number, whatsapp.PresenceAvailable); err != nil {
		b.log.Debug().Err(err).Str("contact", contact.Number).Msg("presence not sent")
	}

	q := agent.Query{SessionID: contact.Number, Text: QueryText(msg)}
	if msg.Type == whatsapp.MessageTypePTT {
		media, err := c.Download(ctx, msg)
		if err != nil {
			b.reporter.Capture(fmt.Errorf("download voice note: %w", err), tags)
			return
		}
		q.Audio = media.Data
	}

	reply, err := b.detector.Detect(ctx, ag, q)
	if err != nil {
		b.reporter.Capture(fmt.Errorf("query agent %s: %w", ag.Name, err), tags)
		return
	}
	if reply == nil {
		t.run(ctx, b.timings.NotUnderstood(), t.sendText(t.prefix+NotUnderstood))
		return
	}

	if reply.EndConversation {
		t.setAutomation(ctx, false)
	}
	b.deliver(ctx, t, reply)
}

func (b *Bridge) deliver(ctx context.Context, t *turn, reply *agent.Reply) {
	d := reply.Directives

	t.run(ctx, b.timings.Preamble(), nil)

	if d.Reaction != "" && agent.IsReaction(d.Reaction) {
		t.run(ctx, b.timings.Reaction(), func(ctx context.Context) error {
			return t.c.SendReaction(ctx, t.contact.Number, t.msg.ID, t.msg.FromMe, d.Reaction)
		})
	}

	if d.Booking != nil && b.booking != nil {
		t.setAutomation(ctx, false)
		bg, in, name := context.WithoutCancel(ctx), d.Booking, t.ticket.Queue.Agent.Name
		b.spawn(func() {
			b.booking.Dispatch(bg, t.c, t.ticket, t.contact, name, in)
		})
	}

	audio := len(d.Audio) > 0
	for i, seg := range reply.Segments {
		last := i == len(reply.Segments)-1
		body := t.prefix + seg
		switch {
		case last && len(d.Buttons) > 0:
			t.run(ctx, b.timings.InteractiveSegment(audio), t.sendButtons(body, d.Buttons))
		case last && len(d.List) > 0:
			t.run(ctx, b.timings.InteractiveSegment(audio), t.sendList(body, d.List))
		default:
			t.run(ctx, b.timings.TextSegment(last, audio), t.sendText(body))
		}
	}

	if audio {
		t.run(ctx, b.timings.Attachment(), t.sendMedia(&whatsapp.Media{Data: d.Audio, Mimetype: "audio/ogg"}, whatsapp.MediaOptions{VoiceNote: true}))
	}

	if d.ImageURL != "" {
		t.run(ctx, b.timings.Attachment(), func(ctx context.Context) error {
			media, err := b.fetchImage(ctx, d.ImageURL)
			if err != nil {
				return err
			}
			if err := t.sendMedia(media, whatsapp.MediaOptions{})(ctx); err != nil {
				return err
			}
			_, err = b.svc.Ticket.SetLastMessage(ctx, t.ticket.ID, imageSummary)
			return err
		})
	}

	if len(reply.Segments) > 0 {
		b.farewell(ctx, t, reply.Segments[len(reply.Segments)-1])
	}
}

// farewell closes the ticket when the last segment carries the channel's
// farewell text
func (b *Bridge) farewell(ctx context.Context, t *turn, last string) {
	ch, err := b.svc.Channel.Show(ctx, t.ticket.ChannelID)
	if err != nil {
		b.reporter.Capture(fmt.Errorf("load channel: %w", err), t.tags)
		return
	}
	text := FarewellText(ch.FarewellMessage)
	if strings.TrimSpace(text) == "" || !strings.Contains(last, text) {
		return
	}
	queueCount := len(ch.Queues)
	t.run(ctx, b.timings.Farewell(), func(ctx context.Context) error {
		t.setAutomation(ctx, true)
		closed := domain.TicketStatusClosed
		_, _, err := b.svc.Ticket.Transition(ctx, t.ticket.ID, queueCount, domain.EventConversationEnded, domain.TicketUpdate{Status: &closed})
		return err
	})
}

func (b *Bridge) fetchImage(ctx context.Context, url string) (*whatsapp.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image %s returned %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	mimetype := resp.Header.Get("Content-Type")
	if mimetype == "" || strings.HasPrefix(mimetype, "application/octet-stream") {
		mimetype = http.DetectContentType(data)
	}
	return &whatsapp.Media{Data: data, Mimetype: mimetype}, nil
}

// run executes policy with send bound to the send, react and close steps
func (t *turn) run(ctx context.Context, policy pacing.Policy, send func(ctx context.Context) error) {
	err := t.b.pacer.Run(ctx, policy, pacing.PerformerFunc(func(ctx context.Context, a pacing.Action) error {
		switch a {
		case pacing.ActionTyping:
			return t.c.SendPresence(ctx, t.contact.Number, whatsapp.PresenceTyping)
		case pacing.ActionRecording:
			return t.c.SendPresence(ctx, t.contact.Number, whatsapp.PresenceRecording)
		}
		if send == nil {
			return nil
		}
		return send(ctx)
	}))
	if err != nil {
		t.b.reporter.Capture(fmt.Errorf("agent reply: %w", err), t.tags)
	}
}

func (t *turn) record(ctx context.Context, sent *whatsapp.IncomingMessage) {
	if _, err := t.b.recorder.Record(ctx, t.c, sent, t.ticket, t.contact); err != nil {
		t.b.log.Error().Err(err).Str("ticket", t.ticket.ID.String()).Msg("failed to store agent reply")
	}
}

func (t *turn) sendText(body string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sent, err := t.c.SendText(ctx, t.contact.Number, body)
		if err != nil {
			return err
		}
		t.record(ctx, sent)
		return nil
	}
}

// sendButtons and sendList have no plain-text fallback
func (t *turn) sendButtons(body string, options []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		buttons := whatsapp.Buttons{Body: body}
		for i, o := range options {
			buttons.Options = append(buttons.Options, whatsapp.Button{ID: fmt.Sprintf("button%d", i+1), Text: o})
		}
		sent, err := t.c.SendButtons(ctx, t.contact.Number, buttons)
		if err != nil {
			return err
		}
		t.record(ctx, sent)
		return nil
	}
}

func (t *turn) sendList(body string, options []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		section := whatsapp.ListSection{Title: listSectionTitle}
		for i, o := range options {
			section.Rows = append(section.Rows, whatsapp.ListRow{ID: fmt.Sprintf("option%d", i+1), Title: o})
		}
		sent, err := t.c.SendList(ctx, t.contact.Number, whatsapp.List{
			Body:       body,
			ButtonText: listButtonText,
			Sections:   []whatsapp.ListSection{section},
		})
		if err != nil {
			return err
		}
		t.record(ctx, sent)
		return nil
	}
}

func (t *turn) sendMedia(media *whatsapp.Media, opts whatsapp.MediaOptions) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sent, err := t.c.SendMedia(ctx, t.contact.Number, media, opts)
		if err != nil {
			return err
		}
		t.record(ctx, sent)
		return nil
	}
}

func (t *turn) setAutomation(ctx context.Context, enabled bool) {
	if _, err := t.b.svc.Contact.ToggleAutomation(ctx, t.contact.ID, enabled); err != nil {
		t.b.reporter.Capture(fmt.Errorf("toggle automation: %w", err), t.tags)
	}
}
