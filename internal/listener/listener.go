// Package listener consumes channel events: it stores messages, routes new
// tickets to queues and hands agent-bound conversations to the agent bridge.
package listener

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/errtrack"
	"github.com/dollyzn/whaticket-cero/internal/pacing"
	"github.com/dollyzn/whaticket-cero/internal/service"
	"github.com/dollyzn/whaticket-cero/internal/whatsapp"
	"github.com/rs/zerolog"
)

// Plain-text notices sent by the listener
const (
	AudioNotice      = "_Infelizmente não conseguimos escutar nem enviar áudios por este canal de atendimento 😕, por favor, envie uma mensagem de *texto*._"
	CallRejectNotice = "_As chamadas de voz e vídeo por WhatsApp estão desabilitadas para este canal de atendimento, por favor, envie uma mensagem de *texto*._"
)

// Debouncer runs the last action scheduled under a key once the key has
// been quiet for delay
type Debouncer interface {
	Schedule(key string, delay time.Duration, action func())
}

// AgentReplier answers a message with the conversational agent of the
// ticket's queue
type AgentReplier interface {
	Reply(ctx context.Context, c whatsapp.Client, ticket *domain.Ticket, contact *domain.Contact, msg *whatsapp.IncomingMessage)
}

type Config struct {
	Location      *time.Location
	QueueDebounce time.Duration
	AgentDebounce time.Duration
	CloseDelay    time.Duration
	AckDelay      time.Duration
}

// Handler implements whatsapp.EventHandler
type Handler struct {
	svc        *service.Services
	normalizer *Normalizer
	router     *router
	agent      AgentReplier
	debounce   Debouncer
	clock      pacing.Clock
	reporter   errtrack.Reporter
	cfg        Config
	log        zerolog.Logger
}

// New creates the handler. agent may be nil, in which case no automated
// agent replies are sent.
func New(svc *service.Services, normalizer *Normalizer, agent AgentReplier, debounce Debouncer, clock pacing.Clock, reporter errtrack.Reporter, cfg Config, logger zerolog.Logger) *Handler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clock == nil {
		clock = pacing.RealClock{}
	}
	log := logger.With().Str("component", "listener").Logger()
	return &Handler{
		svc:        svc,
		normalizer: normalizer,
		router: &router{
			tickets:  svc.Ticket,
			recorder: normalizer,
			debounce: debounce,
			clock:    clock,
			reporter: reporter,
			cfg:      cfg,
			log:      logger.With().Str("component", "router").Logger(),
		},
		agent:    agent,
		debounce: debounce,
		clock:    clock,
		reporter: reporter,
		cfg:      cfg,
		log:      log,
	}
}

func (h *Handler) recoverEvent(tags map[string]string) {
	if r := recover(); r != nil {
		h.reporter.Recover(r, tags)
	}
}

func (h *Handler) HandleMessage(ctx context.Context, c whatsapp.Client, msg *whatsapp.IncomingMessage) {
	if !isValidMessage(msg) || msg.IsGroup {
		return
	}
	tags := map[string]string{"channel": c.ChannelID().String(), "message": msg.ID}
	defer h.recoverEvent(tags)

	if isAutomatedEcho(msg) || isIncompleteMedia(msg) {
		return
	}
	if err := h.handleMessage(ctx, c, msg); err != nil {
		h.reporter.Capture(fmt.Errorf("handle message: %w", err), tags)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c whatsapp.Client, msg *whatsapp.IncomingMessage) error {
	ch, err := h.svc.Channel.Show(ctx, c.ChannelID())
	if err != nil {
		return err
	}

	name := msg.PushName
	if msg.FromMe {
		// our own push name says nothing about the contact
		name = ""
	}
	contact, err := h.svc.Contact.CreateOrUpdate(ctx, service.ContactData{Name: name, Number: msg.Number()})
	if err != nil {
		return err
	}

	now := h.clock.Now().In(h.cfg.Location)
	if isFarewellEcho(FormatBody(ch.FarewellMessage, contact, now), msg.Body, msg.FromMe) {
		return nil
	}

	if msg.FromMe {
		existing, err := h.svc.Ticket.FindActive(ctx, contact.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			h.log.Error().Str("contact", contact.Number).Str("message", msg.ID).Msg("message sent outside the app")
			return nil
		}
	}

	ticket, err := h.svc.Ticket.FindOrCreate(ctx, contact, ch.ID, !msg.FromMe)
	if err != nil {
		return err
	}
	if _, err := h.normalizer.Record(ctx, c, msg, ticket, contact); err != nil {
		return err
	}
	if msg.FromMe {
		return nil
	}

	replied := false
	if ticket.QueueID == nil && ticket.UserID == nil && len(ch.Queues) > 0 {
		routed, sent, err := h.router.route(ctx, c, msg, ticket, contact, ch)
		if err != nil {
			h.reporter.Capture(fmt.Errorf("route ticket: %w", err), map[string]string{"ticket": ticket.ID.String()})
		} else {
			ticket, replied = routed, sent
		}
	}

	state := domain.ResolveTicketState(ticket, contact, len(ch.Queues))
	if !replied && h.agent != nil && state == domain.StateAssignedAgent {
		t, bg := ticket, context.WithoutCancel(ctx)
		h.debounce.Schedule(ticket.ID.String(), h.cfg.AgentDebounce, func() {
			h.agent.Reply(bg, c, t, contact, msg)
		})
	}

	if (msg.Type == whatsapp.MessageTypeAudio || msg.Type == whatsapp.MessageTypePTT) && !contact.AcceptAudioMessages {
		h.notify(ctx, c, ticket, contact, Marker+AudioNotice)
	}

	if msg.Type == whatsapp.MessageTypeVCard {
		h.importVCards(ctx, msg)
	}
	return nil
}

func (h *Handler) notify(ctx context.Context, c whatsapp.Client, ticket *domain.Ticket, contact *domain.Contact, body string) {
	sent, err := c.SendText(ctx, contact.Number, body)
	if err != nil {
		h.reporter.Capture(fmt.Errorf("send notice: %w", err), map[string]string{"ticket": ticket.ID.String()})
		return
	}
	if _, err := h.normalizer.Record(ctx, c, sent, ticket, contact); err != nil {
		h.log.Error().Err(err).Str("ticket", ticket.ID.String()).Msg("failed to store notice")
	}
}

func (h *Handler) importVCards(ctx context.Context, msg *whatsapp.IncomingMessage) {
	cards := msg.VCards
	if len(cards) == 0 && msg.Body != "" {
		cards = []string{msg.Body}
	}
	for _, card := range cards {
		for _, vc := range parseVCard(card) {
			if _, err := h.svc.Contact.CreateIfAbsent(ctx, vc.Name, vc.Number); err != nil {
				h.log.Warn().Err(err).Str("number", vc.Number).Msg("failed to import vcard contact")
			}
		}
	}
}

// HandleAck records a delivery receipt. The short wait lets a message that
// is still being stored land first.
func (h *Handler) HandleAck(ctx context.Context, c whatsapp.Client, messageIDs []string, ack int) {
	defer h.recoverEvent(map[string]string{"channel": c.ChannelID().String()})

	if h.cfg.AckDelay > 0 {
		if err := h.clock.Sleep(ctx, h.cfg.AckDelay); err != nil {
			return
		}
	}
	for _, id := range messageIDs {
		if _, err := h.svc.Message.UpdateAck(ctx, id, ack); err != nil {
			h.reporter.Capture(fmt.Errorf("update ack: %w", err), map[string]string{"message": id})
		}
	}
}

// HandleCall rejects calls when the call setting is disabled
func (h *Handler) HandleCall(ctx context.Context, c whatsapp.Client, from, callID string) {
	tags := map[string]string{"channel": c.ChannelID().String(), "call": callID}
	defer h.recoverEvent(tags)

	disabled, err := h.svc.Setting.CallsDisabled(ctx)
	if err != nil {
		h.reporter.Capture(fmt.Errorf("read call setting: %w", err), tags)
		return
	}
	if !disabled {
		return
	}
	if err := c.RejectCall(ctx, from, callID); err != nil {
		h.reporter.Capture(fmt.Errorf("reject call: %w", err), tags)
	}

	number := from
	if i := strings.IndexByte(number, '@'); i >= 0 {
		number = number[:i]
	}
	sent, err := c.SendText(ctx, number, Marker+CallRejectNotice)
	if err != nil {
		h.reporter.Capture(fmt.Errorf("send call notice: %w", err), tags)
		return
	}

	contact, err := h.svc.Contact.FindByNumber(ctx, number)
	if err != nil || contact == nil {
		return
	}
	ticket, err := h.svc.Ticket.FindActive(ctx, contact.ID)
	if err != nil || ticket == nil {
		return
	}
	if _, err := h.normalizer.Record(ctx, c, sent, ticket, contact); err != nil {
		h.log.Error().Err(err).Str("ticket", ticket.ID.String()).Msg("failed to store call notice")
	}
}
