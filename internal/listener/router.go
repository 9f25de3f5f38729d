package listener

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/errtrack"
	"github.com/dollyzn/whaticket-cero/internal/pacing"
	"github.com/dollyzn/whaticket-cero/internal/service"
	"github.com/dollyzn/whaticket-cero/internal/whatsapp"
	"github.com/rs/zerolog"
)

// Button ids of the yes/no prompt sent with the first queue's greeting
const (
	ButtonStartYes = "startAtendanceYes"
	ButtonStartNo  = "startAtendanceNo"
)

// menuAliases map textual replies to menu positions
var menuAliases = map[string]string{
	"SOU PACIENTE": "1",
	"SOU DENTISTA": "2",
}

// TimeKey orders times of day. It is a comparison key only and does not
// count seconds since midnight.
func TimeKey(hour, minute, second int) int {
	return hour*1440 + minute*24 + second
}

func parseClock(v string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var n [3]int
	for i, p := range parts {
		x, err := strconv.Atoi(p)
		if err != nil {
			return 0, false
		}
		n[i] = x
	}
	return TimeKey(n[0], n[1], n[2]), true
}

// WithinBusinessHours reports whether now falls between opening and closing,
// both inclusive. Hours that cannot be parsed count as always open.
func WithinBusinessHours(now time.Time, opening, closing string) bool {
	start, ok1 := parseClock(opening)
	end, ok2 := parseClock(closing)
	if !ok1 || !ok2 {
		return true
	}
	key := TimeKey(now.Hour(), now.Minute(), now.Second())
	return start <= key && key <= end
}

// MenuOption resolves a menu reply to a zero-based queue index
func MenuOption(body string, count int) (int, bool) {
	option := strings.TrimSpace(body)
	if alias, ok := menuAliases[strings.ToUpper(option)]; ok {
		option = alias
	}
	n, err := strconv.Atoi(option)
	if err != nil || n < 1 || n > count {
		return 0, false
	}
	return n - 1, true
}

// Menu renders the numbered queue list
func Menu(queues []*domain.Queue) string {
	var b strings.Builder
	for i, q := range queues {
		fmt.Fprintf(&b, "*%d* - %s\n", i+1, q.DisplayName())
	}
	return b.String()
}

// router assigns unrouted tickets to a queue and sends the menu, greeting
// and out-of-service replies
type router struct {
	tickets  *service.TicketService
	recorder *Normalizer
	debounce Debouncer
	clock    pacing.Clock
	reporter errtrack.Reporter
	cfg      Config
	log      zerolog.Logger
}

// route handles an inbound message on a ticket without queue. It returns
// the updated ticket and whether an automated reply was sent or scheduled.
func (r *router) route(ctx context.Context, c whatsapp.Client, msg *whatsapp.IncomingMessage, ticket *domain.Ticket, contact *domain.Contact, ch *domain.Channel) (*domain.Ticket, bool, error) {
	queues := ch.Queues
	now := r.clock.Now().In(r.cfg.Location)
	outOfService := ch.UseOutOfServiceMessage && !WithinBusinessHours(now, ch.OpeningHours, ch.ClosingHours)

	if len(queues) == 1 {
		t, err := r.assign(ctx, ticket, queues[0], len(queues))
		if err != nil {
			return ticket, false, err
		}
		if outOfService {
			r.outOfService(ctx, c, t, contact, ch, now)
			return t, true, nil
		}
		return t, false, nil
	}

	if !contact.UseQueues {
		return ticket, false, nil
	}

	// the menu is plain text, so the typed or selected text is the option
	if idx, ok := MenuOption(msg.Body, len(queues)); ok {
		q := queues[idx]
		t, err := r.assign(ctx, ticket, q, len(queues))
		if err != nil {
			return ticket, false, err
		}
		if q.GreetingMessage == "" {
			return t, false, nil
		}
		if outOfService {
			r.outOfService(ctx, c, t, contact, ch, now)
			return t, true, nil
		}
		r.greet(ctx, c, t, contact, q, idx == 0, now)
		return t, true, nil
	}

	if outOfService {
		r.outOfService(ctx, c, ticket, contact, ch, now)
		return ticket, true, nil
	}
	if _, _, err := r.tickets.Transition(ctx, ticket.ID, len(queues), domain.EventMenuPrompted, domain.TicketUpdate{}); err != nil {
		return ticket, false, err
	}
	body := Marker + FormatBody(ch.GreetingMessage+"\n"+Menu(queues), contact, now)
	r.schedule(ctx, ticket, func(ctx context.Context, t *domain.Ticket) {
		r.sendText(ctx, c, t, contact, body)
	})
	return ticket, true, nil
}

func (r *router) assign(ctx context.Context, t *domain.Ticket, q *domain.Queue, queueCount int) (*domain.Ticket, error) {
	next, state, err := r.tickets.Transition(ctx, t.ID, queueCount, domain.QueueChosenEvent(q), domain.TicketUpdate{QueueID: &q.ID})
	if err != nil {
		return nil, err
	}
	r.log.Debug().Str("ticket", t.ID.String()).Str("queue", q.Name).Stringer("state", state).Msg("queue assigned")
	return next, nil
}

// greet sends the queue greeting. The first queue offers yes/no buttons and
// falls back to plain text when the channel refuses them.
func (r *router) greet(ctx context.Context, c whatsapp.Client, ticket *domain.Ticket, contact *domain.Contact, q *domain.Queue, first bool, now time.Time) {
	body := Marker + FormatBody(q.GreetingMessage, contact, now)
	r.schedule(ctx, ticket, func(ctx context.Context, t *domain.Ticket) {
		if first {
			sent, err := c.SendButtons(ctx, contact.Number, whatsapp.Buttons{
				Body: body,
				Options: []whatsapp.Button{
					{ID: ButtonStartYes, Text: "Sim"},
					{ID: ButtonStartNo, Text: "Não"},
				},
			})
			if err == nil {
				r.record(ctx, c, sent, t, contact)
				return
			}
			r.log.Debug().Err(err).Str("ticket", t.ID.String()).Msg("buttons refused, sending text greeting")
		}
		r.sendText(ctx, c, t, contact, body)
	})
}

// outOfService sends the out-of-service template and closes the ticket
// shortly after
func (r *router) outOfService(ctx context.Context, c whatsapp.Client, ticket *domain.Ticket, contact *domain.Contact, ch *domain.Channel, now time.Time) {
	body := Marker + FormatBody(ch.OutOfServiceMessage, contact, now)
	r.schedule(ctx, ticket, func(ctx context.Context, t *domain.Ticket) {
		r.sendText(ctx, c, t, contact, body)
	})

	id, queueCount := ticket.ID, len(ch.Queues)
	bg := context.WithoutCancel(ctx)
	r.clock.AfterFunc(r.cfg.CloseDelay, func() {
		closed := domain.TicketStatusClosed
		if _, _, err := r.tickets.Transition(bg, id, queueCount, domain.EventOutOfHoursClosed, domain.TicketUpdate{Status: &closed}); err != nil {
			r.log.Warn().Err(err).Str("ticket", id.String()).Msg("failed to close ticket out of hours")
		}
	})
}

// schedule debounces an automated send on the ticket id
func (r *router) schedule(ctx context.Context, ticket *domain.Ticket, send func(ctx context.Context, t *domain.Ticket)) {
	t := *ticket
	bg := context.WithoutCancel(ctx)
	r.debounce.Schedule(t.ID.String(), r.cfg.QueueDebounce, func() {
		send(bg, &t)
	})
}

func (r *router) sendText(ctx context.Context, c whatsapp.Client, t *domain.Ticket, contact *domain.Contact, body string) {
	sent, err := c.SendText(ctx, contact.Number, body)
	if err != nil {
		r.reporter.Capture(fmt.Errorf("send automated reply: %w", err), map[string]string{"ticket": t.ID.String()})
		return
	}
	r.record(ctx, c, sent, t, contact)
}

func (r *router) record(ctx context.Context, c whatsapp.Client, sent *whatsapp.IncomingMessage, t *domain.Ticket, contact *domain.Contact) {
	if _, err := r.recorder.Record(ctx, c, sent, t, contact); err != nil {
		r.log.Error().Err(err).Str("ticket", t.ID.String()).Msg("failed to store automated reply")
	}
}
