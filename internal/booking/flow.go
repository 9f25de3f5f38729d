// Package booking runs the scheduling steps requested by the conversational
// agent against the Reservio API and answers the contact with the result.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/agent"
	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/errtrack"
	"github.com/dollyzn/whaticket-cero/internal/pacing"
	"github.com/dollyzn/whaticket-cero/internal/service"
	"github.com/dollyzn/whaticket-cero/internal/whatsapp"
	"github.com/dollyzn/whaticket-cero/pkg/config"
	"github.com/rs/zerolog"
)

// Result texts sent to the contact
const (
	CreateFailed = "Ocorreu um erro.\n\nVocê também pode realizar o exame por ordem de chegada! Posso ajudar com algo mais?"
	QueryFailed  = "Houve algum erro, tente novamente mais tarde\n\nPosso ajudar com algo mais?"
)

var errUnknownUnit = errors.New("unknown booking unit")

// Recorder stores a sent message on the ticket
type Recorder interface {
	Record(ctx context.Context, c whatsapp.Client, msg *whatsapp.IncomingMessage, ticket *domain.Ticket, contact *domain.Contact) (*domain.Message, error)
}

type FlowConfig struct {
	Units    []config.BookingUnit
	Note     string
	Location *time.Location
	Timings  pacing.Timings
}

// Flow answers booking intents. Automation is turned off by the caller while
// a step runs and turned back on once its result has been sent.
type Flow struct {
	api      *Client
	units    map[string]config.BookingUnit
	recorder Recorder
	contacts *service.ContactService
	pacer    *pacing.Pacer
	reporter errtrack.Reporter
	cfg      FlowConfig
	log      zerolog.Logger
}

func NewFlow(api *Client, recorder Recorder, contacts *service.ContactService, pacer *pacing.Pacer, reporter errtrack.Reporter, cfg FlowConfig, logger zerolog.Logger) *Flow {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	units := make(map[string]config.BookingUnit, len(cfg.Units))
	for _, u := range cfg.Units {
		units[u.ID] = u
	}
	return &Flow{
		api:      api,
		units:    units,
		recorder: recorder,
		contacts: contacts,
		pacer:    pacer,
		reporter: reporter,
		cfg:      cfg,
		log:      logger.With().Str("component", "booking").Logger(),
	}
}

// Dispatch runs one booking step and sends its outcome. It blocks until the
// result has been delivered.
func (f *Flow) Dispatch(ctx context.Context, c whatsapp.Client, ticket *domain.Ticket, contact *domain.Contact, agentName string, in *agent.BookingIntent) {
	tags := map[string]string{"ticket": ticket.ID.String(), "step": in.Step}
	defer func() {
		if r := recover(); r != nil {
			f.reporter.Recover(r, tags)
		}
	}()

	var body string
	switch in.Step {
	case agent.BookingServices:
		body = f.services(ctx, in, tags)
	case agent.BookingSlots:
		body = f.slots(ctx, in, tags)
	case agent.BookingCreate:
		body = f.create(ctx, contact, in, tags)
	default:
		f.log.Warn().Str("step", in.Step).Str("ticket", ticket.ID.String()).Msg("unknown booking step")
		f.enableAutomation(ctx, contact, tags)
		return
	}

	prefix := "*" + agentName + ":* "
	if strings.HasPrefix(body, "\n") {
		prefix = strings.TrimSuffix(prefix, " ")
	}
	send := func(ctx context.Context, a pacing.Action) error {
		if a != pacing.ActionSend {
			return nil
		}
		sent, err := c.SendText(ctx, contact.Number, prefix+body)
		if err != nil {
			return err
		}
		if _, err := f.recorder.Record(ctx, c, sent, ticket, contact); err != nil {
			f.log.Error().Err(err).Str("ticket", ticket.ID.String()).Msg("failed to store booking result")
		}
		f.enableAutomation(ctx, contact, tags)
		return nil
	}
	if err := f.pacer.Run(ctx, f.cfg.Timings.BookingResult(), pacing.PerformerFunc(send)); err != nil {
		f.reporter.Capture(fmt.Errorf("send booking result: %w", err), tags)
		f.enableAutomation(ctx, contact, tags)
	}
}

func (f *Flow) enableAutomation(ctx context.Context, contact *domain.Contact, tags map[string]string) {
	if _, err := f.contacts.ToggleAutomation(ctx, contact.ID, true); err != nil {
		f.reporter.Capture(fmt.Errorf("re-enable automation: %w", err), tags)
	}
}

func (f *Flow) services(ctx context.Context, in *agent.BookingIntent, tags map[string]string) string {
	if _, ok := f.units[in.Unit]; !ok {
		f.reporter.Capture(fmt.Errorf("list services: %w %q", errUnknownUnit, in.Unit), tags)
		return QueryFailed
	}
	services, err := f.api.ListServices(ctx, in.Unit)
	if err != nil {
		f.reporter.Capture(fmt.Errorf("list services: %w", err), tags)
		return QueryFailed
	}
	if len(services) == 0 {
		return "Infelizmente não há nenhum serviço disponível nessa unidade. Informe outra unidade"
	}
	var b strings.Builder
	for _, s := range services {
		fmt.Fprintf(&b, "*%s*\n", s.Name)
	}
	return "Os serviços disponíveis nessa unidade são\n\n" + b.String() + "\nSelecione apenas um"
}

func (f *Flow) slots(ctx context.Context, in *agent.BookingIntent, tags map[string]string) string {
	unit, ok := f.units[in.Unit]
	if !ok {
		f.reporter.Capture(fmt.Errorf("list slots: %w %q", errUnknownUnit, in.Unit), tags)
		return QueryFailed
	}
	day, err := time.Parse(time.RFC3339, in.Start)
	if err != nil {
		f.reporter.Capture(fmt.Errorf("list slots: invalid date %q: %w", in.Start, err), tags)
		return QueryFailed
	}
	day = day.In(f.cfg.Location)

	slots, err := f.api.ListSlots(ctx, unit.ID, unit.ServiceID, day)
	if err != nil {
		f.reporter.Capture(fmt.Errorf("list slots: %w", err), tags)
		return QueryFailed
	}
	if len(slots) == 0 {
		return fmt.Sprintf("Infelizmente não há nenhum horário disponível para o dia %s. Informe outra data", day.Format("02/01/2006"))
	}
	return "Os horários disponíveis para esse dia são\n\n" + FormatSlots(slots, f.cfg.Location) + "\nSelecione apenas um"
}

// FormatSlots lists slot start times as zero-padded HH:MM grouped into
// morning and afternoon
func FormatSlots(slots []time.Time, loc *time.Location) string {
	var morning, afternoon strings.Builder
	for _, s := range slots {
		s = s.In(loc)
		line := fmt.Sprintf("*%02d:%02d*\n", s.Hour(), s.Minute())
		if s.Hour() < 12 {
			morning.WriteString(line)
		} else {
			afternoon.WriteString(line)
		}
	}
	var sections []string
	if morning.Len() > 0 {
		sections = append(sections, "_Manhã_\n"+morning.String())
	}
	if afternoon.Len() > 0 {
		sections = append(sections, "_Tarde_\n"+afternoon.String())
	}
	return strings.Join(sections, "\n")
}

// AppointmentStart combines the day of previous with the time of day of
// start. Hours after 18 are read as a 12-hour clock mistake and moved back
// by 12.
func AppointmentStart(start, previous time.Time, loc *time.Location) time.Time {
	start = start.In(loc)
	day := previous.In(loc)
	hour := start.Hour()
	if hour > 18 {
		hour -= 12
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, start.Minute(), start.Second(), 0, loc)
}

func (f *Flow) create(ctx context.Context, contact *domain.Contact, in *agent.BookingIntent, tags map[string]string) string {
	unit, ok := f.units[in.Unit]
	if !ok {
		f.reporter.Capture(fmt.Errorf("create booking: %w %q", errUnknownUnit, in.Unit), tags)
		return CreateFailed
	}
	start, err := time.Parse(time.RFC3339, in.Start)
	if err != nil {
		f.reporter.Capture(fmt.Errorf("create booking: invalid start %q: %w", in.Start, err), tags)
		return CreateFailed
	}
	previous := start
	if in.Previous != "" {
		if previous, err = time.Parse(time.RFC3339, in.Previous); err != nil {
			f.reporter.Capture(fmt.Errorf("create booking: invalid date %q: %w", in.Previous, err), tags)
			return CreateFailed
		}
	}
	at := AppointmentStart(start, previous, f.cfg.Location)

	id, err := f.api.CreateBooking(ctx, unit.ID, Booking{
		ServiceID: unit.ServiceID,
		Name:      in.Name,
		Email:     in.Email,
		Phone:     contact.Number,
		Note:      f.cfg.Note,
		Start:     at,
		End:       at.Add(unit.Duration),
	})
	if err != nil {
		f.reporter.Capture(fmt.Errorf("create booking: %w", err), tags)
		return CreateFailed
	}
	f.log.Info().Str("booking", id).Str("unit", unit.Name).Time("start", at).Msg("booking created")

	return fmt.Sprintf("\nAgendamento concluído com sucesso!\n\n*Nome:* %s\n*Número:* %s\n*E-mail:* %s\n*Em:* %s\n*Data:* %s\n*Hora:* %d:%02d\n\nPosso ajudar com algo mais?",
		in.Name, contact.Number, in.Email, unit.Name, at.Format("02/01/2006"), at.Hour(), at.Minute())
}
