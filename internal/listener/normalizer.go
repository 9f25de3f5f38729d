package listener

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/errtrack"
	"github.com/dollyzn/whaticket-cero/internal/service"
	"github.com/dollyzn/whaticket-cero/internal/storage"
	"github.com/dollyzn/whaticket-cero/internal/whatsapp"
	"github.com/rs/zerolog"
)

// UnknownMedia labels a media message whose payload could not be fetched
const UnknownMedia = "Arquivo de mídia desconhecido"

// MediaStore keeps downloaded attachments
type MediaStore interface {
	UploadFile(ctx context.Context, folder, filename string, data []byte, contentType string) (string, error)
}

// Normalizer stores chat messages, inbound or sent by us, against a ticket
type Normalizer struct {
	messages *service.MessageService
	tickets  *service.TicketService
	storage  MediaStore
	reporter errtrack.Reporter
	log      zerolog.Logger
}

func NewNormalizer(svc *service.Services, media MediaStore, reporter errtrack.Reporter, logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		messages: svc.Message,
		tickets:  svc.Ticket,
		storage:  media,
		reporter: reporter,
		log:      logger.With().Str("component", "normalizer").Logger(),
	}
}

// Record persists msg on ticket and updates the ticket summary. Storing the
// same (id, fromMe) twice keeps the first record.
func (n *Normalizer) Record(ctx context.Context, c whatsapp.Client, msg *whatsapp.IncomingMessage, ticket *domain.Ticket, contact *domain.Contact) (*domain.Message, error) {
	m := &domain.Message{
		ID:        msg.ID,
		FromMe:    msg.FromMe,
		TicketID:  ticket.ID,
		Body:      msg.Body,
		MediaType: msg.Type,
		Read:      msg.FromMe,
		Timestamp: msg.Timestamp,
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if msg.FromMe {
		m.Ack = domain.AckServer
	} else if contact != nil {
		m.ContactID = &contact.ID
	}

	summary := msg.Body
	switch {
	case msg.Type == whatsapp.MessageTypeLocation && msg.Location != nil:
		m.Body = locationBody(msg.Location)
		summary = locationSummary(msg.Location)
	case msg.HasMedia:
		summary = n.attachMedia(ctx, c, msg, ticket, m)
	}

	if msg.QuotedID != "" {
		quoted, err := n.messages.FindByExternalID(ctx, msg.QuotedID)
		if err != nil {
			n.log.Warn().Err(err).Str("quoted", msg.QuotedID).Msg("quoted message lookup failed")
		} else if quoted != nil {
			m.QuotedMsgID = &quoted.ID
		}
	}

	if _, err := n.tickets.SetLastMessage(ctx, ticket.ID, summary); err != nil {
		return nil, err
	}
	ticket.LastMessage = summary

	stored, _, err := n.messages.Create(ctx, m)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// attachMedia downloads and uploads the payload of msg and returns the
// ticket summary for it
func (n *Normalizer) attachMedia(ctx context.Context, c whatsapp.Client, msg *whatsapp.IncomingMessage, ticket *domain.Ticket, m *domain.Message) string {
	tags := map[string]string{"ticket": ticket.ID.String(), "message": msg.ID}

	media, err := c.Download(ctx, msg)
	if err == nil && media == nil {
		err = fmt.Errorf("message %s has no media", msg.ID)
	}
	if err != nil {
		n.reporter.Capture(fmt.Errorf("download media: %w", err), tags)
		if m.Body == "" {
			m.Body = UnknownMedia
		}
		return UnknownMedia
	}
	msg.Media = media

	mimetype := media.Mimetype
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}
	filename := media.Filename
	if filename == "" {
		filename = fmt.Sprintf("%d.%s", m.Timestamp.Unix(), extension(mimetype))
	}
	m.MediaType = strings.SplitN(mimetype, "/", 2)[0]

	url, err := n.storage.UploadFile(ctx, storage.TicketFolder(ticket.ID), filename, media.Data, mimetype)
	if err != nil {
		n.reporter.Capture(fmt.Errorf("store media: %w", err), tags)
	} else {
		m.MediaURL = &url
	}

	if label := mediaLabel(msg.Type, msg.Body); label != "" {
		return label
	}
	return UnknownMedia
}

// extension is the subtype of a mimetype without parameters
func extension(mimetype string) string {
	parts := strings.SplitN(mimetype, "/", 2)
	if len(parts) < 2 {
		return "bin"
	}
	ext := strings.TrimSpace(strings.SplitN(parts[1], ";", 2)[0])
	if ext == "" {
		return "bin"
	}
	return ext
}

func mediaLabel(msgType, caption string) string {
	switch msgType {
	case whatsapp.MessageTypeAudio, whatsapp.MessageTypePTT:
		return "🎤 Áudio"
	case whatsapp.MessageTypeVideo:
		if caption != "" {
			return "🎥 " + caption
		}
		return "🎥 Vídeo"
	case whatsapp.MessageTypeImage:
		if caption != "" {
			return "📷 " + caption
		}
		return "📷 Foto"
	case whatsapp.MessageTypeDocument:
		if caption != "" {
			return "📄 " + caption
		}
		return "📄 Documento"
	case whatsapp.MessageTypeSticker:
		return "💌 Figurinha"
	}
	return caption
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// locationBody packs the preview, a maps link and the description into the
// stored body of a location message
func locationBody(l *whatsapp.Location) string {
	lat, lng := formatCoord(l.Latitude), formatCoord(l.Longitude)
	description := l.Description
	if description == "" {
		description = lat + ", " + lng
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(l.Thumbnail) +
		"|https://maps.google.com/maps?q=" + lat + "%2C" + lng + "&z=17&hl=pt-BR" +
		"|" + description
}

func locationSummary(l *whatsapp.Location) string {
	if l.Description == "" {
		return "Localization"
	}
	return "Localization - " + strings.SplitN(l.Description, "\n", 2)[0]
}
