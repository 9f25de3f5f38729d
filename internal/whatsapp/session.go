package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// Session is the live connection of one channel
type Session struct {
	channelID uuid.UUID
	client    *whatsmeow.Client
	mu        sync.RWMutex
	status    string
}

// ChannelID returns the channel the session belongs to
func (s *Session) ChannelID() uuid.UUID {
	return s.channelID
}

// Status returns the last known lifecycle status
func (s *Session) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// IsConnected reports whether the underlying socket is up
func (s *Session) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

func (s *Session) wa() (*whatsmeow.Client, error) {
	if s.client == nil {
		return nil, fmt.Errorf("session %s has no client", s.channelID)
	}
	return s.client, nil
}

// parseRecipient accepts a full JID or a bare phone number
func parseRecipient(to string) (types.JID, error) {
	if !strings.Contains(to, "@") {
		return types.NewJID(to, types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(to)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("invalid JID: %s", to)
	}
	return jid, nil
}

func (s *Session) send(ctx context.Context, to string, msg *waE2E.Message) (types.JID, whatsmeow.SendResponse, error) {
	client, err := s.wa()
	if err != nil {
		return types.EmptyJID, whatsmeow.SendResponse{}, err
	}
	jid, err := parseRecipient(to)
	if err != nil {
		return types.EmptyJID, whatsmeow.SendResponse{}, err
	}
	resp, err := client.SendMessage(ctx, jid, msg)
	if err != nil {
		return jid, resp, fmt.Errorf("failed to send message: %w", err)
	}
	return jid, resp, nil
}

func sent(jid types.JID, resp whatsmeow.SendResponse, msgType, body string) *IncomingMessage {
	ts := resp.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &IncomingMessage{
		ID:        resp.ID,
		Type:      msgType,
		Body:      body,
		FromMe:    true,
		Chat:      jid.ToNonAD().String(),
		Timestamp: ts,
	}
}

// SendText sends a plain text message
func (s *Session) SendText(ctx context.Context, to, body string) (*IncomingMessage, error) {
	jid, resp, err := s.send(ctx, to, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return nil, err
	}
	return sent(jid, resp, MessageTypeChat, body), nil
}

// SendButtons sends an interactive button message
func (s *Session) SendButtons(ctx context.Context, to string, b Buttons) (*IncomingMessage, error) {
	buttons := make([]*waE2E.ButtonsMessage_Button, 0, len(b.Options))
	for i, opt := range b.Options {
		id := opt.ID
		if id == "" {
			id = fmt.Sprintf("btn-%d", i+1)
		}
		buttons = append(buttons, &waE2E.ButtonsMessage_Button{
			ButtonID:   proto.String(id),
			ButtonText: &waE2E.ButtonsMessage_Button_ButtonText{DisplayText: proto.String(opt.Text)},
			Type:       waE2E.ButtonsMessage_Button_RESPONSE.Enum(),
		})
	}

	msg := &waE2E.Message{
		ButtonsMessage: &waE2E.ButtonsMessage{
			ContentText: proto.String(b.Body),
			FooterText:  proto.String(b.Footer),
			HeaderType:  waE2E.ButtonsMessage_EMPTY.Enum(),
			Buttons:     buttons,
		},
	}
	jid, resp, err := s.send(ctx, to, msg)
	if err != nil {
		return nil, err
	}
	return sent(jid, resp, MessageTypeChat, b.Body), nil
}

// SendList sends an interactive single-select list
func (s *Session) SendList(ctx context.Context, to string, l List) (*IncomingMessage, error) {
	sections := make([]*waE2E.ListMessage_Section, 0, len(l.Sections))
	for _, sec := range l.Sections {
		rows := make([]*waE2E.ListMessage_Row, 0, len(sec.Rows))
		for i, row := range sec.Rows {
			id := row.ID
			if id == "" {
				id = fmt.Sprintf("row-%d", i+1)
			}
			rows = append(rows, &waE2E.ListMessage_Row{
				RowID:       proto.String(id),
				Title:       proto.String(row.Title),
				Description: proto.String(row.Description),
			})
		}
		sections = append(sections, &waE2E.ListMessage_Section{
			Title: proto.String(sec.Title),
			Rows:  rows,
		})
	}

	msg := &waE2E.Message{
		ListMessage: &waE2E.ListMessage{
			Title:       proto.String(l.Title),
			Description: proto.String(l.Body),
			ButtonText:  proto.String(l.ButtonText),
			ListType:    waE2E.ListMessage_SINGLE_SELECT.Enum(),
			Sections:    sections,
		},
	}
	jid, resp, err := s.send(ctx, to, msg)
	if err != nil {
		return nil, err
	}
	return sent(jid, resp, MessageTypeList, l.Body), nil
}

// SendMedia uploads and sends an attachment. Audio with VoiceNote set is
// delivered as a push-to-talk note.
func (s *Session) SendMedia(ctx context.Context, to string, media *Media, opts MediaOptions) (*IncomingMessage, error) {
	client, err := s.wa()
	if err != nil {
		return nil, err
	}

	mimetype := media.Mimetype
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}
	kind := strings.SplitN(mimetype, "/", 2)[0]

	var waMediaType whatsmeow.MediaType
	switch kind {
	case "image":
		waMediaType = whatsmeow.MediaImage
	case "video":
		waMediaType = whatsmeow.MediaVideo
	case "audio":
		waMediaType = whatsmeow.MediaAudio
	default:
		waMediaType = whatsmeow.MediaDocument
	}

	uploaded, err := client.Upload(ctx, media.Data, waMediaType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to WhatsApp: %w", err)
	}

	size := proto.Uint64(uint64(len(media.Data)))
	var msg *waE2E.Message
	msgType := MessageTypeDocument

	switch kind {
	case "image":
		msgType = MessageTypeImage
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    size,
			Caption:       proto.String(opts.Caption),
		}}
	case "video":
		msgType = MessageTypeVideo
		msg = &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    size,
			Caption:       proto.String(opts.Caption),
		}}
	case "audio":
		msgType = MessageTypeAudio
		if opts.VoiceNote {
			msgType = MessageTypePTT
			if !strings.Contains(mimetype, "codecs") {
				mimetype = "audio/ogg; codecs=opus"
			}
		}
		msg = &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    size,
			PTT:           proto.Bool(opts.VoiceNote),
		}}
	default:
		msg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    size,
			FileName:      proto.String(media.Filename),
			Caption:       proto.String(opts.Caption),
		}}
	}

	jid, resp, err := s.send(ctx, to, msg)
	if err != nil {
		return nil, err
	}
	out := sent(jid, resp, msgType, opts.Caption)
	out.HasMedia = true
	out.Media = &Media{Data: media.Data, Mimetype: mimetype, Filename: media.Filename}
	return out, nil
}

// SendReaction reacts to messageID in the chat with to
func (s *Session) SendReaction(ctx context.Context, to, messageID string, fromMe bool, emoji string) error {
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	msg := &waE2E.Message{
		ReactionMessage: &waE2E.ReactionMessage{
			Key: &waCommon.MessageKey{
				RemoteJID: proto.String(jid.String()),
				FromMe:    proto.Bool(fromMe),
				ID:        proto.String(messageID),
			},
			Text:              proto.String(emoji),
			SenderTimestampMS: proto.Int64(time.Now().UnixMilli()),
		},
	}
	if _, _, err := s.send(ctx, to, msg); err != nil {
		return fmt.Errorf("failed to send reaction: %w", err)
	}
	return nil
}

// SendPresence shows a chat state to the contact, or marks the session
// available when p is PresenceAvailable
func (s *Session) SendPresence(ctx context.Context, to string, p Presence) error {
	client, err := s.wa()
	if err != nil {
		return err
	}
	if p == PresenceAvailable {
		return client.SendPresence(ctx, types.PresenceAvailable)
	}
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	switch p {
	case PresenceTyping:
		return client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
	case PresenceRecording:
		return client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaAudio)
	default:
		return client.SendChatPresence(ctx, jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
	}
}

// RejectCall declines an incoming call
func (s *Session) RejectCall(ctx context.Context, from, callID string) error {
	client, err := s.wa()
	if err != nil {
		return err
	}
	jid, err := parseRecipient(from)
	if err != nil {
		return err
	}
	return client.RejectCall(ctx, jid, callID)
}

// Download fetches the attachment of msg
func (s *Session) Download(ctx context.Context, msg *IncomingMessage) (*Media, error) {
	if msg.Media != nil {
		return msg.Media, nil
	}
	if msg.downloadable == nil {
		return nil, fmt.Errorf("message %s has no downloadable media", msg.ID)
	}
	client, err := s.wa()
	if err != nil {
		return nil, err
	}
	data, err := client.Download(ctx, msg.downloadable)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	media := &Media{Data: data}
	if m, ok := msg.downloadable.(interface{ GetMimetype() string }); ok {
		media.Mimetype = m.GetMimetype()
	}
	if d, ok := msg.downloadable.(*waE2E.DocumentMessage); ok {
		media.Filename = d.GetFileName()
	}
	return media, nil
}
