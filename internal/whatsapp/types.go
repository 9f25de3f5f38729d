package whatsapp

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow"
)

// Message types carried by IncomingMessage.Type
const (
	MessageTypeChat            = "chat"
	MessageTypeAudio           = "audio"
	MessageTypePTT             = "ptt"
	MessageTypeVideo           = "video"
	MessageTypeImage           = "image"
	MessageTypeDocument        = "document"
	MessageTypeSticker         = "sticker"
	MessageTypeLocation        = "location"
	MessageTypeVCard           = "vcard"
	MessageTypeButtonsResponse = "buttons_response"
	MessageTypeList            = "list"
	MessageTypeListResponse    = "list_response"
)

// Location is the payload of a location message
type Location struct {
	Latitude    float64
	Longitude   float64
	Description string
	Thumbnail   []byte // JPEG preview
}

// Media is a downloaded or outgoing attachment
type Media struct {
	Data     []byte
	Mimetype string
	Filename string
}

// IncomingMessage is a chat event translated from the wire client. Sends
// return the same shape with FromMe set so outbound echoes are recorded by
// the same code path.
type IncomingMessage struct {
	ID               string
	Type             string
	Body             string
	FromMe           bool
	Chat             string // remote party JID without device part
	Sender           string
	PushName         string
	IsGroup          bool
	Broadcast        bool
	Timestamp        time.Time
	QuotedID         string
	SelectedButtonID string
	HasMedia         bool
	Location         *Location
	VCards           []string
	Media            *Media

	downloadable whatsmeow.DownloadableMessage
}

// Number is the user part of the remote party JID
func (m *IncomingMessage) Number() string {
	user := m.Chat
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user
}

// Button is one option of an interactive button message
type Button struct {
	ID   string
	Text string
}

// Buttons is an interactive button message
type Buttons struct {
	Body    string
	Footer  string
	Options []Button
}

// ListRow is one option of an interactive list
type ListRow struct {
	ID          string
	Title       string
	Description string
}

// ListSection groups rows of an interactive list
type ListSection struct {
	Title string
	Rows  []ListRow
}

// List is an interactive list message
type List struct {
	Body       string
	ButtonText string
	Title      string
	Sections   []ListSection
}

// MediaOptions controls how an attachment is delivered
type MediaOptions struct {
	Caption   string
	VoiceNote bool
}

// Presence is a chat state shown to the contact
type Presence string

const (
	PresenceAvailable Presence = "available"
	PresenceTyping    Presence = "typing"
	PresenceRecording Presence = "recording"
	PresencePaused    Presence = "paused"
)

// Client is the send surface of one connected channel
type Client interface {
	ChannelID() uuid.UUID
	SendText(ctx context.Context, to, body string) (*IncomingMessage, error)
	SendButtons(ctx context.Context, to string, msg Buttons) (*IncomingMessage, error)
	SendList(ctx context.Context, to string, list List) (*IncomingMessage, error)
	SendMedia(ctx context.Context, to string, media *Media, opts MediaOptions) (*IncomingMessage, error)
	SendReaction(ctx context.Context, to, messageID string, fromMe bool, emoji string) error
	SendPresence(ctx context.Context, to string, p Presence) error
	RejectCall(ctx context.Context, from, callID string) error
	Download(ctx context.Context, msg *IncomingMessage) (*Media, error)
}

// EventHandler consumes the chat events of every session
type EventHandler interface {
	HandleMessage(ctx context.Context, c Client, msg *IncomingMessage)
	HandleAck(ctx context.Context, c Client, messageIDs []string, ack int)
	HandleCall(ctx context.Context, c Client, from, callID string)
}
