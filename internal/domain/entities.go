package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel represents a configured WhatsApp connection
type Channel struct {
	ID                     uuid.UUID `json:"id"`
	Name                   string    `json:"name"`
	Number                 string    `json:"number"`
	Session                string    `json:"-"` // whatsmeow device JID, empty until paired
	QRCode                 string    `json:"qrcode"`
	PairingCode            string    `json:"pairingCode"`
	RequestCode            bool      `json:"requestCode"`
	Status                 string    `json:"status"`
	Retries                int       `json:"retries"`
	GreetingMessage        string    `json:"greetingMessage"`
	FarewellMessage        string    `json:"farewellMessage"`
	OutOfServiceMessage    string    `json:"outServiceMessage"`
	FeedbackMessage        string    `json:"feedbackMessage"`
	OpeningHours           string    `json:"openingHours"` // HH:MM:SS
	ClosingHours           string    `json:"closingHours"` // HH:MM:SS
	UseOutOfServiceMessage bool      `json:"useOutServiceMessage"`
	IsDefault              bool      `json:"isDefault"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`

	// Populated on demand, ordered by position
	Queues []*Queue `json:"queues,omitempty"`
}

// Channel status constants
const (
	ChannelStatusConnecting   = "connecting"
	ChannelStatusQRCode       = "qrcode"
	ChannelStatusOpening      = "OPENING"
	ChannelStatusConnected    = "CONNECTED"
	ChannelStatusDisconnected = "DISCONNECTED"
)

// Queue is a routing bucket of tickets, optionally bound to a conversational agent
type Queue struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	MenuName        string     `json:"menuName"`
	Color           string     `json:"color"`
	GreetingMessage string     `json:"greetingMessage"`
	AgentID         *uuid.UUID `json:"agentId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`

	Agent *Agent `json:"agent,omitempty"`
}

// DisplayName is the label shown in the numbered queue menu
func (q *Queue) DisplayName() string {
	if strings.TrimSpace(q.MenuName) != "" {
		return q.MenuName
	}
	return q.Name
}

// Agent describes a conversational agent project bound to a queue
type Agent struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	ProjectName string    `json:"projectName"`
	Language    string    `json:"language"`
	JSONContent string    `json:"-"` // service account credentials
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Contact represents a WhatsApp contact
type Contact struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name"`
	Number              string    `json:"number"` // digits only
	Email               string    `json:"email"`
	ProfilePicURL       string    `json:"profilePicUrl"`
	IsGroup             bool      `json:"isGroup"`
	UseQueues           bool      `json:"useQueues"`
	UseAgent            bool      `json:"useDialogflow"`
	AcceptAudioMessages bool      `json:"acceptAudioMessage"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Ticket is one conversation thread between a contact and a channel
type Ticket struct {
	ID             uuid.UUID  `json:"id"`
	Status         string     `json:"status"`
	LastMessage    string     `json:"lastMessage"`
	UnreadMessages int        `json:"unreadMessages"`
	IsGroup        bool       `json:"isGroup"`
	ContactID      uuid.UUID  `json:"contactId"`
	ChannelID      uuid.UUID  `json:"whatsappId"`
	QueueID        *uuid.UUID `json:"queueId,omitempty"`
	UserID         *uuid.UUID `json:"userId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	// Populated on demand
	Contact *Contact `json:"contact,omitempty"`
	Queue   *Queue   `json:"queue,omitempty"`
}

// Ticket status constants
const (
	TicketStatusPending = "pending"
	TicketStatusOpen    = "open"
	TicketStatusClosed  = "closed"
)

// IsActive reports whether the ticket still counts against the one-active-ticket rule
func (t *Ticket) IsActive() bool {
	return t.Status == TicketStatusPending || t.Status == TicketStatusOpen
}

// Message is an append-only record keyed by (ID, FromMe)
type Message struct {
	ID          string     `json:"id"`
	FromMe      bool       `json:"fromMe"`
	TicketID    uuid.UUID  `json:"ticketId"`
	ContactID   *uuid.UUID `json:"contactId,omitempty"`
	Body        string     `json:"body"`
	MediaURL    *string    `json:"mediaUrl,omitempty"`
	MediaType   string     `json:"mediaType"`
	Ack         int        `json:"ack"`
	Read        bool       `json:"read"`
	QuotedMsgID *string    `json:"quotedMsgId,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	QuotedMsg *Message `json:"quotedMsg,omitempty"`
}

// Message ack constants
const (
	AckPending   = 0
	AckServer    = 1
	AckDelivered = 2
	AckRead      = 3
	AckPlayed    = 4
)

// Setting keys
const (
	SettingCallPolicy = "call"
)

// TicketUpdate carries the mutable fields of a ticket; nil fields are left untouched
type TicketUpdate struct {
	Status         *string
	QueueID        *uuid.UUID
	UserID         *uuid.UUID
	LastMessage    *string
	UnreadMessages *int
	AddUnread      int // added to the counter after UnreadMessages is applied
}

// ChannelSessionUpdate carries the session fields of a channel; nil fields are left untouched
type ChannelSessionUpdate struct {
	Status      *string
	QRCode      *string
	PairingCode *string
	Retries     *int
	Session     *string
	Number      *string
}
