// Package agent queries the conversational agent bound to a queue and turns
// its answer into a Reply with typed directives.
package agent

import (
	"context"

	"github.com/dollyzn/whaticket-cero/internal/domain"
)

// Booking steps understood by the booking flow
const (
	BookingServices = "service"
	BookingSlots    = "timeSlot"
	BookingCreate   = "createBooking"
)

const (
	maxButtons = 3
	maxOptions = 10
)

// Query is one user turn sent to the agent. Audio, when set, replaces Text.
type Query struct {
	SessionID string
	Text      string
	Audio     []byte
}

// BookingIntent asks the booking flow to run one step
type BookingIntent struct {
	Step     string
	Unit     string
	Service  string
	Name     string
	Email    string
	Start    string
	Previous string
	UnitName string
}

// Directives are the optional instructions attached to an answer
type Directives struct {
	ImageURL string
	Reaction string
	Buttons  []string
	List     []string
	Booking  *BookingIntent
	Audio    []byte // OGG voice note
}

// Interactive reports whether the last segment goes out as buttons or a list
func (d Directives) Interactive() bool {
	return len(d.Buttons) > 0 || len(d.List) > 0
}

// Reply is the agent's answer to one Query
type Reply struct {
	Segments        []string
	EndConversation bool
	Directives      Directives
}

// Detector resolves a query against an agent. A nil Reply without error
// means the agent had nothing to say.
type Detector interface {
	Detect(ctx context.Context, a *domain.Agent, q Query) (*Reply, error)
}

// IsReaction reports whether s contains a character usable as a message
// reaction
func IsReaction(s string) bool {
	for _, r := range s {
		switch {
		case r == 0x00a9, r == 0x00ae:
			return true
		case r >= 0x2000 && r <= 0x3300:
			return true
		case r >= 0x1f000 && r <= 0x1fbff:
			return true
		}
	}
	return false
}
