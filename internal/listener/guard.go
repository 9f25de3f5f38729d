package listener

import (
	"strings"

	"github.com/dollyzn/whaticket-cero/internal/whatsapp"
)

// Marker prefixes every automated text so that its echo is recognised
const Marker = "\u200e"

var handledTypes = map[string]bool{
	whatsapp.MessageTypeChat:            true,
	whatsapp.MessageTypeAudio:           true,
	whatsapp.MessageTypePTT:             true,
	whatsapp.MessageTypeVideo:           true,
	whatsapp.MessageTypeImage:           true,
	whatsapp.MessageTypeDocument:        true,
	whatsapp.MessageTypeVCard:           true,
	whatsapp.MessageTypeButtonsResponse: true,
	whatsapp.MessageTypeList:            true,
	whatsapp.MessageTypeListResponse:    true,
	whatsapp.MessageTypeSticker:         true,
	whatsapp.MessageTypeLocation:        true,
}

func isValidMessage(msg *whatsapp.IncomingMessage) bool {
	if msg == nil || msg.Broadcast {
		return false
	}
	return handledTypes[msg.Type]
}

// isAutomatedEcho reports whether a self-sent message was produced by this
// process and therefore already stored
func isAutomatedEcho(msg *whatsapp.IncomingMessage) bool {
	return msg.FromMe && strings.HasPrefix(msg.Body, Marker)
}

// isIncompleteMedia reports a self-sent media message that arrived without
// its payload
func isIncompleteMedia(msg *whatsapp.IncomingMessage) bool {
	if !msg.FromMe || msg.HasMedia {
		return false
	}
	switch msg.Type {
	case whatsapp.MessageTypeChat, whatsapp.MessageTypeLocation, whatsapp.MessageTypeVCard:
		return false
	}
	return true
}

// isFarewellEcho reports whether msg is the echo of the channel farewell
func isFarewellEcho(farewell, body string, fromMe bool) bool {
	return fromMe && farewell != "" && farewell == body
}
