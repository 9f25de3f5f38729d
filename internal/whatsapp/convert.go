package whatsapp

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// translateMessage converts a whatsmeow message event. Messages without a
// supported payload come back with an empty Type.
func translateMessage(evt *events.Message) *IncomingMessage {
	info := evt.Info
	msg := &IncomingMessage{
		ID:        info.ID,
		FromMe:    info.IsFromMe,
		Chat:      info.Chat.ToNonAD().String(),
		Sender:    info.Sender.ToNonAD().String(),
		PushName:  info.PushName,
		IsGroup:   info.IsGroup || info.Chat.Server == types.GroupServer,
		Broadcast: info.Chat.Server == types.BroadcastServer,
		Timestamp: info.Timestamp,
	}

	m := evt.Message
	if m == nil {
		return msg
	}

	var ctxInfo *waE2E.ContextInfo

	switch {
	case m.GetConversation() != "":
		msg.Type = MessageTypeChat
		msg.Body = m.GetConversation()

	case m.GetExtendedTextMessage() != nil:
		ext := m.GetExtendedTextMessage()
		msg.Type = MessageTypeChat
		msg.Body = ext.GetText()
		ctxInfo = ext.GetContextInfo()

	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		msg.Type = MessageTypeImage
		msg.Body = img.GetCaption()
		msg.HasMedia = true
		msg.downloadable = img
		ctxInfo = img.GetContextInfo()

	case m.GetVideoMessage() != nil:
		vid := m.GetVideoMessage()
		msg.Type = MessageTypeVideo
		msg.Body = vid.GetCaption()
		msg.HasMedia = true
		msg.downloadable = vid
		ctxInfo = vid.GetContextInfo()

	case m.GetAudioMessage() != nil:
		aud := m.GetAudioMessage()
		msg.Type = MessageTypeAudio
		if aud.GetPTT() {
			msg.Type = MessageTypePTT
		}
		msg.HasMedia = true
		msg.downloadable = aud
		ctxInfo = aud.GetContextInfo()

	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		msg.Type = MessageTypeDocument
		msg.Body = doc.GetCaption()
		if msg.Body == "" {
			msg.Body = doc.GetFileName()
		}
		msg.HasMedia = true
		msg.downloadable = doc
		ctxInfo = doc.GetContextInfo()

	case m.GetStickerMessage() != nil:
		st := m.GetStickerMessage()
		msg.Type = MessageTypeSticker
		msg.HasMedia = true
		msg.downloadable = st
		ctxInfo = st.GetContextInfo()

	case m.GetLocationMessage() != nil:
		loc := m.GetLocationMessage()
		msg.Type = MessageTypeLocation
		desc := loc.GetName()
		if addr := loc.GetAddress(); addr != "" {
			if desc != "" {
				desc += "\n"
			}
			desc += addr
		}
		msg.Location = &Location{
			Latitude:    loc.GetDegreesLatitude(),
			Longitude:   loc.GetDegreesLongitude(),
			Description: desc,
			Thumbnail:   loc.GetJPEGThumbnail(),
		}
		ctxInfo = loc.GetContextInfo()

	case m.GetContactMessage() != nil:
		c := m.GetContactMessage()
		msg.Type = MessageTypeVCard
		msg.Body = c.GetVcard()
		msg.VCards = []string{c.GetVcard()}
		ctxInfo = c.GetContextInfo()

	case m.GetContactsArrayMessage() != nil:
		arr := m.GetContactsArrayMessage()
		msg.Type = MessageTypeVCard
		for _, c := range arr.GetContacts() {
			msg.VCards = append(msg.VCards, c.GetVcard())
		}
		if len(msg.VCards) > 0 {
			msg.Body = msg.VCards[0]
		}

	case m.GetButtonsResponseMessage() != nil:
		br := m.GetButtonsResponseMessage()
		msg.Type = MessageTypeButtonsResponse
		msg.Body = br.GetSelectedDisplayText()
		msg.SelectedButtonID = br.GetSelectedButtonID()
		ctxInfo = br.GetContextInfo()

	case m.GetListResponseMessage() != nil:
		lr := m.GetListResponseMessage()
		msg.Type = MessageTypeListResponse
		msg.Body = lr.GetTitle()
		msg.SelectedButtonID = lr.GetSingleSelectReply().GetSelectedRowID()
		ctxInfo = lr.GetContextInfo()

	case m.GetListMessage() != nil:
		l := m.GetListMessage()
		msg.Type = MessageTypeList
		msg.Body = l.GetDescription()

	case m.GetButtonsMessage() != nil:
		b := m.GetButtonsMessage()
		msg.Type = MessageTypeChat
		msg.Body = b.GetContentText()
	}

	if ctxInfo != nil {
		msg.QuotedID = ctxInfo.GetStanzaID()
	}
	return msg
}

// receiptAck maps a receipt type to a message ack level; ok is false for
// receipts that do not change delivery state
func receiptAck(t types.ReceiptType) (int, bool) {
	switch t {
	case types.ReceiptTypeDelivered:
		return 2, true
	case types.ReceiptTypeRead:
		return 3, true
	case types.ReceiptTypePlayed:
		return 4, true
	}
	return 0, false
}
