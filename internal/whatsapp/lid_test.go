package whatsapp

import (
	"context"
	"errors"
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

type lidMap map[string]string

func (m lidMap) GetPNForLID(ctx context.Context, lid types.JID) (types.JID, error) {
	pn, ok := m[lid.User]
	if !ok {
		return types.EmptyJID, errors.New("not found")
	}
	return types.NewJID(pn, types.DefaultUserServer), nil
}

func lidEvent(chat, sender types.JID, fromMe bool) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: sender, IsFromMe: fromMe},
			ID:            "MSG1",
		},
		Message: &waE2E.Message{Conversation: proto.String("oi")},
	}
}

func TestResolveLIDChat(t *testing.T) {
	lid := types.NewJID("203948572910384", types.HiddenUserServer)
	evt := lidEvent(lid, lid, false)

	resolved, ok := resolveLID(context.Background(), lidMap{"203948572910384": "5511999990000"}, evt)
	if !ok {
		t.Fatal("chat not resolved")
	}
	msg := translateMessage(resolved)
	if msg.Number() != "5511999990000" || msg.Chat != "5511999990000@s.whatsapp.net" {
		t.Errorf("number = %q chat = %q", msg.Number(), msg.Chat)
	}
	if msg.Sender != "5511999990000@s.whatsapp.net" {
		t.Errorf("sender = %q", msg.Sender)
	}
	if evt.Info.Chat != lid {
		t.Error("original event was modified")
	}

	jid, err := parseRecipient(msg.Number())
	if err != nil || jid.String() != "5511999990000@s.whatsapp.net" {
		t.Errorf("reply JID = %v, %v", jid, err)
	}
}

func TestResolveLIDFromSender(t *testing.T) {
	lid := types.NewJID("203948572910384", types.HiddenUserServer)
	pn := types.NewJID("5511999990000", types.DefaultUserServer)

	resolved, ok := resolveLID(context.Background(), lidMap{}, lidEvent(lid, pn, false))
	if !ok || resolved.Info.Chat != pn {
		t.Errorf("chat = %v, ok = %v", resolved.Info.Chat, ok)
	}
}

func TestResolveLIDUnknown(t *testing.T) {
	lid := types.NewJID("203948572910384", types.HiddenUserServer)

	if _, ok := resolveLID(context.Background(), lidMap{}, lidEvent(lid, lid, false)); ok {
		t.Error("unknown hidden user chat reported as resolved")
	}
	if _, ok := resolveLID(context.Background(), nil, lidEvent(lid, lid, false)); ok {
		t.Error("resolved without a resolver")
	}
}

func TestResolveLIDLeavesPhoneChats(t *testing.T) {
	evt := newEvent(&waE2E.Message{Conversation: proto.String("oi")})
	resolved, ok := resolveLID(context.Background(), nil, evt)
	if !ok || resolved != evt {
		t.Error("phone number chat should pass through unchanged")
	}
}
