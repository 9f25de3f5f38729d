package whatsapp

import (
	"context"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// PNResolver maps a hidden user id (@lid) to the phone number JID it stands for
type PNResolver interface {
	GetPNForLID(ctx context.Context, lid types.JID) (types.JID, error)
}

func lookupPN(ctx context.Context, r PNResolver, jid types.JID) (types.JID, bool) {
	if r == nil {
		return types.EmptyJID, false
	}
	pn, err := r.GetPNForLID(ctx, jid.ToNonAD())
	if err != nil || pn.IsEmpty() {
		return types.EmptyJID, false
	}
	return types.NewJID(pn.User, types.DefaultUserServer), true
}

// resolveLID rewrites @lid chat and sender addresses of evt to phone number
// JIDs. It returns a copy and false when the chat stays a hidden user, since
// such a chat has no number to key the contact on.
func resolveLID(ctx context.Context, r PNResolver, evt *events.Message) (*events.Message, bool) {
	info := evt.Info
	if info.Chat.Server != types.HiddenUserServer && info.Sender.Server != types.HiddenUserServer {
		return evt, true
	}

	out := *evt
	if info.Sender.Server == types.HiddenUserServer {
		if pn, ok := lookupPN(ctx, r, info.Sender); ok {
			out.Info.Sender = pn
		}
	}
	if info.Chat.Server == types.HiddenUserServer {
		pn, ok := lookupPN(ctx, r, info.Chat)
		if !ok && !info.IsFromMe && out.Info.Sender.Server == types.DefaultUserServer {
			// in a direct chat the remote sender is the chat
			pn, ok = out.Info.Sender.ToNonAD(), true
		}
		if !ok {
			return &out, false
		}
		out.Info.Chat = pn
	}
	return &out, true
}
