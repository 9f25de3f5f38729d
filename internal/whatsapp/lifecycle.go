package whatsapp

import "github.com/dollyzn/whaticket-cero/internal/domain"

// LifecycleEvent is a connection state change of a session
type LifecycleEvent string

const (
	LifecycleQRIssued      LifecycleEvent = "qr-issued"
	LifecycleLoading       LifecycleEvent = "loading"
	LifecycleAuthenticated LifecycleEvent = "authenticated"
	LifecycleAuthFailed    LifecycleEvent = "auth-failed"
	LifecycleReady         LifecycleEvent = "ready"
	LifecycleDisconnected  LifecycleEvent = "disconnected"
)

// LifecycleInput is the data attached to a lifecycle event
type LifecycleInput struct {
	QRCode  string // data URL, for qr-issued
	Session string // device JID, for ready
	Number  string // paired phone, for ready
}

// Transition computes the channel update for ev. clearCredentials is true
// when the stored device must be wiped to force a fresh pairing.
func Transition(ch *domain.Channel, ev LifecycleEvent, in LifecycleInput) (upd domain.ChannelSessionUpdate, clearCredentials bool) {
	switch ev {
	case LifecycleQRIssued:
		upd.Status = strPtr(domain.ChannelStatusQRCode)
		upd.QRCode = strPtr(in.QRCode)
		upd.Retries = intPtr(0)

	case LifecycleLoading:
		upd.Status = strPtr(domain.ChannelStatusOpening)

	case LifecycleAuthenticated:
		// status is set on ready; the channel is still re-published

	case LifecycleAuthFailed:
		retries := ch.Retries
		if retries > 1 {
			clearCredentials = true
			upd.Session = strPtr("")
			retries = 0
		}
		upd.Status = strPtr(domain.ChannelStatusDisconnected)
		upd.Retries = intPtr(retries + 1)

	case LifecycleReady:
		upd.Status = strPtr(domain.ChannelStatusConnected)
		upd.QRCode = strPtr("")
		upd.PairingCode = strPtr("")
		upd.Retries = intPtr(0)
		if in.Session != "" {
			upd.Session = strPtr(in.Session)
		}
		if in.Number != "" {
			upd.Number = strPtr(in.Number)
		}

	case LifecycleDisconnected:
		upd.Status = strPtr(domain.ChannelStatusDisconnected)
	}
	return upd, clearCredentials
}

func strPtr(s string) *string {
	return &s
}

func intPtr(i int) *int {
	return &i
}
