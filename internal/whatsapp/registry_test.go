package whatsapp

import (
	"testing"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/google/uuid"
)

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	first := &Session{channelID: id}
	second := &Session{channelID: id}

	if !r.Register(id, first) {
		t.Fatalf("first Register returned false")
	}
	if r.Register(id, second) {
		t.Fatalf("second Register replaced the handle")
	}
	got, err := r.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != first {
		t.Fatalf("Lookup returned the wrong handle")
	}

	if prev := r.Replace(id, second); prev != first {
		t.Fatalf("Replace returned %p, want %p", prev, first)
	}
	if got, _ := r.Lookup(id); got != second {
		t.Fatalf("Replace did not store the new handle")
	}
}

func TestRegistryLookupUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup(uuid.New())
	if !domain.IsAppError(err, domain.ErrCodeWappNotInitialized) {
		t.Fatalf("Lookup unknown = %v, want %s", err, domain.ErrCodeWappNotInitialized)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	s := &Session{channelID: id}
	r.Register(id, s)

	if got := r.Remove(id); got != s {
		t.Fatalf("Remove returned the wrong handle")
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d after Remove", r.Len())
	}
	if got := r.Remove(id); got != nil {
		t.Fatalf("second Remove returned %v", got)
	}
}

func TestLifecycleTransition(t *testing.T) {
	t.Run("qr resets retries", func(t *testing.T) {
		upd, clear := Transition(&domain.Channel{Retries: 3}, LifecycleQRIssued, LifecycleInput{QRCode: "data:image/png;base64,AA"})
		if clear {
			t.Fatalf("qr must not clear credentials")
		}
		if *upd.Status != domain.ChannelStatusQRCode || *upd.Retries != 0 || *upd.QRCode == "" {
			t.Fatalf("unexpected update %+v", upd)
		}
	})

	t.Run("first auth failure counts", func(t *testing.T) {
		upd, clear := Transition(&domain.Channel{Retries: 1}, LifecycleAuthFailed, LifecycleInput{})
		if clear || upd.Session != nil {
			t.Fatalf("credentials cleared too early")
		}
		if *upd.Retries != 2 || *upd.Status != domain.ChannelStatusDisconnected {
			t.Fatalf("unexpected update %+v", upd)
		}
	})

	t.Run("repeated auth failure clears credentials", func(t *testing.T) {
		upd, clear := Transition(&domain.Channel{Retries: 2}, LifecycleAuthFailed, LifecycleInput{})
		if !clear || upd.Session == nil || *upd.Session != "" {
			t.Fatalf("credentials not cleared: %+v", upd)
		}
		if *upd.Retries != 1 {
			t.Fatalf("retries = %d, want 1", *upd.Retries)
		}
	})

	t.Run("ready", func(t *testing.T) {
		upd, _ := Transition(&domain.Channel{Retries: 2, QRCode: "x"}, LifecycleReady, LifecycleInput{Session: "5511@s.whatsapp.net", Number: "5511"})
		if *upd.Status != domain.ChannelStatusConnected || *upd.QRCode != "" || *upd.Retries != 0 {
			t.Fatalf("unexpected update %+v", upd)
		}
		if *upd.Session != "5511@s.whatsapp.net" || *upd.Number != "5511" {
			t.Fatalf("session fields not set: %+v", upd)
		}
	})

	t.Run("authenticated only republishes", func(t *testing.T) {
		upd, _ := Transition(&domain.Channel{}, LifecycleAuthenticated, LifecycleInput{})
		if upd.Status != nil || upd.Retries != nil {
			t.Fatalf("authenticated changed fields: %+v", upd)
		}
	})
}

func TestIncomingMessageNumber(t *testing.T) {
	tests := map[string]string{
		"5511999990000@s.whatsapp.net":    "5511999990000",
		"5511999990000:12@s.whatsapp.net": "5511999990000",
		"5511999990000":                   "5511999990000",
	}
	for chat, want := range tests {
		m := &IncomingMessage{Chat: chat}
		if got := m.Number(); got != want {
			t.Errorf("Number(%q) = %q, want %q", chat, got, want)
		}
	}
}
