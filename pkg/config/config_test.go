package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AgentDebounce != 8*time.Second || cfg.QueueDebounce != 3*time.Second {
		t.Fatalf("debounce = %s/%s", cfg.AgentDebounce, cfg.QueueDebounce)
	}
	if cfg.WAStoreDSN != cfg.DatabaseURL {
		t.Fatalf("pgx credential store should default to DATABASE_URL")
	}
	if len(cfg.BookingUnits) != 5 {
		t.Fatalf("BookingUnits = %d, want 5", len(cfg.BookingUnits))
	}
	if cfg.Location == nil {
		t.Fatalf("Location not loaded")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AGENT_DEBOUNCE", "2s")
	t.Setenv("WA_STORE_DRIVER", "sqlite")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || cfg.AgentDebounce != 2*time.Second {
		t.Fatalf("env not applied: port=%s debounce=%s", cfg.Port, cfg.AgentDebounce)
	}
	if cfg.WAStoreDSN != "whatsmeow.db" {
		t.Fatalf("WAStoreDSN = %q", cfg.WAStoreDSN)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("WA_STORE_DRIVER", "mysql")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for WA_STORE_DRIVER")
	}
}

func TestParseBookingUnits(t *testing.T) {
	units, err := ParseBookingUnits(`[{"id":"u1","name":"Matriz","serviceId":"s1","minutes":45},{"id":"u2","name":"Filial","serviceId":"s2"}]`)
	if err != nil {
		t.Fatalf("ParseBookingUnits: %v", err)
	}
	if units[0].Duration != 45*time.Minute || units[1].Duration != 30*time.Minute {
		t.Fatalf("durations = %s/%s", units[0].Duration, units[1].Duration)
	}

	if _, err := ParseBookingUnits(`{`); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}
