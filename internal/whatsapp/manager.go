package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for whatsmeow sqlstore
	"github.com/rs/zerolog"
	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite" // SQLite driver for whatsmeow sqlstore
)

// ChannelStore persists channel session state and publishes every change
type ChannelStore interface {
	Show(ctx context.Context, id uuid.UUID) (*domain.Channel, error)
	List(ctx context.Context) ([]*domain.Channel, error)
	UpdateSession(ctx context.Context, id uuid.UUID, upd domain.ChannelSessionUpdate) (*domain.Channel, error)
}

// StoreConfig selects the database that keeps device credentials
type StoreConfig struct {
	Driver string // "pgx" or "sqlite"
	DSN    string
}

// Manager starts, tracks and stops channel sessions
type Manager struct {
	registry  *Registry
	container *sqlstore.Container
	lids      PNResolver
	channels  ChannelStore
	log       zerolog.Logger
	waLogger  waLog.Logger

	mu      sync.RWMutex
	handler EventHandler
}

// NewManager opens the credential store and returns a manager bound to registry
func NewManager(ctx context.Context, cfg StoreConfig, registry *Registry, channels ChannelStore, logger zerolog.Logger) (*Manager, error) {
	waLogger := waLog.Zerolog(logger.With().Str("component", "whatsmeow").Logger())

	driver := cfg.Driver
	dsn := cfg.DSN
	if driver == "sqlite" {
		// modernc registers itself as "sqlite"; foreign keys are required by sqlstore
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", cfg.DSN)
	}
	container, err := sqlstore.New(ctx, driver, dsn, waLogger.Sub("Database"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize whatsmeow store: %w", err)
	}

	var lids PNResolver
	if container.LIDMap != nil {
		if err := container.LIDMap.FillCache(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to fill LID cache")
		}
		lids = container.LIDMap
	}

	store.DeviceProps.Os = proto.String("Whaticket")
	store.DeviceProps.RequireFullSync = proto.Bool(false)

	return &Manager{
		registry:  registry,
		container: container,
		lids:      lids,
		channels:  channels,
		log:       logger.With().Str("component", "session").Logger(),
		waLogger:  waLogger,
	}, nil
}

// SetHandler installs the consumer of chat events
func (m *Manager) SetHandler(h EventHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *Manager) eventHandler() EventHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler
}

// Registry returns the registry the manager writes to
func (m *Manager) Registry() *Registry {
	return m.registry
}

// StartAll starts a session for every configured channel
func (m *Manager) StartAll(ctx context.Context) error {
	channels, err := m.channels.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list channels: %w", err)
	}
	for _, ch := range channels {
		go func(ch *domain.Channel) {
			if err := m.StartSession(ctx, ch.ID); err != nil {
				m.log.Error().Err(err).Str("channel", ch.ID.String()).Msg("failed to start session")
			}
		}(ch)
	}
	return nil
}

// StartSession connects the channel, replacing any previous session
func (m *Manager) StartSession(ctx context.Context, channelID uuid.UUID) error {
	ch, err := m.channels.Show(ctx, channelID)
	if err != nil {
		return err
	}

	var device *store.Device
	if ch.Session != "" {
		if jid, perr := types.ParseJID(ch.Session); perr == nil {
			device, err = m.container.GetDevice(ctx, jid)
			if err != nil {
				m.log.Warn().Err(err).Str("channel", ch.ID.String()).Msg("stored device not readable, pairing again")
				device = nil
			}
		}
	}
	if device == nil {
		device = m.container.NewDevice()
	}

	client := whatsmeow.NewClient(device, m.waLogger.Sub("Client"))
	client.EnableAutoReconnect = true
	client.AutoTrustIdentity = true

	sess := &Session{channelID: channelID, client: client}
	if prev := m.registry.Replace(channelID, sess); prev != nil && prev.client != nil {
		prev.client.Disconnect()
	}

	client.AddEventHandler(func(evt interface{}) {
		m.handleEvent(context.Background(), sess, evt)
	})

	m.lifecycle(ctx, sess, LifecycleLoading, LifecycleInput{})

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			m.lifecycle(ctx, sess, LifecycleDisconnected, LifecycleInput{})
			return fmt.Errorf("failed to connect: %w", err)
		}
		go m.handleQRChannel(context.Background(), sess, ch, qrChan)
		return nil
	}

	if err := client.Connect(); err != nil {
		m.lifecycle(ctx, sess, LifecycleDisconnected, LifecycleInput{})
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// handleQRChannel publishes QR codes and, when the channel asks for it,
// requests a phone pairing code on the first code
func (m *Manager) handleQRChannel(ctx context.Context, sess *Session, ch *domain.Channel, qrChan <-chan whatsmeow.QRChannelItem) {
	paired := false
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			png, err := qrcode.Encode(evt.Code, qrcode.Medium, 256)
			if err != nil {
				m.log.Error().Err(err).Msg("failed to render QR code")
				continue
			}
			dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
			m.registry.Register(sess.channelID, sess)
			m.lifecycle(ctx, sess, LifecycleQRIssued, LifecycleInput{QRCode: dataURL})

			if ch.RequestCode && ch.Number != "" && !paired {
				paired = true
				m.requestPairingCode(ctx, sess, ch.Number)
			}

		case "success":
			m.lifecycle(ctx, sess, LifecycleAuthenticated, LifecycleInput{})

		case "timeout":
			m.log.Warn().Str("channel", sess.channelID.String()).Msg("QR code timeout")
			m.lifecycle(ctx, sess, LifecycleDisconnected, LifecycleInput{})

		default:
			if evt.Error != nil {
				m.log.Error().Err(evt.Error).Str("channel", sess.channelID.String()).Str("event", evt.Event).Msg("pairing failed")
				m.lifecycle(ctx, sess, LifecycleAuthFailed, LifecycleInput{})
			}
		}
	}
}

// RequestPairingCode asks for a phone pairing code on a session waiting for QR
func (m *Manager) RequestPairingCode(ctx context.Context, channelID uuid.UUID, phone string) (string, error) {
	sess, err := m.registry.Lookup(channelID)
	if err != nil {
		return "", err
	}
	return m.requestPairingCode(ctx, sess, phone), nil
}

func (m *Manager) requestPairingCode(ctx context.Context, sess *Session, phone string) string {
	code, err := sess.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		m.log.Error().Err(err).Str("channel", sess.channelID.String()).Msg("failed to request pairing code")
		return ""
	}
	if _, err := m.channels.UpdateSession(ctx, sess.channelID, domain.ChannelSessionUpdate{PairingCode: &code}); err != nil {
		m.log.Error().Err(err).Msg("failed to store pairing code")
	}
	return code
}

// lifecycle applies ev to the channel record and publishes the result
func (m *Manager) lifecycle(ctx context.Context, sess *Session, ev LifecycleEvent, in LifecycleInput) {
	ch, err := m.channels.Show(ctx, sess.channelID)
	if err != nil {
		m.log.Error().Err(err).Str("channel", sess.channelID.String()).Msg("failed to load channel")
		return
	}

	upd, clearCredentials := Transition(ch, ev, in)
	if clearCredentials && sess.client != nil && sess.client.Store != nil && sess.client.Store.ID != nil {
		if err := sess.client.Store.Delete(ctx); err != nil {
			m.log.Error().Err(err).Msg("failed to clear device credentials")
		}
	}
	if upd.Status != nil {
		sess.setStatus(*upd.Status)
	}

	if _, err := m.channels.UpdateSession(ctx, sess.channelID, upd); err != nil {
		m.log.Error().Err(err).Str("channel", sess.channelID.String()).Str("event", string(ev)).Msg("failed to update channel")
		return
	}
	m.log.Info().Str("channel", sess.channelID.String()).Str("event", string(ev)).Msg("session lifecycle")
}

// handleEvent processes WhatsApp events of one session in delivery order
func (m *Manager) handleEvent(ctx context.Context, sess *Session, rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		m.registry.Register(sess.channelID, sess)
		in := LifecycleInput{}
		if sess.client.Store.ID != nil {
			in.Session = sess.client.Store.ID.String()
			in.Number = sess.client.Store.ID.User
		}
		m.lifecycle(ctx, sess, LifecycleReady, in)
		if err := sess.SendPresence(ctx, "", PresenceAvailable); err != nil {
			m.log.Warn().Err(err).Msg("failed to send available presence")
		}

	case *events.PairSuccess:
		m.log.Info().Str("channel", sess.channelID.String()).Str("jid", evt.ID.String()).Msg("paired")

	case *events.LoggedOut:
		m.log.Warn().Str("channel", sess.channelID.String()).Str("reason", evt.Reason.String()).Msg("logged out")
		m.lifecycle(ctx, sess, LifecycleAuthFailed, LifecycleInput{})

	case *events.ConnectFailure:
		m.log.Warn().Str("channel", sess.channelID.String()).Str("reason", evt.Reason.String()).Msg("connect failure")
		m.lifecycle(ctx, sess, LifecycleAuthFailed, LifecycleInput{})

	case *events.Disconnected:
		m.lifecycle(ctx, sess, LifecycleDisconnected, LifecycleInput{})

	case *events.Message:
		h := m.eventHandler()
		if h == nil {
			return
		}
		resolved, ok := resolveLID(ctx, m.lids, evt)
		if !ok {
			m.log.Warn().Str("channel", sess.channelID.String()).Str("chat", evt.Info.Chat.String()).Str("message", evt.Info.ID).Msg("no phone number for hidden user chat, message skipped")
			return
		}
		h.HandleMessage(ctx, sess, translateMessage(resolved))

	case *events.Receipt:
		// receipts sent by our other devices describe inbound messages
		ack, ok := receiptAck(evt.Type)
		if !ok || evt.IsFromMe {
			return
		}
		ids := make([]string, len(evt.MessageIDs))
		for i, id := range evt.MessageIDs {
			ids[i] = string(id)
		}
		if h := m.eventHandler(); h != nil {
			go h.HandleAck(ctx, sess, ids, ack)
		}

	case *events.CallOffer:
		if h := m.eventHandler(); h != nil {
			h.HandleCall(ctx, sess, evt.From.ToNonAD().String(), evt.CallID)
		}
	}
}

// RemoveSession disconnects the channel and drops it from the registry
func (m *Manager) RemoveSession(ctx context.Context, channelID uuid.UUID) error {
	sess := m.registry.Remove(channelID)
	if sess == nil {
		return domain.NewAppError(domain.ErrCodeWappNotInitialized)
	}
	if sess.client != nil {
		sess.client.Disconnect()
	}
	status := domain.ChannelStatusDisconnected
	_, err := m.channels.UpdateSession(ctx, channelID, domain.ChannelSessionUpdate{Status: &status})
	return err
}

// Shutdown closes all connections gracefully
func (m *Manager) Shutdown() {
	for _, sess := range m.registry.All() {
		if sess.client != nil {
			sess.client.Disconnect()
		}
		m.log.Info().Str("channel", sess.channelID.String()).Msg("disconnected")
	}
}

// ConnectedCount returns the number of sessions with a live socket
func (m *Manager) ConnectedCount() int {
	count := 0
	for _, sess := range m.registry.All() {
		if sess.IsConnected() {
			count++
		}
	}
	return count
}
