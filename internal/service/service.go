package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store contracts, satisfied by internal/repository and by in-memory fakes

type ChannelStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Channel, error)
	GetDefault(ctx context.Context) (*domain.Channel, error)
	GetAll(ctx context.Context) ([]*domain.Channel, error)
	UpdateSession(ctx context.Context, id uuid.UUID, upd domain.ChannelSessionUpdate) (*domain.Channel, error)
}

type QueueStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Queue, error)
}

type ContactStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Contact, error)
	GetByNumber(ctx context.Context, number string) (*domain.Contact, error)
	Upsert(ctx context.Context, c *domain.Contact) (*domain.Contact, error)
	CreateIfAbsent(ctx context.Context, name, number string) (*domain.Contact, error)
	SetUseAgent(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Contact, error)
	SetAcceptAudio(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Contact, error)
}

type TicketStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
	FindActiveByContact(ctx context.Context, contactID uuid.UUID) (*domain.Ticket, error)
	CreateActive(ctx context.Context, t *domain.Ticket) (*domain.Ticket, bool, error)
	Update(ctx context.Context, id uuid.UUID, upd domain.TicketUpdate) (*domain.Ticket, error)
}

type MessageStore interface {
	Create(ctx context.Context, m *domain.Message) (bool, error)
	Get(ctx context.Context, id string, fromMe bool) (*domain.Message, error)
	FindByExternalID(ctx context.Context, id string) (*domain.Message, error)
	UpdateAck(ctx context.Context, id string, ack int) (*domain.Message, error)
}

type SettingStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Stores groups the persistence collaborators
type Stores struct {
	Channel ChannelStore
	Queue   QueueStore
	Contact ContactStore
	Ticket  TicketStore
	Message MessageStore
	Setting SettingStore
}

// Notifier publishes events to the admin UI
type Notifier interface {
	Emit(room, event string, data interface{})
	Broadcast(event string, data interface{})
}

// Cache is the key/value cache used for channel configuration
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type Services struct {
	Auth    *AuthService
	Channel *ChannelService
	Contact *ContactService
	Ticket  *TicketService
	Message *MessageService
	Setting *SettingService
}

// Options tune the services; a nil Cache disables channel caching
type Options struct {
	Cache           Cache
	ChannelCacheTTL time.Duration
	JWTSecret       string
}

func NewServices(stores Stores, notify Notifier, opts Options, logger zerolog.Logger) *Services {
	contacts := &ContactService{store: stores.Contact, notify: notify}
	return &Services{
		Auth: &AuthService{secret: opts.JWTSecret},
		Channel: &ChannelService{
			store:  stores.Channel,
			cache:  opts.Cache,
			ttl:    opts.ChannelCacheTTL,
			notify: notify,
			log:    logger.With().Str("component", "channel").Logger(),
		},
		Contact: contacts,
		Ticket: &TicketService{
			tickets:  stores.Ticket,
			contacts: stores.Contact,
			queues:   stores.Queue,
			notify:   notify,
		},
		Message: &MessageService{store: stores.Message, notify: notify},
		Setting: &SettingService{store: stores.Setting},
	}
}

// AuthService validates the tokens issued by the admin backend
type AuthService struct {
	secret string
}

type JWTClaims struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Profile  string    `json:"profile"`
	jwt.RegisteredClaims
}

func (s *AuthService) IssueToken(userID uuid.UUID, username, profile string, ttl time.Duration) (string, error) {
	claims := &JWTClaims{
		UserID:   userID,
		Username: username,
		Profile:  profile,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}

func (s *AuthService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
