package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/ws"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ChannelService reads channel configuration and publishes session changes
type ChannelService struct {
	store  ChannelStore
	cache  Cache
	ttl    time.Duration
	notify Notifier
	group  singleflight.Group
	log    zerolog.Logger
}

// channelEntry is the cached form of a channel. Fields hidden from the UI
// are carried explicitly.
type channelEntry struct {
	Channel     *domain.Channel      `json:"channel"`
	Session     string               `json:"session"`
	Credentials map[uuid.UUID]string `json:"credentials"`
}

func newChannelEntry(ch *domain.Channel) *channelEntry {
	e := &channelEntry{Channel: ch, Session: ch.Session, Credentials: map[uuid.UUID]string{}}
	for _, q := range ch.Queues {
		if q.Agent != nil {
			e.Credentials[q.Agent.ID] = q.Agent.JSONContent
		}
	}
	return e
}

func (e *channelEntry) restore() *domain.Channel {
	ch := e.Channel
	ch.Session = e.Session
	for _, q := range ch.Queues {
		if q.Agent != nil {
			q.Agent.JSONContent = e.Credentials[q.Agent.ID]
		}
	}
	return ch
}

func channelKey(id uuid.UUID) string {
	return "channel:" + id.String()
}

// Show returns a channel with its ordered queues
func (s *ChannelService) Show(ctx context.Context, id uuid.UUID) (*domain.Channel, error) {
	key := channelKey(id)
	if s.cache != nil {
		var entry channelEntry
		found, err := s.cache.GetJSON(ctx, key, &entry)
		if err != nil {
			s.log.Warn().Err(err).Str("channel", id.String()).Msg("channel cache read failed")
		} else if found && entry.Channel != nil {
			return entry.restore(), nil
		}
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		ch, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load channel: %w", err)
		}
		if ch == nil {
			return nil, domain.NewAppError(domain.ErrCodeNoWappFound, http.StatusNotFound)
		}
		if s.cache != nil {
			if err := s.cache.SetJSON(ctx, key, newChannelEntry(ch), s.ttl); err != nil {
				s.log.Warn().Err(err).Str("channel", id.String()).Msg("channel cache write failed")
			}
		}
		return ch, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Channel), nil
}

// List returns every configured channel without queues
func (s *ChannelService) List(ctx context.Context) ([]*domain.Channel, error) {
	return s.store.GetAll(ctx)
}

// GetDefault returns the default channel
func (s *ChannelService) GetDefault(ctx context.Context) (*domain.Channel, error) {
	ch, err := s.store.GetDefault(ctx)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, domain.NewAppError(domain.ErrCodeNoDefaultWapp, http.StatusNotFound)
	}
	return ch, nil
}

// UpdateSession persists session fields, drops the cached copy and
// publishes the full channel state.
func (s *ChannelService) UpdateSession(ctx context.Context, id uuid.UUID, upd domain.ChannelSessionUpdate) (*domain.Channel, error) {
	ch, err := s.store.UpdateSession(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("failed to update channel session: %w", err)
	}
	if ch == nil {
		return nil, domain.NewAppError(domain.ErrCodeNoWappFound, http.StatusNotFound)
	}
	s.Invalidate(ctx, id)
	s.notify.Broadcast(ws.EventChannelSession, map[string]interface{}{
		"action":  "update",
		"session": ch,
	})
	return ch, nil
}

// Invalidate drops the cached copy of a channel
func (s *ChannelService) Invalidate(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, channelKey(id)); err != nil {
		s.log.Warn().Err(err).Str("channel", id.String()).Msg("channel cache invalidation failed")
	}
}
