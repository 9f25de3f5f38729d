package service

import (
	"context"

	"github.com/dollyzn/whaticket-cero/internal/domain"
)

type SettingService struct {
	store SettingStore
}

func (s *SettingService) Get(ctx context.Context, key string) (string, error) {
	value, _, err := s.store.Get(ctx, key)
	return value, err
}

func (s *SettingService) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, key, value)
}

// CallsDisabled reports whether incoming calls must be rejected
func (s *SettingService) CallsDisabled(ctx context.Context) (bool, error) {
	value, err := s.Get(ctx, domain.SettingCallPolicy)
	if err != nil {
		return false, err
	}
	return value == "disabled", nil
}
