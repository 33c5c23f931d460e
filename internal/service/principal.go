package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PrincipalService manages the principals that own members and groups.
type PrincipalService struct {
	store storage.Storage
}

// NewPrincipalService creates a new PrincipalService.
func NewPrincipalService(store storage.Storage) *PrincipalService {
	return &PrincipalService{store: store}
}

// Upsert updates the principal matching handle or email, or creates one if
// neither matches.
func (s *PrincipalService) Upsert(ctx context.Context, email, handle string) (*domain.Principal, error) {
	if email == "" || handle == "" {
		return nil, fmt.Errorf("email and handle are required: %w", domain.ErrInvalidInput)
	}

	var principal *domain.Principal
	created := false

	err := runInTx(ctx, s.store, func(tx storage.Transaction) error {
		existing, err := tx.FindPrincipal(ctx, handle, email)
		switch {
		case err == nil:
			existing.Email = email
			existing.Handle = handle
			principal = existing
			return tx.UpdatePrincipal(ctx, existing)
		case errors.Is(err, domain.ErrNotFound):
			now := time.Now().UTC()
			principal = &domain.Principal{
				ID:        uuid.New().String(),
				Email:     email,
				Handle:    handle,
				CreatedAt: now,
				UpdatedAt: now,
			}
			created = true
			return tx.CreatePrincipal(ctx, principal)
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("principal_id", principal.ID).Str("handle", handle).Bool("created", created).Msg("principal upserted")
	return principal, nil
}

// GetByHandle looks up a principal by handle.
func (s *PrincipalService) GetByHandle(ctx context.Context, handle string) (*domain.Principal, error) {
	p, err := s.store.GetPrincipalByHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("principal %q: %w", handle, err)
	}
	return p, nil
}

// GetByEmail looks up a principal by email.
func (s *PrincipalService) GetByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	p, err := s.store.GetPrincipalByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("principal %q: %w", email, err)
	}
	return p, nil
}
