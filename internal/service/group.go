package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GroupService creates and reads groups.
type GroupService struct {
	store storage.Storage
}

// NewGroupService creates a new GroupService.
func NewGroupService(store storage.Storage) *GroupService {
	return &GroupService{store: store}
}

// Create creates a group owned by creatorID.
func (s *GroupService) Create(ctx context.Context, name, creatorID string) (*domain.Group, error) {
	if _, err := s.store.GetPrincipal(ctx, creatorID); err != nil {
		return nil, fmt.Errorf("creator %s: %w", creatorID, err)
	}

	group := &domain.Group{
		ID:        uuid.New().String(),
		Name:      name,
		CreatorID: creatorID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}

	log.Info().Str("group_id", group.ID).Str("creator_id", creatorID).Msg("group created")
	return group, nil
}

// Get returns a group with its creator and members.
func (s *GroupService) Get(ctx context.Context, id string) (*domain.GroupDetail, error) {
	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", id, err)
	}

	creator, err := s.store.GetPrincipal(ctx, group.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("creator of group %s: %w", id, err)
	}

	members, err := s.store.ListGroupMembers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("members of group %s: %w", id, err)
	}

	return &domain.GroupDetail{Group: *group, Creator: creator, Members: members}, nil
}

// List returns every group with its creator, ordered by name.
func (s *GroupService) List(ctx context.Context) ([]*domain.GroupWithCreator, error) {
	return s.store.ListGroups(ctx)
}
