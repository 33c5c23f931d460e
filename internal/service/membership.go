package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bcnelson/membership-manager/internal/authz"
	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MembershipService manages members and their group memberships.
//
// A member whose last membership is explicitly removed is deleted in the same
// transaction. Deleting a whole group does not cascade to its members.
type MembershipService struct {
	store storage.Storage
}

// NewMembershipService creates a new MembershipService.
func NewMembershipService(store storage.Storage) *MembershipService {
	return &MembershipService{store: store}
}

// CreateMember creates a member owned by creatorID with no memberships.
func (s *MembershipService) CreateMember(ctx context.Context, firstName, lastName, creatorID string) (*domain.Member, error) {
	if _, err := s.store.GetPrincipal(ctx, creatorID); err != nil {
		return nil, fmt.Errorf("creator %s: %w", creatorID, err)
	}

	member := newMember(firstName, lastName, creatorID)
	if err := s.store.CreateMember(ctx, member); err != nil {
		return nil, err
	}

	log.Info().Str("member_id", member.ID).Str("creator_id", creatorID).Msg("member created")
	return member, nil
}

// CreateMemberInGroup creates a member and its first membership atomically.
func (s *MembershipService) CreateMemberInGroup(ctx context.Context, firstName, lastName, groupID, creatorID string) (*domain.Member, error) {
	member := newMember(firstName, lastName, creatorID)

	err := runInTx(ctx, s.store, func(tx storage.Transaction) error {
		if _, err := tx.GetGroup(ctx, groupID); err != nil {
			return fmt.Errorf("group %s: %w", groupID, err)
		}
		if _, err := tx.GetPrincipal(ctx, creatorID); err != nil {
			return fmt.Errorf("creator %s: %w", creatorID, err)
		}
		if err := tx.CreateMember(ctx, member); err != nil {
			return err
		}
		return tx.CreateMembership(ctx, &domain.Membership{MemberID: member.ID, GroupID: groupID})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("member_id", member.ID).Str("group_id", groupID).Msg("member created in group")
	return member, nil
}

// AddAssociation links a member to a group. Adding an existing pair is a
// conflict; the call is not idempotent.
func (s *MembershipService) AddAssociation(ctx context.Context, memberID, groupID string) (*domain.Membership, error) {
	membership := &domain.Membership{MemberID: memberID, GroupID: groupID}

	err := runInTx(ctx, s.store, func(tx storage.Transaction) error {
		if _, err := tx.GetMember(ctx, memberID); err != nil {
			return fmt.Errorf("member %s: %w", memberID, err)
		}
		if _, err := tx.GetGroup(ctx, groupID); err != nil {
			return fmt.Errorf("group %s: %w", groupID, err)
		}

		exists, err := tx.MembershipExists(ctx, memberID, groupID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("member %s is already in group %s: %w", memberID, groupID, domain.ErrConflict)
		}

		if err := tx.CreateMembership(ctx, membership); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return fmt.Errorf("member %s is already in group %s: %w", memberID, groupID, err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("member_id", memberID).Str("group_id", groupID).Msg("membership added")
	return membership, nil
}

// RemoveAssociation unlinks a member from a group on behalf of requesterID,
// who must own the member. When the removal leaves the member with no
// memberships the member is deleted too. Both happen in one transaction.
func (s *MembershipService) RemoveAssociation(ctx context.Context, memberID, groupID, requesterID string) (*domain.RemovalResult, error) {
	result := &domain.RemovalResult{
		Membership: domain.Membership{MemberID: memberID, GroupID: groupID},
	}

	err := runInTx(ctx, s.store, func(tx storage.Transaction) error {
		if _, err := tx.GetGroup(ctx, groupID); err != nil {
			return fmt.Errorf("group %s: %w", groupID, err)
		}
		// The member row lock makes concurrent removals of the same member
		// take turns, so exactly one of them sees the count reach zero.
		member, err := tx.GetMemberForUpdate(ctx, memberID)
		if err != nil {
			return fmt.Errorf("member %s: %w", memberID, err)
		}
		if !authz.Authorize(requesterID, member.CreatorID) {
			return fmt.Errorf("removing member %s: %w", memberID, domain.ErrForbidden)
		}

		if err := tx.DeleteMembership(ctx, memberID, groupID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("member %s is not in group %s: %w", memberID, groupID, domain.ErrConflict)
			}
			return err
		}

		remaining, err := tx.CountMemberships(ctx, memberID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			if err := tx.DeleteMember(ctx, memberID); err != nil {
				return fmt.Errorf("deleting member %s: %w", memberID, err)
			}
			result.MemberDeleted = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("member_id", memberID).
		Str("group_id", groupID).
		Bool("member_deleted", result.MemberDeleted).
		Msg("membership removed")
	return result, nil
}

// ListMembersOfGroup returns the members of a group. A group without members
// yields an empty slice.
func (s *MembershipService) ListMembersOfGroup(ctx context.Context, groupID string) ([]*domain.Member, error) {
	members, err := s.store.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", groupID, err)
	}
	return members, nil
}

// ListMembers returns every member, or the members of groupID when it is
// non-empty, ordered by last name.
func (s *MembershipService) ListMembers(ctx context.Context, groupID string) ([]*domain.Member, error) {
	if groupID == "" {
		return s.store.ListMembers(ctx)
	}
	return s.ListMembersOfGroup(ctx, groupID)
}

// DeleteGroup removes a group and its memberships without notifying anyone
// or checking ownership. Members are kept even if this leaves them with no
// memberships.
func (s *MembershipService) DeleteGroup(ctx context.Context, groupID string) error {
	if err := s.store.DeleteGroup(ctx, groupID); err != nil {
		return fmt.Errorf("group %s: %w", groupID, err)
	}
	return nil
}

func newMember(firstName, lastName, creatorID string) *domain.Member {
	return &domain.Member{
		ID:        uuid.New().String(),
		FirstName: firstName,
		LastName:  lastName,
		CreatorID: creatorID,
		CreatedAt: time.Now().UTC(),
	}
}
