package service

import (
	"context"
	"fmt"

	"github.com/bcnelson/membership-manager/internal/authz"
	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/notify"
	"github.com/bcnelson/membership-manager/internal/storage"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/bcnelson/membership-manager/internal/service")

// DeletionState is a step of a group deletion.
type DeletionState int

const (
	DeletionRequested DeletionState = iota
	DeletionAuthorized
	DeletionStakeholdersGathered
	DeletionNotified
	DeletionCommitted
	DeletionAborted
)

func (s DeletionState) String() string {
	switch s {
	case DeletionRequested:
		return "requested"
	case DeletionAuthorized:
		return "authorized"
	case DeletionStakeholdersGathered:
		return "stakeholders_gathered"
	case DeletionNotified:
		return "notified"
	case DeletionCommitted:
		return "committed"
	case DeletionAborted:
		return "aborted"
	default:
		return fmt.Sprintf("DeletionState(%d)", int(s))
	}
}

// GroupDeletionService deletes groups on behalf of their owner after telling
// every other principal whose members belonged to the group.
//
// Notification is best effort and happens before, and outside of, the
// transaction that removes the group. A failed notification never blocks the
// deletion; the response lists only the recipients that were reached.
type GroupDeletionService struct {
	store     storage.Storage
	notifier  notify.Notifier
	batchSize int
}

// NewGroupDeletionService creates a new GroupDeletionService. notifier should
// already enforce a per-call timeout (see notify.WithTimeout).
func NewGroupDeletionService(store storage.Storage, notifier notify.Notifier, batchSize int) *GroupDeletionService {
	if batchSize < 1 {
		batchSize = notify.DefaultBatchSize
	}
	return &GroupDeletionService{store: store, notifier: notifier, batchSize: batchSize}
}

// deletion tracks the progress of one DeleteGroup call.
type deletion struct {
	groupID string
	state   DeletionState
}

func (d *deletion) advance(to DeletionState) {
	log.Debug().
		Str("group_id", d.groupID).
		Stringer("from", d.state).
		Stringer("to", to).
		Msg("group deletion state")
	d.state = to
}

func (d *deletion) abort(err error) error {
	d.advance(DeletionAborted)
	return err
}

// DeleteGroup deletes groupID if requesterID owns it.
func (s *GroupDeletionService) DeleteGroup(ctx context.Context, groupID, requesterID string) (*domain.DeleteGroupResponse, error) {
	ctx, span := tracer.Start(ctx, "service.DeleteGroup")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID))

	d := &deletion{groupID: groupID, state: DeletionRequested}

	// An anonymous request is refused before any data is read.
	if requesterID == "" {
		span.SetStatus(codes.Error, "forbidden")
		return nil, d.abort(fmt.Errorf("deleting group %s: %w", groupID, domain.ErrForbidden))
	}

	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		span.RecordError(err)
		return nil, d.abort(fmt.Errorf("group %s: %w", groupID, err))
	}
	if !authz.Authorize(requesterID, group.CreatorID) {
		span.SetStatus(codes.Error, "forbidden")
		return nil, d.abort(fmt.Errorf("deleting group %s: %w", groupID, domain.ErrForbidden))
	}
	d.advance(DeletionAuthorized)

	members, err := s.store.ListGroupMembersWithCreators(ctx, groupID)
	if err != nil {
		span.RecordError(err)
		return nil, d.abort(fmt.Errorf("members of group %s: %w", groupID, err))
	}
	stakeholders := Stakeholders(group, members)
	d.advance(DeletionStakeholdersGathered)

	recipients := make([]string, 0, len(stakeholders))
	for _, p := range stakeholders {
		recipients = append(recipients, p.Email)
	}

	notified, err := notify.Dispatch(ctx, recipients, s.batchSize, func(ctx context.Context, email string) error {
		return s.notifier.Notify(ctx, deletionNotification(group, email))
	})
	if err != nil {
		span.RecordError(err)
		return nil, d.abort(err)
	}
	d.advance(DeletionNotified)

	if missed := len(recipients) - len(notified); missed > 0 {
		log.Warn().
			Str("group_id", groupID).
			Int("missed", missed).
			Msg("some stakeholders were not notified, deleting anyway")
	}

	if err := s.store.DeleteGroup(ctx, groupID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return nil, d.abort(fmt.Errorf("deleting group %s: %w", groupID, err))
	}
	d.advance(DeletionCommitted)

	span.SetAttributes(
		attribute.Int("group.stakeholders", len(recipients)),
		attribute.Int("group.notified", len(notified)),
	)
	log.Info().
		Str("group_id", groupID).
		Str("requester_id", requesterID).
		Strs("notified", notified).
		Msg("group deleted")

	return &domain.DeleteGroupResponse{
		Message:            fmt.Sprintf("Group %q has been deleted and notifications sent.", group.Name),
		NotifiedRecipients: notified,
	}, nil
}

// Stakeholders returns the distinct owners of the given members, in order of
// first appearance, leaving out the group's own owner.
func Stakeholders(group *domain.Group, members []*domain.MemberWithCreator) []domain.Principal {
	seen := map[string]bool{group.CreatorID: true}
	var out []domain.Principal
	for _, m := range members {
		if seen[m.Creator.ID] {
			continue
		}
		seen[m.Creator.ID] = true
		out = append(out, m.Creator)
	}
	return out
}

func deletionNotification(group *domain.Group, recipient string) notify.Notification {
	return notify.Notification{
		Recipient: recipient,
		Subject:   fmt.Sprintf("Group %q was deleted", group.Name),
		Body: fmt.Sprintf(
			"The group %q, which contained members you created, has been deleted by its owner. "+
				"Your members were removed from the group but otherwise left unchanged.", group.Name),
	}
}
