package storage

import (
	"context"

	"github.com/bcnelson/membership-manager/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error
	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Principals
	CreatePrincipal(ctx context.Context, principal *domain.Principal) error
	GetPrincipal(ctx context.Context, id string) (*domain.Principal, error)
	GetPrincipalByHandle(ctx context.Context, handle string) (*domain.Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (*domain.Principal, error)
	FindPrincipal(ctx context.Context, handle, email string) (*domain.Principal, error)
	UpdatePrincipal(ctx context.Context, principal *domain.Principal) error

	// Members
	CreateMember(ctx context.Context, member *domain.Member) error
	GetMember(ctx context.Context, id string) (*domain.Member, error)
	// GetMemberForUpdate is GetMember that, inside a transaction, also locks
	// the member against concurrent membership changes until commit.
	GetMemberForUpdate(ctx context.Context, id string) (*domain.Member, error)
	// ListMembers returns every member ordered by last name, first name, id.
	ListMembers(ctx context.Context) ([]*domain.Member, error)
	DeleteMember(ctx context.Context, id string) error

	// Groups
	CreateGroup(ctx context.Context, group *domain.Group) error
	GetGroup(ctx context.Context, id string) (*domain.Group, error)
	ListGroups(ctx context.Context) ([]*domain.GroupWithCreator, error)
	// DeleteGroup removes the group and all of its memberships atomically.
	// Members are left in place.
	DeleteGroup(ctx context.Context, id string) error

	// Memberships
	CreateMembership(ctx context.Context, membership *domain.Membership) error
	MembershipExists(ctx context.Context, memberID, groupID string) (bool, error)
	DeleteMembership(ctx context.Context, memberID, groupID string) error
	CountMemberships(ctx context.Context, memberID string) (int, error)
	// ListGroupMembers returns the members of a group, or ErrNotFound if the
	// group does not exist.
	ListGroupMembers(ctx context.Context, groupID string) ([]*domain.Member, error)
	// ListGroupMembersWithCreators is ListGroupMembers joined with each
	// member's owning principal.
	ListGroupMembersWithCreators(ctx context.Context, groupID string) ([]*domain.MemberWithCreator, error)

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}
