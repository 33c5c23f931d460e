// Package storagetest holds behaviour tests shared by every storage.Storage
// implementation.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises newStore against the storage contract. newStore must return
// an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Storage) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"Principals", testPrincipals},
		{"MembershipUniqueness", testMembershipUniqueness},
		{"ListGroupMembers", testListGroupMembers},
		{"ListMembers", testListMembers},
		{"GetMemberForUpdate", testGetMemberForUpdate},
		{"DeleteGroupKeepsMembers", testDeleteGroupKeepsMembers},
		{"DeleteMember", testDeleteMember},
		{"TransactionRollback", testTransactionRollback},
		{"TransactionCommit", testTransactionCommit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func seedPrincipal(t *testing.T, s storage.Storage, handle string) *domain.Principal {
	t.Helper()
	p := &domain.Principal{
		ID:        uuid.New().String(),
		Email:     handle + "@example.com",
		Handle:    handle,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	require.NoError(t, s.CreatePrincipal(context.Background(), p))
	return p
}

func seedGroup(t *testing.T, s storage.Storage, name string, owner *domain.Principal) *domain.Group {
	t.Helper()
	g := &domain.Group{ID: uuid.New().String(), Name: name, CreatorID: owner.ID, CreatedAt: now()}
	require.NoError(t, s.CreateGroup(context.Background(), g))
	return g
}

func seedMember(t *testing.T, s storage.Storage, first, last string, owner *domain.Principal, groups ...*domain.Group) *domain.Member {
	t.Helper()
	ctx := context.Background()
	m := &domain.Member{ID: uuid.New().String(), FirstName: first, LastName: last, CreatorID: owner.ID, CreatedAt: now()}
	require.NoError(t, s.CreateMember(ctx, m))
	for _, g := range groups {
		require.NoError(t, s.CreateMembership(ctx, &domain.Membership{MemberID: m.ID, GroupID: g.ID}))
	}
	return m
}

func testPrincipals(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := seedPrincipal(t, s, "alice")

	got, err := s.GetPrincipalByHandle(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	got, err = s.GetPrincipalByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	got, err = s.FindPrincipal(ctx, "nobody", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = s.FindPrincipal(ctx, "nobody", "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	dup := &domain.Principal{ID: uuid.New().String(), Email: "other@example.com", Handle: "alice", CreatedAt: now(), UpdatedAt: now()}
	assert.ErrorIs(t, s.CreatePrincipal(ctx, dup), domain.ErrAlreadyExists)

	alice.Email = "alice@new.example.com"
	require.NoError(t, s.UpdatePrincipal(ctx, alice))
	got, err = s.GetPrincipal(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@new.example.com", got.Email)
}

func testMembershipUniqueness(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	owner := seedPrincipal(t, s, "owner")
	g := seedGroup(t, s, "Sunflowers", owner)
	m := seedMember(t, s, "Max", "Doe", owner, g)

	err := s.CreateMembership(ctx, &domain.Membership{MemberID: m.ID, GroupID: g.ID})
	assert.ErrorIs(t, err, domain.ErrConflict)

	n, err := s.CountMemberships(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := s.MembershipExists(ctx, m.ID, g.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.DeleteMembership(ctx, m.ID, g.ID))
	assert.ErrorIs(t, s.DeleteMembership(ctx, m.ID, g.ID), domain.ErrNotFound)
}

func testListGroupMembers(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	a := seedPrincipal(t, s, "a")
	b := seedPrincipal(t, s, "b")
	g := seedGroup(t, s, "Sunflowers", a)
	empty := seedGroup(t, s, "Daisies", a)
	seedMember(t, s, "Zoe", "Young", b, g)
	seedMember(t, s, "Max", "Adams", a, g)

	members, err := s.ListGroupMembers(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "Adams", members[0].LastName)
	assert.Equal(t, "Young", members[1].LastName)

	withCreators, err := s.ListGroupMembersWithCreators(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, withCreators, 2)
	assert.Equal(t, a.Email, withCreators[0].Creator.Email)
	assert.Equal(t, b.Email, withCreators[1].Creator.Email)

	members, err = s.ListGroupMembers(ctx, empty.ID)
	require.NoError(t, err)
	assert.Empty(t, members)

	_, err = s.ListGroupMembers(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.ListGroupMembersWithCreators(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	groups, err := s.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "Daisies", groups[0].Name)
	assert.Equal(t, a.ID, groups[0].Creator.ID)
	assert.Equal(t, a.Email, groups[1].Creator.Email)
}

func testListMembers(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	a := seedPrincipal(t, s, "a")
	g1 := seedGroup(t, s, "Sunflowers", a)
	g2 := seedGroup(t, s, "Daisies", a)
	seedMember(t, s, "Zoe", "Young", a, g1, g2)
	seedMember(t, s, "Max", "Adams", a)

	members, err := s.ListMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "Adams", members[0].LastName)
	assert.Equal(t, "Young", members[1].LastName)
}

func testGetMemberForUpdate(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	a := seedPrincipal(t, s, "a")
	m := seedMember(t, s, "Max", "Adams", a)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	got, err := tx.GetMemberForUpdate(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	_, err = tx.GetMemberForUpdate(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, tx.Rollback())
}

func testDeleteGroupKeepsMembers(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	owner := seedPrincipal(t, s, "owner")
	g1 := seedGroup(t, s, "G1", owner)
	g2 := seedGroup(t, s, "G2", owner)
	both := seedMember(t, s, "Max", "Doe", owner, g1, g2)
	only := seedMember(t, s, "Lea", "Doe", owner, g1)

	require.NoError(t, s.DeleteGroup(ctx, g1.ID))

	_, err := s.GetGroup(ctx, g1.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	n, err := s.CountMemberships(ctx, both.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountMemberships(ctx, only.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = s.GetMember(ctx, only.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, s.DeleteGroup(ctx, g1.ID), domain.ErrNotFound)
}

func testDeleteMember(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	owner := seedPrincipal(t, s, "owner")
	g := seedGroup(t, s, "G1", owner)
	m := seedMember(t, s, "Max", "Doe", owner, g)

	require.NoError(t, s.DeleteMember(ctx, m.ID))
	_, err := s.GetMember(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	members, err := s.ListGroupMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, members)

	assert.ErrorIs(t, s.DeleteMember(ctx, m.ID), domain.ErrNotFound)
}

func testTransactionRollback(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	owner := seedPrincipal(t, s, "owner")
	g := seedGroup(t, s, "G1", owner)
	m := seedMember(t, s, "Max", "Doe", owner, g)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteMembership(ctx, m.ID, g.ID))
	require.NoError(t, tx.DeleteMember(ctx, m.ID))

	n, err := tx.CountMemberships(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, tx.Rollback())

	_, err = s.GetMember(ctx, m.ID)
	assert.NoError(t, err)
	ok, err := s.MembershipExists(ctx, m.ID, g.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testTransactionCommit(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	owner := seedPrincipal(t, s, "owner")
	g := seedGroup(t, s, "G1", owner)
	m := seedMember(t, s, "Max", "Doe", owner, g)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteMembership(ctx, m.ID, g.ID))
	require.NoError(t, tx.DeleteMember(ctx, m.ID))
	require.NoError(t, tx.Commit())

	_, err = s.GetMember(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	ok, err := s.MembershipExists(ctx, m.ID, g.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
