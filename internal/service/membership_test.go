package service

import (
	"testing"

	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMemberWithoutGroups(t *testing.T) {
	f := newFixture(t)
	owner := f.principal("alice")

	m := f.member("Max", owner)

	assert.True(t, f.memberExists(m.ID))
	assert.Equal(t, 0, f.memberCount(m.ID))
}

func TestCreateMemberUnknownCreator(t *testing.T) {
	f := newFixture(t)

	_, err := f.memberships.CreateMember(f.ctx, "Max", "Doe", "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateMemberInGroup(t *testing.T) {
	f := newFixture(t)
	owner := f.principal("alice")
	g := f.group("Sunflowers", owner)

	m, err := f.memberships.CreateMemberInGroup(f.ctx, "Max", "Doe", g.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.memberCount(m.ID))

	_, err = f.memberships.CreateMemberInGroup(f.ctx, "Lea", "Doe", "missing", owner.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddAssociation(t *testing.T) {
	f := newFixture(t)
	owner := f.principal("alice")
	g := f.group("Sunflowers", owner)
	m := f.member("Max", owner)

	membership, err := f.memberships.AddAssociation(f.ctx, m.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, &domain.Membership{MemberID: m.ID, GroupID: g.ID}, membership)
	assert.Equal(t, 1, f.memberCount(m.ID))
}

func TestAddAssociationDuplicateConflicts(t *testing.T) {
	f := newFixture(t)
	owner := f.principal("alice")
	g := f.group("Sunflowers", owner)
	m := f.member("Max", owner, g)

	_, err := f.memberships.AddAssociation(f.ctx, m.ID, g.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 1, f.memberCount(m.ID))
}

func TestAddAssociationNotFound(t *testing.T) {
	f := newFixture(t)
	owner := f.principal("alice")
	g := f.group("Sunflowers", owner)
	m := f.member("Max", owner)

	_, err := f.memberships.AddAssociation(f.ctx, "missing", g.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.memberships.AddAssociation(f.ctx, m.ID, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemoveLastAssociationDeletesMember(t *testing.T) {
	f := newFixture(t)
	owner := f.principal("alice")
	g := f.group("Sunflowers", owner)
	m := f.member("Max", owner, g)

	result, err := f.memberships.RemoveAssociation(f.ctx, m.ID, g.ID, owner.ID)
	require.NoError(t, err)
	assert.True(t, result.MemberDeleted)
	assert.False(t, f.memberExists(m.ID))
	assert.Equal(t, 0, f.memberCount(m.ID))
}

func TestRemoveAssociationKeepsMemberWithOtherGroups(t *testing.T) {
	f := newFixture(t)
	owner := f.principal("alice")
	g1 := f.group("Sunflowers", owner)
	g2 := f.group("Daisies", owner)
	m := f.member("Max", owner, g1, g2)

	result, err := f.memberships.RemoveAssociation(f.ctx, m.ID, g1.ID, owner.ID)
	require.NoError(t, err)
	assert.False(t, result.MemberDeleted)
	assert.True(t, f.memberExists(m.ID))

	ok, err := f.store.MembershipExists(f.ctx, m.ID, g2.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.memberCount(m.ID))
}

func TestRemoveAssociationByNonOwnerIsForbidden(t *testing.T) {
	f := newFixture(t)
	owner := f.principal("alice")
	other := f.principal("bob")
	g := f.group("Sunflowers", owner)
	m := f.member("Max", owner, g)

	_, err := f.memberships.RemoveAssociation(f.ctx, m.ID, g.ID, other.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.memberships.RemoveAssociation(f.ctx, m.ID, g.ID, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	assert.True(t, f.memberExists(m.ID))
	assert.Equal(t, 1, f.memberCount(m.ID))
}

func TestRemoveAssociationChecksMemberOwnerNotGroupOwner(t *testing.T) {
	f := newFixture(t)
	groupOwner := f.principal("carol")
	memberOwner := f.principal("alice")
	g := f.group("Sunflowers", groupOwner)
	m := f.member("Max", memberOwner, g)

	_, err := f.memberships.RemoveAssociation(f.ctx, m.ID, g.ID, groupOwner.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.memberships.RemoveAssociation(f.ctx, m.ID, g.ID, memberOwner.ID)
	assert.NoError(t, err)
}

func TestRemoveAssociationErrors(t *testing.T) {
	f := newFixture(t)
	owner := f.principal("alice")
	g1 := f.group("Sunflowers", owner)
	g2 := f.group("Daisies", owner)
	m := f.member("Max", owner, g1)

	_, err := f.memberships.RemoveAssociation(f.ctx, "missing", g1.ID, owner.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.memberships.RemoveAssociation(f.ctx, m.ID, "missing", owner.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.memberships.RemoveAssociation(f.ctx, m.ID, g2.ID, owner.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.True(t, f.memberExists(m.ID))
}

func TestRemoveAssociationLooksUpGroupBeforeAuthorizing(t *testing.T) {
	f := newFixture(t)
	owner := f.principal("alice")
	other := f.principal("bob")
	g := f.group("Sunflowers", owner)
	m := f.member("Max", owner, g)

	_, err := f.memberships.RemoveAssociation(f.ctx, m.ID, "missing", other.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrForbidden)

	_, err = f.memberships.RemoveAssociation(f.ctx, "missing", g.ID, other.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.memberships.RemoveAssociation(f.ctx, m.ID, g.ID, other.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRemoveAssociationRollsBackOnCascadeFailure(t *testing.T) {
	store := &failingStore{Store: memory.New(), failDeleteMember: true}
	f := newFixtureWithStore(t, store)
	owner := f.principal("alice")
	g := f.group("Sunflowers", owner)
	m := f.member("Max", owner, g)

	_, err := f.memberships.RemoveAssociation(f.ctx, m.ID, g.ID, owner.ID)
	require.Error(t, err)

	// Neither half of the removal is visible.
	assert.True(t, f.memberExists(m.ID))
	assert.Equal(t, 1, f.memberCount(m.ID))
}

func TestRemoveAssociationCommitFailure(t *testing.T) {
	store := &failingStore{Store: memory.New()}
	f := newFixtureWithStore(t, store)
	owner := f.principal("alice")
	g := f.group("Sunflowers", owner)
	m := f.member("Max", owner, g)

	store.failCommit = true
	_, err := f.memberships.RemoveAssociation(f.ctx, m.ID, g.ID, owner.ID)
	assert.ErrorIs(t, err, domain.ErrTransaction)

	store.failCommit = false
	assert.True(t, f.memberExists(m.ID))
	assert.Equal(t, 1, f.memberCount(m.ID))
}

func TestListMembersOfGroup(t *testing.T) {
	f := newFixture(t)
	owner := f.principal("alice")
	g := f.group("Sunflowers", owner)
	empty := f.group("Daisies", owner)
	m1 := f.member("Max", owner, g)
	m2 := f.member("Lea", owner, g)

	members, err := f.memberships.ListMembersOfGroup(f.ctx, g.ID)
	require.NoError(t, err)
	ids := []string{}
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{m1.ID, m2.ID}, ids)

	members, err = f.memberships.ListMembersOfGroup(f.ctx, empty.ID)
	require.NoError(t, err)
	assert.NotNil(t, members)
	assert.Empty(t, members)

	_, err = f.memberships.ListMembersOfGroup(f.ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListMembersForExport(t *testing.T) {
	f := newFixture(t)
	owner := f.principal("alice")
	g1 := f.group("Sunflowers", owner)
	g2 := f.group("Daisies", owner)
	zed, err := f.memberships.CreateMemberInGroup(f.ctx, "Zoe", "Zed", g1.ID, owner.ID)
	require.NoError(t, err)
	_, err = f.memberships.AddAssociation(f.ctx, zed.ID, g2.ID)
	require.NoError(t, err)
	adams, err := f.memberships.CreateMember(f.ctx, "Ann", "Adams", owner.ID)
	require.NoError(t, err)

	all, err := f.memberships.ListMembers(f.ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, adams.ID, all[0].ID)
	assert.Equal(t, zed.ID, all[1].ID)

	inGroup, err := f.memberships.ListMembers(f.ctx, g2.ID)
	require.NoError(t, err)
	require.Len(t, inGroup, 1)
	assert.Equal(t, zed.ID, inGroup[0].ID)

	_, err = f.memberships.ListMembers(f.ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMembershipLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	u1 := f.principal("u1")

	m := f.member("Max", u1)
	assert.Equal(t, 0, f.memberCount(m.ID))

	g1 := f.group("G1", u1)
	_, err := f.memberships.AddAssociation(f.ctx, m.ID, g1.ID)
	require.NoError(t, err)

	result, err := f.memberships.RemoveAssociation(f.ctx, m.ID, g1.ID, u1.ID)
	require.NoError(t, err)
	assert.True(t, result.MemberDeleted)
	assert.False(t, f.memberExists(m.ID))
	assert.Equal(t, 0, f.memberCount(m.ID))
}
