package service

import (
	"path/filepath"
	"sync"
	"testing"

	sqlstore "github.com/bcnelson/membership-manager/internal/storage/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlstore.New("sqlite3", filepath.Join(t.TempDir(), "membership.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return newFixtureWithStore(t, store)
}

// Two requests removing the last two memberships of one member at the same
// time must leave the member deleted, with exactly one of them reporting it.
func TestConcurrentRemovalsDeleteMemberOnce(t *testing.T) {
	f := newSQLFixture(t)
	owner := f.principal("alice")
	g1 := f.group("Sunflowers", owner)
	g2 := f.group("Daisies", owner)

	for round := 0; round < 20; round++ {
		m := f.member("Max", owner, g1, g2)

		var wg sync.WaitGroup
		results := make([]bool, 2)
		errs := make([]error, 2)
		for i, g := range []string{g1.ID, g2.ID} {
			wg.Add(1)
			go func(i int, groupID string) {
				defer wg.Done()
				result, err := f.memberships.RemoveAssociation(f.ctx, m.ID, groupID, owner.ID)
				errs[i] = err
				if err == nil {
					results[i] = result.MemberDeleted
				}
			}(i, g)
		}
		wg.Wait()

		require.NoError(t, errs[0], "round %d", round)
		require.NoError(t, errs[1], "round %d", round)
		assert.NotEqual(t, results[0], results[1], "round %d: exactly one removal deletes the member", round)
		assert.False(t, f.memberExists(m.ID), "round %d", round)
		assert.Equal(t, 0, f.memberCount(m.ID), "round %d", round)
	}
}

func TestSQLRemoveAssociationCascade(t *testing.T) {
	f := newSQLFixture(t)
	owner := f.principal("alice")
	g1 := f.group("Sunflowers", owner)
	g2 := f.group("Daisies", owner)
	m := f.member("Max", owner, g1, g2)

	result, err := f.memberships.RemoveAssociation(f.ctx, m.ID, g1.ID, owner.ID)
	require.NoError(t, err)
	assert.False(t, result.MemberDeleted)

	result, err = f.memberships.RemoveAssociation(f.ctx, m.ID, g2.ID, owner.ID)
	require.NoError(t, err)
	assert.True(t, result.MemberDeleted)
	assert.False(t, f.memberExists(m.ID))
}
