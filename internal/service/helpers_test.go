package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/notify"
	"github.com/bcnelson/membership-manager/internal/storage"
	"github.com/bcnelson/membership-manager/internal/storage/memory"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t           *testing.T
	ctx         context.Context
	store       storage.Storage
	principals  *PrincipalService
	groups      *GroupService
	memberships *MembershipService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, memory.New())
}

func newFixtureWithStore(t *testing.T, store storage.Storage) *fixture {
	t.Helper()
	return &fixture{
		t:           t,
		ctx:         context.Background(),
		store:       store,
		principals:  NewPrincipalService(store),
		groups:      NewGroupService(store),
		memberships: NewMembershipService(store),
	}
}

func (f *fixture) principal(handle string) *domain.Principal {
	f.t.Helper()
	p, err := f.principals.Upsert(f.ctx, handle+"@example.com", handle)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) group(name string, owner *domain.Principal) *domain.Group {
	f.t.Helper()
	g, err := f.groups.Create(f.ctx, name, owner.ID)
	require.NoError(f.t, err)
	return g
}

func (f *fixture) member(name string, owner *domain.Principal, groups ...*domain.Group) *domain.Member {
	f.t.Helper()
	m, err := f.memberships.CreateMember(f.ctx, name, "Doe", owner.ID)
	require.NoError(f.t, err)
	for _, g := range groups {
		_, err := f.memberships.AddAssociation(f.ctx, m.ID, g.ID)
		require.NoError(f.t, err)
	}
	return m
}

func (f *fixture) memberCount(memberID string) int {
	f.t.Helper()
	n, err := f.store.CountMemberships(f.ctx, memberID)
	require.NoError(f.t, err)
	return n
}

func (f *fixture) memberExists(memberID string) bool {
	f.t.Helper()
	_, err := f.store.GetMember(f.ctx, memberID)
	if errors.Is(err, domain.ErrNotFound) {
		return false
	}
	require.NoError(f.t, err)
	return true
}

// fakeNotifier records every recipient and fails those listed in failFor.
type fakeNotifier struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]bool
	before  func(n notify.Notification)
}

func (n *fakeNotifier) Notify(ctx context.Context, msg notify.Notification) error {
	if n.before != nil {
		n.before(msg)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, msg.Recipient)
	if n.failFor[msg.Recipient] {
		return fmt.Errorf("mailbox %s unavailable", msg.Recipient)
	}
	return nil
}

func (n *fakeNotifier) recipients() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

// failingStore injects errors into transactions of an in-memory store.
type failingStore struct {
	*memory.Store
	failDeleteMember bool
	failCommit       bool
}

func (s *failingStore) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &failingTx{Transaction: tx, store: s}, nil
}

type failingTx struct {
	storage.Transaction
	store *failingStore
}

func (t *failingTx) DeleteMember(ctx context.Context, id string) error {
	if t.store.failDeleteMember {
		return errors.New("disk full")
	}
	return t.Transaction.DeleteMember(ctx, id)
}

func (t *failingTx) Commit() error {
	if t.store.failCommit {
		return errors.New("commit refused")
	}
	return t.Transaction.Commit()
}
