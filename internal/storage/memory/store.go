package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/storage"
)

var errTxDone = errors.New("transaction has already been committed or rolled back")

type membershipKey struct {
	memberID string
	groupID  string
}

// state holds one consistent snapshot of every table.
type state struct {
	principals  map[string]domain.Principal
	members     map[string]domain.Member
	groups      map[string]domain.Group
	memberships map[membershipKey]struct{}
}

func newState() *state {
	return &state{
		principals:  make(map[string]domain.Principal),
		members:     make(map[string]domain.Member),
		groups:      make(map[string]domain.Group),
		memberships: make(map[membershipKey]struct{}),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.principals {
		c.principals[k] = v
	}
	for k, v := range st.members {
		c.members[k] = v
	}
	for k, v := range st.groups {
		c.groups[k] = v
	}
	for k := range st.memberships {
		c.memberships[k] = struct{}{}
	}
	return c
}

// Store is an in-memory implementation of the storage interface for testing.
//
// Writers are serialized by txMu. A transaction holds txMu from BeginTx until
// Commit or Rollback and works on a private copy of the state, so readers
// never observe a partially applied transaction.
type Store struct {
	txMu sync.Mutex

	mu sync.RWMutex
	st *state
}

var _ storage.Storage = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Close() error                   { return nil }
func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()
	return &Tx{store: s, st: snapshot}, nil
}

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

func (s *Store) write(fn func(st *state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// Tx is a transaction over a private copy of the store state.
type Tx struct {
	store *Store
	st    *state
	done  bool
}

func (t *Tx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.store.mu.Lock()
	t.store.st = t.st
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.st = nil
	t.store.txMu.Unlock()
	return nil
}

func (t *Tx) Close() error                   { return nil }
func (t *Tx) Ping(ctx context.Context) error { return nil }
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, domain.ErrInvalidInput
}

// ============================================
// Principals
// ============================================

func (st *state) createPrincipal(p *domain.Principal) error {
	if _, ok := st.principals[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, existing := range st.principals {
		if existing.Email == p.Email || existing.Handle == p.Handle {
			return domain.ErrAlreadyExists
		}
	}
	st.principals[p.ID] = *p
	return nil
}

func (st *state) getPrincipal(match func(p domain.Principal) bool) (*domain.Principal, error) {
	for _, p := range st.principals {
		if match(p) {
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (st *state) findPrincipal(handle, email string) (*domain.Principal, error) {
	if p, err := st.getPrincipal(func(p domain.Principal) bool { return p.Handle == handle }); err == nil {
		return p, nil
	}
	return st.getPrincipal(func(p domain.Principal) bool { return p.Email == email })
}

func (st *state) updatePrincipal(p *domain.Principal) error {
	if _, ok := st.principals[p.ID]; !ok {
		return domain.ErrNotFound
	}
	for id, existing := range st.principals {
		if id != p.ID && (existing.Email == p.Email || existing.Handle == p.Handle) {
			return domain.ErrAlreadyExists
		}
	}
	p.UpdatedAt = time.Now()
	st.principals[p.ID] = *p
	return nil
}

func (s *Store) CreatePrincipal(ctx context.Context, p *domain.Principal) error {
	return s.write(func(st *state) error { return st.createPrincipal(p) })
}

func (s *Store) GetPrincipal(ctx context.Context, id string) (p *domain.Principal, err error) {
	s.read(func(st *state) { p, err = st.getPrincipal(func(c domain.Principal) bool { return c.ID == id }) })
	return p, err
}

func (s *Store) GetPrincipalByHandle(ctx context.Context, handle string) (p *domain.Principal, err error) {
	s.read(func(st *state) { p, err = st.getPrincipal(func(c domain.Principal) bool { return c.Handle == handle }) })
	return p, err
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (p *domain.Principal, err error) {
	s.read(func(st *state) { p, err = st.getPrincipal(func(c domain.Principal) bool { return c.Email == email }) })
	return p, err
}

func (s *Store) FindPrincipal(ctx context.Context, handle, email string) (p *domain.Principal, err error) {
	s.read(func(st *state) { p, err = st.findPrincipal(handle, email) })
	return p, err
}

func (s *Store) UpdatePrincipal(ctx context.Context, p *domain.Principal) error {
	return s.write(func(st *state) error { return st.updatePrincipal(p) })
}

func (t *Tx) CreatePrincipal(ctx context.Context, p *domain.Principal) error {
	return t.st.createPrincipal(p)
}
func (t *Tx) GetPrincipal(ctx context.Context, id string) (*domain.Principal, error) {
	return t.st.getPrincipal(func(c domain.Principal) bool { return c.ID == id })
}
func (t *Tx) GetPrincipalByHandle(ctx context.Context, handle string) (*domain.Principal, error) {
	return t.st.getPrincipal(func(c domain.Principal) bool { return c.Handle == handle })
}
func (t *Tx) GetPrincipalByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	return t.st.getPrincipal(func(c domain.Principal) bool { return c.Email == email })
}
func (t *Tx) FindPrincipal(ctx context.Context, handle, email string) (*domain.Principal, error) {
	return t.st.findPrincipal(handle, email)
}
func (t *Tx) UpdatePrincipal(ctx context.Context, p *domain.Principal) error {
	return t.st.updatePrincipal(p)
}

// ============================================
// Members
// ============================================

func (st *state) createMember(m *domain.Member) error {
	if _, ok := st.members[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := st.principals[m.CreatorID]; !ok {
		return domain.ErrNotFound
	}
	st.members[m.ID] = *m
	return nil
}

func (st *state) getMember(id string) (*domain.Member, error) {
	m, ok := st.members[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (st *state) listMembers() []*domain.Member {
	members := make([]*domain.Member, 0, len(st.members))
	for _, m := range st.members {
		members = append(members, &m)
	}
	sortMembers(members)
	return members
}

func (st *state) deleteMember(id string) error {
	if _, ok := st.members[id]; !ok {
		return domain.ErrNotFound
	}
	for k := range st.memberships {
		if k.memberID == id {
			delete(st.memberships, k)
		}
	}
	delete(st.members, id)
	return nil
}

func (s *Store) CreateMember(ctx context.Context, m *domain.Member) error {
	return s.write(func(st *state) error { return st.createMember(m) })
}

func (s *Store) GetMember(ctx context.Context, id string) (m *domain.Member, err error) {
	s.read(func(st *state) { m, err = st.getMember(id) })
	return m, err
}

// GetMemberForUpdate is GetMember; writers are already serialized.
func (s *Store) GetMemberForUpdate(ctx context.Context, id string) (*domain.Member, error) {
	return s.GetMember(ctx, id)
}

func (s *Store) ListMembers(ctx context.Context) (members []*domain.Member, err error) {
	s.read(func(st *state) { members = st.listMembers() })
	return members, nil
}

func (s *Store) DeleteMember(ctx context.Context, id string) error {
	return s.write(func(st *state) error { return st.deleteMember(id) })
}

func (t *Tx) CreateMember(ctx context.Context, m *domain.Member) error {
	return t.st.createMember(m)
}
func (t *Tx) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	return t.st.getMember(id)
}
func (t *Tx) GetMemberForUpdate(ctx context.Context, id string) (*domain.Member, error) {
	return t.st.getMember(id)
}
func (t *Tx) ListMembers(ctx context.Context) ([]*domain.Member, error) {
	return t.st.listMembers(), nil
}
func (t *Tx) DeleteMember(ctx context.Context, id string) error {
	return t.st.deleteMember(id)
}

// ============================================
// Groups
// ============================================

func (st *state) createGroup(g *domain.Group) error {
	if _, ok := st.groups[g.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := st.principals[g.CreatorID]; !ok {
		return domain.ErrNotFound
	}
	st.groups[g.ID] = *g
	return nil
}

func (st *state) getGroup(id string) (*domain.Group, error) {
	g, ok := st.groups[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &g, nil
}

func (st *state) listGroups() []*domain.GroupWithCreator {
	groups := make([]*domain.GroupWithCreator, 0, len(st.groups))
	for _, g := range st.groups {
		groups = append(groups, &domain.GroupWithCreator{Group: g, Creator: st.principals[g.CreatorID]})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Name != groups[j].Name {
			return groups[i].Name < groups[j].Name
		}
		return groups[i].ID < groups[j].ID
	})
	return groups
}

func (st *state) deleteGroup(id string) error {
	if _, ok := st.groups[id]; !ok {
		return domain.ErrNotFound
	}
	for k := range st.memberships {
		if k.groupID == id {
			delete(st.memberships, k)
		}
	}
	delete(st.groups, id)
	return nil
}

func (s *Store) CreateGroup(ctx context.Context, g *domain.Group) error {
	return s.write(func(st *state) error { return st.createGroup(g) })
}

func (s *Store) GetGroup(ctx context.Context, id string) (g *domain.Group, err error) {
	s.read(func(st *state) { g, err = st.getGroup(id) })
	return g, err
}

func (s *Store) ListGroups(ctx context.Context) (groups []*domain.GroupWithCreator, err error) {
	s.read(func(st *state) { groups = st.listGroups() })
	return groups, nil
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	return s.write(func(st *state) error { return st.deleteGroup(id) })
}

func (t *Tx) CreateGroup(ctx context.Context, g *domain.Group) error {
	return t.st.createGroup(g)
}
func (t *Tx) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	return t.st.getGroup(id)
}
func (t *Tx) ListGroups(ctx context.Context) ([]*domain.GroupWithCreator, error) {
	return t.st.listGroups(), nil
}
func (t *Tx) DeleteGroup(ctx context.Context, id string) error {
	return t.st.deleteGroup(id)
}

// ============================================
// Memberships
// ============================================

func (st *state) createMembership(m *domain.Membership) error {
	if _, ok := st.members[m.MemberID]; !ok {
		return domain.ErrNotFound
	}
	if _, ok := st.groups[m.GroupID]; !ok {
		return domain.ErrNotFound
	}
	key := membershipKey{memberID: m.MemberID, groupID: m.GroupID}
	if _, ok := st.memberships[key]; ok {
		return domain.ErrAlreadyExists
	}
	st.memberships[key] = struct{}{}
	return nil
}

func (st *state) membershipExists(memberID, groupID string) bool {
	_, ok := st.memberships[membershipKey{memberID: memberID, groupID: groupID}]
	return ok
}

func (st *state) deleteMembership(memberID, groupID string) error {
	key := membershipKey{memberID: memberID, groupID: groupID}
	if _, ok := st.memberships[key]; !ok {
		return domain.ErrNotFound
	}
	delete(st.memberships, key)
	return nil
}

func (st *state) countMemberships(memberID string) int {
	count := 0
	for k := range st.memberships {
		if k.memberID == memberID {
			count++
		}
	}
	return count
}

func (st *state) listGroupMembers(groupID string) ([]*domain.Member, error) {
	if _, ok := st.groups[groupID]; !ok {
		return nil, domain.ErrNotFound
	}
	members := []*domain.Member{}
	for k := range st.memberships {
		if k.groupID != groupID {
			continue
		}
		m := st.members[k.memberID]
		members = append(members, &m)
	}
	sortMembers(members)
	return members, nil
}

func sortMembers(members []*domain.Member) {
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		return a.ID < b.ID
	})
}

func (st *state) listGroupMembersWithCreators(groupID string) ([]*domain.MemberWithCreator, error) {
	members, err := st.listGroupMembers(groupID)
	if err != nil {
		return nil, err
	}
	result := make([]*domain.MemberWithCreator, 0, len(members))
	for _, m := range members {
		result = append(result, &domain.MemberWithCreator{
			Member:  *m,
			Creator: st.principals[m.CreatorID],
		})
	}
	return result, nil
}

func (s *Store) CreateMembership(ctx context.Context, m *domain.Membership) error {
	return s.write(func(st *state) error { return st.createMembership(m) })
}

func (s *Store) MembershipExists(ctx context.Context, memberID, groupID string) (ok bool, err error) {
	s.read(func(st *state) { ok = st.membershipExists(memberID, groupID) })
	return ok, nil
}

func (s *Store) DeleteMembership(ctx context.Context, memberID, groupID string) error {
	return s.write(func(st *state) error { return st.deleteMembership(memberID, groupID) })
}

func (s *Store) CountMemberships(ctx context.Context, memberID string) (n int, err error) {
	s.read(func(st *state) { n = st.countMemberships(memberID) })
	return n, nil
}

func (s *Store) ListGroupMembers(ctx context.Context, groupID string) (members []*domain.Member, err error) {
	s.read(func(st *state) { members, err = st.listGroupMembers(groupID) })
	return members, err
}

func (s *Store) ListGroupMembersWithCreators(ctx context.Context, groupID string) (members []*domain.MemberWithCreator, err error) {
	s.read(func(st *state) { members, err = st.listGroupMembersWithCreators(groupID) })
	return members, err
}

func (t *Tx) CreateMembership(ctx context.Context, m *domain.Membership) error {
	return t.st.createMembership(m)
}
func (t *Tx) MembershipExists(ctx context.Context, memberID, groupID string) (bool, error) {
	return t.st.membershipExists(memberID, groupID), nil
}
func (t *Tx) DeleteMembership(ctx context.Context, memberID, groupID string) error {
	return t.st.deleteMembership(memberID, groupID)
}
func (t *Tx) CountMemberships(ctx context.Context, memberID string) (int, error) {
	return t.st.countMemberships(memberID), nil
}
func (t *Tx) ListGroupMembers(ctx context.Context, groupID string) ([]*domain.Member, error) {
	return t.st.listGroupMembers(groupID)
}
func (t *Tx) ListGroupMembersWithCreators(ctx context.Context, groupID string) ([]*domain.MemberWithCreator, error) {
	return t.st.listGroupMembersWithCreators(groupID)
}
