package sql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// isTxContention reports lock contention and serialization failures.
func isTxContention(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
	}
	return false
}

// wrapTxError converts contention errors to domain.ErrTransaction.
func wrapTxError(err error) error {
	if err != nil && isTxContention(err) {
		return fmt.Errorf("%w: %v", domain.ErrTransaction, err)
	}
	return err
}

// txErrorDB wraps a dbInterface so every statement reports contention as
// domain.ErrTransaction.
type txErrorDB struct {
	dbInterface
}

func (d txErrorDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := d.dbInterface.ExecContext(ctx, query, args...)
	return result, wrapTxError(err)
}

func (d txErrorDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return wrapTxError(d.dbInterface.GetContext(ctx, dest, query, args...))
}

func (d txErrorDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return wrapTxError(d.dbInterface.SelectContext(ctx, dest, query, args...))
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	q      dbInterface
	driver string
}

var _ storage.Storage = (*Store)(nil)

// New creates a new SQL store and applies pending migrations.
func New(driver, dsn string) (*Store, error) {
	if driver == "sqlite3" {
		dsn = withSQLiteParams(dsn)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Run migrations
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	log.Debug().Str("driver", driver).Msg("database migrated")

	return &Store{db: db, q: txErrorDB{db}, driver: driver}, nil
}

// withSQLiteParams enables foreign keys and makes transactions take the write
// lock at BEGIN, so concurrent writers wait on the busy timeout instead of
// failing mid-transaction. Parameters already present in dsn are kept.
func withSQLiteParams(dsn string) string {
	for _, param := range []string{"_foreign_keys=on", "_txlock=immediate"} {
		name, _, _ := strings.Cut(param, "=")
		if strings.Contains(dsn, name+"=") {
			continue
		}
		if strings.Contains(dsn, "?") {
			dsn += "&" + param
		} else {
			dsn += "?" + param
		}
	}
	return dsn
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapTxError(err)
	}
	return &Tx{tx: tx, q: txErrorDB{tx}, driver: s.driver}, nil
}

// withTx runs fn inside a short-lived transaction for operations that must be
// atomic even when called outside a caller-managed transaction.
func (s *Store) withTx(ctx context.Context, fn func(db dbInterface) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapTxError(err)
	}
	if err := fn(txErrorDB{tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransaction, err)
	}
	return nil
}

// Tx wraps a database transaction.
type Tx struct {
	tx     *sqlx.Tx
	q      dbInterface
	driver string
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Close is a no-op for transactions (they should be committed or rolled back).
func (t *Tx) Close() error {
	return nil
}

// Ping is a no-op inside a transaction.
func (t *Tx) Ping(ctx context.Context) error {
	return nil
}

// BeginTx is not supported within a transaction.
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

// helper to get the correct database interface
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ============================================
// Principals
// ============================================

const principalColumns = `id, email, handle, created_at, updated_at`

func createPrincipal(ctx context.Context, db dbInterface, p *domain.Principal) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO principals (id, email, handle, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Email, p.Handle, p.CreatedAt, p.UpdatedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreatePrincipal(ctx context.Context, p *domain.Principal) error {
	return createPrincipal(ctx, s.q, p)
}

func (t *Tx) CreatePrincipal(ctx context.Context, p *domain.Principal) error {
	return createPrincipal(ctx, t.q, p)
}

func getPrincipalWhere(ctx context.Context, db dbInterface, column, value string) (*domain.Principal, error) {
	var p domain.Principal
	err := db.GetContext(ctx, &p,
		`SELECT `+principalColumns+` FROM principals WHERE `+column+` = $1`, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPrincipal(ctx context.Context, id string) (*domain.Principal, error) {
	return getPrincipalWhere(ctx, s.q, "id", id)
}

func (t *Tx) GetPrincipal(ctx context.Context, id string) (*domain.Principal, error) {
	return getPrincipalWhere(ctx, t.q, "id", id)
}

func (s *Store) GetPrincipalByHandle(ctx context.Context, handle string) (*domain.Principal, error) {
	return getPrincipalWhere(ctx, s.q, "handle", handle)
}

func (t *Tx) GetPrincipalByHandle(ctx context.Context, handle string) (*domain.Principal, error) {
	return getPrincipalWhere(ctx, t.q, "handle", handle)
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	return getPrincipalWhere(ctx, s.q, "email", email)
}

func (t *Tx) GetPrincipalByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	return getPrincipalWhere(ctx, t.q, "email", email)
}

// findPrincipal returns the principal matching handle or email, preferring a
// handle match when two different rows match.
func findPrincipal(ctx context.Context, db dbInterface, handle, email string) (*domain.Principal, error) {
	var matches []*domain.Principal
	err := db.SelectContext(ctx, &matches,
		`SELECT `+principalColumns+` FROM principals WHERE handle = $1 OR email = $2`, handle, email)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, domain.ErrNotFound
	}
	for _, p := range matches {
		if p.Handle == handle {
			return p, nil
		}
	}
	return matches[0], nil
}

func (s *Store) FindPrincipal(ctx context.Context, handle, email string) (*domain.Principal, error) {
	return findPrincipal(ctx, s.q, handle, email)
}

func (t *Tx) FindPrincipal(ctx context.Context, handle, email string) (*domain.Principal, error) {
	return findPrincipal(ctx, t.q, handle, email)
}

func updatePrincipal(ctx context.Context, db dbInterface, p *domain.Principal) error {
	p.UpdatedAt = time.Now()
	result, err := db.ExecContext(ctx,
		`UPDATE principals SET email = $1, handle = $2, updated_at = $3 WHERE id = $4`,
		p.Email, p.Handle, p.UpdatedAt, p.ID)
	if err != nil {
		return wrapUniqueError(err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdatePrincipal(ctx context.Context, p *domain.Principal) error {
	return updatePrincipal(ctx, s.q, p)
}

func (t *Tx) UpdatePrincipal(ctx context.Context, p *domain.Principal) error {
	return updatePrincipal(ctx, t.q, p)
}

// ============================================
// Members
// ============================================

const memberColumns = `id, first_name, last_name, creator_id, created_at`

func createMember(ctx context.Context, db dbInterface, m *domain.Member) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO members (id, first_name, last_name, creator_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.FirstName, m.LastName, m.CreatorID, m.CreatedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateMember(ctx context.Context, m *domain.Member) error {
	return createMember(ctx, s.q, m)
}

func (t *Tx) CreateMember(ctx context.Context, m *domain.Member) error {
	return createMember(ctx, t.q, m)
}

func getMember(ctx context.Context, db dbInterface, id string) (*domain.Member, error) {
	var m domain.Member
	err := db.GetContext(ctx, &m,
		`SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	return getMember(ctx, s.q, id)
}

func (t *Tx) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	return getMember(ctx, t.q, id)
}

// GetMemberForUpdate outside a transaction is a plain read.
func (s *Store) GetMemberForUpdate(ctx context.Context, id string) (*domain.Member, error) {
	return getMember(ctx, s.q, id)
}

// GetMemberForUpdate reads the member and holds its row lock until the
// transaction ends. On SQLite the transaction already owns the write lock
// (_txlock=immediate).
func (t *Tx) GetMemberForUpdate(ctx context.Context, id string) (*domain.Member, error) {
	if t.driver != "postgres" {
		return getMember(ctx, t.q, id)
	}
	var m domain.Member
	err := t.q.GetContext(ctx, &m,
		`SELECT `+memberColumns+` FROM members WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func listMembers(ctx context.Context, db dbInterface) ([]*domain.Member, error) {
	members := []*domain.Member{}
	err := db.SelectContext(ctx, &members,
		`SELECT `+memberColumns+` FROM members ORDER BY last_name, first_name, id`)
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Store) ListMembers(ctx context.Context) ([]*domain.Member, error) {
	return listMembers(ctx, s.q)
}

func (t *Tx) ListMembers(ctx context.Context) ([]*domain.Member, error) {
	return listMembers(ctx, t.q)
}

func deleteMember(ctx context.Context, db dbInterface, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM memberships WHERE member_id = $1`, id); err != nil {
		return err
	}
	result, err := db.ExecContext(ctx, `DELETE FROM members WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMember(ctx context.Context, id string) error {
	return s.withTx(ctx, func(db dbInterface) error {
		return deleteMember(ctx, db, id)
	})
}

func (t *Tx) DeleteMember(ctx context.Context, id string) error {
	return deleteMember(ctx, t.q, id)
}

// ============================================
// Groups
// ============================================

const groupColumns = `id, name, creator_id, created_at`

func createGroup(ctx context.Context, db dbInterface, g *domain.Group) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO groups (id, name, creator_id, created_at)
		 VALUES ($1, $2, $3, $4)`,
		g.ID, g.Name, g.CreatorID, g.CreatedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateGroup(ctx context.Context, g *domain.Group) error {
	return createGroup(ctx, s.q, g)
}

func (t *Tx) CreateGroup(ctx context.Context, g *domain.Group) error {
	return createGroup(ctx, t.q, g)
}

func getGroup(ctx context.Context, db dbInterface, id string) (*domain.Group, error) {
	var g domain.Group
	err := db.GetContext(ctx, &g,
		`SELECT `+groupColumns+` FROM groups WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	return getGroup(ctx, s.q, id)
}

func (t *Tx) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	return getGroup(ctx, t.q, id)
}

func listGroups(ctx context.Context, db dbInterface) ([]*domain.GroupWithCreator, error) {
	groups := []*domain.GroupWithCreator{}
	err := db.SelectContext(ctx, &groups,
		`SELECT g.id, g.name, g.creator_id, g.created_at,
		        p.id AS "creator.id", p.email AS "creator.email", p.handle AS "creator.handle",
		        p.created_at AS "creator.created_at", p.updated_at AS "creator.updated_at"
		 FROM groups g
		 JOIN principals p ON p.id = g.creator_id
		 ORDER BY g.name, g.id`)
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]*domain.GroupWithCreator, error) {
	return listGroups(ctx, s.q)
}

func (t *Tx) ListGroups(ctx context.Context) ([]*domain.GroupWithCreator, error) {
	return listGroups(ctx, t.q)
}

func deleteGroup(ctx context.Context, db dbInterface, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM memberships WHERE group_id = $1`, id); err != nil {
		return err
	}
	result, err := db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	return s.withTx(ctx, func(db dbInterface) error {
		return deleteGroup(ctx, db, id)
	})
}

func (t *Tx) DeleteGroup(ctx context.Context, id string) error {
	return deleteGroup(ctx, t.q, id)
}

// ============================================
// Memberships
// ============================================

func createMembership(ctx context.Context, db dbInterface, m *domain.Membership) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO memberships (member_id, group_id) VALUES ($1, $2)`,
		m.MemberID, m.GroupID)
	return wrapUniqueError(err)
}

func (s *Store) CreateMembership(ctx context.Context, m *domain.Membership) error {
	return createMembership(ctx, s.q, m)
}

func (t *Tx) CreateMembership(ctx context.Context, m *domain.Membership) error {
	return createMembership(ctx, t.q, m)
}

func membershipExists(ctx context.Context, db dbInterface, memberID, groupID string) (bool, error) {
	var count int
	err := db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM memberships WHERE member_id = $1 AND group_id = $2`, memberID, groupID)
	return count > 0, err
}

func (s *Store) MembershipExists(ctx context.Context, memberID, groupID string) (bool, error) {
	return membershipExists(ctx, s.q, memberID, groupID)
}

func (t *Tx) MembershipExists(ctx context.Context, memberID, groupID string) (bool, error) {
	return membershipExists(ctx, t.q, memberID, groupID)
}

func deleteMembership(ctx context.Context, db dbInterface, memberID, groupID string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM memberships WHERE member_id = $1 AND group_id = $2`, memberID, groupID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMembership(ctx context.Context, memberID, groupID string) error {
	return deleteMembership(ctx, s.q, memberID, groupID)
}

func (t *Tx) DeleteMembership(ctx context.Context, memberID, groupID string) error {
	return deleteMembership(ctx, t.q, memberID, groupID)
}

func countMemberships(ctx context.Context, db dbInterface, memberID string) (int, error) {
	var count int
	err := db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM memberships WHERE member_id = $1`, memberID)
	return count, err
}

func (s *Store) CountMemberships(ctx context.Context, memberID string) (int, error) {
	return countMemberships(ctx, s.q, memberID)
}

func (t *Tx) CountMemberships(ctx context.Context, memberID string) (int, error) {
	return countMemberships(ctx, t.q, memberID)
}

func listGroupMembers(ctx context.Context, db dbInterface, groupID string) ([]*domain.Member, error) {
	if _, err := getGroup(ctx, db, groupID); err != nil {
		return nil, err
	}
	members := []*domain.Member{}
	err := db.SelectContext(ctx, &members,
		`SELECT m.id, m.first_name, m.last_name, m.creator_id, m.created_at
		 FROM members m
		 JOIN memberships gm ON gm.member_id = m.id
		 WHERE gm.group_id = $1
		 ORDER BY m.last_name, m.first_name, m.id`, groupID)
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Store) ListGroupMembers(ctx context.Context, groupID string) ([]*domain.Member, error) {
	return listGroupMembers(ctx, s.q, groupID)
}

func (t *Tx) ListGroupMembers(ctx context.Context, groupID string) ([]*domain.Member, error) {
	return listGroupMembers(ctx, t.q, groupID)
}

func listGroupMembersWithCreators(ctx context.Context, db dbInterface, groupID string) ([]*domain.MemberWithCreator, error) {
	if _, err := getGroup(ctx, db, groupID); err != nil {
		return nil, err
	}
	members := []*domain.MemberWithCreator{}
	err := db.SelectContext(ctx, &members,
		`SELECT m.id, m.first_name, m.last_name, m.creator_id, m.created_at,
		        p.id AS "creator.id", p.email AS "creator.email", p.handle AS "creator.handle",
		        p.created_at AS "creator.created_at", p.updated_at AS "creator.updated_at"
		 FROM members m
		 JOIN memberships gm ON gm.member_id = m.id
		 JOIN principals p ON p.id = m.creator_id
		 WHERE gm.group_id = $1
		 ORDER BY m.last_name, m.first_name, m.id`, groupID)
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Store) ListGroupMembersWithCreators(ctx context.Context, groupID string) ([]*domain.MemberWithCreator, error) {
	return listGroupMembersWithCreators(ctx, s.q, groupID)
}

func (t *Tx) ListGroupMembersWithCreators(ctx context.Context, groupID string) ([]*domain.MemberWithCreator, error) {
	return listGroupMembersWithCreators(ctx, t.q, groupID)
}
