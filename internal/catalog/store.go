// Package catalog is the durable Catalogue Store: the transactional mapping
// of domain name to domain record and lifecycle state described in spec
// section 4.1. It is backed by modernc.org/sqlite (pure Go, no cgo), the
// driver the pack's jroosing-HydraDNS project uses for the same shape of
// problem — a small, embeddable, relational catalogue.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"authdns/internal/domain"
)

// UpsertOutcome reports whether upsert created a new row or updated one.
type UpsertOutcome int

const (
	Created UpsertOutcome = iota
	Updated
)

// Store is the Catalogue Store. All methods are safe for concurrent use by
// the Synchroniser, Verifier and admin surface; the store never holds a
// transaction open across external I/O.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS domains (
	name             TEXT PRIMARY KEY,
	address          TEXT NOT NULL,
	mail_host        TEXT NOT NULL,
	mx_priority      INTEGER NOT NULL,
	nameservers      TEXT NOT NULL,
	lifecycle_state  INTEGER NOT NULL,
	lifecycle_at     INTEGER,
	lifecycle_since  INTEGER,
	enabled          INTEGER NOT NULL,
	last_verified_at INTEGER,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_domains_enabled ON domains(enabled);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	domain_name TEXT NOT NULL,
	details     TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
`

// Open creates (or reuses) the sqlite database at dsn and ensures the schema
// exists. Schema migrations beyond this bootstrap are out of scope: the
// spec treats relational schema migrations as an external collaborator.
func Open(dsn string, maxOpenConns int) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", dsn, err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type row struct {
	Name            string
	Address         string
	MailHost        string
	MXPriority      int64
	Nameservers     string
	LifecycleState  int64
	LifecycleAt     sql.NullInt64
	LifecycleSince  sql.NullInt64
	Enabled         int64
	LastVerifiedAt  sql.NullInt64
	CreatedAt       int64
	UpdatedAt       int64
}

func toRow(d *domain.Domain) (row, error) {
	ns, err := json.Marshal(d.Nameservers)
	if err != nil {
		return row{}, err
	}
	r := row{
		Name:           d.Name,
		Address:        d.Address.String(),
		MailHost:       d.MailHost,
		MXPriority:     int64(d.MXPriority),
		Nameservers:    string(ns),
		LifecycleState: int64(d.Lifecycle.State),
		Enabled:        boolToInt(d.Enabled),
		CreatedAt:      d.CreatedAt.Unix(),
		UpdatedAt:      d.UpdatedAt.Unix(),
	}
	switch d.Lifecycle.State {
	case domain.Verified, domain.Disabled:
		r.LifecycleAt = sql.NullInt64{Int64: d.Lifecycle.At.Unix(), Valid: true}
	case domain.Grace:
		r.LifecycleSince = sql.NullInt64{Int64: d.Lifecycle.Since.Unix(), Valid: true}
	}
	if d.LastVerifiedAt != nil {
		r.LastVerifiedAt = sql.NullInt64{Int64: d.LastVerifiedAt.Unix(), Valid: true}
	}
	return r, nil
}

func fromRow(r row) (*domain.Domain, error) {
	var ns []string
	if err := json.Unmarshal([]byte(r.Nameservers), &ns); err != nil {
		return nil, fmt.Errorf("%w: nameservers: %v", ErrInvariant, err)
	}
	d := &domain.Domain{
		Name:        r.Name,
		Address:     net.ParseIP(r.Address),
		MailHost:    r.MailHost,
		MXPriority:  uint16(r.MXPriority),
		Nameservers: ns,
		Enabled:     r.Enabled != 0,
		CreatedAt:   time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt:   time.Unix(r.UpdatedAt, 0).UTC(),
	}
	if r.LastVerifiedAt.Valid {
		t := time.Unix(r.LastVerifiedAt.Int64, 0).UTC()
		d.LastVerifiedAt = &t
	}
	switch domain.LifecycleState(r.LifecycleState) {
	case domain.Pending:
		d.Lifecycle = domain.NewPending()
	case domain.Verified:
		d.Lifecycle = domain.NewVerified(time.Unix(r.LifecycleAt.Int64, 0).UTC())
	case domain.Grace:
		d.Lifecycle = domain.NewGrace(time.Unix(r.LifecycleSince.Int64, 0).UTC())
	case domain.Disabled:
		d.Lifecycle = domain.NewDisabled(time.Unix(r.LifecycleAt.Int64, 0).UTC())
	default:
		return nil, fmt.Errorf("%w: unknown lifecycle state %d", ErrInvariant, r.LifecycleState)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	return d, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Upsert is idempotent on name: a second call with identical fields leaves
// the row's lifecycle untouched (it is owned by the Verifier), only
// updated_at advances.
func (s *Store) Upsert(ctx context.Context, d *domain.Domain) (UpsertOutcome, error) {
	d.Name = domain.Canonicalize(d.Name)
	if d.Address == nil || d.Address.To4() == nil {
		return 0, fmt.Errorf("%w: address must be valid IPv4", ErrInvariant)
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.getTx(ctx, tx, d.Name)
	outcome := Updated
	if err == ErrNotFound {
		outcome = Created
		d.CreatedAt = now
		d.UpdatedAt = now
		if d.Lifecycle == (domain.Lifecycle{}) {
			d.Lifecycle = domain.NewPending()
		}
	} else if err != nil {
		return 0, err
	} else {
		// Lifecycle is Verifier-owned: preserve it across upstream upserts.
		d.Lifecycle = existing.Lifecycle
		d.LastVerifiedAt = existing.LastVerifiedAt
		d.CreatedAt = existing.CreatedAt
		d.UpdatedAt = now
	}

	if err := d.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvariant, err)
	}

	r, err := toRow(d)
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO domains (name, address, mail_host, mx_priority, nameservers,
			lifecycle_state, lifecycle_at, lifecycle_since, enabled, last_verified_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			address=excluded.address, mail_host=excluded.mail_host,
			mx_priority=excluded.mx_priority, nameservers=excluded.nameservers,
			enabled=excluded.enabled, updated_at=excluded.updated_at`,
		r.Name, r.Address, r.MailHost, r.MXPriority, r.Nameservers,
		r.LifecycleState, r.LifecycleAt, r.LifecycleSince, r.Enabled, r.LastVerifiedAt,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("catalog: upsert %s: %w", d.Name, err)
	}

	s.auditTx(ctx, tx, "admin", "upsert", d.Name, "")

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("catalog: commit upsert: %w", err)
	}
	return outcome, nil
}

// Existence is the result of Delete: whether a row was actually removed.
type Existence int

const (
	Existed Existence = iota
	Absent
)

func (s *Store) Delete(ctx context.Context, name string) (Existence, error) {
	name = domain.Canonicalize(name)
	res, err := s.db.ExecContext(ctx, `DELETE FROM domains WHERE name = ?`, name)
	if err != nil {
		return Absent, fmt.Errorf("catalog: delete %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	s.audit(ctx, "admin", "delete", name, "")
	if n == 0 {
		return Absent, nil
	}
	return Existed, nil
}

func (s *Store) Get(ctx context.Context, name string) (*domain.Domain, error) {
	return s.getTx(ctx, s.db, domain.Canonicalize(name))
}

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getTx(ctx context.Context, q queryRower, name string) (*domain.Domain, error) {
	var r row
	err := q.QueryRowContext(ctx, `
		SELECT name, address, mail_host, mx_priority, nameservers, lifecycle_state,
			lifecycle_at, lifecycle_since, enabled, last_verified_at, created_at, updated_at
		FROM domains WHERE name = ?`, name).Scan(
		&r.Name, &r.Address, &r.MailHost, &r.MXPriority, &r.Nameservers, &r.LifecycleState,
		&r.LifecycleAt, &r.LifecycleSince, &r.Enabled, &r.LastVerifiedAt, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get %s: %w", name, err)
	}
	return fromRow(r)
}

// ListActive returns every domain with enabled = true. Invariant-violating
// rows are skipped and logged, never surfaced to the caller.
func (s *Store) ListActive(ctx context.Context) ([]*domain.Domain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, address, mail_host, mx_priority, nameservers, lifecycle_state,
			lifecycle_at, lifecycle_since, enabled, last_verified_at, created_at, updated_at
		FROM domains WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list active: %w", err)
	}
	defer rows.Close()

	var out []*domain.Domain
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.Name, &r.Address, &r.MailHost, &r.MXPriority, &r.Nameservers,
			&r.LifecycleState, &r.LifecycleAt, &r.LifecycleSince, &r.Enabled, &r.LastVerifiedAt,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan active row: %w", err)
		}
		d, err := fromRow(r)
		if err != nil {
			log.Printf("catalog: skipping invalid row %s: %v", r.Name, err)
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetLifecycle is conditional on the current row and returns the previous
// lifecycle so control loops can make transition decisions without a
// separate read.
func (s *Store) SetLifecycle(ctx context.Context, name string, next domain.Lifecycle, lastVerifiedAt *time.Time) (domain.Lifecycle, error) {
	name = domain.Canonicalize(name)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lifecycle{}, fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback()

	d, err := s.getTx(ctx, tx, name)
	if err != nil {
		return domain.Lifecycle{}, err
	}
	prev := d.Lifecycle

	d.Lifecycle = next
	if lastVerifiedAt != nil {
		d.LastVerifiedAt = lastVerifiedAt
	}
	d.UpdatedAt = time.Now().UTC()
	if err := d.Validate(); err != nil {
		return domain.Lifecycle{}, fmt.Errorf("%w: %v", ErrInvariant, err)
	}

	r, err := toRow(d)
	if err != nil {
		return domain.Lifecycle{}, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE domains SET lifecycle_state=?, lifecycle_at=?, lifecycle_since=?,
			last_verified_at=?, updated_at=? WHERE name=?`,
		r.LifecycleState, r.LifecycleAt, r.LifecycleSince, r.LastVerifiedAt, r.UpdatedAt, name)
	if err != nil {
		return domain.Lifecycle{}, fmt.Errorf("catalog: set lifecycle %s: %w", name, err)
	}

	s.auditTx(ctx, tx, "verifier", fmt.Sprintf("lifecycle:%s->%s", prev.State, next.State), name, "")

	if err := tx.Commit(); err != nil {
		return domain.Lifecycle{}, fmt.Errorf("catalog: commit lifecycle: %w", err)
	}
	return prev, nil
}

// SetEnabled flips the independent kill-switch without touching lifecycle.
// Used by the Synchroniser to disable domains that dropped out upstream.
func (s *Store) SetEnabled(ctx context.Context, name string, enabled bool) error {
	name = domain.Canonicalize(name)
	_, err := s.db.ExecContext(ctx, `UPDATE domains SET enabled=?, updated_at=? WHERE name=?`,
		boolToInt(enabled), time.Now().UTC().Unix(), name)
	if err != nil {
		return fmt.Errorf("catalog: set enabled %s: %w", name, err)
	}
	s.audit(ctx, "sync", fmt.Sprintf("enabled=%v", enabled), name, "")
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) audit(ctx context.Context, actor, action, name, details string) {
	s.auditTx(ctx, s.db, actor, action, name, details)
}

func (s *Store) auditTx(ctx context.Context, e execer, actor, action, name, details string) {
	_, err := e.ExecContext(ctx, `INSERT INTO audit_log (id, actor, action, domain_name, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, uuid.NewString(), actor, action, name, details, time.Now().UTC().Unix())
	if err != nil {
		log.Printf("catalog: audit log write failed for %s/%s: %v", action, name, err)
	}
}
