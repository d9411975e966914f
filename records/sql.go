package records

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
)

// Dialect is the SQL flavour of a database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS claim_records (
		id TEXT PRIMARY KEY,
		token_hash TEXT NOT NULL UNIQUE,
		sender TEXT NOT NULL,
		state TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL,
		version BIGINT NOT NULL,
		body TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS claim_records_sender ON claim_records (sender, created_at)`,
	`CREATE INDEX IF NOT EXISTS claim_records_state ON claim_records (state, created_at)`,
}

// SQLStore keeps records in a SQL table. The indexed columns are copies of
// record fields, the record itself is stored as JSON.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore returns a store using an open database. Call Migrate before
// first use.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// OpenSQLStore opens the database and creates the schema.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite"
	case DialectPostgres:
		driver = "postgres"
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown sql dialect %q", dialect)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	if dialect == DialectSQLite {
		// every connection to an in-memory database is a new database
		db.SetMaxOpenConns(1)
	}
	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the table and its indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(errors.ErrNetwork, err.Error())
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders for the dialect.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Create inserts a new record.
func (s *SQLStore) Create(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	save := r.Clone()
	save.Version = 1
	body, err := json.Marshal(save)
	if err != nil {
		return errors.Wrap(errors.ErrModel, err.Error())
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO claim_records
		(id, token_hash, sender, state, amount, created_at, expires_at, version, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		save.ID, TokenHash(save.Token), save.Sender.String(), string(save.State), save.Amount.String(),
		int64(save.CreatedAt), int64(save.ExpiresAt), save.Version, string(body))
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(errors.ErrDuplicate, "record %s", r.ID)
		}
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	r.Version = 1
	return nil
}

// Update replaces the record if its version did not change.
func (s *SQLStore) Update(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	save := r.Clone()
	save.Version = r.Version + 1
	body, err := json.Marshal(save)
	if err != nil {
		return errors.Wrap(errors.ErrModel, err.Error())
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE claim_records
		SET token_hash = ?, state = ?, expires_at = ?, version = ?, body = ?
		WHERE id = ? AND version = ?`),
		TokenHash(save.Token), string(save.State), int64(save.ExpiresAt), save.Version, string(body),
		save.ID, r.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(errors.ErrDuplicate, "token")
		}
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	if n == 0 {
		if _, err := s.GetByID(ctx, r.ID); err != nil {
			return err
		}
		return errors.Wrapf(errors.ErrConflict, "record %s changed since version %d", r.ID, r.Version)
	}
	r.Version = save.Version
	return nil
}

const selectRecord = `SELECT body, version FROM claim_records `

func scanRecord(row interface{ Scan(...interface{}) error }) (*Record, error) {
	var (
		body    string
		version int64
	)
	if err := row.Scan(&body, &version); err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, errors.Wrap(errors.ErrModel, err.Error())
	}
	r.Version = version
	return &r, nil
}

func (s *SQLStore) getOne(ctx context.Context, where string, arg interface{}) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectRecord+where), arg)
	r, err := scanRecord(row)
	switch {
	case err == sql.ErrNoRows:
		return nil, errors.Wrap(errors.ErrNotFound, "record")
	case errors.ErrModel.Is(err):
		return nil, err
	case err != nil:
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	return r, nil
}

// GetByID returns a record.
func (s *SQLStore) GetByID(ctx context.Context, id string) (*Record, error) {
	return s.getOne(ctx, `WHERE id = ?`, id)
}

// GetByToken returns the record a token currently points to.
func (s *SQLStore) GetByToken(ctx context.Context, token string) (*Record, error) {
	return s.getOne(ctx, `WHERE token_hash = ?`, TokenHash(token))
}

// ListBySender returns the records of a sender.
func (s *SQLStore) ListBySender(ctx context.Context, sender claimsend.Address) ([]*Record, error) {
	return s.list(ctx, `WHERE sender = ? ORDER BY created_at, id`, sender.String())
}

// ListByState returns the records in a state.
func (s *SQLStore) ListByState(ctx context.Context, state State) ([]*Record, error) {
	return s.list(ctx, `WHERE state = ? ORDER BY created_at, id`, string(state))
}

func (s *SQLStore) list(ctx context.Context, where string, arg interface{}) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(selectRecord+where), arg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	defer rows.Close()

	var res []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	return res, nil
}
