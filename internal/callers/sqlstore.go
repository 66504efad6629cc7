package callers

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore persists caller keys in SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStore opens (or creates) a SQLite-backed key store.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "llmrouter-keys.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore opens a Postgres-backed key store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectPostgres}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s store: %w", s.dialect, err)
	}
	timeType := "DATETIME"
	if s.dialect == dialectPostgres {
		timeType = "TIMESTAMPTZ"
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS caller_keys (
	id TEXT PRIMARY KEY,
	secret TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	scopes TEXT NOT NULL,
	created_at %[1]s NOT NULL,
	revoked_at %[1]s NULL,
	expires_at %[1]s NULL,
	use_count BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_caller_keys_secret ON caller_keys(secret);`, timeType)
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize %s store schema: %w", s.dialect, err)
	}
	return nil
}

// rebind converts ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Create implements Store.
func (s *SQLStore) Create(name string, scopes []string, expiresAt *time.Time) (*Key, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeRoute}
	}
	k := &Key{
		ID:        id,
		Secret:    secret,
		Name:      name,
		Scopes:    scopes,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	_, err = s.db.Exec(s.rebind(
		`INSERT INTO caller_keys (id, secret, name, scopes, created_at, revoked_at, expires_at, use_count)
		 VALUES (?, ?, ?, ?, ?, NULL, ?, 0)`),
		k.ID, k.Secret, k.Name, strings.Join(k.Scopes, ","), k.CreatedAt, k.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert caller key: %w", err)
	}
	return k, nil
}

// Validate implements Store.
func (s *SQLStore) Validate(secret string) (*Key, bool) {
	row := s.db.QueryRow(s.rebind(
		`SELECT id, secret, name, scopes, created_at, revoked_at, expires_at, use_count
		 FROM caller_keys WHERE secret = ?`), secret)
	k, err := scanKey(row)
	if err != nil {
		return nil, false
	}
	if !k.Active(time.Now()) {
		return nil, false
	}
	_, _ = s.db.Exec(s.rebind(`UPDATE caller_keys SET use_count = use_count + 1 WHERE id = ?`), k.ID)
	k.UseCount++
	return k, true
}

// List implements Store with secrets masked.
func (s *SQLStore) List() ([]Key, error) {
	rows, err := s.db.Query(
		`SELECT id, secret, name, scopes, created_at, revoked_at, expires_at, use_count
		 FROM caller_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list caller keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k.Masked())
	}
	return out, rows.Err()
}

// Revoke implements Store.
func (s *SQLStore) Revoke(id string) error {
	res, err := s.db.Exec(s.rebind(
		`UPDATE caller_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("revoke caller key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("key not found: %s", id)
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(id string) error {
	res, err := s.db.Exec(s.rebind(`DELETE FROM caller_keys WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete caller key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("key not found: %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*Key, error) {
	var k Key
	var scopes string
	var revokedAt, expiresAt sql.NullTime
	if err := row.Scan(&k.ID, &k.Secret, &k.Name, &scopes, &k.CreatedAt, &revokedAt, &expiresAt, &k.UseCount); err != nil {
		return nil, err
	}
	if scopes != "" {
		k.Scopes = strings.Split(scopes, ",")
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		k.RevokedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		k.ExpiresAt = &t
	}
	return &k, nil
}
