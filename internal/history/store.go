package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages the history database: key-value blobs, sessions and the audit log.
type Store struct {
	db            *sql.DB
	nameGenerator *NameGenerator
}

// NewStore opens (or creates) history.db inside dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	store, err := NewStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithDB wraps an already opened database and applies the schema.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	store := &Store{
		db:            db,
		nameGenerator: NewNameGenerator(),
	}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return store, nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_store (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (namespace, key)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_name TEXT,
		public_key_fingerprint TEXT,
		anonymous_name TEXT,
		remote_addr TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active_at DATETIME,
		is_active INTEGER DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user_name ON sessions(user_name);
	CREATE INDEX IF NOT EXISTS idx_sessions_is_active ON sessions(is_active);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		actor TEXT,
		action TEXT,
		database_name TEXT,
		table_name TEXT,
		details TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
	CREATE INDEX IF NOT EXISTS idx_audit_log_database_name ON audit_log(database_name);
	CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// GenerateAnonymousName generates an anonymous name that no earlier session
// or query log has used, so anonymous users never share a history.
func (s *Store) GenerateAnonymousName() string {
	return s.nameGenerator.Generate(s.anonymousNameTaken)
}

func (s *Store) anonymousNameTaken(name string) bool {
	var n int
	err := s.db.QueryRow(`
		SELECT (SELECT COUNT(*) FROM sessions WHERE anonymous_name = ?)
		     + (SELECT COUNT(*) FROM kv_store WHERE namespace = ?)
	`, name, anonymousPrefix+name).Scan(&n)
	return err == nil && n > 0
}

// KV returns a key-value view scoped to namespace.
func (s *Store) KV(namespace string) KV {
	return &sqliteKV{db: s.db, namespace: namespace}
}

type sqliteKV struct {
	db        *sql.DB
	namespace string
}

func (k *sqliteKV) Get(key string) ([]byte, error) {
	var value []byte
	err := k.db.QueryRow(`SELECT value FROM kv_store WHERE namespace = ? AND key = ?`, k.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

func (k *sqliteKV) Put(key string, value []byte) error {
	_, err := k.db.Exec(`
		INSERT INTO kv_store (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, k.namespace, key, value, time.Now())
	return err
}

func (k *sqliteKV) Delete(key string) error {
	_, err := k.db.Exec(`DELETE FROM kv_store WHERE namespace = ? AND key = ?`, k.namespace, key)
	return err
}

// CreateSession creates a new session record.
func (s *Store) CreateSession(session *Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, user_name, public_key_fingerprint, anonymous_name, remote_addr, created_at, last_active_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, session.ID, nullString(session.UserName), nullString(session.PublicKeyFingerprint),
		nullString(session.AnonymousName), session.RemoteAddr, session.CreatedAt, session.LastActiveAt, session.IsActive)

	return err
}

// UpdateSessionActivity updates the last active time for a session.
func (s *Store) UpdateSessionActivity(sessionID string) error {
	_, err := s.db.Exec(`UPDATE sessions SET last_active_at = ? WHERE id = ?`, time.Now(), sessionID)
	return err
}

// EndSession marks a session as inactive.
func (s *Store) EndSession(sessionID string) error {
	_, err := s.db.Exec(`UPDATE sessions SET is_active = 0, last_active_at = ? WHERE id = ?`, time.Now(), sessionID)
	return err
}

// ListSessions lists sessions, most recently active first.
func (s *Store) ListSessions(activeOnly bool, limit int) ([]*Session, error) {
	query := `
		SELECT id, user_name, public_key_fingerprint, anonymous_name, remote_addr, created_at, last_active_at, is_active
		FROM sessions
	`
	args := make([]any, 0)

	if activeOnly {
		query += " WHERE is_active = 1"
	}

	query += " ORDER BY last_active_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var session Session
		var userName, pkFP, anonName sql.NullString
		var isActive int

		err := rows.Scan(&session.ID, &userName, &pkFP, &anonName, &session.RemoteAddr,
			&session.CreatedAt, &session.LastActiveAt, &isActive)
		if err != nil {
			return nil, err
		}

		session.UserName = userName.String
		session.PublicKeyFingerprint = pkFP.String
		session.AnonymousName = anonName.String
		session.IsActive = isActive == 1

		sessions = append(sessions, &session)
	}

	return sessions, rows.Err()
}

// RecordAudit records an audit log entry.
func (s *Store) RecordAudit(record *AuditRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO audit_log (session_id, actor, action, database_name, table_name, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, nullString(record.SessionID), record.Actor, record.Action, nullString(record.Database),
		nullString(record.Table), nullString(record.Details), record.CreatedAt)

	return err
}

// RecordAuditSimple records an audit entry with details encoded as JSON.
func (s *Store) RecordAuditSimple(sessionID, actor, action, database, table string, details map[string]any) error {
	var detailsJSON string
	if details != nil {
		data, err := json.Marshal(details)
		if err == nil {
			detailsJSON = string(data)
		}
	}

	return s.RecordAudit(&AuditRecord{
		SessionID: sessionID,
		Actor:     actor,
		Action:    action,
		Database:  database,
		Table:     table,
		Details:   detailsJSON,
		CreatedAt: time.Now(),
	})
}

// AuditFilter narrows ListAuditLog. Zero fields match everything.
type AuditFilter struct {
	Actor    string
	Action   string
	Database string
	Since    time.Time
	Limit    int
}

// ListAuditLog lists audit log entries, newest first.
func (s *Store) ListAuditLog(f AuditFilter) ([]*AuditRecord, error) {
	query := "SELECT id, session_id, actor, action, database_name, table_name, details, created_at FROM audit_log WHERE 1=1"
	args := make([]any, 0)

	if f.Actor != "" {
		query += " AND actor = ?"
		args = append(args, f.Actor)
	}

	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, f.Action)
	}

	if f.Database != "" {
		query += " AND database_name = ?"
		args = append(args, f.Database)
	}

	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, f.Since)
	}

	query += " ORDER BY created_at DESC, id DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*AuditRecord
	for rows.Next() {
		var record AuditRecord
		var sessionID, database, table, details sql.NullString

		err := rows.Scan(&record.ID, &sessionID, &record.Actor, &record.Action, &database,
			&table, &details, &record.CreatedAt)
		if err != nil {
			return nil, err
		}

		record.SessionID = sessionID.String
		record.Database = database.String
		record.Table = table.String
		record.Details = details.String
		records = append(records, &record)
	}

	return records, rows.Err()
}

// nullString converts an empty string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
