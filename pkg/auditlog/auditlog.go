// Package auditlog persists the server's security events to SQLite so
// rejected handshakes, authentication failures, and replayed packets
// survive restarts and can be reviewed after the fact.
package auditlog

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kretoffer/obscuraproto/pkg/network"
)

// StoredEvent is one audit record as read back from the store.
type StoredEvent struct {
	ID     int64
	Time   time.Time
	Conn   uint64
	Remote string
	Kind   string
	Detail string
}

// Store is an append-mostly SQLite store of security events. Safe for
// concurrent use; database/sql serializes access to the connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the audit store at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %v", err)
	}

	// WAL keeps readers from blocking the event writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS security_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at INTEGER NOT NULL,
		conn_id INTEGER NOT NULL,
		remote TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON security_events(occurred_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON security_events(kind);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}
	return nil
}

// Record appends one security event. Suitable as a server security
// event handler.
func (s *Store) Record(ev network.SecurityEvent) {
	_, err := s.db.Exec(
		`INSERT INTO security_events (occurred_at, conn_id, remote, kind, detail) VALUES (?, ?, ?, ?, ?)`,
		ev.Time.Unix(), uint64(ev.Conn), ev.Remote, string(ev.Kind), ev.Detail,
	)
	if err != nil {
		// Auditing must never take the server down with it.
		log.Printf("auditlog: failed to record event: %v", err)
	}
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(limit int) ([]StoredEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, occurred_at, conn_id, remote, kind, detail
		 FROM security_events ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			ev   StoredEvent
			unix int64
		)
		if err := rows.Scan(&ev.ID, &unix, &ev.Conn, &ev.Remote, &ev.Kind, &ev.Detail); err != nil {
			return nil, err
		}
		ev.Time = time.Unix(unix, 0)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountByKind returns the number of stored events per kind.
func (s *Store) CountByKind() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM security_events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			kind  string
			count int64
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[kind] = count
	}
	return counts, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
