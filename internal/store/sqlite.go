package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const createMessagesSQL = `
CREATE TABLE IF NOT EXISTS messages (
	message_id TEXT PRIMARY KEY,
	from_msisdn TEXT NOT NULL,
	to_msisdn TEXT NOT NULL,
	ts TEXT NOT NULL,
	text TEXT,
	created_at TEXT NOT NULL
)`

// SQLiteStore is the default backend, a single-file database suitable for the
// target data volumes.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// WAL so concurrent readers do not block the writer; busy_timeout so
	// parallel deliveries wait for the write lock instead of failing.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(createMessagesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Insert relies on the primary key for idempotency: INSERT OR IGNORE either
// creates the row or leaves the existing one untouched, so concurrent
// duplicate deliveries resolve inside the database.
func (s *SQLiteStore) Insert(ctx context.Context, msg Message) (InsertResult, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (message_id, from_msisdn, to_msisdn, ts, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.MessageID, msg.From, msg.To, msg.Timestamp, msg.Text, msg.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("%w: insert: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: insert: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return Duplicate, nil
	}
	return Created, nil
}

func (s *SQLiteStore) List(ctx context.Context, f ListFilter) (Page, error) {
	where := ""
	args := []any{}
	if f.From != "" {
		where = " WHERE from_msisdn = ?"
		args = append(args, f.From)
	}
	if f.Since != "" {
		if where == "" {
			where = " WHERE ts >= ?"
		} else {
			where += " AND ts >= ?"
		}
		args = append(args, f.Since)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, from_msisdn, to_msisdn, ts, text
		FROM messages`+where+`
		ORDER BY ts ASC, message_id ASC
	`, args...)
	if err != nil {
		return Page{}, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var text sql.NullString
		if err := rows.Scan(&m.MessageID, &m.From, &m.To, &m.Timestamp, &text); err != nil {
			return Page{}, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
		}
		if text.Valid {
			t := text.String
			m.Text = &t
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}

	return paginate(matchQuery(out, f.Query), f.Limit, f.Offset), nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (StatsSnapshot, error) {
	var snap StatsSnapshot

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT from_msisdn) FROM messages`).
		Scan(&snap.TotalMessages, &snap.SendersCount); err != nil {
		return StatsSnapshot{}, fmt.Errorf("%w: stats: %v", ErrUnavailable, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT from_msisdn, COUNT(*) AS c
		FROM messages
		GROUP BY from_msisdn
		ORDER BY c DESC, from_msisdn ASC
		LIMIT 10
	`)
	if err != nil {
		return StatsSnapshot{}, fmt.Errorf("%w: stats: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc SenderCount
		if err := rows.Scan(&sc.From, &sc.Count); err != nil {
			return StatsSnapshot{}, fmt.Errorf("%w: stats: %v", ErrUnavailable, err)
		}
		snap.TopSenders = append(snap.TopSenders, sc)
	}
	if err := rows.Err(); err != nil {
		return StatsSnapshot{}, fmt.Errorf("%w: stats: %v", ErrUnavailable, err)
	}

	var first, last sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(ts), MAX(ts) FROM messages`).Scan(&first, &last); err != nil {
		return StatsSnapshot{}, fmt.Errorf("%w: stats: %v", ErrUnavailable, err)
	}
	if first.Valid {
		snap.FirstMessageTS = &first.String
	}
	if last.Valid {
		snap.LastMessageTS = &last.String
	}
	return snap, nil
}
