package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createMessagesPgSQL = `
CREATE TABLE IF NOT EXISTS messages (
	message_id TEXT PRIMARY KEY,
	from_msisdn TEXT NOT NULL,
	to_msisdn TEXT NOT NULL,
	ts TEXT NOT NULL,
	text TEXT,
	created_at TEXT NOT NULL
)`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createMessagesPgSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, msg Message) (InsertResult, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages (message_id, from_msisdn, to_msisdn, ts, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id) DO NOTHING
	`, msg.MessageID, msg.From, msg.To, msg.Timestamp, msg.Text, msg.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("%w: insert: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return Duplicate, nil
	}
	return Created, nil
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) (Page, error) {
	where := ""
	args := []any{}
	if f.From != "" {
		where = " WHERE from_msisdn = $1"
		args = append(args, f.From)
	}
	if f.Since != "" {
		if where == "" {
			where = " WHERE ts >= $1"
		} else {
			where += " AND ts >= $2"
		}
		args = append(args, f.Since)
	}

	rows, err := s.pool.Query(ctx, `
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
		if err := rows.Scan(&m.MessageID, &m.From, &m.To, &m.Timestamp, &m.Text); err != nil {
			return Page{}, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}

	return paginate(matchQuery(out, f.Query), f.Limit, f.Offset), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (StatsSnapshot, error) {
	var snap StatsSnapshot

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(DISTINCT from_msisdn) FROM messages`).
		Scan(&snap.TotalMessages, &snap.SendersCount); err != nil {
		return StatsSnapshot{}, fmt.Errorf("%w: stats: %v", ErrUnavailable, err)
	}

	rows, err := s.pool.Query(ctx, `
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

	if err := s.pool.QueryRow(ctx, `SELECT MIN(ts), MAX(ts) FROM messages`).
		Scan(&snap.FirstMessageTS, &snap.LastMessageTS); err != nil {
		return StatsSnapshot{}, fmt.Errorf("%w: stats: %v", ErrUnavailable, err)
	}
	return snap, nil
}
