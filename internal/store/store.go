package store

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable marks any backing-store failure. Callers map it to a
// service-unavailable response instead of retrying here.
var ErrUnavailable = errors.New("message store unavailable")

type InsertResult int

const (
	Created InsertResult = iota
	Duplicate
)

// Message is a stored inbound message. Timestamps are RFC3339 strings so
// ordering and range filters reduce to lexical comparison.
type Message struct {
	MessageID string
	From      string
	To        string
	Timestamp string
	Text      *string
	CreatedAt string
}

type ListFilter struct {
	Limit  int
	Offset int
	From   string
	Since  string
	Query  string
}

type Page struct {
	Messages []Message
	Total    int
}

type SenderCount struct {
	From  string
	Count int
}

type StatsSnapshot struct {
	TotalMessages  int
	SendersCount   int
	TopSenders     []SenderCount
	FirstMessageTS *string
	LastMessageTS  *string
}

type MessageStore interface {
	Insert(ctx context.Context, msg Message) (InsertResult, error)
	List(ctx context.Context, f ListFilter) (Page, error)
	Stats(ctx context.Context) (StatsSnapshot, error)
	Ping(ctx context.Context) error
}

// Open selects a backend from the DATABASE_URL form: postgres URLs get the
// pgx pool, anything else is treated as a sqlite file path (with an optional
// sqlite:// prefix).
func Open(ctx context.Context, databaseURL string) (MessageStore, func(), error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		s, err := OpenPostgres(ctx, databaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	path := strings.TrimPrefix(databaseURL, "sqlite:///")
	path = strings.TrimPrefix(path, "sqlite://")
	s, err := OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// matchQuery and paginate implement the shared tail of List for both
// backends: the substring filter runs in-process over the SQL-filtered set,
// total is counted after it, and limit/offset slice last. Doing it any other
// way makes total wrong.
func matchQuery(rows []Message, query string) []Message {
	if query == "" {
		return rows
	}
	q := strings.ToLower(query)
	out := make([]Message, 0, len(rows))
	for _, m := range rows {
		if m.Text == nil {
			continue
		}
		if strings.Contains(strings.ToLower(*m.Text), q) {
			out = append(out, m)
		}
	}
	return out
}

func paginate(rows []Message, limit, offset int) Page {
	total := len(rows)
	lo := offset
	if lo < 0 {
		lo = 0
	}
	if lo > total {
		lo = total
	}
	hi := lo + limit
	if hi > total {
		hi = total
	}
	return Page{Messages: rows[lo:hi], Total: total}
}
