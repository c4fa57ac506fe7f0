package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func msg(id, from, ts string, text *string) Message {
	return Message{
		MessageID: id,
		From:      from,
		To:        "+14155550100",
		Timestamp: ts,
		Text:      text,
		CreatedAt: "2025-01-15T12:00:00Z",
	}
}

func strptr(s string) *string { return &s }

func mustInsert(t *testing.T, s *SQLiteStore, m Message) {
	t.Helper()
	if _, err := s.Insert(context.Background(), m); err != nil {
		t.Fatalf("insert %s: %v", m.MessageID, err)
	}
}

func TestInsertIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := msg("m1", "+919876543210", "2025-01-15T10:00:00Z", strptr("Hello"))

	res, err := s.Insert(ctx, m)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if res != Created {
		t.Fatalf("first insert: got %v, want Created", res)
	}

	res, err = s.Insert(ctx, m)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if res != Duplicate {
		t.Fatalf("second insert: got %v, want Duplicate", res)
	}

	page, err := s.List(ctx, ListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 || len(page.Messages) != 1 {
		t.Fatalf("expected exactly one row, got total=%d len=%d", page.Total, len(page.Messages))
	}
}

func TestConcurrentDuplicateInserts(t *testing.T) {
	s := openTestStore(t)
	m := msg("race", "+10000000001", "2025-01-15T10:00:00Z", nil)

	const n = 20
	results := make([]InsertResult, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Insert(context.Background(), m)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("insert %d: %v", i, errs[i])
		}
		if results[i] == Created {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one Created, got %d", created)
	}

	page, err := s.List(context.Background(), ListFilter{Limit: 100})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected one row after race, got %d", page.Total)
	}
}

func TestListOrderingDeterministic(t *testing.T) {
	s := openTestStore(t)
	// Same timestamp for b/a to exercise the message_id tie-break; insert out
	// of order on purpose.
	mustInsert(t, s, msg("b", "+1", "2025-01-15T10:00:00Z", nil))
	mustInsert(t, s, msg("z", "+1", "2025-01-15T09:00:00Z", nil))
	mustInsert(t, s, msg("a", "+1", "2025-01-15T10:00:00Z", nil))

	want := []string{"z", "a", "b"}
	for i := 0; i < 5; i++ {
		page, err := s.List(context.Background(), ListFilter{Limit: 10})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page.Messages) != len(want) {
			t.Fatalf("got %d rows, want %d", len(page.Messages), len(want))
		}
		for j, id := range want {
			if page.Messages[j].MessageID != id {
				t.Fatalf("position %d: got %s, want %s", j, page.Messages[j].MessageID, id)
			}
		}
	}
}

func TestListPagination(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 7; i++ {
		mustInsert(t, s, msg(fmt.Sprintf("m%d", i), "+1", fmt.Sprintf("2025-01-15T10:00:0%dZ", i), nil))
	}
	ctx := context.Background()

	cases := []struct {
		limit, offset, wantLen int
	}{
		{limit: 3, offset: 0, wantLen: 3},
		{limit: 3, offset: 3, wantLen: 3},
		{limit: 3, offset: 6, wantLen: 1},
		{limit: 3, offset: 7, wantLen: 0},
		{limit: 3, offset: 100, wantLen: 0},
		{limit: 100, offset: 0, wantLen: 7},
	}
	for _, tc := range cases {
		page, err := s.List(ctx, ListFilter{Limit: tc.limit, Offset: tc.offset})
		if err != nil {
			t.Fatalf("list limit=%d offset=%d: %v", tc.limit, tc.offset, err)
		}
		if page.Total != 7 {
			t.Errorf("limit=%d offset=%d: total=%d, want 7", tc.limit, tc.offset, page.Total)
		}
		if len(page.Messages) != tc.wantLen {
			t.Errorf("limit=%d offset=%d: len=%d, want %d", tc.limit, tc.offset, len(page.Messages), tc.wantLen)
		}
	}
}

func TestListFilters(t *testing.T) {
	s := openTestStore(t)
	mustInsert(t, s, msg("m1", "+911234567890", "2025-01-15T09:00:00Z", strptr("Earlier")))
	mustInsert(t, s, msg("m2", "+919876543210", "2025-01-15T10:00:00Z", strptr("Hello world")))
	mustInsert(t, s, msg("m3", "+919876543210", "2025-01-15T11:00:00Z", nil))
	ctx := context.Background()

	page, err := s.List(ctx, ListFilter{Limit: 10, From: "+919876543210"})
	if err != nil {
		t.Fatalf("list from: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("from filter: total=%d, want 2", page.Total)
	}
	for _, m := range page.Messages {
		if m.From != "+919876543210" {
			t.Errorf("from filter leaked sender %s", m.From)
		}
	}

	page, err = s.List(ctx, ListFilter{Limit: 10, Since: "2025-01-15T10:00:00Z"})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("since filter: total=%d, want 2 (inclusive bound)", page.Total)
	}

	// Conjunctive: from + since + q.
	page, err = s.List(ctx, ListFilter{Limit: 10, From: "+919876543210", Since: "2025-01-15T10:00:00Z", Query: "hello"})
	if err != nil {
		t.Fatalf("list combined: %v", err)
	}
	if page.Total != 1 || page.Messages[0].MessageID != "m2" {
		t.Errorf("combined filters: got total=%d, want just m2", page.Total)
	}
}

func TestListSubstringSearch(t *testing.T) {
	s := openTestStore(t)
	mustInsert(t, s, msg("m1", "+1", "2025-01-15T10:00:00Z", strptr("Hello world")))
	mustInsert(t, s, msg("m2", "+1", "2025-01-15T11:00:00Z", nil))
	ctx := context.Background()

	cases := []struct {
		q    string
		want int
	}{
		{q: "hello", want: 1},
		{q: "WORLD", want: 1},
		{q: "xyz", want: 0},
		{q: "", want: 2},
	}
	for _, tc := range cases {
		page, err := s.List(ctx, ListFilter{Limit: 10, Query: tc.q})
		if err != nil {
			t.Fatalf("list q=%q: %v", tc.q, err)
		}
		if page.Total != tc.want {
			t.Errorf("q=%q: total=%d, want %d", tc.q, page.Total, tc.want)
		}
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snap, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats on empty store: %v", err)
	}
	if snap.TotalMessages != 0 || snap.SendersCount != 0 {
		t.Fatalf("empty store: got total=%d senders=%d", snap.TotalMessages, snap.SendersCount)
	}
	if snap.FirstMessageTS != nil || snap.LastMessageTS != nil {
		t.Fatalf("empty store: timestamps should be nil")
	}

	// Sender A: 3 messages, sender B: 1.
	mustInsert(t, s, msg("a1", "+100", "2025-01-15T09:00:00Z", nil))
	mustInsert(t, s, msg("a2", "+100", "2025-01-15T10:00:00Z", nil))
	mustInsert(t, s, msg("a3", "+100", "2025-01-15T11:00:00Z", nil))
	mustInsert(t, s, msg("b1", "+200", "2025-01-15T12:00:00Z", nil))

	snap, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if snap.TotalMessages != 4 {
		t.Errorf("total=%d, want 4", snap.TotalMessages)
	}
	if snap.SendersCount != 2 {
		t.Errorf("senders=%d, want 2", snap.SendersCount)
	}
	if len(snap.TopSenders) != 2 ||
		snap.TopSenders[0] != (SenderCount{From: "+100", Count: 3}) ||
		snap.TopSenders[1] != (SenderCount{From: "+200", Count: 1}) {
		t.Errorf("top senders = %+v", snap.TopSenders)
	}
	if snap.FirstMessageTS == nil || *snap.FirstMessageTS != "2025-01-15T09:00:00Z" {
		t.Errorf("first ts = %v", snap.FirstMessageTS)
	}
	if snap.LastMessageTS == nil || *snap.LastMessageTS != "2025-01-15T12:00:00Z" {
		t.Errorf("last ts = %v", snap.LastMessageTS)
	}
}

func TestStatsTopSenderTieBreak(t *testing.T) {
	s := openTestStore(t)
	mustInsert(t, s, msg("x1", "+300", "2025-01-15T09:00:00Z", nil))
	mustInsert(t, s, msg("x2", "+100", "2025-01-15T10:00:00Z", nil))
	mustInsert(t, s, msg("x3", "+200", "2025-01-15T11:00:00Z", nil))

	snap, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := []SenderCount{{From: "+100", Count: 1}, {From: "+200", Count: 1}, {From: "+300", Count: 1}}
	if len(snap.TopSenders) != len(want) {
		t.Fatalf("top senders = %+v", snap.TopSenders)
	}
	for i := range want {
		if snap.TopSenders[i] != want[i] {
			t.Errorf("position %d: got %+v, want %+v", i, snap.TopSenders[i], want[i])
		}
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "open.db")
	st, closeStore, err := Open(context.Background(), "sqlite:///"+path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeStore()
	if _, ok := st.(*SQLiteStore); !ok {
		t.Fatalf("expected sqlite backend, got %T", st)
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
