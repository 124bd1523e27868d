package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return r.data[r.idx-1], nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *int64:
			*d = v.(int64)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type mockDB struct {
	execErr  error
	rows     *mockRows
	queryErr error
	execs    []execCall
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, m.execErr
}

func (m *mockDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.rows, nil
}

func TestMigrate(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	if err := New(db).Migrate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0].sql, "CREATE TABLE IF NOT EXISTS wake_events") {
		t.Errorf("execs = %+v, want schema DDL", db.execs)
	}

	db = &mockDB{execErr: errors.New("denied")}
	if err := New(db).Migrate(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestRecord_FillsIDAndTime(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	e := &Entry{
		Keyword:       "computer",
		SpanFrames:    27,
		VerifyLatency: 1500 * time.Microsecond,
		Transcript:    "what time is it",
		Reply:         "It is noon.",
	}
	if err := New(db).Record(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID == uuid.Nil {
		t.Error("ID was not assigned")
	}
	if e.At.IsZero() {
		t.Error("At was not assigned")
	}
	if len(db.execs) != 1 {
		t.Fatalf("got %d execs, want 1", len(db.execs))
	}
	args := db.execs[0].args
	if args[0] != e.ID.String() || args[1] != "computer" || args[3] != int64(1500) {
		t.Errorf("args = %v", args)
	}
}

func TestRecord_Rejects(t *testing.T) {
	t.Parallel()
	j := New(&mockDB{})
	if err := j.Record(context.Background(), nil); err == nil {
		t.Error("expected error for nil entry")
	}
	if err := j.Record(context.Background(), &Entry{}); err == nil {
		t.Error("expected error for empty keyword")
	}

	j = New(&mockDB{execErr: errors.New("conn reset")})
	if err := j.Record(context.Background(), &Entry{Keyword: "jarvis"}); err == nil || !strings.Contains(err.Error(), "conn reset") {
		t.Errorf("err = %v, want wrapped exec error", err)
	}
}

func TestRecent(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := &mockRows{data: [][]any{
		{id.String(), "computer", 30, int64(2000), "lights on", "Done.", "", at},
	}}
	got, err := New(&mockDB{rows: rows}).Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	e := got[0]
	if e.ID != id || e.Keyword != "computer" || e.VerifyLatency != 2*time.Millisecond || !e.At.Equal(at) {
		t.Errorf("entry = %+v", e)
	}
	if !rows.closed {
		t.Error("rows were not closed")
	}
}

func TestRecent_Errors(t *testing.T) {
	t.Parallel()
	if _, err := New(&mockDB{queryErr: errors.New("boom")}).Recent(context.Background(), 5); err == nil {
		t.Error("expected query error")
	}
	bad := &mockRows{data: [][]any{{"not-a-uuid", "k", 1, int64(0), "", "", "", time.Now()}}}
	if _, err := New(&mockDB{rows: bad}).Recent(context.Background(), 5); err == nil {
		t.Error("expected id parse error")
	}
	failing := &mockRows{err: errors.New("stream broke")}
	if _, err := New(&mockDB{rows: failing}).Recent(context.Background(), 5); err == nil {
		t.Error("expected rows error")
	}
}
