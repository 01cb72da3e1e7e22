package repo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"qwenstudio/internal/domain"
	"qwenstudio/internal/sqlinline"
)

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type stubRows struct {
	items []domain.Creation
	idx   int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return nil, errors.New("not supported") }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.idx >= len(r.items) {
		return false
	}
	r.idx++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	return scanCreation(r.items[r.idx-1], dest...)
}

func scanCreation(c domain.Creation, dest ...any) error {
	if len(dest) != 10 {
		return errors.New("unexpected column count")
	}
	*dest[0].(*string) = c.ID
	*dest[1].(*string) = c.SessionID
	*dest[2].(*string) = c.Prompt
	*dest[3].(*string) = c.Size
	*dest[4].(*bool) = c.PromptExtend
	*dest[5].(*bool) = c.Watermark
	*dest[6].(*string) = c.TaskID
	*dest[7].(*string) = c.ImageURL
	*dest[8].(*string) = c.StorageKey
	*dest[9].(*time.Time) = c.CreatedAt
	return nil
}

type stubExecutor struct {
	execQueries []string
	queryArgs   []any
	rowArgs     []any
	rows        []domain.Creation
	row         stubRow
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execQueries = append(s.execQueries, query)
	return pgconn.CommandTag{}, nil
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.rowArgs = args
	return s.row
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.queryArgs = args
	return &stubRows{items: s.rows}, nil
}

func TestCreationRepositoryEnsureSchema(t *testing.T) {
	exec := &stubExecutor{}
	if err := NewCreationRepository(exec).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema error: %v", err)
	}
	if len(exec.execQueries) != 2 || exec.execQueries[0] != sqlinline.QEnsureCreationsTable {
		t.Fatalf("unexpected schema statements: %d", len(exec.execQueries))
	}
}

func TestCreationRepositoryCreate(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	exec := &stubExecutor{row: stubRow{scan: func(dest ...any) error {
		*dest[0].(*time.Time) = created
		return nil
	}}}
	c := &domain.Creation{SessionID: "s1", Prompt: "a fox", Size: "1328*1328", PromptExtend: true, ImageURL: "https://example.com/a.png"}
	if err := NewCreationRepository(exec).Create(context.Background(), c); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if c.ID == "" || !c.CreatedAt.Equal(created) {
		t.Fatalf("creation = %+v", c)
	}
	if len(exec.rowArgs) != 9 || exec.rowArgs[0] != c.ID || exec.rowArgs[7] != "https://example.com/a.png" {
		t.Fatalf("args = %v", exec.rowArgs)
	}

	if err := NewCreationRepository(exec).Create(context.Background(), &domain.Creation{Prompt: "x"}); err == nil {
		t.Fatalf("expected error without image url")
	}
}

func TestCreationRepositoryListRecentClampsLimit(t *testing.T) {
	now := time.Now()
	exec := &stubExecutor{rows: []domain.Creation{
		{ID: "b", Prompt: "newer", ImageURL: "https://example.com/b.png", CreatedAt: now},
		{ID: "a", Prompt: "older", ImageURL: "https://example.com/a.png", CreatedAt: now.Add(-time.Minute)},
	}}
	repo := NewCreationRepository(exec)

	items, err := repo.ListRecent(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRecent error: %v", err)
	}
	if len(items) != 2 || items[0].ID != "b" {
		t.Fatalf("items = %+v", items)
	}
	if exec.queryArgs[0] != domain.DefaultCreationsLimit {
		t.Fatalf("limit = %v, want default", exec.queryArgs[0])
	}

	if _, err := repo.ListRecent(context.Background(), 500); err != nil {
		t.Fatalf("ListRecent error: %v", err)
	}
	if exec.queryArgs[0] != domain.MaxCreationsLimit {
		t.Fatalf("limit = %v, want max", exec.queryArgs[0])
	}
}

func TestCreationRepositoryGetByID(t *testing.T) {
	exec := &stubExecutor{}
	repo := NewCreationRepository(exec)
	if _, err := repo.GetByID(context.Background(), "not-a-uuid"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}
	if _, err := repo.GetByID(context.Background(), "5d1dae13-d25a-4051-aa09-c98340e24e1c"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing row, got %v", err)
	}

	want := domain.Creation{ID: "5d1dae13-d25a-4051-aa09-c98340e24e1c", Prompt: "p", ImageURL: "https://example.com/x.png"}
	exec.row = stubRow{scan: func(dest ...any) error { return scanCreation(want, dest...) }}
	got, err := repo.GetByID(context.Background(), want.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if got.ID != want.ID || !strings.HasSuffix(got.ImageURL, "x.png") {
		t.Fatalf("got %+v", got)
	}
}
