package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	token   string
	region  string
	err     error
	queried bool
	exec    struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queried = true
	return stubRow{token: s.token, region: s.region, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token  string
	region string
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 2 {
		return errors.New("want token and region destinations")
	}
	token, ok1 := dest[0].(*string)
	region, ok2 := dest[1].(*string)
	if !ok1 || !ok2 {
		return errors.New("invalid dest")
	}
	*token = r.token
	*region = r.region
	return nil
}

func TestDashScopeCredential(t *testing.T) {
	store := NewStore(&stubExecutor{token: " sk-abc123 ", region: " Singapore"})
	cred, err := store.DashScope(context.Background())
	if err != nil {
		t.Fatalf("DashScope error: %v", err)
	}
	if cred.Key != "sk-abc123" || cred.Region != "singapore" {
		t.Fatalf("credential = %+v", cred)
	}
}

func TestDashScopeCredentialNoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	cred, err := store.DashScope(context.Background())
	if err != nil {
		t.Fatalf("DashScope error: %v", err)
	}
	if cred != (Credential{}) {
		t.Fatalf("expected empty credential, got %+v", cred)
	}
}

func TestDashScopeCredentialError(t *testing.T) {
	store := NewStore(&stubExecutor{err: errors.New("db down")})
	if _, err := store.DashScope(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSetDashScopeAPIKey(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetDashScopeAPIKey(context.Background(), "secret", "Singapore"); err != nil {
		t.Fatalf("SetDashScopeAPIKey error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != ProviderDashScope {
		t.Fatalf("expected provider argument, got %T %v", exec.exec.args[0], exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
	raw, ok := exec.exec.args[2].([]byte)
	if !ok {
		t.Fatalf("expected json properties, got %T", exec.exec.args[2])
	}
	var props map[string]string
	if err := json.Unmarshal(raw, &props); err != nil || props["region"] != "singapore" {
		t.Fatalf("unexpected properties %s (%v)", raw, err)
	}
}

func TestSetDashScopeAPIKeyEmpty(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetDashScopeAPIKey(context.Background(), " ", ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestResolveDashScopePrefersConfigured(t *testing.T) {
	exec := &stubExecutor{token: "stored", region: "singapore"}
	cred, err := ResolveDashScope(context.Background(), " env-key ", NewStore(exec))
	if err != nil {
		t.Fatalf("ResolveDashScope error: %v", err)
	}
	if cred.Key != "env-key" || cred.Region != "" || exec.queried {
		t.Fatalf("expected configured key without lookup, got %+v (queried=%v)", cred, exec.queried)
	}

	cred, err = ResolveDashScope(context.Background(), "", NewStore(exec))
	if err != nil || cred.Key != "stored" || cred.Region != "singapore" {
		t.Fatalf("expected stored credential, got %+v (%v)", cred, err)
	}

	cred, err = ResolveDashScope(context.Background(), "", nil)
	if err != nil || cred.Key != "" {
		t.Fatalf("expected empty credential without store, got %+v (%v)", cred, err)
	}
}
