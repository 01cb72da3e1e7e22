package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"qwenstudio/internal/infra"
	"qwenstudio/internal/sqlinline"
)

const ProviderDashScope = "dashscope"

// Credential is an API key together with the region it was issued for.
// DashScope keys only work against their own region's endpoint.
type Credential struct {
	Key    string
	Region string
}

// Store keeps provider API keys in integration_tokens so deployments without
// DASHSCOPE_API_KEY in the environment can still reach DashScope.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// DashScope returns the stored DashScope credential. A missing row yields a
// zero Credential and no error.
func (s *Store) DashScope(ctx context.Context) (Credential, error) {
	var cred Credential
	err := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, ProviderDashScope).Scan(&cred.Key, &cred.Region)
	if infra.IsNoRows(err) {
		return Credential{}, nil
	}
	if err != nil {
		return Credential{}, err
	}
	cred.Key = strings.TrimSpace(cred.Key)
	cred.Region = strings.ToLower(strings.TrimSpace(cred.Region))
	return cred, nil
}

// SetDashScopeAPIKey stores key and, when given, the region it belongs to.
func (s *Store) SetDashScopeAPIKey(ctx context.Context, key, region string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("credentials: dashscope api key is required")
	}
	props := map[string]string{}
	if region = strings.ToLower(strings.TrimSpace(region)); region != "" {
		props["region"] = region
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, ProviderDashScope, key, raw)
	return err
}

// ResolveDashScope prefers the configured key and falls back to the store.
// A configured key carries no region; the caller's configuration decides it.
func ResolveDashScope(ctx context.Context, configured string, store *Store) (Credential, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return Credential{Key: key}, nil
	}
	if store == nil {
		return Credential{}, nil
	}
	return store.DashScope(ctx)
}
