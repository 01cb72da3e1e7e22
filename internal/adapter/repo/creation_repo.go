package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"qwenstudio/internal/domain"
	"qwenstudio/internal/infra"
	"qwenstudio/internal/sqlinline"
)

// CreationRepositoryPG implements domain.CreationRepository on PostgreSQL.
type CreationRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewCreationRepository constructs a creation repository.
func NewCreationRepository(sql infra.SQLExecutor) *CreationRepositoryPG {
	return &CreationRepositoryPG{sql: sql}
}

// EnsureSchema creates the tables the service writes to.
func (r *CreationRepositoryPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QEnsureCreationsTable); err != nil {
		return err
	}
	_, err := r.sql.Exec(ctx, sqlinline.QEnsureIntegrationTokensTable)
	return err
}

// Create inserts c, assigning an id when it has none.
func (r *CreationRepositoryPG) Create(ctx context.Context, c *domain.Creation) error {
	if c == nil {
		return errors.New("creation is required")
	}
	if strings.TrimSpace(c.ImageURL) == "" {
		return errors.New("creation image url is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertCreation,
		c.ID, c.SessionID, c.Prompt, c.Size, c.PromptExtend, c.Watermark, c.TaskID, c.ImageURL, c.StorageKey)
	return row.Scan(&c.CreatedAt)
}

// ListRecent returns the newest creations first.
func (r *CreationRepositoryPG) ListRecent(ctx context.Context, limit int) ([]domain.Creation, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListRecentCreations, domain.ClampCreationsLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []domain.Creation{}
	for rows.Next() {
		var c domain.Creation
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Prompt, &c.Size, &c.PromptExtend, &c.Watermark, &c.TaskID, &c.ImageURL, &c.StorageKey, &c.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetByID returns one creation or domain.ErrNotFound.
func (r *CreationRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Creation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	var c domain.Creation
	row := r.sql.QueryRow(ctx, sqlinline.QGetCreation, id)
	if err := row.Scan(&c.ID, &c.SessionID, &c.Prompt, &c.Size, &c.PromptExtend, &c.Watermark, &c.TaskID, &c.ImageURL, &c.StorageKey, &c.CreatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

var _ domain.CreationRepository = (*CreationRepositoryPG)(nil)
