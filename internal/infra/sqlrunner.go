package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// SQLExecutor is what repositories need to run statements.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// ErrMissingMarker is returned for statements without a "--sql <uuid>" first line.
var ErrMissingMarker = errors.New("sql marker missing or invalid")

// DefaultSlowQuery is the duration above which statements are logged as warnings.
const DefaultSlowQuery = 250 * time.Millisecond

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

var markerRegexp = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

// SQLRunner strips the audit marker from each statement, runs it on the
// underlying executor (normally a *pgxpool.Pool) and logs the call under the
// marker with its duration.
type SQLRunner struct {
	db        SQLExecutor
	logger    zerolog.Logger
	slowQuery time.Duration
}

func NewSQLRunner(db SQLExecutor, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{db: db, logger: logger, slowQuery: DefaultSlowQuery}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	started := time.Now()
	tag, err := r.db.Exec(ctx, body, args...)
	r.log(marker, "exec", started, err).Int64("rows", tag.RowsAffected()).Send()
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, body, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return &timedRow{row: r.db.QueryRow(ctx, body, args...), runner: r, marker: marker, started: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	rows, err := r.db.Query(ctx, body, args...)
	if err != nil {
		r.log(marker, "query", started, err).Send()
		return nil, err
	}
	return &timedRows{Rows: rows, runner: r, marker: marker, started: started}, nil
}

// log picks the level for a finished statement: errors first, then slow
// statements, everything else at debug.
func (r *SQLRunner) log(marker, op string, started time.Time, err error) *zerolog.Event {
	took := time.Since(started)
	var ev *zerolog.Event
	switch {
	case err != nil && !IsNoRows(err):
		ev = r.logger.Error().Err(err)
	case took >= r.slowQuery:
		ev = r.logger.Warn().Bool("slow", true)
	default:
		ev = r.logger.Debug()
	}
	return ev.Str("sql", marker).Str("op", op).Dur("took", took)
}

type timedRow struct {
	row     pgx.Row
	runner  *SQLRunner
	marker  string
	started time.Time
}

func (t *timedRow) Scan(dest ...any) error {
	err := t.row.Scan(dest...)
	t.runner.log(t.marker, "query_row", t.started, err).Send()
	return err
}

type timedRows struct {
	pgx.Rows
	runner  *SQLRunner
	marker  string
	started time.Time
	closed  bool
}

func (t *timedRows) Close() {
	t.Rows.Close()
	if t.closed {
		return
	}
	t.closed = true
	t.runner.log(t.marker, "query", t.started, t.Rows.Err()).Send()
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

// extractMarker splits a statement into its marker id and the SQL that follows.
func extractMarker(query string) (string, string, error) {
	head, body, _ := strings.Cut(strings.TrimSpace(query), "\n")
	m := markerRegexp.FindStringSubmatch(strings.TrimSpace(head))
	if m == nil {
		return "", "", ErrMissingMarker
	}
	return m[1], strings.TrimSpace(body), nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
