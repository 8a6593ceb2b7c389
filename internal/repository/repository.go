package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shortlink/internal/config"
	"shortlink/internal/model"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

const urlColumns = `id, short_code, original_url, created_at, click_count, last_accessed`

type Repo struct {
	DB           *sql.DB
	queryTimeout time.Duration
}

func NewRepo(db *sql.DB, queryTimeout time.Duration) *Repo {
	return &Repo{DB: db, queryTimeout: queryTimeout}
}

// Open connects through the pgx stdlib driver and applies the pool limits.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	const op = "repository.Open"

	db, err := sql.Open("pgx", cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w: %w", op, model.ErrStoreUnavailable, err)
	}
	return db, nil
}

func (r *Repo) FindByCode(ctx context.Context, code string) (*model.URLMapping, error) {
	const op = "repository.Repo.FindByCode"
	q := `SELECT ` + urlColumns + ` FROM urls WHERE short_code = $1`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	m, err := scanMapping(r.DB.QueryRowContext(ctx, q, code))
	if err != nil {
		return nil, wrap(op, err)
	}
	return m, nil
}

// FindByURL returns the oldest mapping for original. Duplicates can exist
// because original_url carries no unique constraint.
func (r *Repo) FindByURL(ctx context.Context, original string) (*model.URLMapping, error) {
	const op = "repository.Repo.FindByURL"
	q := `SELECT ` + urlColumns + ` FROM urls WHERE original_url = $1 ORDER BY created_at ASC, id ASC LIMIT 1`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	m, err := scanMapping(r.DB.QueryRowContext(ctx, q, original))
	if err != nil {
		return nil, wrap(op, err)
	}
	return m, nil
}

// Insert fails with model.ErrDuplicateCode when code is already taken.
func (r *Repo) Insert(ctx context.Context, code, original string) (*model.URLMapping, error) {
	const op = "repository.Repo.Insert"
	q := `INSERT INTO urls (short_code, original_url) VALUES ($1, $2) RETURNING id, created_at, click_count`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	m := &model.URLMapping{ShortCode: code, OriginalURL: original}
	if err := r.DB.QueryRowContext(ctx, q, code, original).Scan(&m.ID, &m.CreatedAt, &m.ClickCount); err != nil {
		return nil, wrap(op, err)
	}
	return m, nil
}

func (r *Repo) IncrementClicks(ctx context.Context, code string) error {
	const op = "repository.Repo.IncrementClicks"
	q := `UPDATE urls SET click_count = click_count + 1, last_accessed = NOW() WHERE short_code = $1`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.DB.ExecContext(ctx, q, code)
	if err != nil {
		return wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	return nil
}

func (r *Repo) RecordClick(ctx context.Context, code string, meta model.ClickMetadata) error {
	const op = "repository.Repo.RecordClick"
	q := `INSERT INTO clicks (short_code, ip_address, user_agent, referrer) VALUES ($1, $2, $3, $4)`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.DB.ExecContext(ctx, q, code,
		nullString(meta.IPAddress), nullString(meta.UserAgent), nullString(meta.Referrer))
	if err != nil {
		return wrap(op, err)
	}
	return nil
}

// Delete removes the mapping; its clicks go with it through ON DELETE CASCADE.
func (r *Repo) Delete(ctx context.Context, code string) (int64, error) {
	const op = "repository.Repo.Delete"
	q := `DELETE FROM urls WHERE short_code = $1`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.DB.ExecContext(ctx, q, code)
	if err != nil {
		return 0, wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap(op, err)
	}
	return n, nil
}

// RecentClicks returns up to limit events for code, most recent first.
func (r *Repo) RecentClicks(ctx context.Context, code string, limit int) ([]model.ClickEvent, error) {
	const op = "repository.Repo.RecentClicks"
	q := `SELECT id, short_code, clicked_at, ip_address, user_agent, referrer
		FROM clicks WHERE short_code = $1 ORDER BY clicked_at DESC, id DESC LIMIT $2`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.DB.QueryContext(ctx, q, code, limit)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	res := make([]model.ClickEvent, 0, limit)
	for rows.Next() {
		var (
			e                model.ClickEvent
			ip, agent, refer sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ShortCode, &e.ClickedAt, &ip, &agent, &refer); err != nil {
			return nil, wrap(op, err)
		}
		e.IPAddress = stringPtr(ip)
		e.UserAgent = stringPtr(agent)
		e.Referrer = stringPtr(refer)
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return res, nil
}

// NextSequence draws the next value of short_code_seq.
func (r *Repo) NextSequence(ctx context.Context) (int64, error) {
	const op = "repository.Repo.NextSequence"

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := r.DB.QueryRowContext(ctx, `SELECT nextval('short_code_seq')`).Scan(&n); err != nil {
		return 0, wrap(op, err)
	}
	return n, nil
}

func (r *Repo) Ping(ctx context.Context) error {
	const op = "repository.Repo.Ping"

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.DB.PingContext(ctx); err != nil {
		return wrap(op, err)
	}
	return nil
}

func (r *Repo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(row rowScanner) (*model.URLMapping, error) {
	var (
		m          model.URLMapping
		lastAccess sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.ShortCode, &m.OriginalURL, &m.CreatedAt, &m.ClickCount, &lastAccess); err != nil {
		return nil, err
	}
	if lastAccess.Valid {
		t := lastAccess.Time
		m.LastAccessed = &t
	}
	return &m, nil
}

// wrap maps driver errors onto the model taxonomy.
func wrap(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %w", op, model.ErrDuplicateCode)
		case foreignKeyViolation:
			return fmt.Errorf("%s: %w", op, model.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
