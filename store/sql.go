package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"auto_seo_article_pipeline/content"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
)

const schema = `CREATE TABLE IF NOT EXISTS articles (
	id          TEXT PRIMARY KEY,
	slug        TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	variant     TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	status_text TEXT NOT NULL DEFAULT '',
	word_count  INTEGER NOT NULL DEFAULT 0,
	payload     TEXT NOT NULL,
	updated_at  TIMESTAMP NOT NULL
)`

const upsertArticle = `INSERT INTO articles (id, slug, title, variant, status, status_text, word_count, payload, updated_at)
VALUES (:id, :slug, :title, :variant, :status, :status_text, :word_count, :payload, :updated_at)
ON CONFLICT (id) DO UPDATE SET
	slug = excluded.slug,
	title = excluded.title,
	variant = excluded.variant,
	status = excluded.status,
	status_text = excluded.status_text,
	word_count = excluded.word_count,
	payload = excluded.payload,
	updated_at = excluded.updated_at`

type articleRow struct {
	ID         string    `db:"id"`
	Slug       string    `db:"slug"`
	Title      string    `db:"title"`
	Variant    string    `db:"variant"`
	Status     string    `db:"status"`
	StatusText string    `db:"status_text"`
	WordCount  int       `db:"word_count"`
	Payload    string    `db:"payload"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// SQLStore keeps artifacts in PostgreSQL or SQLite. The full item is stored as JSON; the
// other columns exist for querying by hand.
type SQLStore struct {
	db *sqlx.DB
}

// Connect opens the database, applies pool settings and creates the table.
func Connect(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	s := NewSQL(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an open connection without touching the schema.
func NewSQL(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the articles table when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create articles table: %w", err)
	}
	return nil
}

func (s *SQLStore) Save(ctx context.Context, item content.ContentItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", item.ID, err)
	}
	row := articleRow{
		ID:         item.ID,
		Title:      item.Title,
		Variant:    string(item.Variant),
		Status:     string(item.Status),
		StatusText: item.StatusText,
		Payload:    string(payload),
		UpdatedAt:  item.UpdatedAt.UTC(),
	}
	if item.Content != nil {
		row.Slug = item.Content.Slug
		if item.Content.Quality != nil {
			row.WordCount = item.Content.Quality.WordCount
		}
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	if _, err := s.db.NamedExecContext(ctx, upsertArticle, row); err != nil {
		return fmt.Errorf("save item %s: %w", item.ID, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (content.ContentItem, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, s.db.Rebind(`SELECT payload FROM articles WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return content.ContentItem{}, ErrNotFound
	}
	if err != nil {
		return content.ContentItem{}, fmt.Errorf("get item %s: %w", id, err)
	}
	var item content.ContentItem
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return content.ContentItem{}, fmt.Errorf("decode item %s: %w", id, err)
	}
	return item, nil
}

func (s *SQLStore) List(ctx context.Context, status content.Status) ([]content.ContentItem, error) {
	var payloads []string
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &payloads, `SELECT payload FROM articles ORDER BY updated_at DESC`)
	} else {
		err = s.db.SelectContext(ctx, &payloads,
			s.db.Rebind(`SELECT payload FROM articles WHERE status = ? ORDER BY updated_at DESC`), string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	out := make([]content.ContentItem, 0, len(payloads))
	for _, p := range payloads {
		var item content.ContentItem
		if err := json.Unmarshal([]byte(p), &item); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
