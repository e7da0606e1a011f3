// Package store persists finished and rejected articles so nothing generated is lost.
package store

import (
	"context"
	"errors"
	"fmt"

	"auto_seo_article_pipeline/config"
	"auto_seo_article_pipeline/content"
	"auto_seo_article_pipeline/logger"
)

// ErrNotFound is returned when no artifact has the requested ID.
var ErrNotFound = errors.New("store: artifact not found")

// Store keeps the latest version of each item, keyed by ID. Saving an existing ID replaces it.
type Store interface {
	Save(ctx context.Context, item content.ContentItem) error
	Get(ctx context.Context, id string) (content.ContentItem, error)
	// List returns items most recently updated first; an empty status lists everything.
	List(ctx context.Context, status content.Status) ([]content.ContentItem, error)
	Close() error
}

// Open builds the store selected by cfg.Driver: "" or "memory", "postgres", or "sqlite3".
func Open(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "postgres", "sqlite3":
		s, err := Connect(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if log != nil {
			log.Info("artifact store ready", logger.String("driver", cfg.Driver))
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
