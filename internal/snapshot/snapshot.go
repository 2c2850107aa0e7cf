// Package snapshot archives fetched pages to a blob store so extraction
// failures can be inspected after the fact.
package snapshot

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// Config controls where snapshots are written.
type Config struct {
	Prefix string
}

// Writer stores RawPages under content-addressed paths.
type Writer struct {
	store  crawler.BlobStore
	hasher crawler.Hasher
	cfg    Config
}

// New builds a Writer.
func New(store crawler.BlobStore, hasher crawler.Hasher, cfg Config) (*Writer, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	return &Writer{store: store, hasher: hasher, cfg: cfg}, nil
}

// Save writes the page body and returns its URI.
func (w *Writer) Save(ctx context.Context, page crawler.RawPage) (string, error) {
	if page.Blank() {
		return "", fmt.Errorf("nothing to snapshot for %s", page.SourceURL)
	}
	sum, err := w.hasher.Hash([]byte(page.Content))
	if err != nil {
		return "", fmt.Errorf("hash page: %w", err)
	}
	uri, err := w.store.PutObject(ctx, w.objectPath(page, sum), contentType(page), strings.NewReader(page.Content))
	if err != nil {
		return "", fmt.Errorf("put snapshot: %w", err)
	}
	return uri, nil
}

func (w *Writer) objectPath(page crawler.RawPage, sum string) string {
	ext := ".html"
	if page.Strategy == crawler.StrategyAPI {
		ext = ".json"
	}
	name := strings.ToLower(page.Strategy.String()) + "/" + sum + ext
	prefix := strings.Trim(w.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func contentType(page crawler.RawPage) string {
	if page.Strategy == crawler.StrategyAPI {
		return "application/json"
	}
	return "text/html; charset=utf-8"
}
