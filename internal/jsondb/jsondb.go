// Package jsondb implements a flat file JSON document store. A document path
// such as "blog/posts/12" maps to "<root>/blog/posts/12.json".
package jsondb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("document not found")

const docExt = ".json"

// DB is a directory of JSON documents.
type DB struct {
	root   string
	mu     sync.RWMutex
	logger *zap.Logger
}

// New returns a DB rooted at root. The directory is created lazily on the
// first commit.
func New(root string, logger *zap.Logger) (*DB, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("jsondb root is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{root: filepath.Clean(root), logger: logger}, nil
}

// Root returns the directory documents are stored under.
func (db *DB) Root() string {
	return db.root
}

// Get loads the document into v.
func (db *DB) Get(ctx context.Context, document string, v any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	p, err := db.toPath(document)
	if err != nil {
		return err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	// #nosec G304 -- path is confined to the db root by toPath.
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("get %s: %w", document, ErrNotFound)
		}
		return fmt.Errorf("read %s: %w", p, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", p, err)
	}
	return nil
}

// Commit writes v as indented JSON. The document is written to a temporary
// file and renamed into place.
func (db *DB) Commit(ctx context.Context, document string, v any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	p, err := db.toPath(document)
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", document, err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".commit-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", p, err)
	}
	db.logger.Debug("committed document", zap.String("document", document))
	return nil
}

// Exists reports whether the document is present.
func (db *DB) Exists(ctx context.Context, document string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context canceled: %w", err)
	}
	p, err := db.toPath(document)
	if err != nil {
		return false, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return true, nil
}

// Delete removes the document. A missing document is not an error.
func (db *DB) Delete(ctx context.Context, document string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	p, err := db.toPath(document)
	if err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	db.logger.Debug("deleted document", zap.String("document", document))
	return nil
}

// List returns every document under prefix, recursively, sorted by path.
// A missing prefix directory yields an empty list.
func (db *DB) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context canceled: %w", err)
	}
	dir, err := db.toDir(prefix)
	if err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	var docs []string
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), docExt) || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(db.root, p)
		if err != nil {
			return err
		}
		docs = append(docs, strings.TrimSuffix(filepath.ToSlash(rel), docExt))
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, walkErr)
	}
	sort.Strings(docs)
	return docs, nil
}

func (db *DB) toPath(document string) (string, error) {
	dir, err := db.toDir(document)
	if err != nil {
		return "", err
	}
	if dir == db.root {
		return "", fmt.Errorf("invalid document path %q", document)
	}
	return dir + docExt, nil
}

func (db *DB) toDir(document string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(document))
	if clean == "/" {
		return db.root, nil
	}
	for _, seg := range strings.Split(document, "/") {
		if seg == ".." {
			return "", fmt.Errorf("invalid document path %q", document)
		}
	}
	return filepath.Join(db.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
