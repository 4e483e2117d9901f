// Package extract turns a directory of instructor materials into uniform text chunks.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/store"
	"vita-be/pkg/utils"
)

const (
	logModule = "Extractor"

	// DefaultMaxChunkRunes keeps chunk content around 2 KB.
	DefaultMaxChunkRunes = 2000
	defaultOverlapRunes  = 200
)

// IngestionError reports a single file that could not be extracted.
type IngestionError struct {
	Path string
	Err  error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Path, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// handlerFunc converts one file's bytes into chunks. rel is the slash path relative to the root.
type handlerFunc func(rel string, data []byte) ([]store.Chunk, error)

type Extractor struct {
	logger        logger.ILogger
	handlers      map[string]handlerFunc
	maxChunkRunes int
	overlapRunes  int
}

type Option func(*Extractor)

// WithMaxChunkRunes overrides the split threshold. Zero disables splitting.
func WithMaxChunkRunes(n int) Option {
	return func(e *Extractor) {
		e.maxChunkRunes = n
		if e.overlapRunes >= n {
			e.overlapRunes = n / 10
		}
	}
}

func New(log logger.ILogger, opts ...Option) *Extractor {
	e := &Extractor{
		logger:        log,
		maxChunkRunes: DefaultMaxChunkRunes,
		overlapRunes:  defaultOverlapRunes,
	}
	e.handlers = map[string]handlerFunc{
		".ipynb":    extractNotebook,
		".html":     extractHTML,
		".htm":      extractHTML,
		".json":     extractJSON,
		".pptx":     extractSlides,
		".md":       extractDocument,
		".markdown": extractDocument,
		".txt":      extractDocument,
		".py":       extractDocument,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supports reports whether files with the given name would be extracted.
func (e *Extractor) Supports(name string) bool {
	_, ok := e.handlers[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Walk extracts every supported file under root and hands each non-empty chunk to fn.
// Per-file failures are logged and skipped; only a missing root or an error
// returned by fn stops the walk.
func (e *Extractor) Walk(ctx context.Context, root string, fn func(store.Chunk) error) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat ingestion root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("ingestion root %s is not a directory", root)
	}

	files, err := e.collectFiles(root)
	if err != nil {
		return err
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunks, err := e.extractFile(root, path)
		if err != nil {
			var ingestErr *IngestionError
			if errors.As(err, &ingestErr) {
				e.logger.Warn(logModule, "Skipping unreadable file", map[string]interface{}{
					"path":  ingestErr.Path,
					"error": ingestErr.Err.Error(),
				})
				continue
			}
			return err
		}

		for _, c := range chunks {
			if err := fn(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExtractAll collects the whole walk into memory.
func (e *Extractor) ExtractAll(ctx context.Context, root string) ([]store.Chunk, error) {
	var out []store.Chunk
	err := e.Walk(ctx, root, func(c store.Chunk) error {
		out = append(out, c)
		return nil
	})
	return out, err
}

// ExtractFile runs a single file through its handler. Used for curated datasets.
func (e *Extractor) ExtractFile(path string) ([]store.Chunk, error) {
	return e.extractFile(filepath.Dir(path), path)
}

func (e *Extractor) collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			e.logger.Warn(logModule, "Cannot access path", map[string]interface{}{"path": path, "error": err.Error()})
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if e.Supports(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func (e *Extractor) extractFile(root, path string) ([]store.Chunk, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)

	handler, ok := e.handlers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IngestionError{Path: rel, Err: err}
	}

	raw, err := handler(rel, data)
	if err != nil {
		return nil, &IngestionError{Path: rel, Err: err}
	}

	var out []store.Chunk
	for _, c := range raw {
		c.Content = strings.TrimSpace(c.Content)
		if c.Content == "" {
			continue
		}
		c.SourcePath = rel
		out = append(out, e.split(c)...)
	}
	return out, nil
}

func (e *Extractor) split(c store.Chunk) []store.Chunk {
	if e.maxChunkRunes <= 0 || utf8.RuneCountInString(c.Content) <= e.maxChunkRunes {
		return []store.Chunk{c}
	}

	parts := utils.SplitText(c.Content, e.maxChunkRunes, e.overlapRunes)
	out := make([]store.Chunk, 0, len(parts))
	for i, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		part := c
		part.Content = p
		part.ChunkID = c.ChunkID + "/p" + strconv.Itoa(i)
		part.Metadata = withMeta(c.Metadata, "part", strconv.Itoa(i))
		out = append(out, part)
	}
	return out
}

func withMeta(base map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
