// Package source discovers migration files on disk.
package source

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const extension = ".sql"

// File is a discovered migration file that has not been read yet.
type File struct {
	Name string
	Path string
}

// Migration is a migration file with its content and checksum.
type Migration struct {
	Name     string `json:"name" yaml:"name"`
	Path     string `json:"path" yaml:"path"`
	Content  string `json:"-" yaml:"-"`
	Checksum string `json:"checksum" yaml:"checksum"`
}

// Locator finds migration files across an ordered list of search roots.
type Locator struct {
	fs     afero.Fs
	logger *slog.Logger
}

func NewLocator(fs afero.Fs, logger *slog.Logger) *Locator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{fs: fs, logger: logger}
}

// Locate returns the migration files visible for engine, sorted ascending by
// name with byte-wise comparison. Roots are given highest priority first: when
// two roots hold a file with the same name, the earlier root wins. A root that
// contains a directory named after the engine contributes only that
// directory's files. Missing roots are skipped.
func (l *Locator) Locate(roots []string, engine string) ([]File, error) {
	seen := make(map[string]struct{})
	var out []File

	for _, root := range roots {
		dir, err := l.resolveDir(root, engine)
		if err != nil {
			return nil, err
		}
		if dir == "" {
			l.logger.Debug("migration root not found", "root", root)
			continue
		}

		files, err := l.listDir(dir)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if _, ok := seen[f.Name]; ok {
				l.logger.Debug("migration shadowed by higher priority root", "name", f.Name, "path", f.Path)
				continue
			}
			seen[f.Name] = struct{}{}
			out = append(out, f)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Load reads f and computes its checksum.
func (l *Locator) Load(f File) (Migration, error) {
	content, err := afero.ReadFile(l.fs, f.Path)
	if err != nil {
		return Migration{}, fmt.Errorf("read migration %s: %w", f.Name, err)
	}
	return Migration{
		Name:     f.Name,
		Path:     f.Path,
		Content:  string(content),
		Checksum: Checksum(content),
	}, nil
}

// LoadAll locates and loads every migration visible for engine.
func (l *Locator) LoadAll(roots []string, engine string) ([]Migration, error) {
	files, err := l.Locate(roots, engine)
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(files))
	for _, f := range files {
		m, err := l.Load(f)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Checksum is the hex SHA-256 of content with CRLF line endings normalized
// to LF, so a checkout on another platform does not read as drift.
func Checksum(content []byte) string {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])
}

func (l *Locator) resolveDir(root, engine string) (string, error) {
	ok, err := afero.DirExists(l.fs, root)
	if err != nil {
		return "", fmt.Errorf("stat migration root %s: %w", root, err)
	}
	if !ok {
		return "", nil
	}
	if engine != "" {
		overlay := filepath.Join(root, engine)
		isDir, err := afero.DirExists(l.fs, overlay)
		if err != nil {
			return "", fmt.Errorf("stat engine directory %s: %w", overlay, err)
		}
		if isDir {
			return overlay, nil
		}
	}
	return root, nil
}

func (l *Locator) listDir(dir string) ([]File, error) {
	entries, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list migrations in %s: %w", dir, err)
	}
	var files []File
	for _, e := range entries {
		if !e.Mode().IsRegular() || !strings.HasSuffix(e.Name(), extension) {
			continue
		}
		files = append(files, File{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}
