// Package filesource selects the files of a job from a directory tree.
package filesource

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/model"
	"autodoc-pipeline/internal/infra/ignore"
	"autodoc-pipeline/internal/infra/logging"
)

// Stats describes what a walk kept and skipped.
type Stats struct {
	Selected int
	Ignored  int
	Binary   int
	Bytes    int64
}

// Source walks a root directory and turns regular text files into file
// records.
type Source struct {
	fsys   fs.FS
	filter *ignore.Filter
	log    *zerolog.Logger
}

// NewDir reads from the directory at root.
func NewDir(root string, filter *ignore.Filter, log *zerolog.Logger) (*Source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidArgument, root)
	}
	return New(os.DirFS(root), filter, log), nil
}

// New reads from fsys; tests pass an fstest.MapFS.
func New(fsys fs.FS, filter *ignore.Filter, log *zerolog.Logger) *Source {
	return &Source{fsys: fsys, filter: filter, log: logging.Component(log, "FileSource")}
}

// Collect returns the selected files ordered by path. Paths are relative to
// the root and slash-separated. Ignored directories are not descended into;
// files that do not look like text are skipped.
func (s *Source) Collect() ([]model.FileRecord, Stats, error) {
	var (
		out   []model.FileRecord
		stats Stats
	)
	err := fs.WalkDir(s.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		if s.filter.Ignored(p) {
			stats.Ignored++
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		b, err := fs.ReadFile(s.fsys, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		if !looksLikeText(b) {
			stats.Binary++
			s.log.Debug().Str("path", p).Msg("skipping binary file")
			return nil
		}
		out = append(out, model.FileRecord{
			ID:      ulid.Make().String(),
			Path:    filepath.ToSlash(p),
			Size:    int64(len(b)),
			Content: string(b),
		})
		stats.Bytes += int64(len(b))
		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	stats.Selected = len(out)
	s.log.Info().Int("selected", stats.Selected).Int("ignored", stats.Ignored).Int("binary", stats.Binary).
		Int64("bytes", stats.Bytes).Strs("patterns", s.filter.Patterns()).Msg("files collected")
	if len(out) == 0 {
		return nil, stats, domain.ErrNoFiles
	}
	return out, stats, nil
}

func looksLikeText(b []byte) bool {
	head := b
	if len(head) > 8000 {
		head = head[:8000]
	}
	return !bytes.Contains(head, []byte{0}) && utf8.Valid(head[:validPrefix(head)])
}

// validPrefix trims a rune that may have been cut by the sniff window.
func validPrefix(b []byte) int {
	n := len(b)
	for i := 0; i < utf8.UTFMax && n > 0; i++ {
		if utf8.FullRune(b[:n]) {
			break
		}
		n--
	}
	return n
}
