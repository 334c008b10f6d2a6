package artifact

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrMissingArtifact is returned when an install was requested but no
// matching artifact is available.
var ErrMissingArtifact = errors.New("artifact not found")

// Extension of package artifacts the locator searches for.
const Extension = ".whl"

// distDir is the fixed subdirectory holding build outputs.
const distDir = "dist"

// Locator finds the most recently modified build artifact in a project's
// dist directory.
type Locator struct {
	log *slog.Logger
}

// NewLocator creates a Locator. A nil logger falls back to slog.Default.
func NewLocator(log *slog.Logger) *Locator {
	if log == nil {
		log = slog.Default()
	}
	return &Locator{log: log}
}

// Locate scans dir/dist for artifact files and returns the one with the
// latest modification time, or nil when none exist. Absence is a valid,
// recoverable state and is logged, not returned as an error. When dir is
// empty the current working directory is used.
func (l *Locator) Locate(dir string) (*Artifact, error) {
	if dir == "" {
		dir = "."
	}
	searchDir := filepath.Join(dir, distDir)

	entries, err := os.ReadDir(searchDir)
	if err != nil {
		if os.IsNotExist(err) {
			l.log.Info("Package file was not found: dist directory does not exist", "dir", searchDir)
			return nil, nil
		}
		return nil, err
	}

	type candidate struct {
		path  string
		mtime int64
	}

	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate{
			path:  filepath.Join(searchDir, entry.Name()),
			mtime: info.ModTime().UnixNano(),
		})
	}

	if len(candidates) == 0 {
		l.log.Info("Package file was not found, check the dist folder if you expect package-based imports", "dir", searchDir)
		return nil, nil
	}

	// Latest modification wins; name breaks ties deterministically.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].mtime != candidates[j].mtime {
			return candidates[i].mtime > candidates[j].mtime
		}
		return candidates[i].path < candidates[j].path
	})

	chosen := New(candidates[0].path)
	l.log.Info("Package file located", "path", chosen.LocalPath)
	return &chosen, nil
}
