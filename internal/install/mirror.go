package install

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// SyncStats counts what a Mirror run did.
type SyncStats struct {
	Copied    int `json:"copied"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	Dirs      int `json:"dirs"`
}

// Changed reports whether the destination was modified.
func (s SyncStats) Changed() bool {
	return s.Copied > 0 || s.Deleted > 0 || s.Dirs > 0
}

// AssetSyncer mirrors a built asset tree into the web root.
type AssetSyncer struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewAssetSyncer creates an AssetSyncer on fsys. A nil logger means slog.Default.
func NewAssetSyncer(fsys afero.Fs, logger *slog.Logger) *AssetSyncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetSyncer{fs: fsys, logger: logger}
}

// Sync runs Mirror and logs what changed.
func (a *AssetSyncer) Sync(src, dst string) (SyncStats, error) {
	stats, err := Mirror(a.fs, src, dst)
	if err != nil {
		return stats, err
	}
	if stats.Changed() {
		a.logger.Info("📦 assets synced", "dest", dst,
			"copied", stats.Copied, "deleted", stats.Deleted, "dirs", stats.Dirs)
	} else {
		a.logger.Info("ℹ️ assets already up to date", "dest", dst, "files", stats.Unchanged)
	}
	return stats, nil
}

// Mirror makes dst an exact copy of src, the equivalent of
// `rsync -a --delete src/ dst/`: new and changed files are copied (changes
// are detected by content, not timestamps), missing directories are
// created, and everything under dst that src does not have is removed.
func Mirror(fsys afero.Fs, src, dst string) (SyncStats, error) {
	var stats SyncStats

	srcInfo, err := fsys.Stat(src)
	if err != nil {
		return stats, fmt.Errorf("mirror source: %w", err)
	}
	if !srcInfo.IsDir() {
		return stats, fmt.Errorf("mirror source %q is not a directory", src)
	}
	if err := fsys.MkdirAll(dst, 0o755); err != nil {
		return stats, fmt.Errorf("create mirror destination: %w", err)
	}

	// Relative paths present in src, mapped to "is a directory".
	want := map[string]bool{}

	err = afero.Walk(fsys, src, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		want[rel] = info.IsDir()
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			created, err := ensureDir(fsys, target, info.Mode().Perm())
			if created {
				stats.Dirs++
			}
			return err
		}

		copied, err := syncFile(fsys, path, target, info.Mode().Perm())
		if err != nil {
			return err
		}
		if copied {
			stats.Copied++
		} else {
			stats.Unchanged++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("mirror %s -> %s: %w", src, dst, err)
	}

	// Deletion pass: collect first, remove after, so the walk never sees a
	// directory disappear under it.
	var extraneous []string
	err = afero.Walk(fsys, dst, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dst, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		isDir, ok := want[rel]
		if ok && isDir == info.IsDir() {
			return nil
		}
		extraneous = append(extraneous, path)
		if info.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("scan mirror destination: %w", err)
	}

	for _, path := range extraneous {
		if err := fsys.RemoveAll(path); err != nil {
			return stats, fmt.Errorf("remove stale %s: %w", path, err)
		}
		stats.Deleted++
	}
	return stats, nil
}

// ensureDir creates path as a directory, replacing a file that is in the
// way. It reports whether anything was created.
func ensureDir(fsys afero.Fs, path string, perm os.FileMode) (bool, error) {
	info, err := fsys.Stat(path)
	if err == nil && info.IsDir() {
		return false, nil
	}
	if err == nil {
		if err := fsys.Remove(path); err != nil {
			return false, err
		}
	}
	if err := fsys.MkdirAll(path, perm|0o700); err != nil {
		return false, err
	}
	return true, nil
}

// syncFile copies src over dst unless dst already has identical content.
// A directory sitting where the file should go is removed first.
func syncFile(fsys afero.Fs, src, dst string, perm os.FileMode) (bool, error) {
	data, err := afero.ReadFile(fsys, src)
	if err != nil {
		return false, err
	}

	if info, err := fsys.Stat(dst); err == nil {
		if info.IsDir() {
			if err := fsys.RemoveAll(dst); err != nil {
				return false, err
			}
		} else if existing, err := afero.ReadFile(fsys, dst); err == nil && bytes.Equal(existing, data) {
			return false, nil
		}
	}

	if err := afero.WriteFile(fsys, dst, data, perm); err != nil {
		return false, err
	}
	return true, nil
}
