package install

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Site describes one proxy site configuration to install.
type Site struct {
	// Source is the config file inside the repository checkout.
	Source string `mapstructure:"source" yaml:"source" json:"source"`

	// Name is the file name under sites-available / sites-enabled.
	// Defaults to the base name of Source.
	Name string `mapstructure:"name" yaml:"name" json:"name"`

	// AvailableDir and EnabledDir are the proxy's config directories,
	// e.g. /etc/nginx/sites-available and /etc/nginx/sites-enabled.
	AvailableDir string `mapstructure:"available_dir" yaml:"available_dir" json:"available_dir"`
	EnabledDir   string `mapstructure:"enabled_dir" yaml:"enabled_dir" json:"enabled_dir"`
}

func (s Site) name() string {
	if s.Name != "" {
		return s.Name
	}
	return filepath.Base(s.Source)
}

// InstallResult reports what Install changed.
type InstallResult struct {
	AvailablePath string `json:"availablePath"`
	EnabledPath   string `json:"enabledPath"`
	Copied        bool   `json:"copied"`
	Linked        bool   `json:"linked"`
}

// Changed reports whether anything on disk was modified.
func (r InstallResult) Changed() bool {
	return r.Copied || r.Linked
}

// Installer copies and links proxy site configs.
type Installer struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewInstaller creates an Installer on fsys. A nil logger means slog.Default.
func NewInstaller(fsys afero.Fs, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{fs: fsys, logger: logger}
}

// Install copies site.Source into AvailableDir when the contents differ and
// makes EnabledDir/<name> a symlink to the installed copy. When the file
// system cannot create symlinks the enabled entry is a plain copy instead.
func (i *Installer) Install(site Site) (InstallResult, error) {
	name := site.name()
	res := InstallResult{
		AvailablePath: filepath.Join(site.AvailableDir, name),
		EnabledPath:   filepath.Join(site.EnabledDir, name),
	}

	data, err := afero.ReadFile(i.fs, site.Source)
	if err != nil {
		return res, fmt.Errorf("read site config: %w", err)
	}

	copied, err := writeIfChanged(i.fs, res.AvailablePath, data, 0o644)
	if err != nil {
		return res, fmt.Errorf("install site config: %w", err)
	}
	res.Copied = copied

	linked, err := i.ensureLink(res.AvailablePath, res.EnabledPath, data)
	if err != nil {
		return res, fmt.Errorf("enable site config: %w", err)
	}
	res.Linked = linked

	if res.Changed() {
		i.logger.Info("📝 proxy site installed", "site", name, "copied", res.Copied, "linked", res.Linked)
	} else {
		i.logger.Info("ℹ️ proxy site already up to date", "site", name)
	}
	return res, nil
}

// ensureLink makes enabled point at target. An existing correct link is
// left alone; a stale link or a regular file in its place is replaced.
func (i *Installer) ensureLink(target, enabled string, data []byte) (bool, error) {
	if err := i.fs.MkdirAll(filepath.Dir(enabled), 0o755); err != nil {
		return false, err
	}

	linker, canLink := i.fs.(afero.Linker)
	reader, canRead := i.fs.(afero.LinkReader)
	if !canLink || !canRead {
		return writeIfChanged(i.fs, enabled, data, 0o644)
	}

	current, err := reader.ReadlinkIfPossible(enabled)
	if err == nil && current == target {
		return false, nil
	}

	if _, err := lstat(i.fs, enabled); err == nil {
		if err := i.fs.Remove(enabled); err != nil {
			return false, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	if err := linker.SymlinkIfPossible(target, enabled); err != nil {
		return false, err
	}
	return true, nil
}

// lstat stats without following links when the file system supports it.
func lstat(fsys afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return fsys.Stat(name)
}

// writeIfChanged writes data to path unless path already holds exactly
// data, and reports whether it wrote.
func writeIfChanged(fsys afero.Fs, path string, data []byte, perm os.FileMode) (bool, error) {
	existing, err := afero.ReadFile(fsys, path)
	if err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := afero.WriteFile(fsys, path, data, perm); err != nil {
		return false, err
	}
	return true, nil
}
