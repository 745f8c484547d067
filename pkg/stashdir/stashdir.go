// Package stashdir encapsulates all path knowledge for the stash data
// directory. It provides a Dir value object with accessors for the config
// file, the .env file, the whitelist and the encrypted repositories.
package stashdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultRoot is used when no directory is given.
const DefaultRoot = ".stash"

// Dir is a value object that resolves paths within a stash directory.
type Dir struct {
	root string
}

// New creates a Dir rooted at the given path. The path is converted to an
// absolute path. No I/O is performed; use EnsureStructure to create the
// directory layout.
func New(root string) Dir {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}

	return Dir{root: abs}
}

// Root returns the absolute path to the directory.
func (d Dir) Root() string { return d.root }

// ConfigPath returns the path to the main config file.
func (d Dir) ConfigPath() string { return filepath.Join(d.root, "config.yaml") }

// EnvPath returns the path to the optional .env file.
func (d Dir) EnvPath() string { return filepath.Join(d.root, ".env") }

// WhitelistPath returns the path to the actor whitelist.
func (d Dir) WhitelistPath() string { return filepath.Join(d.root, "whitelist") }

// LogPath returns the path of the console log file.
func (d Dir) LogPath() string { return filepath.Join(d.root, "console.log") }

// ReposDir returns the directory holding encrypted repositories.
func (d Dir) ReposDir() string { return filepath.Join(d.root, "repos") }

// Exists reports whether the root directory exists on disk.
func (d Dir) Exists() bool {
	info, err := os.Stat(d.root)

	return err == nil && info.IsDir()
}

// HasConfig reports whether the config file exists.
func (d Dir) HasConfig() bool {
	_, err := os.Stat(d.ConfigPath())

	return err == nil
}

// EnsureStructure creates the root and repos/ directories if they are
// missing. It is safe to call multiple times.
func EnsureStructure(d Dir) error {
	if err := os.MkdirAll(d.ReposDir(), 0o700); err != nil {
		return fmt.Errorf("stashdir: create repos dir: %w", err)
	}

	return nil
}

// Bootstrap lays out the directory and writes config as the config file
// unless one already exists.
func Bootstrap(d Dir, config []byte) error {
	if err := EnsureStructure(d); err != nil {
		return err
	}

	if d.HasConfig() {
		return nil
	}

	if err := os.WriteFile(d.ConfigPath(), config, 0o600); err != nil {
		return fmt.Errorf("stashdir: write config: %w", err)
	}

	return nil
}
