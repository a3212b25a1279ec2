package config

import (
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
	"github.com/ymparistovahti/vahti/pkg/repository/sqlite"
)

// Repository holds persistence configuration
type Repository struct {
	databaseURL    string
	storageBackend string
	storageDir     string
}

// Flags returns CLI flags for repository configuration
func (r *Repository) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "database",
			Usage:       "Path to the SQLite database",
			Value:       "./data/watchdog.db",
			Sources:     cli.EnvVars("DATABASE_URL"),
			Destination: &r.databaseURL,
		},
		&cli.StringFlag{
			Name:        "storage-backend",
			Usage:       "File storage backend (only 'local' is supported)",
			Value:       "local",
			Sources:     cli.EnvVars("STORAGE_BACKEND"),
			Destination: &r.storageBackend,
		},
		&cli.StringFlag{
			Name:        "storage-dir",
			Usage:       "Directory for downloaded files",
			Value:       "./data/files",
			Sources:     cli.EnvVars("VAHTI_STORAGE_DIR"),
			Destination: &r.storageDir,
		},
	}
}

// StorageDir returns the configured file storage directory
func (r *Repository) StorageDir() string {
	return r.storageDir
}

// Configure validates the configuration, prepares directories and opens
// the store.
func (r *Repository) Configure() (interfaces.Repository, error) {
	if r.storageBackend != "local" {
		return nil, goerr.New("unsupported storage backend",
			goerr.V("backend", r.storageBackend))
	}
	if err := os.MkdirAll(filepath.Dir(r.databaseURL), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create database directory",
			goerr.V("path", r.databaseURL))
	}
	if err := os.MkdirAll(r.storageDir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory",
			goerr.V("path", r.storageDir))
	}
	return sqlite.New(r.databaseURL)
}
