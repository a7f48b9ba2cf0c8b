package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/xtxerr/tally/internal/logging"
	"github.com/xtxerr/tally/internal/storage/config"
	"github.com/xtxerr/tally/internal/storage/query"
	"github.com/xtxerr/tally/internal/storage/retention"
)

// app holds the state shared by all commands, including across shell lines.
type app struct {
	out io.Writer

	// Persistent flags
	configPath string
	dir        string
	format     string
	verbose    bool
}

func newApp(out io.Writer) *app {
	return &app{
		out:        out,
		configPath: "tally.yaml",
		format:     "auto",
	}
}

// config resolves the engine config: file first, then the --dir override.
func (a *app) config() (*config.Config, error) {
	cfg, err := config.Read(a.configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.DefaultConfig()
	}

	if a.dir != "" {
		cfg.StorageDir = a.dir
	}
	if cfg.StorageDir == "" {
		return nil, fmt.Errorf("no storage directory: pass --dir or set storage_dir in %s", a.configPath)
	}
	if _, err := os.Stat(cfg.StorageDir); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func (a *app) logger() *slog.Logger {
	if a.verbose {
		logging.Setup(os.Stderr, slog.LevelDebug, false)
		return logging.Component("tallyctl")
	}
	return logging.Discard()
}

func (a *app) queryService() (*query.Service, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	return query.New(cfg, a.logger()), nil
}

func (a *app) retentionManager(days int) (*retention.Manager, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	if days > 0 {
		cfg.RetentionPeriod = days
	}
	return retention.New(cfg, a.logger()), nil
}
