package manager

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/quantmind-br/hpkg/internal/archive"
	"github.com/quantmind-br/hpkg/internal/cache"
	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/db"
	"github.com/quantmind-br/hpkg/internal/download"
	"github.com/quantmind-br/hpkg/internal/lock"
	"github.com/quantmind-br/hpkg/internal/paths"
	"github.com/quantmind-br/hpkg/internal/signing"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Manager runs every package workflow against one install root. It owns the
// ledger, the artifact cache and the downloader; nothing is global.
type Manager struct {
	cfg        *config.Config
	db         *db.DB
	cache      *cache.PackageCache
	downloader download.Downloader
	verifier   signing.Verifier
	extractor  *archive.Extractor
	fs         afero.Fs
	paths      *paths.Resolver
	log        *zerolog.Logger
	publicKey  []byte
}

// Deps are the collaborators of a Manager. Nil fields get defaults.
type Deps struct {
	Config     *config.Config
	DB         *db.DB
	Cache      *cache.PackageCache
	Downloader download.Downloader
	Verifier   signing.Verifier
	Fs         afero.Fs
	Log        *zerolog.Logger
	PublicKey  []byte
}

// New opens the ledger and cache described by cfg
func New(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (*Manager, error) {
	database, err := db.New(ctx, cfg.DBFile())
	if err != nil {
		return nil, err
	}

	key, err := loadPublicKey(cfg.Install.PublicKey)
	if err != nil {
		database.Close()
		return nil, err
	}

	m, err := NewWithDeps(Deps{
		Config:     cfg,
		DB:         database,
		Downloader: download.New(cfg.Install.ParallelDownloads, log),
		Log:        log,
		PublicKey:  key,
	})
	if err != nil {
		database.Close()
		return nil, err
	}
	return m, nil
}

// NewWithDeps creates a Manager with injected dependencies (for testing)
func NewWithDeps(d Deps) (*Manager, error) {
	if d.Config == nil {
		return nil, errors.New("manager: config is required")
	}
	if d.DB == nil {
		return nil, errors.New("manager: database is required")
	}
	if d.Log == nil {
		nop := zerolog.Nop()
		d.Log = &nop
	}
	if d.Fs == nil {
		d.Fs = afero.NewOsFs()
	}
	if d.Verifier == nil {
		d.Verifier = signing.Ed25519Verifier{}
	}
	if d.Downloader == nil {
		d.Downloader = download.NewWithDeps(d.Config.Install.ParallelDownloads, d.Log, d.Fs, nil)
	}
	if d.Cache == nil {
		c, err := cache.New(d.Fs, d.Config.CacheDir(), d.Log)
		if err != nil {
			return nil, err
		}
		d.Cache = c
	}

	return &Manager{
		cfg:        d.Config,
		db:         d.DB,
		cache:      d.Cache,
		downloader: d.Downloader,
		verifier:   d.Verifier,
		extractor:  archive.NewExtractor(d.Fs, d.Log),
		fs:         d.Fs,
		paths:      paths.NewResolver(d.Config),
		log:        d.Log,
		publicKey:  d.PublicKey,
	}, nil
}

// Close releases the ledger
func (m *Manager) Close() error {
	return m.db.Close()
}

// DB exposes the ledger for read-only reporting
func (m *Manager) DB() *db.DB {
	return m.db
}

// Cache exposes the artifact cache
func (m *Manager) Cache() *cache.PackageCache {
	return m.cache
}

// withLock runs fn while holding the install root's advisory lock. Only the
// exported mutating workflows take it; internal helpers assume it is held.
func (m *Manager) withLock(fn func() error) error {
	l, err := lock.Acquire(m.paths.Root())
	if err != nil {
		return err
	}
	defer func() {
		if rerr := l.Release(); rerr != nil {
			m.log.Warn().Err(rerr).Str("path", l.Path()).Msg("failed to release lock")
		}
	}()
	return fn()
}

// loadPublicKey accepts either a key file path or an inline encoded key
func loadPublicKey(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	if _, err := os.Stat(value); err == nil {
		return signing.LoadPublicKey(value)
	}
	key, err := signing.ParsePublicKey(value)
	if err != nil {
		return nil, fmt.Errorf("install.public_key: %w", err)
	}
	return key, nil
}
