package settings

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/mutker/motordash/internal/errors"
	"codeberg.org/mutker/motordash/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

const defaultDirPerm = 0o755

// Repository persists a single settings record.
type Repository interface {
	// Load returns the stored settings and whether a record exists.
	Load(ctx context.Context) (Settings, bool, error)
	Save(ctx context.Context, s Settings) error
	Clear(ctx context.Context) error
	Close() error
}

type sqliteRepository struct {
	db     *sql.DB
	logger logger.Logger
	mu     sync.Mutex
}

// NewRepository opens (creating if needed) the SQLite settings database at dbPath.
func NewRepository(dbPath string, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if dbPath == "" {
		return nil, errFactory.WithData(ErrStorageInit, "empty database path")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  dbPath,
			Error: err.Error(),
		})
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, dbPath, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", dbPath).
		Int("schema_version", SchemaVersion).
		Msg("Settings repository initialized")

	return &sqliteRepository{db: db, logger: log}, nil
}

func (r *sqliteRepository) Load(ctx context.Context) (Settings, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		s          Settings
		simulation int
	)
	err := r.db.QueryRowContext(ctx, selectSettingsSQL).Scan(&s.APIBaseURL, &s.RefreshRateMs, &simulation)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, errors.New().Wrap(ErrStorageAccess, err)
	}
	s.SimulationMode = simulation == 1

	return s, true, nil
}

func (r *sqliteRepository) Save(ctx context.Context, s Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, upsertSettingsSQL,
		s.APIBaseURL,
		s.RefreshRateMs,
		boolToInt(s.SimulationMode),
	); err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}

	r.logger.Debug().
		Str("api_base_url", s.APIBaseURL).
		Int("refresh_rate_ms", s.RefreshRateMs).
		Bool("simulation_mode", s.SimulationMode).
		Msg("Settings saved")

	return nil
}

func (r *sqliteRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, deleteSettingsSQL); err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		r.logger.Debug().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := r.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}

	return nil
}

// memoryRepository keeps settings for the life of the process only.
type memoryRepository struct{}

func (memoryRepository) Load(context.Context) (Settings, bool, error) { return Settings{}, false, nil }
func (memoryRepository) Save(context.Context, Settings) error         { return nil }
func (memoryRepository) Clear(context.Context) error                  { return nil }
func (memoryRepository) Close() error                                 { return nil }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
