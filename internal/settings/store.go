package settings

import (
	"context"
	"sync"

	"codeberg.org/mutker/motordash/internal/errors"
	"codeberg.org/mutker/motordash/internal/logger"
)

// Store is the current settings, observed by the engine and the controller
// client. Every change is persisted and announced to watchers.
type Store struct {
	mu       sync.RWMutex
	current  Settings
	defaults Settings
	repo     Repository
	watchers []func(Settings)
	logger   logger.Logger
}

// Open builds a Store backed by the SQLite database at dbPath. An empty
// path keeps settings in memory only. Previously saved settings take
// precedence over defaults.
func Open(ctx context.Context, dbPath string, defaults Settings) (*Store, error) {
	log := logger.Component("settings")

	if err := defaults.Validate(); err != nil {
		return nil, errors.New().Wrap(ErrInvalidSettings, err)
	}

	var repo Repository = memoryRepository{}
	if dbPath != "" {
		var err error
		if repo, err = NewRepository(dbPath, log); err != nil {
			return nil, err
		}
	} else {
		log.Debug().Msg("Settings persistence disabled, using in-memory store")
	}

	return NewStore(ctx, repo, defaults)
}

// NewStore builds a Store on top of repo.
func NewStore(ctx context.Context, repo Repository, defaults Settings) (*Store, error) {
	s := &Store{
		current:  defaults,
		defaults: defaults,
		repo:     repo,
		logger:   logger.Component("settings"),
	}

	saved, ok, err := repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := saved.Validate(); err != nil {
			s.logger.Warn().Err(err).Msg("Ignoring invalid saved settings")
		} else {
			s.current = saved
		}
	}

	return s, nil
}

// Current returns the settings in effect.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies a partial update, persists it and notifies watchers. The
// patch is applied to the settings current at commit time, so concurrent
// updates to different fields do not overwrite each other.
func (s *Store) Update(ctx context.Context, p Patch) (Settings, error) {
	s.mu.Lock()
	return s.commit(ctx, s.current.Apply(p))
}

// Replace swaps in a complete settings value.
func (s *Store) Replace(ctx context.Context, next Settings) (Settings, error) {
	s.mu.Lock()
	return s.commit(ctx, next)
}

// commit validates, saves and installs next. It is called with s.mu held
// and releases it before notifying watchers.
func (s *Store) commit(ctx context.Context, next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		current := s.current
		s.mu.Unlock()
		return current, errors.New().Wrap(ErrInvalidSettings, err)
	}

	if next == s.current {
		s.mu.Unlock()
		return next, nil
	}
	if err := s.repo.Save(ctx, next); err != nil {
		current := s.current
		s.mu.Unlock()
		return current, err
	}
	s.current = next
	watchers := append([]func(Settings){}, s.watchers...)
	s.mu.Unlock()

	s.logger.Info().
		Str("api_base_url", next.APIBaseURL).
		Int("refresh_rate_ms", next.RefreshRateMs).
		Bool("simulation_mode", next.SimulationMode).
		Msg("Settings updated")

	for _, fn := range watchers {
		fn(next)
	}

	return next, nil
}

// Reset restores the defaults and forgets the persisted record.
func (s *Store) Reset(ctx context.Context) (Settings, error) {
	if err := s.repo.Clear(ctx); err != nil {
		return s.Current(), err
	}

	s.mu.Lock()
	changed := s.current != s.defaults
	s.current = s.defaults
	watchers := append([]func(Settings){}, s.watchers...)
	s.mu.Unlock()

	if changed {
		for _, fn := range watchers {
			fn(s.defaults)
		}
	}

	return s.defaults, nil
}

// Watch registers fn to be called after every change. fn must not block.
func (s *Store) Watch(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

func (s *Store) Close() error {
	return s.repo.Close()
}
