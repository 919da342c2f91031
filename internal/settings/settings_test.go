package settings_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/motordash/internal/errors"
	"codeberg.org/mutker/motordash/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestDefaults(t *testing.T) {
	s := settings.Defaults()

	assert.Equal(t, "http://192.168.1.100", s.APIBaseURL)
	assert.Equal(t, 1000, s.RefreshRateMs)
	assert.True(t, s.SimulationMode)
	assert.Equal(t, time.Second, s.RefreshInterval())
	require.NoError(t, s.Validate())
}

func TestValidate(t *testing.T) {
	s := settings.Defaults()
	s.RefreshRateMs = 0
	assert.True(t, errors.HasCode(s.Validate(), errors.ErrInvalidInterval))

	s = settings.Defaults()
	s.APIBaseURL = "not a url"
	assert.True(t, errors.HasCode(s.Validate(), errors.ErrInvalidBaseURL))

	s = settings.Defaults()
	s.RefreshRateMs = 333
	assert.NoError(t, s.Validate(), "non-recommended rates are accepted")
}

func TestApplyPatch(t *testing.T) {
	s := settings.Defaults().Apply(settings.Patch{RefreshRateMs: ptr(250)})

	assert.Equal(t, 250, s.RefreshRateMs)
	assert.Equal(t, settings.DefaultAPIBaseURL, s.APIBaseURL)
	assert.True(t, s.SimulationMode)
}

func TestStorePersistsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "motordash", "settings.db")

	store, err := settings.Open(ctx, dbPath, settings.Defaults())
	require.NoError(t, err)

	_, err = store.Update(ctx, settings.Patch{
		APIBaseURL:     ptr("http://10.0.0.5:8080"),
		SimulationMode: ptr(false),
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := settings.Open(ctx, dbPath, settings.Defaults())
	require.NoError(t, err)
	defer reopened.Close()

	got := reopened.Current()
	assert.Equal(t, "http://10.0.0.5:8080", got.APIBaseURL)
	assert.False(t, got.SimulationMode)
	assert.Equal(t, 1000, got.RefreshRateMs)
}

func TestStoreResetForgetsSavedSettings(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "settings.db")

	store, err := settings.Open(ctx, dbPath, settings.Defaults())
	require.NoError(t, err)

	_, err = store.Update(ctx, settings.Patch{RefreshRateMs: ptr(5000)})
	require.NoError(t, err)

	got, err := store.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings.Defaults(), got)
	require.NoError(t, store.Close())

	reopened, err := settings.Open(ctx, dbPath, settings.Defaults())
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, settings.Defaults(), reopened.Current())
}

func TestStoreRejectsInvalidUpdate(t *testing.T) {
	ctx := context.Background()
	store, err := settings.Open(ctx, "", settings.Defaults())
	require.NoError(t, err)

	_, err = store.Update(ctx, settings.Patch{RefreshRateMs: ptr(-1)})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, settings.ErrInvalidSettings))
	assert.Equal(t, settings.Defaults(), store.Current())
}

// slowRepository widens the window between reading and saving settings.
type slowRepository struct {
	mu    sync.Mutex
	saved []settings.Settings
}

func (r *slowRepository) Load(context.Context) (settings.Settings, bool, error) {
	return settings.Settings{}, false, nil
}

func (r *slowRepository) Save(_ context.Context, s settings.Settings) error {
	time.Sleep(5 * time.Millisecond)
	r.mu.Lock()
	r.saved = append(r.saved, s)
	r.mu.Unlock()
	return nil
}

func (r *slowRepository) Clear(context.Context) error { return nil }
func (r *slowRepository) Close() error                { return nil }

func TestStoreConcurrentUpdatesKeepEveryField(t *testing.T) {
	ctx := context.Background()
	repo := &slowRepository{}
	store, err := settings.NewStore(ctx, repo, settings.Defaults())
	require.NoError(t, err)

	patches := []settings.Patch{
		{APIBaseURL: ptr("http://10.0.0.7")},
		{RefreshRateMs: ptr(250)},
		{SimulationMode: ptr(false)},
	}

	var wg sync.WaitGroup
	for _, p := range patches {
		wg.Add(1)
		go func(p settings.Patch) {
			defer wg.Done()
			_, err := store.Update(ctx, p)
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	want := settings.Settings{APIBaseURL: "http://10.0.0.7", RefreshRateMs: 250, SimulationMode: false}
	assert.Equal(t, want, store.Current())
	require.Len(t, repo.saved, 3)
	assert.Equal(t, want, repo.saved[2], "last save holds all three changes")
}

func TestStoreNotifiesWatchers(t *testing.T) {
	ctx := context.Background()
	store, err := settings.Open(ctx, "", settings.Defaults())
	require.NoError(t, err)

	var seen []settings.Settings
	store.Watch(func(s settings.Settings) { seen = append(seen, s) })

	_, err = store.Update(ctx, settings.Patch{RefreshRateMs: ptr(500)})
	require.NoError(t, err)
	_, err = store.Update(ctx, settings.Patch{RefreshRateMs: ptr(500)})
	require.NoError(t, err)
	_, err = store.Reset(ctx)
	require.NoError(t, err)

	require.Len(t, seen, 2, "unchanged updates are not announced")
	assert.Equal(t, 500, seen[0].RefreshRateMs)
	assert.Equal(t, 1000, seen[1].RefreshRateMs)
}

func TestSchemaVersionRecorded(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "settings.db")

	store, err := settings.Open(ctx, dbPath, settings.Defaults())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	version, err := settings.GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, settings.SchemaVersion, version)
}

func TestSchemaMismatchIsBackedUpAndRecreated(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "settings.db")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions (version, applied_at) VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err := settings.Open(ctx, dbPath, settings.Defaults())
	require.NoError(t, err)
	defer store.Close()

	backups, err := filepath.Glob(filepath.Join(dir, "backups", "settings_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
	assert.Equal(t, settings.Defaults(), store.Current())
}
