package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/motordash/internal/config"
	"codeberg.org/mutker/motordash/internal/controller"
	"codeberg.org/mutker/motordash/internal/dashboard"
	"codeberg.org/mutker/motordash/internal/engine"
	"codeberg.org/mutker/motordash/internal/errors"
	"codeberg.org/mutker/motordash/internal/logger"
	"codeberg.org/mutker/motordash/internal/pid"
	"codeberg.org/mutker/motordash/internal/settings"
	"codeberg.org/mutker/motordash/internal/simulation"
	"github.com/spf13/pflag"
)

var (
	cfg   *config.Config
	store *settings.Store
)

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Str("file", cfg.File()).Msg("Config loaded")

	if err := pid.Write(cfg.PIDFile); err != nil {
		logger.Fatal().Err(err).Str("pid_file", cfg.PIDFile).Msg("Failed to write PID file")
	}

	store, err = settings.Open(context.Background(), cfg.SettingsDB, cfg.Settings())
	if err != nil {
		pid.Remove(cfg.PIDFile)
		logger.FatalWithCode(errors.New().Wrap(errors.ErrInitApp, err)).Str("settings_db", cfg.SettingsDB).Msg("Failed to open settings store")
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx, cancel); err != nil {
		logger.ErrorWithCode(errors.New().Wrap(errors.ErrMainLoop, err)).Msg("Error in main loop")
	}
	cleanup()
}

func run(ctx context.Context, cancel context.CancelFunc) error {
	current := store.Current()
	logger.Info().
		Str("listen", cfg.Listen).
		Str("api_base_url", current.APIBaseURL).
		Int("refresh_rate_ms", current.RefreshRateMs).
		Bool("simulation_mode", current.SimulationMode).
		Msg("Starting motordash")

	client := controller.New(store, cfg.ControllerTimeout)
	model := simulation.New(rand.New(rand.NewSource(time.Now().UnixNano())))
	eng := engine.New(store, model, client)
	srv := dashboard.New(cfg.Listen, eng, store)

	if err := cfg.Watch(ctx, applyConfig); err != nil {
		logger.Warn().Err(err).Msg("Config file watch unavailable")
	}

	var (
		wg   sync.WaitGroup
		once sync.Once
		fail error
	)
	stop := func(err error) {
		once.Do(func() { fail = err })
		cancel()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := eng.Run(ctx); err != nil {
			stop(err)
			return
		}
		stop(nil)
	}()
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			stop(err)
			return
		}
		stop(nil)
	}()
	wg.Wait()

	return fail
}

// applyConfig pushes settings from a reloaded config file into the store.
func applyConfig(next *config.Config) {
	logger.SetLogLevel(logger.ParseLevel(next.LogLevel))

	s := next.Settings()
	if _, err := store.Update(context.Background(), settings.Patch{
		APIBaseURL:     &s.APIBaseURL,
		RefreshRateMs:  &s.RefreshRateMs,
		SimulationMode: &s.SimulationMode,
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to apply reloaded settings")
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup() {
	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close settings store")
	}
	if err := pid.Remove(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Msg("Failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
}
