package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/motordash/internal/emulator"
	"codeberg.org/mutker/motordash/internal/logger"
	"codeberg.org/mutker/motordash/internal/simulation"
	"github.com/spf13/pflag"
)

var (
	listen   string
	interval time.Duration
	logLevel string
	seed     int64
)

func init() {
	pflag.StringVar(&listen, "listen", "127.0.0.1:8081", "Controller API listen address")
	pflag.DurationVar(&interval, "interval", 100*time.Millisecond, "Simulation step interval")
	pflag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warning, error)")
	pflag.Int64Var(&seed, "seed", 0, "Random seed (0 seeds from the clock)")
	pflag.Parse()

	if interval <= 0 {
		fmt.Printf("invalid interval: %s\n", interval)
		os.Exit(1)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	logger.Init(logLevel, logger.IsService())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	emu := emulator.New(simulation.New(rand.New(rand.NewSource(seed))))
	go emu.Run(ctx, interval)

	srv := &http.Server{
		Addr:              listen,
		Handler:           emu.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("listen", listen).Dur("interval", interval).Int64("seed", seed).Msg("Controller emulator listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("Controller emulator failed")
	}
	logger.Info().Msg("Exiting...")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
