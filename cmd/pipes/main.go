package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/config"
	"github.com/tarungka/pipes/internal/logger"
	"github.com/tarungka/pipes/internal/pipeline"
	"github.com/tarungka/pipes/internal/utils"
	"github.com/tarungka/pipes/server"
	"github.com/tarungka/pipes/sinks"
	"github.com/tarungka/pipes/sources"
)

var buildString = "unknown"

func main() {
	ko := koanf.New(".")
	if err := initFlags(ko, os.Args[1:]); err != nil {
		logger.AdHocLogger.Fatal().Err(err).Msg("could not load configuration")
	}
	if ko.Bool("version") {
		fmt.Println(buildString)
		return
	}

	cfg, err := config.Unmarshal(ko)
	if err != nil {
		logger.AdHocLogger.Fatal().Err(err).Msg("invalid configuration")
	}
	if port := ko.String("port"); port != "" {
		cfg.Admin.Port = port
	}
	cfg.Dev = cfg.Dev || ko.Bool("dev")

	logger.SetDevelopment(cfg.Dev)
	if cfg.LogFile != "" {
		f, err := openLogFile(cfg.LogFile)
		if err != nil {
			logger.AdHocLogger.Fatal().Err(err).Str("path", cfg.LogFile).Msg("could not open log file")
		}
		defer f.Close()
		logger.SetLogFile(f)
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		logger.AdHocLogger.Warn().Err(err).Str("level", cfg.LogLevel).Msg("unknown log level, using info")
	}
	logger.SetServiceName("pipes")
	log := logger.GetLogger("main")
	log.Info().Str("build", buildString).Msgf("Build Version: %s", buildString)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("pipes host stopped with an error")
	}
}

func openLogFile(path string) (*os.File, error) {
	if !utils.PathExists(path) {
		logger.AdHocLogger.Info().Str("path", path).Msg("creating log file")
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	stores, err := cfg.OpenStores(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn().Err(err).Msg("closing stores")
		}
	}()

	reg := pipeline.NewRegistry(pipeline.Deps{
		Sources:     sources.NewFactory(),
		Sinks:       sinks.NewFactory(),
		Checkpoints: stores.Checkpoints,
		DeadLetters: stores.DeadLetters,
		Guard:       stores.Guard,
	})

	// A pipe that cannot be activated is logged and skipped; the others run.
	for _, pc := range cfg.Pipes {
		if _, err := reg.Activate(ctx, pc); err != nil {
			log.Error().Err(err).Str("pipe", pc.Name).Msg("pipe not activated")
			continue
		}
	}

	srv := server.New(":"+cfg.Admin.Port, reg, server.WithStopTimeout(cfg.Admin.StopTimeout))
	if err := srv.Start(); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		reg.StopAll(stopCtx)
		return fmt.Errorf("start admin server: %w", err)
	}

	<-ctx.Done()
	log.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("received shutdown signal, draining pipes")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("admin server shutdown")
	}
	if err := reg.StopAll(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("some pipes did not drain in time, their in-flight batches will be redelivered")
	}
	log.Info().Msg("pipes host stopped")
	return nil
}
