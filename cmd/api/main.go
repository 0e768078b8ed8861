package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"anilist-notifier/internal/adapters/repo"
	"anilist-notifier/internal/api"
	"anilist-notifier/internal/infra/config"
	"anilist-notifier/internal/infra/db"
	ihttp "anilist-notifier/internal/infra/http"
	applog "anilist-notifier/internal/infra/log"
	"anilist-notifier/internal/infra/metrics"
	"anilist-notifier/internal/usecase/followevent"
)

func main() {
	cfg := config.Load()
	log.Logger = applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	events := followevent.NewHandler(repoAdapter, log.With().Str("component", "followevent").Logger())
	handler := api.NewHandler(repoAdapter, repoAdapter, repoAdapter, events, log.With().Str("component", "api").Logger())

	server := ihttp.NewServer(log.With().Str("component", "http").Logger())
	handler.RegisterRoutes(server.Router)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("api: ошибка остановки HTTP сервера")
		}
	}()

	if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("api: HTTP сервер завершился с ошибкой")
	}
	log.Info().Msg("api: остановка")
}
