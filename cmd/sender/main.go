package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"anilist-notifier/internal/adapters/anilist"
	"anilist-notifier/internal/adapters/notify"
	"anilist-notifier/internal/adapters/repo"
	"anilist-notifier/internal/domain"
	"anilist-notifier/internal/infra/cache"
	"anilist-notifier/internal/infra/config"
	"anilist-notifier/internal/infra/db"
	applog "anilist-notifier/internal/infra/log"
	"anilist-notifier/internal/infra/metrics"
	"anilist-notifier/internal/usecase/dispatch"
)

func main() {
	cfg := config.Load()
	log.Logger = applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sender: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	redisCache := cache.NewRedis(redisClient, "notifier")

	repoAdapter := repo.NewPostgres(pool)
	episodes := anilist.NewCached(anilist.NewClient(cfg.AniList.BaseURL, cfg.AniList.Timeout), redisCache, cfg.AniList.InfoTTL)
	notifier := buildNotifier(cfg)

	dispatchService := dispatch.NewService(repoAdapter, episodes, notifier, log.With().Str("component", "dispatch").Logger())

	metrics.StartServer(ctx, log.Logger, ":9091")

	ticker := time.NewTicker(cfg.Jobs.SendEvery)
	defer ticker.Stop()
	for {
		runSend(ctx, dispatchService, redisCache, cfg.Jobs.SendLimit, cfg.Jobs.SendEvery)
		select {
		case <-ctx.Done():
			log.Info().Msg("sender: остановка")
			return
		case <-ticker.C:
		}
	}
}

func runSend(ctx context.Context, service *dispatch.Service, locks domain.Cache, limit int, every time.Duration) {
	err := locks.Once("lock:send", every/2, func() error {
		start := time.Now()
		report, err := service.SendDue(ctx, limit)
		metrics.SendRunSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		log.Info().Int("sent", report.Sent).Int("failed", report.Failed).Int("total", report.Total).Msg("sender: проход завершён")
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("sender: проход рассылки не удался")
	}
}

func buildNotifier(cfg config.AppConfig) domain.Notifier {
	channels := make([]domain.Notifier, 0, 2)
	if cfg.Mail.ResendAPIKey != "" {
		channels = append(channels, notify.NewEmail(cfg.Mail.ResendAPIKey, cfg.Mail.From))
	}
	if cfg.Telegram.Token != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Fatal().Err(err).Msg("sender: не удалось создать Telegram-бота")
		}
		channels = append(channels, notify.NewTelegram(bot))
	}
	if len(channels) == 0 {
		log.Fatal().Msg("sender: не настроен ни один канал доставки")
	}
	return notify.NewMulti(channels...)
}
