package main

import (
	"context"
	"flag"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
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
	"anilist-notifier/internal/usecase/cleanup"
	"anilist-notifier/internal/usecase/dispatch"
	"anilist-notifier/internal/usecase/schedule"
)

// Разовый обслуживающий проход: планирование, рассылка и чистка подряд.
// Каждый шаг можно пропустить флагом; ненулевой код выхода означает фатальную
// ошибку одного из шагов.
func main() {
	skipSchedule := flag.Bool("skip-schedule", false, "пропустить планирование уведомлений")
	skipSend := flag.Bool("skip-send", false, "пропустить рассылку")
	skipCleanup := flag.Bool("skip-cleanup", false, "пропустить чистку хранилища")
	limit := flag.Int("limit", 0, "максимум аниме за проход планирования (0 — из конфига)")
	cleanupDays := flag.Int("cleanup-days", -1, "срок хранения sent-записей в днях (-1 — из конфига)")
	flag.Parse()

	cfg := config.Load()
	log.Logger = applog.NewLogger(cfg.AppEnv)
	if *limit <= 0 {
		*limit = cfg.Jobs.ScheduleLimit
	}
	if *cleanupDays < 0 {
		*cleanupDays = cfg.Jobs.RetentionDays
	}

	runID := uuid.NewString()
	logger := log.With().Str("run", runID).Logger()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("maintenance: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	redisCache := cache.NewRedis(redisClient, "notifier")

	repoAdapter := repo.NewPostgres(pool)
	episodes := anilist.NewCached(anilist.NewClient(cfg.AniList.BaseURL, cfg.AniList.Timeout), redisCache, cfg.AniList.InfoTTL)

	ctx := context.Background()
	fatal := false

	if !*skipSchedule {
		scheduleService := schedule.NewService(repoAdapter, repoAdapter, episodes, logger.With().Str("component", "schedule").Logger())
		scheduled, err := scheduleService.ScheduleBatch(ctx, *limit)
		if err != nil {
			logger.Error().Err(err).Msg("maintenance: планирование завершилось с ошибкой")
			fatal = true
		} else {
			logger.Info().Int("scheduled", scheduled).Msg("maintenance: планирование выполнено")
		}
	} else {
		logger.Info().Msg("maintenance: планирование пропущено")
	}

	if !*skipSend {
		notifier := buildNotifier(cfg)
		dispatchService := dispatch.NewService(repoAdapter, episodes, notifier, logger.With().Str("component", "dispatch").Logger())
		report, err := dispatchService.SendDue(ctx, cfg.Jobs.SendLimit)
		if err != nil {
			logger.Error().Err(err).Msg("maintenance: рассылка завершилась с ошибкой")
			fatal = true
		} else {
			logger.Info().Int("sent", report.Sent).Int("failed", report.Failed).Int("total", report.Total).Msg("maintenance: рассылка выполнена")
		}
	} else {
		logger.Info().Msg("maintenance: рассылка пропущена")
	}

	if !*skipCleanup {
		cleanupService := cleanup.NewService(repoAdapter, logger.With().Str("component", "cleanup").Logger())
		report, err := cleanupService.Run(ctx, *cleanupDays)
		if err != nil {
			logger.Error().Err(err).Msg("maintenance: чистка завершилась с ошибкой")
			fatal = true
		} else {
			logger.Info().Int("cancelled", report.Cancelled).Int("deleted", report.Deleted).Msg("maintenance: чистка выполнена")
		}
	} else {
		logger.Info().Msg("maintenance: чистка пропущена")
	}

	logger.Info().Time("finished_at", time.Now().UTC()).Msg("maintenance: проход завершён")
	if fatal {
		os.Exit(1)
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
			log.Fatal().Err(err).Msg("maintenance: не удалось создать Telegram-бота")
		}
		channels = append(channels, notify.NewTelegram(bot))
	}
	if len(channels) == 0 {
		log.Fatal().Msg("maintenance: не настроен ни один канал доставки")
	}
	return notify.NewMulti(channels...)
}
