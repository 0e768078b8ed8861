package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"anilist-notifier/internal/adapters/anilist"
	"anilist-notifier/internal/adapters/repo"
	"anilist-notifier/internal/domain"
	"anilist-notifier/internal/infra/cache"
	"anilist-notifier/internal/infra/config"
	"anilist-notifier/internal/infra/db"
	applog "anilist-notifier/internal/infra/log"
	"anilist-notifier/internal/infra/metrics"
	"anilist-notifier/internal/infra/queue"
	"anilist-notifier/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	log.Logger = applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	redisCache := cache.NewRedis(redisClient, "notifier")

	repoAdapter := repo.NewPostgres(pool)
	episodes := anilist.NewCached(anilist.NewClient(cfg.AniList.BaseURL, cfg.AniList.Timeout), redisCache, cfg.AniList.InfoTTL)
	scheduleService := schedule.NewService(repoAdapter, repoAdapter, episodes, log.With().Str("component", "schedule").Logger())

	jobs := buildQueue(cfg, redisClient)

	metrics.StartServer(ctx, log.Logger, ":9090")

	var wg sync.WaitGroup
	for i := 0; i < cfg.Jobs.ScheduleWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, scheduleService)
		}()
	}

	ticker := time.NewTicker(cfg.Jobs.ScheduleEvery)
	defer ticker.Stop()
	for {
		enqueueBatch(ctx, repoAdapter, jobs, cfg.Jobs.ScheduleLimit)
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler: остановка")
			wg.Wait()
			return
		case <-ticker.C:
		}
	}
}

// buildQueue выбирает реализацию очереди: AMQP при заданном AMQP_URL,
// иначе Redis.
func buildQueue(cfg config.AppConfig, redisClient *redis.Client) domain.ShowQueue {
	if cfg.AMQPURL != "" {
		q, err := queue.NewRabbitShowQueue(cfg.AMQPURL, cfg.Queues.Schedule)
		if err != nil {
			log.Fatal().Err(err).Msg("scheduler: нет подключения к RabbitMQ")
		}
		return q
	}
	return queue.NewRedisShowQueue(redisClient, cfg.Queues.Schedule)
}

// enqueueBatch раскладывает аниме с активными подписчиками по заданиям
// для воркеров.
func enqueueBatch(ctx context.Context, follows domain.FollowSnapshot, jobs domain.ShowQueue, limit int) {
	start := time.Now()
	ids, err := follows.DistinctNotifiableAnime(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: ошибка выборки аниме")
		return
	}
	for _, anilistID := range ids {
		if err := jobs.Enqueue(ctx, domain.ShowJob{AnilistID: anilistID}); err != nil {
			log.Error().Err(err).Int64("anime", anilistID).Msg("scheduler: не удалось поставить задание")
		}
	}
	metrics.ScheduleRunSeconds.Observe(time.Since(start).Seconds())
	log.Info().Int("anime", len(ids)).Msg("scheduler: задания поставлены")
}

// worker обрабатывает задания по одному аниме; независимые ключи позволяют
// крутить несколько воркеров без внешних блокировок.
func worker(ctx context.Context, jobs domain.ShowQueue, service *schedule.Service) {
	for {
		job, err := jobs.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("scheduler: ошибка чтения очереди")
			continue
		}
		result, err := service.ScheduleForAnime(ctx, job.AnilistID)
		if err != nil {
			log.Error().Err(err).Int64("anime", job.AnilistID).Msg("scheduler: не удалось запланировать")
			continue
		}
		if result.Scheduled > 0 {
			log.Info().Int64("anime", job.AnilistID).Int("episode", result.Episode).Int("scheduled", result.Scheduled).Msg("scheduler: уведомления запланированы")
		}
	}
}
