package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"anilist-notifier/internal/domain"
	"anilist-notifier/internal/infra/metrics"
)

// Причины no-op результата планирования.
const (
	ReasonNoUpcomingEpisode = "no upcoming episode"
	ReasonInvalidAiringData = "invalid airing data"
	ReasonSourceUnavailable = "episode source unavailable"
)

// Service планирует уведомления о выходе эпизодов.
type Service struct {
	notifications domain.NotificationRepo
	follows       domain.FollowSnapshot
	episodes      domain.EpisodeSource
	log           zerolog.Logger
}

// NewService создаёт планировщик.
func NewService(notifications domain.NotificationRepo, follows domain.FollowSnapshot, episodes domain.EpisodeSource, logger zerolog.Logger) *Service {
	return &Service{notifications: notifications, follows: follows, episodes: episodes, log: logger}
}

// ScheduleForAnime гарантирует pending-уведомление каждому активному
// подписчику аниме, чьё время уведомления ещё имеет смысл. Повторный вызов
// безопасен: условная вставка плюс уникальный ключ делают операцию
// идемпотентной.
func (s *Service) ScheduleForAnime(ctx context.Context, anilistID int64) (domain.ScheduleResult, error) {
	episode, err := s.episodes.NextAiringEpisode(ctx, anilistID)
	if err != nil {
		// Сбой источника равнозначен «сейчас запланировать нельзя» и не
		// должен валить весь проход.
		s.log.Warn().Err(err).Int64("anime", anilistID).Msg("schedule: источник эпизодов недоступен")
		return domain.ScheduleResult{Reason: ReasonSourceUnavailable}, nil
	}
	if episode == nil {
		return domain.ScheduleResult{Reason: ReasonNoUpcomingEpisode}, nil
	}
	if episode.Episode < 1 || episode.AiringAt.IsZero() {
		return domain.ScheduleResult{Reason: ReasonInvalidAiringData}, nil
	}

	followers, err := s.follows.LiveFollowers(ctx, anilistID)
	if err != nil {
		return domain.ScheduleResult{}, fmt.Errorf("подписчики аниме %d: %w", anilistID, err)
	}

	scheduled := 0
	for _, follower := range followers {
		hours := follower.NotifyBeforeHours
		if hours < 1 || hours > domain.MaxNotifyBeforeHours {
			hours = domain.DefaultNotifyBeforeHours
		}
		notifyAt := episode.AiringAt.Add(-time.Duration(hours) * time.Hour)

		now := time.Now().UTC()
		if notifyAt.Before(now) {
			if !now.Before(episode.AiringAt) {
				// Эпизод уже вышел, уведомлять не о чем.
				continue
			}
			// Идеальный момент упущен, но эпизод ещё впереди: шлём сразу.
			notifyAt = now
		}

		created, err := s.notifications.CreateIfAbsent(ctx, domain.AiringNotification{
			UserID:        follower.UserID,
			AnilistID:     anilistID,
			EpisodeNumber: episode.Episode,
			AiringAt:      episode.AiringAt,
			NotifyAt:      notifyAt,
			Status:        domain.StatusPending,
		})
		if err != nil {
			return domain.ScheduleResult{}, fmt.Errorf("создание уведомления для пользователя %d: %w", follower.UserID, err)
		}
		if created {
			scheduled++
			s.log.Info().Int64("user", follower.UserID).Int64("anime", anilistID).Int("episode", episode.Episode).Time("notify_at", notifyAt).Msg("schedule: уведомление запланировано")
		}
	}

	metrics.AddScheduled(scheduled)
	return domain.ScheduleResult{Scheduled: scheduled, Episode: episode.Episode, AiringAt: episode.AiringAt}, nil
}

// ScheduleBatch обходит аниме с активными подписчиками (не более limit за
// проход) и планирует уведомления по каждому. Сбои источника эпизодов
// пропускают отдельное аниме; ошибка хранилища прерывает проход.
func (s *Service) ScheduleBatch(ctx context.Context, limit int) (int, error) {
	ids, err := s.follows.DistinctNotifiableAnime(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("выборка аниме для планирования: %w", err)
	}

	total := 0
	for _, anilistID := range ids {
		result, err := s.ScheduleForAnime(ctx, anilistID)
		if err != nil {
			return total, fmt.Errorf("планирование аниме %d: %w", anilistID, err)
		}
		if result.Reason != "" {
			s.log.Debug().Int64("anime", anilistID).Str("reason", result.Reason).Msg("schedule: нечего планировать")
			continue
		}
		total += result.Scheduled
	}
	return total, nil
}
