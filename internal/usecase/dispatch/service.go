package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"anilist-notifier/internal/domain"
	"anilist-notifier/internal/infra/metrics"
)

// DefaultFailureMessage записывается в error_message, когда канал доставки
// не сообщил причину отказа.
const DefaultFailureMessage = "Failed to send email"

// Service рассылает готовые к отправке уведомления.
type Service struct {
	notifications domain.NotificationRepo
	episodes      domain.EpisodeSource
	notifier      domain.Notifier
	log           zerolog.Logger
}

// NewService создаёт диспетчер рассылки.
func NewService(notifications domain.NotificationRepo, episodes domain.EpisodeSource, notifier domain.Notifier, logger zerolog.Logger) *Service {
	return &Service{notifications: notifications, episodes: episodes, notifier: notifier, log: logger}
}

// SendDue отправляет все pending-уведомления с наступившим notify_at (не более
// limit за проход) и записывает исход каждого. Отказ доставки отдельного
// уведомления не прерывает проход; ошибка хранилища — прерывает.
func (s *Service) SendDue(ctx context.Context, limit int) (domain.SendReport, error) {
	due, err := s.notifications.DueNotifications(ctx, time.Now().UTC(), limit)
	if err != nil {
		return domain.SendReport{}, fmt.Errorf("выборка уведомлений к отправке: %w", err)
	}

	var report domain.SendReport
	s.log.Info().Int("due", len(due)).Msg("dispatch: обработка уведомлений")

	for _, n := range due {
		ok, sendErr := s.sendOne(ctx, n)
		report.Total++
		if ok {
			now := time.Now().UTC()
			if err := s.notifications.MarkSent(ctx, n.ID, now); err != nil {
				return report, fmt.Errorf("отметка отправки уведомления %d: %w", n.ID, err)
			}
			report.Sent++
			metrics.IncSent()
			s.log.Info().Int64("notification", n.ID).Int64("user", n.UserID).Msg("dispatch: уведомление отправлено")
			continue
		}

		message := DefaultFailureMessage
		if sendErr != nil {
			message = sendErr.Error()
		}
		if err := s.notifications.MarkFailed(ctx, n.ID, message); err != nil {
			return report, fmt.Errorf("отметка отказа уведомления %d: %w", n.ID, err)
		}
		report.Failed++
		metrics.IncFailed()
		s.log.Error().Err(sendErr).Int64("notification", n.ID).Int64("user", n.UserID).Msg("dispatch: уведомление не доставлено")
	}

	s.log.Info().Int("sent", report.Sent).Int("failed", report.Failed).Msg("dispatch: проход завершён")
	return report, nil
}

func (s *Service) sendOne(ctx context.Context, n domain.DueNotification) (bool, error) {
	info, err := s.episodes.DisplayInfo(ctx, n.AnilistID)
	if err != nil {
		// Метаданные нужны только для текста письма: деградируем до
		// заглушки, отправку не блокируем.
		s.log.Warn().Err(err).Int64("anime", n.AnilistID).Msg("dispatch: нет данных аниме, используем заглушку")
		info = domain.AnimeInfo{}
	}
	title := info.Title
	if title == "" {
		title = fmt.Sprintf("Anime #%d", n.AnilistID)
	}

	hoursUntil := int(time.Until(n.AiringAt).Hours())
	if hoursUntil < 0 {
		hoursUntil = 0
	}

	return s.notifier.Send(ctx, domain.SendInput{
		Recipient:        n.Recipient,
		Title:            title,
		EpisodeNumber:    n.EpisodeNumber,
		AiringAt:         n.AiringAt,
		HoursUntilAiring: hoursUntil,
		CoverImageURL:    info.CoverImageURL,
		AnilistID:        n.AnilistID,
	})
}
