package cleanup

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"anilist-notifier/internal/domain"
)

// Service поддерживает консистентность хранилища уведомлений: отменяет
// устаревшие pending-записи и удаляет отработавшие по политике хранения.
type Service struct {
	notifications domain.NotificationRepo
	log           zerolog.Logger
}

// NewService создаёт сервис обслуживания.
func NewService(notifications domain.NotificationRepo, logger zerolog.Logger) *Service {
	return &Service{notifications: notifications, log: logger}
}

// CancelInvalid отменяет pending-уведомления, чья подписка больше не активна.
// Идемпотентна: при отсутствии устаревших записей ничего не делает.
func (s *Service) CancelInvalid(ctx context.Context) (int, error) {
	cancelled, err := s.notifications.CancelInvalid(ctx)
	if err != nil {
		return 0, fmt.Errorf("отмена устаревших уведомлений: %w", err)
	}
	if cancelled > 0 {
		s.log.Info().Int("cancelled", cancelled).Msg("cleanup: устаревшие уведомления отменены")
	}
	return cancelled, nil
}

// DeleteOld удаляет cancelled-записи без оглядки на срок и sent-записи по
// эпизодам, вышедшим раньше retentionDays дней назад. pending и failed не
// трогаются: первые ещё ждут отправки, вторые хранятся для разбора.
// retentionDays=0 означает удаление sent-записей по уже вышедшим эпизодам
// немедленно.
func (s *Service) DeleteOld(ctx context.Context, retentionDays int) (int, error) {
	deleted, err := s.notifications.DeleteOld(ctx, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("удаление старых уведомлений: %w", err)
	}
	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Int("retention_days", retentionDays).Msg("cleanup: старые уведомления удалены")
	}
	return deleted, nil
}

// Run выполняет полный проход обслуживания: сначала отмена устаревших,
// затем удаление по политике хранения.
func (s *Service) Run(ctx context.Context, retentionDays int) (domain.CleanupReport, error) {
	cancelled, err := s.CancelInvalid(ctx)
	if err != nil {
		return domain.CleanupReport{}, err
	}
	deleted, err := s.DeleteOld(ctx, retentionDays)
	if err != nil {
		return domain.CleanupReport{Cancelled: cancelled}, err
	}
	return domain.CleanupReport{Cancelled: cancelled, Deleted: deleted}, nil
}
