package followevent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"anilist-notifier/internal/domain"
)

// Handler — явная точка входа для событий подсистемы подписок. Вызывается
// синхронно после коммита изменения подписки, чтобы отменённое уведомление
// не пережило отписку даже на мгновение.
type Handler struct {
	notifications domain.NotificationRepo
	log           zerolog.Logger
}

// NewHandler создаёт обработчик событий подписок.
func NewHandler(notifications domain.NotificationRepo, logger zerolog.Logger) *Handler {
	return &Handler{notifications: notifications, log: logger}
}

// HandleUnfollow отменяет все pending-уведомления пары (пользователь, аниме)
// при отписке.
func (h *Handler) HandleUnfollow(ctx context.Context, userID, anilistID int64) error {
	cancelled, err := h.notifications.CancelForAnime(ctx, userID, anilistID, domain.CancelReasonUnfollowed)
	if err != nil {
		return fmt.Errorf("отмена уведомлений при отписке: %w", err)
	}
	if cancelled > 0 {
		h.log.Info().Int64("user", userID).Int64("anime", anilistID).Int("cancelled", cancelled).Msg("followevent: уведомления отменены после отписки")
	}
	return nil
}

// HandleFollowChanged сравнивает прежнее и новое состояние подписки.
// Немедленную отмену вызывает только обнуление notify_email; смена
// watch_status уведомления не трогает — краткий скачок статуса не должен
// терять близкое уведомление, устаревшие записи снимет обслуживающий проход.
func (h *Handler) HandleFollowChanged(ctx context.Context, old, updated domain.AnimeFollow) error {
	if old.UserID != updated.UserID || old.AnilistID != updated.AnilistID {
		return fmt.Errorf("несогласованное событие подписки: (%d,%d) != (%d,%d)", old.UserID, old.AnilistID, updated.UserID, updated.AnilistID)
	}

	if old.NotifyEmail != "" && updated.NotifyEmail == "" {
		cancelled, err := h.notifications.CancelForAnime(ctx, updated.UserID, updated.AnilistID, domain.CancelReasonEmailDisabled)
		if err != nil {
			return fmt.Errorf("отмена уведомлений при отключении почты: %w", err)
		}
		if cancelled > 0 {
			h.log.Info().Int64("user", updated.UserID).Int64("anime", updated.AnilistID).Int("cancelled", cancelled).Msg("followevent: уведомления отменены, почта отключена")
		}
		return nil
	}

	if old.WatchStatus != updated.WatchStatus {
		h.log.Debug().Int64("user", updated.UserID).Int64("anime", updated.AnilistID).Str("from", string(old.WatchStatus)).Str("to", string(updated.WatchStatus)).Msg("followevent: смена статуса просмотра, уведомления сохранены")
	}
	return nil
}
