package followevent

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"anilist-notifier/internal/domain"
)

type cancelCall struct {
	userID    int64
	anilistID int64
	reason    string
}

type stubNotifications struct {
	domain.NotificationRepo

	calls []cancelCall
	err   error
}

func (s *stubNotifications) CancelForAnime(_ context.Context, userID, anilistID int64, reason string) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.calls = append(s.calls, cancelCall{userID: userID, anilistID: anilistID, reason: reason})
	return 1, nil
}

func follow(userID, anilistID int64, email string, status domain.WatchStatus) domain.AnimeFollow {
	return domain.AnimeFollow{UserID: userID, AnilistID: anilistID, NotifyEmail: email, WatchStatus: status}
}

func TestHandleUnfollowCancels(t *testing.T) {
	notifications := &stubNotifications{}
	handler := NewHandler(notifications, zerolog.Nop())

	if err := handler.HandleUnfollow(context.Background(), 10, 21); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(notifications.calls) != 1 {
		t.Fatalf("ожидали одну отмену, получили %d", len(notifications.calls))
	}
	call := notifications.calls[0]
	if call.userID != 10 || call.anilistID != 21 {
		t.Fatalf("отмена не по той паре: %+v", call)
	}
	if call.reason != domain.CancelReasonUnfollowed {
		t.Fatalf("ожидали причину %q, получили %q", domain.CancelReasonUnfollowed, call.reason)
	}
}

func TestHandleFollowChangedEmailDisabled(t *testing.T) {
	notifications := &stubNotifications{}
	handler := NewHandler(notifications, zerolog.Nop())

	old := follow(10, 21, "user@example.com", domain.WatchStatusWatching)
	updated := follow(10, 21, "", domain.WatchStatusWatching)
	if err := handler.HandleFollowChanged(context.Background(), old, updated); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(notifications.calls) != 1 || notifications.calls[0].reason != domain.CancelReasonEmailDisabled {
		t.Fatalf("отключение почты должно отменять уведомления: %+v", notifications.calls)
	}
}

func TestHandleFollowChangedWatchStatusKeepsNotifications(t *testing.T) {
	notifications := &stubNotifications{}
	handler := NewHandler(notifications, zerolog.Nop())

	old := follow(10, 21, "user@example.com", domain.WatchStatusWatching)
	updated := follow(10, 21, "user@example.com", domain.WatchStatusOnHold)
	if err := handler.HandleFollowChanged(context.Background(), old, updated); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(notifications.calls) != 0 {
		t.Fatalf("смена статуса просмотра не должна отменять уведомления: %+v", notifications.calls)
	}
}

func TestHandleFollowChangedMismatchedKey(t *testing.T) {
	handler := NewHandler(&stubNotifications{}, zerolog.Nop())

	old := follow(10, 21, "user@example.com", domain.WatchStatusWatching)
	updated := follow(10, 99, "user@example.com", domain.WatchStatusWatching)
	if err := handler.HandleFollowChanged(context.Background(), old, updated); err == nil {
		t.Fatalf("несогласованные снимки подписки должны давать ошибку")
	}
}

func TestHandleUnfollowPropagatesStoreError(t *testing.T) {
	notifications := &stubNotifications{err: errors.New("pg: connection refused")}
	handler := NewHandler(notifications, zerolog.Nop())

	if err := handler.HandleUnfollow(context.Background(), 10, 21); err == nil {
		t.Fatalf("ошибка хранилища должна возвращаться вызывающему")
	}
}
