package cleanup

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"anilist-notifier/internal/domain"
)

type stubNotifications struct {
	domain.NotificationRepo

	cancelled    int
	deleted      int
	gotRetention int
	calls        []string
	cancelErr    error
	deleteErr    error
}

func (s *stubNotifications) CancelInvalid(_ context.Context) (int, error) {
	s.calls = append(s.calls, "cancel")
	if s.cancelErr != nil {
		return 0, s.cancelErr
	}
	return s.cancelled, nil
}

func (s *stubNotifications) DeleteOld(_ context.Context, retentionDays int) (int, error) {
	s.calls = append(s.calls, "delete")
	s.gotRetention = retentionDays
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	return s.deleted, nil
}

func TestRunCombinesReport(t *testing.T) {
	notifications := &stubNotifications{cancelled: 4, deleted: 9}
	report, err := NewService(notifications, zerolog.Nop()).Run(context.Background(), 30)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if report.Cancelled != 4 || report.Deleted != 9 {
		t.Fatalf("неверный отчёт: %+v", report)
	}
	if notifications.gotRetention != 30 {
		t.Fatalf("срок хранения должен передаваться как есть, получили %d", notifications.gotRetention)
	}
}

func TestRunCancelsBeforeDelete(t *testing.T) {
	notifications := &stubNotifications{}
	if _, err := NewService(notifications, zerolog.Nop()).Run(context.Background(), 30); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(notifications.calls) != 2 || notifications.calls[0] != "cancel" || notifications.calls[1] != "delete" {
		t.Fatalf("сначала отмена, потом удаление, получили %v", notifications.calls)
	}
}

func TestRunZeroRetention(t *testing.T) {
	notifications := &stubNotifications{deleted: 2}
	report, err := NewService(notifications, zerolog.Nop()).Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("нулевой срок хранения допустим: %v", err)
	}
	if notifications.gotRetention != 0 || report.Deleted != 2 {
		t.Fatalf("ожидали немедленное удаление sent-записей: %+v", report)
	}
}

func TestRunStopsOnCancelError(t *testing.T) {
	notifications := &stubNotifications{cancelErr: errors.New("pg: connection refused")}
	if _, err := NewService(notifications, zerolog.Nop()).Run(context.Background(), 30); err == nil {
		t.Fatalf("ошибка отмены должна прерывать проход")
	}
	if len(notifications.calls) != 1 {
		t.Fatalf("удаление не должно выполняться после сбоя отмены: %v", notifications.calls)
	}
}

func TestRunKeepsCancelledCountOnDeleteError(t *testing.T) {
	notifications := &stubNotifications{cancelled: 3, deleteErr: errors.New("pg: connection refused")}
	report, err := NewService(notifications, zerolog.Nop()).Run(context.Background(), 30)
	if err == nil {
		t.Fatalf("ошибка удаления должна возвращаться")
	}
	if report.Cancelled != 3 {
		t.Fatalf("выполненная отмена должна попасть в отчёт: %+v", report)
	}
}
