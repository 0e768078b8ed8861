package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"anilist-notifier/internal/domain"
	"anilist-notifier/internal/usecase/followevent"
)

type stubStore struct {
	domain.NotificationRepo
	domain.PreferenceRepo
	domain.FollowStore

	pref        *domain.NotificationPreference
	saved       *domain.NotificationPreference
	list        []domain.AiringNotification
	cancelled   []string
	follows     map[string]domain.AnimeFollow
	deletedKeys []string
	updateErr   error
}

func followKey(userID, anilistID int64) string {
	return fmt.Sprintf("%d:%d", userID, anilistID)
}

func (s *stubStore) Get(_ context.Context, _ int64) (*domain.NotificationPreference, error) {
	return s.pref, nil
}

func (s *stubStore) Upsert(_ context.Context, pref domain.NotificationPreference) (domain.NotificationPreference, error) {
	s.saved = &pref
	return pref, nil
}

func (s *stubStore) ListByUser(_ context.Context, _ int64, status domain.NotificationStatus, _ int) ([]domain.AiringNotification, error) {
	if status == "" {
		return s.list, nil
	}
	var filtered []domain.AiringNotification
	for _, n := range s.list {
		if n.Status == status {
			filtered = append(filtered, n)
		}
	}
	return filtered, nil
}

func (s *stubStore) CancelForAnime(_ context.Context, userID, anilistID int64, reason string) (int, error) {
	s.cancelled = append(s.cancelled, reason)
	return 1, nil
}

func (s *stubStore) UpdateFollow(_ context.Context, updated domain.AnimeFollow) (domain.AnimeFollow, error) {
	if s.updateErr != nil {
		return domain.AnimeFollow{}, s.updateErr
	}
	old, ok := s.follows[followKey(updated.UserID, updated.AnilistID)]
	if !ok {
		return domain.AnimeFollow{}, fmt.Errorf("подписка (%d, %d): %w", updated.UserID, updated.AnilistID, domain.ErrFollowNotFound)
	}
	s.follows[followKey(updated.UserID, updated.AnilistID)] = updated
	return old, nil
}

func (s *stubStore) DeleteFollow(_ context.Context, userID, anilistID int64) (bool, error) {
	if _, ok := s.follows[followKey(userID, anilistID)]; !ok {
		return false, nil
	}
	delete(s.follows, followKey(userID, anilistID))
	s.deletedKeys = append(s.deletedKeys, followKey(userID, anilistID))
	return true, nil
}

func newTestServer(store *stubStore) *httptest.Server {
	events := followevent.NewHandler(store, zerolog.Nop())
	handler := NewHandler(store, store, store, events, zerolog.Nop())
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return httptest.NewServer(r)
}

func doRequest(t *testing.T, srv *httptest.Server, method, path string, userID string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestRequiresUserID(t *testing.T) {
	srv := newTestServer(&stubStore{})
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodGet, "/api/v1/notifications", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("без X-User-ID ожидали 401, получили %d", resp.StatusCode)
	}
}

func TestGetPreferencesDefaults(t *testing.T) {
	srv := newTestServer(&stubStore{})
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodGet, "/api/v1/notifications/preferences", "10", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", resp.StatusCode)
	}
	var payload preferencesPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.NotifyBeforeHours != domain.DefaultNotifyBeforeHours || !payload.Enabled {
		t.Fatalf("без настроек отдаются значения по умолчанию: %+v", payload)
	}
}

func TestPutPreferencesValidation(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(store)
	defer srv.Close()

	for _, hours := range []int{0, -1, domain.MaxNotifyBeforeHours + 1} {
		resp := doRequest(t, srv, http.MethodPut, "/api/v1/notifications/preferences", "10", preferencesPayload{NotifyBeforeHours: hours, Enabled: true})
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("срок %d должен отклоняться, получили %d", hours, resp.StatusCode)
		}
	}
	if store.saved != nil {
		t.Fatalf("невалидные настройки не должны сохраняться: %+v", store.saved)
	}

	resp := doRequest(t, srv, http.MethodPut, "/api/v1/notifications/preferences", "10", preferencesPayload{NotifyBeforeHours: 48, Enabled: true, NotifyByEmail: true})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("валидные настройки должны сохраняться, получили %d", resp.StatusCode)
	}
	if store.saved == nil || store.saved.NotifyBeforeHours != 48 || store.saved.UserID != 10 {
		t.Fatalf("настройки сохранены неверно: %+v", store.saved)
	}
}

func TestListNotificationsStatusFilter(t *testing.T) {
	store := &stubStore{list: []domain.AiringNotification{
		{ID: 1, Status: domain.StatusPending},
		{ID: 2, Status: domain.StatusSent, AiringAt: time.Now().UTC()},
	}}
	srv := newTestServer(store)
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodGet, "/api/v1/notifications?status=sent", "10", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", resp.StatusCode)
	}
	var payload struct {
		Notifications []notificationPayload `json:"notifications"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Notifications) != 1 || payload.Notifications[0].ID != 2 {
		t.Fatalf("фильтр по статусу не сработал: %+v", payload.Notifications)
	}

	bad := doRequest(t, srv, http.MethodGet, "/api/v1/notifications?status=bogus", "10", nil)
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("неизвестный статус должен отклоняться, получили %d", bad.StatusCode)
	}
}

func TestCancelForAnime(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(store)
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodPost, "/api/v1/notifications/anime/21/cancel", "10", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", resp.StatusCode)
	}
	if len(store.cancelled) != 1 || store.cancelled[0] != domain.CancelReasonUserRequested {
		t.Fatalf("ожидали отмену по запросу пользователя: %v", store.cancelled)
	}
}

func TestDeleteFollowCancelsNotifications(t *testing.T) {
	store := &stubStore{follows: map[string]domain.AnimeFollow{
		followKey(10, 21): {UserID: 10, AnilistID: 21, NotifyEmail: "user@example.com", WatchStatus: domain.WatchStatusWatching},
	}}
	srv := newTestServer(store)
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodDelete, "/api/v1/follows/21", "10", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", resp.StatusCode)
	}
	if len(store.cancelled) != 1 || store.cancelled[0] != domain.CancelReasonUnfollowed {
		t.Fatalf("отписка должна отменять уведомления: %v", store.cancelled)
	}

	missing := doRequest(t, srv, http.MethodDelete, "/api/v1/follows/21", "10", nil)
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("повторная отписка должна давать 404, получили %d", missing.StatusCode)
	}
}

func TestUpdateFollowMissing(t *testing.T) {
	srv := newTestServer(&stubStore{follows: map[string]domain.AnimeFollow{}})
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodPut, "/api/v1/follows/21", "10", followPayload{
		NotifyEmail: "user@example.com",
		WatchStatus: string(domain.WatchStatusWatching),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("отсутствующая подписка должна давать 404, получили %d", resp.StatusCode)
	}
}

func TestUpdateFollowStoreFailure(t *testing.T) {
	srv := newTestServer(&stubStore{updateErr: errors.New("pg: connection refused")})
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodPut, "/api/v1/follows/21", "10", followPayload{
		NotifyEmail: "user@example.com",
		WatchStatus: string(domain.WatchStatusWatching),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("сбой хранилища должен давать 500, а не 404, получили %d", resp.StatusCode)
	}
}

func TestUpdateFollowEmailDisabledCancels(t *testing.T) {
	store := &stubStore{follows: map[string]domain.AnimeFollow{
		followKey(10, 21): {UserID: 10, AnilistID: 21, NotifyEmail: "user@example.com", WatchStatus: domain.WatchStatusWatching},
	}}
	srv := newTestServer(store)
	defer srv.Close()

	resp := doRequest(t, srv, http.MethodPut, "/api/v1/follows/21", "10", followPayload{
		NotifyEmail: "",
		WatchStatus: string(domain.WatchStatusWatching),
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", resp.StatusCode)
	}
	if len(store.cancelled) != 1 || store.cancelled[0] != domain.CancelReasonEmailDisabled {
		t.Fatalf("обнуление почты должно отменять уведомления: %v", store.cancelled)
	}
}
