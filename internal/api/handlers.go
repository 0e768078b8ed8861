package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"anilist-notifier/internal/domain"
	ihttp "anilist-notifier/internal/infra/http"
	"anilist-notifier/internal/usecase/followevent"
)

const defaultListLimit = 50

// Handler обслуживает REST-эндпоинты подсистемы уведомлений.
type Handler struct {
	notifications domain.NotificationRepo
	preferences   domain.PreferenceRepo
	follows       domain.FollowStore
	events        *followevent.Handler
	log           zerolog.Logger
}

// NewHandler создаёт обработчик API.
func NewHandler(notifications domain.NotificationRepo, preferences domain.PreferenceRepo, follows domain.FollowStore, events *followevent.Handler, logger zerolog.Logger) *Handler {
	return &Handler{
		notifications: notifications,
		preferences:   preferences,
		follows:       follows,
		events:        events,
		log:           logger,
	}
}

// RegisterRoutes вешает эндпоинты на роутер. Все маршруты требуют
// идентификатор пользователя из UserAuthMiddleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ihttp.UserAuthMiddleware)
		r.Get("/notifications", h.listNotifications)
		r.Get("/notifications/preferences", h.getPreferences)
		r.Put("/notifications/preferences", h.putPreferences)
		r.Post("/notifications/anime/{anilistID}/cancel", h.cancelForAnime)
		r.Put("/follows/{anilistID}", h.updateFollow)
		r.Delete("/follows/{anilistID}", h.deleteFollow)
	})
}

type preferencesPayload struct {
	NotifyBeforeHours int  `json:"notify_before_hours"`
	Enabled           bool `json:"enabled"`
	NotifyByEmail     bool `json:"notify_by_email"`
	NotifyInApp       bool `json:"notify_in_app"`
}

type notificationPayload struct {
	ID            int64      `json:"id"`
	AnilistID     int64      `json:"anilist_id"`
	EpisodeNumber int        `json:"episode_number"`
	AiringAt      time.Time  `json:"airing_at"`
	NotifyAt      time.Time  `json:"notify_at"`
	Status        string     `json:"status"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type followPayload struct {
	NotifyEmail     string `json:"notify_email"`
	EpisodeProgress int    `json:"episode_progress"`
	WatchStatus     string `json:"watch_status"`
	IsFavorite      bool   `json:"is_favorite"`
	UserNote        string `json:"user_note"`
}

func (h *Handler) getPreferences(w http.ResponseWriter, r *http.Request) {
	userID, _ := ihttp.UserIDFromContext(r.Context())

	pref, err := h.preferences.Get(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Int64("user", userID).Msg("api: не удалось получить настройки")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	effective := domain.EffectivePreference(pref)
	writeJSON(w, http.StatusOK, preferencesPayload{
		NotifyBeforeHours: effective.NotifyBeforeHours,
		Enabled:           effective.Enabled,
		NotifyByEmail:     effective.NotifyByEmail,
		NotifyInApp:       effective.NotifyInApp,
	})
}

func (h *Handler) putPreferences(w http.ResponseWriter, r *http.Request) {
	userID, _ := ihttp.UserIDFromContext(r.Context())

	var payload preferencesPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.NotifyBeforeHours < 1 || payload.NotifyBeforeHours > domain.MaxNotifyBeforeHours {
		writeError(w, http.StatusBadRequest, "notify_before_hours must be between 1 and 168")
		return
	}

	saved, err := h.preferences.Upsert(r.Context(), domain.NotificationPreference{
		UserID:            userID,
		NotifyBeforeHours: payload.NotifyBeforeHours,
		Enabled:           payload.Enabled,
		NotifyByEmail:     payload.NotifyByEmail,
		NotifyInApp:       payload.NotifyInApp,
	})
	if err != nil {
		h.log.Error().Err(err).Int64("user", userID).Msg("api: не удалось сохранить настройки")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, preferencesPayload{
		NotifyBeforeHours: saved.NotifyBeforeHours,
		Enabled:           saved.Enabled,
		NotifyByEmail:     saved.NotifyByEmail,
		NotifyInApp:       saved.NotifyInApp,
	})
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	userID, _ := ihttp.UserIDFromContext(r.Context())

	status := domain.NotificationStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.StatusPending, domain.StatusSent, domain.StatusFailed, domain.StatusCancelled:
	default:
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	items, err := h.notifications.ListByUser(r.Context(), userID, status, limit)
	if err != nil {
		h.log.Error().Err(err).Int64("user", userID).Msg("api: не удалось получить список уведомлений")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	payload := make([]notificationPayload, 0, len(items))
	for _, n := range items {
		payload = append(payload, notificationPayload{
			ID:            n.ID,
			AnilistID:     n.AnilistID,
			EpisodeNumber: n.EpisodeNumber,
			AiringAt:      n.AiringAt,
			NotifyAt:      n.NotifyAt,
			Status:        string(n.Status),
			SentAt:        n.SentAt,
			ErrorMessage:  n.ErrorMessage,
			CreatedAt:     n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": payload})
}

func (h *Handler) cancelForAnime(w http.ResponseWriter, r *http.Request) {
	userID, _ := ihttp.UserIDFromContext(r.Context())
	anilistID, ok := anilistIDParam(w, r)
	if !ok {
		return
	}

	cancelled, err := h.notifications.CancelForAnime(r.Context(), userID, anilistID, domain.CancelReasonUserRequested)
	if err != nil {
		h.log.Error().Err(err).Int64("user", userID).Int64("anime", anilistID).Msg("api: не удалось отменить уведомления")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": cancelled})
}

func (h *Handler) updateFollow(w http.ResponseWriter, r *http.Request) {
	userID, _ := ihttp.UserIDFromContext(r.Context())
	anilistID, ok := anilistIDParam(w, r)
	if !ok {
		return
	}

	var payload followPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch domain.WatchStatus(payload.WatchStatus) {
	case domain.WatchStatusWatching, domain.WatchStatusCompleted, domain.WatchStatusOnHold,
		domain.WatchStatusDropped, domain.WatchStatusPlanToWatch:
	default:
		writeError(w, http.StatusBadRequest, "unknown watch_status")
		return
	}

	updated := domain.AnimeFollow{
		UserID:          userID,
		AnilistID:       anilistID,
		NotifyEmail:     payload.NotifyEmail,
		EpisodeProgress: payload.EpisodeProgress,
		WatchStatus:     domain.WatchStatus(payload.WatchStatus),
		IsFavorite:      payload.IsFavorite,
		UserNote:        payload.UserNote,
	}
	old, err := h.follows.UpdateFollow(r.Context(), updated)
	if errors.Is(err, domain.ErrFollowNotFound) {
		writeError(w, http.StatusNotFound, "follow not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("user", userID).Int64("anime", anilistID).Msg("api: не удалось обновить подписку")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.events.HandleFollowChanged(r.Context(), old, updated); err != nil {
		h.log.Error().Err(err).Int64("user", userID).Int64("anime", anilistID).Msg("api: ошибка обработки события подписки")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) deleteFollow(w http.ResponseWriter, r *http.Request) {
	userID, _ := ihttp.UserIDFromContext(r.Context())
	anilistID, ok := anilistIDParam(w, r)
	if !ok {
		return
	}

	existed, err := h.follows.DeleteFollow(r.Context(), userID, anilistID)
	if err != nil {
		h.log.Error().Err(err).Int64("user", userID).Int64("anime", anilistID).Msg("api: не удалось удалить подписку")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "follow not found")
		return
	}
	if err := h.events.HandleUnfollow(r.Context(), userID, anilistID); err != nil {
		h.log.Error().Err(err).Int64("user", userID).Int64("anime", anilistID).Msg("api: ошибка отмены уведомлений после отписки")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func anilistIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	anilistID, err := strconv.ParseInt(chi.URLParam(r, "anilistID"), 10, 64)
	if err != nil || anilistID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid anilist id")
		return 0, false
	}
	return anilistID, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
