package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"anilist-notifier/internal/domain"
	"anilist-notifier/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.NotificationRepo = (*Postgres)(nil)
var _ domain.PreferenceRepo = (*Postgres)(nil)
var _ domain.FollowSnapshot = (*Postgres)(nil)
var _ domain.FollowStore = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// CreateIfAbsent реализует условную вставку: при существующей записи с тем же
// ключом (user, anilist, episode) ничего не создаёт и не перезаписывает.
func (p *Postgres) CreateIfAbsent(ctx context.Context, n domain.AiringNotification) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	var id int64
	err := p.pool.QueryRow(ctx, `
INSERT INTO anime_airing_notifications (user_id, anilist_id, episode_number, airing_at, notify_at, status)
VALUES ($1, $2, $3, $4, $5, 'pending')
ON CONFLICT (user_id, anilist_id, episode_number) DO NOTHING
RETURNING id
`, n.UserID, n.AnilistID, n.EpisodeNumber, n.AiringAt, n.NotifyAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Запись уже есть — гонка на ключе не ошибка, а «уже запланировано».
		metrics.ObserveNetworkRequest("postgres", "notifications_insert", "anime_airing_notifications", start, nil)
		return false, nil
	}
	metrics.ObserveNetworkRequest("postgres", "notifications_insert", "anime_airing_notifications", start, err)
	if err != nil {
		return false, err
	}
	return true, nil
}

// DueNotifications возвращает готовые к отправке уведомления. Сначала в той же
// транзакции отменяются записи с неактивной подпиской, затем выбирается
// оставшееся вместе с контактами получателей.
func (p *Postgres) DueNotifications(ctx context.Context, now time.Time, limit int) ([]domain.DueNotification, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "anime_airing_notifications", start, err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	tag, err := tx.Exec(ctx, `
UPDATE anime_airing_notifications n
SET status = 'cancelled', error_message = $1, updated_at = now()
WHERE n.status = 'pending' AND n.notify_at <= $2
  AND NOT EXISTS (
    SELECT 1 FROM anime_follows f
    WHERE f.user_id = n.user_id AND f.anilist_id = n.anilist_id
      AND f.watch_status = 'watching' AND f.notify_email <> ''
  )
`, domain.CancelReasonStale, now)
	metrics.ObserveNetworkRequest("postgres", "notifications_invalidate", "anime_airing_notifications", start, err)
	if err != nil {
		return nil, err
	}
	metrics.AddCancelled(int(tag.RowsAffected()))

	start = time.Now()
	rows, err := tx.Query(ctx, `
SELECT n.id, n.user_id, n.anilist_id, n.episode_number, n.airing_at, n.notify_at,
       n.status, n.sent_at, n.error_message, n.created_at, n.updated_at,
       u.username, COALESCE(NULLIF(f.notify_email, ''), u.email), COALESCE(u.tg_chat_id, 0)
FROM anime_airing_notifications n
JOIN users u ON u.id = n.user_id
LEFT JOIN anime_follows f ON f.user_id = n.user_id AND f.anilist_id = n.anilist_id
WHERE n.status = 'pending' AND n.notify_at <= $1
ORDER BY n.notify_at
LIMIT $2
`, now, limit)
	metrics.ObserveNetworkRequest("postgres", "notifications_due", "anime_airing_notifications", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []domain.DueNotification
	for rows.Next() {
		var d domain.DueNotification
		var sentAt sql.NullTime
		var errorMessage sql.NullString
		if err := rows.Scan(&d.ID, &d.UserID, &d.AnilistID, &d.EpisodeNumber, &d.AiringAt, &d.NotifyAt,
			&d.Status, &sentAt, &errorMessage, &d.CreatedAt, &d.UpdatedAt,
			&d.Recipient.Username, &d.Recipient.Email, &d.Recipient.TGChatID); err != nil {
			return nil, err
		}
		if sentAt.Valid {
			ts := sentAt.Time
			d.SentAt = &ts
		}
		if errorMessage.Valid {
			d.ErrorMessage = errorMessage.String
		}
		d.Recipient.UserID = d.UserID
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "anime_airing_notifications", start, err)
	if err != nil {
		return nil, err
	}
	return due, nil
}

// MarkSent переводит pending-уведомление в sent. Для записи в терминальном
// статусе вызов ничего не меняет.
func (p *Postgres) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE anime_airing_notifications
SET status = 'sent', sent_at = $2, updated_at = now()
WHERE id = $1 AND status = 'pending'
`, id, sentAt)
	metrics.ObserveNetworkRequest("postgres", "notifications_mark_sent", "anime_airing_notifications", start, err)
	return err
}

// MarkFailed переводит pending-уведомление в failed с текстом ошибки.
func (p *Postgres) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE anime_airing_notifications
SET status = 'failed', error_message = $2, updated_at = now()
WHERE id = $1 AND status = 'pending'
`, id, errorMessage)
	metrics.ObserveNetworkRequest("postgres", "notifications_mark_failed", "anime_airing_notifications", start, err)
	return err
}

// CancelForAnime отменяет pending-уведомления пары (пользователь, аниме).
func (p *Postgres) CancelForAnime(ctx context.Context, userID, anilistID int64, reason string) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE anime_airing_notifications
SET status = 'cancelled', error_message = $3, updated_at = now()
WHERE user_id = $1 AND anilist_id = $2 AND status = 'pending'
`, userID, anilistID, reason)
	metrics.ObserveNetworkRequest("postgres", "notifications_cancel_for_anime", "anime_airing_notifications", start, err)
	if err != nil {
		return 0, err
	}
	metrics.AddCancelled(int(tag.RowsAffected()))
	return int(tag.RowsAffected()), nil
}

// CancelInvalid отменяет все pending-уведомления, чья подписка больше не
// активна, независимо от notify_at.
func (p *Postgres) CancelInvalid(ctx context.Context) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE anime_airing_notifications n
SET status = 'cancelled', error_message = $1, updated_at = now()
WHERE n.status = 'pending'
  AND NOT EXISTS (
    SELECT 1 FROM anime_follows f
    WHERE f.user_id = n.user_id AND f.anilist_id = n.anilist_id
      AND f.watch_status = 'watching' AND f.notify_email <> ''
  )
`, domain.CancelReasonStale)
	metrics.ObserveNetworkRequest("postgres", "notifications_cancel_invalid", "anime_airing_notifications", start, err)
	if err != nil {
		return 0, err
	}
	metrics.AddCancelled(int(tag.RowsAffected()))
	return int(tag.RowsAffected()), nil
}

// DeleteOld удаляет cancelled-записи безусловно и sent-записи по эпизодам,
// вышедшим раньше порога хранения. pending и failed не удаляются.
func (p *Postgres) DeleteOld(ctx context.Context, retentionDays int) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
DELETE FROM anime_airing_notifications
WHERE status = 'cancelled' OR (status = 'sent' AND airing_at < $1)
`, cutoff)
	metrics.ObserveNetworkRequest("postgres", "notifications_delete_old", "anime_airing_notifications", start, err)
	if err != nil {
		return 0, err
	}
	metrics.AddDeleted(int(tag.RowsAffected()))
	return int(tag.RowsAffected()), nil
}

// ListByUser возвращает уведомления пользователя, новые первыми.
func (p *Postgres) ListByUser(ctx context.Context, userID int64, status domain.NotificationStatus, limit int) ([]domain.AiringNotification, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	query := `
SELECT id, user_id, anilist_id, episode_number, airing_at, notify_at, status, sent_at, error_message, created_at, updated_at
FROM anime_airing_notifications
WHERE user_id = $1 AND ($2 = '' OR status = $2)
ORDER BY notify_at DESC
LIMIT $3
`
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, userID, string(status), limit)
	metrics.ObserveNetworkRequest("postgres", "notifications_list_by_user", "anime_airing_notifications", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []domain.AiringNotification
	for rows.Next() {
		var n domain.AiringNotification
		var sentAt sql.NullTime
		var errorMessage sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.AnilistID, &n.EpisodeNumber, &n.AiringAt, &n.NotifyAt,
			&n.Status, &sentAt, &errorMessage, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		if sentAt.Valid {
			ts := sentAt.Time
			n.SentAt = &ts
		}
		if errorMessage.Valid {
			n.ErrorMessage = errorMessage.String
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// Get возвращает настройки пользователя или nil, если их нет.
func (p *Postgres) Get(ctx context.Context, userID int64) (*domain.NotificationPreference, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	var pref domain.NotificationPreference
	err := p.pool.QueryRow(ctx, `
SELECT user_id, notify_before_hours, enabled, notify_by_email, notify_in_app, created_at, updated_at
FROM anime_notification_preferences WHERE user_id = $1
`, userID).Scan(&pref.UserID, &pref.NotifyBeforeHours, &pref.Enabled, &pref.NotifyByEmail, &pref.NotifyInApp, &pref.CreatedAt, &pref.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "preferences_get", "anime_notification_preferences", start, nil)
		return nil, nil
	}
	metrics.ObserveNetworkRequest("postgres", "preferences_get", "anime_notification_preferences", start, err)
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

// Upsert создаёт или обновляет настройки пользователя.
func (p *Postgres) Upsert(ctx context.Context, pref domain.NotificationPreference) (domain.NotificationPreference, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	var saved domain.NotificationPreference
	err := p.pool.QueryRow(ctx, `
INSERT INTO anime_notification_preferences (user_id, notify_before_hours, enabled, notify_by_email, notify_in_app)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
  notify_before_hours = EXCLUDED.notify_before_hours,
  enabled = EXCLUDED.enabled,
  notify_by_email = EXCLUDED.notify_by_email,
  notify_in_app = EXCLUDED.notify_in_app,
  updated_at = now()
RETURNING user_id, notify_before_hours, enabled, notify_by_email, notify_in_app, created_at, updated_at
`, pref.UserID, pref.NotifyBeforeHours, pref.Enabled, pref.NotifyByEmail, pref.NotifyInApp).
		Scan(&saved.UserID, &saved.NotifyBeforeHours, &saved.Enabled, &saved.NotifyByEmail, &saved.NotifyInApp, &saved.CreatedAt, &saved.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "preferences_upsert", "anime_notification_preferences", start, err)
	if err != nil {
		return domain.NotificationPreference{}, err
	}
	return saved, nil
}

// LiveFollowers перечисляет активных подписчиков аниме вместе с эффективным
// сроком уведомления. Пользователи, явно выключившие уведомления, в выборку
// не попадают; отсутствие настроек означает значения по умолчанию.
func (p *Postgres) LiveFollowers(ctx context.Context, anilistID int64) ([]domain.LiveFollower, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT f.user_id, COALESCE(pref.notify_before_hours, $2)
FROM anime_follows f
LEFT JOIN anime_notification_preferences pref ON pref.user_id = f.user_id
WHERE f.anilist_id = $1 AND f.watch_status = 'watching' AND f.notify_email <> ''
  AND (pref.user_id IS NULL OR (pref.enabled AND pref.notify_by_email))
ORDER BY f.user_id
`, anilistID, domain.DefaultNotifyBeforeHours)
	metrics.ObserveNetworkRequest("postgres", "follows_live_followers", "anime_follows", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followers []domain.LiveFollower
	for rows.Next() {
		var f domain.LiveFollower
		if err := rows.Scan(&f.UserID, &f.NotifyBeforeHours); err != nil {
			return nil, err
		}
		followers = append(followers, f)
	}
	return followers, rows.Err()
}

// IsLive проверяет, активна ли подписка пары (пользователь, аниме).
func (p *Postgres) IsLive(ctx context.Context, userID, anilistID int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	var live bool
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM anime_follows
  WHERE user_id = $1 AND anilist_id = $2 AND watch_status = 'watching' AND notify_email <> ''
)
`, userID, anilistID).Scan(&live)
	metrics.ObserveNetworkRequest("postgres", "follows_is_live", "anime_follows", start, err)
	if err != nil {
		return false, err
	}
	return live, nil
}

// DistinctNotifiableAnime возвращает anilist_id аниме, у которых есть хотя бы
// один подписчик с заданным notify_email.
func (p *Postgres) DistinctNotifiableAnime(ctx context.Context, limit int) ([]int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT DISTINCT anilist_id FROM anime_follows
WHERE notify_email <> ''
ORDER BY anilist_id
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "follows_distinct_anime", "anime_follows", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateFollow применяет изменение подписки и возвращает прежнее состояние.
// Используется коллаборатором управления подписками, чтобы события
// onFollowChanged получали оба снимка без скрытых хуков.
func (p *Postgres) UpdateFollow(ctx context.Context, updated domain.AnimeFollow) (domain.AnimeFollow, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "anime_follows", start, err)
	if err != nil {
		return domain.AnimeFollow{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var old domain.AnimeFollow
	start = time.Now()
	err = tx.QueryRow(ctx, `
SELECT id, user_id, anilist_id, notify_email, episode_progress, watch_status, is_favorite, user_note, created_at, updated_at
FROM anime_follows WHERE user_id = $1 AND anilist_id = $2
FOR UPDATE
`, updated.UserID, updated.AnilistID).Scan(&old.ID, &old.UserID, &old.AnilistID, &old.NotifyEmail, &old.EpisodeProgress,
		&old.WatchStatus, &old.IsFavorite, &old.UserNote, &old.CreatedAt, &old.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "follows_get_for_update", "anime_follows", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AnimeFollow{}, fmt.Errorf("подписка (%d, %d): %w", updated.UserID, updated.AnilistID, domain.ErrFollowNotFound)
	}
	if err != nil {
		return domain.AnimeFollow{}, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE anime_follows
SET notify_email = $3, episode_progress = $4, watch_status = $5, is_favorite = $6, user_note = $7, updated_at = now()
WHERE user_id = $1 AND anilist_id = $2
`, updated.UserID, updated.AnilistID, updated.NotifyEmail, updated.EpisodeProgress, updated.WatchStatus, updated.IsFavorite, updated.UserNote)
	metrics.ObserveNetworkRequest("postgres", "follows_update", "anime_follows", start, err)
	if err != nil {
		return domain.AnimeFollow{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "anime_follows", start, err)
	if err != nil {
		return domain.AnimeFollow{}, err
	}
	return old, nil
}

// DeleteFollow удаляет подписку и возвращает true, если запись существовала.
func (p *Postgres) DeleteFollow(ctx context.Context, userID, anilistID int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
DELETE FROM anime_follows WHERE user_id = $1 AND anilist_id = $2
`, userID, anilistID)
	metrics.ObserveNetworkRequest("postgres", "follows_delete", "anime_follows", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
