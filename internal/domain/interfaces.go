package domain

import (
	"context"
	"time"
)

// NotificationRepo управляет запланированными уведомлениями.
type NotificationRepo interface {
	// CreateIfAbsent создаёт pending-уведомление, если записи с таким ключом
	// (user, anilist, episode) ещё нет. Возвращает true при реальном создании.
	CreateIfAbsent(ctx context.Context, n AiringNotification) (bool, error)
	// DueNotifications возвращает до limit pending-уведомлений с наступившим
	// notify_at вместе с контактами получателей. Перед выдачей устаревшие
	// записи (подписка больше не активна) атомарно переводятся в cancelled
	// и в выборку не попадают.
	DueNotifications(ctx context.Context, now time.Time, limit int) ([]DueNotification, error)
	// MarkSent переводит pending-уведомление в sent.
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	// MarkFailed переводит pending-уведомление в failed с текстом ошибки.
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
	// CancelForAnime отменяет pending-уведомления пары (пользователь, аниме).
	CancelForAnime(ctx context.Context, userID, anilistID int64, reason string) (int, error)
	// CancelInvalid отменяет все pending-уведомления с неактивной подпиской.
	CancelInvalid(ctx context.Context) (int, error)
	// DeleteOld удаляет cancelled-записи и sent-записи по вышедшим эпизодам
	// старше retention. pending и failed не удаляются никогда.
	DeleteOld(ctx context.Context, retentionDays int) (int, error)
	// ListByUser возвращает уведомления пользователя, новые первыми.
	ListByUser(ctx context.Context, userID int64, status NotificationStatus, limit int) ([]AiringNotification, error)
}

// PreferenceRepo управляет настройками уведомлений.
type PreferenceRepo interface {
	// Get возвращает настройки пользователя или nil, если их нет.
	Get(ctx context.Context, userID int64) (*NotificationPreference, error)
	Upsert(ctx context.Context, pref NotificationPreference) (NotificationPreference, error)
}

// FollowSnapshot — read-only срез текущих подписок, единственный источник
// истины «смотрит с включёнными уведомлениями».
type FollowSnapshot interface {
	// LiveFollowers перечисляет активных подписчиков аниме вместе с
	// эффективным сроком уведомления; пользователи с выключенными
	// настройками в выборку не входят.
	LiveFollowers(ctx context.Context, anilistID int64) ([]LiveFollower, error)
	IsLive(ctx context.Context, userID, anilistID int64) (bool, error)
	// DistinctNotifiableAnime возвращает anilist_id аниме, у которых есть
	// хотя бы один подписчик с заданным notify_email.
	DistinctNotifiableAnime(ctx context.Context, limit int) ([]int64, error)
}

// FollowStore изменяет подписки. Update возвращает прежнее состояние,
// чтобы вызывающий мог передать оба снимка обработчику событий.
type FollowStore interface {
	UpdateFollow(ctx context.Context, updated AnimeFollow) (AnimeFollow, error)
	// DeleteFollow удаляет подписку и возвращает true, если она существовала.
	DeleteFollow(ctx context.Context, userID, anilistID int64) (bool, error)
}

// EpisodeSource поставляет данные AniList о ближайшем эпизоде.
type EpisodeSource interface {
	// NextAiringEpisode возвращает ближайший эпизод или nil, если его нет.
	NextAiringEpisode(ctx context.Context, anilistID int64) (*AiringEpisode, error)
	DisplayInfo(ctx context.Context, anilistID int64) (AnimeInfo, error)
}

// SendInput — данные для отправки одного уведомления.
type SendInput struct {
	Recipient        Recipient
	Title            string
	EpisodeNumber    int
	AiringAt         time.Time
	HoursUntilAiring int
	CoverImageURL    string
	AnilistID        int64
}

// Notifier отправляет уведомление получателю. Повторная отправка одного и
// того же уведомления допустима (семантика at-least-once).
type Notifier interface {
	Send(ctx context.Context, in SendInput) (bool, error)
}

// ShowQueue — очередь заданий на планирование по аниме.
type ShowQueue interface {
	Enqueue(ctx context.Context, job ShowJob) error
	Pop(ctx context.Context) (ShowJob, error)
}

// Cache используется для TTL-хранилищ и блокировок.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
