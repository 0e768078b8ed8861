package domain

import "time"

// WatchStatus описывает статус просмотра аниме пользователем.
type WatchStatus string

const (
	WatchStatusWatching    WatchStatus = "watching"
	WatchStatusCompleted   WatchStatus = "completed"
	WatchStatusOnHold      WatchStatus = "on_hold"
	WatchStatusDropped     WatchStatus = "dropped"
	WatchStatusPlanToWatch WatchStatus = "plan_to_watch"
)

// NotificationStatus описывает состояние запланированного уведомления.
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusSent      NotificationStatus = "sent"
	StatusFailed    NotificationStatus = "failed"
	StatusCancelled NotificationStatus = "cancelled"
)

// Причины отмены, записываемые в error_message.
const (
	CancelReasonStale         = "User no longer following or watch_status changed"
	CancelReasonUnfollowed    = "User unfollowed anime"
	CancelReasonEmailDisabled = "User disabled email notifications"
	CancelReasonUserRequested = "Cancelled by user request"
)

// DefaultNotifyBeforeHours — срок уведомления по умолчанию, если пользователь
// не настраивал предпочтения.
const DefaultNotifyBeforeHours = 24

// NotificationPreference хранит настройки уведомлений пользователя.
type NotificationPreference struct {
	UserID            int64
	NotifyBeforeHours int
	Enabled           bool
	NotifyByEmail     bool
	NotifyInApp       bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AnimeFollow описывает подписку пользователя на аниме.
// Подписка и статус просмотра — разные понятия: уведомления планируются только
// при watch_status=watching и непустом notify_email.
type AnimeFollow struct {
	ID              int64
	UserID          int64
	AnilistID       int64
	NotifyEmail     string
	EpisodeProgress int
	WatchStatus     WatchStatus
	IsFavorite      bool
	UserNote        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsLive сообщает, нужно ли держать уведомления по этой подписке.
func (f AnimeFollow) IsLive() bool {
	return f.WatchStatus == WatchStatusWatching && f.NotifyEmail != ""
}

// AiringNotification — запланированное уведомление о выходе эпизода.
// Уникальность по (user_id, anilist_id, episode_number) гарантирует
// не более одного уведомления на эпизод.
type AiringNotification struct {
	ID            int64
	UserID        int64
	AnilistID     int64
	EpisodeNumber int
	AiringAt      time.Time
	NotifyAt      time.Time
	Status        NotificationStatus
	SentAt        *time.Time
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DueNotification — готовое к отправке уведомление вместе с получателем.
type DueNotification struct {
	AiringNotification
	Recipient Recipient
}

// LiveFollower — активный подписчик аниме вместе с эффективным сроком уведомления.
type LiveFollower struct {
	UserID            int64
	NotifyBeforeHours int
}

// Recipient — контактные данные получателя уведомления.
type Recipient struct {
	UserID   int64
	Username string
	Email    string
	TGChatID int64
}

// AiringEpisode описывает ближайший эпизод в эфире по данным AniList.
type AiringEpisode struct {
	AiringAt time.Time
	Episode  int
}

// AnimeInfo — данные аниме для отрисовки уведомления.
type AnimeInfo struct {
	Title         string
	CoverImageURL string
}

// ScheduleResult — итог планирования уведомлений по одному аниме.
type ScheduleResult struct {
	Scheduled int
	Episode   int
	AiringAt  time.Time
	Reason    string
}

// SendReport — итог одного прохода рассылки.
type SendReport struct {
	Sent   int
	Failed int
	Total  int
}

// CleanupReport — итог одного прохода обслуживания хранилища.
type CleanupReport struct {
	Cancelled int
	Deleted   int
}

// ShowJob — задание на планирование уведомлений по одному аниме.
type ShowJob struct {
	AnilistID int64 `json:"anilist_id"`
}
